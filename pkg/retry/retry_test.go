package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

// fakeTime advances only when the retrier sleeps.
type fakeTime struct {
	t      time.Time
	sleeps []time.Duration
}

func (f *fakeTime) now() time.Time { return f.t }

func (f *fakeTime) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.sleeps = append(f.sleeps, d)
	f.t = f.t.Add(d)
	return nil
}

func withFakeTime(r *Retrier) (*Retrier, *fakeTime) {
	ft := &fakeTime{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	r.now = ft.now
	r.sleep = ft.sleep
	return r, ft
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	r, ft := withFakeTime(New(WithMaxAttempts(5), WithJitter(0), WithInitialDelay(10*time.Millisecond)))

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errBusy)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, ft.sleeps)
}

func TestDo_ReturnsUnwrappedErrorWhenAttemptsRunOut(t *testing.T) {
	r, _ := withFakeTime(New(WithMaxAttempts(2), WithJitter(0)))

	err := r.Do(context.Background(), func(context.Context) error { return Retryable(errBusy) })

	assert.Equal(t, errBusy, err)
	assert.False(t, IsRetryable(err))
}

func TestDo_PermanentAndPlainErrorsStop(t *testing.T) {
	for name, wrap := range map[string]func(error) error{
		"permanent": Permanent,
		"plain":     func(err error) error { return err },
	} {
		t.Run(name, func(t *testing.T) {
			r, ft := withFakeTime(New(WithMaxAttempts(5)))
			calls := 0
			err := r.Do(context.Background(), func(context.Context) error {
				calls++
				return wrap(errBusy)
			})
			assert.Equal(t, errBusy, err)
			assert.Equal(t, 1, calls)
			assert.Empty(t, ft.sleeps)
		})
	}
}

func TestDo_MaxElapsedBoundsUnlimitedAttempts(t *testing.T) {
	r, ft := withFakeTime(New(
		WithMaxAttempts(0),
		WithMaxElapsed(time.Second),
		WithInitialDelay(100*time.Millisecond),
		WithMaxDelay(100*time.Millisecond),
		WithJitter(0),
	))

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(errBusy)
	})

	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 11, calls)
	assert.LessOrEqual(t, ft.t.Sub(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)), time.Second)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New().Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLockRetrier_ZeroWaitTriesOnce(t *testing.T) {
	calls := 0
	err := LockRetrier(0).Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(errBusy)
	})
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 1, calls)
}

func TestDelay_CappedAndNonNegative(t *testing.T) {
	r := New(WithInitialDelay(time.Second), WithMaxDelay(2*time.Second), WithMultiplier(10), WithJitter(1))
	for attempt := 1; attempt <= 5; attempt++ {
		d := r.delay(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 4*time.Second)
	}
}

func TestRetryable_Nil(t *testing.T) {
	assert.NoError(t, Retryable(nil))
	assert.NoError(t, Permanent(nil))
}
