package journey

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProgress(t *testing.T, now time.Time) *StageProgress {
	t.Helper()
	key := ProgressKey{StudentID: "stu-1", StageType: StageTypeOnboarding, Stage: "welcome"}
	p, err := NewStageProgress("p-1", key, now)
	require.NoError(t, err)
	return p
}

func TestNewStageProgress(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p := newTestProgress(t, now)

	assert.Equal(t, StatusAssigned, p.Status)
	assert.Equal(t, now, p.StartedAt)
	assert.Equal(t, now, p.LastActivityAt)
	assert.Nil(t, p.CompletedAt)

	_, err := NewStageProgress("p-2", ProgressKey{StudentID: "stu-1", StageType: "Bogus", Stage: "x"}, now)
	assert.ErrorIs(t, err, ErrInvalidProgressKey)
}

func TestNewProgressKey_DropsCourseForOnboarding(t *testing.T) {
	onboarding := &OnboardingStage{StageName: "welcome"}
	learning := &LearningStage{Key: "LS-1"}

	assert.Equal(t, "", NewProgressKey("stu-1", onboarding, "math").CourseContext)
	assert.Equal(t, "math", NewProgressKey("stu-1", learning, "math").CourseContext)
}

func TestStageProgress_ApplyReturnsPreviousStatus(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p := newTestProgress(t, start)

	later := start.Add(time.Hour)
	old := p.Apply(StatusInProgress, ProgressInfo{}, later)

	assert.Equal(t, StatusAssigned, old)
	assert.Equal(t, StatusInProgress, p.Status)
	assert.Equal(t, later, p.LastActivityAt)
	assert.Nil(t, p.CompletedAt)
}

// The first completion time is kept on repeated completion events.
func TestStageProgress_CompletionTimestampIsStable(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p := newTestProgress(t, start)

	first := start.Add(time.Hour)
	p.Apply(StatusCompleted, ProgressInfo{}, first)
	require.NotNil(t, p.CompletedAt)
	assert.Equal(t, first, *p.CompletedAt)

	second := first.Add(24 * time.Hour)
	p.Apply(StatusCompleted, ProgressInfo{}, second)
	assert.Equal(t, first, *p.CompletedAt)
	assert.Equal(t, second, p.LastActivityAt)

	p.Apply(StatusInProgress, ProgressInfo{}, second.Add(time.Minute))
	assert.Equal(t, first, *p.CompletedAt, "reopening keeps the completion time")
}

func TestStageProgress_MetricsAndMastery(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p := newTestProgress(t, now)

	pct := 40.0
	p.Apply(StatusInProgress, ProgressInfo{CompletionPercentage: &pct}, now)
	require.NotNil(t, p.Metrics.CompletionPercentage)
	assert.Equal(t, 40.0, *p.Metrics.CompletionPercentage)
	assert.Equal(t, MasteryLevel(""), p.MasteryLevel)

	p.Apply(StatusCompleted, ProgressInfo{AssessmentResults: map[string]any{"score": 82.0}}, now)
	assert.Equal(t, MasteryProficient, p.MasteryLevel)
	assert.Equal(t, 40.0, *p.Metrics.CompletionPercentage, "earlier metrics are merged, not replaced")
	assert.Equal(t, 82.0, p.Metrics.AssessmentResults["score"])
}

func TestMasteryFromScore(t *testing.T) {
	cases := []struct {
		score float64
		want  MasteryLevel
	}{
		{100, MasteryAdvanced},
		{90, MasteryAdvanced},
		{89.9, MasteryProficient},
		{75, MasteryProficient},
		{74, MasteryBasic},
		{50, MasteryBasic},
		{49.5, MasteryStruggling},
		{0, MasteryStruggling},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MasteryFromScore(tc.score), "score %v", tc.score)
	}
}

func TestProgressInfo_ScoreDecoding(t *testing.T) {
	var info ProgressInfo
	require.NoError(t, json.Unmarshal([]byte(`{"step": 3, "assessment_results": {"score": 91}}`), &info))

	score, ok := info.Score()
	require.True(t, ok)
	assert.Equal(t, 91.0, score)

	_, ok = ProgressInfo{AssessmentResults: map[string]any{"passed": true}}.Score()
	assert.False(t, ok)

	score, ok = ProgressInfo{AssessmentResults: map[string]any{"score": "67.5"}}.Score()
	require.True(t, ok)
	assert.Equal(t, 67.5, score)
}
