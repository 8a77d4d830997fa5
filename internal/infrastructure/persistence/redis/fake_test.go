package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis is an in-process stand-in for the handful of commands used here.
type fakeRedis struct {
	mu     sync.Mutex
	data   map[string]string
	gets   int
	failOn error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failOn != nil {
		return redis.NewStringResult("", f.failOn)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != nil {
		return redis.NewStatusResult("", f.failOn)
	}
	f.data[key] = toString(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != nil {
		return redis.NewBoolResult(false, f.failOn)
	}
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = toString(value)
	return redis.NewBoolResult(true, nil)
}

// EvalSha runs the release script: compare the token, then delete.
func (f *fakeRedis) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[keys[0]] == toString(args[0]) {
		delete(f.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *fakeRedis) Eval(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, "", keys, args...)
}

func (f *fakeRedis) EvalRO(context.Context, string, []string, ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(nil, errors.New("not supported"))
}

func (f *fakeRedis) EvalShaRO(context.Context, string, []string, ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(nil, errors.New("not supported"))
}

func (f *fakeRedis) ScriptExists(context.Context, ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (f *fakeRedis) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func (f *fakeRedis) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

func (f *fakeRedis) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}

var (
	_ KV         = (*fakeRedis)(nil)
	_ LockClient = (*fakeRedis)(nil)
)
