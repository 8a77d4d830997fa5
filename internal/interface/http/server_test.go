package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tap-lms/journey-hub/internal/application/command"
	"github.com/tap-lms/journey-hub/internal/application/engine"
	"github.com/tap-lms/journey-hub/internal/application/eventhandler"
	"github.com/tap-lms/journey-hub/internal/application/query"
	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/student"
	"github.com/tap-lms/journey-hub/internal/infrastructure/messaging"
	"github.com/tap-lms/journey-hub/internal/infrastructure/persistence/memory"
	"github.com/tap-lms/journey-hub/internal/interface/http/handlers"
	"github.com/tap-lms/journey-hub/pkg/logger"
	"github.com/tap-lms/journey-hub/pkg/timeutil"
)

const testAPIKey = "s3cret"

type testEnv struct {
	store  *memory.Store
	server *Server
	stats  *eventhandler.JourneyStatsHandler
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	clock := timeutil.NewFixedClock(time.Date(2024, 5, 2, 11, 0, 0, 0, timeutil.IST))
	log := logger.New(logger.Options{Output: io.Discard})
	slogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: slogger})
	t.Cleanup(func() { _ = bus.Close(context.Background()) })
	stats := eventhandler.NewJourneyStatsHandler(slogger)
	require.NoError(t, stats.Register(bus))

	eng := engine.New(engine.Deps{
		Stages:      store.Stages(),
		Progress:    store.Progress(),
		Journeys:    store.Journeys(),
		Transitions: store.Transitions(),
		Engagement:  store.Engagement(),
		Learning:    store.Learning(),
		Publisher:   bus,
		Clock:       clock,
		Logger:      log,
	})
	finder := student.NewFinder(store.Students())

	require.NoError(t, store.Students().Create(ctx, &student.Student{
		ID: "STU-1", GlificID: "g-100", Phone: "919800000001", Name: "Ravi",
		Enrollments: []student.Enrollment{{Course: "eng-l1", Batch: "B2"}},
	}))
	require.NoError(t, store.Stages().UpsertOnboardingStage(ctx, &journey.OnboardingStage{
		StageName: "S1", Active: true,
		StageFlows: []journey.StageFlow{{TriggerStatus: "completed", NextStage: "S2"}},
	}))
	require.NoError(t, store.Stages().UpsertOnboardingStage(ctx, &journey.OnboardingStage{
		StageName: "S2", Active: true,
	}))

	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("store", handlers.NewPingCheck(store))

	srv := NewServer(cfg, Dependencies{
		TrackInteraction:   command.NewTrackInteractionHandler(finder, eng, store.InteractionLogs(), clock, uuid.NewString, log),
		UpdateStudentStage: command.NewUpdateStudentStageHandler(finder, eng, log),
		GetJourney: query.NewGetJourneyHandler(finder, store.Progress(), store.Journeys(),
			store.Transitions(), store.Engagement(), store.Learning()),
		Stats:         stats,
		BusMetrics:    bus,
		Logger:        log,
		HealthChecker: checker,
	})
	return &testEnv{store: store, server: srv, stats: stats}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	return cfg
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeStage(t *testing.T, rec *httptest.ResponseRecorder) command.StageResult {
	t.Helper()
	var res command.StageResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return res
}

const interactionBody = `{
	"event_type": "flow_completed",
	"contact": {"id": "g-100"},
	"stage_id": "S1",
	"stage_type": "OnboardingStage",
	"content": {"message": {"id": "m-1", "body": "done"}},
	"progress": {"step": 4, "completion_percentage": 100}
}`

func TestTrackInteraction_Success(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, http.MethodPost, "/api/v1/journey/interactions", interactionBody)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	res := decodeStage(t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, "S1", res.Stage)
	assert.Equal(t, journey.StatusCompleted, res.Status)
	require.NotNil(t, res.Data)
	assert.Equal(t, "S2", res.Data.Transitions.ToStage)
	assert.Equal(t, 2, env.store.Progress().Count())

	// The sync bus has delivered by the time the request returns.
	assert.Equal(t, 1, env.stats.Snapshot().StageProgressions)
}

func TestTrackInteraction_StatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantKind command.ErrorKind
		wantErr  string
	}{
		{
			name:     "validation",
			body:     `{"contact": {"id": "g-100"}, "stage_id": "S1", "stage_type": "OnboardingStage"}`,
			wantCode: http.StatusBadRequest,
			wantKind: command.ErrorKindValidation,
			wantErr:  "Missing required field: event_type",
		},
		{
			name:     "unknown student",
			body:     `{"event_type": "flow_started", "contact": {"id": "nobody"}, "stage_id": "S1", "stage_type": "OnboardingStage"}`,
			wantCode: http.StatusNotFound,
			wantKind: command.ErrorKindNotFound,
			wantErr:  "Student not found",
		},
		{
			name:     "malformed json",
			body:     `{"event_type":`,
			wantCode: http.StatusBadRequest,
			wantKind: command.ErrorKindValidation,
			wantErr:  "Invalid JSON body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig())

			rec := env.do(t, http.MethodPost, "/api/v1/journey/interactions", tt.body)

			assert.Equal(t, tt.wantCode, rec.Code)
			res := decodeStage(t, rec)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantKind, res.ErrorKind)
			assert.Equal(t, tt.wantErr, res.Error)
		})
	}
}

func TestTrackInteraction_EmptyBody(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, http.MethodPost, "/api/v1/journey/interactions", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Request body is required", decodeStage(t, rec).Error)
}

func TestTrackInteraction_BodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 16
	env := newTestEnv(t, cfg)

	rec := env.do(t, http.MethodPost, "/api/v1/journey/interactions", interactionBody)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUpdateStudentStage(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, http.MethodPost, "/api/v1/journey/students/STU-1/stage", `{"stage_name": "S2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeStage(t, rec)
	assert.Equal(t, journey.StatusAssigned, res.Status)
	assert.Equal(t, journey.StageTypeOnboarding, res.StageType)

	rec = env.do(t, http.MethodPost, "/api/v1/journey/students/STU-1/stage", `{"stage_name": "nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Stage 'nope' not found", decodeStage(t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/v1/journey/students/STU-1/stage", `{"stage_name": "S2", "stage_type": "Other"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJourney(t *testing.T) {
	env := newTestEnv(t, testConfig())
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/journey/interactions", interactionBody).Code)

	rec := env.do(t, http.MethodGet, "/api/v1/journey/students/g-100?history=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Success bool                    `json:"success"`
		Data    query.JourneySummaryDTO `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "STU-1", body.Data.StudentID)
	require.NotNil(t, body.Data.Onboarding)
	assert.Equal(t, "S2", body.Data.Onboarding.CurrentStage)
	assert.Len(t, body.Data.Stages, 2)
	assert.Len(t, body.Data.History, 1)

	rec = env.do(t, http.MethodGet, "/api/v1/journey/students/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.do(t, http.MethodPost, "/api/v1/journey/interactions", interactionBody)

	rec := env.do(t, http.MethodGet, "/api/v1/journey/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Journeys eventhandler.JourneyStats          `json:"journeys"`
			EventBus messaging.EventBusMetricsSnapshot `json:"event_bus"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.Journeys.StageProgressions)
	assert.Positive(t, body.Data.EventBus.Published)
}

func TestAPIKeyAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.APIKeys = []handlers.APIKey{{Name: "glific", Hash: hash}}
	env := newTestEnv(t, cfg)

	rec := env.do(t, http.MethodGet, "/api/v1/journey/stats", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_api_key")

	rec = env.do(t, http.MethodGet, "/api/v1/journey/stats", "", "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_api_key")

	rec = env.do(t, http.MethodGet, "/api/v1/journey/stats", "", "X-API-Key", testAPIKey)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/journey/stats", "", "Authorization", "Bearer "+testAPIKey)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	rec = env.do(t, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store"`)

	rec = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth_FailingCheck(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("db", func(context.Context) error { return errors.New("connection refused") })
	checker.AddCheck("cache", func(context.Context) error { return nil })

	srv := NewServer(testConfig(), Dependencies{
		Logger:        logger.New(logger.Options{Output: io.Discard}),
		HealthChecker: checker,
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Some checks failed: db")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecovery(t *testing.T) {
	srv := NewServer(testConfig(), Dependencies{Logger: logger.New(logger.Options{Output: io.Discard})})
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_server_error")
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.Equal(t, now, rl.lastSweep, "sweeps run on the injected clock")
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("a"))
	assert.NotContains(t, rl.requests, "b", "idle keys are swept")
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", getClientIP(req))
}
