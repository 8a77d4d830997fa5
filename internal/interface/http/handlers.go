package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tap-lms/journey-hub/internal/application/command"
	"github.com/tap-lms/journey-hub/internal/application/query"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
	"github.com/tap-lms/journey-hub/internal/interface/http/handlers"
	"github.com/tap-lms/journey-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"name":    "Journey Hub API",
		"version": "v1",
		"endpoints": map[string]string{
			"health":       "/health",
			"interactions": "/api/v1/journey/interactions",
			"students":     "/api/v1/journey/students/{id}",
			"stats":        "/api/v1/journey/stats",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"uptime": s.Uptime().String(),
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady handles the readiness probe endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		if status := s.deps.HealthChecker.Check(r.Context()); !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status":  "not_ready",
				"message": status.Message,
			})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// JOURNEY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleTrackInteraction handles POST /api/v1/journey/interactions.
func (s *Server) handleTrackInteraction(w http.ResponseWriter, r *http.Request) {
	var cmd command.TrackInteractionCommand
	if !s.decodeStageRequest(w, r, &cmd) {
		return
	}

	res := s.deps.TrackInteraction.Handle(r.Context(), cmd)
	writeRaw(w, stageResultStatus(res), res)
}

// handleUpdateStudentStage handles POST /api/v1/journey/students/{id}/stage.
func (s *Server) handleUpdateStudentStage(w http.ResponseWriter, r *http.Request) {
	var cmd command.UpdateStudentStageCommand
	if !s.decodeStageRequest(w, r, &cmd) {
		return
	}
	cmd.StudentID = r.PathValue("id")

	res := s.deps.UpdateStudentStage.Handle(r.Context(), cmd)
	if res.Success {
		s.logger.Info("manual stage update",
			logger.StudentID(cmd.StudentID),
			logger.StageID(cmd.StageName),
			logger.String("caller", handlers.CallerFromContext(r.Context())),
		)
	}
	writeRaw(w, stageResultStatus(res), res)
}

// handleGetJourney handles GET /api/v1/journey/students/{id}.
func (s *Server) handleGetJourney(w http.ResponseWriter, r *http.Request) {
	dto, err := s.deps.GetJourney.Handle(r.Context(), query.GetJourneyQuery{
		StudentID:      r.PathValue("id"),
		IncludeHistory: getQueryParamBool(r, "history"),
		Page:           getQueryParamInt(r, "page", 1),
		PageSize:       getQueryParamInt(r, "page_size", 20),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// handleGetStats handles GET /api/v1/journey/stats.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime": s.Uptime().String(),
	}
	if s.deps.Stats != nil {
		stats["journeys"] = s.deps.Stats.Snapshot()
	}
	if s.deps.BusMetrics != nil {
		stats["event_bus"] = s.deps.BusMetrics.Metrics()
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeStageRequest decodes a JSON body. On failure it writes a stage
// result with a validation error and returns false.
func (s *Server) decodeStageRequest(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
	case errors.Is(err, io.EOF):
		writeRaw(w, http.StatusBadRequest, invalidBody("Request body is required"))
	default:
		writeRaw(w, http.StatusBadRequest, invalidBody("Invalid JSON body"))
	}
	return false
}

func invalidBody(msg string) *command.StageResult {
	return &command.StageResult{Success: false, Error: msg, ErrorKind: command.ErrorKindValidation}
}

// stageResultStatus maps a stage result to an HTTP status. Business
// outcomes with success=true (no flows, terminal stage) are 200.
func stageResultStatus(res *command.StageResult) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.ErrorKind {
	case command.ErrorKindValidation:
		return http.StatusBadRequest
	case command.ErrorKindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError maps domain errors to HTTP responses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", "Student not found")
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		s.logger.Error("request failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", getRequestID(r.Context())),
			logger.Err(err),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
