// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lwneal/sharescript/internal/model"
	"github.com/lwneal/sharescript/internal/repository"
	"github.com/lwneal/sharescript/internal/session"
)

// RunHandler handles HTTP requests for run history.
type RunHandler struct {
	repo *repository.RunRepository
	ctrl *session.Controller
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(repo *repository.RunRepository, ctrl *session.Controller) *RunHandler {
	return &RunHandler{
		repo: repo,
		ctrl: ctrl,
	}
}

// RunResponse represents a run in API responses.
type RunResponse struct {
	ID         string `json:"id"`
	ScriptPath string `json:"scriptPath"`
	Status     string `json:"status"`
	ExitCode   *int   `json:"exitCode,omitempty"`
	PID        *int   `json:"pid,omitempty"`
	Duration   string `json:"duration"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

// StatusResponse represents the controller state in API responses.
type StatusResponse struct {
	State   string `json:"state"`
	Running bool   `json:"running"`
	Viewers int    `json:"viewers"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// toRunResponse converts a model.Run to RunResponse.
func toRunResponse(r *model.Run) *RunResponse {
	resp := &RunResponse{
		ID:         r.ID,
		ScriptPath: r.ScriptPath,
		Status:     string(r.Status),
		ExitCode:   r.ExitCode,
		PID:        r.PID,
		Duration:   r.Duration().Round(time.Second).String(),
		StartedAt:  r.StartedAt.Format(time.RFC3339),
	}
	if r.FinishedAt != nil {
		resp.FinishedAt = r.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

// List handles GET /api/runs - lists recent runs, most recent first.
func (h *RunHandler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.repo.List(c.Request.Context(), limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list runs: "+err.Error())
		return
	}

	response := make([]*RunResponse, len(runs))
	for i, run := range runs {
		response[i] = toRunResponse(run)
	}
	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/runs/:id - gets a specific run.
func (h *RunHandler) Get(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Run ID is required")
		return
	}

	run, err := h.repo.GetByID(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, model.ErrRunNotFound) {
			sendError(c, http.StatusNotFound, "RUN_NOT_FOUND", "Run "+runID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get run: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, toRunResponse(run))
}

// GetCast handles GET /api/runs/:id/cast - downloads the run's recording.
func (h *RunHandler) GetCast(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Run ID is required")
		return
	}

	run, err := h.repo.GetByID(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, model.ErrRunNotFound) {
			sendError(c, http.StatusNotFound, "RUN_NOT_FOUND", "Run "+runID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get run: "+err.Error())
		return
	}

	if run.CastPath == "" {
		sendError(c, http.StatusNotFound, "CAST_NOT_FOUND", "No recording for run "+runID)
		return
	}

	c.Header("Content-Type", "application/x-asciicast")
	c.Header("Content-Disposition", "attachment; filename="+runID+".cast")
	c.File(run.CastPath)
}

// Status handles GET /api/status - reports the controller state.
func (h *RunHandler) Status(c *gin.Context) {
	state := h.ctrl.State()
	c.JSON(http.StatusOK, StatusResponse{
		State:   string(state),
		Running: state != session.StateIdle,
		Viewers: h.ctrl.Viewers(),
	})
}

// RegisterRoutes registers the run handler routes on a Gin router group.
func (h *RunHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status", h.Status)

	runs := rg.Group("/runs")
	{
		runs.GET("", h.List)
		runs.GET("/:id", h.Get)
		runs.GET("/:id/cast", h.GetCast)
	}
}
