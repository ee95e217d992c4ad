package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/server/responses"
	"git.home.luguber.info/inful/buildrelay/internal/version"
)

// MonitoringHandlers contains health handlers.
type MonitoringHandlers struct {
	mode         config.SubmitMode
	startTime    time.Time
	errorAdapter *errors.HTTPErrorAdapter
}

// NewMonitoringHandlers creates a new monitoring handlers instance.
func NewMonitoringHandlers(mode config.SubmitMode, adapter *errors.HTTPErrorAdapter) *MonitoringHandlers {
	if adapter == nil {
		adapter = errors.NewHTTPErrorAdapter(slog.Default())
	}
	return &MonitoringHandlers{mode: mode, startTime: time.Now(), errorAdapter: adapter}
}

// HandleHealthCheck handles the health check endpoint.
func (h *MonitoringHandlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &responses.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.Version,
		Uptime:    time.Since(h.startTime).Seconds(),
		Mode:      string(h.mode),
	}
	if err := writeJSON(w, http.StatusOK, health); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryInternal, "failed to encode health response").Build())
	}
}
