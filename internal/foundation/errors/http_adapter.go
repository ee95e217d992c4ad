package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// statusByCategory maps error categories to response codes. Categories not
// listed answer 500.
var statusByCategory = map[ErrorCategory]int{
	CategoryValidation: http.StatusBadRequest,
	CategoryConfig:     http.StatusBadRequest,
	CategoryArchive:    http.StatusBadRequest,
	CategoryNotFound:   http.StatusNotFound,
	CategoryGone:       http.StatusGone,
	CategoryTimeout:    http.StatusGatewayTimeout,
	CategoryStorage:    http.StatusBadGateway,
	CategoryTransport:  http.StatusBadGateway,
	CategoryBuild:      http.StatusUnprocessableEntity,
	CategoryPipeline:   http.StatusUnprocessableEntity,
	CategoryRuntime:    http.StatusServiceUnavailable,
}

// HTTPErrorAdapter turns errors returned by handlers into JSON error bodies.
type HTTPErrorAdapter struct {
	logger *slog.Logger
}

// NewHTTPErrorAdapter returns an adapter logging to logger, or to the default
// logger when nil.
func NewHTTPErrorAdapter(logger *slog.Logger) *HTTPErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPErrorAdapter{logger: logger}
}

// HTTPErrorResponse is the body of every non-2xx API response.
type HTTPErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// StatusCodeFor picks the response code for err.
func (a *HTTPErrorAdapter) StatusCodeFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	c, ok := AsClassified(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if status, ok := statusByCategory[c.category]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse writes err as JSON and logs it at a level derived from
// its severity. Server-side failures (5xx) are always logged as errors.
func (a *HTTPErrorAdapter) WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	status := a.StatusCodeFor(err)
	body, jerr := json.Marshal(a.FormatErrorResponse(err))
	if jerr != nil {
		body = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)

	level := slog.LevelError
	if c, ok := AsClassified(err); ok && status < http.StatusInternalServerError {
		level = slogLevelFromSeverity(c.severity)
	}
	a.logger.Log(r.Context(), level, "Request failed",
		slog.Int("status", status),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))
}

// FormatErrorResponse builds the JSON body for err. Context entries become
// details; unclassified errors only expose their message.
func (a *HTTPErrorAdapter) FormatErrorResponse(err error) HTTPErrorResponse {
	if err == nil {
		return HTTPErrorResponse{}
	}
	c, ok := AsClassified(err)
	if !ok {
		return HTTPErrorResponse{Error: err.Error()}
	}
	resp := HTTPErrorResponse{
		Error:     c.message,
		Code:      string(c.category),
		Retryable: c.retry != RetryNever,
	}
	if len(c.context) > 0 {
		resp.Details = c.context
	}
	return resp
}

func slogLevelFromSeverity(s ErrorSeverity) slog.Level {
	switch s {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
