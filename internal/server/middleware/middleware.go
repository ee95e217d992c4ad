// Package middleware wraps the API router with access logging and panic recovery.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
)

// correlationHeader is set by the build handlers on intake and retrieval.
const correlationHeader = "X-Correlation-Key"

// Chain returns the access log and panic recovery wrapper used by the API server.
func Chain(logger *slog.Logger, adapter *errors.HTTPErrorAdapter) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if adapter == nil {
		adapter = errors.NewHTTPErrorAdapter(logger)
	}
	return func(next http.Handler) http.Handler {
		return accessLog(logger, recoverer(logger, adapter, next))
	}
}

// accessLog emits one record per request. Server errors are logged at warn
// level; the correlation key is taken from the response header when set.
func accessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		attrs := []slog.Attr{
			logfields.Method(r.Method),
			logfields.Path(r.URL.Path),
			logfields.Status(rw.status),
			logfields.Bytes(rw.written),
			logfields.Duration(time.Since(start)),
			logfields.RequestID(chimw.GetReqID(r.Context())),
			logfields.RemoteAddr(r.RemoteAddr),
		}
		if key := rw.Header().Get(correlationHeader); key != "" {
			attrs = append(attrs, logfields.CorrelationKey(key))
		}
		level := slog.LevelInfo
		if rw.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.LogAttrs(r.Context(), level, "HTTP request", attrs...)
	})
}

// recoverer turns handler panics into a 500 JSON body. http.ErrAbortHandler
// is re-raised so net/http can abort the connection.
func recoverer(logger *slog.Logger, adapter *errors.HTTPErrorAdapter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error("HTTP handler panic",
				slog.String("panic", fmt.Sprint(rec)),
				logfields.Method(r.Method),
				logfields.Path(r.URL.Path),
				logfields.RequestID(chimw.GetReqID(r.Context())))
			adapter.WriteErrorResponse(w, r, errors.InternalError("internal server error").
				WithContext("path", r.URL.Path).
				Build())
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *statusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
