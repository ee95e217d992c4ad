package handlers

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/jobkey"
	"git.home.luguber.info/inful/buildrelay/internal/jobstate"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
	"git.home.luguber.info/inful/buildrelay/internal/result"
	"git.home.luguber.info/inful/buildrelay/internal/server/responses"
)

// HeaderCorrelationKey carries the job key on every intake and retrieval response.
const HeaderCorrelationKey = "X-Correlation-Key"

// multipartMemory bounds the in-memory part of a parsed multipart form.
const multipartMemory = 8 << 20

// Submitter defines the intake operations needed by build handlers.
type Submitter interface {
	Mode() config.SubmitMode
	Submit(ctx context.Context, payload []byte) (jobkey.Key, error)
	SubmitAndWait(ctx context.Context, payload []byte) (jobkey.Key, []byte, error)
	Fetch(ctx context.Context, key jobkey.Key) ([]byte, error)
}

// BuildHandlers contains payload intake and result retrieval handlers.
type BuildHandlers struct {
	submitter    Submitter
	tracker      jobstate.Tracker
	maxUpload    int64
	errorAdapter *errors.HTTPErrorAdapter
}

// NewBuildHandlers creates a new build handlers instance. A nil tracker
// disables status lookups.
func NewBuildHandlers(submitter Submitter, tracker jobstate.Tracker, maxUpload int64, adapter *errors.HTTPErrorAdapter) *BuildHandlers {
	if tracker == nil {
		tracker = jobstate.Noop{}
	}
	if adapter == nil {
		adapter = errors.NewHTTPErrorAdapter(slog.Default())
	}
	return &BuildHandlers{
		submitter:    submitter,
		tracker:      tracker,
		maxUpload:    maxUpload,
		errorAdapter: adapter,
	}
}

// HandleSubmit accepts a zipped project either as the "file" field of a
// multipart form or as the raw request body. Async mode answers 202 with the
// correlation key; sync mode waits for the artifact and returns it.
func (h *BuildHandlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	payload, err := h.readPayload(w, r)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	mode := h.submitter.Mode()
	if mode != config.SubmitModeSync {
		key, err := h.submitter.Submit(r.Context(), payload)
		if err != nil {
			h.errorAdapter.WriteErrorResponse(w, r, err)
			return
		}
		w.Header().Set(HeaderCorrelationKey, key.String())
		h.respond(w, r, http.StatusAccepted, &responses.SubmitResponse{
			CorrelationKey: key.String(),
			Mode:           string(mode),
		})
		return
	}

	key, data, err := h.submitter.SubmitAndWait(r.Context(), payload)
	if key != "" {
		w.Header().Set(HeaderCorrelationKey, key.String())
	}
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if wantsRaw(r) {
		writeArtifact(w, http.StatusOK, data)
		return
	}
	h.respond(w, r, http.StatusOK, &responses.SubmitResponse{
		CorrelationKey: key.String(),
		Mode:           string(mode),
		Artifact:       base64.StdEncoding.EncodeToString(data),
		Size:           len(data),
	})
}

// HandleResult performs a single non-blocking retrieval for {key}. The
// result is consumed: a second call for the same key reports it pending.
func (h *BuildHandlers) HandleResult(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	w.Header().Set(HeaderCorrelationKey, key.String())

	data, err := h.submitter.Fetch(r.Context(), key)
	switch {
	case err == nil:
	case stderrors.Is(err, result.ErrNotReady):
		if rec, serr := h.tracker.Get(r.Context(), key.String()); serr == nil {
			switch {
			case abandoned(rec):
				h.errorAdapter.WriteErrorResponse(w, r, abandonError(rec).
					WithContext("correlation_key", key.String()).
					WithContext("state", string(terminal(rec))).
					Build())
				return
			case terminal(rec) == jobstate.Published:
				// the result object is gone, so an earlier request took it
				h.errorAdapter.WriteErrorResponse(w, r, errors.GoneError("result already retrieved").
					WithContext("correlation_key", key.String()).
					Build())
				return
			}
		}
		h.respond(w, r, http.StatusAccepted, &responses.PendingResponse{
			CorrelationKey: key.String(),
			Status:         "pending",
		})
		return
	default:
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	if wantsRaw(r) {
		writeArtifact(w, http.StatusOK, data)
		return
	}
	h.respond(w, r, http.StatusOK, &responses.ResultResponse{
		CorrelationKey: key.String(),
		Artifact:       base64.StdEncoding.EncodeToString(data),
		Size:           len(data),
	})
}

// HandleStatus reports the ledger entry for {key}.
func (h *BuildHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	rec, err := h.tracker.Get(r.Context(), key.String())
	if err != nil {
		if stderrors.Is(err, jobstate.ErrUnknown) {
			err = errors.NotFoundError("no state recorded for job").
				WithContext("correlation_key", key.String()).
				Build()
		}
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, &responses.StatusResponse{
		CorrelationKey: rec.Key,
		State:          string(rec.State),
		Outcome:        string(rec.Outcome),
		Delivery:       rec.Delivery,
		Manifest:       rec.Manifest,
		Artifact:       rec.Artifact,
		ExitCode:       rec.ExitCode,
		Error:          rec.Error,
		Abandoned:      abandoned(rec),
		UpdatedAt:      rec.UpdatedAt,
	})
}

func (h *BuildHandlers) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryInternal, "failed to encode response").Build())
	}
}

func (h *BuildHandlers) readPayload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}

	var src io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, uploadError(err, h.maxUpload)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, errors.ValidationError("multipart upload has no \"file\" field").WithCause(err).Build()
		}
		defer func() { _ = f.Close() }()
		src = f
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, uploadError(err, h.maxUpload)
	}
	if len(data) == 0 {
		return nil, errors.ValidationError("payload is empty").Build()
	}
	slog.Debug("Payload received", logfields.Bytes(int64(len(data))), logfields.RemoteAddr(r.RemoteAddr))
	return data, nil
}

func uploadError(err error, limit int64) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.ValidationError("payload exceeds upload limit").
			WithContext("max_upload_bytes", limit).
			Build()
	}
	return errors.ValidationError("failed to read upload").WithCause(err).Build()
}

func keyParam(r *http.Request) (jobkey.Key, error) {
	raw := chi.URLParam(r, "key")
	key, err := jobkey.Parse(raw)
	if err != nil {
		return "", errors.ValidationError("invalid correlation key").
			WithContext("correlation_key", raw).
			WithCause(err).
			Build()
	}
	return key, nil
}

func terminal(rec *jobstate.Record) jobstate.State {
	if rec.State == jobstate.Cleaned && rec.Outcome != "" {
		return rec.Outcome
	}
	return rec.State
}

func abandoned(rec *jobstate.Record) bool {
	return rec != nil && terminal(rec).Abandoned()
}

func abandonError(rec *jobstate.Record) *errors.ErrorBuilder {
	if terminal(rec) == jobstate.BuildFailed {
		return errors.BuildError("build failed without an artifact")
	}
	return errors.PipelineError("job abandoned without a result")
}
