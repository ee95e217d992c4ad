package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"git.home.luguber.info/inful/buildrelay/internal/logfields"
)

// writeJSON serializes v into a buffer first so a failed encode never leaves
// a partial response, then writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(v); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("failed writing JSON response body", logfields.Error(err))
		return err
	}
	return nil
}

// wantsRaw reports whether the client asked for the artifact bytes instead of JSON.
func wantsRaw(r *http.Request) bool {
	if v := r.URL.Query().Get("raw"); v == "1" || v == "true" {
		return true
	}
	return r.Header.Get("Accept") == "application/octet-stream"
}

// writeArtifact writes data as an octet stream.
func writeArtifact(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Error("failed writing artifact body", logfields.Error(err))
	}
}
