package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyCorrelationKey = "correlation_key"
	KeyStage          = "stage"
	KeyState          = "state"
	KeyOutcome        = "outcome"
	KeyPath           = "path"
	KeyManifest       = "manifest"
	KeyArtifact       = "artifact"
	KeyTopic          = "topic"
	KeyBucket         = "bucket"
	KeyObject         = "object"
	KeySink           = "sink"
	KeyDelivery       = "delivery"
	KeyExitCode       = "exit_code"
	KeyBytes          = "bytes"
	KeyCount          = "count"
	KeyDurationMS     = "duration_ms"
	KeyError          = "error"
	KeyMethod         = "method"
	KeyStatus         = "status"
	KeyRemoteAddr     = "remote_addr"
	KeyRequestID      = "request_id"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func CorrelationKey(k string) slog.Attr { return slog.String(KeyCorrelationKey, k) }
func Stage(name string) slog.Attr       { return slog.String(KeyStage, name) }
func State(s string) slog.Attr          { return slog.String(KeyState, s) }
func Outcome(o string) slog.Attr        { return slog.String(KeyOutcome, o) }
func Path(p string) slog.Attr           { return slog.String(KeyPath, p) }
func Manifest(p string) slog.Attr       { return slog.String(KeyManifest, p) }
func Artifact(p string) slog.Attr       { return slog.String(KeyArtifact, p) }
func Topic(t string) slog.Attr          { return slog.String(KeyTopic, t) }
func Bucket(b string) slog.Attr         { return slog.String(KeyBucket, b) }
func Object(name string) slog.Attr      { return slog.String(KeyObject, name) }
func Sink(s string) slog.Attr           { return slog.String(KeySink, s) }
func Delivery(n uint64) slog.Attr       { return slog.Uint64(KeyDelivery, n) }
func ExitCode(c int) slog.Attr          { return slog.Int(KeyExitCode, c) }
func Bytes(n int64) slog.Attr           { return slog.Int64(KeyBytes, n) }
func Count(n int) slog.Attr             { return slog.Int(KeyCount, n) }
func Method(m string) slog.Attr         { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr         { return slog.Int(KeyStatus, code) }
func RemoteAddr(a string) slog.Attr     { return slog.String(KeyRemoteAddr, a) }
func RequestID(id string) slog.Attr     { return slog.String(KeyRequestID, id) }

// Duration reports d in milliseconds under the canonical duration key.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d)/float64(time.Millisecond))
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
