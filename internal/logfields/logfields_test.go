package logfields

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"CorrelationKey", KeyCorrelationKey, "k1", CorrelationKey("k1")},
		{"Stage", KeyStage, "extract", Stage("extract")},
		{"State", KeyState, "cleaned", State("cleaned")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"Manifest", KeyManifest, "a/b.csproj", Manifest("a/b.csproj")},
		{"Topic", KeyTopic, "build", Topic("build")},
		{"Bucket", KeyBucket, "my-bucket", Bucket("my-bucket")},
		{"Object", KeyObject, "k1.dll", Object("k1.dll")},
		{"Sink", KeySink, "store", Sink("store")},
		{"Method", KeyMethod, "POST", Method("POST")},
		{"RemoteAddr", KeyRemoteAddr, "1.2.3.4", RemoteAddr("1.2.3.4")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if tc.attr.Value.String() != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %s", tc.name, tc.attrVal, tc.attr.Value.String())
		}
	}
}

func TestNumericHelpers(t *testing.T) {
	if a := Duration(1500 * time.Microsecond); a.Key != KeyDurationMS || a.Value.Float64() != 1.5 {
		t.Fatalf("unexpected duration attr %v", a)
	}
	if a := ExitCode(3); a.Value.Int64() != 3 {
		t.Fatalf("unexpected exit code attr %v", a)
	}
	if a := Delivery(2); a.Value.Uint64() != 2 {
		t.Fatalf("unexpected delivery attr %v", a)
	}
}

func TestErrorHelper(t *testing.T) {
	if a := Error(nil); a.Value.String() != "" {
		t.Fatalf("nil error should render empty, got %q", a.Value.String())
	}
	if a := Error(errors.New("boom")); a.Value.String() != "boom" {
		t.Fatalf("unexpected error value %q", a.Value.String())
	}
}
