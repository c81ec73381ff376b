package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": Debug, "": Info, "WARNING": Warn, " error ": Error}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != JSON {
		t.Fatalf("expected json, got %v %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != Text {
		t.Fatalf("expected text default, got %v %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestWithCarriesFields(t *testing.T) {
	core, obs := observer.New(zapcore.DebugLevel)
	logger := NewFromCore(core).With(F("subsystem", "pipeline"))

	logger.Info("cycle", F("cycle", 3), Field{Key: "", Value: "dropped"}, F("err", errors.New("boom")))

	entries := obs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["subsystem"] != "pipeline" {
		t.Fatalf("missing inherited field: %v", ctx)
	}
	if ctx["cycle"] != int64(3) {
		t.Fatalf("unexpected cycle field: %#v", ctx["cycle"])
	}
	if ctx["err"] != "boom" {
		t.Fatalf("unexpected err field: %#v", ctx["err"])
	}
	if len(ctx) != 3 {
		t.Fatalf("expected 3 fields, got %v", ctx)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Warn, JSON, &buf)
	logger.Info("hidden")
	logger.Warn("shown", F("channel", 2))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["msg"] != "shown" || payload["level"] != "WARN" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["channel"] != float64(2) {
		t.Fatalf("unexpected channel: %v", payload["channel"])
	}
}

func TestDefaultIsUsable(t *testing.T) {
	Default().Info("discarded")
	SetDefault(nil)
	if Default() == nil {
		t.Fatalf("default logger must not be nil")
	}
}
