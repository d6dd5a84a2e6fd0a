package glog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/sofiworker/udpreplay/glog"
)

// parseJSONLines parses every non-empty line written by a JSON logger.
func parseJSONLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(line), &data); err != nil {
			t.Fatalf("Failed to parse JSON log line: %q, error: %v", line, err)
		}
		out = append(out, data)
	}
	return out
}

func newJSONLogger(t *testing.T, buf *bytes.Buffer, opts ...glog.Option) glog.GLogger {
	t.Helper()
	base := []glog.Option{
		glog.WithWriter(buf),
		glog.WithEncoding(glog.JSONEncoding),
		glog.WithDisableCaller(true),
	}
	l, err := glog.NewWithOptions(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewWithOptions failed: %v", err)
	}
	return l
}

func TestDefaultLogger(t *testing.T) {
	glog.Info("Default logger initialized")
	if glog.Default() == nil {
		t.Fatal("Default logger should not be nil")
	}
}

func TestStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf).With("session", "s-1")
	l.Info("packet sent", "bytes", 100)

	lines := parseJSONLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["msg"] != "packet sent" || lines[0]["session"] != "s-1" || lines[0]["bytes"] != float64(100) {
		t.Fatalf("unexpected log line: %v", lines[0])
	}
	if lines[0]["lvl"] != "info" {
		t.Fatalf("expected lvl key, got %v", lines[0])
	}
}

func TestSetLevelSharedByChildren(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)
	child := l.With("k", "v")

	child.Debug("hidden")
	l.SetLevel(glog.DebugLevel)
	child.Debug("visible")

	lines := parseJSONLines(t, &buf)
	if len(lines) != 1 || lines[0]["msg"] != "visible" {
		t.Fatalf("unexpected lines: %v", lines)
	}
	if child.Level() != glog.DebugLevel {
		t.Fatalf("child level = %s", child.Level())
	}
}

func TestContextTraceFields(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.InfoContext(ctx, "with trace")
	l.InfoContext(context.Background(), "without trace")

	lines := parseJSONLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0]["trace_id"] != sc.TraceID().String() || lines[0]["span_id"] != sc.SpanID().String() {
		t.Fatalf("missing trace fields: %v", lines[0])
	}
	if _, ok := lines[1]["trace_id"]; ok {
		t.Fatalf("unexpected trace field: %v", lines[1])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]glog.Level{
		"debug":   glog.DebugLevel,
		"INFO":    glog.InfoLevel,
		"":        glog.InfoLevel,
		"warning": glog.WarnLevel,
		"error":   glog.ErrorLevel,
	}
	for in, want := range cases {
		got, err := glog.ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := glog.ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestConfigureFileOutput(t *testing.T) {
	logFilePath := filepath.Join(t.TempDir(), "test.log")
	original := glog.Default().Config()
	t.Cleanup(func() {
		_ = glog.Configure(func(c *glog.Config) { *c = *original })
	})

	if err := glog.Configure(
		glog.WithOutputPaths(logFilePath),
		glog.WithStdout(false),
		glog.WithEncoding(glog.JSONEncoding),
		glog.WithRotation(1, 1, 1, false, true),
	); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	glog.Warn("written to file", "n", 1)
	_ = glog.Sync()

	data, err := os.ReadFile(logFilePath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Fatalf("log file missing entry: %q", data)
	}
}
