package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
)

func TestLogHandler_PassesThroughToBase(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(NewLogHandler(base, "test"))

	logger.With("collection", "7").WithGroup("batch").Info("upload complete", "records", 500)
	logger.Debug("hidden")

	out := buf.String()
	for _, want := range []string{"upload complete", "collection=7", "batch.records=500"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug record should be filtered by the base handler level")
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  otellog.Severity
	}{
		{slog.LevelDebug, otellog.SeverityDebug},
		{slog.LevelInfo, otellog.SeverityInfo},
		{slog.LevelWarn, otellog.SeverityWarn},
		{slog.LevelError, otellog.SeverityError},
		{slog.LevelError + 4, otellog.SeverityError},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestConvertAttr_FlattensGroups(t *testing.T) {
	a := slog.Group("retry", slog.Int("attempt", 2), slog.Duration("wait", time.Second), slog.Bool("jitter", false))
	kvs := convertAttr("upload.", a)

	got := make(map[string]otellog.Value, len(kvs))
	for _, kv := range kvs {
		got[kv.Key] = kv.Value
	}
	if v, ok := got["upload.retry.attempt"]; !ok || v.AsInt64() != 2 {
		t.Errorf("attempt = %v", v)
	}
	if v, ok := got["upload.retry.wait"]; !ok || v.AsString() != "1s" {
		t.Errorf("wait = %v", v)
	}
	if v, ok := got["upload.retry.jitter"]; !ok || v.AsBool() {
		t.Errorf("jitter = %v", v)
	}
}

func TestSetup_RequiresEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if shutdown == nil {
		t.Fatal("shutdown must be non-nil even on error")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown returned %v", err)
	}
}

func TestNewResource_DefaultServiceName(t *testing.T) {
	res, err := newResource("")
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	found := false
	for _, kv := range res.Attributes() {
		if string(kv.Key) == "service.name" && kv.Value.AsString() == DefaultServiceName {
			found = true
		}
	}
	if !found {
		t.Errorf("service.name %q not in %v", DefaultServiceName, res.Attributes())
	}
}
