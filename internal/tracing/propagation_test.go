package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToLogger(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithRequestID(ctx, "req-456")
	ctx = WithSessionID(ctx, "run-42")

	var buf bytes.Buffer
	logger := PropagateToLogger(ctx, zerolog.New(&buf))
	logger.Info().Msg("test message")

	output := buf.String()
	for _, want := range []string{`"trace_id":"trace-123"`, `"request_id":"req-456"`, `"session_id":"run-42"`} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %s in log output, got %s", want, output)
		}
	}
}

func TestLoggerFromContextWithoutTracing(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggerFromContext(context.Background(), zerolog.New(&buf))
	logger.Info().Msg("plain")

	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("Did not expect trace_id in output: %s", buf.String())
	}
}
