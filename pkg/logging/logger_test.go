package logging_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/agentstation/beacon/pkg/logging"
)

func TestDefaultLogger(t *testing.T) {
	original := *logging.Default()
	t.Cleanup(func() { logging.SetDefault(original) })

	buf := &bytes.Buffer{}
	logging.SetDefault(zerolog.New(buf).Level(zerolog.DebugLevel))

	logging.Default().Info().Msg("info message")
	logging.Component(nil, "auth").Error().Err(errors.New("boom")).Msg("error message")

	output := buf.String()
	assert.Contains(t, output, "info message")
	assert.Contains(t, output, "boom")
	assert.Contains(t, output, `"component":"auth"`)
}

func TestContextLogger(t *testing.T) {
	testLogger := logging.NewTestLogger(t)

	ctx := logging.WithLogger(context.Background(), testLogger.Logger)
	ctx = logging.WithUser(ctx, "user-42")
	ctx = logging.WithSession(ctx, "sess-7")
	ctx = logging.WithRequestID(ctx, "req-1")

	logging.FromContext(ctx).Info().Msg("page view")

	testLogger.AssertContains(t, `"user_id":"user-42"`)
	testLogger.AssertContains(t, `"session_id":"sess-7"`)
	testLogger.AssertContains(t, `"request_id":"req-1"`)
	assert.Equal(t, "req-1", logging.RequestID(ctx))
}

func TestFromContextFallback(t *testing.T) {
	assert.Equal(t, logging.Default(), logging.FromContext(context.Background()))
	//nolint:staticcheck // nil context is handled explicitly
	assert.Equal(t, logging.Default(), logging.FromContext(nil))
}

func TestComponent(t *testing.T) {
	testLogger := logging.NewTestLogger(t)
	l := logging.Component(testLogger.Logger, "tracker")
	l.Info().Msg("hello")
	testLogger.AssertContains(t, `"component":"tracker"`)
}

func TestNewLoggerFromConfig(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{"debug", "debug", zerolog.DebugLevel},
		{"warning alias", "warning", zerolog.WarnLevel},
		{"disabled", "off", zerolog.Disabled},
		{"invalid falls back", "chatty", zerolog.InfoLevel},
		{"empty", "", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, logging.ParseLevel(tt.level))
		})
	}

	oldLevel := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(oldLevel) })

	logger := logging.NewLoggerFromConfig(&logging.Config{
		Level:  "warn",
		Format: "json",
		Output: "discard",
		Fields: map[string]any{"service": "beacon"},
	})
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}

func TestTestLoggerLines(t *testing.T) {
	testLogger := logging.NewTestLogger(t)
	testLogger.Info().Msg("one")
	testLogger.Info().Msg("two")

	lines := testLogger.Lines()
	assert.Len(t, lines, 2)
	assert.True(t, strings.Contains(lines[1], "two"))
	testLogger.AssertNotContains(t, "three")
}
