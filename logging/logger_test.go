package logging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-optimistic-kit/errors"
)

func TestLogger(t *testing.T) {
	configs := []Config{
		{Level: "debug", Format: "text", Environment: EnvDevelopment, AddSource: true},
		{Level: "info", Format: "json", Environment: EnvProduction, AddSource: false},
	}

	for _, config := range configs {
		t.Run("Environment_"+config.Environment, func(t *testing.T) {
			var buf bytes.Buffer
			config.Output = &buf
			logger := NewLogger(config)

			logger.Info("Info message", slog.Int("count", 42))

			testErr := errors.NewRemoteError(errors.OpMutate, fmt.Errorf("network error"))
			logger.LogError(context.Background(), testErr, "Operation failed")

			childLogger := logger.WithComponent(Component("engine"))
			childLogger.Info("Child logger message")

			err := logger.LogOperation(
				context.Background(),
				Operation("mutate"),
				Component("engine"),
				func() error {
					time.Sleep(time.Millisecond)
					return nil
				},
			)
			require.NoError(t, err)

			out := buf.String()
			assert.Contains(t, out, "Info message")
			assert.Contains(t, out, "REMOTE_FAILURE")
			assert.Contains(t, out, "engine")
		})
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Format: "text", Output: &buf})

	logger.Debug("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	require.True(t, logger.SetLevel("debug"))
	logger.Debug("visible")
	assert.Contains(t, buf.String(), "visible")

	assert.False(t, logger.SetLevel("loud"))
	assert.Equal(t, slog.LevelDebug, logger.Level())

	// children share the level
	child := logger.WithComponent("detector")
	require.True(t, logger.SetLevel("error"))
	child.Info("suppressed")
	assert.NotContains(t, buf.String(), "suppressed")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"trace", LevelTrace, true},
		{"DEBUG", slog.LevelDebug, true},
		{"", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("LOG_ADD_SOURCE", "true")

	cfg := ApplyEnv(DefaultConfig)
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, EnvTest, cfg.Environment)
	assert.True(t, cfg.AddSource)
}

func TestMutationErrorValuer(t *testing.T) {
	mutErr := &errors.MutationError{
		Op:        errors.OpRetry,
		Component: "engine",
		Code:      errors.ErrCodePreconditionFailed,
		Kind:      errors.KindPrecondition,
		Err:       fmt.Errorf("max retries reached"),
		Metadata: map[string]interface{}{
			"retry_count": 2,
		},
	}

	logValue := MutationErrorValuer{MutationError: mutErr}.LogValue()
	require.Equal(t, slog.KindGroup, logValue.Kind())

	var keys []string
	for _, a := range logValue.Group() {
		keys = append(keys, a.Key)
	}
	assert.Contains(t, strings.Join(keys, ","), "metadata")
}

func BenchmarkLogger(b *testing.B) {
	logger := Discard()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.InfoContext(ctx, "Benchmark message",
			slog.String("operation", "benchmark"),
			slog.Int("iteration", i),
		)
	}
}
