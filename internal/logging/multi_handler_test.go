package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingHandler struct {
	slog.Handler
	err   error
	calls int
}

func (h *failingHandler) Handle(context.Context, slog.Record) error {
	h.calls++
	return h.err
}

func TestMultiHandler_FanOut(t *testing.T) {
	var console, file bytes.Buffer
	h := NewMultiHandler(
		slog.NewTextHandler(&console, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&file, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(h).With("node", "n1")

	logger.Info("task started", "task", "n1:1")
	logger.Warn("task throttled", "task", "n1:1")

	assert.Contains(t, console.String(), "task started")
	assert.Contains(t, console.String(), "task throttled")
	assert.Contains(t, console.String(), "node=n1")
	assert.NotContains(t, file.String(), "task started")
	assert.Contains(t, file.String(), `"msg":"task throttled"`)
	assert.Contains(t, file.String(), `"node":"n1"`)
}

func TestMultiHandler_Enabled(t *testing.T) {
	h := NewMultiHandler(
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo}),
	)
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, NewMultiHandler().Enabled(context.Background(), slog.LevelError))
}

func TestMultiHandler_ErrorsDoNotStopOthers(t *testing.T) {
	var buf bytes.Buffer
	bad := &failingHandler{Handler: slog.NewTextHandler(&bytes.Buffer{}, nil), err: errors.New("disk full")}
	h := NewMultiHandler(bad, slog.NewTextHandler(&buf, nil))

	r := slog.NewRecord(time.Now(), slog.LevelError, "flush failed", 0)
	err := h.Handle(context.Background(), r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, bad.calls)
	assert.Contains(t, buf.String(), "flush failed")
}
