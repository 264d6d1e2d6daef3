package ctxlogger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHandlerAddsAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(ContextHandler{Handler: slog.NewJSONHandler(&buf, nil)})

	ctx := AppendCtx(context.Background(), slog.String("request_id", "r-1"))
	child := AppendCtx(ctx, slog.String("message_type", "SYNC_REQUEST"))

	logger.InfoContext(child, "handled")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "r-1", line["request_id"])
	assert.Equal(t, "SYNC_REQUEST", line["message_type"])

	buf.Reset()
	logger.With("session_id", "s").InfoContext(ctx, "parent")
	line = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "s", line["session_id"])
	_, hasType := line["message_type"]
	assert.False(t, hasType, "child attrs must not leak into parent context")
}
