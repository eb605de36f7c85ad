package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithSessionAttachesKey(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json", slog.LevelDebug)

	WithSession(l, "sess-42").Info("hello", "n", 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sess-42", entry["session_key"])
	assert.Equal(t, "hello", entry["msg"])
}

func TestWithSessionPassesThroughNonSlog(t *testing.T) {
	l := WithSession(NoOp{}, "sess")
	assert.Equal(t, NoOp{}, l)
}
