package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("debug").String())
	assert.Equal(t, "WARN", ParseLevel("warn").String())
	assert.Equal(t, "ERROR", ParseLevel("error").String())
	assert.Equal(t, "INFO", ParseLevel("verbose").String())
	assert.Equal(t, "INFO", ParseLevel("").String())
}

func TestWithContext_ExtractsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Format: "json", Component: "engine"}, &buf)

	ctx := ContextWithRequest(context.Background(), "req-1", "tenant-a")
	ctx = ContextWithContextID(ctx, "ctx-42")
	l.WithContext(ctx).Info("processed")

	m := decodeLine(t, &buf)
	assert.Equal(t, "engine", m["component"])
	assert.Equal(t, "req-1", m["request_id"])
	assert.Equal(t, "tenant-a", m["tenant_id"])
	assert.Equal(t, "ctx-42", m["context_id"])
	assert.Equal(t, "req-1", RequestIDFrom(ctx))
}

func TestWithContext_EmptyContextReturnsSameLogger(t *testing.T) {
	l := NewWithWriter(Config{Component: "x"}, &bytes.Buffer{})
	assert.Same(t, l, l.WithContext(context.Background()))
}

func TestWithError_NilIsNoop(t *testing.T) {
	l := NewWithWriter(Config{}, &bytes.Buffer{})
	assert.Same(t, l, l.WithError(nil))
}

func TestChainedFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Format: "json", Component: "router"}, &buf)

	l.WithProvider("RULE_BASED").
		WithError(errors.New("boom")).
		WithDuration(1500 * time.Millisecond).
		Warn("provider failed")

	m := decodeLine(t, &buf)
	assert.Equal(t, "RULE_BASED", m["provider"])
	assert.Equal(t, "boom", m["error"])
	assert.EqualValues(t, 1500, m["duration_ms"])
	assert.Equal(t, "router", l.WithProvider("x").Component())
}

func TestProviderCallLog_LevelByOutcome(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Format: "json"}, &buf)

	l.ProviderCallLog("DIALOGUE", "bot-1", time.Second, errors.New("timeout"))
	m := decodeLine(t, &buf)
	assert.Equal(t, "WARN", m["level"])
	assert.Equal(t, "timeout", m["error"])

	// info 级别下成功调用（debug）不输出
	buf.Reset()
	l.ProviderCallLog("DIALOGUE", "bot-1", time.Second, nil)
	assert.Zero(t, buf.Len())
}
