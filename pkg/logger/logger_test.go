package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	buffer := &bytes.Buffer{}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.MessageKey = "msg"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(buffer), zap.DebugLevel)

	prev := Log
	Log = zap.New(core)
	t.Cleanup(func() { Log = prev })
	return buffer
}

func TestLogger_Info_WithTraceID(t *testing.T) {
	buffer := captureLog(t)

	ctx := context.WithValue(context.Background(), TraceIdKey, "test-trace-12345")
	Info(ctx, "frame forwarded", zap.Int("bytes", 42))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "frame forwarded", entry["msg"])
	assert.Equal(t, float64(42), entry["bytes"])
	assert.Equal(t, "test-trace-12345", entry["trace_id"])
}

func TestLogger_WithConn(t *testing.T) {
	buffer := captureLog(t)

	Warn(WithConn(context.Background(), "c-1", "u-1"), "bridge failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "c-1", entry["conn_id"])
	assert.Equal(t, "u-1", entry["user_id"])
}

func TestLogger_Error_NoTraceID(t *testing.T) {
	buffer := captureLog(t)

	Error(context.Background(), "redis read failed", zap.String("stream", "fanout"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry))
	_, exists := entry["trace_id"]
	assert.False(t, exists)
	_, exists = entry["conn_id"]
	assert.False(t, exists)
	assert.Equal(t, "error", entry["level"])
}

func TestLogger_NilContext(t *testing.T) {
	buffer := captureLog(t)

	//nolint:staticcheck // nil ctx is tolerated by the helpers
	Debug(nil, "no ctx")
	assert.Contains(t, buffer.String(), "no ctx")
}
