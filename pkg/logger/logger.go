package logger

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Context keys the gateway stores correlation values under.
const (
	TraceIdKey = "trace_id"
	ConnIdKey  = "conn_id"
	UserIdKey  = "user_id"
)

// Log is the process-wide logger. It is a no-op until Init runs so that
// packages can log from tests without setup.
var Log = zap.NewNop()

// Init builds the logger for serviceName. level is one of debug/info/warn/error;
// logFile "" means logs/{serviceName}.log, "-" means stdout only.
func Init(serviceName string, level string) {
	InitWithFile(serviceName, level, "")
}

func InitWithFile(serviceName string, level string, logFile string) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	writeSyncers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if logFile != "-" {
		if logFile == "" {
			logFile = filepath.Join("logs", serviceName+".log")
		}
		// a missing log dir only costs us the file sink
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err == nil {
			if file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
				writeSyncers = append(writeSyncers, zapcore.AddSync(file))
			}
		}
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(writeSyncers...),
		zapLevel,
	)

	// CallerSkip 1: the helpers below wrap zap.
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("service", serviceName))
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Info(msg, withContext(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Error(msg, withContext(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Warn(msg, withContext(ctx, fields)...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Debug(msg, withContext(ctx, fields)...)
}

// Fatal logs and exits the process.
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Fatal(msg, withContext(ctx, fields)...)
}

// WithConn returns ctx tagged with a connection and its user so every log
// line written for that connection carries both ids.
func WithConn(ctx context.Context, connID, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ConnIdKey, connID)
	if userID != "" {
		ctx = context.WithValue(ctx, UserIdKey, userID)
	}
	return ctx
}

func withContext(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	for _, key := range []string{TraceIdKey, ConnIdKey, UserIdKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(key, v))
		}
	}
	return fields
}

// Sync flushes buffered entries; call it from main with defer.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
