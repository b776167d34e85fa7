package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"relaychat.com/pkg/logger"
)

// GoCtx runs fn in a goroutine and logs instead of crashing on panic. The
// context's correlation ids end up in the panic log.
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer Recover(ctx, "goroutine")
		fn(ctx)
	}()
}

// Recover must be deferred directly. where names the loop for the log line.
func Recover(ctx context.Context, where string) {
	if r := recover(); r != nil {
		logger.Error(ctx, "panic recovered",
			zap.String("where", where),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}
