package fanout

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"relaychat.com/internal/gateway/registry"
	"relaychat.com/internal/gateway/wsmetrics"
	"relaychat.com/pkg/logger"
)

const defaultRetryDelay = 500 * time.Millisecond

// Consumer tails the shared log and pushes each entry to the target user's
// connections on this process. Entries for users connected elsewhere are
// dropped silently; another process's consumer owns them.
type Consumer struct {
	log        Log
	reg        *registry.Registry
	retryDelay time.Duration

	cursor atomic.Value // string
}

type ConsumerOption func(*Consumer)

// WithRetryDelay sets the pause after a failed read before the same cursor
// is tried again.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.retryDelay = d }
}

func NewConsumer(l Log, reg *registry.Registry, opts ...ConsumerOption) *Consumer {
	c := &Consumer{log: l, reg: reg, retryDelay: defaultRetryDelay}
	for _, o := range opts {
		o(c)
	}
	c.cursor.Store(NewOnly)
	return c
}

// Cursor is the id of the last processed entry. It is NewOnly only until Run
// has resolved the log's tail.
func (c *Consumer) Cursor() string {
	return c.cursor.Load().(string)
}

// Run loops until ctx is cancelled. Read failures never end it.
func (c *Consumer) Run(ctx context.Context) error {
	if !c.resolveStart(ctx) {
		return nil
	}
	logger.Info(ctx, "fanout consumer started", zap.String("cursor", c.Cursor()))
	for {
		if ctx.Err() != nil {
			return nil
		}
		cursor := c.Cursor()
		entries, err := c.log.Read(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrClosed) {
				logger.Warn(ctx, "fanout log closed, consumer stopping")
				return nil
			}
			wsmetrics.FanoutReadErrorsTotal.Inc()
			logger.Warn(ctx, "fanout read failed, retrying", zap.String("cursor", cursor), zap.Error(err))
			if !sleepCtx(ctx, c.retryDelay) {
				return nil
			}
			continue
		}

		for _, e := range entries {
			c.deliver(ctx, e)
			c.cursor.Store(e.ID)
		}
	}
}

// resolveStart pins NewOnly to the current tail. Re-sending NewOnly after an
// idle or failed read would skip whatever was appended in between.
func (c *Consumer) resolveStart(ctx context.Context) bool {
	for c.Cursor() == NewOnly {
		id, err := c.log.Tail(ctx)
		if err == nil {
			c.cursor.Store(id)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if errors.Is(err, ErrClosed) {
			logger.Warn(ctx, "fanout log closed, consumer stopping")
			return false
		}
		wsmetrics.FanoutReadErrorsTotal.Inc()
		logger.Warn(ctx, "fanout tail lookup failed, retrying", zap.Error(err))
		if !sleepCtx(ctx, c.retryDelay) {
			return false
		}
	}
	return true
}

func (c *Consumer) deliver(ctx context.Context, e Entry) {
	if e.User == "" || !json.Valid(e.Payload) {
		wsmetrics.FanoutEntriesTotal.WithLabelValues("parse_error").Inc()
		logger.Warn(ctx, "fanout entry skipped: unparsable",
			zap.String("entry_id", e.ID), zap.String("user", e.User), zap.Int("payload_bytes", len(e.Payload)))
		return
	}

	conns := c.reg.ConnectionsFor(e.User)
	if len(conns) == 0 {
		wsmetrics.FanoutEntriesTotal.WithLabelValues("no_local_conn").Inc()
		return
	}
	wsmetrics.FanoutEntriesTotal.WithLabelValues("delivered").Inc()
	for _, conn := range conns {
		if conn.Send(e.Payload) {
			wsmetrics.FanoutPushTotal.Inc()
		}
	}
	logger.Debug(ctx, "fanout entry delivered",
		zap.String("entry_id", e.ID), zap.String("user", e.User), zap.Int("conns", len(conns)))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
