package ws

import (
	"context"
	"time"

	"go.uber.org/zap"
	"relaychat.com/internal/gateway/wsmetrics"
	"relaychat.com/pkg/logger"
)

const DefaultKeepalivePeriod = 30 * time.Second

// RunKeepalive sends the "ping" text frame to every registered connection on
// each tick until ctx ends. Connections that never answer are left to the
// transport to reap.
func (s *Server) RunKeepalive(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = DefaultKeepalivePeriod
	}
	t := time.NewTicker(period)
	defer t.Stop()

	ping := []byte(PingFrame)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n := s.Broadcast(ping, "ping")
			wsmetrics.PingSentTotal.Add(float64(n))
			logger.Debug(ctx, "keepalive broadcast", zap.Int("conns", n))
		}
	}
}
