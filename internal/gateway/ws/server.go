package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"relaychat.com/internal/gateway/auth"
	"relaychat.com/internal/gateway/registry"
	"relaychat.com/internal/gateway/wsmetrics"
	"relaychat.com/pkg/logger"
	"relaychat.com/pkg/metrics"
	"relaychat.com/pkg/ratelimit"
	"relaychat.com/pkg/safe"
)

// Keepalive text frames. They are never forwarded.
const (
	PingFrame = "ping"
	PongFrame = "pong"
)

// BootstrapFrame is forwarded on behalf of every new connection.
var BootstrapFrame = []byte(`{"type":"connection:established"}`)

// Authenticator resolves the user of an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Forwarder relays one client frame to the business tier.
type Forwarder interface {
	Forward(ctx context.Context, frame []byte, userID, connID string) ([]byte, error)
}

type Options struct {
	ReadLimit  int64         `mapstructure:"readLimit"`
	SendBuffer int           `mapstructure:"sendBuffer"`
	WriteWait  time.Duration `mapstructure:"writeWait"`
	FrameRate  float64       `mapstructure:"frameRate"` // frames/s per connection, 0 disables
	FrameBurst int           `mapstructure:"frameBurst"`
}

func (o *Options) normalize() {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.FrameRate > 0 && o.FrameBurst <= 0 {
		o.FrameBurst = int(o.FrameRate) + 1
	}
}

type Server struct {
	ctx      context.Context
	reg      *registry.Registry
	auth     Authenticator
	bridge   Forwarder
	opts     Options
	Upgrader websocket.Upgrader

	throttle *ratelimit.Store
	wg       sync.WaitGroup
}

func NewServer(ctx context.Context, reg *registry.Registry, a Authenticator, b Forwarder, opts Options) *Server {
	opts.normalize()
	s := &Server{
		ctx:    ctx,
		reg:    reg,
		auth:   a,
		bridge: b,
		opts:   opts,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// browsers connect from the app origin; tokens carry the trust
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if opts.FrameRate > 0 {
		// a connection's limiter lives until it closes, the janitor is a backstop
		s.throttle = ratelimit.NewStore(rate.Limit(opts.FrameRate), opts.FrameBurst, 10*time.Minute)
		s.throttle.StartJanitor(ctx, time.Minute)
	}
	return s
}

// ServeWS upgrades, authenticates and registers one connection. A request
// without a valid token gets its socket closed before anything is sent.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsmetrics.OnReject("upgrade")
		logger.Warn(r.Context(), "ws upgrade failed", zap.Error(err))
		return
	}

	userID, err := s.auth.Authenticate(r)
	if err != nil {
		reason := "invalid_token"
		if errors.Is(err, auth.ErrMissingToken) {
			reason = "missing_token"
		}
		wsmetrics.OnReject(reason)
		logger.Warn(r.Context(), "ws handshake rejected",
			zap.String("reason", reason), zap.String("remote", r.RemoteAddr), zap.Error(err))
		_ = wsConn.Close()
		return
	}

	c := newConn(uuid.NewString(), userID, wsConn, s.opts.SendBuffer)
	s.reg.Insert(c.id, c.userID, c)
	wsmetrics.OnOpen()

	ctx := logger.WithConn(s.ctx, c.id, c.userID)
	logger.Info(ctx, "ws connection registered", zap.String("remote", r.RemoteAddr))

	s.wg.Add(2)
	safe.GoCtx(ctx, func(ctx context.Context) {
		defer s.wg.Done()
		s.writePump(ctx, c)
	})
	safe.GoCtx(ctx, func(ctx context.Context) {
		defer s.wg.Done()
		s.readPump(ctx, c)
	})
}

func (s *Server) readPump(ctx context.Context, c *Conn) {
	reason := "client"
	defer func() {
		s.reg.Remove(c.id, c.userID)
		c.close()
		if s.throttle != nil {
			s.throttle.Forget(c.id)
		}
		wsmetrics.OnClose(reason)
		logger.Info(ctx, "ws connection closed", zap.String("reason", reason))
	}()

	c.ws.SetReadLimit(s.opts.ReadLimit)

	// first contact for the business tier, before any client frame
	s.forward(ctx, c, BootstrapFrame)

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case c.closed():
				reason = "server"
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				reason = "client"
			default:
				reason = "read_error"
				logger.Debug(ctx, "ws read ended", zap.Error(err))
			}
			return
		}

		if string(frame) == PongFrame {
			wsmetrics.PongRecvTotal.Inc()
			continue
		}
		wsmetrics.FramesInTotal.Inc()
		if s.throttle != nil && !s.throttle.Allow(c.id) {
			wsmetrics.FramesThrottledTotal.Inc()
			metrics.RateLimitBlockTotal.WithLabelValues("ws_frame").Inc()
			logger.Warn(ctx, "ws frame throttled", zap.Int("bytes", len(frame)))
			continue
		}
		s.forward(ctx, c, frame)
	}
}

// forward never fails the connection: errors are logged and the frame gets
// no reply.
func (s *Server) forward(ctx context.Context, c *Conn, frame []byte) {
	reply, err := s.bridge.Forward(ctx, frame, c.userID, c.id)
	if err != nil {
		logger.Error(ctx, "bridge forward failed", zap.Int("bytes", len(frame)), zap.Error(err))
		return
	}
	if len(reply) == 0 {
		return
	}
	c.enqueue(reply, "reply")
}

func (s *Server) writePump(ctx context.Context, c *Conn) {
	defer c.close()
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				wsmetrics.WriteErrorsTotal.Inc()
				logger.Debug(ctx, "ws write failed", zap.Error(err))
				return
			}
		case <-c.done:
			return
		}
	}
}

// Broadcast queues frame on every registered connection of this process.
func (s *Server) Broadcast(frame []byte, kind string) int {
	n := 0
	for _, rc := range s.reg.All() {
		c, ok := rc.(*Conn)
		if !ok {
			if rc.Send(frame) {
				n++
			}
			continue
		}
		if c.enqueue(frame, kind) {
			n++
		}
	}
	return n
}

// Shutdown closes every connection with a going-away frame and waits for
// their pumps to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rc := range s.reg.All() {
		if c, ok := rc.(*Conn); ok {
			c.closeWith(websocket.CloseGoingAway, "server shutdown", s.opts.WriteWait)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
