package reconnect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"relaychat.com/internal/client/command"
	"relaychat.com/pkg/logger"
	"relaychat.com/pkg/safe"
)

// Keepalive frames exchanged with the gateway.
const (
	pingFrame = "ping"
	pongFrame = "pong"
)

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second
	readLimit    = 1 << 20
)

var ErrNotOpen = errors.New("reconnect: transport not open")

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateWaiting
	StateClosed // terminal: attempts exhausted or Close called
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateWaiting:
		return "waiting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Option func(*Controller)

func WithBackoff(b Backoff) Option {
	return func(c *Controller) { c.backoff = b.normalize() }
}

// WithStateHook observes transitions. It runs under the controller lock and
// must not call back into the controller.
func WithStateHook(fn func(State)) Option {
	return func(c *Controller) { c.hook = fn }
}

func WithDialOptions(o *websocket.DialOptions) Option {
	return func(c *Controller) { c.dialOpts = o }
}

// Controller owns the one logical socket of a client. A transport error is
// handled like a close: the socket is dropped and the backoff schedule runs.
type Controller struct {
	url      string
	backoff  Backoff
	dialOpts *websocket.DialOptions
	hook     func(State)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	gen      uint64 // bumped per transport; stale events carry an old gen
	conn     *websocket.Conn
	handlers *command.Handlers
	room     string
	interval time.Duration
	attempts int
	timer    *time.Timer
}

func New(ctx context.Context, url string, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		url:     url,
		backoff: DefaultBackoff(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(c)
	}
	c.interval = c.backoff.Initial
	return c
}

// Connect opens the transport with h as the dispatch table. While connecting
// or open it only swaps the table.
func (c *Controller) Connect(h *command.Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h != nil {
		c.handlers = h
	}
	if c.ctx.Err() != nil {
		return
	}
	if c.state == StateConnecting || c.state == StateOpen {
		return
	}
	c.stopTimerLocked()
	c.dialLocked()
}

// SetHandlers replaces the dispatch table without touching the transport.
func (c *Controller) SetHandlers(h *command.Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

// SelectRoom sets the room re-entered on every open; "" means none.
func (c *Controller) SelectRoom(roomID string) {
	c.mu.Lock()
	c.room = roomID
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts is the number of closes since the last successful open.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Interval is the wait scheduled by the last close.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Send writes one text frame on the open transport.
func (c *Controller) Send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	conn, gen := c.conn, c.gen
	c.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	if err := c.write(ctx, conn, frame); err != nil {
		c.transportDown(gen, conn, err)
		return err
	}
	return nil
}

// Close stops for good: no timer survives and the transport is closed
// normally.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.stopTimerLocked()
	conn := c.conn
	c.conn = nil
	c.gen++
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "bye")
	}
	return nil
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.hook != nil {
		c.hook(s)
	}
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) dialLocked() {
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnecting)
	safe.GoCtx(c.ctx, func(ctx context.Context) { c.dial(ctx, gen) })
}

func (c *Controller) dial(ctx context.Context, gen uint64) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dctx, c.url, c.dialOpts)
	cancel()
	if err != nil {
		logger.Warn(ctx, "ws dial failed", zap.String("url", c.url), zap.Error(err))
		c.transportDown(gen, nil, err)
		return
	}
	conn.SetReadLimit(readLimit)
	c.opened(ctx, gen, conn)
}

func (c *Controller) opened(ctx context.Context, gen uint64, conn *websocket.Conn) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return
	}
	c.stopTimerLocked()
	c.attempts = 0
	c.interval = c.backoff.Initial
	c.conn = conn
	c.setStateLocked(StateOpen)
	boot := command.RoomsList()
	if c.room != "" {
		boot = command.EnterRoom(c.room)
	}
	c.mu.Unlock()

	logger.Info(ctx, "ws connected", zap.String("url", c.url))
	safe.GoCtx(ctx, func(ctx context.Context) { c.readLoop(ctx, gen, conn) })

	if err := c.write(ctx, conn, boot); err != nil {
		c.transportDown(gen, conn, err)
	}
}

func (c *Controller) readLoop(ctx context.Context, gen uint64, conn *websocket.Conn) {
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			c.transportDown(gen, conn, err)
			return
		}
		if string(frame) == pingFrame {
			if err := c.write(ctx, conn, []byte(pongFrame)); err != nil {
				c.transportDown(gen, conn, err)
				return
			}
			continue
		}
		c.dispatch(ctx, frame)
	}
}

func (c *Controller) dispatch(ctx context.Context, frame []byte) {
	cmd, err := command.Parse(frame)
	if err != nil {
		logger.Warn(ctx, "ws frame dropped", zap.Int("bytes", len(frame)), zap.Error(err))
		return
	}
	c.mu.Lock()
	h := c.handlers
	c.mu.Unlock()

	defer safe.Recover(ctx, "command handler")
	if err := h.Dispatch(cmd); err != nil {
		logger.Warn(ctx, "ws command dropped", zap.String("type", string(cmd.Type)), zap.Error(err))
	}
}

func (c *Controller) write(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, frame)
}

// transportDown handles close and error alike, once per transport.
func (c *Controller) transportDown(gen uint64, conn *websocket.Conn, cause error) {
	if conn != nil {
		_ = conn.CloseNow()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || (c.state != StateConnecting && c.state != StateOpen) {
		return
	}
	c.conn = nil
	c.stopTimerLocked()

	c.interval = c.backoff.Next(c.interval, c.attempts)
	c.attempts++
	if c.backoff.Exhausted(c.attempts) {
		logger.Warn(c.ctx, "ws reconnect attempts exhausted",
			zap.Int("attempts", c.attempts), zap.Error(cause))
		c.setStateLocked(StateClosed)
		return
	}

	logger.Info(c.ctx, "ws closed, reconnect scheduled",
		zap.Int("attempt", c.attempts), zap.Duration("in", c.interval),
		zap.String("status", websocket.CloseStatus(cause).String()), zap.Error(cause))
	c.setStateLocked(StateWaiting)
	c.timer = time.AfterFunc(c.interval, func() { c.fire(gen) })
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != StateWaiting || c.ctx.Err() != nil {
		return
	}
	c.timer = nil
	c.dialLocked()
}
