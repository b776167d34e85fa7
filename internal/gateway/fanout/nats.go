package fanout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"relaychat.com/internal/gateway/wsmetrics"
	"relaychat.com/pkg/logger"
)

type NatsConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Batch   int    `mapstructure:"batch"`
	Buffer  int    `mapstructure:"buffer"`
}

// NatsLog carries entries as core NATS messages on <subject>.<user>. Core
// NATS keeps no history, so the subscription itself is the "new-only" start
// and cursors handed to Read are only echoed back as synthetic ids.
type NatsLog struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	prefix string
	batch  int
	ch     chan Entry
	seq    atomic.Uint64
	done   chan struct{}
	closed atomic.Bool
}

func NewNatsLog(cfg NatsConfig, opts ...nats.Option) (*NatsLog, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "relay.fanout"
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 8192
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}

	l := &NatsLog{
		nc:     nc,
		prefix: cfg.Subject + ".",
		batch:  cfg.Batch,
		ch:     make(chan Entry, cfg.Buffer),
		done:   make(chan struct{}),
	}
	l.sub, err = nc.Subscribe(cfg.Subject+".>", l.receive)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats subscribe %s: %w", cfg.Subject, err)
	}
	return l, nil
}

// receive runs on the subscription's goroutine and must not stall it. With
// the buffer full the entry is lost, counted and logged.
func (l *NatsLog) receive(m *nats.Msg) {
	e := Entry{
		ID:      strconv.FormatUint(l.seq.Add(1), 10),
		User:    strings.TrimPrefix(m.Subject, l.prefix),
		Payload: m.Data,
	}
	select {
	case l.ch <- e:
	default:
		wsmetrics.FanoutEntriesTotal.WithLabelValues("overflow").Inc()
		logger.Warn(context.Background(), "fanout nats buffer full, entry dropped",
			zap.String("entry_id", e.ID), zap.String("user", e.User), zap.Int("buffer", cap(l.ch)))
	}
}

// Tail is the last sequence handed out; Read ignores cursors, the
// subscription buffer is the position.
func (l *NatsLog) Tail(_ context.Context) (string, error) {
	if l.closed.Load() {
		return "", ErrClosed
	}
	return strconv.FormatUint(l.seq.Load(), 10), nil
}

func (l *NatsLog) Read(ctx context.Context, _ string) ([]Entry, error) {
	var first Entry
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrClosed
	case first = <-l.ch:
	}

	out := []Entry{first}
	for len(out) < l.batch {
		select {
		case e := <-l.ch:
			out = append(out, e)
		default:
			return out, nil
		}
	}
	return out, nil
}

func (l *NatsLog) Append(_ context.Context, user string, payload []byte) (string, error) {
	if err := l.nc.Publish(l.prefix+user, payload); err != nil {
		return "", fmt.Errorf("nats publish: %w", err)
	}
	if err := l.nc.Flush(); err != nil {
		return "", fmt.Errorf("nats flush: %w", err)
	}
	return "", nil
}

func (l *NatsLog) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(l.done)
	if l.sub != nil {
		_ = l.sub.Unsubscribe()
	}
	if l.nc != nil {
		l.nc.Close()
	}
	return nil
}
