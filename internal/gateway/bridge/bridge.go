package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"relaychat.com/internal/gateway/wsmetrics"
	"relaychat.com/pkg/metrics"
	"relaychat.com/pkg/ratelimit"
	"relaychat.com/pkg/xerr"
)

// Identity headers attached to every forwarded frame.
const (
	HeaderUserID    = "X-User-Id"
	HeaderConnID    = "X-Connection-Id"
	HeaderRequestID = "X-Request-Id"
)

// largest reply relayed to a client; anything bigger is rejected whole
const maxReplyBytes = 4 << 20

var (
	ErrBreakerOpen   = errors.New("bridge: circuit open")
	ErrReplyTooLarge = errors.New("bridge: reply too large")
)

type Config struct {
	Endpoint  string        `mapstructure:"endpoint"`
	TimeoutMs int           `mapstructure:"timeoutMs"` // 0: no client-side timeout
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Rule    ratelimit.Rule `mapstructure:"rule"`
}

// Bridge relays one raw client frame to the business tier and hands back the
// reply body. It never retries: a failed frame is the caller's to log.
type Bridge struct {
	endpoint string
	client   *http.Client
	breakers *ratelimit.Manager
	tracer   trace.Tracer
}

func New(cfg Config, client *http.Client) (*Bridge, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("bridge: empty endpoint")
	}
	if client == nil {
		client = &http.Client{}
	}
	if cfg.TimeoutMs > 0 {
		c := *client
		c.Timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
		client = &c
	}
	b := &Bridge{
		endpoint: cfg.Endpoint,
		client:   client,
		tracer:   otel.Tracer("relaychat/bridge"),
	}
	if cfg.Breaker.Enabled {
		b.breakers = ratelimit.NewManager(cfg.Breaker.Rule, nil)
	}
	return b, nil
}

// Forward POSTs frame with the caller's identity. A nil reply with a nil
// error means the business tier had nothing to say back.
func (b *Bridge) Forward(ctx context.Context, frame []byte, userID, connID string) ([]byte, error) {
	start := time.Now()
	ctx, span := b.tracer.Start(ctx, "bridge.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.String("conn_id", connID),
			attribute.Int("frame_bytes", len(frame)),
		))
	defer span.End()

	var (
		reply []byte
		err   error
	)
	if b.breakers != nil {
		reply, err = b.breakers.Get(b.endpoint).Execute(func() ([]byte, error) {
			return b.do(ctx, frame, userID, connID)
		})
		if ratelimit.IsOpen(err) {
			metrics.CBRejectTotal.WithLabelValues("bridge").Inc()
			err = fmt.Errorf("%w: %v", ErrBreakerOpen, xerr.NewErrCode(xerr.Unavailable))
		}
	} else {
		reply, err = b.do(ctx, frame, userID, connID)
	}

	wsmetrics.ObserveBridge(time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(reply) == 0 {
		return nil, nil
	}
	return reply, nil
}

func (b *Bridge) do(ctx context.Context, frame []byte, userID, connID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("bridge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set(HeaderUserID, userID)
	req.Header.Set(HeaderConnID, connID)
	req.Header.Set(HeaderRequestID, uuid.NewString())
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge: post %s: %w", b.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("bridge: read reply: %w", err)
	}
	if len(body) > maxReplyBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrReplyTooLarge, maxReplyBytes)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(body)
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, fmt.Errorf("bridge: upstream status %d: %w", resp.StatusCode, xerr.New(resp.StatusCode, msg))
	}
	return body, nil
}
