package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"relaychat.com/pkg/metrics"
	"relaychat.com/pkg/xerr"
)

type Rule struct {
	// probes allowed through while half-open (0 is treated as 1 by gobreaker)
	MaxRequests uint32 `mapstructure:"maxRequests"`

	// closed-state counting window
	Interval time.Duration `mapstructure:"interval"`

	// rolling window bucket; <=0 means a fixed window
	BucketPeriod time.Duration `mapstructure:"bucketPeriod"`

	// how long the breaker stays open before going half-open
	Timeout time.Duration `mapstructure:"timeout"`

	TripConsecutiveFailures uint32  `mapstructure:"tripConsecutiveFailures"`
	TripFailureRate         float64 `mapstructure:"tripFailureRate"` // 0~1
	TripMinRequests         uint32  `mapstructure:"tripMinRequests"`
}

// Manager lazily builds one breaker per name (an upstream endpoint).
type Manager struct {
	mu sync.RWMutex
	m  map[string]*gobreaker.CircuitBreaker[[]byte]

	defaultRule Rule
	rules       map[string]Rule
}

func NewManager(defaultRule Rule, perName map[string]Rule) *Manager {
	if defaultRule.MaxRequests == 0 {
		defaultRule.MaxRequests = 5
	}
	if defaultRule.Timeout <= 0 {
		defaultRule.Timeout = 3 * time.Second
	}
	if defaultRule.Interval <= 0 {
		defaultRule.Interval = 10 * time.Second
	}
	if defaultRule.TripConsecutiveFailures == 0 && defaultRule.TripFailureRate == 0 {
		defaultRule.TripConsecutiveFailures = 10
	}
	if defaultRule.TripMinRequests == 0 {
		defaultRule.TripMinRequests = 20
	}

	return &Manager{
		m:           make(map[string]*gobreaker.CircuitBreaker[[]byte], 8),
		defaultRule: defaultRule,
		rules:       perName,
	}
}

func (m *Manager) Get(name string) *gobreaker.CircuitBreaker[[]byte] {
	m.mu.RLock()
	cb := m.m[name]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb = m.m[name]; cb != nil {
		return cb
	}

	rule, ok := m.rules[name]
	if !ok {
		rule = m.defaultRule
	}
	st := gobreaker.Settings{
		Name:         name,
		MaxRequests:  rule.MaxRequests,
		Interval:     rule.Interval,
		BucketPeriod: rule.BucketPeriod,
		Timeout:      rule.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				return float64(c.TotalFailures)/float64(c.Requests) >= rule.TripFailureRate
			}
			return false
		},
		IsSuccessful: isSuccessfulForBreaker,
		OnStateChange: func(name string, _, to gobreaker.State) {
			metrics.CBState.WithLabelValues(name).Set(stateValue(to))
		},
	}

	cb = gobreaker.NewCircuitBreaker[[]byte](st)
	m.m[name] = cb
	return cb
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// IsOpen reports whether err came from a breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// 4xx answers and caller cancellation say nothing about upstream health.
func isSuccessfulForBreaker(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	code := xerr.Code(err)
	return code >= 400 && code < 500
}
