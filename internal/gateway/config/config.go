package config

import (
	"time"

	"relaychat.com/internal/gateway/auth"
	"relaychat.com/internal/gateway/bridge"
	"relaychat.com/internal/gateway/fanout"
	"relaychat.com/internal/gateway/ws"
	"relaychat.com/pkg/xredis"
)

// Fan-out drivers.
const (
	DriverRedis  = "redis"
	DriverNats   = "nats"
	DriverMemory = "memory"
)

// 总配置
type GatewayConfig struct {
	Name      string          `mapstructure:"name" yaml:"name"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Auth      auth.Options    `mapstructure:"auth" yaml:"auth"`
	Bridge    bridge.Config   `mapstructure:"bridge" yaml:"bridge"`
	Fanout    FanoutConfig    `mapstructure:"fanout" yaml:"fanout"`
	Redis     xredis.Config   `mapstructure:"redis" yaml:"redis"`
	Nats      NatsConfig      `mapstructure:"nats" yaml:"nats"`
	Keepalive KeepaliveConfig `mapstructure:"keepalive" yaml:"keepalive"`
	WS        WSConfig        `mapstructure:"ws" yaml:"ws"`
	Trace     TraceConfig     `mapstructure:"trace" yaml:"trace"`
	Etcd      EtcdConfig      `mapstructure:"etcd" yaml:"etcd"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// per ip handshakes per second on /ws, 0 disables
	UpgradeRate  float64 `mapstructure:"upgradeRate" yaml:"upgradeRate"`
	UpgradeBurst int     `mapstructure:"upgradeBurst" yaml:"upgradeBurst"`
}

type FanoutConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver"`
	Stream       string `mapstructure:"stream" yaml:"stream"`
	Batch        int    `mapstructure:"batch" yaml:"batch"`
	BlockMs      int    `mapstructure:"blockMs" yaml:"blockMs"`
	MaxLen       int64  `mapstructure:"maxLen" yaml:"maxLen"`
	RetryDelayMs int    `mapstructure:"retryDelayMs" yaml:"retryDelayMs"`
}

type NatsConfig struct {
	URL     string `mapstructure:"url" yaml:"url"`
	Subject string `mapstructure:"subject" yaml:"subject"`
}

type KeepaliveConfig struct {
	PeriodSec int `mapstructure:"periodSec" yaml:"periodSec"`
}

type WSConfig struct {
	ReadLimit    int64   `mapstructure:"readLimit" yaml:"readLimit"`
	SendBuffer   int     `mapstructure:"sendBuffer" yaml:"sendBuffer"`
	WriteWaitSec int     `mapstructure:"writeWaitSec" yaml:"writeWaitSec"`
	FrameRate    float64 `mapstructure:"frameRate" yaml:"frameRate"`
	FrameBurst   int     `mapstructure:"frameBurst" yaml:"frameBurst"`
}

type TraceConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
}

// etcd 配置; no endpoints means no node registration
type EtcdConfig struct {
	Endpoints         []string `mapstructure:"endpoints" yaml:"endpoints"`
	DialTimeoutSecond int      `mapstructure:"dialTimeoutSecond" yaml:"dialTimeoutSecond"`
	ServicePrefix     string   `mapstructure:"servicePrefix" yaml:"servicePrefix"`
	TTL               int64    `mapstructure:"ttl" yaml:"ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

func (c *GatewayConfig) Normalize() {
	if c.Name == "" {
		c.Name = "socket-gateway"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Auth.QueryParam == "" {
		c.Auth.QueryParam = "token"
	}
	if c.Fanout.Driver == "" {
		c.Fanout.Driver = DriverRedis
	}
	if c.Fanout.Stream == "" {
		c.Fanout.Stream = "fanout"
	}
	if c.Fanout.Batch <= 0 {
		c.Fanout.Batch = 100
	}
	if c.Fanout.BlockMs <= 0 {
		c.Fanout.BlockMs = 5000
	}
	if c.Fanout.RetryDelayMs <= 0 {
		c.Fanout.RetryDelayMs = 500
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Nats.Subject == "" {
		c.Nats.Subject = "relay.fanout"
	}
	if c.Keepalive.PeriodSec <= 0 {
		c.Keepalive.PeriodSec = 30
	}
	if c.WS.SendBuffer <= 0 {
		c.WS.SendBuffer = 256
	}
	if c.WS.ReadLimit <= 0 {
		c.WS.ReadLimit = 1 << 20
	}
	if c.WS.WriteWaitSec <= 0 {
		c.WS.WriteWaitSec = 10
	}
	if c.Etcd.DialTimeoutSecond <= 0 {
		c.Etcd.DialTimeoutSecond = 5
	}
	if c.Etcd.ServicePrefix == "" {
		c.Etcd.ServicePrefix = "/relaychat/gateways"
	}
	if c.Etcd.TTL <= 0 {
		c.Etcd.TTL = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *GatewayConfig) WSOptions() ws.Options {
	return ws.Options{
		ReadLimit:  c.WS.ReadLimit,
		SendBuffer: c.WS.SendBuffer,
		WriteWait:  time.Duration(c.WS.WriteWaitSec) * time.Second,
		FrameRate:  c.WS.FrameRate,
		FrameBurst: c.WS.FrameBurst,
	}
}

func (c *GatewayConfig) RedisStream() fanout.RedisConfig {
	return fanout.RedisConfig{
		Stream:  c.Fanout.Stream,
		Batch:   int64(c.Fanout.Batch),
		BlockMs: c.Fanout.BlockMs,
		MaxLen:  c.Fanout.MaxLen,
	}
}

func (c *GatewayConfig) NatsLog() fanout.NatsConfig {
	return fanout.NatsConfig{
		URL:     c.Nats.URL,
		Subject: c.Nats.Subject,
		Batch:   c.Fanout.Batch,
	}
}

func (c *GatewayConfig) KeepalivePeriod() time.Duration {
	return time.Duration(c.Keepalive.PeriodSec) * time.Second
}

func (c *GatewayConfig) RetryDelay() time.Duration {
	return time.Duration(c.Fanout.RetryDelayMs) * time.Millisecond
}
