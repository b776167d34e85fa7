package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"relaychat.com/internal/gateway/auth"
	"relaychat.com/internal/gateway/bridge"
	gwConfig "relaychat.com/internal/gateway/config"
	"relaychat.com/internal/gateway/fanout"
	ghttp "relaychat.com/internal/gateway/http"
	"relaychat.com/internal/gateway/registry"
	"relaychat.com/internal/gateway/ws"
	vipConfig "relaychat.com/pkg/config"
	"relaychat.com/pkg/logger"
	"relaychat.com/pkg/metrics"
	"relaychat.com/pkg/ratelimit"
	"relaychat.com/pkg/register"
	"relaychat.com/pkg/register/etcd"
	"relaychat.com/pkg/safe"
	"relaychat.com/pkg/trace"
	"relaychat.com/pkg/xredis"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	cfg *gwConfig.GatewayConfig

	reg      *registry.Registry
	rdb      *redis.Client
	log      fanout.Log
	consumer *fanout.Consumer
	ws       *ws.Server
	srv      *http.Server

	etcdClient *clientv3.Client
	register   register.Register
	instance   *register.Instance

	traceShutdown func(context.Context) error

	ready chan struct{}
	addr  string
}

// New loads config/{configName}.yaml with env overrides and hot reload.
func New(configName string) (*App, error) {
	if configName == "" {
		configName = "socket-gateway"
	}
	cfg := &gwConfig.GatewayConfig{}
	if _, err := vipConfig.LoadAndWatch(configName, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", configName, err)
	}
	return NewWithConfig(cfg), nil
}

func NewWithConfig(cfg *gwConfig.GatewayConfig) *App {
	cfg.Normalize()
	return &App{
		cfg:   cfg,
		reg:   registry.New(),
		ready: make(chan struct{}),
	}
}

// Registry exposes the process registry, for tooling and tests.
func (a *App) Registry() *registry.Registry { return a.reg }

// Ready is closed once the HTTP listener is bound.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr is the bound listen address; valid after Ready.
func (a *App) Addr() string { return a.addr }

// Log is the fan-out log in use; valid after Ready.
func (a *App) Log() fanout.Log { return a.log }

// Run starts every loop and blocks until ctx ends or one of them fails, then
// shuts everything down.
func (a *App) Run(ctx context.Context) error {
	logger.InitWithFile(a.cfg.Name, a.cfg.Log.Level, a.cfg.Log.File)
	defer a.cleanup()

	if err := a.startTrace(); err != nil {
		return err
	}
	if err := a.startFanout(ctx); err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(a.cfg.Auth)
	if err != nil {
		return err
	}
	br, err := bridge.New(a.cfg.Bridge, nil)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	a.ws = ws.NewServer(gctx, a.reg, verifier, br, a.cfg.WSOptions())
	a.consumer = fanout.NewConsumer(a.log, a.reg, fanout.WithRetryDelay(a.cfg.RetryDelay()))

	var upgradeLimit *ratelimit.Store
	if a.cfg.HTTP.UpgradeRate > 0 {
		upgradeLimit = ratelimit.NewStore(rate.Limit(a.cfg.HTTP.UpgradeRate), a.cfg.HTTP.UpgradeBurst, 10*time.Minute)
		upgradeLimit.StartJanitor(gctx, time.Minute)
	}

	deps := ghttp.Deps{
		Name:         a.cfg.Name,
		WS:           a.ws,
		Registry:     a.reg,
		Cursor:       a.consumer.Cursor,
		UpgradeLimit: upgradeLimit,
	}

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.addr = ln.Addr().String()
	close(a.ready)
	logger.Info(ctx, "socket gateway listening",
		zap.String("addr", a.addr), zap.String("fanout", a.cfg.Fanout.Driver))

	if err := a.startRegister(ctx); err != nil {
		// discovery is optional: the gateway still serves without it
		logger.Error(ctx, "etcd register failed", zap.Error(err))
	}
	if a.etcdClient != nil {
		deps.Nodes = func(ctx context.Context) ([]register.Instance, error) {
			return etcd.Discovery(ctx, a.etcdClient, a.cfg.Etcd.ServicePrefix, a.cfg.Name)
		}
	}
	a.srv = ghttp.NewRouter(a.cfg.HTTP.Addr, deps)

	g.Go(func() error {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer safe.Recover(gctx, "fanout consumer")
		return a.consumer.Run(gctx)
	})
	g.Go(func() error {
		defer safe.Recover(gctx, "keepalive")
		return a.ws.RunKeepalive(gctx, a.cfg.KeepalivePeriod())
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info(ctx, "socket gateway shutting down", zap.Int("conns", a.reg.Len()))
	var errs []error
	if err := a.srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.ws.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("ws shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.register != nil {
		if err := a.register.UnRegister(ctx, a.instance); err != nil {
			logger.Warn(ctx, "etcd unregister failed", zap.Error(err))
		}
	}
	if a.etcdClient != nil {
		_ = a.etcdClient.Close()
	}
	if a.log != nil {
		_ = a.log.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.traceShutdown != nil {
		_ = a.traceShutdown(ctx)
	}
	logger.Sync()
}

func (a *App) startTrace() error {
	shutdown, err := trace.InitTrace(a.cfg.Name, a.cfg.Trace.Host)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	a.traceShutdown = shutdown
	return nil
}

func (a *App) startFanout(ctx context.Context) error {
	switch a.cfg.Fanout.Driver {
	case gwConfig.DriverRedis:
		rdb, err := xredis.NewRedis(ctx, &a.cfg.Redis)
		if err != nil {
			return err
		}
		rdb.AddHook(metrics.RedisHook{})
		safe.GoCtx(ctx, func(ctx context.Context) { metrics.ObserveRedisStats(ctx, rdb, 5*time.Second) })
		a.rdb = rdb
		a.log = fanout.NewRedisStreamLog(rdb, a.cfg.RedisStream())
	case gwConfig.DriverNats:
		l, err := fanout.NewNatsLog(a.cfg.NatsLog())
		if err != nil {
			return err
		}
		a.log = l
	case gwConfig.DriverMemory:
		// single process only: nothing outside this process can append
		a.log = fanout.NewMemLog(a.cfg.Fanout.Batch)
	default:
		return fmt.Errorf("unknown fanout driver %q", a.cfg.Fanout.Driver)
	}
	return nil
}

func (a *App) startRegister(ctx context.Context) error {
	if len(a.cfg.Etcd.Endpoints) == 0 {
		return nil
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   a.cfg.Etcd.Endpoints,
		DialTimeout: time.Duration(a.cfg.Etcd.DialTimeoutSecond) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("connect etcd: %w", err)
	}
	a.etcdClient = cli

	ins := &register.Instance{
		ID:   uuid.NewString(),
		Name: a.cfg.Name,
		Addr: a.addr,
		MetaData: map[string]string{
			"fanout": a.cfg.Fanout.Driver,
		},
	}
	r := etcd.NewEtcdRegister(cli, a.cfg.Etcd.ServicePrefix, a.cfg.Etcd.TTL)
	if err := r.Register(ctx, ins); err != nil {
		return err
	}
	a.register, a.instance = r, ins
	logger.Info(ctx, "gateway registered in etcd", zap.String("key", etcd.Key(a.cfg.Etcd.ServicePrefix, ins)))
	return nil
}
