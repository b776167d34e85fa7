package etcd

import (
	"context"
	"fmt"

	"github.com/segmentio/encoding/json"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"relaychat.com/pkg/logger"
	"relaychat.com/pkg/register"
)

// EtcdRegister keeps one leased key per instance under basePath.
type EtcdRegister struct {
	client        *clientv3.Client
	basePath      string // e.g. "/relaychat/gateways"
	ttl           int64  // lease seconds
	keepaliveChan <-chan *clientv3.LeaseKeepAliveResponse
	leaseID       clientv3.LeaseID
}

func NewEtcdRegister(c *clientv3.Client, basePath string, ttl int64) *EtcdRegister {
	if ttl <= 0 {
		ttl = 10
	}
	return &EtcdRegister{
		client:   c,
		basePath: basePath,
		ttl:      ttl,
	}
}

func Key(basePath string, ins *register.Instance) string {
	return fmt.Sprintf("%s/%s/%s", basePath, ins.Name, ins.ID)
}

// Register writes ins under a fresh lease and keeps the lease alive until ctx
// ends.
func (e *EtcdRegister) Register(ctx context.Context, ins *register.Instance) error {
	grant, err := e.client.Grant(ctx, e.ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}
	e.leaseID = grant.ID

	val, err := json.Marshal(ins)
	if err != nil {
		return err
	}
	if _, err = e.client.Put(ctx, Key(e.basePath, ins), string(val), clientv3.WithLease(e.leaseID)); err != nil {
		return fmt.Errorf("put instance: %w", err)
	}

	ka, err := e.client.KeepAlive(ctx, e.leaseID)
	if err != nil {
		return fmt.Errorf("keepalive lease: %w", err)
	}
	e.keepaliveChan = ka
	go e.drainKeepalive(ctx)
	return nil
}

func (e *EtcdRegister) UnRegister(ctx context.Context, ins *register.Instance) error {
	if _, err := e.client.Delete(ctx, Key(e.basePath, ins)); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if _, err := e.client.Revoke(ctx, e.leaseID); err != nil {
		return fmt.Errorf("revoke lease: %w", err)
	}
	return nil
}

func (e *EtcdRegister) drainKeepalive(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-e.keepaliveChan:
			if !ok {
				// lease lost: etcd unreachable past ttl or revoked
				logger.Warn(ctx, "etcd lease keepalive closed", zap.Int64("lease_id", int64(e.leaseID)))
				return
			}
		}
	}
}
