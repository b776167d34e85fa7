package etcd

import (
	"context"
	"fmt"
	"sort"

	"github.com/segmentio/encoding/json"
	clientv3 "go.etcd.io/etcd/client/v3"
	"relaychat.com/pkg/register"
)

// Discovery lists the live instances of serviceName under basePath.
func Discovery(ctx context.Context, client *clientv3.Client, basePath string, serviceName string) ([]register.Instance, error) {
	prefixKey := fmt.Sprintf("%s/%s/", basePath, serviceName)
	res, err := client.Get(ctx, prefixKey, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefixKey, err)
	}
	values := make([][]byte, 0, len(res.Kvs))
	for _, kv := range res.Kvs {
		values = append(values, kv.Value)
	}
	return decodeInstances(values), nil
}

// values that do not decode are skipped
func decodeInstances(values [][]byte) []register.Instance {
	out := make([]register.Instance, 0, len(values))
	for _, v := range values {
		var ins register.Instance
		if err := json.Unmarshal(v, &ins); err != nil || ins.ID == "" {
			continue
		}
		out = append(out, ins)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
