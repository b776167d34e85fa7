package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/encoding/json"
	gwConfig "relaychat.com/internal/gateway/config"
	"relaychat.com/internal/gateway/fanout"
	vipConfig "relaychat.com/pkg/config"
	"relaychat.com/pkg/xredis"
)

// fanout-publish appends one entry to the gateway's fan-out log, the way the
// business tier does. It reads the same config as socket-gateway.
func main() {
	var (
		user    = flag.String("user", "", "target user id")
		payload = flag.String("payload", "", "JSON command to deliver")
	)
	flag.Parse()
	if *user == "" || !json.Valid([]byte(*payload)) {
		log.Fatal("usage: fanout-publish -user <id> -payload '<json>'")
	}

	var cfg gwConfig.GatewayConfig
	if _, err := vipConfig.Load("socket-gateway", &cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var l fanout.Log
	switch cfg.Fanout.Driver {
	case gwConfig.DriverRedis:
		rdb, err := xredis.NewRedis(ctx, &cfg.Redis)
		if err != nil {
			log.Fatal(err)
		}
		defer rdb.Close()
		l = fanout.NewRedisStreamLog(rdb, cfg.RedisStream())
	case gwConfig.DriverNats:
		nl, err := fanout.NewNatsLog(cfg.NatsLog())
		if err != nil {
			log.Fatal(err)
		}
		l = nl
	default:
		log.Fatalf("driver %q has no external writer", cfg.Fanout.Driver)
	}
	defer l.Close()

	id, err := l.Append(ctx, *user, []byte(*payload))
	if err != nil {
		log.Fatalf("append: %v", err)
	}
	fmt.Println(id)
}
