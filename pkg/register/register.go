package register

import "context"

// Instance is what a gateway node publishes about itself.
type Instance struct {
	ID       string // ip:port or a uuid
	Name     string // e.g. "socket-gateway"
	Addr     string // ip:port
	MetaData map[string]string
}

type Register interface {
	Register(ctx context.Context, ins *Instance) error
	UnRegister(ctx context.Context, ins *Instance) error
}
