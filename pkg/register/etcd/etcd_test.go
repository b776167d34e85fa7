package etcd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"relaychat.com/pkg/register"
)

func TestKey(t *testing.T) {
	ins := &register.Instance{ID: "10.0.0.1:8080", Name: "socket-gateway"}
	assert.Equal(t, "/relaychat/gateways/socket-gateway/10.0.0.1:8080", Key("/relaychat/gateways", ins))
}
