package etcd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInstances(t *testing.T) {
	got := decodeInstances([][]byte{
		[]byte(`{"ID":"b","Name":"socket-gateway","Addr":"10.0.0.2:8080"}`),
		[]byte(`not json`),
		[]byte(`{"Name":"no-id"}`),
		[]byte(`{"ID":"a","Name":"socket-gateway","Addr":"10.0.0.1:8080","MetaData":{"fanout":"redis"}}`),
	})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "redis", got[0].MetaData["fanout"])
	assert.Equal(t, "10.0.0.2:8080", got[1].Addr)
}
