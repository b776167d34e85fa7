package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"relaychat.com/internal/gateway/auth"
	gwConfig "relaychat.com/internal/gateway/config"
	"relaychat.com/internal/gateway/fanout"
)

func TestApp_RunServeAndShutdown(t *testing.T) {
	biz := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) == `{"type":"connection:established"}` {
			_, _ = w.Write([]byte(`{"type":"user:new"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer biz.Close()

	cfg := &gwConfig.GatewayConfig{}
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Auth = auth.Options{Secret: "app-secret", Issuer: "idp"}
	cfg.Bridge.Endpoint = biz.URL
	cfg.Fanout.Driver = gwConfig.DriverMemory
	cfg.Fanout.RetryDelayMs = 1
	cfg.Log.File = "-"
	cfg.Log.Level = "error"
	a := NewWithConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("app not ready")
	}

	tok, err := auth.Issue(cfg.Auth, "alice", time.Minute)
	require.NoError(t, err)
	c, _, err := websocket.DefaultDialer.Dial("ws://"+a.Addr()+"/ws?token="+tok, nil)
	require.NoError(t, err)
	defer c.Close()

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"user:new"}`, string(b))

	require.Len(t, a.Registry().ConnectionsFor("alice"), 1)
	ml, ok := a.Log().(*fanout.MemLog)
	require.True(t, ok)
	require.Eventually(t, func() bool { return ml.Waiting() >= 1 }, 2*time.Second, 5*time.Millisecond)
	_, err = ml.Append(context.Background(), "alice", []byte(`{"type":"message:created"}`))
	require.NoError(t, err)

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err = c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"message:created"}`, string(b))

	resp, err := http.Get("http://" + a.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Equal(t, 0, a.Registry().Len())
}
