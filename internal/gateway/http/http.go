package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"relaychat.com/internal/gateway/registry"
	"relaychat.com/internal/gateway/ws"
	"relaychat.com/pkg/common"
	"relaychat.com/pkg/middleware"
	"relaychat.com/pkg/ratelimit"
	"relaychat.com/pkg/register"
	"relaychat.com/pkg/xerr"
)

type Deps struct {
	Name     string
	WS       *ws.Server
	Registry *registry.Registry
	// Cursor reports the fan-out consumer position; nil when none runs
	Cursor func() string
	// UpgradeLimit throttles /ws handshakes per ip; nil disables
	UpgradeLimit *ratelimit.Store
	// Nodes lists peer gateways; /nodes is only mounted when set
	Nodes func(ctx context.Context) ([]register.Instance, error)
}

type Health struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Users       int    `json:"users"`
	Cursor      string `json:"cursor,omitempty"`
}

// NewEngine builds the gin engine: /ws, /healthz, /nodes, and /metrics from
// the prometheus middleware.
func NewEngine(d Deps) *gin.Engine {
	if d.Name == "" {
		d.Name = "socket-gateway"
	}
	r := gin.New()
	p := ginprom.NewPrometheus("relaychat")
	p.Use(r)
	r.Use(
		otelgin.Middleware(d.Name),
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
	)

	r.GET("/healthz", func(c *gin.Context) {
		h := Health{
			Status:      "ok",
			Connections: d.Registry.Len(),
			Users:       d.Registry.Users(),
		}
		if d.Cursor != nil {
			h.Cursor = d.Cursor()
		}
		common.Success(c, h)
	})

	if d.Nodes != nil {
		r.GET("/nodes", func(c *gin.Context) {
			nodes, err := d.Nodes(c.Request.Context())
			if err != nil {
				common.FailErr(c, xerr.New(xerr.Unavailable, err.Error()))
				return
			}
			common.Success(c, nodes)
		})
	}

	r.GET("/ws", middleware.RateLimit(d.UpgradeLimit), func(c *gin.Context) {
		d.WS.ServeWS(c.Writer, c.Request)
	})
	return r
}

func NewRouter(addr string, d Deps) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewEngine(d),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}
