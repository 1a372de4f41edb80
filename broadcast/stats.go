package broadcast

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pithecene-io/tagstream/log"
	"github.com/pithecene-io/tagstream/metrics"
)

// StatsServer exposes a node's metrics without the video endpoints. Capture
// nodes use it so the monitor command can poll them.
type StatsServer struct {
	engine *gin.Engine
	logger *log.Logger
}

// NewStatsServer serves GET /stats and GET /healthz for m.
func NewStatsServer(m *metrics.Collector, logger *log.Logger) *StatsServer {
	if logger == nil {
		logger = log.Nop()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))
	engine.GET("/stats", statsHandler(m))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return &StatsServer{engine: engine, logger: logger}
}

// Handler returns the router.
func (s *StatsServer) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *StatsServer) ListenAndServe(ctx context.Context, addr string) error {
	return listenAndServe(ctx, addr, s.engine, s.logger, "stats server listening")
}

func statsHandler(m *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, m.Snapshot())
	}
}
