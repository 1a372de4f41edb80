// Package broadcast re-serves the newest buffered envelopes to any number of
// viewers: an MJPEG stream, a WebSocket feed with per-frame metadata, a
// viewer page and a JSON stats endpoint.
//
// Every client pops from the shared ring independently and waits when it is
// empty; a slow or idle client never blocks ingest and is never dropped for
// lack of frames.
package broadcast

import (
	"context"
	_ "embed"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pithecene-io/tagstream/annotate"
	"github.com/pithecene-io/tagstream/log"
	"github.com/pithecene-io/tagstream/metrics"
	"github.com/pithecene-io/tagstream/ringbuf"
	"github.com/pithecene-io/tagstream/transport"
	"github.com/pithecene-io/tagstream/types"
)

// Boundary separates MJPEG parts.
const Boundary = "frame"

// Defaults for Config.
const (
	DefaultPort     = 4000
	DefaultIdleWait = time.Second
	shutdownTimeout = 5 * time.Second
)

//go:embed index.html
var indexHTML []byte

// Config configures a Server.
type Config struct {
	Ring *ringbuf.Ring[*types.Envelope]
	// Quality is the JPEG quality for served frames (default 85).
	Quality int
	// Annotate draws tag polygons onto served frames.
	Annotate        bool
	AnnotateOptions annotate.Options
	// IdleWait bounds one wait on an empty ring before re-checking the
	// client connection (default 1s).
	IdleWait time.Duration
	Logger   *log.Logger
	Metrics  *metrics.Collector
}

// Server serves the broadcast endpoints.
type Server struct {
	cfg    Config
	logger *log.Logger
	engine *gin.Engine
}

// New builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Ring == nil {
		return nil, errors.New("broadcast server requires a ring")
	}
	if cfg.Quality <= 0 {
		cfg.Quality = transport.DefaultJPEGQuality
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = DefaultIdleWait
	}
	if cfg.Annotate && cfg.AnnotateOptions.Colors == nil {
		cfg.AnnotateOptions = annotate.DefaultOptions()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{cfg: cfg, logger: logger, engine: engine}
	engine.GET("/", s.index)
	engine.GET("/video_feed", s.videoFeed)
	engine.GET("/ws", s.wsFeed)
	engine.GET("/stats", statsHandler(cfg.Metrics))
	engine.GET("/healthz", s.healthz)
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return listenAndServe(ctx, addr, s.engine, s.logger, "broadcast server listening")
}

func listenAndServe(ctx context.Context, addr string, h http.Handler, logger *log.Logger, msg string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(msg, map[string]any{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"buffered": s.cfg.Ring.Len(),
		"capacity": s.cfg.Ring.Cap(),
	})
}

// next pops the newest envelope, waiting while the ring is empty.
// It returns false when ctx is done.
func (s *Server) next(ctx context.Context) (*types.Envelope, bool) {
	for {
		changed := s.cfg.Ring.Changed()
		env, err := s.cfg.Ring.PopNewest()
		if err == nil {
			s.cfg.Metrics.IncRingPops()
			return env, true
		}

		t := time.NewTimer(s.cfg.IdleWait)
		select {
		case <-changed:
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, false
		}
		t.Stop()
	}
}

// encode renders env's frame as JPEG, annotated if configured.
func (s *Server) encode(env *types.Envelope) ([]byte, error) {
	f := env.Frame
	if s.cfg.Annotate && env.Metadata.Tags.Count() > 0 {
		f = annotate.Draw(f, env.Metadata.Tags, s.cfg.AnnotateOptions)
	}
	return transport.EncodeJPEG(f, s.cfg.Quality)
}

func requestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request", map[string]any{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		})
	}
}
