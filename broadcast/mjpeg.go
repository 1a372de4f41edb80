package broadcast

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// videoFeed streams one multipart JPEG part per popped envelope until the
// client goes away.
func (s *Server) videoFeed(c *gin.Context) {
	ctx := c.Request.Context()
	s.cfg.Metrics.ClientConnected()
	defer s.cfg.Metrics.ClientDisconnected()

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Connection", "close")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	for {
		env, ok := s.next(ctx)
		if !ok {
			return
		}
		jpg, err := s.encode(env)
		if err != nil {
			s.logger.Warn("frame encode failed", map[string]any{
				"stage":    "broadcast",
				"datetime": env.Metadata.Datetime,
				"error":    err.Error(),
			})
			continue
		}
		if err := writePart(c.Writer, jpg); err != nil {
			s.logger.Debug("mjpeg client gone", map[string]any{"client": c.ClientIP(), "error": err.Error()})
			return
		}
		c.Writer.Flush()
		s.cfg.Metrics.IncFramesServed()
	}
}

func writePart(w gin.ResponseWriter, jpg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(jpg)); err != nil {
		return err
	}
	if _, err := w.Write(jpg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
