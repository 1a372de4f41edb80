package broadcast

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/pithecene-io/tagstream/types"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// wsFeed sends each popped envelope as a text message carrying the
// metadata JSON followed by a binary message carrying the JPEG.
func (s *Server) wsFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]any{"client": c.ClientIP(), "error": err.Error()})
		return
	}
	defer conn.Close()

	s.cfg.Metrics.ClientConnected()
	defer s.cfg.Metrics.ClientDisconnected()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Viewers only listen; reading surfaces the close frame.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		env, ok := s.next(ctx)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			return
		}
		meta, err := types.MarshalMetadata(&env.Metadata)
		if err != nil {
			continue
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

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, meta); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, jpg); err != nil {
			return
		}
		s.cfg.Metrics.IncFramesServed()
	}
}
