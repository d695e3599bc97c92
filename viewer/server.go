package viewer

import (
	"context"
	"net/http"

	"golang.org/x/net/websocket"
)

// NewServer returns a WebSocket server that runs a new handler for each
// viewer connection. Viewers from any origin are accepted.
func NewServer(ctx context.Context, newHandler func() Handler) websocket.Server {
	return websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			h := newHandler()
			defer h.Close()

			Handle(ctx, conn, h)
		},
	}
}
