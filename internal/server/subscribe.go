package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The stream is public read-only data; any origin may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// handleSubscribe upgrades to a WebSocket and streams normalized relay
// events to the client until it disconnects or falls too far behind.
// GET /subscribe
func (s *Server) handleSubscribe(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response.
		return nil
	}
	defer conn.Close()

	frames, cancel := s.events.Subscribe()
	defer cancel()

	// Drain the client's reads so close frames and pings are processed;
	// subscribers send nothing meaningful.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for frame := range frames {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return nil
		}
	}

	// Channel closed: shutdown, or this subscriber was dropped as too
	// slow. Tell the client to reconnect.
	log.Printf("Closing subscriber %s", conn.RemoteAddr())
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
	return nil
}
