package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a *websocket.Conn into the framed-line net.Conn-ish shape
// AcceptConnection expects, treating the websocket listener as "an
// additional file descriptor with line-oriented framing" alongside the
// helper processes spec 5 describes.
type wsConn struct {
	*websocket.Conn
	readBuf []byte
}

func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.readBuf) == 0 {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.readBuf = data
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.Conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetDeadline satisfies net.Conn; gorilla's Conn only exposes the split
// read/write deadline setters.
func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.Conn.SetWriteDeadline(t)
}

var wsUpgrader = websocket.Upgrader{
	Subprotocols:    []string{"text.ircv3.net"},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ServeWebSocket upgrades an inbound HTTP request to a websocket
// connection and feeds it into the same pre-registration pipeline every
// other listener uses.
func (s *Server) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warning("listener", "websocket upgrade failed: "+err.Error())
		return
	}
	s.AcceptConnection(&wsConn{Conn: conn})
}
