// Package transport is the HTTP/WebSocket boundary: it owns connections
// and hands decoded control/binary frames off to a session, adapted from
// handlers/websocket_handler.go's WebSocketClient in the teacher repo.
package transport

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"streamdecoder/internal/audit"
	"streamdecoder/internal/diagnostics"
	"streamdecoder/internal/session"
)

const (
	readLimit     = 4 * 1024 * 1024
	readDeadline  = 60 * time.Second
	pingInterval  = 25 * time.Second
	pingTimeout   = 5 * time.Second
	writeDeadline = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn is one connection's pump: upgrade, ping keepalive, and a read
// loop that dispatches text control frames and binary data frames to its
// session. It implements session.Sender so Session never imports gorilla
// directly.
type wsConn struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	sess     *session.Session
	registry *session.Registry
}

// ServeWebSocket upgrades r and runs the connection's pumps until it
// closes, registering and tearing down a Session around its lifetime.
func ServeWebSocket(w http.ResponseWriter, r *http.Request, registry *session.Registry, tempDir string, auditStore audit.Store, archiver *diagnostics.Archiver) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("transport: upgrade: %v", err)
		return
	}

	c := &wsConn{conn: conn, registry: registry}
	c.sess = session.New(tempDir, c, auditStore, archiver, registry)
	registry.Add(c.sess)

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	go c.pingPump()
	c.readPump() // blocks until the connection drops
}

// SendText implements session.Sender.
func (c *wsConn) SendText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendBinary implements session.Sender.
func (c *wsConn) SendBinary(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) pingPump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(pingTimeout))
		err := c.conn.WriteMessage(websocket.PingMessage, nil)
		c.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (c *wsConn) readPump() {
	defer func() {
		c.sess.Shutdown()
		c.registry.Remove(c.sess.ID)
		c.conn.Close()
		log.Printf("transport: session %s disconnected", c.sess.ID)
	}()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("transport: session %s read error: %v", c.sess.ID, err)
			}
			return
		}
		conn := c.conn
		conn.SetReadDeadline(time.Now().Add(readDeadline))

		switch msgType {
		case websocket.TextMessage:
			c.sess.HandleText(data)
		case websocket.BinaryMessage:
			c.sess.HandleBinary(data)
		}
	}
}
