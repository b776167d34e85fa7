package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"relaychat.com/internal/gateway/wsmetrics"
)

// Conn is one authenticated socket. Everything written to it goes through
// send and a single writer goroutine.
type Conn struct {
	id     string
	userID string

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newConn(id, userID string, ws *websocket.Conn, buf int) *Conn {
	return &Conn{
		id:     id,
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, buf),
		done:   make(chan struct{}),
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// Send queues a pushed frame. A full queue drops the frame.
func (c *Conn) Send(frame []byte) bool {
	return c.enqueue(frame, "push")
}

func (c *Conn) enqueue(frame []byte, kind string) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		wsmetrics.MsgsOutTotal.WithLabelValues(kind).Inc()
		return true
	case <-c.done:
		return false
	default:
		wsmetrics.DroppedTotal.WithLabelValues("queue_full").Inc()
		return false
	}
}

// close tears the socket down once; both pumps notice and exit.
func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) closeWith(code int, text string, wait time.Duration) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wait))
	c.close()
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
