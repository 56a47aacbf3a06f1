/*
File: internal/realtime/connection.go
Description: One live WebSocket connection: the Sender implementation with
its buffered outbound channel and write pump.
*/
package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

const (
	// sendBufferSize bounds the outbound queue per connection. A client
	// that cannot drain this many events is treated as gone.
	sendBufferSize = 64
	writeWait      = 10 * time.Second
)

var errConnClosed = errors.New("connection closed")
var errSendBufferFull = errors.New("outbound buffer full")

// Connection is the connection handle registered with the registry. All
// writes to the underlying WebSocket go through the write pump goroutine;
// Send never blocks on a slow client.
type Connection struct {
	id     string
	userID chat.UserID
	ws     *websocket.Conn

	send      chan chat.Event
	done      chan struct{}
	closeOnce sync.Once

	logger zerolog.Logger
}

func newConnection(id string, userID chat.UserID, ws *websocket.Conn, logger zerolog.Logger) *Connection {
	return &Connection{
		id:     id,
		userID: userID,
		ws:     ws,
		send:   make(chan chat.Event, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger.With().Str("conn", id).Str("user", string(userID)).Logger(),
	}
}

// ID returns the opaque connection id.
func (c *Connection) ID() string { return c.id }

// UserID returns the authenticated owner.
func (c *Connection) UserID() chat.UserID { return c.userID }

// Send enqueues one event for the write pump. It fails fast when the
// connection is closed or the buffer is full.
func (c *Connection) Send(evt chat.Event) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- evt:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSendBufferFull
	}
}

// close makes the done channel observable exactly once and closes the
// transport.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.ws.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("WebSocket close failed")
		}
	})
}

// writePump serializes all outbound frames. It exits when the connection
// closes; remaining buffered events are dropped, which is fine: recovery on
// the client's next connect replays what mattered.
func (c *Connection) writePump() {
	for {
		select {
		case evt := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(evt); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed, closing connection")
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
