// Package ws implements the call-progress websocket: a hello handshake that
// yields the initial progress state, then server-pushed progress messages
// and client-sent actions until either side closes.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/loop/internal/core/domain"
	"github.com/Wyydra/loop/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	typeHello    = "hello"
	typeProgress = "progress"
	typeAction   = "action"
	typeError    = "error"

	eventTerminate = "terminate"
	eventMediaUp   = "media-up"

	writeWait = 5 * time.Second
)

type message struct {
	MessageType string `json:"messageType"`
	CallID      string `json:"callId,omitempty"`
	Auth        string `json:"auth,omitempty"`
	State       string `json:"state,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Event       string `json:"event,omitempty"`
}

// Dialer creates progress connections. It implements port.ConnectionFactory.
type Dialer struct {
	dialer *websocket.Dialer
}

func NewDialer(handshakeTimeout time.Duration) *Dialer {
	return &Dialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (d *Dialer) NewConnection(params domain.ConnectionParams) port.CallConnection {
	return &Connection{
		params:   params,
		dialer:   d.dialer,
		progress: make(chan domain.ProgressEvent, 16),
		done:     make(chan struct{}),
	}
}

type Connection struct {
	params domain.ConnectionParams
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	reading bool
	closed  bool

	progress  chan domain.ProgressEvent
	done      chan struct{}
	closeOnce sync.Once
}

// Connect dials the progress url and performs the hello handshake.
func (c *Connection) Connect(ctx context.Context) (domain.WSState, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.params.URL, nil)
	if err != nil {
		return "", fmt.Errorf("dial progress websocket: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return "", domain.ErrConnectionClosed
	}
	c.conn = conn
	c.mu.Unlock()

	if err := c.send(message{
		MessageType: typeHello,
		CallID:      c.params.CallID,
		Auth:        c.params.WebsocketToken,
	}); err != nil {
		c.Close()
		return "", fmt.Errorf("send hello: %w", err)
	}

	type reply struct {
		msg message
		err error
	}
	replies := make(chan reply, 1)
	go func() {
		var m message
		err := conn.ReadJSON(&m)
		replies <- reply{msg: m, err: err}
	}()

	select {
	case <-ctx.Done():
		c.Close()
		return "", ctx.Err()
	case r := <-replies:
		if r.err != nil {
			c.Close()
			return "", fmt.Errorf("read hello: %w", r.err)
		}
		switch r.msg.MessageType {
		case typeHello:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return "", domain.ErrConnectionClosed
			}
			c.reading = true
			c.mu.Unlock()

			go c.readLoop(conn)
			return domain.WSState(r.msg.State), nil
		case typeError:
			c.Close()
			return "", fmt.Errorf("progress websocket refused hello: %s", r.msg.Reason)
		default:
			c.Close()
			return "", fmt.Errorf("unexpected %q message during hello", r.msg.MessageType)
		}
	}
}

func (c *Connection) readLoop(conn *websocket.Conn) {
	defer close(c.progress)

	l := log.With().Str("call_id", c.params.CallID).Logger()
	for {
		var m message
		if err := conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.isClosed() {
				l.Error().Err(err).Msg("Progress websocket closed unexpectedly")
			}
			return
		}

		switch m.MessageType {
		case typeProgress:
			ev := domain.ProgressEvent{State: domain.WSState(m.State), Reason: m.Reason}
			select {
			case c.progress <- ev:
			case <-c.done:
				return
			}
		case typeError:
			l.Warn().Str("reason", m.Reason).Msg("Progress websocket reported an error")
		default:
			l.Debug().Str("message_type", m.MessageType).Msg("Ignoring progress websocket message")
		}
	}
}

func (c *Connection) Progress() <-chan domain.ProgressEvent {
	return c.progress
}

// Cancel tells the server the caller gave up before the call was answered.
func (c *Connection) Cancel() error {
	return c.send(message{MessageType: typeAction, Event: eventTerminate, Reason: domain.WSReasonCancel})
}

// MediaFail tells the server the call is over on this side.
func (c *Connection) MediaFail() error {
	return c.send(message{MessageType: typeAction, Event: eventTerminate, Reason: domain.WSReasonMediaFail})
}

func (c *Connection) MediaUp() error {
	return c.send(message{MessageType: typeAction, Event: eventMediaUp})
}

func (c *Connection) send(m message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.ErrConnectionClosed
	}
	if c.conn == nil {
		return domain.ErrNoConnection
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(m)
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close ends the connection and the progress stream. Safe to call more than
// once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.closed = true
		close(c.done)

		if c.conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
				log.Debug().Err(werr).Msg("Failed to send close frame")
			}
			err = c.conn.Close()
		}
		if !c.reading {
			close(c.progress)
		}
	})
	return err
}
