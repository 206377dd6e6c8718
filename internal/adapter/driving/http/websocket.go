package http

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/Wyydra/loop/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI is served from the same process or a local file.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSClient struct {
	id   domain.ClientID
	conn *websocket.Conn

	closeOnce sync.Once
}

func (c *WSClient) ID() string {
	return c.id.String()
}

func (c *WSClient) SendState(state domain.ConversationState) error {
	return c.conn.WriteJSON(outgoingDTO{Type: "state", State: &state})
}

func (c *WSClient) SendSignal(signal domain.Signal) error {
	return c.conn.WriteJSON(outgoingDTO{Type: "signal", Signal: &signal})
}

func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

type outgoingDTO struct {
	Type   string                    `json:"type"`
	State  *domain.ConversationState `json:"state,omitempty"`
	Signal *domain.Signal            `json:"signal,omitempty"`
}

type incomingDTO struct {
	Type    string          `json:"type"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	Signal  *domain.Signal  `json:"signal"`
}

// HTTP handler
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		id:   domain.NewClientID(),
		conn: conn,
	}

	l := log.With().Str("client_id", client.ID()).Logger()
	l.Info().Msg("New client connected")

	h.Hub.Register(client)

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Hub.Unregister(client)
		client.Close()
	}()

	// listening for the UI
	for {
		var req incomingDTO
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}

		switch req.Type {
		case "action":
			action, err := domain.DecodeAction(domain.ActionName(req.Name), req.Payload)
			if err != nil {
				l.Warn().Err(err).Msg("Rejected action")
				continue
			}
			h.Actions.Post(action)
		case "signal":
			if req.Signal == nil {
				l.Warn().Msg("Signal message without signal")
				continue
			}
			if err := h.Signals.HandleSignal(*req.Signal); err != nil {
				l.Error().Err(err).Msg("Failed to handle media signal")
			}
		default:
			l.Warn().Str("type", req.Type).Msg("Unknown message type")
		}
	}
}
