package ws

import (
	"context"
	"errors"

	"github.com/Wyydra/loop/internal/core/domain"
	"github.com/rs/zerolog/log"
)

var ErrHubStopped = errors.New("hub stopped")

// event is either a state snapshot or a media signal.
type event struct {
	state  *domain.ConversationState
	signal *domain.Signal
}

// implements port.RealTimeGateway
type Hub struct {
	clients    map[Client]bool
	last       *domain.ConversationState
	broadcast  chan event
	register   chan Client
	unregister chan Client
	quit       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[Client]bool),
		broadcast:  make(chan event, 64),
		register:   make(chan Client),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
	}
}

// BroadcastState sends a store snapshot to every client. Clients that
// register later get the latest snapshot first.
func (h *Hub) BroadcastState(ctx context.Context, state domain.ConversationState) error {
	return h.publish(ctx, event{state: &state})
}

// SendSignal forwards a media signal to every client. Signals and states
// keep their relative order.
func (h *Hub) SendSignal(ctx context.Context, signal domain.Signal) error {
	return h.publish(ctx, event{signal: &signal})
}

func (h *Hub) publish(ctx context.Context, ev event) error {
	select {
	case h.broadcast <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.quit:
		return ErrHubStopped
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			log.Info().Str("client_id", client.ID()).Msg("Client registered")
			if h.last != nil {
				if err := client.SendState(*h.last); err != nil {
					h.drop(client, err)
				}
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				log.Info().Str("client_id", client.ID()).Msg("Client unregistered")
			}

		case ev := <-h.broadcast:
			if ev.state != nil {
				h.last = ev.state
			}
			for client := range h.clients {
				var err error
				if ev.state != nil {
					err = client.SendState(*ev.state)
				} else {
					err = client.SendSignal(*ev.signal)
				}
				if err != nil {
					h.drop(client, err)
				}
			}
		}
	}
}

func (h *Hub) drop(client Client, err error) {
	log.Error().Err(err).Str("client_id", client.ID()).Msg("Error sending to client")
	client.Close()
	delete(h.clients, client)
}

func (h *Hub) Register(c Client) {
	select {
	case h.register <- c:
	case <-h.quit:
		c.Close()
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	close(h.quit)
}
