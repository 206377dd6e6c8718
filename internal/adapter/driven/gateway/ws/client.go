package ws

import "github.com/Wyydra/loop/internal/core/domain"

// Client is one connected UI. The hub is its only writer.
type Client interface {
	ID() string
	SendState(state domain.ConversationState) error
	SendSignal(signal domain.Signal) error
	Close() error
}
