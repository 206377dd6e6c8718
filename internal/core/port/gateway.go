package port

import (
	"context"

	"github.com/Wyydra/loop/internal/core/domain"
)

// RealTimeGateway pushes store state and media signals to UI clients.
type RealTimeGateway interface {
	BroadcastState(ctx context.Context, state domain.ConversationState) error
	SendSignal(ctx context.Context, signal domain.Signal) error
}
