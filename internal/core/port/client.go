package port

import (
	"context"

	"github.com/Wyydra/loop/internal/core/domain"
)

// CallClient talks to the call server.
type CallClient interface {
	SetupOutgoingCall(ctx context.Context, addresses []string, callType domain.CallType) (domain.SessionData, error)
	CreateRoom(ctx context.Context, req domain.RoomRequest) (domain.RoomInfo, error)
}
