package port

import (
	"context"

	"github.com/Wyydra/loop/internal/core/domain"
)

// CallConnection is the call-progress signaling channel of one call attempt.
// Connect resolves at most once; Progress delivers events in order and is
// closed when the connection ends.
type CallConnection interface {
	Connect(ctx context.Context) (domain.WSState, error)
	Progress() <-chan domain.ProgressEvent
	Cancel() error
	MediaFail() error
	MediaUp() error
	Close() error
}

type ConnectionFactory interface {
	NewConnection(params domain.ConnectionParams) CallConnection
}
