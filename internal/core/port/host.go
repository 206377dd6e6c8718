package port

import (
	"context"

	"github.com/Wyydra/loop/internal/core/domain"
)

// CallMarker lets the host show which windows have a call in progress.
type CallMarker interface {
	SetCallInProgress(windowID domain.WindowID)
	ClearCallInProgress(windowID domain.WindowID)
}

// ContextRegistry records which media session belongs to which window.
type ContextRegistry interface {
	AddConversationContext(windowID domain.WindowID, sessionID, callID string)
}

type ContextLister interface {
	Contexts(ctx context.Context) ([]domain.ConversationContext, error)
}

// ActionSink queues an action for a later dispatcher turn. Safe to call
// from any goroutine.
type ActionSink interface {
	Post(action domain.Action)
}

// TurnQueue runs fn on a later dispatcher turn.
type TurnQueue interface {
	ActionSink
	Enqueue(fn func())
}
