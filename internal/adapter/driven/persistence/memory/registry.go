package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/loop/internal/core/domain"
)

// Registry keeps the host-side call bookkeeping in memory: which windows
// have a call in progress and which media session belongs to which window.
type Registry struct {
	mu         sync.Mutex
	inProgress map[domain.WindowID]bool
	contexts   []domain.ConversationContext
}

func NewRegistry() *Registry {
	return &Registry{
		inProgress: make(map[domain.WindowID]bool),
		contexts:   make([]domain.ConversationContext, 0),
	}
}

func (r *Registry) SetCallInProgress(windowID domain.WindowID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inProgress[windowID] = true
}

func (r *Registry) ClearCallInProgress(windowID domain.WindowID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inProgress, windowID)
}

func (r *Registry) CallInProgress(windowID domain.WindowID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inProgress[windowID]
}

func (r *Registry) AddConversationContext(windowID domain.WindowID, sessionID, callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts = append(r.contexts, domain.ConversationContext{
		WindowID:  windowID,
		SessionID: sessionID,
		CallID:    callID,
	})
}

// Contexts returns the recorded contexts, newest first.
func (r *Registry) Contexts(ctx context.Context) ([]domain.ConversationContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.ConversationContext, len(r.contexts))
	for i, c := range r.contexts {
		out[len(r.contexts)-1-i] = c
	}
	return out, nil
}
