package memory

import (
	"sync"

	"github.com/Wyydra/loop/internal/core/domain"
	"github.com/Wyydra/loop/internal/core/port"
	"github.com/rs/zerolog/log"
)

// WindowDataStore holds the data a window was opened with and answers
// GetWindowData by posting SetupWindowData for it.
type WindowDataStore struct {
	sink port.ActionSink

	mu      sync.Mutex
	windows map[domain.WindowID]domain.SetupWindowData
}

func NewWindowDataStore(sink port.ActionSink) *WindowDataStore {
	return &WindowDataStore{
		sink:    sink,
		windows: make(map[domain.WindowID]domain.SetupWindowData),
	}
}

// Open records the data of a new window. An empty window id gets a fresh
// one, which is returned.
func (s *WindowDataStore) Open(data domain.SetupWindowData) (domain.WindowID, error) {
	if data.WindowID == "" {
		data.WindowID = domain.NewWindowID()
	}
	if err := data.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[data.WindowID] = data
	return data.WindowID, nil
}

func (s *WindowDataStore) Handle(action domain.Action) error {
	a, ok := action.(domain.GetWindowData)
	if !ok {
		return nil
	}

	s.mu.Lock()
	data, found := s.windows[a.WindowID]
	s.mu.Unlock()

	if !found {
		log.Warn().Str("window_id", a.WindowID.String()).Msg("No data for window")
		return nil
	}
	s.sink.Post(data)
	return nil
}
