package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Wyydra/loop/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextStore_NewestFirst(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "loop.db"))
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Contexts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)

	s.AddConversationContext("win-1", "sess-1", "call-1")
	s.AddConversationContext("win-2", "sess-2", "call-2")

	got, err = s.Contexts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.ConversationContext{
		{WindowID: "win-2", SessionID: "sess-2", CallID: "call-2"},
		{WindowID: "win-1", SessionID: "sess-1", CallID: "call-1"},
	}, got)
}

func TestContextStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "loop.db")

	s, err := Open(path)
	require.NoError(t, err)
	s.AddConversationContext("win-1", "sess-1", "call-1")
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Contexts(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.WindowID("win-1"), got[0].WindowID)
}

func TestContextStore_CancelledContext(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "loop.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Contexts(ctx)
	assert.Error(t, err)
}
