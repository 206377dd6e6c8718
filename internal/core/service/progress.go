package service

import (
	"context"

	"github.com/Wyydra/loop/internal/core/domain"
	"github.com/Wyydra/loop/internal/core/port"
	"github.com/rs/zerolog"
)

// connectWebSocket opens the progress connection of the current call. The
// connect result and every later progress event come back as actions.
func (s *ConversationStore) connectWebSocket() {
	st := s.State()
	conn := s.deps.Connections.NewConnection(domain.ConnectionParams{
		URL:            st.ProgressURL,
		CallID:         st.CallID,
		WebsocketToken: st.WebsocketToken,
	})

	s.closeConnection()

	ctx, cancel := context.WithCancel(s.ctx)
	s.conn = conn
	s.stopListening = cancel

	go s.listen(ctx, conn, s.logger())
}

func (s *ConversationStore) listen(ctx context.Context, conn port.CallConnection, l *zerolog.Logger) {
	state, err := conn.Connect(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		l.Error().Err(err).Msg("Websocket failed to connect")
		s.deliver(conn, domain.ConnectionFailure{Reason: domain.ReasonWebsocketSetup}, l)
		return
	}
	s.deliver(conn, domain.ConnectionProgress{WSState: state}, l)

	progress := conn.Progress()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-progress:
			if !ok || ctx.Err() != nil {
				return
			}
			s.deliver(conn, progressAction(ev), l)
		}
	}
}

// deliver dispatches action on a later turn unless conn has been torn down
// in the meantime.
func (s *ConversationStore) deliver(conn port.CallConnection, action domain.Action, l *zerolog.Logger) {
	s.dispatcher.Enqueue(func() {
		if s.conn != conn {
			l.Debug().Str("action", string(action.Name())).Msg("Dropping event from a closed connection")
			return
		}
		if err := s.dispatcher.Dispatch(action); err != nil {
			l.Error().Err(err).Msg("Failed to dispatch progress")
		}
	})
}

func progressAction(ev domain.ProgressEvent) domain.Action {
	if ev.State == domain.WSStateTerminated {
		return domain.ConnectionFailure{Reason: ev.Reason}
	}
	return domain.ConnectionProgress{WSState: ev.State}
}

// endSession tears down media and signaling. Safe to call repeatedly.
func (s *ConversationStore) endSession() {
	s.deps.Media.DisconnectSession()

	s.closeConnection()

	// Invalidates any call setup still in flight.
	s.setupAttempt++

	s.deps.Marker.ClearCallInProgress(s.State().WindowID)
}

// closeConnection stops listening to the current websocket and closes it.
func (s *ConversationStore) closeConnection() {
	if s.conn == nil {
		return
	}
	s.stopListening()
	if err := s.conn.Close(); err != nil {
		s.logger().Warn().Err(err).Msg("Failed to close websocket")
	}
	s.conn = nil
	s.stopListening = nil
}
