package service

import (
	"errors"
	"strconv"

	"github.com/Wyydra/loop/internal/core/domain"
)

// setupOutgoingCall asks the server for the session data of a new call and
// answers with ConnectCall or ConnectionFailure on a later turn.
func (s *ConversationStore) setupOutgoingCall() {
	st := s.State()
	s.deps.Marker.SetCallInProgress(st.WindowID)

	addresses := st.Contact.Addresses()
	callType := st.CallType

	s.setupAttempt++
	attempt := s.setupAttempt
	ctx := s.ctx
	l := s.logger()

	go func() {
		data, err := s.deps.Client.SetupOutgoingCall(ctx, addresses, callType)
		if ctx.Err() != nil {
			return
		}

		var action domain.Action
		if err != nil {
			l.Error().Err(err).Msg("Failed to get outgoing call data")
			action = domain.ConnectionFailure{Reason: setupFailureReason(err)}
		} else if connect, verr := domain.NewConnectCall(data); verr != nil {
			l.Error().Err(verr).Msg("Server returned unusable call data")
			action = domain.ConnectionFailure{Reason: domain.ReasonSetup}
		} else {
			action = connect
		}

		s.dispatcher.Enqueue(func() {
			if s.setupAttempt != attempt {
				l.Debug().Str("action", string(action.Name())).Msg("Dropping result of an abandoned call setup")
				return
			}
			if err := s.dispatcher.Dispatch(action); err != nil {
				l.Error().Err(err).Msg("Failed to dispatch call setup result")
			}
		})
	}()
}

func setupFailureReason(err error) string {
	var restErr *domain.RESTError
	if errors.As(err, &restErr) && restErr.Errno == domain.ErrnoUserUnavailable {
		return strconv.Itoa(domain.ErrnoUserUnavailable)
	}
	return domain.ReasonSetup
}

// fetchRoomEmailLink creates a short-lived room whose url can be emailed to
// a contact that could not be reached.
func (s *ConversationStore) fetchRoomEmailLink(a domain.FetchRoomEmailLink) {
	req := domain.RoomRequest{
		RoomName:  a.RoomName,
		RoomOwner: a.RoomOwner,
		MaxSize:   domain.MaxRoomCreationSize,
		ExpiresIn: domain.DefaultExpiresIn,
	}
	ctx := s.ctx
	l := s.logger()

	s.setState(func(st *domain.ConversationState) {
		st.EmailLinkError = false
	})

	go func() {
		room, err := s.deps.Client.CreateRoom(ctx, req)
		if ctx.Err() != nil {
			return
		}

		s.dispatcher.Enqueue(func() {
			if err != nil {
				l.Error().Err(err).Msg("Failed to create room for email link")
				s.setState(func(st *domain.ConversationState) {
					st.EmailLinkError = true
				})
				return
			}
			s.setState(func(st *domain.ConversationState) {
				st.EmailLink = room.RoomURL
			})
		})
	}()
}
