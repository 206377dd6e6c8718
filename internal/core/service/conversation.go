package service

import (
	"context"
	"errors"
	"sync"

	"github.com/Wyydra/loop/internal/core/dispatcher"
	"github.com/Wyydra/loop/internal/core/domain"
	"github.com/Wyydra/loop/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Dispatcher is what the conversation store needs from the action router.
type Dispatcher interface {
	port.TurnQueue
	Register(store dispatcher.Store, names ...domain.ActionName)
	Dispatch(action domain.Action) error
}

// conversationActions are registered once the window turns out to be a call.
var conversationActions = []domain.ActionName{
	domain.ActionConnectionFailure,
	domain.ActionConnectionProgress,
	domain.ActionConnectCall,
	domain.ActionHangupCall,
	domain.ActionRemotePeerDisconnected,
	domain.ActionCancelCall,
	domain.ActionRetryCall,
	domain.ActionMediaConnected,
	domain.ActionSetMute,
	domain.ActionFetchRoomEmailLink,
	domain.ActionWindowUnload,
}

type ConversationDeps struct {
	Client      port.CallClient
	Media       port.MediaDriver
	Connections port.ConnectionFactory
	Marker      port.CallMarker
	Contexts    port.ContextRegistry
	// Desktop enables the retry-without-video fallback for machines
	// without a usable camera.
	Desktop bool
}

func (d ConversationDeps) validate() error {
	switch {
	case d.Client == nil:
		return errors.New("missing call client")
	case d.Media == nil:
		return errors.New("missing media driver")
	case d.Connections == nil:
		return errors.New("missing connection factory")
	case d.Marker == nil:
		return errors.New("missing call marker")
	case d.Contexts == nil:
		return errors.New("missing context registry")
	}
	return nil
}

// ConversationStore owns the lifecycle of one call window. Handlers run on
// the dispatcher's turn goroutine; State and OnChange may be used from
// anywhere.
type ConversationStore struct {
	dispatcher Dispatcher
	deps       ConversationDeps

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	state     domain.ConversationState
	listeners []func(domain.ConversationState)

	// Owned by the turn goroutine.
	conn          port.CallConnection
	stopListening context.CancelFunc
	setupAttempt  int
}

func NewConversationStore(d Dispatcher, deps ConversationDeps) (*ConversationStore, error) {
	if d == nil {
		return nil, errors.New("missing dispatcher")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &ConversationStore{
		dispatcher: d,
		deps:       deps,
		ctx:        ctx,
		cancel:     cancel,
		state: domain.ConversationState{
			CallState: domain.CallStateInit,
			CallType:  domain.CallTypeAudioVideo,
		},
	}

	d.Register(s, domain.ActionSetupWindowData)
	return s, nil
}

// State returns a snapshot of the store.
func (s *ConversationStore) State() domain.ConversationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnChange registers fn to receive a snapshot after every state change.
func (s *ConversationStore) OnChange(fn func(domain.ConversationState)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Close abandons outstanding asynchronous work. It does not end the
// session; dispatch HangupCall or CancelCall for that.
func (s *ConversationStore) Close() {
	s.cancel()
}

func (s *ConversationStore) setState(update func(st *domain.ConversationState)) {
	s.mu.Lock()
	update(&s.state)
	snapshot := s.state
	listeners := append(([]func(domain.ConversationState))(nil), s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

func (s *ConversationStore) logger() *zerolog.Logger {
	st := s.State()
	l := log.With().
		Str("window_id", st.WindowID.String()).
		Str("call_state", string(st.CallState)).
		Logger()
	return &l
}

func (s *ConversationStore) Handle(action domain.Action) error {
	switch a := action.(type) {
	case domain.SetupWindowData:
		s.setupWindowData(a)
	case domain.ConnectCall:
		s.connectCall(a)
	case domain.ConnectionProgress:
		s.connectionProgress(a)
	case domain.ConnectionFailure:
		s.connectionFailure(a)
	case domain.HangupCall:
		s.hangupCall()
	case domain.RemotePeerDisconnected:
		s.remotePeerDisconnected(a)
	case domain.CancelCall:
		s.cancelCall()
	case domain.RetryCall:
		s.retryCall()
	case domain.MediaConnected:
		return s.mediaConnected()
	case domain.SetMute:
		s.setMute(a)
	case domain.FetchRoomEmailLink:
		s.fetchRoomEmailLink(a)
	case domain.WindowUnload:
		s.windowUnload()
	default:
		s.logger().Warn().Str("action", string(action.Name())).Msg("Conversation store got an action it does not handle")
	}
	return nil
}

func (s *ConversationStore) setupWindowData(a domain.SetupWindowData) {
	if a.Type != domain.WindowOutgoing && a.Type != domain.WindowIncoming {
		return
	}

	s.dispatcher.Register(s, conversationActions...)

	callType := a.CallType
	if callType == "" {
		callType = domain.CallTypeAudioVideo
	}

	s.setState(func(st *domain.ConversationState) {
		st.Contact = a.Contact
		st.Outgoing = a.Type == domain.WindowOutgoing
		st.WindowID = a.WindowID
		st.CallType = callType
		st.CallerID = a.CallerID
		st.CallState = domain.CallStateGather
		st.VideoMuted = callType == domain.CallTypeAudioOnly
	})

	if a.Type == domain.WindowOutgoing {
		s.setupOutgoingCall()
	}
	// Incoming windows get their session data pushed by the host.
}

func (s *ConversationStore) connectCall(a domain.ConnectCall) {
	data := a.SessionData
	s.setState(func(st *domain.ConversationState) {
		st.CallID = data.CallID
		if data.CallerID != "" {
			st.CallerID = data.CallerID
		}
		st.ProgressURL = data.ProgressURL
		st.WebsocketToken = data.WebsocketToken
		st.APIKey = data.APIKey
		st.SessionID = data.SessionID
		st.SessionToken = data.SessionToken
	})
	s.connectWebSocket()
}

func (s *ConversationStore) connectionProgress(a domain.ConnectionProgress) {
	st := s.State()
	if st.CallState.Terminal() {
		s.logger().Debug().Str("ws_state", string(a.WSState)).Msg("Ignoring progress after the call ended")
		return
	}

	switch a.WSState {
	case domain.WSStateInit:
		if st.CallState == domain.CallStateGather {
			s.setCallState(domain.CallStateConnecting)
		}
	case domain.WSStateAlerting:
		s.setCallState(domain.CallStateAlerting)
	case domain.WSStateConnecting:
		s.deps.Media.ConnectSession(domain.SessionParams{
			APIKey:       st.APIKey,
			SessionID:    st.SessionID,
			SessionToken: st.SessionToken,
		})
		s.deps.Contexts.AddConversationContext(st.WindowID, st.SessionID, st.CallID)
		s.setCallState(domain.CallStateOngoing)
	case domain.WSStateHalfConnected, domain.WSStateConnected:
		s.setCallState(domain.CallStateOngoing)
	default:
		s.logger().Error().Str("ws_state", string(a.WSState)).Msg("Unexpected websocket state")
	}
}

func (s *ConversationStore) connectionFailure(a domain.ConnectionFailure) {
	st := s.State()
	if st.CallState.Terminal() {
		s.logger().Debug().Str("reason", a.Reason).Msg("Ignoring failure after the call ended")
		return
	}

	// Machines without a camera fail to publish; try once more with audio
	// only. The videoMuted guard keeps this from looping.
	if s.deps.Desktop && a.Reason == domain.ReasonUnableToPublishMedia && !st.VideoMuted {
		s.logger().Warn().Msg("Unable to publish media, retrying without video")
		s.setState(func(st *domain.ConversationState) {
			st.VideoMuted = true
		})
		s.deps.Media.RetryPublishWithoutVideo()
		return
	}

	s.endSession()
	s.setState(func(st *domain.ConversationState) {
		st.CallState = domain.CallStateTerminated
		st.CallStateReason = a.Reason
	})
	s.logger().Info().Str("reason", a.Reason).Msg("Call terminated")
}

func (s *ConversationStore) hangupCall() {
	if s.conn != nil {
		// Let the server know the user hung up.
		if err := s.conn.MediaFail(); err != nil {
			s.logger().Warn().Err(err).Msg("Failed to send media-fail")
		}
	}

	s.endSession()
	s.setCallState(domain.CallStateFinished)
}

func (s *ConversationStore) remotePeerDisconnected(a domain.RemotePeerDisconnected) {
	s.endSession()

	if a.PeerHungup {
		s.setCallState(domain.CallStateFinished)
		return
	}
	s.setState(func(st *domain.ConversationState) {
		st.CallState = domain.CallStateTerminated
		st.CallStateReason = domain.ReasonPeerNetworkDisconnected
	})
}

func (s *ConversationStore) cancelCall() {
	callState := s.State().CallState
	if s.conn != nil && (callState == domain.CallStateConnecting || callState == domain.CallStateAlerting) {
		if err := s.conn.Cancel(); err != nil {
			s.logger().Warn().Err(err).Msg("Failed to send cancel")
		}
	}

	s.endSession()
	s.setCallState(domain.CallStateClose)
}

func (s *ConversationStore) retryCall() {
	st := s.State()
	if st.CallState != domain.CallStateTerminated {
		s.logger().Error().Msg("Unexpected retry")
		return
	}

	s.setState(func(st *domain.ConversationState) {
		st.CallState = domain.CallStateGather
		st.CallStateReason = ""
	})
	if st.Outgoing {
		s.setupOutgoingCall()
	}
}

func (s *ConversationStore) mediaConnected() error {
	if s.conn == nil {
		s.logger().Warn().Msg("Media connected without a websocket")
		return nil
	}
	return s.conn.MediaUp()
}

func (s *ConversationStore) setMute(a domain.SetMute) {
	s.setState(func(st *domain.ConversationState) {
		switch a.Type {
		case domain.MuteAudio:
			st.AudioMuted = !a.Enabled
		case domain.MuteVideo:
			st.VideoMuted = !a.Enabled
		}
	})
}

func (s *ConversationStore) windowUnload() {
	st := s.State()
	if st.CallState == domain.CallStateInit || st.CallState.Terminal() {
		return
	}
	s.endSession()
	s.setCallState(domain.CallStateClose)
}

func (s *ConversationStore) setCallState(cs domain.CallState) {
	s.setState(func(st *domain.ConversationState) {
		st.CallState = cs
	})
}
