package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/loop/internal/core/dispatcher"
	"github.com/Wyydra/loop/internal/core/domain"
	"github.com/Wyydra/loop/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMedia struct{ mock.Mock }

func (m *mockMedia) ConnectSession(p domain.SessionParams) { m.Called(p) }
func (m *mockMedia) DisconnectSession()                    { m.Called() }
func (m *mockMedia) RetryPublishWithoutVideo()             { m.Called() }

type mockMarker struct{ mock.Mock }

func (m *mockMarker) SetCallInProgress(id domain.WindowID)   { m.Called(id) }
func (m *mockMarker) ClearCallInProgress(id domain.WindowID) { m.Called(id) }

type mockContexts struct{ mock.Mock }

func (m *mockContexts) AddConversationContext(windowID domain.WindowID, sessionID, callID string) {
	m.Called(windowID, sessionID, callID)
}

type setupCall struct {
	addresses []string
	callType  domain.CallType
}

type fakeClient struct {
	mu         sync.Mutex
	setupCalls []setupCall
	session    domain.SessionData
	setupErr   error
	rooms      []domain.RoomRequest
	room       domain.RoomInfo
	roomErr    error
}

func (c *fakeClient) SetupOutgoingCall(_ context.Context, addresses []string, callType domain.CallType) (domain.SessionData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setupCalls = append(c.setupCalls, setupCall{addresses: addresses, callType: callType})
	return c.session, c.setupErr
}

func (c *fakeClient) CreateRoom(_ context.Context, req domain.RoomRequest) (domain.RoomInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = append(c.rooms, req)
	return c.room, c.roomErr
}

func (c *fakeClient) calls() []setupCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]setupCall(nil), c.setupCalls...)
}

type fakeConn struct {
	params       domain.ConnectionParams
	connectState domain.WSState
	connectErr   error
	progress     chan domain.ProgressEvent

	mu         sync.Mutex
	cancels    int
	mediaFails int
	mediaUps   int
	closes     int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		connectState: domain.WSStateInit,
		progress:     make(chan domain.ProgressEvent, 8),
	}
}

func (c *fakeConn) Connect(context.Context) (domain.WSState, error) {
	return c.connectState, c.connectErr
}

func (c *fakeConn) Progress() <-chan domain.ProgressEvent { return c.progress }

func (c *fakeConn) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels++
	return nil
}

func (c *fakeConn) MediaFail() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mediaFails++
	return nil
}

func (c *fakeConn) MediaUp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mediaUps++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) counts() (cancels, mediaFails, mediaUps, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancels, c.mediaFails, c.mediaUps, c.closes
}

type fakeFactory struct {
	next  func() *fakeConn
	conns []*fakeConn
}

func (f *fakeFactory) NewConnection(params domain.ConnectionParams) port.CallConnection {
	c := newFakeConn()
	if f.next != nil {
		c = f.next()
	}
	c.params = params
	f.conns = append(f.conns, c)
	return c
}

type harness struct {
	d        *dispatcher.Dispatcher
	store    *ConversationStore
	client   *fakeClient
	media    *mockMedia
	marker   *mockMarker
	contexts *mockContexts
	factory  *fakeFactory
}

var fakeSessionData = domain.SessionData{
	CallID:         "142536",
	ProgressURL:    "wss://fake",
	WebsocketToken: "543210",
	APIKey:         "fakeKey",
	SessionID:      "321456",
	SessionToken:   "341256",
}

var fakeContact = &domain.Contact{
	Name:  []string{"Mr Smith"},
	Email: []domain.ContactField{{Type: "home", Value: "fakeEmail", Pref: true}},
}

func newHarness(t *testing.T, desktop bool) *harness {
	t.Helper()

	h := &harness{
		d:        dispatcher.New(),
		client:   &fakeClient{session: fakeSessionData},
		media:    &mockMedia{},
		marker:   &mockMarker{},
		contexts: &mockContexts{},
		factory:  &fakeFactory{},
	}
	h.media.On("ConnectSession", mock.Anything).Return()
	h.media.On("DisconnectSession").Return()
	h.media.On("RetryPublishWithoutVideo").Return()
	h.marker.On("SetCallInProgress", mock.Anything).Return()
	h.marker.On("ClearCallInProgress", mock.Anything).Return()
	h.contexts.On("AddConversationContext", mock.Anything, mock.Anything, mock.Anything).Return()

	store, err := NewConversationStore(h.d, ConversationDeps{
		Client:      h.client,
		Media:       h.media,
		Connections: h.factory,
		Marker:      h.marker,
		Contexts:    h.contexts,
		Desktop:     desktop,
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	h.store = store
	return h
}

func (h *harness) dispatch(t *testing.T, a domain.Action) {
	t.Helper()
	require.NoError(t, h.d.Dispatch(a))
}

func (h *harness) step(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.d.Step(ctx))
}

// registered simulates a store that already went through window setup.
func (h *harness) registered(t *testing.T, windowID domain.WindowID, outgoing bool) {
	t.Helper()
	h.d.Register(h.store, conversationActions...)
	h.store.setState(func(st *domain.ConversationState) {
		st.WindowID = windowID
		st.Outgoing = outgoing
	})
}

func (h *harness) withState(cs domain.CallState) {
	h.store.setCallState(cs)
}

func (h *harness) withConn() *fakeConn {
	c := newFakeConn()
	h.store.conn = c
	h.store.stopListening = func() {}
	return c
}

func (h *harness) callState() domain.CallState {
	return h.store.State().CallState
}

func TestNewConversationStore_MissingDeps(t *testing.T) {
	d := dispatcher.New()
	full := ConversationDeps{
		Client:      &fakeClient{},
		Media:       &mockMedia{},
		Connections: &fakeFactory{},
		Marker:      &mockMarker{},
		Contexts:    &mockContexts{},
	}

	tests := []struct {
		name  string
		strip func(*ConversationDeps)
	}{
		{"client", func(d *ConversationDeps) { d.Client = nil }},
		{"media", func(d *ConversationDeps) { d.Media = nil }},
		{"connections", func(d *ConversationDeps) { d.Connections = nil }},
		{"marker", func(d *ConversationDeps) { d.Marker = nil }},
		{"contexts", func(d *ConversationDeps) { d.Contexts = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.strip(&deps)
			_, err := NewConversationStore(d, deps)
			assert.Error(t, err)
		})
	}

	_, err := NewConversationStore(nil, full)
	assert.Error(t, err)
}

func TestConversationStore_InitialState(t *testing.T) {
	h := newHarness(t, false)
	st := h.store.State()
	assert.Equal(t, domain.CallStateInit, st.CallState)
	assert.Equal(t, domain.CallTypeAudioVideo, st.CallType)
	assert.False(t, st.AudioMuted)
	assert.False(t, st.VideoMuted)
}

func TestSetupWindowData_Outgoing(t *testing.T) {
	h := newHarness(t, false)

	h.dispatch(t, domain.SetupWindowData{
		WindowID: "42",
		Type:     domain.WindowOutgoing,
		Contact:  fakeContact,
		CallType: domain.CallTypeAudioVideo,
	})

	st := h.store.State()
	assert.Equal(t, domain.CallStateGather, st.CallState)
	assert.True(t, st.Outgoing)
	assert.Equal(t, domain.WindowID("42"), st.WindowID)
	assert.Equal(t, fakeContact, st.Contact)
	assert.False(t, st.VideoMuted)
	h.marker.AssertCalled(t, "SetCallInProgress", domain.WindowID("42"))

	// ConnectCall arrives on the next turn.
	h.step(t)
	require.Equal(t, []setupCall{{addresses: []string{"fakeEmail"}, callType: domain.CallTypeAudioVideo}}, h.client.calls())

	st = h.store.State()
	assert.Equal(t, "142536", st.CallID)
	assert.Equal(t, "wss://fake", st.ProgressURL)
	assert.Equal(t, "543210", st.WebsocketToken)
	assert.Equal(t, "fakeKey", st.APIKey)
	assert.Equal(t, "321456", st.SessionID)
	assert.Equal(t, "341256", st.SessionToken)

	require.Len(t, h.factory.conns, 1)
	assert.Equal(t, domain.ConnectionParams{
		URL:            "wss://fake",
		CallID:         "142536",
		WebsocketToken: "543210",
	}, h.factory.conns[0].params)
}

func TestSetupWindowData_AddressesIncludeStrippedPhones(t *testing.T) {
	h := newHarness(t, false)
	contact := &domain.Contact{
		Email: []domain.ContactField{{Value: "a@example.com"}},
		Tel:   []domain.ContactField{{Value: "+1 (555) 010-99", Pref: true}, {Value: "0 800 123"}},
	}

	h.dispatch(t, domain.SetupWindowData{WindowID: "1", Type: domain.WindowOutgoing, Contact: contact})
	h.step(t)

	calls := h.client.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"a@example.com", "+155501099", "0800123"}, calls[0].addresses)
}

func TestSetupWindowData_AudioOnlyMutesVideo(t *testing.T) {
	h := newHarness(t, false)
	h.client.setupErr = errors.New("offline")

	h.dispatch(t, domain.SetupWindowData{
		WindowID: "42",
		Type:     domain.WindowOutgoing,
		Contact:  fakeContact,
		CallType: domain.CallTypeAudioOnly,
	})

	assert.True(t, h.store.State().VideoMuted)
	assert.Equal(t, domain.CallTypeAudioOnly, h.store.State().CallType)
}

func TestSetupWindowData_Incoming(t *testing.T) {
	h := newHarness(t, false)

	h.dispatch(t, domain.SetupWindowData{WindowID: "7", Type: domain.WindowIncoming, CallerID: "caller"})

	st := h.store.State()
	assert.Equal(t, domain.CallStateGather, st.CallState)
	assert.False(t, st.Outgoing)
	assert.Equal(t, "caller", st.CallerID)
	h.marker.AssertNotCalled(t, "SetCallInProgress", mock.Anything)
	assert.Empty(t, h.client.calls())
}

func TestSetupWindowData_OtherWindowTypesIgnored(t *testing.T) {
	h := newHarness(t, false)

	h.dispatch(t, domain.SetupWindowData{WindowID: "42", Type: "room"})

	assert.Equal(t, domain.CallStateInit, h.callState())
	// Not registered for conversation actions.
	h.dispatch(t, domain.HangupCall{})
	assert.Equal(t, domain.CallStateInit, h.callState())
}

func TestOutgoingCall_FullProgress(t *testing.T) {
	h := newHarness(t, false)

	h.dispatch(t, domain.SetupWindowData{WindowID: "42", Type: domain.WindowOutgoing, Contact: fakeContact})
	h.step(t) // ConnectCall
	h.step(t) // ConnectionProgress{init}
	assert.Equal(t, domain.CallStateConnecting, h.callState())

	conn := h.factory.conns[0]
	conn.progress <- domain.ProgressEvent{State: domain.WSStateAlerting}
	h.step(t)
	assert.Equal(t, domain.CallStateAlerting, h.callState())

	conn.progress <- domain.ProgressEvent{State: domain.WSStateConnecting}
	h.step(t)
	assert.Equal(t, domain.CallStateOngoing, h.callState())
	h.media.AssertCalled(t, "ConnectSession", domain.SessionParams{
		APIKey:       "fakeKey",
		SessionID:    "321456",
		SessionToken: "341256",
	})
	h.contexts.AssertCalled(t, "AddConversationContext", domain.WindowID("42"), "321456", "142536")

	conn.progress <- domain.ProgressEvent{State: domain.WSStateTerminated, Reason: domain.WSReasonClosed}
	h.step(t)
	st := h.store.State()
	assert.Equal(t, domain.CallStateTerminated, st.CallState)
	assert.Equal(t, domain.WSReasonClosed, st.CallStateReason)

	_, _, _, closes := conn.counts()
	assert.Equal(t, 1, closes)
}

func TestOutgoingCall_SetupFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"generic error", errors.New("network"), domain.ReasonSetup},
		{"user unavailable", &domain.RESTError{Code: 404, Errno: domain.ErrnoUserUnavailable}, "122"},
		{"other server error", &domain.RESTError{Code: 400, Errno: domain.ErrnoInvalidToken}, domain.ReasonSetup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, false)
			h.client.setupErr = tt.err

			h.dispatch(t, domain.SetupWindowData{WindowID: "42", Type: domain.WindowOutgoing, Contact: fakeContact})
			h.step(t)

			st := h.store.State()
			assert.Equal(t, domain.CallStateTerminated, st.CallState)
			assert.Equal(t, tt.reason, st.CallStateReason)
			assert.Empty(t, h.factory.conns)
		})
	}
}

func TestOutgoingCall_UnusableSessionData(t *testing.T) {
	h := newHarness(t, false)
	h.client.session = domain.SessionData{}

	h.dispatch(t, domain.SetupWindowData{WindowID: "42", Type: domain.WindowOutgoing, Contact: fakeContact})
	h.step(t)

	assert.Equal(t, domain.CallStateTerminated, h.callState())
	assert.Equal(t, domain.ReasonSetup, h.store.State().CallStateReason)
}

func TestConnectCall_WebsocketSetupFailure(t *testing.T) {
	h := newHarness(t, false)
	h.registered(t, "42", true)
	h.withState(domain.CallStateGather)
	h.factory.next = func() *fakeConn {
		c := newFakeConn()
		c.connectErr = errors.New("refused")
		return c
	}

	h.dispatch(t, domain.ConnectCall{SessionData: fakeSessionData})
	h.step(t)

	st := h.store.State()
	assert.Equal(t, domain.CallStateTerminated, st.CallState)
	assert.Equal(t, domain.ReasonWebsocketSetup, st.CallStateReason)
	_, _, _, closes := h.factory.conns[0].counts()
	assert.Equal(t, 1, closes)
}

func TestConnectionFailure_Terminates(t *testing.T) {
	h := newHarness(t, false)
	h.registered(t, "42", true)
	h.withState(domain.CallStateOngoing)
	conn := h.withConn()

	h.dispatch(t, domain.ConnectionFailure{Reason: "fake"})

	st := h.store.State()
	assert.Equal(t, domain.CallStateTerminated, st.CallState)
	assert.Equal(t, "fake", st.CallStateReason)
	h.media.AssertNumberOfCalls(t, "DisconnectSession", 1)
	h.marker.AssertNumberOfCalls(t, "ClearCallInProgress", 1)
	h.marker.AssertCalled(t, "ClearCallInProgress", domain.WindowID("42"))

	_, _, _, closes := conn.counts()
	assert.Equal(t, 1, closes)
	assert.Nil(t, h.store.conn)
}

func TestConnectionFailure_IgnoredWhenTerminal(t *testing.T) {
	for _, cs := range []domain.CallState{domain.CallStateFinished, domain.CallStateClose, domain.CallStateTerminated} {
		t.Run(string(cs), func(t *testing.T) {
			h := newHarness(t, false)
			h.registered(t, "42", true)
			h.withState(cs)

			h.dispatch(t, domain.ConnectionFailure{Reason: "late"})

			assert.Equal(t, cs, h.callState())
			assert.NotEqual(t, "late", h.store.State().CallStateReason)
			h.media.AssertNotCalled(t, "DisconnectSession")
		})
	}
}

func TestConnectionFailure_DesktopRetriesWithoutVideoOnce(t *testing.T) {
	h := newHarness(t, true)
	h.registered(t, "42", true)
	h.withState(domain.CallStateOngoing)

	h.dispatch(t, domain.ConnectionFailure{Reason: domain.ReasonUnableToPublishMedia})

	st := h.store.State()
	assert.Equal(t, domain.CallStateOngoing, st.CallState)
	assert.True(t, st.VideoMuted)
	h.media.AssertNumberOfCalls(t, "RetryPublishWithoutVideo", 1)
	h.media.AssertNotCalled(t, "DisconnectSession")

	h.dispatch(t, domain.ConnectionFailure{Reason: domain.ReasonUnableToPublishMedia})

	st = h.store.State()
	assert.Equal(t, domain.CallStateTerminated, st.CallState)
	assert.Equal(t, domain.ReasonUnableToPublishMedia, st.CallStateReason)
	h.media.AssertNumberOfCalls(t, "RetryPublishWithoutVideo", 1)
	h.media.AssertNumberOfCalls(t, "DisconnectSession", 1)
}

func TestConnectionFailure_UnableToPublishOutsideDesktop(t *testing.T) {
	h := newHarness(t, false)
	h.registered(t, "42", true)
	h.withState(domain.CallStateOngoing)

	h.dispatch(t, domain.ConnectionFailure{Reason: domain.ReasonUnableToPublishMedia})

	assert.Equal(t, domain.CallStateTerminated, h.callState())
	h.media.AssertNotCalled(t, "RetryPublishWithoutVideo")
}

func TestConnectionProgress(t *testing.T) {
	tests := []struct {
		name string
		from domain.CallState
		ws   domain.WSState
		want domain.CallState
	}{
		{"init from gather", domain.CallStateGather, domain.WSStateInit, domain.CallStateConnecting},
		{"init from alerting", domain.CallStateAlerting, domain.WSStateInit, domain.CallStateAlerting},
		{"alerting from gather", domain.CallStateGather, domain.WSStateAlerting, domain.CallStateAlerting},
		{"alerting from init", domain.CallStateInit, domain.WSStateAlerting, domain.CallStateAlerting},
		{"half-connected", domain.CallStateAlerting, domain.WSStateHalfConnected, domain.CallStateOngoing},
		{"connected", domain.CallStateGather, domain.WSStateConnected, domain.CallStateOngoing},
		{"unknown state", domain.CallStateAlerting, "bogus", domain.CallStateAlerting},
		{"after finish", domain.CallStateFinished, domain.WSStateAlerting, domain.CallStateFinished},
		{"after terminate", domain.CallStateTerminated, domain.WSStateConnected, domain.CallStateTerminated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, false)
			h.registered(t, "42", true)
			h.withState(tt.from)

			h.dispatch(t, domain.ConnectionProgress{WSState: tt.ws})

			assert.Equal(t, tt.want, h.callState())
			h.media.AssertNotCalled(t, "ConnectSession", mock.Anything)
		})
	}
}

func TestConnectionProgress_ConnectingStartsMedia(t *testing.T) {
	h := newHarness(t, false)
	h.registered(t, "28", true)
	h.withState(domain.CallStateAlerting)
	h.store.setState(func(st *domain.ConversationState) {
		st.APIKey = "fakeKey"
		st.SessionID = "321456"
		st.SessionToken = "341256"
		st.CallID = "142536"
	})

	var stateAtConnect domain.CallState
	h.media.ExpectedCalls = nil
	h.media.On("ConnectSession", mock.Anything).Run(func(mock.Arguments) {
		stateAtConnect = h.callState()
	}).Return()

	h.dispatch(t, domain.ConnectionProgress{WSState: domain.WSStateConnecting})

	h.media.AssertNumberOfCalls(t, "ConnectSession", 1)
	h.media.AssertCalled(t, "ConnectSession", domain.SessionParams{
		APIKey:       "fakeKey",
		SessionID:    "321456",
		SessionToken: "341256",
	})
	h.contexts.AssertNumberOfCalls(t, "AddConversationContext", 1)
	h.contexts.AssertCalled(t, "AddConversationContext", domain.WindowID("28"), "321456", "142536")
	assert.Equal(t, domain.CallStateAlerting, stateAtConnect)
	assert.Equal(t, domain.CallStateOngoing, h.callState())
}

func TestHangupCall(t *testing.T) {
	h := newHarness(t, false)
	h.registered(t, "42", true)
	h.withState(domain.CallStateOngoing)
	conn := h.withConn()

	h.dispatch(t, domain.HangupCall{})

	assert.Equal(t, domain.CallStateFinished, h.callState())
	_, mediaFails, _, closes := conn.counts()
	assert.Equal(t, 1, mediaFails)
	assert.Equal(t, 1, closes)
	h.media.AssertNumberOfCalls(t, "DisconnectSession", 1)
	h.marker.AssertCalled(t, "ClearCallInProgress", domain.WindowID("42"))
}

func TestHangupCall_WithoutConnection(t *testing.T) {
	h := newHarness(t, false)
	h.registered(t, "42", true)
	h.withState(domain.CallStateGather)

	h.dispatch(t, domain.HangupCall{})

	assert.Equal(t, domain.CallStateFinished, h.callState())
	h.media.AssertNumberOfCalls(t, "DisconnectSession", 1)
}

func TestRemotePeerDisconnected(t *testing.T) {
	t.Run("peer hung up", func(t *testing.T) {
		h := newHarness(t, false)
		h.registered(t, "42", true)
		h.withState(domain.CallStateOngoing)
		conn := h.withConn()

		h.dispatch(t, domain.RemotePeerDisconnected{PeerHungup: true})

		assert.Equal(t, domain.CallStateFinished, h.callState())
		_, _, _, closes := conn.counts()
		assert.Equal(t, 1, closes)
		h.media.AssertNumberOfCalls(t, "DisconnectSession", 1)
	})

	t.Run("peer dropped", func(t *testing.T) {
		h := newHarness(t, false)
		h.registered(t, "42", true)
		h.withState(domain.CallStateOngoing)

		h.dispatch(t, domain.RemotePeerDisconnected{PeerHungup: false})

		st := h.store.State()
		assert.Equal(t, domain.CallStateTerminated, st.CallState)
		assert.Equal(t, domain.ReasonPeerNetworkDisconnected, st.CallStateReason)
		h.marker.AssertNumberOfCalls(t, "ClearCallInProgress", 1)
	})
}

func TestCancelCall(t *testing.T) {
	tests := []struct {
		name        string
		from        domain.CallState
		wantCancels int
	}{
		{"connecting", domain.CallStateConnecting, 1},
		{"alerting", domain.CallStateAlerting, 1},
		{"terminated", domain.CallStateTerminated, 0},
		{"ongoing", domain.CallStateOngoing, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, false)
			h.registered(t, "42", true)
			h.withState(tt.from)
			conn := h.withConn()

			h.dispatch(t, domain.CancelCall{})

			assert.Equal(t, domain.CallStateClose, h.callState())
			cancels, _, _, closes := conn.counts()
			assert.Equal(t, tt.wantCancels, cancels)
			assert.Equal(t, 1, closes)
			h.media.AssertNumberOfCalls(t, "DisconnectSession", 1)
			h.marker.AssertCalled(t, "ClearCallInProgress", domain.WindowID("42"))
		})
	}
}

func TestCancelCall_FromTerminatedWithoutConnection(t *testing.T) {
	h := newHarness(t, false)
	h.registered(t, "42", true)
	h.withState(domain.CallStateTerminated)

	h.dispatch(t, domain.CancelCall{})

	assert.Equal(t, domain.CallStateClose, h.callState())
}

func TestCancelCall_DropsPendingSetupResult(t *testing.T) {
	h := newHarness(t, false)

	h.dispatch(t, domain.SetupWindowData{WindowID: "42", Type: domain.WindowOutgoing, Contact: fakeContact})
	h.dispatch(t, domain.CancelCall{})
	h.step(t)

	assert.Equal(t, domain.CallStateClose, h.callState())
	assert.Empty(t, h.factory.conns)
}

func TestRetryCall(t *testing.T) {
	t.Run("ignored outside terminated", func(t *testing.T) {
		for _, cs := range []domain.CallState{
			domain.CallStateInit, domain.CallStateGather, domain.CallStateConnecting,
			domain.CallStateAlerting, domain.CallStateOngoing, domain.CallStateFinished, domain.CallStateClose,
		} {
			h := newHarness(t, false)
			h.registered(t, "42", true)
			h.withState(cs)

			h.dispatch(t, domain.RetryCall{})

			assert.Equal(t, cs, h.callState())
			assert.Empty(t, h.client.calls())
		}
	})

	t.Run("outgoing re-runs setup", func(t *testing.T) {
		h := newHarness(t, false)
		h.client.setupErr = errors.New("offline")

		h.dispatch(t, domain.SetupWindowData{WindowID: "42", Type: domain.WindowOutgoing, Contact: fakeContact})
		h.step(t)
		require.Equal(t, domain.CallStateTerminated, h.callState())

		h.client.mu.Lock()
		h.client.setupErr = nil
		h.client.mu.Unlock()

		h.dispatch(t, domain.RetryCall{})
		assert.Equal(t, domain.CallStateGather, h.callState())
		assert.Empty(t, h.store.State().CallStateReason)

		h.step(t)
		assert.Len(t, h.client.calls(), 2)
		require.Len(t, h.factory.conns, 1)
		h.marker.AssertNumberOfCalls(t, "SetCallInProgress", 2)
	})

	t.Run("incoming only resets", func(t *testing.T) {
		h := newHarness(t, false)
		h.registered(t, "42", false)
		h.withState(domain.CallStateTerminated)

		h.dispatch(t, domain.RetryCall{})

		assert.Equal(t, domain.CallStateGather, h.callState())
		assert.Empty(t, h.client.calls())
	})
}

func TestMediaConnected(t *testing.T) {
	h := newHarness(t, false)
	h.registered(t, "42", true)

	// no websocket yet
	h.dispatch(t, domain.MediaConnected{})
	assert.Equal(t, domain.CallStateInit, h.callState())

	conn := h.withConn()
	h.dispatch(t, domain.MediaConnected{})
	_, _, mediaUps, _ := conn.counts()
	assert.Equal(t, 1, mediaUps)
}

func TestConnectCall_ReplacesPreviousConnection(t *testing.T) {
	h := newHarness(t, false)
	h.registered(t, "42", true)

	h.dispatch(t, domain.ConnectCall{SessionData: fakeSessionData})
	h.dispatch(t, domain.ConnectCall{SessionData: fakeSessionData})

	require.Len(t, h.factory.conns, 2)
	first, second := h.factory.conns[0], h.factory.conns[1]
	_, _, _, firstCloses := first.counts()
	_, _, _, secondCloses := second.counts()
	assert.Equal(t, 1, firstCloses)
	assert.Equal(t, 0, secondCloses)
	assert.Same(t, second, h.store.conn)

	h.dispatch(t, domain.HangupCall{})
	_, _, _, firstCloses = first.counts()
	_, _, _, secondCloses = second.counts()
	assert.Equal(t, 1, firstCloses)
	assert.Equal(t, 1, secondCloses)
}

func TestSetMute(t *testing.T) {
	h := newHarness(t, false)
	h.registered(t, "42", true)

	h.dispatch(t, domain.SetMute{Type: domain.MuteAudio, Enabled: false})
	assert.True(t, h.store.State().AudioMuted)

	h.dispatch(t, domain.SetMute{Type: domain.MuteVideo, Enabled: false})
	assert.True(t, h.store.State().VideoMuted)

	h.dispatch(t, domain.SetMute{Type: domain.MuteAudio, Enabled: true})
	assert.False(t, h.store.State().AudioMuted)
	assert.True(t, h.store.State().VideoMuted)
}

func TestFetchRoomEmailLink(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h := newHarness(t, false)
		h.registered(t, "42", true)
		h.client.room = domain.RoomInfo{RoomURL: "http://fake.invalid/"}

		h.dispatch(t, domain.FetchRoomEmailLink{RoomOwner: "bob", RoomName: "FakeRoomName"})
		h.step(t)

		assert.Equal(t, "http://fake.invalid/", h.store.State().EmailLink)
		assert.False(t, h.store.State().EmailLinkError)
		require.Len(t, h.client.rooms, 1)
		assert.Equal(t, domain.RoomRequest{
			RoomName:  "FakeRoomName",
			RoomOwner: "bob",
			MaxSize:   domain.MaxRoomCreationSize,
			ExpiresIn: domain.DefaultExpiresIn,
		}, h.client.rooms[0])
	})

	t.Run("failure", func(t *testing.T) {
		h := newHarness(t, false)
		h.registered(t, "42", true)
		h.client.roomErr = errors.New("nope")

		h.dispatch(t, domain.FetchRoomEmailLink{RoomOwner: "bob", RoomName: "FakeRoomName"})
		h.step(t)

		assert.Empty(t, h.store.State().EmailLink)
		assert.True(t, h.store.State().EmailLinkError)
	})
}

func TestWindowUnload(t *testing.T) {
	h := newHarness(t, false)
	h.registered(t, "42", true)
	h.withState(domain.CallStateAlerting)
	conn := h.withConn()

	h.dispatch(t, domain.WindowUnload{})

	assert.Equal(t, domain.CallStateClose, h.callState())
	_, _, _, closes := conn.counts()
	assert.Equal(t, 1, closes)

	// Nothing left to tear down.
	h.dispatch(t, domain.WindowUnload{})
	h.media.AssertNumberOfCalls(t, "DisconnectSession", 1)
}

func TestEndSession_Idempotent(t *testing.T) {
	h := newHarness(t, false)
	h.registered(t, "42", true)
	conn := h.withConn()

	h.store.endSession()
	h.store.endSession()

	_, _, _, closes := conn.counts()
	assert.Equal(t, 1, closes)
	h.media.AssertNumberOfCalls(t, "DisconnectSession", 2)
	h.marker.AssertNumberOfCalls(t, "ClearCallInProgress", 2)
}

func TestStaleProgressIsDropped(t *testing.T) {
	h := newHarness(t, false)
	h.registered(t, "42", true)
	h.withState(domain.CallStateGather)
	old := h.withConn()

	h.dispatch(t, domain.HangupCall{})
	nop := zerolog.Nop()
	h.store.deliver(old, domain.ConnectionFailure{Reason: "late"}, &nop)
	h.step(t)

	st := h.store.State()
	assert.Equal(t, domain.CallStateFinished, st.CallState)
	assert.Empty(t, st.CallStateReason)
}

func TestOnChange(t *testing.T) {
	h := newHarness(t, false)
	var seen []domain.CallState
	h.store.OnChange(func(st domain.ConversationState) {
		seen = append(seen, st.CallState)
	})

	h.registered(t, "42", true)
	h.withState(domain.CallStateOngoing)
	h.dispatch(t, domain.HangupCall{})

	require.NotEmpty(t, seen)
	assert.Equal(t, domain.CallStateFinished, seen[len(seen)-1])
	assert.Contains(t, seen, domain.CallStateOngoing)
}
