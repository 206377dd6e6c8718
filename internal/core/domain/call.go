package domain

// CallState is the conversation store's top-level lifecycle phase.
type CallState string

const (
	CallStateInit       CallState = "cs-init"       // initial state of the window
	CallStateGather     CallState = "cs-gather"     // gathering call data from the server
	CallStateConnecting CallState = "cs-connecting" // websocket up, waiting for the other side
	CallStateAlerting   CallState = "cs-alerting"   // the peer is being alerted
	CallStateOngoing    CallState = "cs-ongoing"
	CallStateFinished   CallState = "cs-finished" // call ended normally
	CallStateClose      CallState = "cs-close"    // user is done with the window
	CallStateTerminated CallState = "cs-terminated"
)

// Terminal reports whether the state only moves on through an explicit
// retry or a new window setup.
func (s CallState) Terminal() bool {
	switch s {
	case CallStateFinished, CallStateClose, CallStateTerminated:
		return true
	}
	return false
}

// WSState is a call-progress state reported by the signaling websocket.
type WSState string

const (
	WSStateInit          WSState = "init"
	WSStateAlerting      WSState = "alerting"
	WSStateTerminated    WSState = "terminated"
	WSStateConnecting    WSState = "connecting"     // callee answered, media not confirmed yet
	WSStateHalfConnected WSState = "half-connected" // one side reported media up
	WSStateConnected     WSState = "connected"
)

func (s WSState) Valid() bool {
	switch s {
	case WSStateInit, WSStateAlerting, WSStateTerminated,
		WSStateConnecting, WSStateHalfConnected, WSStateConnected:
		return true
	}
	return false
}

type CallType string

const (
	CallTypeAudioVideo CallType = "audio-video"
	CallTypeAudioOnly  CallType = "audio"
)

// WindowType selects which store owns a conversation window.
type WindowType string

const (
	WindowOutgoing WindowType = "outgoing"
	WindowIncoming WindowType = "incoming"
)

// Failure reasons carried by ConnectionFailure.
const (
	ReasonSetup                   = "setup"
	ReasonWebsocketSetup          = "websocket-setup"
	ReasonPeerNetworkDisconnected = "peerNetworkDisconnected"

	ReasonMediaDenied          = "reason-media-denied"
	ReasonUnableToPublishMedia = "unable-to-publish-media"
	ReasonCouldNotConnect      = "reason-could-not-connect"
	ReasonNetworkDisconnected  = "reason-network-disconnected"
	ReasonExpiredOrInvalid     = "reason-expired-or-invalid"
	ReasonUnknown              = "reason-unknown"
)

// Reasons used on the progress websocket.
const (
	WSReasonAnsweredElsewhere = "answered-elsewhere"
	WSReasonBusy              = "busy"
	WSReasonCancel            = "cancel"
	WSReasonClosed            = "closed"
	WSReasonMediaFail         = "media-fail"
	WSReasonReject            = "reject"
	WSReasonTimeout           = "timeout"
)

// Error numbers returned by the call server.
const (
	ErrnoInvalidToken    = 105
	ErrnoExpired         = 111
	ErrnoUserUnavailable = 122
	ErrnoRoomFull        = 202
)

// Room creation defaults for email links.
const (
	MaxRoomCreationSize = 2
	DefaultExpiresIn    = 5 // hours
)

// SessionData is what the server hands back for one call attempt.
type SessionData struct {
	CallID         string `json:"callId"`
	CallerID       string `json:"callerId,omitempty"`
	ProgressURL    string `json:"progressURL"`
	WebsocketToken string `json:"websocketToken"`
	APIKey         string `json:"apiKey"`
	SessionID      string `json:"sessionId"`
	SessionToken   string `json:"sessionToken"`
}

// SessionParams is the subset of SessionData the media driver needs.
type SessionParams struct {
	APIKey       string
	SessionID    string
	SessionToken string
}

// ConnectionParams identifies the progress websocket of a call.
type ConnectionParams struct {
	URL            string
	CallID         string
	WebsocketToken string
}

// ProgressEvent is one state transition reported by the progress websocket.
type ProgressEvent struct {
	State  WSState
	Reason string
}

// RoomRequest asks the server for a new room.
type RoomRequest struct {
	RoomName  string `json:"roomName"`
	RoomOwner string `json:"roomOwner"`
	MaxSize   int    `json:"maxSize"`
	ExpiresIn int    `json:"expiresIn"`
}

type RoomInfo struct {
	RoomToken string `json:"roomToken"`
	RoomURL   string `json:"roomUrl"`
	ExpiresAt int64  `json:"expiresAt"`
}

// ConversationContext links a window to the media session of its call.
type ConversationContext struct {
	WindowID  WindowID `json:"windowId"`
	SessionID string   `json:"sessionId"`
	CallID    string   `json:"callId"`
}

// ConversationState is a snapshot of the conversation store.
type ConversationState struct {
	WindowID        WindowID  `json:"windowId"`
	CallState       CallState `json:"callState"`
	CallStateReason string    `json:"callStateReason,omitempty"`
	Outgoing        bool      `json:"outgoing"`
	Contact         *Contact  `json:"contact,omitempty"`
	CallType        CallType  `json:"callType"`
	EmailLink       string    `json:"emailLink,omitempty"`
	EmailLinkError  bool      `json:"emailLinkError,omitempty"`

	CallID         string `json:"callId,omitempty"`
	CallerID       string `json:"callerId,omitempty"`
	ProgressURL    string `json:"progressURL,omitempty"`
	WebsocketToken string `json:"-"`
	APIKey         string `json:"-"`
	SessionID      string `json:"sessionId,omitempty"`
	SessionToken   string `json:"-"`

	AudioMuted bool `json:"audioMuted"`
	VideoMuted bool `json:"videoMuted"`
}
