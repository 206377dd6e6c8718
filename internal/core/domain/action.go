package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ActionName is the wire tag of an action.
type ActionName string

const (
	ActionGetWindowData          ActionName = "getWindowData"
	ActionSetupWindowData        ActionName = "setupWindowData"
	ActionFetchRoomEmailLink     ActionName = "fetchRoomEmailLink"
	ActionCancelCall             ActionName = "cancelCall"
	ActionRetryCall              ActionName = "retryCall"
	ActionConnectCall            ActionName = "connectCall"
	ActionHangupCall             ActionName = "hangupCall"
	ActionRemotePeerDisconnected ActionName = "remotePeerDisconnected"
	ActionConnectionProgress     ActionName = "connectionProgress"
	ActionConnectionFailure      ActionName = "connectionFailure"
	ActionConnectedToSdkServers  ActionName = "connectedToSdkServers"
	ActionRemotePeerConnected    ActionName = "remotePeerConnected"
	ActionGotMediaPermission     ActionName = "gotMediaPermission"
	ActionMediaConnected         ActionName = "mediaConnected"
	ActionSetMute                ActionName = "setMute"
	ActionWindowUnload           ActionName = "windowUnload"
)

// Action is a named message routed by the dispatcher. Every concrete action
// is an immutable value type.
type Action interface {
	Name() ActionName
}

type validator interface {
	Validate() error
}

// GetWindowData asks the host for the data of a window.
type GetWindowData struct {
	WindowID WindowID `json:"windowId"`
}

// SetupWindowData hands the window data to the stores. Contact, CallType
// and CallerID are optional and depend on the window type.
type SetupWindowData struct {
	WindowID WindowID   `json:"windowId"`
	Type     WindowType `json:"type"`
	Contact  *Contact   `json:"contact,omitempty"`
	CallType CallType   `json:"callType,omitempty"`
	CallerID string     `json:"callerId,omitempty"`
}

// FetchRoomEmailLink requests a room url to email to an unreachable contact.
type FetchRoomEmailLink struct {
	RoomOwner string `json:"roomOwner"`
	RoomName  string `json:"roomName"`
}

type CancelCall struct{}

type RetryCall struct{}

// ConnectCall starts the progress websocket with the data from the server.
type ConnectCall struct {
	SessionData SessionData `json:"sessionData"`
}

type HangupCall struct{}

// RemotePeerDisconnected reports the peer leaving; PeerHungup is false when
// the peer dropped off the network.
type RemotePeerDisconnected struct {
	PeerHungup bool `json:"peerHungup"`
}

type ConnectionProgress struct {
	WSState WSState `json:"wsState"`
}

type ConnectionFailure struct {
	Reason string `json:"reason"`
}

type ConnectedToSdkServers struct{}

type RemotePeerConnected struct{}

type GotMediaPermission struct{}

type MediaConnected struct{}

type MuteType string

const (
	MuteAudio MuteType = "audio"
	MuteVideo MuteType = "video"
)

// SetMute enables or disables a stream; Enabled true means not muted.
type SetMute struct {
	Type    MuteType `json:"type"`
	Enabled bool     `json:"enabled"`
}

type WindowUnload struct{}

func (GetWindowData) Name() ActionName          { return ActionGetWindowData }
func (SetupWindowData) Name() ActionName        { return ActionSetupWindowData }
func (FetchRoomEmailLink) Name() ActionName     { return ActionFetchRoomEmailLink }
func (CancelCall) Name() ActionName             { return ActionCancelCall }
func (RetryCall) Name() ActionName              { return ActionRetryCall }
func (ConnectCall) Name() ActionName            { return ActionConnectCall }
func (HangupCall) Name() ActionName             { return ActionHangupCall }
func (RemotePeerDisconnected) Name() ActionName { return ActionRemotePeerDisconnected }
func (ConnectionProgress) Name() ActionName     { return ActionConnectionProgress }
func (ConnectionFailure) Name() ActionName      { return ActionConnectionFailure }
func (ConnectedToSdkServers) Name() ActionName  { return ActionConnectedToSdkServers }
func (RemotePeerConnected) Name() ActionName    { return ActionRemotePeerConnected }
func (GotMediaPermission) Name() ActionName     { return ActionGotMediaPermission }
func (MediaConnected) Name() ActionName         { return ActionMediaConnected }
func (SetMute) Name() ActionName                { return ActionSetMute }
func (WindowUnload) Name() ActionName           { return ActionWindowUnload }

func (a GetWindowData) Validate() error {
	return requireString(a.Name(), "windowId", string(a.WindowID))
}

func (a SetupWindowData) Validate() error {
	if err := requireString(a.Name(), "windowId", string(a.WindowID)); err != nil {
		return err
	}
	if err := requireString(a.Name(), "type", string(a.Type)); err != nil {
		return err
	}
	switch a.CallType {
	case "", CallTypeAudioVideo, CallTypeAudioOnly:
	default:
		return &ValidationError{Action: a.Name(), Field: "callType", Problem: fmt.Sprintf("has unknown value %q", a.CallType)}
	}
	if a.Contact != nil {
		if err := a.Contact.Validate(); err != nil {
			return &ValidationError{Action: a.Name(), Field: "contact", Problem: err.Error()}
		}
	}
	return nil
}

func (a FetchRoomEmailLink) Validate() error {
	if err := requireString(a.Name(), "roomOwner", a.RoomOwner); err != nil {
		return err
	}
	return requireString(a.Name(), "roomName", a.RoomName)
}

func (a ConnectCall) Validate() error {
	if err := requireString(a.Name(), "sessionData.callId", a.SessionData.CallID); err != nil {
		return err
	}
	return requireString(a.Name(), "sessionData.progressURL", a.SessionData.ProgressURL)
}

func (a ConnectionProgress) Validate() error {
	if !a.WSState.Valid() {
		return &ValidationError{Action: a.Name(), Field: "wsState", Problem: fmt.Sprintf("has unknown value %q", a.WSState)}
	}
	return nil
}

func (a ConnectionFailure) Validate() error {
	return requireString(a.Name(), "reason", a.Reason)
}

func (a SetMute) Validate() error {
	switch a.Type {
	case MuteAudio, MuteVideo:
		return nil
	}
	return &ValidationError{Action: a.Name(), Field: "type", Problem: fmt.Sprintf("has unknown value %q", a.Type)}
}

func requireString(action ActionName, field, value string) error {
	if value == "" {
		return &ValidationError{Action: action, Field: field, Problem: "is required"}
	}
	return nil
}

func validated[T Action](a T) (T, error) {
	if v, ok := any(a).(validator); ok {
		if err := v.Validate(); err != nil {
			var zero T
			return zero, err
		}
	}
	return a, nil
}

func NewSetupWindowData(windowID WindowID, windowType WindowType) (SetupWindowData, error) {
	return validated(SetupWindowData{WindowID: windowID, Type: windowType})
}

func NewFetchRoomEmailLink(roomOwner, roomName string) (FetchRoomEmailLink, error) {
	return validated(FetchRoomEmailLink{RoomOwner: roomOwner, RoomName: roomName})
}

func NewConnectCall(data SessionData) (ConnectCall, error) {
	return validated(ConnectCall{SessionData: data})
}

func NewConnectionProgress(state WSState) (ConnectionProgress, error) {
	return validated(ConnectionProgress{WSState: state})
}

func NewConnectionFailure(reason string) (ConnectionFailure, error) {
	return validated(ConnectionFailure{Reason: reason})
}

func NewSetMute(t MuteType, enabled bool) (SetMute, error) {
	return validated(SetMute{Type: t, Enabled: enabled})
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindBool
	kindObject
)

func (k fieldKind) String() string {
	switch k {
	case kindBool:
		return "boolean"
	case kindObject:
		return "object"
	}
	return "string"
}

type field struct {
	name     string
	kind     fieldKind
	required bool
}

type schema struct {
	fields []field
	decode func([]byte) (Action, error)
}

func decodeInto[T Action](data []byte) (Action, error) {
	var a T
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return validated(a)
}

var schemas = map[ActionName]schema{
	ActionGetWindowData: {
		fields: []field{{"windowId", kindString, true}},
		decode: decodeInto[GetWindowData],
	},
	ActionSetupWindowData: {
		fields: []field{
			{"windowId", kindString, true},
			{"type", kindString, true},
			{"contact", kindObject, false},
			{"callType", kindString, false},
			{"callerId", kindString, false},
		},
		decode: decodeInto[SetupWindowData],
	},
	ActionFetchRoomEmailLink: {
		fields: []field{{"roomOwner", kindString, true}, {"roomName", kindString, true}},
		decode: decodeInto[FetchRoomEmailLink],
	},
	ActionCancelCall:             {decode: decodeInto[CancelCall]},
	ActionRetryCall:              {decode: decodeInto[RetryCall]},
	ActionConnectCall:            {fields: []field{{"sessionData", kindObject, true}}, decode: decodeInto[ConnectCall]},
	ActionHangupCall:             {decode: decodeInto[HangupCall]},
	ActionRemotePeerDisconnected: {fields: []field{{"peerHungup", kindBool, true}}, decode: decodeInto[RemotePeerDisconnected]},
	ActionConnectionProgress:     {fields: []field{{"wsState", kindString, true}}, decode: decodeInto[ConnectionProgress]},
	ActionConnectionFailure:      {fields: []field{{"reason", kindString, true}}, decode: decodeInto[ConnectionFailure]},
	ActionConnectedToSdkServers:  {decode: decodeInto[ConnectedToSdkServers]},
	ActionRemotePeerConnected:    {decode: decodeInto[RemotePeerConnected]},
	ActionGotMediaPermission:     {decode: decodeInto[GotMediaPermission]},
	ActionMediaConnected:         {decode: decodeInto[MediaConnected]},
	ActionSetMute: {
		fields: []field{{"type", kindString, true}, {"enabled", kindBool, true}},
		decode: decodeInto[SetMute],
	},
	ActionWindowUnload: {decode: decodeInto[WindowUnload]},
}

// DecodeAction builds an action from its wire name and JSON payload.
// Fields outside the schema are dropped. A missing required field, a field
// of the wrong type or a value failing the action's own checks yields a
// *ValidationError; nothing is silently defaulted.
func DecodeAction(name ActionName, payload []byte) (Action, error) {
	s, ok := schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		payload = []byte("{}")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &ValidationError{Action: name, Problem: "payload is not an object"}
	}

	for _, f := range s.fields {
		v, present := raw[f.name]
		if present && bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			present = false
		}
		if !present {
			if f.required {
				return nil, &ValidationError{Action: name, Field: f.name, Problem: "is required"}
			}
			continue
		}
		if !hasKind(v, f.kind) {
			return nil, &ValidationError{Action: name, Field: f.name, Problem: "must be a " + f.kind.String()}
		}
	}

	a, err := s.decode(payload)
	if err != nil {
		if _, ok := err.(*ValidationError); ok {
			return nil, err
		}
		return nil, &ValidationError{Action: name, Problem: err.Error()}
	}
	return a, nil
}

func hasKind(v json.RawMessage, kind fieldKind) bool {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return false
	}
	switch kind {
	case kindString:
		return v[0] == '"'
	case kindBool:
		return bytes.Equal(v, []byte("true")) || bytes.Equal(v, []byte("false"))
	case kindObject:
		return v[0] == '{'
	}
	return false
}
