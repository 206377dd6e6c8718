package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownAction     = errors.New("unknown action")
	ErrNoConnection      = errors.New("no call connection")
	ErrConnectionClosed  = errors.New("call connection closed")
	ErrSessionNotStarted = errors.New("media session not started")
)

// ValidationError reports an action payload that does not fit its schema.
type ValidationError struct {
	Action  ActionName
	Field   string
	Problem string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("action %s: %s", e.Action, e.Problem)
	}
	return fmt.Sprintf("action %s: field %q %s", e.Action, e.Field, e.Problem)
}

// RESTError is a non-success answer from the call server.
type RESTError struct {
	Code    int    `json:"code"`
	Errno   int    `json:"errno"`
	Message string `json:"error"`
}

func (e *RESTError) Error() string {
	return fmt.Sprintf("server error %d (errno %d): %s", e.Code, e.Errno, e.Message)
}
