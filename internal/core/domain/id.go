package domain

import (
	"github.com/google/uuid"
)

type WindowID string

func NewWindowID() WindowID {
	return WindowID(uuid.New().String())
}

func (id WindowID) String() string {
	return string(id)
}

type ClientID uuid.UUID

func NewClientID() ClientID {
	return ClientID(uuid.New())
}

func (id ClientID) String() string {
	return uuid.UUID(id).String()
}
