// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

const (
	MaxUserIDLen = 255
)

var (
	ErrUserIDTooLong = errors.New("user id too long")
	ErrUserIDEmpty   = errors.New("user id empty")
)

type UserID string

func (u UserID) Validate() error {
	if len(u) == 0 {
		return ErrUserIDEmpty
	}
	if len(u) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}

// Role is the participant's part in a room.
type Role string

const (
	RoleClient   Role = "client"
	RoleReader   Role = "reader"
	RoleViewer   Role = "viewer"
	RoleStreamer Role = "streamer"
)
