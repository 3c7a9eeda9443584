// Package domain contains entity without logic, just meta-data
package domain

import (
	"strings"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64
	MaxAvatarLen   = 2048
)

type UserID string

// User is the identity a connection presents at handshake time.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// NewUser validates handshake identity. An empty username falls back to the id.
func NewUser(id, username, avatar string) (*User, error) {
	id = strings.TrimSpace(id)
	username = strings.TrimSpace(username)
	if id == "" {
		return nil, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	if username == "" {
		username = id
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	if len(avatar) > MaxAvatarLen {
		return nil, ErrAvatarTooLong
	}
	return &User{ID: UserID(id), Username: username, Avatar: avatar}, nil
}

// NewGuestID is used when a client connects without a user id.
func NewGuestID() string {
	return "guest-" + uuid.NewString()
}
