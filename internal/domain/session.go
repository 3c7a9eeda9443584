package domain

import "strings"

const MaxSessionIDLen = 128

// SessionID names a live broadcast session.
type SessionID string

func ParseSessionID(raw string) (SessionID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrSessionIDEmpty
	}
	if len(raw) > MaxSessionIDLen {
		return "", ErrSessionIDTooLong
	}
	return SessionID(raw), nil
}

// Member is a presence entry: who is in the session and whether they host it.
type Member struct {
	User   User `json:"user"`
	IsHost bool `json:"isHost"`
}
