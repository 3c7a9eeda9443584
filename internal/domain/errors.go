package domain

import "errors"

var (
	ErrUserIDEmpty      = errors.New("user id empty")
	ErrUserIDTooLong    = errors.New("user id too long")
	ErrUsernameTooLong  = errors.New("username too long")
	ErrAvatarTooLong    = errors.New("avatar too long")
	ErrSessionIDEmpty   = errors.New("session id empty")
	ErrSessionIDTooLong = errors.New("session id too long")
	ErrChatTextEmpty    = errors.New("chat text empty")
)

// Relay error taxonomy.
var (
	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrNotFound            = errors.New("not found")
	ErrHostAlreadyActive   = errors.New("host already active")
	ErrNoActiveHost        = errors.New("no active host")
	ErrNotHost             = errors.New("not host")
	ErrMalformedEvent      = errors.New("malformed event")
	ErrQueueOverflow       = errors.New("queue overflow")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrRateLimited         = errors.New("rate limited")
)

// Code maps an error to the short string sent in rejected-operation notices.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrHostAlreadyActive):
		return "host_already_active"
	case errors.Is(err, ErrNoActiveHost):
		return "no_active_host"
	case errors.Is(err, ErrNotHost):
		return "not_host"
	case errors.Is(err, ErrMalformedEvent), errors.Is(err, ErrChatTextEmpty):
		return "malformed_event"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "unavailable"
	}
}
