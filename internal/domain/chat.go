package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultHistoryLimit = 100
	MaxChatTextLen      = 2000
)

// ChatMessage is immutable once created. IDs are monotonic ULIDs so sorting
// by id gives generation order.
type ChatMessage struct {
	ID        string `json:"id"`
	UserID    UserID `json:"userId"`
	Username  string `json:"username"`
	Avatar    string `json:"avatar,omitempty"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	IsHost    bool   `json:"isHost"`
}

// NewChatMessage trims text and rejects empty input. Text longer than
// MaxChatTextLen runes is truncated.
func NewChatMessage(from User, isHost bool, text string, now time.Time) (ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, ErrChatTextEmpty
	}
	if utf8.RuneCountInString(text) > MaxChatTextLen {
		text = string([]rune(text)[:MaxChatTextLen])
	}
	return ChatMessage{
		ID:        ulid.Make().String(),
		UserID:    from.ID,
		Username:  from.Username,
		Avatar:    from.Avatar,
		Text:      text,
		Timestamp: now.UnixMilli(),
		IsHost:    isHost,
	}, nil
}
