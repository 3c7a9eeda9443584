// Package protocol defines the WebSocket message protocol between clients and the relay.
package protocol

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/dkeye/livecook/internal/core"
	"github.com/dkeye/livecook/internal/domain"
)

// Message types from client to relay
const (
	TypeMessage      = "message"
	TypeTyping       = "typing"
	TypeStopTyping   = "stop-typing"
	TypeStartStream  = "start-stream"
	TypeEndStream    = "end-stream"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypePing         = "ping"
)

// Message types from relay to client
const (
	TypeMessages      = "messages"
	TypeUsers         = "users"
	TypeViewerJoined  = "viewer-joined"
	TypeViewerLeft    = "viewer-left"
	TypeViewerCount   = "viewer-count"
	TypeStreamStarted = "stream-started"
	TypeStreamEnded   = "stream-ended"
	TypeSessionState  = "session-state"
	TypeError         = "error"
	TypePong          = "pong"
)

// BaseMessage carries the discriminator shared by every frame.
type BaseMessage struct {
	Type string `json:"type"`
}

// ChatIn is sent by a member to post to the session chat.
type ChatIn struct {
	BaseMessage
	Text string `json:"text"`
}

// StreamControl is start-stream / end-stream.
type StreamControl struct {
	BaseMessage
	SessionID string `json:"sessionId"`
}

// SignalIn is offer / answer / ice-candidate addressed to another user.
// Exactly one of the payload fields is set, matching Type.
type SignalIn struct {
	BaseMessage
	To        string          `json:"to"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Payload returns the opaque signaling body for the frame's type.
func (s SignalIn) Payload() json.RawMessage {
	switch s.Type {
	case TypeOffer:
		return s.Offer
	case TypeAnswer:
		return s.Answer
	case TypeICECandidate:
		return s.Candidate
	}
	return nil
}

// SignalOut is the forwarded form, tagged with the sender's user id.
type SignalOut struct {
	BaseMessage
	From      domain.UserID   `json:"from"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func NewSignalOut(kind string, from domain.UserID, payload json.RawMessage) SignalOut {
	out := SignalOut{BaseMessage: BaseMessage{Type: kind}, From: from}
	switch kind {
	case TypeOffer:
		out.Offer = payload
	case TypeAnswer:
		out.Answer = payload
	case TypeICECandidate:
		out.Candidate = payload
	}
	return out
}

type HistoryOut struct {
	BaseMessage
	Messages []domain.ChatMessage `json:"messages"`
}

type ChatOut struct {
	BaseMessage
	Message domain.ChatMessage `json:"message"`
}

type UsersOut struct {
	BaseMessage
	Users []domain.Member `json:"users"`
}

type TypingOut struct {
	BaseMessage
	Username string `json:"username"`
}

type ViewerOut struct {
	BaseMessage
	UserID domain.UserID `json:"userId"`
}

type ViewerCountOut struct {
	BaseMessage
	Count int `json:"count"`
}

type SessionStateOut struct {
	BaseMessage
	SessionID   domain.SessionID `json:"sessionId"`
	HostID      domain.UserID    `json:"hostId,omitempty"`
	Streaming   bool             `json:"streaming"`
	ViewerCount int              `json:"viewerCount"`
}

// ErrorOut is the rejected-operation notice.
type ErrorOut struct {
	BaseMessage
	Op    string `json:"op,omitempty"`
	Error string `json:"error"`
}

// Bare builds a frame that carries nothing but its type.
func Bare(kind string) BaseMessage { return BaseMessage{Type: kind} }

// Encode marshals an outbound message into a frame.
func Encode(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return core.Frame(b), nil
}

// MustEncode is for messages built from fixed types that cannot fail to marshal.
func MustEncode(v any) core.Frame {
	f, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return f
}

// DecodeType reads only the discriminator.
func DecodeType(data []byte) (string, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if base.Type == "" {
		return "", fmt.Errorf("%w: missing type", domain.ErrMalformedEvent)
	}
	return base.Type, nil
}

// Decode unmarshals a whole frame into v.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	return nil
}
