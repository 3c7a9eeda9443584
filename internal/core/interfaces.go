package core

import "github.com/dkeye/livecook/internal/domain"

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []*Connection
}

func (r *PublishResult) Merge(o PublishResult) {
	r.SendTo += o.SendTo
	r.Dropped = append(r.Dropped, o.Dropped...)
}

// SessionInfo is a read-only view for APIs (no transport fields).
type SessionInfo struct {
	ID          domain.SessionID `json:"id"`
	HostID      domain.UserID    `json:"hostId,omitempty"`
	Streaming   bool             `json:"streaming"`
	MemberCount int              `json:"memberCount"`
	ViewerCount int              `json:"viewerCount"`
	ChatLength  int              `json:"chatLength"`
}

// SessionDirectory is what the REST layer needs from the relay.
type SessionDirectory interface {
	List() []SessionInfo
	Info(id domain.SessionID) (SessionInfo, bool)
	Members(id domain.SessionID) ([]domain.Member, bool)
}
