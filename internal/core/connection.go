package core

import (
	"sync/atomic"
	"time"

	"github.com/dkeye/livecook/internal/domain"
)

// ConnID is the opaque handle of one transport link.
type ConnID string

// Connection binds an identity, a session and its transport endpoint.
// The registry owns it; sessions only reference it.
type Connection struct {
	ID        ConnID
	User      domain.User
	SessionID domain.SessionID
	JoinedAt  time.Time

	signal SignalConnection
	host   atomic.Bool
}

func NewConnection(id ConnID, user domain.User, sid domain.SessionID, isHost bool, signal SignalConnection) *Connection {
	c := &Connection{
		ID:        id,
		User:      user,
		SessionID: sid,
		JoinedAt:  time.Now(),
		signal:    signal,
	}
	c.host.Store(isHost)
	return c
}

func (c *Connection) Signal() SignalConnection { return c.signal }

// IsHost reports the host flag. It is cleared when a host claim is rejected.
func (c *Connection) IsHost() bool { return c.host.Load() }

func (c *Connection) SetHost(v bool) { c.host.Store(v) }

func (c *Connection) Member() domain.Member {
	return domain.Member{User: c.User, IsHost: c.IsHost()}
}
