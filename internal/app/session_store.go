package app

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/livecook/internal/core"
	"github.com/dkeye/livecook/internal/domain"
	"github.com/rs/zerolog/log"
)

// Session is one live broadcast context. Its methods assume the caller holds
// the session through Store.Update.
type Session struct {
	mu      sync.Mutex
	id      domain.SessionID
	limit   int
	deleted bool

	history   []domain.ChatMessage
	members   []*core.Connection // join order
	host      *core.Connection
	streaming bool
}

func (s *Session) ID() domain.SessionID { return s.id }

// AddMember adds c. A host claim while another host is present fails with
// domain.ErrHostAlreadyActive and leaves the session untouched, unless policy
// is HostReclaim and the claim comes from the same user; then the previous
// host connection is demoted and returned so the caller can evict it.
func (s *Session) AddMember(c *core.Connection, policy HostPolicy) (*core.Connection, error) {
	for _, m := range s.members {
		if m.ID == c.ID {
			return nil, fmt.Errorf("add member %s: %w", c.ID, domain.ErrDuplicateConnection)
		}
	}
	var displaced *core.Connection
	if c.IsHost() {
		if s.host != nil {
			if policy != HostReclaim || s.host.User.ID != c.User.ID {
				return nil, fmt.Errorf("add member %s: %w", c.ID, domain.ErrHostAlreadyActive)
			}
			displaced = s.host
			displaced.SetHost(false)
			s.streaming = false
		}
		s.host = c
	}
	s.members = append(s.members, c)
	return displaced, nil
}

// RemoveMember drops the connection. Removing the host clears host and
// streaming.
func (s *Session) RemoveMember(id core.ConnID) (removed *core.Connection, wasHost bool) {
	for i, m := range s.members {
		if m.ID != id {
			continue
		}
		s.members = append(s.members[:i:i], s.members[i+1:]...)
		if s.host == m {
			s.host = nil
			s.streaming = false
			wasHost = true
		}
		return m, wasHost
	}
	return nil, false
}

func (s *Session) IsMember(id core.ConnID) bool {
	for _, m := range s.members {
		if m.ID == id {
			return true
		}
	}
	return false
}

// AppendChat stores msg and evicts the oldest entries beyond the limit.
func (s *Session) AppendChat(msg domain.ChatMessage) {
	if len(s.history) < s.limit {
		s.history = append(s.history, msg)
		return
	}
	copy(s.history, s.history[1:])
	s.history[len(s.history)-1] = msg
}

func (s *Session) SetStreaming(v bool) error {
	if v && s.host == nil {
		return fmt.Errorf("session %s: %w", s.id, domain.ErrNoActiveHost)
	}
	s.streaming = v
	return nil
}

func (s *Session) Streaming() bool { return s.streaming }

func (s *Session) Host() *core.Connection { return s.host }

func (s *Session) History() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(s.history))
	copy(out, s.history)
	return out
}

// SnapshotMembers returns members in join order.
func (s *Session) SnapshotMembers() []*core.Connection {
	out := make([]*core.Connection, len(s.members))
	copy(out, s.members)
	return out
}

func (s *Session) Presence() []domain.Member {
	out := make([]domain.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m.Member())
	}
	return out
}

func (s *Session) ViewerCount() int {
	n := len(s.members)
	if s.host != nil {
		n--
	}
	return n
}

func (s *Session) Len() int { return len(s.members) }

func (s *Session) Info() core.SessionInfo {
	info := core.SessionInfo{
		ID:          s.id,
		Streaming:   s.streaming,
		MemberCount: len(s.members),
		ViewerCount: s.ViewerCount(),
		ChatLength:  len(s.history),
	}
	if s.host != nil {
		info.HostID = s.host.User.ID
	}
	return info
}

// Store owns every live session.
type Store struct {
	mu           sync.RWMutex
	sessions     map[domain.SessionID]*Session
	historyLimit int
}

// NewStore keeps at most domain.DefaultHistoryLimit messages per session;
// larger or non-positive limits fall back to it.
func NewStore(historyLimit int) *Store {
	if historyLimit <= 0 || historyLimit > domain.DefaultHistoryLimit {
		historyLimit = domain.DefaultHistoryLimit
	}
	return &Store{
		sessions:     make(map[domain.SessionID]*Session),
		historyLimit: historyLimit,
	}
}

func (st *Store) getOrCreate(id domain.SessionID) *Session {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if ok {
		return s
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok = st.sessions[id]; ok {
		return s
	}
	s = &Session{id: id, limit: st.historyLimit}
	st.sessions[id] = s
	log.Info().Str("module", "app.store").Str("session", string(id)).Msg("session created")
	return s
}

func (st *Store) get(id domain.SessionID) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Update runs fn with the session locked. With create set the session is
// created lazily; otherwise a missing session yields domain.ErrNotFound. A
// session left without members after fn is deleted before the lock is
// released, so no caller ever observes an empty session.
func (st *Store) Update(id domain.SessionID, create bool, fn func(*Session) error) error {
	for {
		var s *Session
		if create {
			s = st.getOrCreate(id)
		} else {
			var ok bool
			if s, ok = st.get(id); !ok {
				return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
			}
		}

		s.mu.Lock()
		if s.deleted {
			s.mu.Unlock()
			if !create {
				return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
			}
			continue
		}
		err := fn(s)
		if len(s.members) == 0 {
			s.deleted = true
			st.mu.Lock()
			if st.sessions[id] == s {
				delete(st.sessions, id)
			}
			st.mu.Unlock()
			log.Info().Str("module", "app.store").Str("session", string(id)).Msg("session deleted")
		}
		s.mu.Unlock()
		return err
	}
}

// View runs fn with the session locked, without creating or deleting it.
func (st *Store) View(id domain.SessionID, fn func(*Session)) bool {
	s, ok := st.get(id)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return false
	}
	fn(s)
	return true
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

func (st *Store) Info(id domain.SessionID) (core.SessionInfo, bool) {
	var info core.SessionInfo
	ok := st.View(id, func(s *Session) { info = s.Info() })
	return info, ok
}

func (st *Store) Members(id domain.SessionID) ([]domain.Member, bool) {
	var out []domain.Member
	ok := st.View(id, func(s *Session) { out = s.Presence() })
	return out, ok
}

// List returns every live session ordered by id.
func (st *Store) List() []core.SessionInfo {
	st.mu.RLock()
	all := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		all = append(all, s)
	}
	st.mu.RUnlock()

	out := make([]core.SessionInfo, 0, len(all))
	for _, s := range all {
		s.mu.Lock()
		if !s.deleted {
			out = append(out, s.Info())
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
