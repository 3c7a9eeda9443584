package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/livecook/internal/core"
	"github.com/dkeye/livecook/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Conn   *core.Connection
	Cancel context.CancelFunc
}

type userKey struct {
	session domain.SessionID
	user    domain.UserID
}

// Registry is the authoritative map of live connections.
type Registry struct {
	mu     sync.RWMutex
	conns  map[core.ConnID]*connEntry
	byUser map[userKey][]core.ConnID // registration order, newest last
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[core.ConnID]*connEntry),
		byUser: make(map[userKey][]core.ConnID),
	}
}

// Register inserts a connection. cancel, if set, tears down its transport.
func (r *Registry) Register(c *core.Connection, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID]; ok {
		return fmt.Errorf("register %s: %w", c.ID, domain.ErrDuplicateConnection)
	}
	r.conns[c.ID] = &connEntry{Conn: c, Cancel: cancel}
	k := userKey{session: c.SessionID, user: c.User.ID}
	r.byUser[k] = append(r.byUser[k], c.ID)
	log.Debug().Str("module", "app.registry").Str("conn", string(c.ID)).Str("user", string(c.User.ID)).Str("session", string(c.SessionID)).Msg("registered connection")
	return nil
}

// Unregister removes the record. A second call for the same handle returns
// domain.ErrNotFound.
func (r *Registry) Unregister(id core.ConnID) (*core.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, fmt.Errorf("unregister %s: %w", id, domain.ErrNotFound)
	}
	delete(r.conns, id)

	k := userKey{session: e.Conn.SessionID, user: e.Conn.User.ID}
	ids := r.byUser[k]
	for i, cid := range ids {
		if cid == id {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.byUser, k)
	} else {
		r.byUser[k] = ids
	}
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Msg("unregistered connection")
	return e.Conn, nil
}

func (r *Registry) Lookup(id core.ConnID) (*core.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

// FindByUser resolves a user in a session to its most recently registered
// live connection.
func (r *Registry) FindByUser(sid domain.SessionID, uid domain.UserID) (*core.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byUser[userKey{session: sid, user: uid}]
	if len(ids) == 0 {
		return nil, false
	}
	e, ok := r.conns[ids[len(ids)-1]]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Cancel tears down the transport of a connection. The transport's read loop
// then runs the normal leave path.
func (r *Registry) Cancel(id core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	} else {
		e.Conn.Signal().Close()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}
