package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/livecook/internal/core"
	"github.com/dkeye/livecook/internal/domain"
	"github.com/dkeye/livecook/internal/metrics"
	"github.com/dkeye/livecook/internal/protocol"
)

// Orchestrator drives the per-session state machine:
// Empty -> Idle -> Hosting -> Live -> Idle ... -> Empty.
// Every transition and the fan-out it causes happen under the session lock,
// so all members observe events of one session in the same order.
type Orchestrator struct {
	Registry   *Registry
	Sessions   *Store
	Router     *Router
	Policy     Policy
	HostPolicy HostPolicy
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

func NewOrchestrator(reg *Registry, store *Store, policy Policy, hostPolicy HostPolicy, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		Registry:   reg,
		Sessions:   store,
		Router:     &Router{Registry: reg, Metrics: m},
		Policy:     policy,
		HostPolicy: hostPolicy,
		Metrics:    m,
		Now:        time.Now,
	}
}

// fanout collects delivery results and evictions produced inside a session
// critical section; settle acts on them once the lock is released.
type fanout struct {
	res   core.PublishResult
	evict []*core.Connection
}

func (f *fanout) publish(targets []*core.Connection, skip core.ConnID, v any) {
	f.res.Merge(core.Publish(targets, skip, protocol.MustEncode(v)))
}

func (f *fanout) send(c *core.Connection, v any) {
	f.res.Merge(core.SendTo(c, protocol.MustEncode(v)))
}

func viewers(s *Session) []*core.Connection {
	host := s.Host()
	out := make([]*core.Connection, 0, s.Len())
	for _, m := range s.SnapshotMembers() {
		if m != host {
			out = append(out, m)
		}
	}
	return out
}

func viewerCount(s *Session) protocol.ViewerCountOut {
	return protocol.ViewerCountOut{BaseMessage: protocol.Bare(protocol.TypeViewerCount), Count: s.ViewerCount()}
}

func users(s *Session) protocol.UsersOut {
	return protocol.UsersOut{BaseMessage: protocol.Bare(protocol.TypeUsers), Users: s.Presence()}
}

func sessionState(s *Session) protocol.SessionStateOut {
	info := s.Info()
	return protocol.SessionStateOut{
		BaseMessage: protocol.Bare(protocol.TypeSessionState),
		SessionID:   info.ID,
		HostID:      info.HostID,
		Streaming:   info.Streaming,
		ViewerCount: info.ViewerCount,
	}
}

// Join registers c and adds it to its session. A rejected host claim does not
// fail the join: c stays as a viewer and receives a notice.
func (o *Orchestrator) Join(c *core.Connection, cancel context.CancelFunc) error {
	if err := o.Registry.Register(c, cancel); err != nil {
		return err
	}

	var f fanout
	err := o.Sessions.Update(c.SessionID, true, func(s *Session) error {
		wasStreaming := s.Streaming()
		displaced, err := s.AddMember(c, o.HostPolicy)
		if errors.Is(err, domain.ErrHostAlreadyActive) {
			o.Reject(c, "join", err)
			c.SetHost(false)
			displaced, err = s.AddMember(c, o.HostPolicy)
		}
		if err != nil {
			return err
		}
		if displaced != nil {
			log.Info().Str("module", "app.orchestrator").Str("session", string(s.ID())).Str("conn", string(displaced.ID)).Msg("host reclaimed by newer connection")
			f.evict = append(f.evict, displaced)
			if wasStreaming {
				f.publish(viewers(s), c.ID, protocol.Bare(protocol.TypeStreamEnded))
			}
		}

		f.send(c, protocol.HistoryOut{BaseMessage: protocol.Bare(protocol.TypeMessages), Messages: s.History()})
		f.send(c, sessionState(s))
		f.publish(s.SnapshotMembers(), "", users(s))

		if s.Streaming() && !c.IsHost() {
			f.send(s.Host(), protocol.ViewerOut{BaseMessage: protocol.Bare(protocol.TypeViewerJoined), UserID: c.User.ID})
			f.publish(s.SnapshotMembers(), "", viewerCount(s))
		}
		return nil
	})
	if err != nil {
		_, _ = o.Registry.Unregister(c.ID)
		return fmt.Errorf("join %s: %w", c.SessionID, err)
	}

	o.Metrics.ConnectionOpened()
	o.Metrics.SetSessions(o.Sessions.Len())
	log.Info().Str("module", "app.orchestrator").Str("conn", string(c.ID)).Str("user", string(c.User.ID)).Str("session", string(c.SessionID)).Bool("host", c.IsHost()).Msg("joined")
	o.settle(f)
	return nil
}

// Leave removes a connection. Calling it twice for the same handle returns
// domain.ErrNotFound, which callers treat as benign.
func (o *Orchestrator) Leave(id core.ConnID) error {
	c, err := o.Registry.Unregister(id)
	if err != nil {
		log.Debug().Str("module", "app.orchestrator").Str("conn", string(id)).Msg("leave for unknown connection")
		return err
	}
	o.Metrics.ConnectionClosed()

	var f fanout
	err = o.Sessions.Update(c.SessionID, false, func(s *Session) error {
		removed, wasHost := s.RemoveMember(c.ID)
		if removed == nil {
			return fmt.Errorf("leave %s: %w", c.ID, domain.ErrNotFound)
		}
		members := s.SnapshotMembers()
		if wasHost {
			f.publish(members, "", protocol.Bare(protocol.TypeStreamEnded))
		} else if s.Streaming() {
			f.send(s.Host(), protocol.ViewerOut{BaseMessage: protocol.Bare(protocol.TypeViewerLeft), UserID: c.User.ID})
			f.publish(members, "", viewerCount(s))
		}
		f.publish(members, "", users(s))
		return nil
	})
	o.Metrics.SetSessions(o.Sessions.Len())
	if err != nil {
		log.Debug().Err(err).Str("module", "app.orchestrator").Str("conn", string(id)).Msg("leave without session")
		return nil
	}
	log.Info().Str("module", "app.orchestrator").Str("conn", string(c.ID)).Str("user", string(c.User.ID)).Str("session", string(c.SessionID)).Msg("left")
	o.settle(f)
	return nil
}

// hostOp runs fn for the session's host only.
func (o *Orchestrator) hostOp(c *core.Connection, sessionID string, fn func(*Session, *fanout) error) error {
	if sessionID != "" && domain.SessionID(sessionID) != c.SessionID {
		return fmt.Errorf("%w: session %q is not the connection's session", domain.ErrMalformedEvent, sessionID)
	}
	var f fanout
	err := o.Sessions.Update(c.SessionID, false, func(s *Session) error {
		if !s.IsMember(c.ID) {
			return fmt.Errorf("conn %s: %w", c.ID, domain.ErrNotFound)
		}
		switch s.Host() {
		case nil:
			return fmt.Errorf("session %s: %w", s.ID(), domain.ErrNoActiveHost)
		case c:
		default:
			return fmt.Errorf("conn %s: %w", c.ID, domain.ErrNotHost)
		}
		return fn(s, &f)
	})
	o.settle(f)
	return err
}

func (o *Orchestrator) StartStream(c *core.Connection, sessionID string) error {
	return o.hostOp(c, sessionID, func(s *Session, f *fanout) error {
		if s.Streaming() {
			log.Debug().Str("module", "app.orchestrator").Str("session", string(s.ID())).Msg("start-stream while live")
			return nil
		}
		if err := s.SetStreaming(true); err != nil {
			return err
		}
		f.publish(viewers(s), "", protocol.Bare(protocol.TypeStreamStarted))
		f.publish(s.SnapshotMembers(), "", viewerCount(s))
		log.Info().Str("module", "app.orchestrator").Str("session", string(s.ID())).Int("viewers", s.ViewerCount()).Msg("stream started")
		return nil
	})
}

func (o *Orchestrator) EndStream(c *core.Connection, sessionID string) error {
	return o.hostOp(c, sessionID, func(s *Session, f *fanout) error {
		if !s.Streaming() {
			log.Debug().Str("module", "app.orchestrator").Str("session", string(s.ID())).Msg("end-stream while idle")
			return nil
		}
		if err := s.SetStreaming(false); err != nil {
			return err
		}
		f.publish(viewers(s), "", protocol.Bare(protocol.TypeStreamEnded))
		log.Info().Str("module", "app.orchestrator").Str("session", string(s.ID())).Msg("stream ended")
		return nil
	})
}

// Chat appends a message and broadcasts it to every member, sender included.
func (o *Orchestrator) Chat(c *core.Connection, text string) (domain.ChatMessage, error) {
	var (
		f   fanout
		msg domain.ChatMessage
	)
	err := o.Sessions.Update(c.SessionID, false, func(s *Session) error {
		if !s.IsMember(c.ID) {
			return fmt.Errorf("conn %s: %w", c.ID, domain.ErrNotFound)
		}
		var err error
		msg, err = domain.NewChatMessage(c.User, s.Host() == c, text, o.Now())
		if err != nil {
			return err
		}
		s.AppendChat(msg)
		f.publish(s.SnapshotMembers(), "", protocol.ChatOut{BaseMessage: protocol.Bare(protocol.TypeMessage), Message: msg})
		return nil
	})
	o.settle(f)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	o.Metrics.ChatMessage()
	return msg, nil
}

// Typing relays an ephemeral indicator to the other members. Nothing is stored.
func (o *Orchestrator) Typing(c *core.Connection, stop bool) error {
	kind := protocol.TypeTyping
	if stop {
		kind = protocol.TypeStopTyping
	}
	var f fanout
	err := o.Sessions.Update(c.SessionID, false, func(s *Session) error {
		if !s.IsMember(c.ID) {
			return fmt.Errorf("conn %s: %w", c.ID, domain.ErrNotFound)
		}
		f.publish(s.SnapshotMembers(), c.ID, protocol.TypingOut{BaseMessage: protocol.Bare(kind), Username: c.User.Username})
		return nil
	})
	o.settle(f)
	return err
}

// Signal hands a directed message to the router.
func (o *Orchestrator) Signal(c *core.Connection, in protocol.SignalIn) error {
	if _, ok := o.Registry.Lookup(c.ID); !ok {
		return fmt.Errorf("conn %s: %w", c.ID, domain.ErrNotFound)
	}
	res, err := o.Router.Route(c, in)
	o.settle(fanout{res: res})
	return err
}

// Reject sends a rejected-operation notice to c.
func (o *Orchestrator) Reject(c *core.Connection, op string, err error) {
	code := domain.Code(err)
	o.Metrics.Rejected(code)
	log.Warn().Err(err).Str("module", "app.orchestrator").Str("conn", string(c.ID)).Str("op", op).Msg("operation rejected")
	_ = c.Signal().TrySend(protocol.MustEncode(protocol.ErrorOut{
		BaseMessage: protocol.Bare(protocol.TypeError),
		Op:          op,
		Error:       code,
	}))
}

// Kick closes the transport of a connection; its read loop then leaves.
func (o *Orchestrator) Kick(c *core.Connection) {
	if !o.Registry.Cancel(c.ID) {
		c.Signal().Close()
	}
}

func (o *Orchestrator) settle(f fanout) {
	for _, c := range f.evict {
		o.Kick(c)
	}
	if o.Policy == nil {
		return
	}
	for _, slow := range f.res.Dropped {
		switch o.Policy.OnBackPressure(slow) {
		case KickMember:
			o.Metrics.QueueOverflow()
			log.Warn().Str("module", "app.orchestrator").Str("conn", string(slow.ID)).Str("session", string(slow.SessionID)).Msg("outbound queue overflow, kicking")
			o.Kick(slow)
		case NoAction:
		}
	}
}

// Directory exposes read-only session views for the REST layer.
func (o *Orchestrator) Directory() core.SessionDirectory { return o.Sessions }
