package app

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/livecook/internal/core"
	"github.com/dkeye/livecook/internal/domain"
)

func addMember(t *testing.T, st *Store, c *core.Connection) {
	t.Helper()
	require.NoError(t, st.Update(c.SessionID, true, func(s *Session) error {
		_, err := s.AddMember(c, HostReject)
		return err
	}))
}

func TestStore_SessionDeletedWhenLastMemberLeaves(t *testing.T) {
	st := NewStore(0)
	a, _ := newConn("a", "ua", "s1", false)
	b, _ := newConn("b", "ub", "s1", false)
	addMember(t, st, a)
	addMember(t, st, b)
	require.Equal(t, 1, st.Len())

	for _, c := range []*core.Connection{a, b} {
		require.NoError(t, st.Update("s1", false, func(s *Session) error {
			removed, _ := s.RemoveMember(c.ID)
			require.NotNil(t, removed)
			return nil
		}))
	}
	assert.Equal(t, 0, st.Len())
	_, ok := st.Info("s1")
	assert.False(t, ok)

	err := st.Update("s1", false, func(*Session) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_UpdateWithoutMembersLeavesNoSession(t *testing.T) {
	st := NewStore(0)
	require.NoError(t, st.Update("ghost", true, func(*Session) error { return nil }))
	assert.Equal(t, 0, st.Len())
}

func TestSession_SecondHostRejectedWhileHostActive(t *testing.T) {
	st := NewStore(0)
	h1, _ := newConn("h1", "host", "s1", true)
	h2, _ := newConn("h2", "intruder", "s1", true)
	addMember(t, st, h1)

	err := st.Update("s1", false, func(s *Session) error {
		_, err := s.AddMember(h2, HostReject)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrHostAlreadyActive)

	info, ok := st.Info("s1")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("host"), info.HostID)
	assert.Equal(t, 1, info.MemberCount)
}

func TestSession_ReclaimOnlyForSameUser(t *testing.T) {
	st := NewStore(0)
	h1, _ := newConn("h1", "host", "s1", true)
	other, _ := newConn("x", "other", "s1", true)
	h2, _ := newConn("h2", "host", "s1", true)
	addMember(t, st, h1)

	require.NoError(t, st.Update("s1", false, func(s *Session) error {
		require.NoError(t, s.SetStreaming(true))
		_, err := s.AddMember(other, HostReclaim)
		assert.ErrorIs(t, err, domain.ErrHostAlreadyActive)

		displaced, err := s.AddMember(h2, HostReclaim)
		require.NoError(t, err)
		assert.Same(t, h1, displaced)
		assert.Same(t, h2, s.Host())
		assert.False(t, s.Streaming(), "takeover resets streaming")
		assert.False(t, h1.IsHost())
		return nil
	}))
}

func TestSession_SetStreamingRequiresHost(t *testing.T) {
	st := NewStore(0)
	v, _ := newConn("v", "viewer", "s1", false)
	addMember(t, st, v)

	err := st.Update("s1", false, func(s *Session) error { return s.SetStreaming(true) })
	assert.ErrorIs(t, err, domain.ErrNoActiveHost)

	require.NoError(t, st.Update("s1", false, func(s *Session) error { return s.SetStreaming(false) }))
}

func TestSession_HostRemovalStopsStreaming(t *testing.T) {
	st := NewStore(0)
	h, _ := newConn("h", "host", "s1", true)
	v, _ := newConn("v", "viewer", "s1", false)
	addMember(t, st, h)
	addMember(t, st, v)

	require.NoError(t, st.Update("s1", false, func(s *Session) error {
		require.NoError(t, s.SetStreaming(true))
		_, wasHost := s.RemoveMember(h.ID)
		assert.True(t, wasHost)
		assert.Nil(t, s.Host())
		assert.False(t, s.Streaming())
		return nil
	}))
}

func TestSession_ChatHistoryKeepsNewestHundred(t *testing.T) {
	st := NewStore(domain.DefaultHistoryLimit)
	c, _ := newConn("c", "u", "s1", false)
	addMember(t, st, c)

	var sent []domain.ChatMessage
	require.NoError(t, st.Update("s1", false, func(s *Session) error {
		for i := 1; i <= 101; i++ {
			msg, err := domain.NewChatMessage(c.User, false, fmt.Sprintf("msg %d", i), time.Now())
			require.NoError(t, err)
			sent = append(sent, msg)
			s.AppendChat(msg)
		}
		return nil
	}))

	require.True(t, st.View("s1", func(s *Session) {
		history := s.History()
		require.Len(t, history, 100)
		assert.Equal(t, sent[1:], history)
		assert.Equal(t, "msg 2", history[0].Text)
	}))
}

func TestSession_SnapshotMembersKeepsJoinOrder(t *testing.T) {
	st := NewStore(0)
	var want []core.ConnID
	for i := 0; i < 5; i++ {
		c, _ := newConn(fmt.Sprintf("c%d", i), fmt.Sprintf("u%d", i), "s1", false)
		addMember(t, st, c)
		want = append(want, c.ID)
	}
	require.True(t, st.View("s1", func(s *Session) {
		var got []core.ConnID
		for _, m := range s.SnapshotMembers() {
			got = append(got, m.ID)
		}
		assert.Equal(t, want, got)
	}))
}

// Random concurrent join/leave: the surviving member set must equal exactly
// the connections that joined and did not leave, and no session ever has two
// hosts or streams without a host.
func TestStore_ConcurrentJoinLeaveMembership(t *testing.T) {
	st := NewStore(0)
	const workers = 16
	const perWorker = 50

	var (
		mu    sync.Mutex
		alive = map[core.ConnID]bool{}
		wg    sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < perWorker; i++ {
				c, _ := newConn(fmt.Sprintf("w%d-%d", w, i), fmt.Sprintf("u%d", w), "s1", rng.Intn(4) == 0)
				err := st.Update("s1", true, func(s *Session) error {
					if _, err := s.AddMember(c, HostReject); err != nil {
						c.SetHost(false)
						if _, err := s.AddMember(c, HostReject); err != nil {
							return err
						}
					}
					if s.Host() != nil && rng.Intn(2) == 0 {
						_ = s.SetStreaming(true)
					}
					assertHostInvariant(t, s)
					return nil
				})
				if err != nil {
					t.Errorf("join: %v", err)
					return
				}
				leave := rng.Intn(3) != 0
				if leave {
					_ = st.Update("s1", false, func(s *Session) error {
						s.RemoveMember(c.ID)
						assertHostInvariant(t, s)
						return nil
					})
				}
				mu.Lock()
				alive[c.ID] = !leave
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	want := map[core.ConnID]bool{}
	for id, ok := range alive {
		if ok {
			want[id] = true
		}
	}
	got := map[core.ConnID]bool{}
	found := st.View("s1", func(s *Session) {
		for _, m := range s.SnapshotMembers() {
			got[m.ID] = true
		}
	})
	if len(want) == 0 {
		assert.False(t, found)
		return
	}
	require.True(t, found)
	assert.Equal(t, want, got)
}

func assertHostInvariant(t *testing.T, s *Session) {
	hosts := 0
	for _, m := range s.SnapshotMembers() {
		if m == s.Host() {
			hosts++
		}
	}
	if s.Host() != nil && hosts != 1 {
		t.Errorf("host is not a member exactly once: %d", hosts)
	}
	if s.Streaming() && s.Host() == nil {
		t.Errorf("streaming without host")
	}
}
