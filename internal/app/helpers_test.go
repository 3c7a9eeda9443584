package app

import (
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/livecook/internal/core"
	"github.com/dkeye/livecook/internal/domain"
)

// fakeSignal records frames. capacity > 0 makes it overflow like a full
// outbound queue.
type fakeSignal struct {
	mu       sync.Mutex
	frames   []core.Frame
	capacity int
	closed   bool
}

func (f *fakeSignal) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return domain.ErrConnectionClosed
	}
	if f.capacity > 0 && len(f.frames) >= f.capacity {
		return domain.ErrQueueOverflow
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeSignal) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSignal) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSignal) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

func (f *fakeSignal) all(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(fr, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeSignal) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range f.all(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSignal) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range f.all(t) {
		out = append(out, m["type"].(string))
	}
	return out
}

func newConn(id, user, session string, host bool) (*core.Connection, *fakeSignal) {
	sig := &fakeSignal{}
	u := domain.User{ID: domain.UserID(user), Username: user + "-name", Avatar: "https://img/" + user}
	return core.NewConnection(core.ConnID(id), u, domain.SessionID(session), host, sig), sig
}

func newTestOrchestrator(policy HostPolicy) *Orchestrator {
	return NewOrchestrator(NewRegistry(), NewStore(domain.DefaultHistoryLimit), SimplePolicy{}, policy, nil)
}

func userIDs(t *testing.T, usersFrame map[string]any) []string {
	t.Helper()
	raw, ok := usersFrame["users"].([]any)
	require.True(t, ok, "users frame without users: %v", usersFrame)
	var out []string
	for _, u := range raw {
		entry := u.(map[string]any)
		out = append(out, entry["user"].(map[string]any)["id"].(string))
	}
	return out
}
