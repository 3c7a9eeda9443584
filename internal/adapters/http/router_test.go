package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/livecook/internal/app"
	"github.com/dkeye/livecook/internal/config"
	"github.com/dkeye/livecook/internal/core"
	"github.com/dkeye/livecook/internal/domain"
	"github.com/dkeye/livecook/internal/metrics"
)

type nopSignal struct{}

func (nopSignal) TrySend(core.Frame) error { return nil }
func (nopSignal) Close()                   {}

func setup(t *testing.T) (*gin.Engine, *app.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:           "test",
		Secret:         "test-secret",
		AllowedOrigins: []string{"http://localhost:3000"},
		ICEServers: []config.ICEServer{
			{URLs: []string{"stun:stun.example.org:3478"}},
			{URLs: []string{"turn:turn.example.org:3478"}, Username: "u", Credential: "p"},
		},
	}
	m := metrics.New()
	orch := app.NewOrchestrator(app.NewRegistry(), app.NewStore(domain.DefaultHistoryLimit), app.SimplePolicy{}, app.HostReject, m)
	return SetupRouter(context.Background(), cfg, orch, m), orch
}

func join(t *testing.T, orch *app.Orchestrator, id, user, session string, host bool) {
	t.Helper()
	u := domain.User{ID: domain.UserID(user), Username: user}
	c := core.NewConnection(core.ConnID(id), u, domain.SessionID(session), host, nopSignal{})
	require.NoError(t, orch.Join(c, nil))
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestAPI_Sessions(t *testing.T) {
	r, orch := setup(t)
	join(t, orch, "c1", "chef", "pasta", true)
	join(t, orch, "c2", "fan", "pasta", false)
	join(t, orch, "c3", "solo", "bread", false)

	w := get(t, r, "/api/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Sessions []core.SessionInfo `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 2)
	assert.Equal(t, domain.SessionID("bread"), list.Sessions[0].ID)
	assert.Equal(t, domain.SessionID("pasta"), list.Sessions[1].ID)
	assert.Equal(t, domain.UserID("chef"), list.Sessions[1].HostID)
	assert.Equal(t, 1, list.Sessions[1].ViewerCount)

	w = get(t, r, "/api/sessions/pasta")
	require.Equal(t, http.StatusOK, w.Code)
	var info core.SessionInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, 2, info.MemberCount)
	assert.False(t, info.Streaming)

	w = get(t, r, "/api/sessions/pasta/members")
	require.Equal(t, http.StatusOK, w.Code)
	var members struct {
		Members []domain.Member `json:"members"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &members))
	require.Len(t, members.Members, 2)
	assert.True(t, members.Members[0].IsHost)
	assert.Equal(t, domain.UserID("fan"), members.Members[1].User.ID)
}

func TestAPI_UnknownSessionIsNotFound(t *testing.T) {
	r, _ := setup(t)
	assert.Equal(t, http.StatusNotFound, get(t, r, "/api/sessions/nope").Code)
	assert.Equal(t, http.StatusNotFound, get(t, r, "/api/sessions/nope/members").Code)
}

func TestAPI_ICEServers(t *testing.T) {
	r, _ := setup(t)
	w := get(t, r, "/api/ice-servers")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username"`
			Credential any      `json:"credential"`
		} `json:"iceServers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.ICEServers, 2)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, body.ICEServers[0].URLs)
	assert.Equal(t, "u", body.ICEServers[1].Username)
	assert.Equal(t, "p", body.ICEServers[1].Credential)
}

func TestHealthAndMetrics(t *testing.T) {
	r, orch := setup(t)
	join(t, orch, "c1", "chef", "pasta", true)

	w := get(t, r, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = get(t, r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "livecook_relay_connections 1")
	assert.Contains(t, body, "livecook_relay_sessions 1")
}

func TestGuestMiddlewareKeepsIDInCookie(t *testing.T) {
	r, _ := setup(t)
	var seen []string
	r.GET("/whoami", GuestMiddleware(), func(c *gin.Context) {
		seen = append(seen, c.GetString("guest_id"))
		c.Status(http.StatusNoContent)
	})

	w := get(t, r, "/whoami")
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, seen, 2)
	assert.True(t, strings.HasPrefix(seen[0], "guest-"))
	assert.Equal(t, seen[0], seen[1])
}

func TestCORSConfig(t *testing.T) {
	cc := corsConfig(&config.Config{AllowedOrigins: []string{"*"}})
	assert.True(t, cc.AllowAllOrigins)

	cc = corsConfig(&config.Config{AllowedOrigins: []string{"http://localhost:3000"}})
	assert.False(t, cc.AllowAllOrigins)
	assert.True(t, cc.AllowCredentials)
	assert.Equal(t, []string{"http://localhost:3000"}, cc.AllowOrigins)
}
