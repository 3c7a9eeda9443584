package signal

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dkeye/livecook/internal/app"
	"github.com/dkeye/livecook/internal/config"
	"github.com/dkeye/livecook/internal/core"
	"github.com/dkeye/livecook/internal/domain"
	"github.com/dkeye/livecook/internal/metrics"
)

// GuestIDKey is the gin context key under which the cookie-session guest id
// is stored for handshakes that carry no userId.
const GuestIDKey = "guest_id"

type SignalWSController struct {
	Orch    *app.Orchestrator
	Cfg     *config.Config
	Metrics *metrics.Metrics

	upgrader websocket.Upgrader
}

func NewSignalWSController(orch *app.Orchestrator, cfg *config.Config, m *metrics.Metrics) *SignalWSController {
	ctl := &SignalWSController{Orch: orch, Cfg: cfg, Metrics: m}
	ctl.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     ctl.checkOrigin,
	}
	return ctl
}

func (ctl *SignalWSController) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(ctl.Cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(ctl.Cfg.AllowedOrigins, "*") || slices.Contains(ctl.Cfg.AllowedOrigins, origin)
}

// WsSignalConn is the outbound half of a WebSocket: a bounded queue drained
// by writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, queue int) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, queue)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return domain.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return domain.ErrQueueOverflow
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// client is the per-connection state owned by the read loop.
type client struct {
	conn    *core.Connection
	ws      *WsSignalConn
	limiter *rate.Limiter
}

type handshake struct {
	session domain.SessionID
	user    *domain.User
	isHost  bool
}

// query returns the first non-empty value among the given parameter names.
func query(c *gin.Context, names ...string) string {
	for _, n := range names {
		if v := c.Query(n); v != "" {
			return v
		}
	}
	return ""
}

// parseHandshake accepts both camelCase and snake_case parameter names.
func (ctl *SignalWSController) parseHandshake(c *gin.Context) (handshake, error) {
	var hs handshake
	sid, err := domain.ParseSessionID(query(c, "sessionId", "session_id"))
	if err != nil {
		return hs, err
	}
	userID := query(c, "userId", "user_id")
	if userID == "" {
		userID = c.GetString(GuestIDKey)
	}
	user, err := domain.NewUser(userID, c.Query("username"), c.Query("avatar"))
	if err != nil {
		return hs, err
	}
	isHost := false
	if raw := query(c, "isHost", "is_host"); raw != "" {
		if isHost, err = strconv.ParseBool(raw); err != nil {
			return hs, err
		}
	}
	return handshake{session: sid, user: user, isHost: isHost}, nil
}

// HandleSignal upgrades the request and joins the connection to the session
// named in its handshake query.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	hs, err := ctl.parseHandshake(c)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad handshake")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var respHeader http.Header
	if cookies := c.Writer.Header().Values("Set-Cookie"); len(cookies) > 0 {
		respHeader = http.Header{"Set-Cookie": cookies}
	}
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	out := newWsSignalConn(ws, ctl.Cfg.SendQueue)
	conn := core.NewConnection(core.ConnID(uuid.NewString()), *hs.user, hs.session, hs.isHost, out)
	ctx, cancel := context.WithCancel(ctx)
	closeConn := func() {
		cancel()
		out.Close()
	}

	if err := ctl.Orch.Join(conn, closeConn); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(conn.ID)).Msg("join failed")
		writeClose(ws, websocket.CloseInternalServerErr, "join failed")
		closeConn()
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(conn.ID)).Str("session", string(hs.session)).Str("user", string(hs.user.ID)).Msg("new WS connection")

	cl := &client{conn: conn, ws: out, limiter: newChatLimiter(ctl.Cfg)}
	go ctl.writePump(ctx, out)
	go ctl.readPump(ctx, cl)
}
