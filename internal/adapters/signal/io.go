package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"

	"github.com/dkeye/livecook/internal/domain"
	"github.com/dkeye/livecook/internal/protocol"
)

// writePump drains the outbound queue. Whatever ends it, the transport is
// closed, which in turn ends the read pump and its leave.
func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	defer c.Close()

	var pc panics.Catcher
	pc.Try(func() { ctl.writeLoop(ctx, c) })
	if r := pc.Recovered(); r != nil {
		ctl.Metrics.Panic()
		log.Error().Str("module", "signal").Str("panic", fmt.Sprint(r.Value)).Bytes("stack", r.Stack).Msg("writePump panic")
	}
}

func (ctl *SignalWSController) writeLoop(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			writeClose(c.conn, websocket.CloseGoingAway, "")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.Cfg.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

// readPump owns the connection's lifetime: whatever ends it (peer close, idle
// timeout, kick, panic) the connection leaves its session exactly once.
func (ctl *SignalWSController) readPump(ctx context.Context, cl *client) {
	defer func() {
		cl.ws.Close()
		if err := ctl.Orch.Leave(cl.conn.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Error().Err(err).Str("module", "signal").Str("conn", string(cl.conn.ID)).Msg("leave")
		}
		log.Info().Str("module", "signal").Str("conn", string(cl.conn.ID)).Msg("readPump closed")
	}()

	var pc panics.Catcher
	pc.Try(func() { ctl.readLoop(ctx, cl) })
	if r := pc.Recovered(); r != nil {
		ctl.Metrics.Panic()
		log.Error().Str("module", "signal").Str("conn", string(cl.conn.ID)).Str("panic", fmt.Sprint(r.Value)).Bytes("stack", r.Stack).Msg("readPump panic")
	}
}

func (ctl *SignalWSController) readLoop(ctx context.Context, cl *client) {
	ws := cl.ws.conn
	extend := func() error { return ws.SetReadDeadline(time.Now().Add(ctl.Cfg.IdleTimeout)) }
	_ = extend()
	ws.SetPongHandler(func(string) error { return extend() })

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(cl.conn.ID)).Msg("readPump read error")
			}
			return
		}
		_ = extend()
		ctl.handleSignal(cl, data)
	}
}

func (ctl *SignalWSController) handleSignal(cl *client, data []byte) {
	typ, err := protocol.DecodeType(data)
	if err != nil {
		ctl.report(cl, "decode", err)
		return
	}

	switch typ {
	case protocol.TypeMessage:
		ctl.handleChat(cl, data)
	case protocol.TypeTyping, protocol.TypeStopTyping:
		ctl.handleTyping(cl, typ)
	case protocol.TypeStartStream, protocol.TypeEndStream:
		ctl.handleStream(cl, typ, data)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		ctl.handleForward(cl, data)
	case protocol.TypePing:
		ctl.handlePing(cl)
	default:
		ctl.report(cl, typ, fmt.Errorf("%w: unknown type %q", domain.ErrMalformedEvent, typ))
	}
}

// report applies the error policy: churn is logged at debug and dropped,
// policy violations go back to the sender as a notice.
func (ctl *SignalWSController) report(cl *client, op string, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrChatTextEmpty):
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(cl.conn.ID)).Str("op", op).Msg("dropped")
	case errors.Is(err, domain.ErrHostAlreadyActive),
		errors.Is(err, domain.ErrNoActiveHost),
		errors.Is(err, domain.ErrNotHost),
		errors.Is(err, domain.ErrMalformedEvent),
		errors.Is(err, domain.ErrRateLimited):
		ctl.Orch.Reject(cl.conn, op, err)
	default:
		log.Error().Err(err).Str("module", "signal").Str("conn", string(cl.conn.ID)).Str("op", op).Msg("handler error")
	}
}

func writeClose(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
