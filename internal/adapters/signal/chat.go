package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/livecook/internal/domain"
	"github.com/dkeye/livecook/internal/protocol"
)

func (ctl *SignalWSController) handleChat(cl *client, data []byte) {
	var p protocol.ChatIn
	if err := protocol.Decode(data, &p); err != nil {
		ctl.report(cl, protocol.TypeMessage, err)
		return
	}
	if !cl.limiter.Allow() {
		ctl.report(cl, protocol.TypeMessage, domain.ErrRateLimited)
		return
	}
	msg, err := ctl.Orch.Chat(cl.conn, p.Text)
	if err != nil {
		ctl.report(cl, protocol.TypeMessage, err)
		return
	}
	log.Debug().Str("module", "signal").Str("conn", string(cl.conn.ID)).Str("message", msg.ID).Msg("chat")
}

// handleTyping relays typing indicators. Over the rate limit typing is
// silently dropped; stop-typing always goes through so no indicator is left
// stuck on the other members' screens.
func (ctl *SignalWSController) handleTyping(cl *client, typ string) {
	stop := typ == protocol.TypeStopTyping
	if !stop && !cl.limiter.Allow() {
		return
	}
	ctl.report(cl, typ, ctl.Orch.Typing(cl.conn, stop))
}
