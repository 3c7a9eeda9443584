package signal

import (
	"github.com/dkeye/livecook/internal/protocol"
)

// handleForward passes offer, answer and ice-candidate frames to their
// addressee. The relay never terminates media itself.
func (ctl *SignalWSController) handleForward(cl *client, data []byte) {
	var p protocol.SignalIn
	if err := protocol.Decode(data, &p); err != nil {
		ctl.report(cl, "signal", err)
		return
	}
	ctl.report(cl, p.Type, ctl.Orch.Signal(cl.conn, p))
}
