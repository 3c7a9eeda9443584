package signal

import (
	"github.com/dkeye/livecook/internal/protocol"
)

// handleStream serves start-stream and end-stream. Only the session host may
// toggle streaming; anyone else gets a rejected-operation notice.
func (ctl *SignalWSController) handleStream(cl *client, typ string, data []byte) {
	var p protocol.StreamControl
	if err := protocol.Decode(data, &p); err != nil {
		ctl.report(cl, typ, err)
		return
	}
	var err error
	if typ == protocol.TypeStartStream {
		err = ctl.Orch.StartStream(cl.conn, p.SessionID)
	} else {
		err = ctl.Orch.EndStream(cl.conn, p.SessionID)
	}
	ctl.report(cl, typ, err)
}
