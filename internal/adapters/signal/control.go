package signal

import "github.com/dkeye/livecook/internal/protocol"

func (ctl *SignalWSController) handlePing(cl *client) {
	_ = cl.ws.TrySend(protocol.MustEncode(protocol.Bare(protocol.TypePong)))
}
