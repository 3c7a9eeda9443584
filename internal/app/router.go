package app

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/livecook/internal/core"
	"github.com/dkeye/livecook/internal/domain"
	"github.com/dkeye/livecook/internal/metrics"
	"github.com/dkeye/livecook/internal/protocol"
)

// Router forwards directed signaling between members of one session.
// It keeps no state of its own; delivery is at-most-once.
type Router struct {
	Registry *Registry
	Metrics  *metrics.Metrics
}

// Route delivers in to its addressee, tagged with the sender's user id. An
// addressee that is no longer connected is not an error: the message is
// dropped. The returned result carries the addressee when its queue was full.
func (rt *Router) Route(from *core.Connection, in protocol.SignalIn) (core.PublishResult, error) {
	payload := in.Payload()
	if err := validateSignal(in.Type, in.To, payload); err != nil {
		return core.PublishResult{}, err
	}

	to, ok := rt.Registry.FindByUser(from.SessionID, domain.UserID(in.To))
	if !ok {
		log.Debug().Str("module", "app.router").Str("kind", in.Type).Str("from", string(from.User.ID)).Str("to", in.To).Msg("addressee gone, dropping")
		rt.Metrics.SignalDropped(in.Type)
		return core.PublishResult{}, nil
	}

	frame, err := protocol.Encode(protocol.NewSignalOut(in.Type, from.User.ID, payload))
	if err != nil {
		return core.PublishResult{}, err
	}
	res := core.SendTo(to, frame)
	if res.SendTo > 0 {
		rt.Metrics.SignalForwarded(in.Type)
	} else {
		rt.Metrics.SignalDropped(in.Type)
	}
	return res, nil
}

// validateSignal checks only the envelope shape. The payload is forwarded as
// received.
func validateSignal(kind, to string, payload json.RawMessage) error {
	if to == "" {
		return fmt.Errorf("%w: %s without addressee", domain.ErrMalformedEvent, kind)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: %s without payload", domain.ErrMalformedEvent, kind)
	}
	switch kind {
	case protocol.TypeOffer, protocol.TypeAnswer:
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(payload, &sd); err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrMalformedEvent, kind, err)
		}
		if sd.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", domain.ErrMalformedEvent, kind)
		}
		if kind == protocol.TypeOffer && sd.Type != webrtc.SDPTypeOffer {
			return fmt.Errorf("%w: offer carries sdp type %s", domain.ErrMalformedEvent, sd.Type)
		}
		if kind == protocol.TypeAnswer && sd.Type != webrtc.SDPTypeAnswer && sd.Type != webrtc.SDPTypePranswer {
			return fmt.Errorf("%w: answer carries sdp type %s", domain.ErrMalformedEvent, sd.Type)
		}
	case protocol.TypeICECandidate:
		var ci webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &ci); err != nil {
			return fmt.Errorf("%w: candidate: %v", domain.ErrMalformedEvent, err)
		}
	default:
		return fmt.Errorf("%w: %q is not a signaling kind", domain.ErrMalformedEvent, kind)
	}
	return nil
}
