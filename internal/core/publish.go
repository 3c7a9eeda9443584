package core

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/livecook/internal/domain"
)

// Publish fans a frame out to targets with non-blocking sends. Targets whose
// queue is full are reported in Dropped and never block the others. Targets
// already closing are skipped; their own leave is under way.
func Publish(targets []*Connection, skip ConnID, f Frame) PublishResult {
	res := PublishResult{}
	for _, c := range targets {
		if c.ID == skip {
			continue
		}
		res.Merge(SendTo(c, f))
	}
	log.Debug().Str("module", "core.publish").Str("skip", string(skip)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// SendTo delivers to a single connection.
func SendTo(c *Connection, f Frame) PublishResult {
	err := c.Signal().TrySend(f)
	switch {
	case err == nil:
		return PublishResult{SendTo: 1}
	case errors.Is(err, domain.ErrQueueOverflow):
		return PublishResult{Dropped: []*Connection{c}}
	default:
		log.Debug().Err(err).Str("module", "core.publish").Str("conn", string(c.ID)).Msg("send skipped")
		return PublishResult{}
	}
}
