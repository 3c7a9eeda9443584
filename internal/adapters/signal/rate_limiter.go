package signal

import (
	"golang.org/x/time/rate"

	"github.com/dkeye/livecook/internal/config"
)

// newChatLimiter bounds chat and typing frames per connection. A zero rate
// disables limiting.
func newChatLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.ChatRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.ChatBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.ChatRate), burst)
}
