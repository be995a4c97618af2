package sendtag

import (
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/vitwit/sendtag/logger"
	"github.com/vitwit/sendtag/metrics"
)

type Option func(*Sendtag)

func WithLogger(l logger.Logger) Option {
	return func(s *Sendtag) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Sendtag) {
		s.metrics = r
	}
}

func WithTimeout(t time.Duration) Option {
	return func(s *Sendtag) {
		s.timeout = t
	}
}

// WithBus publishes checkout events on b instead of a private bus.
func WithBus(b evbus.Bus) Option {
	return func(s *Sendtag) {
		s.bus = b
	}
}
