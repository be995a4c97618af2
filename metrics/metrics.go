package metrics

import "time"

// Metric names recorded by the checkout.
const (
	ConfirmAttempt  = "confirm_attempt"
	ConfirmRetry    = "confirm_retry"
	ConfirmSuccess  = "confirm_success"
	ConfirmFailure  = "confirm_failure"
	DepositMatched  = "deposit_matched"
	DepositLookup   = "deposit_lookup"
	PaymentSent     = "payment_sent"
	PhaseTransition = "phase_transition"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}

// NoopRecorder discards every observation.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
