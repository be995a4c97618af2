// Package confirmation submits tag confirmations to the backend and decides
// whether a failed submission should be retried.
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/sendtag/logger"
	"github.com/vitwit/sendtag/metrics"
	"github.com/vitwit/sendtag/types"
)

const (
	// MaxAttempts bounds submissions retried for a transaction the backend cannot see yet.
	MaxAttempts = 10

	// RetryDelay is waited before a retry is handed back to the caller.
	RetryDelay = time.Second
)

// ErrSubmissionInFlight is returned when Submit is called while another submission is pending.
var ErrSubmissionInFlight = errors.New("confirmation already in flight")

// Confirmer is the backend confirm endpoint. A nil txHash confirms free tags.
type Confirmer interface {
	ConfirmTags(ctx context.Context, txHash *common.Hash) error
}

// Outcome is the result of a single submission.
type Outcome int

const (
	OutcomeConfirmed Outcome = iota
	OutcomeRetry
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRetry:
		return "retry"
	default:
		return "failed"
	}
}

// Request describes one submission. Attempt is 1-based.
type Request struct {
	IsFree  bool
	TxHash  *common.Hash
	Attempt int
}

func (r Request) validate() error {
	if r.Attempt < 1 {
		return fmt.Errorf("attempt must be at least 1, got %d", r.Attempt)
	}
	if !r.IsFree && r.TxHash == nil {
		return &types.SendtagError{
			Code:    types.ErrInvalidState,
			Message: "transaction hash required for paid confirmation",
		}
	}
	return nil
}

// Submitter issues confirmations one at a time.
type Submitter struct {
	backend  Confirmer
	delay    time.Duration
	inFlight atomic.Bool
	logger   logger.Logger
	metrics  metrics.Recorder
}

type Option func(*Submitter)

func WithLogger(l logger.Logger) Option {
	return func(s *Submitter) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Submitter) {
		s.metrics = r
	}
}

// WithRetryDelay overrides RetryDelay.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Submitter) {
		s.delay = d
	}
}

// NewSubmitter creates a submitter over the backend confirm endpoint
func NewSubmitter(backend Confirmer, opts ...Option) *Submitter {
	s := &Submitter{
		backend: backend,
		delay:   RetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrNoop(s.logger)
	s.metrics = metrics.OrNoop(s.metrics)
	return s
}

// Submit sends one confirmation. On OutcomeRetry the retry delay has already
// elapsed and the returned error is the transient one. On OutcomeFailed the
// error is terminal for this session.
func (s *Submitter) Submit(ctx context.Context, req Request) (Outcome, error) {
	if err := req.validate(); err != nil {
		return OutcomeFailed, err
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return OutcomeFailed, ErrSubmissionInFlight
	}
	defer s.inFlight.Store(false)

	var txHash *common.Hash
	if !req.IsFree {
		txHash = req.TxHash
	}

	fields := map[string]any{"attempt": req.Attempt, "free": req.IsFree}
	if txHash != nil {
		fields["tx"] = txHash.Hex()
	}

	start := time.Now()
	s.metrics.IncCounter(metrics.ConfirmAttempt, map[string]string{"phase": "submitting_confirmation"})
	err := s.backend.ConfirmTags(ctx, txHash)
	if err == nil {
		s.metrics.ObserveLatency(metrics.ConfirmAttempt, time.Since(start), map[string]string{"outcome": OutcomeConfirmed.String()})
		s.logger.Info("tags confirmed", fields)
		return OutcomeConfirmed, nil
	}

	fields["error"] = err
	if !ShouldRetry(err, txHash, req.Attempt) {
		s.metrics.ObserveLatency(metrics.ConfirmAttempt, time.Since(start), map[string]string{"outcome": OutcomeFailed.String()})
		s.logger.Error("confirm tags failed", fields)
		return OutcomeFailed, err
	}

	s.metrics.ObserveLatency(metrics.ConfirmAttempt, time.Since(start), map[string]string{"outcome": OutcomeRetry.String()})
	s.metrics.IncCounter(metrics.ConfirmRetry, map[string]string{"phase": "submitting_confirmation"})
	s.logger.Warn("transaction not indexed yet, retrying", fields)

	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return OutcomeFailed, ctx.Err()
	case <-timer.C:
	}

	return OutcomeRetry, &types.SendtagError{
		Code:    types.ErrNotYetIndexed,
		Message: err.Error(),
	}
}

// InFlight reports whether a submission is pending.
func (s *Submitter) InFlight() bool {
	return s.inFlight.Load()
}

// ShouldRetry reports whether a failed attempt is retried: only errors the
// backend raises for transactions it cannot see yet, and only below MaxAttempts.
func ShouldRetry(err error, txHash *common.Hash, attempt int) bool {
	return attempt < MaxAttempts && IsNotYetIndexed(err, txHash)
}

// IsNotYetIndexed classifies the backend's "transaction not visible yet"
// errors. The backend only reports these as messages, so this matches on
// substrings; replace it with an error code check once one exists.
func IsNotYetIndexed(err error, txHash *common.Hash) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range notYetIndexedPatterns(txHash) {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func notYetIndexedPatterns(txHash *common.Hash) []string {
	patterns := []string{
		"Transaction too new.",
		"The Transaction may not be processed on a block yet.",
	}
	if txHash != nil {
		patterns = append(patterns, fmt.Sprintf("Transaction with hash %q could not be found", txHash.Hex()))
	}
	return patterns
}
