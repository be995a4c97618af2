package confirmation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/sendtag/types"
)

type fakeConfirmer struct {
	mu      sync.Mutex
	errs    []error
	calls   []*common.Hash
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeConfirmer) ConfirmTags(ctx context.Context, txHash *common.Hash) error {
	f.mu.Lock()
	f.calls = append(f.calls, txHash)
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	block, entered := f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return err
}

var testTx = common.HexToHash("0x9f1c3a51e3ad2d0ce5c4e3d2b2f0d3c5f8b5b8e0a1f3c4d5e6f708192a3b4c5d")

func TestIsNotYetIndexed(t *testing.T) {
	cases := []struct {
		name string
		err  error
		tx   *common.Hash
		want bool
	}{
		{"nil", nil, &testTx, false},
		{"too new", errors.New("Transaction too new."), &testTx, true},
		{"wrapped too new", fmt.Errorf("confirm: %w", errors.New("TRPCClientError: Transaction too new.")), nil, true},
		{"not in block", errors.New("The Transaction may not be processed on a block yet."), nil, true},
		{"hash not found", fmt.Errorf(`Transaction with hash "%s" could not be found`, testTx.Hex()), &testTx, true},
		{"other hash not found", errors.New(`Transaction with hash "0x01" could not be found`), &testTx, false},
		{"hash not found free", fmt.Errorf(`Transaction with hash "%s" could not be found`, testTx.Hex()), nil, false},
		{"wrong amount", errors.New("Transaction is not a payment for tags or incorrect amount."), &testTx, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, IsNotYetIndexed(c.err, c.tx))
		})
	}
}

func TestShouldRetry_Bound(t *testing.T) {
	transient := errors.New("Transaction too new.")
	for attempt := 1; attempt < MaxAttempts; attempt++ {
		assert.True(t, ShouldRetry(transient, &testTx, attempt), "attempt %d", attempt)
	}
	assert.False(t, ShouldRetry(transient, &testTx, MaxAttempts))
	assert.False(t, ShouldRetry(errors.New("boom"), &testTx, 1))
}

func TestSubmit_Success(t *testing.T) {
	backend := &fakeConfirmer{}
	s := NewSubmitter(backend, WithRetryDelay(0))

	outcome, err := s.Submit(context.Background(), Request{TxHash: &testTx, Attempt: 1})

	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)
	require.Len(t, backend.calls, 1)
	assert.Equal(t, testTx, *backend.calls[0])
}

func TestSubmit_FreeSendsNoTransaction(t *testing.T) {
	backend := &fakeConfirmer{}
	s := NewSubmitter(backend, WithRetryDelay(0))

	outcome, err := s.Submit(context.Background(), Request{IsFree: true, TxHash: &testTx, Attempt: 1})

	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)
	assert.Nil(t, backend.calls[0])
}

func TestSubmit_PaidRequiresHash(t *testing.T) {
	s := NewSubmitter(&fakeConfirmer{}, WithRetryDelay(0))

	outcome, err := s.Submit(context.Background(), Request{Attempt: 1})

	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, types.ErrInvalidState, types.ErrorCode(err))
}

func TestSubmit_RetriesTransientUntilBound(t *testing.T) {
	backend := &fakeConfirmer{}
	for i := 0; i < MaxAttempts; i++ {
		backend.errs = append(backend.errs, errors.New("Transaction too new."))
	}
	s := NewSubmitter(backend, WithRetryDelay(time.Millisecond))

	for attempt := 1; attempt < MaxAttempts; attempt++ {
		outcome, err := s.Submit(context.Background(), Request{TxHash: &testTx, Attempt: attempt})
		require.Equal(t, OutcomeRetry, outcome, "attempt %d", attempt)
		assert.Equal(t, types.ErrNotYetIndexed, types.ErrorCode(err))
	}

	outcome, err := s.Submit(context.Background(), Request{TxHash: &testTx, Attempt: MaxAttempts})
	assert.Equal(t, OutcomeFailed, outcome)
	assert.EqualError(t, err, "Transaction too new.")
	assert.Len(t, backend.calls, MaxAttempts)
}

func TestSubmit_NonTransientFailsImmediately(t *testing.T) {
	backend := &fakeConfirmer{errs: []error{errors.New("No tags to confirm.")}}
	s := NewSubmitter(backend, WithRetryDelay(time.Hour))

	outcome, err := s.Submit(context.Background(), Request{TxHash: &testTx, Attempt: 1})

	assert.Equal(t, OutcomeFailed, outcome)
	assert.EqualError(t, err, "No tags to confirm.")
}

func TestSubmit_RetryDelayHonoursContext(t *testing.T) {
	backend := &fakeConfirmer{errs: []error{errors.New("Transaction too new.")}}
	s := NewSubmitter(backend, WithRetryDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := s.Submit(ctx, Request{TxHash: &testTx, Attempt: 1})

	assert.Equal(t, OutcomeFailed, outcome)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubmit_RejectsConcurrentSubmission(t *testing.T) {
	backend := &fakeConfirmer{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := NewSubmitter(backend, WithRetryDelay(0))

	done := make(chan Outcome)
	go func() {
		outcome, _ := s.Submit(context.Background(), Request{TxHash: &testTx, Attempt: 1})
		done <- outcome
	}()
	<-backend.entered
	assert.True(t, s.InFlight())

	outcome, err := s.Submit(context.Background(), Request{TxHash: &testTx, Attempt: 1})
	assert.Equal(t, OutcomeFailed, outcome)
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	close(backend.block)
	assert.Equal(t, OutcomeConfirmed, <-done)
	assert.False(t, s.InFlight())
	assert.Len(t, backend.calls, 1)
}
