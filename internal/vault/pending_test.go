package vault

import (
	"math/big"
	"testing"

	"github.com/evetabi/vault/internal/ledgerclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingInitiateRejectsSecondWhilePending(t *testing.T) {
	m := newPendingTransferManager()
	p := Principal("alice")

	require.NoError(t, m.Initiate(PendingTransfer{Principal: p, Kind: KindUserWithdraw, Amount: 100, CreatedAt: 1}))
	assert.True(t, m.HasPending(p))

	err := m.Initiate(PendingTransfer{Principal: p, Kind: KindUserWithdraw, Amount: 200, CreatedAt: 2})
	assert.ErrorIs(t, err, ErrTransferInFlight)

	pt, ok := m.Get(p)
	require.True(t, ok)
	assert.Equal(t, uint64(100), pt.Amount, "the rejected second Initiate must not overwrite the first record")
}

func TestPendingRemoveClearsRecord(t *testing.T) {
	m := newPendingTransferManager()
	p := Principal("bob")
	require.NoError(t, m.Initiate(PendingTransfer{Principal: p, Kind: KindLPWithdraw, Shares: big.NewInt(5), CreatedAt: 1}))

	m.Remove(p)
	assert.False(t, m.HasPending(p))
	_, ok := m.Get(p)
	assert.False(t, ok)
}

func TestPendingGetReturnsIndependentCopyOnInitiate(t *testing.T) {
	m := newPendingTransferManager()
	p := Principal("carol")
	src := PendingTransfer{Principal: p, Kind: KindUserWithdraw, Amount: 10, CreatedAt: 1}
	require.NoError(t, m.Initiate(src))

	src.Amount = 999
	pt, ok := m.Get(p)
	require.True(t, ok)
	assert.Equal(t, uint64(10), pt.Amount, "Initiate must store its own copy, not alias the caller's struct")
}

func TestClassifyAttemptCompletedOnSuccess(t *testing.T) {
	pt := &PendingTransfer{Retries: 0}
	assert.Equal(t, outcomeCompleted, classifyAttempt(pt, 42, nil))
}

func TestClassifyAttemptDefiniteFailOnReject(t *testing.T) {
	pt := &PendingTransfer{Retries: 0}
	err := &ledgerclient.TransferError{Kind: ledgerclient.ErrInsufficientFunds}
	assert.Equal(t, outcomeDefiniteFail, classifyAttempt(pt, 0, err))
}

func TestClassifyAttemptUncertainRetryBelowMaxRetries(t *testing.T) {
	pt := &PendingTransfer{Retries: 0}
	err := &ledgerclient.TransferError{Kind: ledgerclient.ErrUnknown}
	assert.Equal(t, outcomeUncertainRetry, classifyAttempt(pt, 0, err))
}

func TestClassifyAttemptExpiredAtMaxRetries(t *testing.T) {
	pt := &PendingTransfer{Retries: MaxRetries - 1}
	err := &ledgerclient.TransferError{Kind: ledgerclient.ErrSysTransient}
	assert.Equal(t, outcomeExpired, classifyAttempt(pt, 0, err))
}

func TestClassifyAttemptBareTransportErrorIsUncertain(t *testing.T) {
	pt := &PendingTransfer{Retries: 0}
	assert.Equal(t, outcomeUncertainRetry, classifyAttempt(pt, 0, assertError("context deadline exceeded")))
}

// TestClassifyAttemptDuplicateIsCompletedNotRollback is spec.md §8 scenario
// 4's core invariant at the classifier level: Duplicate observed on a retry
// of a pending transfer means the original request already landed on the
// external ledger, so the outcome is Completed, never a rollback candidate.
func TestClassifyAttemptDuplicateIsCompletedNotRollback(t *testing.T) {
	pt := &PendingTransfer{Retries: 3}
	err := &ledgerclient.TransferError{Kind: ledgerclient.ErrDuplicate}
	assert.Equal(t, outcomeCompleted, classifyAttempt(pt, 0, err),
		"Duplicate on a retry must be Completed even though ledgerclient.Classify reports it Definite")
}

func TestClassifyAttemptDuplicateCompletedEvenAtRetryLimit(t *testing.T) {
	pt := &PendingTransfer{Retries: MaxRetries}
	err := &ledgerclient.TransferError{Kind: ledgerclient.ErrDuplicate}
	assert.Equal(t, outcomeCompleted, classifyAttempt(pt, 0, err),
		"Duplicate must short-circuit to Completed before the retry-budget check ever applies")
}

type assertError string

func (e assertError) Error() string { return string(e) }
