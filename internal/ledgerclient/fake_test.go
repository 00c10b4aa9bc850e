package ledgerclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyKnownDefiniteKinds(t *testing.T) {
	for kind := range definiteKinds {
		assert.Equal(t, CategoryDefinite, Classify(kind), "kind=%s", kind)
	}
}

func TestClassifyUncertainKinds(t *testing.T) {
	for _, kind := range []TransferErrorKind{ErrSysTransient, ErrUnknown, ErrTemporarilyUnavailable} {
		assert.Equal(t, CategoryUncertain, Classify(kind), "kind=%s", kind)
	}
}

func TestFakeTransferCreditsDestination(t *testing.T) {
	f := NewFake()
	block, err := f.Transfer(context.Background(), TransferArgs{To: Account{Owner: "dest"}, Amount: 1_000, CreatedAtTime: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), block)

	bal, err := f.BalanceOf(context.Background(), Account{Owner: "dest"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), bal)
}

func TestFakeTransferQueuedLedgerErrorDoesNotCreditOrConsumeIdempotency(t *testing.T) {
	f := NewFake()
	f.QueueLedgerError(ErrInsufficientFunds)

	_, err := f.Transfer(context.Background(), TransferArgs{To: Account{Owner: "dest"}, Amount: 1_000, CreatedAtTime: 7})
	var tErr *TransferError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, ErrInsufficientFunds, tErr.Kind)

	bal, _ := f.BalanceOf(context.Background(), Account{Owner: "dest"})
	assert.Zero(t, bal, "a rejected transfer must never credit the destination")

	// Since the ledger never committed, a retry with the same CreatedAtTime
	// must be free to succeed rather than being treated as a duplicate.
	_, err = f.Transfer(context.Background(), TransferArgs{To: Account{Owner: "dest"}, Amount: 1_000, CreatedAtTime: 7})
	require.NoError(t, err)
}

func TestFakeTransferQueuedTransportErrorIsBareError(t *testing.T) {
	f := NewFake()
	f.QueueTransportError(errors.New("dial tcp: connection refused"))

	_, err := f.Transfer(context.Background(), TransferArgs{To: Account{Owner: "dest"}, Amount: 1, CreatedAtTime: 1})
	require.Error(t, err)
	var tErr *TransferError
	assert.False(t, errors.As(err, &tErr), "a transport failure must not be mistaken for a TransferError")
}

func TestFakeTransferRetrySameKeyReturnsDuplicate(t *testing.T) {
	f := NewFake()
	_, err := f.Transfer(context.Background(), TransferArgs{To: Account{Owner: "dest"}, Amount: 500, CreatedAtTime: 3})
	require.NoError(t, err)

	_, err = f.Transfer(context.Background(), TransferArgs{To: Account{Owner: "dest"}, Amount: 500, CreatedAtTime: 3})
	var tErr *TransferError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, ErrDuplicate, tErr.Kind)

	bal, _ := f.BalanceOf(context.Background(), Account{Owner: "dest"})
	assert.Equal(t, uint64(500), bal, "the duplicate retry must not credit the destination a second time")
}

func TestFakeMarkSettledThenTransferObservesDuplicate(t *testing.T) {
	f := NewFake()
	f.MarkSettled("dest", 5_000, 42)

	bal, _ := f.BalanceOf(context.Background(), Account{Owner: "dest"})
	assert.Equal(t, uint64(5_000), bal)

	_, err := f.Transfer(context.Background(), TransferArgs{To: Account{Owner: "dest"}, Amount: 5_000, CreatedAtTime: 42})
	var tErr *TransferError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, ErrDuplicate, tErr.Kind)
}

func TestFakeTransferFromDebitsSourceCreditsDestination(t *testing.T) {
	f := NewFake()
	f.SetBalance("alice", 10_000)

	_, err := f.TransferFrom(context.Background(), TransferFromArgs{
		From: Account{Owner: "alice"}, To: Account{Owner: "vault"}, Amount: 4_000, CreatedAtTime: 1,
	})
	require.NoError(t, err)

	aliceBal, _ := f.BalanceOf(context.Background(), Account{Owner: "alice"})
	vaultBal, _ := f.BalanceOf(context.Background(), Account{Owner: "vault"})
	assert.Equal(t, uint64(6_000), aliceBal)
	assert.Equal(t, uint64(4_000), vaultBal)
}
