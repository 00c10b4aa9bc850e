// Package ledgerclient models the external fungible-token ledger as an
// opaque asynchronous RPC (spec.md §6). The vault core depends only on this
// interface, never on a concrete ledger implementation, so it can be tested
// against the in-memory Fake in this package and pointed at a real ICRC-1/
// ICRC-2 ledger canister client in production.
package ledgerclient

import "context"

// Account identifies a destination on the external ledger: an owner
// principal plus an optional subaccount, per the ICRC-1 Account record.
type Account struct {
	Owner      string
	Subaccount *[32]byte
}

// TransferArgs mirrors icrc1_transfer's argument record (spec.md §6).
// CreatedAtTime doubles as the idempotency key: the same (From,
// CreatedAtTime) pair must never be charged twice.
type TransferArgs struct {
	FromSubaccount *[32]byte
	To             Account
	Amount         uint64
	Fee            *uint64
	Memo           []byte
	CreatedAtTime  uint64 // nanoseconds since epoch
}

// TransferFromArgs mirrors icrc2_transfer_from, used for pull deposits.
type TransferFromArgs struct {
	SpenderSubaccount *[32]byte
	From              Account
	To                Account
	Amount            uint64
	Fee               *uint64
	Memo              []byte
	CreatedAtTime     uint64
}

// RejectCategory classifies a TransferError per spec.md §4.5's
// authoritative table, so the pending-transfer manager can decide between
// rollback and retry without re-deriving the classification at each call
// site.
type RejectCategory int

const (
	// CategoryDefinite transfers are safe to roll back: the external
	// ledger will never accept this exact request.
	CategoryDefinite RejectCategory = iota
	// CategoryUncertain transfers must be retried with the same
	// CreatedAtTime so the external ledger can deduplicate.
	CategoryUncertain
)

// TransferErrorKind enumerates every ICRC-1/ICRC-2 TransferError /
// TransferFromError variant plus the canister-call-level rejections
// (spec.md §4.5, §6).
type TransferErrorKind string

const (
	ErrBadFee               TransferErrorKind = "BadFee"
	ErrBadBurn              TransferErrorKind = "BadBurn"
	ErrInsufficientFunds    TransferErrorKind = "InsufficientFunds"
	ErrInsufficientAllowance TransferErrorKind = "InsufficientAllowance"
	ErrTooOld               TransferErrorKind = "TooOld"
	ErrCreatedInFuture      TransferErrorKind = "CreatedInFuture"
	ErrDuplicate            TransferErrorKind = "Duplicate"
	ErrBadRequest           TransferErrorKind = "BadRequest"
	ErrDestinationInvalid   TransferErrorKind = "DestinationInvalid"
	ErrSysTransient         TransferErrorKind = "SysTransient"
	ErrUnknown              TransferErrorKind = "Unknown"
	ErrTemporarilyUnavailable TransferErrorKind = "TemporarilyUnavailable"
	ErrSysFatal             TransferErrorKind = "SysFatal"
	ErrCanisterReject       TransferErrorKind = "CanisterReject"
	ErrCanisterError        TransferErrorKind = "CanisterError"
)

// definiteKinds are the reject categories spec.md §4.5 marks safe to roll
// back, plus the three system-level rejects (SysFatal, CanisterReject,
// CanisterError) listed last. Everything not in this set is uncertain.
var definiteKinds = map[TransferErrorKind]bool{
	ErrBadFee:               true,
	ErrBadBurn:              true,
	ErrInsufficientFunds:    true,
	ErrInsufficientAllowance: true,
	ErrTooOld:               true,
	ErrCreatedInFuture:      true,
	ErrDuplicate:            true,
	ErrBadRequest:           true,
	ErrDestinationInvalid:   true,
	ErrSysFatal:             true,
	ErrCanisterReject:       true,
	ErrCanisterError:        true,
}

// Classify implements spec.md §4.5's authoritative reject-category table.
//
// Duplicate is Definite here because on a first attempt it means the
// caller reused a created_at_time that collided with something else. The
// one exception — a retry that reuses its own pending transfer's
// created_at_time — is not a classifier concern: vault.classifyAttempt
// special-cases that Duplicate to Completed before it ever reaches this
// function, since there it proves the original request already landed.
func Classify(kind TransferErrorKind) RejectCategory {
	if definiteKinds[kind] {
		return CategoryDefinite
	}
	return CategoryUncertain
}

// TransferError is returned by Transfer when the external ledger rejects
// the request (as opposed to a transport-level failure, which returns a Go
// error from Transfer itself and is always treated as Uncertain per
// spec.md §4.5's SysTransient/Unknown row).
type TransferError struct {
	Kind    TransferErrorKind
	Message string
}

func (e *TransferError) Error() string { return string(e.Kind) + ": " + e.Message }

// Client is the external token-ledger RPC surface the vault core consumes
// (spec.md §6). Implementations must be safe for concurrent use; the vault
// core calls these without holding its own state lock, simulating a
// suspension point in the single-threaded actor model this core emulates.
type Client interface {
	// Transfer pushes amount out of the vault's own account to args.To.
	// Returns the block index on success, or a *TransferError on a
	// ledger-level rejection. A non-TransferError, non-nil error means the
	// call itself failed at the transport/canister level and must be
	// treated as Uncertain (SysTransient/Unknown) by the caller.
	Transfer(ctx context.Context, args TransferArgs) (blockIndex uint64, err error)

	// TransferFrom pulls amount from args.From into the vault's own
	// account, used for ICRC-2 pull deposits.
	TransferFrom(ctx context.Context, args TransferFromArgs) (blockIndex uint64, err error)

	// BalanceOf queries the external ledger balance of the given account.
	BalanceOf(ctx context.Context, account Account) (uint64, error)
}
