package ledgerclient

import (
	"context"
	"sync"
)

// Fake is an in-memory Client used by vault package tests to drive the
// pending-transfer state machine deterministically: tests can queue up
// exactly the sequence of responses (success, a specific TransferError, or
// a transport failure) that a scenario calls for, then assert on the
// resulting vault state. Grounded on the teacher's injected-interface
// pattern (Rebalancer/Broadcaster in internal/service/bet_service.go) —
// same idea, applied to the ledger boundary instead of an internal service.
type Fake struct {
	mu sync.Mutex

	balances map[string]uint64
	// seen de-duplicates by (from, created_at_time) — the idempotency
	// contract spec.md §6 requires of the real ledger.
	seen map[idemKey]uint64

	// queued responses are consumed in order by Transfer; once exhausted,
	// Transfer succeeds.
	queued []response
	nextBlock uint64
}

type idemKey struct {
	from          string
	createdAtTime uint64
}

type response struct {
	transportErr error
	ledgerErr    *TransferError
}

// NewFake returns an empty Fake ledger.
func NewFake() *Fake {
	return &Fake{
		balances: make(map[string]uint64),
		seen:     make(map[idemKey]uint64),
	}
}

// SetBalance seeds an account's external balance (used to simulate the
// custodian's own balance for reconciliation tests).
func (f *Fake) SetBalance(owner string, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[owner] = amount
}

// QueueTransportError makes the next Transfer call fail at the
// transport level (simulating SysTransient/Unknown per spec.md §4.5).
func (f *Fake) QueueTransportError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, response{transportErr: err})
}

// QueueLedgerError makes the next Transfer call return a TransferError of
// the given kind.
func (f *Fake) QueueLedgerError(kind TransferErrorKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, response{ledgerErr: &TransferError{Kind: kind}})
}

// Transfer implements Client. It is idempotent on (From, CreatedAtTime):
// a retried call with the same key that already succeeded returns
// ErrDuplicate exactly as a real ICRC-1 ledger would, letting tests exercise
// the "manually succeed the original, then the retry observes Duplicate"
// scenario from spec.md §8.
func (f *Fake) Transfer(ctx context.Context, args TransferArgs) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := idemKey{from: "vault", createdAtTime: args.CreatedAtTime}
	if _, ok := f.seen[key]; ok {
		return 0, &TransferError{Kind: ErrDuplicate, Message: "already processed"}
	}

	if len(f.queued) > 0 {
		r := f.queued[0]
		f.queued = f.queued[1:]
		if r.transportErr != nil {
			return 0, r.transportErr
		}
		if r.ledgerErr != nil {
			if r.ledgerErr.Kind != ErrDuplicate {
				// Definite/uncertain errors do not consume the
				// idempotency slot: the ledger never committed.
				return 0, r.ledgerErr
			}
			return 0, r.ledgerErr
		}
	}

	f.nextBlock++
	f.seen[key] = f.nextBlock
	f.balances[args.To.Owner] += args.Amount
	return f.nextBlock, nil
}

// TransferFrom implements Client (pull deposits); always succeeds in the
// fake unless a transport/ledger error has been queued.
func (f *Fake) TransferFrom(ctx context.Context, args TransferFromArgs) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.queued) > 0 {
		r := f.queued[0]
		f.queued = f.queued[1:]
		if r.transportErr != nil {
			return 0, r.transportErr
		}
		if r.ledgerErr != nil {
			return 0, r.ledgerErr
		}
	}

	f.nextBlock++
	f.balances[args.From.Owner] -= args.Amount
	f.balances[args.To.Owner] += args.Amount
	return f.nextBlock, nil
}

// BalanceOf implements Client.
func (f *Fake) BalanceOf(ctx context.Context, account Account) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[account.Owner], nil
}

// MarkSettled lets a test simulate "the original transfer actually landed
// on the external ledger" out of band, for the uncertain-retry idempotency
// scenario (spec.md §8 scenario 4): the vault believes the transfer is
// still pending, but the ledger already recorded it.
func (f *Fake) MarkSettled(owner string, amount uint64, createdAtTime uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := idemKey{from: "vault", createdAtTime: createdAtTime}
	f.nextBlock++
	f.seen[key] = f.nextBlock
	f.balances[owner] += amount
}
