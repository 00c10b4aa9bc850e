package vault

import (
	"math/big"

	"github.com/evetabi/vault/internal/ledgerclient"
	"github.com/google/btree"
)

// MaxRetries bounds how many times an uncertain transfer is retried before
// it is declared expired and rolled back (spec.md §6).
const MaxRetries = 10

// PendingBatch bounds how many pending transfers a single retry sweep
// inspects (spec.md §6).
const PendingBatch = 50

// TransferKind distinguishes the two withdrawal paths that can be pending
// for a principal (spec.md §3).
type TransferKind int

const (
	KindUserWithdraw TransferKind = iota
	KindLPWithdraw
)

// PendingTransfer is the one-per-principal record of an outbound transfer
// still unresolved on the external ledger (spec.md §3). CreatedAt doubles
// as the idempotency key passed as CreatedAtTime on every (re)attempt.
type PendingTransfer struct {
	Principal Principal
	Kind      TransferKind

	// User withdrawal fields.
	Amount uint64

	// LP withdrawal fields.
	Shares          *big.Int
	ReserveDeducted uint64

	CreatedAt uint64 // nanoseconds; also the ICRC idempotency key
	Retries   int
	LastError string
}

// retryOrderItem orders pending transfers oldest-first by CreatedAt, with
// Principal as a tie-breaker so two transfers stamped in the same
// nanosecond still sort deterministically. This is the btree.Item the
// retry sweep walks in Ascend order, so the longest-waiting transfer is
// always retried before a recently-initiated one (spec.md §4.5's retry
// sweep has no fairness requirement of its own, but FIFO is the natural
// reading of "retries every pending withdrawal on RetryInterval").
type retryOrderItem struct {
	createdAt uint64
	principal Principal
}

func (a retryOrderItem) Less(than btree.Item) bool {
	b := than.(retryOrderItem)
	if a.createdAt != b.createdAt {
		return a.createdAt < b.createdAt
	}
	return a.principal.String() < b.principal.String()
}

// pendingTransferManager owns the one-per-principal pending map and the
// state machine transitions of spec.md §4.5. It never calls the external
// ledger itself — callers pass in a ledgerclient.Client — so the manager's
// transition logic is unit-testable against ledgerclient.Fake without any
// wall-clock or network dependency.
type pendingTransferManager struct {
	byPrincipal map[Principal]*PendingTransfer
	retryOrder  *btree.BTree // retryOrderItem, kept in sync with byPrincipal
	processing  bool         // reentrancy guard for the periodic retry sweep
}

func newPendingTransferManager() *pendingTransferManager {
	return &pendingTransferManager{
		byPrincipal: make(map[Principal]*PendingTransfer),
		retryOrder:  btree.New(32),
	}
}

// Get returns the pending transfer for p, if any.
func (m *pendingTransferManager) Get(p Principal) (*PendingTransfer, bool) {
	pt, ok := m.byPrincipal[p]
	return pt, ok
}

// HasPending implements spec.md invariant I4: a principal with a non-empty
// pending transfer cannot initiate another withdrawal.
func (m *pendingTransferManager) HasPending(p Principal) bool {
	_, ok := m.byPrincipal[p]
	return ok
}

// Initiate records a new pending transfer for p. Callers must have already
// performed the atomic balance/shares/reserve debit in the same turn
// (spec.md §4.5: "Initiation is atomic with balance debit") before calling
// this — pendingTransferManager only tracks the bookkeeping record, it does
// not itself touch the ledger or pool.
func (m *pendingTransferManager) Initiate(pt PendingTransfer) error {
	if m.HasPending(pt.Principal) {
		return ErrTransferInFlight
	}
	cp := pt
	m.byPrincipal[pt.Principal] = &cp
	m.retryOrder.ReplaceOrInsert(retryOrderItem{createdAt: pt.CreatedAt, principal: pt.Principal})
	return nil
}

// Remove deletes the pending record for p (called after Completed, after a
// rollback, or after expiry).
func (m *pendingTransferManager) Remove(p Principal) {
	if pt, ok := m.byPrincipal[p]; ok {
		m.retryOrder.Delete(retryOrderItem{createdAt: pt.CreatedAt, principal: p})
	}
	delete(m.byPrincipal, p)
}

// Restore repopulates the pending-transfer map from persisted rows at boot.
func (m *pendingTransferManager) Restore(rows []PendingTransfer) {
	m.byPrincipal = make(map[Principal]*PendingTransfer, len(rows))
	m.retryOrder = btree.New(32)
	for i := range rows {
		pt := rows[i]
		m.byPrincipal[pt.Principal] = &pt
		m.retryOrder.ReplaceOrInsert(retryOrderItem{createdAt: pt.CreatedAt, principal: pt.Principal})
	}
}

// OldestPending returns up to limit principals with a pending transfer,
// ordered oldest CreatedAt first, for the bounded-batch retry sweep
// (spec.md §4.5, §6's PendingBatch cap).
func (m *pendingTransferManager) OldestPending(limit int) []Principal {
	out := make([]Principal, 0, limit)
	m.retryOrder.Ascend(func(item btree.Item) bool {
		out = append(out, item.(retryOrderItem).principal)
		return len(out) < limit
	})
	return out
}

// transferOutcome is the result of classifying a single Transfer attempt.
type transferOutcome int

const (
	outcomeCompleted transferOutcome = iota
	outcomeDefiniteFail
	outcomeUncertainRetry
	outcomeExpired
)

// classifyAttempt maps a ledgerclient result to spec.md §4.5's state
// machine transitions: Ok(block) -> Completed; Err(classify) -> Definite ->
// Rollback, or Uncertain -> retries+1, then Expired if MaxRetries reached.
//
// Duplicate is the one Definite-category kind that is never a rollback
// candidate: it is only ever returned on a *retry* of a transfer reusing
// the original created_at_time, which by construction means the ledger
// already accepted that exact request (spec.md §8 scenario 4 — "the retry
// must see Duplicate (definite) or success; balance must remain initial −
// amount, never initial − 2·amount"). Treating it as Completed is what
// that guarantee requires.
func classifyAttempt(pt *PendingTransfer, blockIndex uint64, err error) transferOutcome {
	if err == nil {
		return outcomeCompleted
	}
	if tErr, ok := err.(*ledgerclient.TransferError); ok {
		if tErr.Kind == ledgerclient.ErrDuplicate {
			return outcomeCompleted
		}
		if ledgerclient.Classify(tErr.Kind) == ledgerclient.CategoryDefinite {
			return outcomeDefiniteFail
		}
	}
	// Everything else — a *ledgerclient.TransferError classified
	// Uncertain, or a bare transport/context error — is Uncertain
	// (spec.md §4.5: "SysTransient, Unknown, TemporarilyUnavailable").
	if pt.Retries+1 >= MaxRetries {
		return outcomeExpired
	}
	return outcomeUncertainRetry
}
