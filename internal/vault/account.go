package vault

import "time"

// Account is a single user's custodial position. Amounts are e8s (10⁻⁸ of
// the base token) to match the external ledger's fixed-point representation.
type Account struct {
	Principal      Principal
	Balance        uint64 // spendable
	TotalDeposited uint64
	TotalWithdrawn uint64
	TotalWagered   uint64
	Locked         bool // true while a wager's random draw is pending
	CreatedAt      time.Time
	LastActivity   time.Time
}

// Ledger owns the user balance map. It is deliberately ignorant of
// concurrency: every method assumes it is called from within a single vault
// "turn" (see Vault.turnMu). It re-reads from its own map on every
// operation so callers can never hand it a stale value — the one property
// spec.md §4.1 calls out as load-bearing for the TOCTOU fixes this core
// exists to demonstrate.
type Ledger struct {
	accounts map[Principal]*Account
	now      func() time.Time
}

// NewLedger creates an empty ledger. now defaults to time.Now; tests may
// override it for deterministic timestamps.
func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{accounts: make(map[Principal]*Account), now: now}
}

// getOrCreate returns the account for p, lazily creating it on first touch.
// Accounts are never destroyed (spec.md §3: "created lazily on first
// credit; never destroyed").
func (l *Ledger) getOrCreate(p Principal) *Account {
	a, ok := l.accounts[p]
	if !ok {
		ts := l.now()
		a = &Account{Principal: p, CreatedAt: ts, LastActivity: ts}
		l.accounts[p] = a
	}
	return a
}

// Get returns a copy of the account for p, or the zero-value Account with
// Principal set if none exists yet — queries never create accounts.
func (l *Ledger) Get(p Principal) Account {
	if a, ok := l.accounts[p]; ok {
		return *a
	}
	return Account{Principal: p}
}

// Credit adds n to p's balance. Checked: overflow is a fatal programmer
// error per spec.md §3 ("all arithmetic uses checked operations; overflow
// is a fatal programmer error").
func (l *Ledger) Credit(p Principal, n uint64) {
	a := l.getOrCreate(p)
	sum, ok := checkedAddU64(a.Balance, n)
	if !ok {
		panic(&FatalInvariantError{Msg: "ledger credit overflow for " + string(p)})
	}
	a.Balance = sum
	a.LastActivity = l.now()
}

// Debit subtracts n from p's balance. It re-reads the account from the map
// immediately before subtracting — there is no other code path to a
// balance than through this map, so "re-read" here means "never operate on
// a value the caller captured earlier and is replaying now." Returns
// ErrInsufficientBalance (a protocol error, not a trap) on underflow.
func (l *Ledger) Debit(p Principal, n uint64) error {
	a := l.getOrCreate(p)
	if a.Balance < n {
		return ErrInsufficientBalance
	}
	a.Balance -= n
	a.LastActivity = l.now()
	return nil
}

// SetLocked flips the locked flag that marks an account as having a wager
// in flight awaiting a random draw.
func (l *Ledger) SetLocked(p Principal, locked bool) {
	a := l.getOrCreate(p)
	a.Locked = locked
}

// RecordDeposit bumps TotalDeposited alongside a Credit.
func (l *Ledger) RecordDeposit(p Principal, n uint64) {
	a := l.getOrCreate(p)
	sum, ok := checkedAddU64(a.TotalDeposited, n)
	if !ok {
		panic(&FatalInvariantError{Msg: "ledger total-deposited overflow for " + string(p)})
	}
	a.TotalDeposited = sum
}

// RecordWithdrawal bumps TotalWithdrawn.
func (l *Ledger) RecordWithdrawal(p Principal, n uint64) {
	a := l.getOrCreate(p)
	sum, ok := checkedAddU64(a.TotalWithdrawn, n)
	if !ok {
		panic(&FatalInvariantError{Msg: "ledger total-withdrawn overflow for " + string(p)})
	}
	a.TotalWithdrawn = sum
}

// RecordWager bumps TotalWagered.
func (l *Ledger) RecordWager(p Principal, n uint64) {
	a := l.getOrCreate(p)
	sum, ok := checkedAddU64(a.TotalWagered, n)
	if !ok {
		panic(&FatalInvariantError{Msg: "ledger total-wagered overflow for " + string(p)})
	}
	a.TotalWagered = sum
}

// SumAll returns the sum of every account's spendable balance. Used by the
// solvency invariant (spec.md §3.I1); checked, since the sum of all user
// funds in the system is itself bounded by the external ledger's u64
// balance.
func (l *Ledger) SumAll() uint64 {
	var total uint64
	for _, a := range l.accounts {
		sum, ok := checkedAddU64(total, a.Balance)
		if !ok {
			panic(&FatalInvariantError{Msg: "ledger sum_all overflow"})
		}
		total = sum
	}
	return total
}

// All returns a snapshot of every account in the ledger, for backoffice
// listings. Callers get copies, never the live *Account pointers.
func (l *Ledger) All() []Account {
	out := make([]Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, *a)
	}
	return out
}

// Restore repopulates the ledger from persisted rows at boot, bypassing
// getOrCreate's CreatedAt stamping since the original creation time is
// already known.
func (l *Ledger) Restore(accounts []Account) {
	l.accounts = make(map[Principal]*Account, len(accounts))
	for i := range accounts {
		a := accounts[i]
		l.accounts[a.Principal] = &a
	}
}

// checkedAddU64 adds a and b, returning ok=false on overflow instead of
// wrapping.
func checkedAddU64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// checkedSubU64 subtracts b from a, returning ok=false if the result would
// underflow.
func checkedSubU64(a, b uint64) (uint64, bool) {
	if a < b {
		return 0, false
	}
	return a - b, true
}
