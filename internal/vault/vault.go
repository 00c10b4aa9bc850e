package vault

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/evetabi/vault/internal/game"
	"github.com/evetabi/vault/internal/ledgerclient"
)

// Economics bundles the tunable constants a Vault enforces (spec.md §6).
// Centralized once here rather than duplicated per game, per the Open
// Question resolution recorded in DESIGN.md.
type Economics struct {
	MinDeposit          uint64
	MinWithdrawal       uint64
	MaxWithdrawal       uint64
	MinBet              uint64
	MaxBet              uint64
	MaxPayoutBps        uint64
	MinOperatingBalance uint64
	TransferFee         uint64
}

// Vault is the single logical actor owning every piece of custodial state:
// the ledger, pool, audit log, pending-transfer map, and external-balance
// cache. All mutating operations run inside a "turn" — a critical section
// guarded by turnMu that is explicitly released while an external RPC is in
// flight, modeling the suspension points of spec.md §5. callerGuard is held
// for the full duration of an operation, including across that release, so
// a second call from the same principal cannot interleave with the first
// (spec.md §4.4) — turnMu alone would only protect each re-read/write pair,
// not the whole operation.
type Vault struct {
	econ Economics

	turnMu sync.Mutex
	ledger *Ledger
	pool   *Pool
	audit  *AuditLog

	pending    *pendingTransferManager
	reconciler *reconciler
	guard      *callerGuard

	ledger2 ledgerclient.Client // external token ledger RPC
	rng     game.Randomness
	now     func() time.Time
	logger  *slog.Logger
}

// New constructs a Vault. client is the external token ledger RPC; rng is
// the randomness source for settlement (a cryptoRandomness is used if nil);
// logger defaults to slog.Default() if nil.
func New(econ Economics, client ledgerclient.Client, rng game.Randomness, logger *slog.Logger) *Vault {
	if rng == nil {
		rng = cryptoRandomness{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	return &Vault{
		econ:       econ,
		ledger:     NewLedger(now),
		pool:       NewPool(),
		audit:      NewAuditLog(now),
		pending:    newPendingTransferManager(),
		reconciler: newReconciler(now),
		guard:      newCallerGuard(),
		ledger2:    client,
		rng:        rng,
		now:        now,
		logger:     logger,
	}
}

// RestoreState repopulates a freshly constructed Vault from persisted rows,
// intended to run once at boot before the HTTP router and scheduler start
// accepting work (spec.md §6: "in-memory caches may be rebuilt from the
// durable store on restart"). Takes turnMu since nothing else has started
// touching the vault yet, but held locks cost nothing on an uncontended
// mutex and keeps this consistent with every other mutating path.
func (v *Vault) RestoreState(accounts []Account, shares map[Principal]*big.Int, reserve *big.Int, poolInitialized bool, pendingFees uint64, pending []PendingTransfer, auditEntries []AuditEntry, cachedBalance uint64, cachedBalanceAt time.Time, hasCachedBalance bool) {
	v.turnMu.Lock()
	defer v.turnMu.Unlock()
	v.ledger.Restore(accounts)
	v.pool.Restore(reserve, poolInitialized, pendingFees, shares)
	v.pending.Restore(pending)
	v.audit.Restore(auditEntries)
	if hasCachedBalance {
		v.reconciler.Restore(cachedBalance, cachedBalanceAt)
	}
}

// Snapshot returns everything a periodic persistence sweep needs to write
// back to durable storage: every account, every LP share balance, pool
// state, every pending transfer, and audit entries appended since
// sinceSeq (exclusive). The vault itself never talks to internal/store
// directly — keeping it dependency-free of any particular persistence
// backend, the same separation the teacher draws between its domain
// services and internal/repository.
func (v *Vault) Snapshot(sinceSeq uint64) (accounts []Account, shares map[Principal]*big.Int, reserve *big.Int, initialized bool, pendingFees uint64, pending []PendingTransfer, newAudit []AuditEntry) {
	v.turnMu.Lock()
	defer v.turnMu.Unlock()

	accounts = v.ledger.All()

	shares = make(map[Principal]*big.Int, len(v.pool.shares))
	for p, s := range v.pool.shares {
		shares[p] = new(big.Int).Set(s)
	}
	reserve = v.pool.Reserve()
	initialized = v.pool.Initialized()
	pendingFees = v.pool.PendingFeesToParent()

	pending = make([]PendingTransfer, 0, len(v.pending.byPrincipal))
	for _, pt := range v.pending.byPrincipal {
		pending = append(pending, *pt)
	}

	for _, e := range v.audit.entries {
		if e.Seq >= sinceSeq {
			newAudit = append(newAudit, e)
		}
	}
	return
}

// CachedExternalBalance returns the reconciler's last-refreshed external
// balance reading, for periodic persistence of the reconciliation cache.
func (v *Vault) CachedExternalBalance() (balance uint64, refreshedAt time.Time, ok bool) {
	v.turnMu.Lock()
	defer v.turnMu.Unlock()
	return v.reconciler.cachedBalance, v.reconciler.refreshedAt, v.reconciler.hasCachedBalance
}

// cryptoRandomness draws from crypto/rand, the production default. Tests
// inject a deterministic game.Randomness instead.
type cryptoRandomness struct{}

func (cryptoRandomness) Draw() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(&FatalInvariantError{Msg: "entropy source failed: " + err.Error()})
	}
	return binary.BigEndian.Uint32(buf[:])
}

// createdAtTime returns the current time in nanoseconds, the idempotency
// key shape the external ledger expects (spec.md §6).
func (v *Vault) createdAtTime() uint64 {
	return uint64(v.now().UnixNano())
}

// ──────────────────────────────────────────────────────────────────────────────
// Deposits
// ──────────────────────────────────────────────────────────────────────────────

// Deposit pulls amount from the caller's external account via
// icrc2_transfer_from and credits their internal balance on success
// (spec.md §6). The pull RPC runs outside the turn lock; the credit itself
// re-enters a turn afterward rather than trusting any value read before the
// call.
func (v *Vault) Deposit(ctx context.Context, p Principal, amount uint64, from ledgerclient.Account) error {
	if amount < v.econ.MinDeposit {
		return ErrBelowMinimum
	}
	return v.guard.guardedCall(p, func() error {
		_, err := v.ledger2.TransferFrom(ctx, ledgerclient.TransferFromArgs{
			From:          from,
			To:            ledgerclient.Account{Owner: "vault"},
			Amount:        amount,
			CreatedAtTime: v.createdAtTime(),
		})
		if err != nil {
			return fmt.Errorf("deposit pull failed: %w", err)
		}

		v.turnMu.Lock()
		defer v.turnMu.Unlock()
		v.ledger.Credit(p, amount)
		v.ledger.RecordDeposit(p, amount)
		v.audit.Append(EventDeposited, p, amount, "deposit credited")
		return nil
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Withdrawals
// ──────────────────────────────────────────────────────────────────────────────

// Withdraw initiates a user withdrawal of amount e8s to dest. Per spec.md
// §4.5, the balance debit and the pending-transfer record are created
// atomically in one turn before the external transfer is ever attempted —
// this is what prevents a "balance deducted but no record of owing" state
// if the process crashes between the two.
func (v *Vault) Withdraw(ctx context.Context, p Principal, amount uint64, dest ledgerclient.Account) error {
	if amount < v.econ.MinWithdrawal {
		return ErrBelowMinimum
	}
	if amount > v.econ.MaxWithdrawal {
		return ErrAboveMaximum
	}
	return v.guard.guardedCall(p, func() error {
		return v.initiateAndAttemptWithdraw(ctx, p, amount, dest)
	})
}

// WithdrawAll withdraws the caller's entire spendable balance.
func (v *Vault) WithdrawAll(ctx context.Context, p Principal, dest ledgerclient.Account) error {
	return v.guard.guardedCall(p, func() error {
		v.turnMu.Lock()
		amount := v.ledger.Get(p).Balance
		v.turnMu.Unlock()

		if amount < v.econ.MinWithdrawal {
			return ErrBelowMinimum
		}
		if amount > v.econ.MaxWithdrawal {
			amount = v.econ.MaxWithdrawal
		}
		return v.initiateAndAttemptWithdraw(ctx, p, amount, dest)
	})
}

// initiateAndAttemptWithdraw performs the atomic debit+record turn, then
// attempts the external transfer, classifying the result per spec.md §4.5's
// state machine. Must be called with the caller guard already held.
func (v *Vault) initiateAndAttemptWithdraw(ctx context.Context, p Principal, amount uint64, dest ledgerclient.Account) error {
	if v.pending.HasPending(p) {
		return ErrTransferInFlight
	}

	createdAt := v.createdAtTime()

	v.turnMu.Lock()
	if err := v.ledger.Debit(p, amount); err != nil {
		v.turnMu.Unlock()
		return err
	}
	pt := PendingTransfer{
		Principal: p,
		Kind:      KindUserWithdraw,
		Amount:    amount,
		CreatedAt: createdAt,
	}
	if err := v.pending.Initiate(pt); err != nil {
		// Unreachable given the HasPending check above under a held
		// guard, but never leave a debited balance with no pending
		// record if it somehow happens.
		v.ledger.Credit(p, amount)
		v.turnMu.Unlock()
		return err
	}
	v.audit.Append(EventWithdrawalInitiated, p, amount, "withdrawal initiated")
	v.turnMu.Unlock()

	return v.attemptTransfer(ctx, p, dest)
}

// attemptTransfer runs (or re-runs) the external transfer for p's pending
// record and applies the spec.md §4.5 outcome transition. Must be called
// without turnMu held; it acquires it only to apply the outcome.
func (v *Vault) attemptTransfer(ctx context.Context, p Principal, dest ledgerclient.Account) error {
	v.turnMu.Lock()
	pt, ok := v.pending.Get(p)
	if !ok {
		v.turnMu.Unlock()
		return ErrNoPendingTransfer
	}
	ptCopy := *pt
	v.turnMu.Unlock()

	var amount uint64
	switch ptCopy.Kind {
	case KindUserWithdraw:
		amount = ptCopy.Amount
	case KindLPWithdraw:
		amount = ptCopy.ReserveDeducted
	}

	// ⟳ suspension: external ledger call, no lock held.
	blockIndex, err := v.ledger2.Transfer(ctx, ledgerclient.TransferArgs{
		To:            dest,
		Amount:        amount,
		CreatedAtTime: ptCopy.CreatedAt,
	})

	v.turnMu.Lock()
	defer v.turnMu.Unlock()

	// Re-read: the pending record may have been removed by a concurrent
	// retry-sweep completion while this call was in flight.
	live, ok := v.pending.Get(p)
	if !ok {
		return nil
	}

	outcome := classifyAttempt(live, blockIndex, err)
	switch outcome {
	case outcomeCompleted:
		v.pending.Remove(p)
		v.audit.Append(EventWithdrawalCompleted, p, amount, "withdrawal completed")
		return nil

	case outcomeDefiniteFail:
		v.rollbackWithdrawal(live)
		v.pending.Remove(p)
		v.audit.Append(EventWithdrawalFailed, p, amount, errString(err))
		return ErrTransferDefinite

	case outcomeExpired:
		v.rollbackWithdrawal(live)
		v.pending.Remove(p)
		v.audit.Append(EventWithdrawalExpired, p, amount, "max retries exhausted")
		return ErrTransferExpired

	default: // outcomeUncertainRetry
		live.Retries++
		live.LastError = errString(err)
		return ErrTransferUncertain
	}
}

// rollbackWithdrawal restores balance or shares+reserve for a definitively
// failed or expired pending transfer. Must be called with turnMu held.
func (v *Vault) rollbackWithdrawal(pt *PendingTransfer) {
	switch pt.Kind {
	case KindUserWithdraw:
		v.ledger.Credit(pt.Principal, pt.Amount)
		v.audit.Append(EventBalanceRestored, pt.Principal, pt.Amount, "withdrawal rolled back")
	case KindLPWithdraw:
		v.pool.RestoreLiquidity(pt.Principal, pt.Shares, pt.ReserveDeducted)
		v.audit.Append(EventLPRestored, pt.Principal, pt.ReserveDeducted, "lp withdrawal rolled back")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// RetryWithdrawal re-attempts p's pending transfer, reusing its original
// created_at_time so the external ledger can deduplicate (spec.md §4.5).
// Exposed as an operator-surface call in addition to the periodic sweep so
// a caller can force an immediate retry rather than waiting for the timer.
func (v *Vault) RetryWithdrawal(ctx context.Context, p Principal, dest ledgerclient.Account) error {
	return v.guard.guardedCall(p, func() error {
		if !v.pending.HasPending(p) {
			return ErrNoPendingTransfer
		}
		return v.attemptTransfer(ctx, p, dest)
	})
}

// AbandonWithdrawal forces an immediate rollback of p's pending transfer
// without waiting for retries to be exhausted. Intended for operator use
// when a transfer is known, out of band, to have definitely failed.
func (v *Vault) AbandonWithdrawal(p Principal) error {
	return v.guard.guardedCall(p, func() error {
		v.turnMu.Lock()
		defer v.turnMu.Unlock()
		pt, ok := v.pending.Get(p)
		if !ok {
			return ErrNoPendingTransfer
		}
		v.rollbackWithdrawal(pt)
		v.pending.Remove(p)
		return nil
	})
}

// RunRetrySweep scans up to batchSize pending transfers, oldest-first, and
// re-attempts every one classified Uncertain, reusing each one's original
// CreatedAt. Bounded batch size and the caller's own serialized scheduling
// (see internal/scheduler) implement spec.md §4.5's "processing flag"
// reentrancy guard — the scheduler never runs this concurrently with
// itself. Oldest-first ordering is maintained by the pending manager's
// retry-order btree so a transfer stuck at the back of a long queue is not
// starved by newer ones landing ahead of it in map iteration order.
func (v *Vault) RunRetrySweep(ctx context.Context, batchSize int, destOf func(Principal) ledgerclient.Account) {
	v.turnMu.Lock()
	targets := v.pending.OldestPending(batchSize)
	v.turnMu.Unlock()

	for _, p := range targets {
		if err := v.guard.acquire(p); err != nil {
			continue // already mid-operation; skip this sweep cycle
		}
		if err := v.attemptTransfer(ctx, p, destOf(p)); err != nil {
			v.logger.Warn("retry sweep attempt did not complete", slog.String("principal", p.String()), slog.Any("error", err))
		}
		v.guard.release(p)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Settlement
// ──────────────────────────────────────────────────────────────────────────────

// Play implements the seven-step settlement protocol of spec.md §4.3. It is
// the one operation where the "never write a value computed before the
// suspension" rule is load-bearing: step 6/7 below re-read the account from
// the ledger rather than close over anything captured before the draw.
func (v *Vault) Play(ctx context.Context, p Principal, args game.GameArgs, bet uint64) (game.Result, error) {
	var result game.Result
	err := v.guard.guardedCall(p, func() error {
		// Step 2: bounds validation, including the bet_args-derived
		// potential-payout gate. PotentialPayout is computed purely from args
		// and bet, with no ledger or pool state read yet, so this check runs
		// before the debit and before the pool snapshot taken below.
		if bet < v.econ.MinBet {
			return ErrBelowMinimum
		}
		if bet > v.econ.MaxBet {
			return ErrAboveMaximum
		}
		potentialPayout, err := game.PotentialPayout(args, bet)
		if err != nil {
			return err
		}

		v.turnMu.Lock()
		maxPayout := v.pool.MaxAllowedPayout(v.econ.MaxPayoutBps)
		if !v.pool.CanAcceptBets(v.econ.MinOperatingBalance) {
			v.turnMu.Unlock()
			return ErrPoolBelowOperating
		}
		if potentialPayout > maxPayout {
			v.turnMu.Unlock()
			return ErrExceedsHousePayoutCap
		}
		// Step 3: re-read account.
		acct := v.ledger.Get(p)
		if acct.Locked {
			v.turnMu.Unlock()
			return ErrAccountLocked
		}
		if acct.Balance < bet {
			v.turnMu.Unlock()
			return ErrInsufficientBalance
		}
		// Step 4: atomic debit + lock.
		if err := v.ledger.Debit(p, bet); err != nil {
			v.turnMu.Unlock()
			return err
		}
		v.ledger.SetLocked(p, true)
		v.turnMu.Unlock()

		// Step 5: ⟳ await random draw. No vault state is read here; only
		// the (principal, bet, args) tuple carries across the suspension.
		draw, settleErr := game.Settle(args, bet, v.rng)

		v.turnMu.Lock()
		defer v.turnMu.Unlock()

		if settleErr != nil {
			// Step 7: draw failed — restore, do not touch anything
			// computed before the suspension besides the tuple itself.
			v.ledger.Credit(p, bet)
			v.ledger.SetLocked(p, false)
			v.audit.Append(EventBalanceRestored, p, bet, "settlement draw failed: "+settleErr.Error())
			return settleErr
		}

		// Re-read the house cap against the reserve as it stands now, not
		// the value snapshotted before the suspension: concurrent bets from
		// other principals may have settled against the same pool while
		// this one was awaiting its draw, so the pre-suspension maxPayout
		// is stale and reusing it here would let DebitToWin's reserve
		// underflow trap become reachable from ordinary concurrent play.
		currentMaxPayout := v.pool.MaxAllowedPayout(v.econ.MaxPayoutBps)
		if draw.Payout > currentMaxPayout {
			v.ledger.Credit(p, bet)
			v.ledger.SetLocked(p, false)
			v.audit.Append(EventBalanceRestored, p, bet, "payout exceeds house cap")
			return ErrExceedsHousePayoutCap
		}

		// Step 6: re-read and commit. Credit/debit against the map, never
		// against acct captured above (that snapshot is stale by now).
		v.ledger.Credit(p, draw.Payout)
		v.ledger.SetLocked(p, false)
		v.ledger.RecordWager(p, bet)

		if draw.Payout > bet {
			v.pool.DebitToWin(draw.Payout - bet)
		} else {
			v.pool.CreditFromLoss(bet - draw.Payout)
		}

		v.audit.Append(EventWagerSettled, p, draw.Payout, draw.Description)
		result = draw
		return nil
	})
	return result, err
}

// ──────────────────────────────────────────────────────────────────────────────
// Liquidity
// ──────────────────────────────────────────────────────────────────────────────

// DepositLiquidity credits amount to the pool and mints shares for p
// (spec.md §4.2). Unlike a user deposit, no external pull happens here —
// callers are expected to have already moved funds via Deposit or a
// dedicated LP-deposit ledger call; this method only updates pool
// accounting. Kept separate from Deposit so the pool's share math stays a
// pure, directly testable turn.
func (v *Vault) DepositLiquidity(p Principal, amount uint64) (*big.Int, error) {
	var minted *big.Int
	err := v.guard.guardedCall(p, func() error {
		v.turnMu.Lock()
		defer v.turnMu.Unlock()
		m, err := v.pool.DepositLiquidity(p, amount)
		if err != nil {
			return err
		}
		minted = m
		v.audit.Append(EventLiquidityDeposited, p, amount, "liquidity deposited")
		return nil
	})
	return minted, err
}

// WithdrawAllLiquidity burns the caller's full share position, applies the
// LP withdrawal fee, and initiates the external transfer of the net amount
// following the same atomic-debit-then-transfer discipline as a user
// withdrawal (spec.md §4.2, §4.5).
func (v *Vault) WithdrawAllLiquidity(ctx context.Context, p Principal, dest ledgerclient.Account) error {
	return v.guard.guardedCall(p, func() error {
		if v.pending.HasPending(p) {
			return ErrTransferInFlight
		}

		v.turnMu.Lock()
		shares := v.pool.SharesOf(p)
		if shares.Sign() == 0 {
			v.turnMu.Unlock()
			return ErrInsufficientShares
		}
		gross, err := v.pool.WithdrawLiquidity(p, shares)
		if err != nil {
			v.turnMu.Unlock()
			return err
		}
		fee := gross * LPWithdrawalFeeBps / 10_000
		net := gross - fee
		if net < v.econ.MinWithdrawal {
			v.pool.RestoreLiquidity(p, shares, gross)
			v.turnMu.Unlock()
			return ErrBelowMinimum
		}
		v.pool.AccrueFee(fee)

		createdAt := v.createdAtTime()
		pt := PendingTransfer{
			Principal:       p,
			Kind:            KindLPWithdraw,
			Shares:          shares,
			ReserveDeducted: net,
			CreatedAt:       createdAt,
		}
		if initErr := v.pending.Initiate(pt); initErr != nil {
			v.pool.RestoreLiquidity(p, shares, gross)
			v.turnMu.Unlock()
			return initErr
		}
		v.audit.Append(EventWithdrawalInitiated, p, net, "lp withdrawal initiated")
		v.turnMu.Unlock()

		return v.attemptTransfer(ctx, p, dest)
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Query surface (spec.md §6) — never gated by the caller guard.
// ──────────────────────────────────────────────────────────────────────────────

// Balance returns p's current spendable balance and deposit/withdrawal/
// wager totals.
func (v *Vault) Balance(p Principal) Account {
	v.turnMu.Lock()
	defer v.turnMu.Unlock()
	return v.ledger.Get(p)
}

// Position returns p's liquidity-pool share position.
func (v *Vault) Position(p Principal) (shares *big.Int, ownership float64, redeemable uint64) {
	v.turnMu.Lock()
	defer v.turnMu.Unlock()
	return v.pool.Position(p)
}

// PoolStats returns a snapshot of pool health.
func (v *Vault) PoolStats() PoolStats {
	v.turnMu.Lock()
	defer v.turnMu.Unlock()
	return v.pool.Stats()
}

// PendingStatus returns p's pending transfer, if any.
func (v *Vault) PendingStatus(p Principal) (PendingTransfer, bool) {
	v.turnMu.Lock()
	defer v.turnMu.Unlock()
	pt, ok := v.pending.Get(p)
	if !ok {
		return PendingTransfer{}, false
	}
	return *pt, true
}

// AccountsSnapshot returns every account in the ledger, for backoffice
// listings.
func (v *Vault) AccountsSnapshot() []Account {
	v.turnMu.Lock()
	defer v.turnMu.Unlock()
	return v.ledger.All()
}

// PendingTransfers returns a snapshot of every in-flight pending transfer,
// for the backoffice finance view (spec.md §4.5).
func (v *Vault) PendingTransfers() []PendingTransfer {
	v.turnMu.Lock()
	defer v.turnMu.Unlock()
	out := make([]PendingTransfer, 0, len(v.pending.byPrincipal))
	for _, pt := range v.pending.byPrincipal {
		out = append(out, *pt)
	}
	return out
}

// AuditPage returns a page of the audit log.
func (v *Vault) AuditPage(offset, limit int) []AuditEntry {
	v.turnMu.Lock()
	defer v.turnMu.Unlock()
	return v.audit.Page(offset, limit)
}

// Solvency returns a point-in-time solvency report (spec.md §3.I1).
func (v *Vault) Solvency() SolvencyReport {
	v.turnMu.Lock()
	defer v.turnMu.Unlock()
	return v.checkSolvency()
}

// CheckShareConservation re-verifies pool invariant I2; panics on
// violation. Intended for periodic health checks, not the request path.
func (v *Vault) CheckShareConservation() {
	v.turnMu.Lock()
	defer v.turnMu.Unlock()
	v.checkShareConservation()
}
