package vault

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/evetabi/vault/internal/ledgerclient"
)

// reconciler caches the external token ledger's view of the vault's own
// account balance (spec.md §4.6), refreshed periodically so the solvency
// query surface doesn't need a live RPC on every call.
type reconciler struct {
	cachedBalance    uint64
	hasCachedBalance bool
	refreshedAt      time.Time
	now              func() time.Time
}

func newReconciler(now func() time.Time) *reconciler {
	if now == nil {
		now = time.Now
	}
	return &reconciler{now: now}
}

// Restore repopulates the cached external balance from a persisted value at
// boot, so a restart doesn't report is_cache_stale as true against a cache
// that was in fact refreshed recently before the process exited.
func (r *reconciler) Restore(balance uint64, refreshedAt time.Time) {
	r.cachedBalance = balance
	r.hasCachedBalance = true
	r.refreshedAt = refreshedAt
}

// isCacheStale reports whether the cached balance is older than maxAge,
// using saturating subtraction so a clock that moves backward (or a cache
// that was never populated) never underflows into reporting "fresh"
// (spec.md §4.6: "uses saturating subtraction of timestamps").
func (r *reconciler) isCacheStale(maxAge time.Duration) bool {
	if !r.hasCachedBalance {
		return true
	}
	age := r.now().Sub(r.refreshedAt)
	if age < 0 {
		age = 0
	}
	return age > maxAge
}

// RefreshExternalBalance queries the external ledger for the vault's own
// account balance and updates the cache. On failure the prior cached value
// is preserved and the error is logged, never propagated as a trap — a
// stale reading is always safer than losing the last-known-good one
// (spec.md §4.6: "failure preserves the prior value and logs").
func (v *Vault) RefreshExternalBalance(ctx context.Context, self ledgerclient.Account) {
	bal, err := v.ledger2.BalanceOf(ctx, self)
	if err != nil {
		v.logger.Warn("external balance refresh failed, keeping prior cached value",
			slog.Any("error", err),
			slog.Bool("had_cache", v.reconciler.hasCachedBalance))
		return
	}
	v.turnMu.Lock()
	v.reconciler.cachedBalance = bal
	v.reconciler.hasCachedBalance = true
	v.reconciler.refreshedAt = v.reconciler.now()
	v.turnMu.Unlock()
	v.logger.Info("external balance refreshed", slog.Uint64("balance", bal))
}

// SweepFees attempts to forward pending_fees_to_parent to the configured
// treasury principal, bounded to at most MaxReconciliationPercent of the
// cached external balance per sweep, and only when pending fees are at
// least ReconciliationThreshold (spec.md §4.6). It never touches any amount
// beyond what the pool itself has tracked as a pending fee — "the system
// never sweeps floating funds, only counters it has itself incremented."
func (v *Vault) SweepFees(ctx context.Context, treasury ledgerclient.Account, maxPercent float64, threshold uint64, createdAtTime uint64) error {
	v.turnMu.Lock()
	if !v.reconciler.hasCachedBalance {
		v.turnMu.Unlock()
		return ErrPoolNotInitialised
	}
	pending := v.pool.PendingFeesToParent()
	if pending < threshold {
		v.turnMu.Unlock()
		return nil
	}

	capBig := new(big.Int).Mul(new(big.Int).SetUint64(v.reconciler.cachedBalance), big.NewInt(int64(maxPercent*10_000)))
	capBig.Div(capBig, big.NewInt(10_000))
	amountToForward := pending
	if capBig.IsUint64() && capBig.Uint64() < amountToForward {
		amountToForward = capBig.Uint64()
	}
	if amountToForward == 0 {
		v.turnMu.Unlock()
		return nil
	}
	v.turnMu.Unlock()

	// ⟳ suspension: the transfer RPC runs without the turn lock held, per
	// spec.md §5's suspension-point list.
	_, err := v.ledger2.Transfer(ctx, ledgerclient.TransferArgs{
		To:            treasury,
		Amount:        amountToForward,
		CreatedAtTime: createdAtTime,
	})
	if err != nil {
		v.logger.Error("fee sweep transfer failed", slog.Any("error", err))
		return err
	}

	v.turnMu.Lock()
	defer v.turnMu.Unlock()
	if derr := v.pool.DeductPendingFees(amountToForward); derr != nil {
		// Pending fees dropped below the forwarded amount between the
		// unlocked RPC and this re-lock (another sweep, or a restore) —
		// avoid driving the counter negative rather than trusting the
		// value captured above.
		v.logger.Warn("fee sweep deducted less than forwarded amount", slog.Any("error", derr))
		return nil
	}
	v.audit.Append(EventFeesForwarded, "", amountToForward, "fees forwarded to treasury")
	return nil
}
