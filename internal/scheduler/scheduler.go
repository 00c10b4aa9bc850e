// Package scheduler manages the vault's background goroutines:
//  1. retrySweepLoop     – retries in-flight withdrawals on an interval.
//  2. balanceRefreshLoop – refreshes the cached external ledger balance.
//  3. feeSweepLoop       – forwards accrued fees to the treasury principal.
//  4. persistLoop        – write-behind sync of in-memory state to Postgres.
package scheduler

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/evetabi/vault/internal/config"
	"github.com/evetabi/vault/internal/ledgerclient"
	"github.com/evetabi/vault/internal/metrics"
	"github.com/evetabi/vault/internal/vault"
	"github.com/evetabi/vault/internal/ws"
	"github.com/shopspring/decimal"
)

// Persister is the subset of *store.Store the scheduler needs for
// write-behind persistence. Declared here, not imported from internal/store,
// so the scheduler package never depends on the storage backend directly —
// the same interface-at-the-boundary pattern the vault package uses for
// ledgerclient.Client.
type Persister interface {
	PersistVaultState(ctx context.Context, accounts []vault.Account, shares map[vault.Principal]*big.Int, reserve *big.Int, initialized bool, pendingFees uint64, pending []vault.PendingTransfer, resolvedSincePrior []vault.Principal, newAudit []vault.AuditEntry) error
}

// e8sDivisor mirrors internal/api/handler's display-facing conversion;
// duplicated here since the scheduler must not import the handler package.
var e8sDivisor = decimal.NewFromInt(100_000_000)

func e8sToDisplay(amount uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(amount)).DivRound(e8sDivisor, 8)
}

func bigE8sToDisplay(amount *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(amount, 0).DivRound(e8sDivisor, 8)
}

// ──────────────────────────────────────────────────────────────────────────────
// WsHub interface — minimally required from the Hub (Step 12)
// ──────────────────────────────────────────────────────────────────────────────

// WsHub defines the broadcast operations the Scheduler needs from the
// WebSocket hub.  Declared here so the scheduler package does not import the
// ws/hub.go implementation and cause a circular dependency.
type WsHub interface {
	BroadcastPoolUpdate(msg ws.PoolUpdateMessage)
	BroadcastSolvencyAlert(msg ws.SolvencyAlertMessage)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler wires together the vault and runs its background loops (three,
// plus persistLoop when WithPersistence has supplied a store).
// Call Start(ctx) once from main(); cancel the context to shut it down
// gracefully.
type Scheduler struct {
	v   *vault.Vault
	hub WsHub
	cfg *config.Config

	selfAccount     ledgerclient.Account
	treasuryAccount ledgerclient.Account
	destOf          func(vault.Principal) ledgerclient.Account

	store          Persister // nil disables persistLoop (e.g. in tests)
	lastAuditSeq   uint64
	lastPendingSet map[vault.Principal]bool

	logger *slog.Logger
}

// NewScheduler creates a Scheduler.
//
// selfAccount is the vault's own ledger account, used to refresh the
// cached external balance (spec.md §4.6). treasuryAccount is where swept
// fees land. destOf resolves a principal's withdrawal destination account
// for the retry sweep — on the Internet Computer this would simply be the
// principal itself; here it is supplied by the caller so tests can fake it.
func NewScheduler(
	v *vault.Vault,
	hub WsHub,
	cfg *config.Config,
	selfAccount, treasuryAccount ledgerclient.Account,
	destOf func(vault.Principal) ledgerclient.Account,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		v:               v,
		hub:             hub,
		cfg:             cfg,
		selfAccount:     selfAccount,
		treasuryAccount: treasuryAccount,
		destOf:          destOf,
		lastPendingSet:  make(map[vault.Principal]bool),
		logger:          logger,
	}
}

// WithPersistence enables the write-behind persistLoop against store, a
// Persister implemented by *store.Store. Not wired into NewScheduler itself
// so tests (and any Vault run purely in-memory) can omit it entirely.
func (s *Scheduler) WithPersistence(store Persister) *Scheduler {
	s.store = store
	return s
}

// Start launches the background goroutines. It returns immediately; all
// loops run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.retrySweepLoop(ctx)
	go s.balanceRefreshLoop(ctx)
	go s.feeSweepLoop(ctx)
	if s.store != nil {
		go s.persistLoop(ctx)
	}
	s.logger.Info("scheduler started")
}

// ──────────────────────────────────────────────────────────────────────────────
// retrySweepLoop
// ──────────────────────────────────────────────────────────────────────────────

// retrySweepLoop retries every pending withdrawal on RetryInterval, batched
// so a long queue of stuck transfers cannot starve the turn loop (spec.md
// §4.5).
func (s *Scheduler) retrySweepLoop(ctx context.Context) {
	defer s.recoverAndLog("retrySweepLoop")

	interval := s.cfg.Transfer.RetryInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retrySweepLoop: shutting down")
			return
		case <-ticker.C:
			metrics.TransferRetriesTotal.Inc()
			s.v.RunRetrySweep(ctx, s.cfg.Transfer.BatchSize, s.destOf)
			s.broadcastPool()
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// balanceRefreshLoop
// ──────────────────────────────────────────────────────────────────────────────

// balanceRefreshLoop refreshes the cached external ledger balance every
// RefreshInterval and pushes a solvency alert if the refreshed balance
// leaves the vault insolvent (spec.md §4.6, §3.I1).
func (s *Scheduler) balanceRefreshLoop(ctx context.Context) {
	defer s.recoverAndLog("balanceRefreshLoop")

	interval := s.cfg.Reconcile.RefreshInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("balanceRefreshLoop: shutting down")
			return
		case <-ticker.C:
			s.v.RefreshExternalBalance(ctx, s.selfAccount)
			s.checkSolvencyAndAlert()
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// feeSweepLoop
// ──────────────────────────────────────────────────────────────────────────────

// feeSweepLoop forwards accrued LP-withdrawal fees to the treasury account
// once a day, capped at MaxReconciliationPercent of the cached external
// balance per sweep (spec.md §4.2, §4.6).
func (s *Scheduler) feeSweepLoop(ctx context.Context) {
	defer s.recoverAndLog("feeSweepLoop")

	interval := s.cfg.Reconcile.SweepInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("feeSweepLoop: shutting down")
			return
		case <-ticker.C:
			createdAt := uint64(time.Now().UTC().UnixNano())
			if err := s.v.SweepFees(ctx, s.treasuryAccount, s.cfg.Reconcile.MaxReconciliationPercent, s.cfg.Reconcile.ReconciliationThreshold, createdAt); err != nil {
				s.logger.Warn("feeSweepLoop: sweep failed", "err", err)
				continue
			}
			s.broadcastPool()
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// persistLoop
// ──────────────────────────────────────────────────────────────────────────────

// persistLoop writes the in-memory vault's state back to Postgres every
// Reconcile.RefreshInterval/6 (10s when that comes out zero), so a restart
// rebuilds from a recent snapshot rather than
// an empty ledger. The in-memory vault stays authoritative for every live
// request between sweeps (spec.md §6).
func (s *Scheduler) persistLoop(ctx context.Context) {
	defer s.recoverAndLog("persistLoop")

	interval := s.cfg.Reconcile.RefreshInterval / 6
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("persistLoop: shutting down")
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

func (s *Scheduler) syncOnce(ctx context.Context) {
	accounts, shares, reserve, initialized, pendingFees, pending, newAudit := s.v.Snapshot(s.lastAuditSeq)

	currentSet := make(map[vault.Principal]bool, len(pending))
	for _, pt := range pending {
		currentSet[pt.Principal] = true
	}
	var resolved []vault.Principal
	for p := range s.lastPendingSet {
		if !currentSet[p] {
			resolved = append(resolved, p)
		}
	}

	if err := s.store.PersistVaultState(ctx, accounts, shares, reserve, initialized, pendingFees, pending, resolved, newAudit); err != nil {
		s.logger.Error("persistLoop: sync failed", "err", err)
		return
	}

	s.lastPendingSet = currentSet
	for _, e := range newAudit {
		if e.Seq >= s.lastAuditSeq {
			s.lastAuditSeq = e.Seq + 1
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Broadcast helpers
// ──────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) broadcastPool() {
	stats := s.v.PoolStats()
	reserveF, _ := new(big.Float).SetInt(stats.Reserve).Float64()
	sharesF, _ := new(big.Float).SetInt(stats.TotalShares).Float64()
	metrics.UpdatePoolStats(reserveF, sharesF, len(s.v.PendingTransfers()))

	if s.hub == nil {
		return
	}
	s.hub.BroadcastPoolUpdate(ws.PoolUpdateMessage{
		Type:        ws.MsgTypePoolUpdate,
		Reserve:     bigE8sToDisplay(stats.Reserve),
		TotalShares: stats.TotalShares.String(),
		SharePrice:  stats.SharePrice,
		Timestamp:   time.Now().UTC(),
	})
}

// checkSolvencyAndAlert runs the read-only solvency check (spec.md §3.I1)
// and broadcasts an alert to backoffice connections when it fails.
func (s *Scheduler) checkSolvencyAndAlert() {
	report := s.v.Solvency()
	metrics.UpdateSolvency(report.Solvent, false)
	if report.Solvent || s.hub == nil {
		return
	}
	msg := ws.SolvencyAlertMessage{
		Type:              ws.MsgTypeSolvencyAlert,
		UserBalancesTotal: e8sToDisplay(report.UserBalancesTotal),
		PoolReserve:       bigE8sToDisplay(report.PoolReserve),
		Timestamp:         time.Now().UTC(),
	}
	if report.ExternalBalance != nil {
		d := e8sToDisplay(*report.ExternalBalance)
		msg.ExternalBalance = &d
	}
	s.hub.BroadcastSolvencyAlert(msg)
	s.logger.Error("solvency check failed",
		"user_balances", report.UserBalancesTotal,
		"pool_reserve", report.PoolReserve.String(),
		"pending_fees", report.PendingFees,
		"pending_transfers", report.PendingTransfersTotal)
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each goroutine to catch unexpected
// panics and log them. Every panic is recovered, a vault
// FatalInvariantError included; the loop that panicked then returns, while
// the other loops keep running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
