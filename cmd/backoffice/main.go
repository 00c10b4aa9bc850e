// Package main is the entry point for the vault's back-office admin server.
// Runs on a separate port behind an IP allowlist and exposes risk, finance,
// and operator-management endpoints.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evetabi/vault/internal/backoffice"
	"github.com/evetabi/vault/internal/config"
	"github.com/evetabi/vault/internal/ledgerclient"
	"github.com/evetabi/vault/internal/service"
	"github.com/evetabi/vault/internal/store"
	"github.com/evetabi/vault/internal/vault"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting vault backoffice server", "env", cfg.Server.Env, "port", cfg.Server.AdminPort)

	// ── Database ──────────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	st := store.New(db)

	// ── Vault (read-mostly mirror: the API server owns the live in-memory
	// state; the backoffice restores its own copy at boot for risk/finance
	// queries and issues mutating calls — retry, sweep, abandon — against it
	// directly, since those are rare operator actions rather than the hot
	// request path) ─────────────────────────────────────────────────────────
	ledgerHTTP := ledgerclient.NewHTTPClient(cfg.LedgerEndpoint.CanisterURL, cfg.LedgerEndpoint.FetchTimeout)
	v := vault.New(vault.Economics{
		MinDeposit:          cfg.Ledger.MinDeposit,
		MinWithdrawal:       cfg.Ledger.MinWithdrawal,
		MaxWithdrawal:       cfg.Ledger.MaxWithdrawal,
		MinBet:              cfg.Ledger.MinBet,
		MaxBet:              cfg.Ledger.MaxBet,
		MaxPayoutBps:        cfg.Ledger.MaxPayoutBps,
		MinOperatingBalance: cfg.Ledger.MinOperatingBalance,
		TransferFee:         cfg.Ledger.TransferFee,
	}, ledgerHTTP, nil, logger)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	accounts, shares, reserve, poolInit, pendingFees, pending, auditEntries, cachedBalance, cachedAt, hasCached, err := st.LoadVaultState(bootCtx)
	bootCancel()
	if err != nil {
		logger.Error("failed to load persisted vault state", "err", err)
		os.Exit(1)
	}
	v.RestoreState(accounts, shares, reserve, poolInit, pendingFees, pending, auditEntries, cachedBalance, cachedAt, hasCached)

	authSvc := service.NewAuthService(st, cfg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The backoffice process does not share memory with the API server, so
	// its vault mirror would otherwise go stale the moment it's restored.
	// Reload it from the store periodically; RestoreState fully replaces
	// ledger/pending state each call, so a reload is always a clean
	// snapshot rather than an accumulation of old and new rows.
	go reloadVaultLoop(ctx, v, st, logger)

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc: authSvc,
		Vault:   v,
		Store:   st,
		Hub:     nil, // backoffice does not directly serve WS
		Cfg:     cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.AdminPort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}

	db.Close()
	logger.Info("backoffice server stopped cleanly")
}

// reloadVaultLoop keeps the backoffice's mirrored vault reasonably fresh
// against the API server's persisted state. Risk and finance views can
// tolerate a few seconds of staleness; the mutating admin actions (retry,
// abandon, sweep) act on this same mirror, so the interval trades off
// operator-visible lag against reload cost.
func reloadVaultLoop(ctx context.Context, v *vault.Vault, st *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			accounts, shares, reserve, poolInit, pendingFees, pending, auditEntries, cachedBalance, cachedAt, hasCached, err := st.LoadVaultState(ctx)
			if err != nil {
				logger.Error("reloadVaultLoop: failed to reload vault state", "err", err)
				continue
			}
			v.RestoreState(accounts, shares, reserve, poolInit, pendingFees, pending, auditEntries, cachedBalance, cachedAt, hasCached)
		}
	}
}
