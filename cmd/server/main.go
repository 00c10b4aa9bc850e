// Package main is the entry point for the vault's player-facing API server:
// deposits, withdrawals, wagers, and liquidity provision over HTTP, plus the
// WebSocket feed and the background retry/reconcile/persist scheduler.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/evetabi/vault/internal/api"
	"github.com/evetabi/vault/internal/config"
	"github.com/evetabi/vault/internal/ledgerclient"
	"github.com/evetabi/vault/internal/scheduler"
	"github.com/evetabi/vault/internal/service"
	"github.com/evetabi/vault/internal/store"
	"github.com/evetabi/vault/internal/vault"
	"github.com/evetabi/vault/internal/ws"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting vault server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
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

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	st := store.New(db)

	// ── 4. Ledger client + Vault ──────────────────────────────────────────────
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
	logger.Info("vault state restored", "accounts", len(accounts), "pending", len(pending), "audit_entries", len(auditEntries))

	// ── 5. Auth ───────────────────────────────────────────────────────────────
	authSvc := service.NewAuthService(st, cfg)

	// ── 6. WebSocket hub ──────────────────────────────────────────────────────
	var allowedOrigins []string
	if ori := os.Getenv("WS_ALLOWED_ORIGINS"); ori != "" {
		for _, o := range strings.Split(ori, ",") {
			allowedOrigins = append(allowedOrigins, strings.TrimSpace(o))
		}
	}
	hub := ws.NewHub([]byte(cfg.JWT.AccessSecret), allowedOrigins)

	// ── 7. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run()
	logger.Info("websocket hub started")

	// ── 8. Scheduler ──────────────────────────────────────────────────────────
	selfAccount := ledgerclient.Account{Owner: cfg.LedgerEndpoint.VaultOwner}
	treasuryAccount := ledgerclient.Account{Owner: cfg.Reconcile.TreasuryPrincipal}
	destOf := func(p vault.Principal) ledgerclient.Account {
		return ledgerclient.Account{Owner: p.String()}
	}

	sched := scheduler.NewScheduler(v, hub, cfg, selfAccount, treasuryAccount, destOf, logger).WithPersistence(st)
	sched.Start(ctx)

	// ── 9. HTTP router ────────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuthSvc: authSvc,
		Vault:   v,
		Hub:     hub,
		Cfg:     cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 10. Start server ──────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	// ── 11. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	// Final persistence sweep so a clean shutdown never loses the last few
	// seconds of activity the persistLoop hasn't synced yet.
	finalCtx, finalCancel := context.WithTimeout(context.Background(), 10*time.Second)
	accounts, shares, reserve, poolInit, pendingFees, pending, newAudit := v.Snapshot(0)
	if perr := st.PersistVaultState(finalCtx, accounts, shares, reserve, poolInit, pendingFees, pending, nil, newAudit); perr != nil {
		logger.Error("final persistence sweep failed", "err", perr)
	}
	finalCancel()

	db.Close()
	logger.Info("server stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially. Idempotent: SQL files use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
