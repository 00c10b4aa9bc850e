package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/evetabi/vault/internal/config"
	"github.com/evetabi/vault/internal/ledgerclient"
	"github.com/evetabi/vault/internal/vault"
	"github.com/spf13/cobra"
)

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Run one retry sweep over every pending transfer against the real ledger",
		Long:  "Restores vault state from Postgres, runs a single retry sweep against the configured ledger canister, and persists the result back. Intended for break-glass use when the API server's own scheduler is down.",
		RunE: func(c *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			cfg := config.MustLoad()
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			st, db, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

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

			accounts, shares, reserve, poolInit, pendingFees, pending, auditEntries, cachedBalance, cachedAt, hasCached, err := st.LoadVaultState(ctx)
			if err != nil {
				return fmt.Errorf("load vault state: %w", err)
			}
			v.RestoreState(accounts, shares, reserve, poolInit, pendingFees, pending, auditEntries, cachedBalance, cachedAt, hasCached)

			before := len(pending)
			destOf := func(p vault.Principal) ledgerclient.Account {
				return ledgerclient.Account{Owner: p.String()}
			}
			v.RunRetrySweep(ctx, 100, destOf)

			newAccounts, newShares, newReserve, newInit, newPendingFees, newPending, newAudit := v.Snapshot(0)
			if err := st.PersistVaultState(ctx, newAccounts, newShares, newReserve, newInit, newPendingFees, newPending, resolvedPrincipals(pending, newPending), newAudit); err != nil {
				return fmt.Errorf("persist vault state: %w", err)
			}

			fmt.Printf("retry sweep complete: %d pending before, %d pending after\n", before, len(newPending))
			return nil
		},
	}
}

func resolvedPrincipals(before, after []vault.PendingTransfer) []vault.Principal {
	afterSet := make(map[vault.Principal]bool, len(after))
	for _, pt := range after {
		afterSet[pt.Principal] = true
	}
	var resolved []vault.Principal
	for _, pt := range before {
		if !afterSet[pt.Principal] {
			resolved = append(resolved, pt.Principal)
		}
	}
	return resolved
}
