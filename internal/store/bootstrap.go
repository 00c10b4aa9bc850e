package store

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/evetabi/vault/internal/vault"
	"github.com/google/uuid"
)

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// parseU64 parses a NUMERIC-text e8s column. Panics are never appropriate
// here — a malformed row means the database itself is corrupt, which boot
// should fail loudly on rather than silently zeroing a balance.
func parseU64(s string) (uint64, error) {
	var n uint64
	if _, err := fmt.Sscan(s, &n); err != nil {
		return 0, fmt.Errorf("parse uint64 %q: %w", s, err)
	}
	return n, nil
}

func parseBigInt(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse big.Int %q", s)
	}
	return n, nil
}

// LoadVaultState reads every persisted table and assembles the arguments
// vault.Vault.RestoreState expects, for a one-shot boot-time rebuild of the
// in-memory vault (spec.md §6). Returns zero-valued pool/reconciler state
// when those tables have never been populated (a brand-new deployment).
func (s *Store) LoadVaultState(ctx context.Context) (
	accounts []vault.Account,
	shares map[vault.Principal]*big.Int,
	reserve *big.Int,
	poolInitialized bool,
	pendingFees uint64,
	pending []vault.PendingTransfer,
	audit []vault.AuditEntry,
	cachedBalance uint64,
	cachedBalanceAt time.Time,
	hasCachedBalance bool,
	err error,
) {
	reserve = big.NewInt(0)
	shares = make(map[vault.Principal]*big.Int)

	accountRows, err := s.LoadAccounts(ctx)
	if err != nil {
		return nil, nil, nil, false, 0, nil, nil, 0, time.Time{}, false, err
	}
	for _, r := range accountRows {
		bal, perr := parseU64(r.Balance)
		if perr != nil {
			err = perr
			return
		}
		deposited, perr := parseU64(r.TotalDeposited)
		if perr != nil {
			err = perr
			return
		}
		withdrawn, perr := parseU64(r.TotalWithdrawn)
		if perr != nil {
			err = perr
			return
		}
		wagered, perr := parseU64(r.TotalWagered)
		if perr != nil {
			err = perr
			return
		}
		accounts = append(accounts, vault.Account{
			Principal:      vault.Principal(r.Principal),
			Balance:        bal,
			TotalDeposited: deposited,
			TotalWithdrawn: withdrawn,
			TotalWagered:   wagered,
			Locked:         r.Locked,
			CreatedAt:      r.CreatedAt,
			LastActivity:   r.LastActivity,
		})
	}

	shareRows, err := s.LoadShares(ctx)
	if err != nil {
		return nil, nil, nil, false, 0, nil, nil, 0, time.Time{}, false, err
	}
	for _, r := range shareRows {
		v, perr := parseBigInt(r.Shares)
		if perr != nil {
			err = perr
			return
		}
		shares[vault.Principal(r.Principal)] = v
	}

	poolRow, perr := s.LoadPoolState(ctx)
	if perr != nil && perr != ErrNotFound {
		return nil, nil, nil, false, 0, nil, nil, 0, time.Time{}, false, perr
	}
	if perr == nil {
		reserve, err = parseBigInt(poolRow.Reserve)
		if err != nil {
			return
		}
		poolInitialized = poolRow.Initialized
		pendingFees, err = parseU64(poolRow.PendingFees)
		if err != nil {
			return
		}
	}

	pendingRows, err := s.LoadPendingTransfers(ctx)
	if err != nil {
		return nil, nil, nil, false, 0, nil, nil, 0, time.Time{}, false, err
	}
	for _, r := range pendingRows {
		amount, perr := parseU64(r.Amount)
		if perr != nil {
			err = perr
			return
		}
		var sharesOwed *big.Int
		if r.Shares != "" {
			sharesOwed, err = parseBigInt(r.Shares)
			if err != nil {
				return
			}
		}
		reserveDeducted, perr := parseU64(r.ReserveDeducted)
		if perr != nil {
			err = perr
			return
		}
		pending = append(pending, vault.PendingTransfer{
			Principal:       vault.Principal(r.Principal),
			Kind:            vault.TransferKind(r.Kind),
			Amount:          amount,
			Shares:          sharesOwed,
			ReserveDeducted: reserveDeducted,
			CreatedAt:       r.CreatedAt,
			Retries:         r.Retries,
			LastError:       r.LastError,
		})
	}

	auditRows, err := s.LoadAllAuditEntries(ctx)
	if err != nil {
		return nil, nil, nil, false, 0, nil, nil, 0, time.Time{}, false, err
	}
	for _, r := range auditRows {
		amount, perr := parseU64(r.Amount)
		if perr != nil {
			err = perr
			return
		}
		id, perr := parseUUID(r.ID)
		if perr != nil {
			err = perr
			return
		}
		audit = append(audit, vault.AuditEntry{
			ID:        id,
			Seq:       r.Seq,
			Timestamp: r.Timestamp,
			Kind:      vault.AuditEventKind(r.Kind),
			Principal: vault.Principal(r.Principal),
			Amount:    amount,
			Details:   r.Details,
		})
	}

	bal, refreshedAt, cerr := s.LoadCachedBalance(ctx)
	if cerr == nil {
		cachedBalance = bal
		cachedBalanceAt = refreshedAt
		hasCachedBalance = true
	} else if cerr != ErrNotFound {
		err = cerr
		return
	}

	return
}

// PersistVaultState writes back every row a vault.Vault.Snapshot produced.
// Intended to run on a periodic schedule (internal/scheduler) rather than
// per-mutation: the in-memory vault stays authoritative between sweeps, the
// same write-behind relationship internal/service draws against
// internal/repository in the teacher for wallet balances.
func (s *Store) PersistVaultState(ctx context.Context, accounts []vault.Account, shares map[vault.Principal]*big.Int, reserve *big.Int, initialized bool, pendingFees uint64, pending []vault.PendingTransfer, resolvedSincePrior []vault.Principal, newAudit []vault.AuditEntry) error {
	for _, a := range accounts {
		if err := s.UpsertAccount(ctx, a.Principal.String(), a.Balance, a.TotalDeposited, a.TotalWithdrawn, a.TotalWagered, a.Locked, a.LastActivity); err != nil {
			return err
		}
	}
	for p, sh := range shares {
		if err := s.UpsertShares(ctx, p.String(), sh); err != nil {
			return err
		}
	}
	if err := s.SavePoolState(ctx, reserve, initialized, pendingFees); err != nil {
		return err
	}
	for _, pt := range pending {
		row := PendingTransferRow{
			Principal:       pt.Principal.String(),
			Kind:            int(pt.Kind),
			Amount:          fmt.Sprint(pt.Amount),
			ReserveDeducted: fmt.Sprint(pt.ReserveDeducted),
			CreatedAt:       pt.CreatedAt,
			Retries:         pt.Retries,
			LastError:       pt.LastError,
		}
		if pt.Shares != nil {
			row.Shares = pt.Shares.String()
		}
		if err := s.UpsertPendingTransfer(ctx, row); err != nil {
			return err
		}
	}
	for _, p := range resolvedSincePrior {
		if err := s.DeletePendingTransfer(ctx, p.String()); err != nil {
			return err
		}
	}
	for _, e := range newAudit {
		if err := s.AppendAudit(ctx, AuditRow{
			ID:        e.ID.String(),
			Seq:       e.Seq,
			Timestamp: e.Timestamp,
			Kind:      string(e.Kind),
			Principal: e.Principal.String(),
			Amount:    fmt.Sprint(e.Amount),
			Details:   e.Details,
		}); err != nil {
			return err
		}
	}
	return nil
}
