// Package store persists the vault's state layout across restarts
// (spec.md §6): user balances, the share ledger, pool state, the
// pending-transfer map, the audit log, the cached external balance, and the
// admin/treasury principal configuration. The in-memory internal/vault
// types remain authoritative at runtime; Store is the write-behind/
// load-on-boot adapter between them and PostgreSQL, the same role the
// teacher's internal/repository package plays for wallets and users.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a lookup by key matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps a *sqlx.DB with the vault's persistence operations.
type Store struct {
	db *sqlx.DB
}

// New wraps an already-connected *sqlx.DB.
func New(db *sqlx.DB) *Store { return &Store{db: db} }

// AccountRow mirrors one row of the accounts table. e8s amounts are stored
// as NUMERIC text (see UpsertAccount) and surfaced here as strings; callers
// parse with fmt.Sscan the same way LoadCachedBalance does.
type AccountRow struct {
	Principal      string    `db:"principal"`
	Balance        string    `db:"balance"`
	TotalDeposited string    `db:"total_deposited"`
	TotalWithdrawn string    `db:"total_withdrawn"`
	TotalWagered   string    `db:"total_wagered"`
	Locked         bool      `db:"locked"`
	CreatedAt      time.Time `db:"created_at"`
	LastActivity   time.Time `db:"last_activity"`
}

// UpsertAccount writes the current state of one account. e8s amounts are
// stored as NUMERIC text (not bigint) so a future pool reserve or balance
// that legitimately needs more than 64 bits of range is never truncated,
// mirroring how the teacher stores shopspring/decimal wallet balances as
// Postgres NUMERIC rather than a native integer type.
func (s *Store) UpsertAccount(ctx context.Context, p string, balance, totalDeposited, totalWithdrawn, totalWagered uint64, locked bool, lastActivity time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (principal, balance, total_deposited, total_withdrawn, total_wagered, locked, created_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7)
		ON CONFLICT (principal) DO UPDATE SET
			balance = $2, total_deposited = $3, total_withdrawn = $4,
			total_wagered = $5, locked = $6, last_activity = $7`,
		p, fmt.Sprint(balance), fmt.Sprint(totalDeposited), fmt.Sprint(totalWithdrawn), fmt.Sprint(totalWagered), locked, lastActivity)
	if err != nil {
		return fmt.Errorf("store.UpsertAccount: %w", err)
	}
	return nil
}

// LoadAccount returns a single persisted account row, or ErrNotFound if the
// principal has never transacted.
func (s *Store) LoadAccount(ctx context.Context, principal string) (AccountRow, error) {
	var row AccountRow
	err := s.db.GetContext(ctx, &row, `
		SELECT principal, balance, total_deposited, total_withdrawn, total_wagered, locked, created_at, last_activity
		FROM accounts WHERE principal = $1`, principal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AccountRow{}, ErrNotFound
		}
		return AccountRow{}, fmt.Errorf("store.LoadAccount: %w", err)
	}
	return row, nil
}

// LoadAccounts returns every persisted account row for boot-time rebuild of
// the in-memory ledger (spec.md §6: "in-memory caches may be rebuilt").
func (s *Store) LoadAccounts(ctx context.Context) ([]AccountRow, error) {
	var rows []AccountRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT principal, balance, total_deposited, total_withdrawn, total_wagered, locked, created_at, last_activity
		FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("store.LoadAccounts: %w", err)
	}
	return rows, nil
}

// ShareRow mirrors one row of the pool_shares table.
type ShareRow struct {
	Principal string `db:"principal"`
	Shares    string `db:"shares"` // big.Int decimal text
}

// UpsertShares writes a principal's share balance. shares is serialized via
// big.Int.String() since share counts are explicitly unbounded
// (spec.md §3).
func (s *Store) UpsertShares(ctx context.Context, p string, shares *big.Int) error {
	if shares.Sign() == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM pool_shares WHERE principal = $1`, p)
		if err != nil {
			return fmt.Errorf("store.UpsertShares delete: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pool_shares (principal, shares) VALUES ($1, $2)
		ON CONFLICT (principal) DO UPDATE SET shares = $2`,
		p, shares.String())
	if err != nil {
		return fmt.Errorf("store.UpsertShares: %w", err)
	}
	return nil
}

// LoadShares returns every persisted share row.
func (s *Store) LoadShares(ctx context.Context) ([]ShareRow, error) {
	var rows []ShareRow
	err := s.db.SelectContext(ctx, &rows, `SELECT principal, shares FROM pool_shares`)
	if err != nil {
		return nil, fmt.Errorf("store.LoadShares: %w", err)
	}
	return rows, nil
}

// PoolStateRow mirrors the single-row pool_state table.
type PoolStateRow struct {
	Reserve     string `db:"reserve"`
	Initialized bool   `db:"initialized"`
	PendingFees string `db:"pending_fees"`
}

// SavePoolState upserts the single pool-state row (id is always 1).
func (s *Store) SavePoolState(ctx context.Context, reserve *big.Int, initialized bool, pendingFees uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pool_state (id, reserve, initialized, pending_fees) VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET reserve = $1, initialized = $2, pending_fees = $3`,
		reserve.String(), initialized, fmt.Sprint(pendingFees))
	if err != nil {
		return fmt.Errorf("store.SavePoolState: %w", err)
	}
	return nil
}

// LoadPoolState returns the persisted pool state, or ErrNotFound if the
// pool has never been saved.
func (s *Store) LoadPoolState(ctx context.Context) (PoolStateRow, error) {
	var row PoolStateRow
	err := s.db.GetContext(ctx, &row, `SELECT reserve, initialized, pending_fees FROM pool_state WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PoolStateRow{}, ErrNotFound
		}
		return PoolStateRow{}, fmt.Errorf("store.LoadPoolState: %w", err)
	}
	return row, nil
}

// PendingTransferRow mirrors one row of the pending_transfers table.
type PendingTransferRow struct {
	Principal       string `db:"principal"`
	Kind            int    `db:"kind"`
	Amount          string `db:"amount"`
	Shares          string `db:"shares"`
	ReserveDeducted string `db:"reserve_deducted"`
	CreatedAt       uint64 `db:"created_at"`
	Retries         int    `db:"retries"`
	LastError       string `db:"last_error"`
}

// UpsertPendingTransfer writes or replaces one principal's pending record.
func (s *Store) UpsertPendingTransfer(ctx context.Context, row PendingTransferRow) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO pending_transfers (principal, kind, amount, shares, reserve_deducted, created_at, retries, last_error)
		VALUES (:principal, :kind, :amount, :shares, :reserve_deducted, :created_at, :retries, :last_error)
		ON CONFLICT (principal) DO UPDATE SET
			kind = :kind, amount = :amount, shares = :shares, reserve_deducted = :reserve_deducted,
			created_at = :created_at, retries = :retries, last_error = :last_error`,
		row)
	if err != nil {
		return fmt.Errorf("store.UpsertPendingTransfer: %w", err)
	}
	return nil
}

// DeletePendingTransfer removes p's pending record after it resolves.
func (s *Store) DeletePendingTransfer(ctx context.Context, p string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_transfers WHERE principal = $1`, p)
	if err != nil {
		return fmt.Errorf("store.DeletePendingTransfer: %w", err)
	}
	return nil
}

// LoadPendingTransfers returns every persisted pending transfer for
// boot-time rebuild.
func (s *Store) LoadPendingTransfers(ctx context.Context) ([]PendingTransferRow, error) {
	var rows []PendingTransferRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT principal, kind, amount, shares, reserve_deducted, created_at, retries, last_error
		FROM pending_transfers`)
	if err != nil {
		return nil, fmt.Errorf("store.LoadPendingTransfers: %w", err)
	}
	return rows, nil
}

// AuditRow mirrors one row of the append-only audit_log table.
type AuditRow struct {
	ID        string    `db:"id"`
	Seq       uint64    `db:"seq"`
	Timestamp time.Time `db:"timestamp"`
	Kind      string    `db:"kind"`
	Principal string    `db:"principal"`
	Amount    string    `db:"amount"`
	Details   string    `db:"details"`
}

// AppendAudit inserts one audit entry. The table itself has no UPDATE path —
// audit rows are immutable once written (spec.md §4.7).
func (s *Store) AppendAudit(ctx context.Context, row AuditRow) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_log (id, seq, timestamp, kind, principal, amount, details)
		VALUES (:id, :seq, :timestamp, :kind, :principal, :amount, :details)`,
		row)
	if err != nil {
		return fmt.Errorf("store.AppendAudit: %w", err)
	}
	return nil
}

// LoadAuditPage returns a page of audit rows ordered by seq.
func (s *Store) LoadAuditPage(ctx context.Context, offset, limit int) ([]AuditRow, error) {
	var rows []AuditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, seq, timestamp, kind, principal, amount, details
		FROM audit_log ORDER BY seq ASC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("store.LoadAuditPage: %w", err)
	}
	return rows, nil
}

// LoadAllAuditEntries returns the entire audit log ordered by seq, for the
// boot-time rebuild (LoadVaultState). Separate from LoadAuditPage because
// Postgres treats LIMIT 0 as "return nothing," not "no limit."
func (s *Store) LoadAllAuditEntries(ctx context.Context) ([]AuditRow, error) {
	var rows []AuditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, seq, timestamp, kind, principal, amount, details
		FROM audit_log ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("store.LoadAllAuditEntries: %w", err)
	}
	return rows, nil
}

// SaveCachedBalance persists the reconciler's external-balance cache so a
// restart doesn't report is_cache_stale(0) against a fresh zero value.
func (s *Store) SaveCachedBalance(ctx context.Context, balance uint64, refreshedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_balance (id, balance, refreshed_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET balance = $1, refreshed_at = $2`,
		fmt.Sprint(balance), refreshedAt)
	if err != nil {
		return fmt.Errorf("store.SaveCachedBalance: %w", err)
	}
	return nil
}

// LoadCachedBalance returns the persisted external-balance cache, or
// ErrNotFound if it was never populated.
func (s *Store) LoadCachedBalance(ctx context.Context) (uint64, time.Time, error) {
	var row struct {
		Balance     string    `db:"balance"`
		RefreshedAt time.Time `db:"refreshed_at"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT balance, refreshed_at FROM cached_balance WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, time.Time{}, ErrNotFound
		}
		return 0, time.Time{}, fmt.Errorf("store.LoadCachedBalance: %w", err)
	}
	var balance uint64
	if _, err := fmt.Sscan(row.Balance, &balance); err != nil {
		return 0, time.Time{}, fmt.Errorf("store.LoadCachedBalance: parse balance: %w", err)
	}
	return balance, row.RefreshedAt, nil
}

// PrincipalRole identifies which operator role a principal is granted —
// the vault's only notion of an "account row" beyond its own ledger, kept
// here because it is purely an HTTP/authz concern (spec.md has no
// equivalent; every principal is equal at the ledger level).
type PrincipalRole struct {
	Principal string `db:"principal"`
	Role      string `db:"role"`
}

// GetRole returns the role assigned to principal, or ErrNotFound if none
// has been granted (the default role is applied by the caller).
func (s *Store) GetRole(ctx context.Context, principal string) (string, error) {
	var role string
	err := s.db.GetContext(ctx, &role, `SELECT role FROM principal_roles WHERE principal = $1`, principal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("store.GetRole: %w", err)
	}
	return role, nil
}

// SetRole grants or changes principal's role (operator action only).
func (s *Store) SetRole(ctx context.Context, principal, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO principal_roles (principal, role) VALUES ($1, $2)
		ON CONFLICT (principal) DO UPDATE SET role = $2`,
		principal, role)
	if err != nil {
		return fmt.Errorf("store.SetRole: %w", err)
	}
	return nil
}

// ErrUsernameTaken is returned by CreateOperator on a duplicate username.
var ErrUsernameTaken = errors.New("store: username already taken")

// OperatorAccount is a human backoffice login, distinct from a vault
// Principal: treasury/risk/finance staff authenticate with a username and
// password, the same way the teacher's users table does, while vault
// principals never have a password at all (spec.md's custodian trusts the
// caller's Principal as already authenticated upstream).
type OperatorAccount struct {
	Username     string `db:"username"`
	PasswordHash string `db:"password_hash"`
	Role         string `db:"role"`
}

// CreateOperator inserts a new backoffice login.
func (s *Store) CreateOperator(ctx context.Context, username, passwordHash, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operator_accounts (username, password_hash, role) VALUES ($1, $2, $3)`,
		username, passwordHash, role)
	if err != nil {
		if isPgUniqueViolation(err, "operator_accounts_pkey") || isPgUniqueViolation(err, "username") {
			return ErrUsernameTaken
		}
		return fmt.Errorf("store.CreateOperator: %w", err)
	}
	return nil
}

// GetOperator fetches a backoffice login by username.
func (s *Store) GetOperator(ctx context.Context, username string) (OperatorAccount, error) {
	var row OperatorAccount
	err := s.db.GetContext(ctx, &row, `SELECT username, password_hash, role FROM operator_accounts WHERE username = $1`, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OperatorAccount{}, ErrNotFound
		}
		return OperatorAccount{}, fmt.Errorf("store.GetOperator: %w", err)
	}
	return row, nil
}

// ListOperators returns every backoffice login, for the admin user list.
func (s *Store) ListOperators(ctx context.Context) ([]OperatorAccount, error) {
	var rows []OperatorAccount
	err := s.db.SelectContext(ctx, &rows, `SELECT username, password_hash, role FROM operator_accounts ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("store.ListOperators: %w", err)
	}
	return rows, nil
}

// SetOperatorRole changes an existing operator's role.
func (s *Store) SetOperatorRole(ctx context.Context, username, role string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE operator_accounts SET role = $2 WHERE username = $1`, username, role)
	if err != nil {
		return fmt.Errorf("store.SetOperatorRole: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store.SetOperatorRole: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isPgUniqueViolation reports whether err is a unique-constraint violation
// naming constraint, grounded on the teacher's internal/repository helper
// of the same name.
func isPgUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return stringsContains(msg, "unique constraint") && stringsContains(msg, constraint)
}

func stringsContains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
