package vault

import (
	"time"

	"github.com/google/uuid"
)

// maxAuditDetailLen bounds the serialized size of an audit entry's details
// string (spec.md §4.7, §9: "string fields... are truncated to ≤ 256
// characters before storage to prevent a 'long-error DoS' against the
// append path").
const maxAuditDetailLen = 256

// AuditEventKind enumerates every ledger-affecting event the audit log
// records (spec.md §3).
type AuditEventKind string

const (
	EventDeposited           AuditEventKind = "deposited"
	EventWithdrawalInitiated AuditEventKind = "withdrawal_initiated"
	EventWithdrawalCompleted AuditEventKind = "withdrawal_completed"
	EventWithdrawalFailed    AuditEventKind = "withdrawal_failed"
	EventWithdrawalExpired   AuditEventKind = "withdrawal_expired"
	EventBalanceRestored     AuditEventKind = "balance_restored"
	EventLPRestored          AuditEventKind = "lp_restored"
	EventLiquidityDeposited  AuditEventKind = "liquidity_deposited"
	EventWagerSettled        AuditEventKind = "wager_settled"
	EventFeesForwarded       AuditEventKind = "fees_forwarded"
	EventSystemError         AuditEventKind = "system_error"
)

// AuditEntry is one append-only, bounded record of a ledger-affecting event
// (spec.md §4.7). ID lets persistence (internal/store) and pagination
// address individual entries without relying on slice position.
type AuditEntry struct {
	ID        uuid.UUID
	Seq       uint64
	Timestamp time.Time
	Kind      AuditEventKind
	Principal Principal
	Amount    uint64
	Details   string
}

// AuditLog is an append-only, sequentially indexed stream of AuditEntry
// records. It is the only durable history of the vault's mutations
// (spec.md §4.7); internal/store persists it across restarts.
type AuditLog struct {
	entries []AuditEntry
	nextSeq uint64
	now     func() time.Time
}

// NewAuditLog creates an empty in-memory audit log. now defaults to
// time.Now.
func NewAuditLog(now func() time.Time) *AuditLog {
	if now == nil {
		now = time.Now
	}
	return &AuditLog{now: now}
}

// Append records a new audit entry, truncating Details to maxAuditDetailLen
// characters, and returns the entry as stored (with ID/Seq/Timestamp
// populated).
func (l *AuditLog) Append(kind AuditEventKind, p Principal, amount uint64, details string) AuditEntry {
	if len(details) > maxAuditDetailLen {
		details = details[:maxAuditDetailLen]
	}
	entry := AuditEntry{
		ID:        uuid.New(),
		Seq:       l.nextSeq,
		Timestamp: l.now(),
		Kind:      kind,
		Principal: p,
		Amount:    amount,
		Details:   details,
	}
	l.nextSeq++
	l.entries = append(l.entries, entry)
	return entry
}

// Page returns up to limit entries starting at offset, most recent last
// (insertion order), for the audit-log pagination query surface
// (spec.md §6).
func (l *AuditLog) Page(offset, limit int) []AuditEntry {
	if offset < 0 || offset >= len(l.entries) {
		return nil
	}
	end := offset + limit
	if end > len(l.entries) || limit <= 0 {
		end = len(l.entries)
	}
	out := make([]AuditEntry, end-offset)
	copy(out, l.entries[offset:end])
	return out
}

// Len returns the total number of recorded entries.
func (l *AuditLog) Len() int { return len(l.entries) }

// Restore repopulates the audit log from persisted rows at boot, in seq
// order, and resumes nextSeq from the highest restored value.
func (l *AuditLog) Restore(entries []AuditEntry) {
	l.entries = append(l.entries[:0], entries...)
	for _, e := range entries {
		if e.Seq >= l.nextSeq {
			l.nextSeq = e.Seq + 1
		}
	}
}
