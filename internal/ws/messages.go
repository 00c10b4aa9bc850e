// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs broadcast to connected clients.
package ws

import (
	"time"

	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeWagerSettled  MsgType = "wager_settled"
	MsgTypePoolUpdate    MsgType = "pool_update"
	MsgTypeAuditEntry    MsgType = "audit_entry"
	MsgTypeSolvencyAlert MsgType = "solvency_alert"
	MsgTypeError         MsgType = "error"
)

// ──────────────────────────────────────────────────────────────────────────────
// WagerSettledMessage — pushed to the caller's own connection after Play.
// ──────────────────────────────────────────────────────────────────────────────

// WagerSettledMessage notifies a principal's own connection that a wager it
// placed has settled (spec.md §4.3's Play outcome, pushed rather than
// polled).
type WagerSettledMessage struct {
	Type        MsgType         `json:"type"`
	Principal   string          `json:"principal"`
	Game        string          `json:"game"`
	Won         bool            `json:"won"`
	Payout      decimal.Decimal `json:"payout"`
	Multiplier  float64         `json:"multiplier"`
	Description string          `json:"description"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// PoolUpdateMessage — broadcast after any operation that moves the reserve.
// ──────────────────────────────────────────────────────────────────────────────

// PoolUpdateMessage refreshes every connected dashboard's view of the
// liquidity pool (spec.md §4.2).
type PoolUpdateMessage struct {
	Type        MsgType         `json:"type"`
	Reserve     decimal.Decimal `json:"reserve"`
	TotalShares string          `json:"total_shares"`
	SharePrice  float64         `json:"share_price"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// AuditEntryMessage — broadcast to backoffice connections as events append.
// ──────────────────────────────────────────────────────────────────────────────

// AuditEntryMessage mirrors one vault.AuditEntry for a live backoffice feed
// (spec.md §4.7).
type AuditEntryMessage struct {
	Type      MsgType   `json:"type"`
	Seq       uint64    `json:"seq"`
	Kind      string    `json:"kind"`
	Principal string    `json:"principal"`
	Amount    decimal.Decimal `json:"amount"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// SolvencyAlertMessage — broadcast when a scheduled solvency check fails.
// ──────────────────────────────────────────────────────────────────────────────

// SolvencyAlertMessage is pushed to backoffice connections when
// invariant I1 (spec.md §3, §8) is observed violated.
type SolvencyAlertMessage struct {
	Type              MsgType         `json:"type"`
	UserBalancesTotal decimal.Decimal `json:"user_balances_total"`
	PoolReserve       decimal.Decimal `json:"pool_reserve"`
	ExternalBalance   *decimal.Decimal `json:"external_balance"`
	Timestamp         time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage — sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
