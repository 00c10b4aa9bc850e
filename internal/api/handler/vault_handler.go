package handler

import (
	"errors"
	"net/http"

	"github.com/evetabi/vault/internal/api/middleware"
	"github.com/evetabi/vault/internal/domain"
	"github.com/evetabi/vault/internal/game"
	"github.com/evetabi/vault/internal/ledgerclient"
	"github.com/evetabi/vault/internal/metrics"
	"github.com/evetabi/vault/internal/vault"
	"github.com/gin-gonic/gin"
)

// VaultHandler serves the player-facing wagering and liquidity surface:
// balance, deposit, withdraw, play, and LP operations (spec.md §6's
// operator-facing RPC list, minus the admin-only calls served by
// internal/backoffice).
type VaultHandler struct {
	v *vault.Vault
}

// NewVaultHandler creates a VaultHandler.
func NewVaultHandler(v *vault.Vault) *VaultHandler {
	return &VaultHandler{v: v}
}

// mapVaultError translates internal/vault's error taxonomy into an HTTP
// status and error code, the same switch-on-sentinel-error pattern the
// teacher's handlers use against internal/domain's errors.
func mapVaultError(c *gin.Context, err error) {
	switch {
	case domain.IsValidation(err):
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
	case errors.Is(err, vault.ErrInsufficientBalance), errors.Is(err, vault.ErrInsufficientShares), errors.Is(err, vault.ErrInsufficientReserve):
		respondError(c, http.StatusPaymentRequired, "ERR_INSUFFICIENT_FUNDS", err.Error())
	case domain.IsConflict(err):
		respondError(c, http.StatusConflict, "ERR_CONFLICT", err.Error())
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
	case errors.Is(err, vault.ErrTransferDefinite):
		respondError(c, http.StatusUnprocessableEntity, "ERR_TRANSFER_REJECTED", err.Error())
	case errors.Is(err, vault.ErrTransferUncertain):
		respondError(c, http.StatusAccepted, "ERR_TRANSFER_UNCERTAIN", err.Error())
	case errors.Is(err, vault.ErrTransferExpired):
		respondError(c, http.StatusGone, "ERR_TRANSFER_EXPIRED", err.Error())
	case errors.Is(err, vault.ErrExceedsHousePayoutCap):
		respondError(c, http.StatusUnprocessableEntity, "ERR_EXCEEDS_PAYOUT_CAP", err.Error())
	case errors.Is(err, vault.ErrPoolNotInitialised), errors.Is(err, vault.ErrPoolBelowOperating):
		respondError(c, http.StatusServiceUnavailable, "ERR_POOL_UNAVAILABLE", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "internal error")
	}
}

func parseAccount(raw string) ledgerclient.Account {
	return ledgerclient.Account{Owner: raw}
}

// GetBalance godoc
// GET /api/balance [JWT]
func (h *VaultHandler) GetBalance(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	acc := h.v.Balance(p)
	respondSuccess(c, http.StatusOK, gin.H{
		"balance":         e8sToDisplay(acc.Balance),
		"locked":          acc.Locked,
		"total_deposited": e8sToDisplay(acc.TotalDeposited),
		"total_withdrawn": e8sToDisplay(acc.TotalWithdrawn),
		"total_wagered":   e8sToDisplay(acc.TotalWagered),
	})
}

// Deposit godoc
// POST /api/deposit [JWT]
// Body: {"amount": 1000000, "from": "owner-principal"}
func (h *VaultHandler) Deposit(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	var body struct {
		Amount uint64 `json:"amount" binding:"required"`
		From   string `json:"from"   binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	if err := h.v.Deposit(c.Request.Context(), p, body.Amount, parseAccount(body.From)); err != nil {
		mapVaultError(c, err)
		return
	}
	metrics.DepositsTotal.Inc()
	respondSuccess(c, http.StatusOK, h.v.Balance(p))
}

// Withdraw godoc
// POST /api/withdraw [JWT]
// Body: {"amount": 1000000, "dest": "owner-principal"}
func (h *VaultHandler) Withdraw(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	var body struct {
		Amount uint64 `json:"amount" binding:"required"`
		Dest   string `json:"dest"   binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	if err := h.v.Withdraw(c.Request.Context(), p, body.Amount, parseAccount(body.Dest)); err != nil {
		mapVaultError(c, err)
		return
	}
	metrics.RecordWithdrawal("completed")
	respondSuccess(c, http.StatusOK, gin.H{"status": "completed"})
}

// WithdrawAll godoc
// POST /api/withdraw/all [JWT]
// Body: {"dest": "owner-principal"}
func (h *VaultHandler) WithdrawAll(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	var body struct {
		Dest string `json:"dest" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	if err := h.v.WithdrawAll(c.Request.Context(), p, parseAccount(body.Dest)); err != nil {
		mapVaultError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "completed"})
}

// RetryWithdrawal godoc
// POST /api/withdraw/retry [JWT]
// Body: {"dest": "owner-principal"}
func (h *VaultHandler) RetryWithdrawal(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	var body struct {
		Dest string `json:"dest" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	if err := h.v.RetryWithdrawal(c.Request.Context(), p, parseAccount(body.Dest)); err != nil {
		mapVaultError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "completed"})
}

// AbandonWithdrawal godoc
// POST /api/withdraw/abandon [JWT]
func (h *VaultHandler) AbandonWithdrawal(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	if err := h.v.AbandonWithdrawal(p); err != nil {
		mapVaultError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "abandoned"})
}

// GetWithdrawStatus godoc
// GET /api/withdraw/status [JWT]
func (h *VaultHandler) GetWithdrawStatus(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	pt, ok := h.v.PendingStatus(p)
	if !ok {
		respondSuccess(c, http.StatusOK, gin.H{"pending": false})
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"pending":  true,
		"kind":     pt.Kind,
		"amount":   e8sToDisplay(pt.Amount),
		"retries":  pt.Retries,
		"last_err": pt.LastError,
	})
}

// Play godoc
// POST /api/play/:game [JWT]
// Body varies per game: dice {"bet":..,"target":..}, crash {"bet":..,"cashout_bps":..},
// plinko {"bet":..}, mines {"bet":..,"total":..,"mines":..,"picks":..}
func (h *VaultHandler) Play(c *gin.Context) {
	p := middleware.GetPrincipal(c)

	var body struct {
		Bet        uint64 `json:"bet" binding:"required"`
		Target     uint32 `json:"target"`
		CashoutBps uint32 `json:"cashout_bps"`
		Total      uint8  `json:"total"`
		Mines      uint8  `json:"mines"`
		Picks      uint8  `json:"picks"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	var args game.GameArgs
	switch c.Param("game") {
	case "dice":
		args = game.GameArgs{Kind: game.KindDice, Dice: &game.DiceArgs{Target: body.Target}}
	case "crash":
		args = game.GameArgs{Kind: game.KindCrash, Crash: &game.CrashArgs{CashoutBps: body.CashoutBps}}
	case "plinko":
		args = game.GameArgs{Kind: game.KindPlinko, Plinko: &game.PlinkoArgs{Rows: 8}}
	case "mines":
		args = game.GameArgs{Kind: game.KindMines, Mines: &game.MinesArgs{Total: body.Total, Mines: body.Mines, Picks: body.Picks}}
	default:
		respondError(c, http.StatusNotFound, "ERR_UNKNOWN_GAME", "unknown game")
		return
	}

	result, err := h.v.Play(c.Request.Context(), p, args, body.Bet)
	if err != nil {
		mapVaultError(c, err)
		return
	}
	outcome := "lose"
	if result.Won {
		outcome = "win"
	}
	metrics.RecordBet(c.Param("game"), outcome, body.Bet, result.Payout)
	respondSuccess(c, http.StatusOK, gin.H{
		"won":         result.Won,
		"payout":      e8sToDisplay(result.Payout),
		"multiplier":  result.Multiplier,
		"description": result.Description,
	})
}

// DepositLiquidity godoc
// POST /api/liquidity/deposit [JWT]
// Body: {"amount": 1000000}
func (h *VaultHandler) DepositLiquidity(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	var body struct {
		Amount uint64 `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	minted, err := h.v.DepositLiquidity(p, body.Amount)
	if err != nil {
		mapVaultError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"shares_minted": minted.String()})
}

// WithdrawAllLiquidity godoc
// POST /api/liquidity/withdraw [JWT]
// Body: {"dest": "owner-principal"}
func (h *VaultHandler) WithdrawAllLiquidity(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	var body struct {
		Dest string `json:"dest" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	if err := h.v.WithdrawAllLiquidity(c.Request.Context(), p, parseAccount(body.Dest)); err != nil {
		mapVaultError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "completed"})
}

// GetPosition godoc
// GET /api/liquidity/position [JWT]
func (h *VaultHandler) GetPosition(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	shares, ownership, redeemable := h.v.Position(p)
	respondSuccess(c, http.StatusOK, gin.H{
		"shares":     shares.String(),
		"ownership":  ownership,
		"redeemable": e8sToDisplay(redeemable),
	})
}

// GetPoolStats godoc
// GET /api/pool
func (h *VaultHandler) GetPoolStats(c *gin.Context) {
	stats := h.v.PoolStats()
	respondSuccess(c, http.StatusOK, gin.H{
		"total_shares": stats.TotalShares.String(),
		"reserve":      bigE8sToDisplay(stats.Reserve),
		"share_price":  stats.SharePrice,
		"initialized":  stats.Initialized,
		"pending_fees": e8sToDisplay(stats.PendingFeesToParent),
	})
}
