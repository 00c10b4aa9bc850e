package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/vault/internal/config"
	"github.com/evetabi/vault/internal/vault"
	"github.com/evetabi/vault/internal/ws"
	"github.com/gin-gonic/gin"
)

// DashboardHandler serves the /admin/dashboard endpoint: a point-in-time
// view of pool health, solvency, and pending-transfer load (spec.md §3, §4.2,
// §4.5, §4.6).
type DashboardHandler struct {
	v   *vault.Vault
	hub *ws.Hub
	cfg *config.Config
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(v *vault.Vault, hub *ws.Hub, cfg *config.Config) *DashboardHandler {
	return &DashboardHandler{v: v, hub: hub, cfg: cfg}
}

// Dashboard godoc
// GET /admin/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	pool := h.v.PoolStats()
	solvency := h.v.Solvency()
	pending := h.v.PendingTransfers()

	var pendingTotal uint64
	for _, pt := range pending {
		pendingTotal += pt.Amount
	}

	var wsConnections int
	if h.hub != nil {
		wsConnections = h.hub.ConnectedCount()
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"timestamp": time.Now().UTC(),
		"pool": gin.H{
			"reserve":      bigE8sToDisplay(pool.Reserve),
			"total_shares": pool.TotalShares.String(),
			"share_price":  pool.SharePrice,
			"initialized":  pool.Initialized,
			"pending_fees": e8sToDisplay(pool.PendingFeesToParent),
		},
		"solvency": gin.H{
			"solvent":             solvency.Solvent,
			"user_balances_total": e8sToDisplay(solvency.UserBalancesTotal),
			"pool_reserve":        bigE8sToDisplay(solvency.PoolReserve),
			"pending_fees":        e8sToDisplay(solvency.PendingFees),
			"pending_transfers":   e8sToDisplay(solvency.PendingTransfersTotal),
			"external_balance":    externalBalanceDisplay(solvency),
			"risk_indicator":      solvencyIndicator(solvency),
		},
		"pending_withdrawals": gin.H{
			"count": len(pending),
			"total": e8sToDisplay(pendingTotal),
		},
		"ws_connections": wsConnections,
	})
}

// externalBalanceDisplay returns nil until the external balance cache has
// been refreshed at least once (spec.md §4.6).
func externalBalanceDisplay(r vault.SolvencyReport) interface{} {
	if r.ExternalBalance == nil {
		return nil
	}
	return e8sToDisplay(*r.ExternalBalance)
}

// solvencyIndicator returns GREEN/YELLOW/RED based on invariant I1.
func solvencyIndicator(r vault.SolvencyReport) string {
	if !r.Solvent {
		return "RED"
	}
	if r.ExternalBalance == nil {
		return "YELLOW" // never reconciled; solvency is only vacuously true
	}
	return "GREEN"
}
