package handler

import (
	"net/http"

	"github.com/evetabi/vault/internal/config"
	"github.com/evetabi/vault/internal/vault"
	"github.com/gin-gonic/gin"
)

// RiskHandler serves /admin/risk endpoints: the invariant checks of
// spec.md §3 exposed for manual inspection rather than continuous
// enforcement.
type RiskHandler struct {
	v   *vault.Vault
	cfg *config.Config
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(v *vault.Vault, cfg *config.Config) *RiskHandler {
	return &RiskHandler{v: v, cfg: cfg}
}

// Solvency godoc
// GET /admin/risk/solvency
func (h *RiskHandler) Solvency(c *gin.Context) {
	report := h.v.Solvency()
	respondSuccess(c, http.StatusOK, gin.H{
		"solvent":             report.Solvent,
		"user_balances_total": e8sToDisplay(report.UserBalancesTotal),
		"pool_reserve":        bigE8sToDisplay(report.PoolReserve),
		"pending_fees":        e8sToDisplay(report.PendingFees),
		"pending_transfers":   e8sToDisplay(report.PendingTransfersTotal),
		"external_balance":    externalBalanceDisplay(report),
		"risk_indicator":      solvencyIndicator(report),
	})
}

// ShareConservation godoc
// POST /admin/risk/check-shares
//
// Re-verifies invariant I2 (spec.md §3) on demand. A violation traps via
// vault.FatalInvariantError — the same panic the normal settlement path
// would raise — rather than reporting a soft failure, since a broken share
// invariant means the pool's internal bookkeeping has already diverged from
// reality.
func (h *RiskHandler) ShareConservation(c *gin.Context) {
	h.v.CheckShareConservation()
	respondSuccess(c, http.StatusOK, gin.H{"status": "consistent"})
}

// Pool godoc
// GET /admin/risk/pool
func (h *RiskHandler) Pool(c *gin.Context) {
	stats := h.v.PoolStats()
	respondSuccess(c, http.StatusOK, gin.H{
		"total_shares":       stats.TotalShares.String(),
		"reserve":            bigE8sToDisplay(stats.Reserve),
		"share_price":        stats.SharePrice,
		"minimum_liquidity":  stats.MinimumLiquidity,
		"initialized":        stats.Initialized,
		"pending_fees":       e8sToDisplay(stats.PendingFeesToParent),
		"min_operating":      e8sToDisplay(h.cfg.Ledger.MinOperatingBalance),
	})
}

// Pending godoc
// GET /admin/risk/pending
//
// Lists every in-flight pending transfer across all principals — the
// backoffice view of the retry queue spec.md §4.5 describes.
func (h *RiskHandler) Pending(c *gin.Context) {
	pending := h.v.PendingTransfers()
	out := make([]gin.H, 0, len(pending))
	for _, pt := range pending {
		out = append(out, gin.H{
			"principal": pt.Principal.String(),
			"kind":      pt.Kind,
			"amount":    e8sToDisplay(pt.Amount),
			"retries":   pt.Retries,
			"last_err":  pt.LastError,
		})
	}
	respondSuccess(c, http.StatusOK, gin.H{"pending": out, "count": len(out)})
}
