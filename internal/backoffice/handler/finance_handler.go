package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/vault/internal/config"
	"github.com/evetabi/vault/internal/ledgerclient"
	"github.com/evetabi/vault/internal/vault"
	"github.com/gin-gonic/gin"
)

// FinanceHandler serves /admin/finance endpoints: the pending-transfer
// retry queue (spec.md §4.5), the fee-forwarding sweep (spec.md §4.2,
// §4.6), and the audit log (spec.md §4.7).
type FinanceHandler struct {
	v   *vault.Vault
	cfg *config.Config
}

// NewFinanceHandler creates a FinanceHandler.
func NewFinanceHandler(v *vault.Vault, cfg *config.Config) *FinanceHandler {
	return &FinanceHandler{v: v, cfg: cfg}
}

// Withdrawals godoc
// GET /admin/finance/withdrawals
//
// Lists every in-flight withdrawal (user or LP), the finance-facing
// equivalent of internal/vault.PendingTransfers.
func (h *FinanceHandler) Withdrawals(c *gin.Context) {
	page, limit := adminPagination(c)
	pending := h.v.PendingTransfers()

	start := (page - 1) * limit
	if start > len(pending) {
		start = len(pending)
	}
	end := start + limit
	if end > len(pending) {
		end = len(pending)
	}
	page_ := pending[start:end]

	out := make([]gin.H, 0, len(page_))
	for _, pt := range page_ {
		out = append(out, gin.H{
			"principal": pt.Principal.String(),
			"kind":      pt.Kind,
			"amount":    e8sToDisplay(pt.Amount),
			"retries":   pt.Retries,
			"last_err":  pt.LastError,
		})
	}
	respondList(c, out, len(pending), page, limit)
}

// RetryWithdrawal godoc
// POST /admin/finance/withdrawals/:principal/retry
// Body: {"dest": "owner-principal"}
//
// Manually forces a retry outside the scheduled sweep — an operator
// override for a withdrawal stuck past its normal retry cadence.
func (h *FinanceHandler) RetryWithdrawal(c *gin.Context) {
	p := vault.Principal(c.Param("principal"))
	var body struct {
		Dest string `json:"dest" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	if err := h.v.RetryWithdrawal(c.Request.Context(), p, ledgerclient.Account{Owner: body.Dest}); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "ERR_RETRY_FAILED", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"principal": p.String(), "status": "completed"})
}

// SweepFees godoc
// POST /admin/finance/sweep
// Body: {"treasury": "owner-principal"}
//
// Manually triggers the fee-forwarding sweep the scheduler otherwise runs
// once a day (spec.md §4.2, §4.6), capped at the configured
// MaxReconciliationPercent of the cached external balance.
func (h *FinanceHandler) SweepFees(c *gin.Context) {
	var body struct {
		Treasury string `json:"treasury" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	createdAt := uint64(time.Now().UTC().UnixNano())
	treasury := ledgerclient.Account{Owner: body.Treasury}
	if err := h.v.SweepFees(c.Request.Context(), treasury, h.cfg.Reconcile.MaxReconciliationPercent, h.cfg.Reconcile.ReconciliationThreshold, createdAt); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "ERR_SWEEP_FAILED", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, h.v.PoolStats())
}

// AuditLog godoc
// GET /admin/finance/audit?page=1&limit=50
func (h *FinanceHandler) AuditLog(c *gin.Context) {
	page, limit := adminPagination(c)
	offset := (page - 1) * limit
	entries := h.v.AuditPage(offset, limit)

	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"seq":       e.Seq,
			"timestamp": e.Timestamp,
			"kind":      e.Kind,
			"principal": e.Principal.String(),
			"amount":    e8sToDisplay(e.Amount),
			"details":   e.Details,
		})
	}
	respondList(c, out, len(out), page, limit)
}
