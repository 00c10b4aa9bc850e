package handler

import (
	"errors"
	"net/http"

	"github.com/evetabi/vault/internal/config"
	"github.com/evetabi/vault/internal/domain"
	"github.com/evetabi/vault/internal/service"
	"github.com/evetabi/vault/internal/store"
	"github.com/evetabi/vault/internal/vault"
	"github.com/gin-gonic/gin"
)

// UserAdminHandler serves two distinct surfaces under /admin/users and
// /admin/operators: read-only inspection of vault Principals (balances,
// positions), and management of backoffice OperatorAccounts (spec.md has
// no equivalent — this is purely an HTTP/authz concern layered on top, the
// same split internal/service.AuthService draws between
// IssuePrincipalSession and RegisterOperator).
type UserAdminHandler struct {
	v       *vault.Vault
	authSvc *service.AuthService
	store   *store.Store
	cfg     *config.Config
}

// NewUserAdminHandler creates a UserAdminHandler.
func NewUserAdminHandler(v *vault.Vault, authSvc *service.AuthService, st *store.Store, cfg *config.Config) *UserAdminHandler {
	return &UserAdminHandler{v: v, authSvc: authSvc, store: st, cfg: cfg}
}

// ListPrincipals godoc
// GET /admin/users
func (h *UserAdminHandler) ListPrincipals(c *gin.Context) {
	page, limit := adminPagination(c)
	accounts := h.v.AccountsSnapshot()

	start := (page - 1) * limit
	if start > len(accounts) {
		start = len(accounts)
	}
	end := start + limit
	if end > len(accounts) {
		end = len(accounts)
	}
	slice := accounts[start:end]

	out := make([]gin.H, 0, len(slice))
	for _, a := range slice {
		out = append(out, gin.H{
			"principal":       a.Principal.String(),
			"balance":         e8sToDisplay(a.Balance),
			"total_deposited": e8sToDisplay(a.TotalDeposited),
			"total_withdrawn": e8sToDisplay(a.TotalWithdrawn),
			"total_wagered":   e8sToDisplay(a.TotalWagered),
			"locked":          a.Locked,
			"last_activity":   a.LastActivity,
		})
	}
	respondList(c, out, len(accounts), page, limit)
}

// PrincipalDetail godoc
// GET /admin/users/:principal
func (h *UserAdminHandler) PrincipalDetail(c *gin.Context) {
	p := vault.Principal(c.Param("principal"))
	acct := h.v.Balance(p)
	shares, ownership, redeemable := h.v.Position(p)
	pt, hasPending := h.v.PendingStatus(p)

	detail := gin.H{
		"principal":       acct.Principal.String(),
		"balance":         e8sToDisplay(acct.Balance),
		"total_deposited": e8sToDisplay(acct.TotalDeposited),
		"total_withdrawn": e8sToDisplay(acct.TotalWithdrawn),
		"total_wagered":   e8sToDisplay(acct.TotalWagered),
		"locked":          acct.Locked,
		"lp_shares":       shares.String(),
		"lp_ownership":    ownership,
		"lp_redeemable":   e8sToDisplay(redeemable),
	}
	if hasPending {
		detail["pending"] = gin.H{
			"kind":     pt.Kind,
			"amount":   e8sToDisplay(pt.Amount),
			"retries":  pt.Retries,
			"last_err": pt.LastError,
		}
	}
	respondSuccess(c, http.StatusOK, detail)
}

// GrantRole godoc
// POST /admin/users/:principal/role
// Body: {"role": "risk"}
//
// Grants a backoffice role directly to a vault Principal, the path
// IssuePrincipalSession checks before defaulting to domain.RolePrincipal.
func (h *UserAdminHandler) GrantRole(c *gin.Context) {
	principal := c.Param("principal")
	var body struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	role := domain.Role(body.Role)
	if !validRole(role) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ROLE", "unknown role")
		return
	}
	if err := h.store.SetRole(c.Request.Context(), principal, string(role)); err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"principal": principal, "role": role})
}

// ListOperators godoc
// GET /admin/operators
func (h *UserAdminHandler) ListOperators(c *gin.Context) {
	ops, err := h.store.ListOperators(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	out := make([]gin.H, 0, len(ops))
	for _, o := range ops {
		out = append(out, gin.H{"username": o.Username, "role": o.Role})
	}
	respondSuccess(c, http.StatusOK, out)
}

// CreateOperator godoc
// POST /admin/operators
// Body: {"username": "ops1", "password": "...", "role": "finance"}
func (h *UserAdminHandler) CreateOperator(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
		Role     string `json:"role"     binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	role := domain.Role(body.Role)
	if !validRole(role) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ROLE", "unknown role")
		return
	}
	if err := h.authSvc.RegisterOperator(c.Request.Context(), body.Username, body.Password, role); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			respondError(c, http.StatusConflict, "ERR_USERNAME_TAKEN", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"username": body.Username, "role": role})
}

// SetOperatorRole godoc
// POST /admin/operators/:username/role
// Body: {"role": "admin"}
func (h *UserAdminHandler) SetOperatorRole(c *gin.Context) {
	username := c.Param("username")
	var body struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	role := domain.Role(body.Role)
	if !validRole(role) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ROLE", "unknown role")
		return
	}
	if err := h.store.SetOperatorRole(c.Request.Context(), username, string(role)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", "operator not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"username": username, "role": role})
}

func validRole(role domain.Role) bool {
	switch role {
	case domain.RolePrincipal, domain.RoleAdmin, domain.RoleRisk, domain.RoleFinance, domain.RoleReadOnly:
		return true
	default:
		return false
	}
}
