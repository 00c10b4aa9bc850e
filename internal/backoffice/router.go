package backoffice

import (
	"net/http"
	"strings"

	"github.com/evetabi/vault/internal/backoffice/handler"
	"github.com/evetabi/vault/internal/config"
	"github.com/evetabi/vault/internal/service"
	"github.com/evetabi/vault/internal/store"
	"github.com/evetabi/vault/internal/vault"
	"github.com/evetabi/vault/internal/ws"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	AuthSvc *service.AuthService
	Vault   *vault.Vault
	Store   *store.Store
	Hub     *ws.Hub
	Cfg     *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine on port 8081.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.AdminAllowedIPs))

	dashH := handler.NewDashboardHandler(deps.Vault, deps.Hub, deps.Cfg)
	riskH := handler.NewRiskHandler(deps.Vault, deps.Cfg)
	financeH := handler.NewFinanceHandler(deps.Vault, deps.Cfg)
	userH := handler.NewUserAdminHandler(deps.Vault, deps.AuthSvc, deps.Store, deps.Cfg)

	jwtMW := adminJWTMiddleware(deps.AuthSvc)

	admin := r.Group("/admin")
	admin.Use(jwtMW)
	{
		admin.GET("/dashboard", dashH.Dashboard)

		// Risk — invariant checks (spec.md §3)
		risk := admin.Group("/risk")
		{
			risk.GET("/solvency", riskH.Solvency)
			risk.POST("/check-shares", riskH.ShareConservation)
			risk.GET("/pool", riskH.Pool)
			risk.GET("/pending", riskH.Pending)
		}

		// Finance — pending transfers, fee sweep, audit log
		fin := admin.Group("/finance")
		{
			fin.GET("/withdrawals", financeH.Withdrawals)
			fin.POST("/withdrawals/:principal/retry", financeH.RetryWithdrawal)
			fin.POST("/sweep", financeH.SweepFees)
			fin.GET("/audit", financeH.AuditLog)
		}

		// Principals (vault callers) — read-only inspection + role grants
		users := admin.Group("/users")
		{
			users.GET("", userH.ListPrincipals)
			users.GET("/:principal", userH.PrincipalDetail)
			users.POST("/:principal/role", userH.GrantRole)
		}

		// Operators (backoffice staff logins)
		ops := admin.Group("/operators")
		{
			ops.GET("", userH.ListOperators)
			ops.POST("", userH.CreateOperator)
			ops.POST("/:username/role", userH.SetOperatorRole)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !allowed[clientIP] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "access denied: your IP is not whitelisted",
			})
			return
		}
		c.Next()
	}
}

// ── Admin JWT middleware ──────────────────────────────────────────────────────

// adminJWTMiddleware validates a JWT and requires the caller to hold a
// backoffice-capable role (admin, risk, finance, readonly).
func adminJWTMiddleware(authSvc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := authSvc.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		backofficeRoles := map[string]bool{
			"admin":    true,
			"risk":     true,
			"finance":  true,
			"readonly": true,
		}
		if !backofficeRoles[claims.Role] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}

		c.Set("username", claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}
