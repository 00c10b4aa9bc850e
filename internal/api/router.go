package api

import (
	"net/http"

	"github.com/evetabi/vault/internal/api/handler"
	"github.com/evetabi/vault/internal/api/middleware"
	"github.com/evetabi/vault/internal/config"
	"github.com/evetabi/vault/internal/service"
	"github.com/evetabi/vault/internal/vault"
	"github.com/evetabi/vault/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc *service.AuthService
	Vault   *vault.Vault
	Hub     *ws.Hub
	Cfg     *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Metrics ──────────────────────────────────────────────────────────────
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ── Handlers ─────────────────────────────────────────────────────────────
	sessionH := handler.NewSessionHandler(deps.AuthSvc)
	vaultH := handler.NewVaultHandler(deps.Vault)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware(deps.AuthSvc)

	// ── Rate limiters ─────────────────────────────────────────────────────────
	authRL := middleware.RateLimitMiddleware(10, "auth") // 10 req/s per IP for session endpoints
	playRL := middleware.RateLimitMiddleware(30, "play") // 30 req/s per IP for wager endpoints

	api := r.Group("/api")
	{
		// ── Session issuance (public, strict rate limit) ──────────────────────
		auth := api.Group("")
		auth.Use(authRL)
		{
			auth.POST("/session", sessionH.CreateSession)
			auth.POST("/auth/refresh", sessionH.Refresh)
			auth.POST("/backoffice/auth/login", sessionH.OperatorLogin)
		}

		// ── Pool (public) ──────────────────────────────────────────────────────
		api.GET("/pool", vaultH.GetPoolStats)

		// ── Authenticated routes ──────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW)
		{
			authed.GET("/balance", vaultH.GetBalance)
			authed.POST("/deposit", vaultH.Deposit)

			withdraw := authed.Group("/withdraw")
			{
				withdraw.POST("", vaultH.Withdraw)
				withdraw.POST("/all", vaultH.WithdrawAll)
				withdraw.POST("/retry", vaultH.RetryWithdrawal)
				withdraw.POST("/abandon", vaultH.AbandonWithdrawal)
				withdraw.GET("/status", vaultH.GetWithdrawStatus)
			}

			play := authed.Group("/play")
			play.Use(playRL)
			{
				play.POST("/:game", vaultH.Play)
			}

			liquidity := authed.Group("/liquidity")
			{
				liquidity.POST("/deposit", vaultH.DepositLiquidity)
				liquidity.POST("/withdraw", vaultH.WithdrawAllLiquidity)
				liquidity.GET("/position", vaultH.GetPosition)
			}
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// In DEBUG mode all origins are allowed; in production only configured origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			// Development: allow any origin
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			// Production: allow only evetabi.com (and www.)
			allowed := map[string]bool{
				"https://evetabi.com":     true,
				"https://www.evetabi.com": true,
			}
			if allowed[origin] {
				c.Header("Access-Control-Allow-Origin", origin)
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
