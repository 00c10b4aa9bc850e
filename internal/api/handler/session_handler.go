package handler

import (
	"net/http"

	"github.com/evetabi/vault/internal/domain"
	"github.com/evetabi/vault/internal/service"
	"github.com/evetabi/vault/internal/vault"
	"github.com/gin-gonic/gin"
)

// SessionHandler issues the JWTs that gate the player-facing API. A caller's
// vault.Principal is assumed already authenticated upstream (spec.md treats
// the caller's Principal as a given, the same way an Internet Computer
// canister trusts msg.caller) — this endpoint only binds that Principal to
// a signed session token the rest of the API can cheaply verify.
type SessionHandler struct {
	authSvc *service.AuthService
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(authSvc *service.AuthService) *SessionHandler {
	return &SessionHandler{authSvc: authSvc}
}

// CreateSession godoc
// POST /api/session
// Body: {"principal":"xxxxx-xxxxx-..."}
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var body struct {
		Principal string `json:"principal" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	p := vault.Principal(body.Principal)
	if p.IsAnonymous() || p == "" {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_PRINCIPAL", "principal must not be anonymous or empty")
		return
	}

	pair, err := h.authSvc.IssuePrincipalSession(c.Request.Context(), p)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not issue session")
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

// Refresh godoc
// POST /api/auth/refresh
func (h *SessionHandler) Refresh(c *gin.Context) {
	var body struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	pair, err := h.authSvc.RefreshToken(body.RefreshToken)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "ERR_INVALID_TOKEN", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

// OperatorLogin godoc
// POST /api/backoffice/auth/login
func (h *SessionHandler) OperatorLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	pair, err := h.authSvc.LoginOperator(c.Request.Context(), body.Username, body.Password)
	if err != nil {
		if err == domain.ErrInvalidCredentials {
			respondError(c, http.StatusUnauthorized, "ERR_INVALID_CREDENTIALS", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "login failed")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}
