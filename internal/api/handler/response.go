package handler

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// e8sDivisor is the fixed-point scale of every amount the vault core
// tracks in uint64/big.Int e8s (spec.md §2 glossary).
var e8sDivisor = decimal.NewFromInt(100_000_000)

// e8sToDisplay converts a raw e8s amount into a human-readable decimal, the
// same display-facing conversion the teacher performs at its API boundary
// with shopspring/decimal rather than doing float math on money.
func e8sToDisplay(amount uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(amount)).DivRound(e8sDivisor, 8)
}

// bigE8sToDisplay is e8sToDisplay for the pool reserve, which is tracked as
// an unbounded math/big.Int rather than uint64 (spec.md §3).
func bigE8sToDisplay(amount *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(amount, 0).DivRound(e8sDivisor, 8)
}

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items interface{}, total, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}

func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return
}
