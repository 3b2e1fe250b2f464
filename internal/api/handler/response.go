package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tradesense/challenge/internal/api/apierr"
)

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

// respondDomainError renders err through apierr.  Anything unclassified is
// logged and reported as fallback so internals never leak.
func respondDomainError(c *gin.Context, err error, fallback string) {
	status, code, ok := apierr.Classify(err)
	if !ok {
		slog.Error("request failed", "path", c.FullPath(), "err", err)
		respondError(c, status, code, fallback)
		return
	}
	respondError(c, status, code, err.Error())
}

// respondList writes {"success": true, "data": items, "meta": {"total": n}}.
func respondList(c *gin.Context, items interface{}, total int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta":    gin.H{"total": total},
	})
}
