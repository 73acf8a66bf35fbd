package handlers

import (
	"net/http"
	"strconv"
	"time"

	"waste-ops-service/middleware"
	"waste-ops-service/models"

	"github.com/gin-gonic/gin"
)

// DailyLogin records the authenticated user's daily check-in and returns
// the streak outcome. Repeated calls on the same UTC day are no-ops.
func (h *Handlers) DailyLogin(c *gin.Context) {
	result, err := h.db.DailyLogin(c.Request.Context(), middleware.CallerID(c), time.Now())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RedeemRequest names a catalog item and its expected price. The price
// guards against redeeming under a stale catalog view, and the request id
// keys the redemption so a client retry cannot charge twice.
type RedeemRequest struct {
	ItemID    string `json:"item_id" binding:"required"`
	Points    int    `json:"points" binding:"required"`
	RequestID string `json:"request_id" binding:"required"`
}

// RedeemReward exchanges points for a catalog item.
func (h *Handlers) RedeemReward(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	balance, err := h.db.RedeemReward(c.Request.Context(), middleware.CallerID(c), req.ItemID, req.Points, req.RequestID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": req.ItemID, "balance": balance})
}

// GetRewardCatalog returns the static redeemable catalog.
func (h *Handlers) GetRewardCatalog(c *gin.Context) {
	items := make([]models.CatalogItem, 0, len(models.RewardCatalog))
	for _, item := range models.RewardCatalog {
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GetLedger returns the authenticated user's reward history, newest first.
func (h *Handlers) GetLedger(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.db.GetLedger(c.Request.Context(), middleware.CallerID(c), limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// GetLeaderboard returns the top point holders plus the caller's own place.
func (h *Handlers) GetLeaderboard(c *gin.Context) {
	top, _ := strconv.Atoi(c.DefaultQuery("top", "10"))
	records, err := h.db.GetLeaderboard(c.Request.Context(), middleware.CallerID(c), top)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// AdjustmentRequest is a signed admin point correction.
type AdjustmentRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	Points    int    `json:"points" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
	RequestID string `json:"request_id" binding:"required"`
}

// AdminAdjustment credits or debits a user outside the normal flows.
func (h *Handlers) AdminAdjustment(c *gin.Context) {
	var req AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	balance, err := h.db.AdminAdjustment(c.Request.Context(), middleware.CallerID(c), req.UserID, req.Points, req.Reason, req.RequestID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": req.UserID, "balance": balance})
}

// ReconcilePoints rebuilds a user's cached balance from the ledger.
func (h *Handlers) ReconcilePoints(c *gin.Context) {
	userID := c.Param("user_id")
	balance, err := h.db.ReconcileUserPoints(c.Request.Context(), userID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "balance": balance})
}

// InvalidateLedgerEntry voids one ledger entry and reconciles the balance.
func (h *Handlers) InvalidateLedgerEntry(c *gin.Context) {
	entryID := c.Param("entry_id")
	if err := h.db.InvalidateLedgerEntry(c.Request.Context(), entryID, middleware.CallerID(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry_id": entryID, "is_valid": false})
}
