package handlers

import (
	"net/http"

	"waste-ops-service/middleware"
	"waste-ops-service/models"

	"github.com/gin-gonic/gin"
)

// UpdateUserRequest is the profile upsert payload. Referral is honored only
// on first creation.
type UpdateUserRequest struct {
	Name     string      `json:"name" binding:"required"`
	Role     models.Role `json:"role"`
	Referral string      `json:"referral,omitempty"`
}

// UpdateUser creates or updates the authenticated user's profile.
func (h *Handlers) UpdateUser(c *gin.Context) {
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	role := req.Role
	if role == "" {
		role = models.RoleCitizen
	}
	u := &models.User{
		ID:       middleware.CallerID(c),
		Name:     req.Name,
		Role:     role,
		Referral: req.Referral,
	}
	if err := h.db.CreateOrUpdateUser(c.Request.Context(), u); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": u.ID})
}

// GetProfile returns the caller's profile with badges and achievements.
func (h *Handlers) GetProfile(c *gin.Context) {
	user, err := h.db.GetUser(c.Request.Context(), middleware.CallerID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// GetUser returns any user's profile. Admin surface.
func (h *Handlers) GetUser(c *gin.Context) {
	user, err := h.db.GetUser(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// ReferralRequest registers a referral code owned by the caller.
type ReferralRequest struct {
	RefCode string `json:"ref_code" binding:"required"`
}

// RegisterReferral claims a referral code for the authenticated user. New
// signups citing the code credit this user with the referral bonus.
func (h *Handlers) RegisterReferral(c *gin.Context) {
	var req ReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.db.WriteReferral(c.Request.Context(), req.RefCode, middleware.CallerID(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ref_code": req.RefCode})
}

// LocationPing is an agent position update.
type LocationPing struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// UpdateLocation records the authenticated agent's position for proximity
// assignment.
func (h *Handlers) UpdateLocation(c *gin.Context) {
	var req LocationPing
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := models.ValidateCoordinates(req.Longitude, req.Latitude); err != nil {
		respondErr(c, err)
		return
	}
	err := h.db.UpdateAgentLocation(c.Request.Context(), middleware.CallerID(c), req.Longitude, req.Latitude)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}
