package handlers

import (
	"net/http"

	"adeguard/middleware"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Login exchanges credentials for a token pair.
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusUnprocessableEntity, CodeValidationFailed, "username and password are required")
		return
	}

	pair, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, http.StatusUnauthorized, CodeUnauthorized, err.Error())
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Logout revokes the caller's access token.
func (h *Handlers) Logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), c.GetString(middleware.ContextToken)); err != nil {
		writeError(c, http.StatusUnauthorized, CodeUnauthorized, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out"})
}

// Me returns the authenticated user.
func (h *Handlers) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"user_id": c.GetString(middleware.ContextUserID),
		"role":    c.GetString(middleware.ContextRole),
	})
}

// Refresh exchanges a refresh token for a new token pair.
func (h *Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusUnprocessableEntity, CodeValidationFailed, "refresh_token is required")
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, http.StatusUnauthorized, CodeUnauthorized, err.Error())
		return
	}
	c.JSON(http.StatusOK, pair)
}
