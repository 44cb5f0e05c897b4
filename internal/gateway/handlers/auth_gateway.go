package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"labstock-system/internal/utils"
)

type AuthHandler struct{}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

type tokenRequest struct {
	UserID   int64  `json:"user_id" binding:"required"`
	Username string `json:"username" binding:"required"`
}

// IssueToken exchanges an already-authenticated identity for a bearer token.
// User management itself lives outside this service.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	token, exp, err := utils.GenerateToken(req.UserID, req.Username, 12*time.Hour)
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	success(c, gin.H{
		"token":      token,
		"expires_at": exp,
	})
}
