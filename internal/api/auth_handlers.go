package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devcrew/devcrew/internal/common/apperr"
)

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin exchanges credentials for a token.
// POST /api/auth/login
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, apperr.Wrap(apperr.KindBadRequest, "invalid login payload", err))
		return
	}

	email := req.Email
	if email == "" {
		email = req.Username
	}

	token, err := s.auth.Login(email, req.Password)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, token)
}

// handleMe returns the authenticated profile.
// GET /api/auth/me
func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentProfile(c))
}
