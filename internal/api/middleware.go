package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devcrew/devcrew/internal/auth"
)

const profileKey = "devcrew.profile"

// CORS allows browser clients from any origin; the MVP runs the
// frontend on a separate dev port.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequireAuth resolves the bearer token to a profile. WebSocket clients
// may pass the token as a query parameter instead.
func (s *Server) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if token := c.Query("token"); token != "" {
				header = "Bearer " + token
			}
		}

		profile, err := s.auth.FromAuthorization(header)
		if err != nil {
			respondError(c, s.log, err)
			c.Abort()
			return
		}
		c.Set(profileKey, profile)
		c.Next()
	}
}

// currentProfile returns the authenticated profile set by RequireAuth.
func currentProfile(c *gin.Context) *auth.Profile {
	if v, ok := c.Get(profileKey); ok {
		if p, ok := v.(*auth.Profile); ok {
			return p
		}
	}
	return &auth.Profile{}
}

// requireSession verifies the caller owns the session before touching
// its workspace or sandbox. Foreign and unknown sessions both 404.
// Writes the error response and returns false on failure.
func (s *Server) requireSession(c *gin.Context, sessionID string) bool {
	if _, err := s.repo.GetSession(c.Request.Context(), sessionID, currentProfile(c).ID); err != nil {
		respondError(c, s.log, err)
		return false
	}
	return true
}
