package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/devcrew/devcrew/internal/common/apperr"
	"github.com/devcrew/devcrew/internal/sandbox"
)

// handleFileTree returns the workspace tree.
// GET /api/files/:sessionId/tree?root=&depth=&include_hidden=
func (s *Server) handleFileTree(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if !s.requireSession(c, sessionID) {
		return
	}

	depth := sandbox.DefaultTreeDepth
	if raw := c.Query("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, s.log, apperr.New(apperr.KindBadRequest, "depth must be an integer"))
			return
		}
		depth = parsed
	}
	includeHidden := c.Query("include_hidden") == "true"

	tree, err := s.files.ListTree(c.Request.Context(),
		sessionID, currentProfile(c).ID, c.Query("root"), depth, includeHidden)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	if tree == nil {
		tree = []*sandbox.TreeNode{}
	}
	c.JSON(http.StatusOK, gin.H{"tree": tree})
}

// handleFileContent returns one file's content.
// GET /api/files/:sessionId?path=
func (s *Server) handleFileContent(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if !s.requireSession(c, sessionID) {
		return
	}

	path := c.Query("path")
	if path == "" {
		respondError(c, s.log, apperr.New(apperr.KindBadRequest, "path is required"))
		return
	}

	info, err := s.files.ReadFile(c.Request.Context(), sessionID, currentProfile(c).ID, path)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
