package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/apperr"
	"github.com/devcrew/devcrew/internal/common/logger"
)

// errorBody is the uniform error payload.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// respondError maps an error to its HTTP status and writes the payload.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		log.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.JSON(status, errorBody{
		Error:   string(apperr.KindOf(err)),
		Message: err.Error(),
	})
}
