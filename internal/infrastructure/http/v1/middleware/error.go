package middleware

import (
	"github.com/gin-gonic/gin"

	"labcontrol/internal/core/apperror"
	appctx "labcontrol/internal/core/context"
	"labcontrol/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Transaction failures are translated by apperror.FromTx; internal causes
// are logged, never returned to the client.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		// If response already written by handler, do not override it.
		if c.Writer.Written() {
			return
		}

		appErr := apperror.FromTx(c.Errors.Last().Err)
		if appErr.Err != nil {
			logger.Error(c.Request.Context(), "request error",
				"code", appErr.Code,
				"status", appErr.HTTPStatus,
				"cause", appErr.Err,
			)
		}

		details := appErr.Details
		if appErr.HTTPStatus >= 500 {
			details = map[string]any{"request_id": appctx.GetRequestID(c.Request.Context())}
		}
		c.JSON(appErr.HTTPStatus, errorBody(appErr.Code, appErr.Message, details))
	}
}

func errorBody(code, message string, details map[string]any) gin.H {
	return gin.H{
		"code":    code,
		"message": message,
		"details": details,
	}
}
