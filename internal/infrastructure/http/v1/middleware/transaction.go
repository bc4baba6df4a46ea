package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"labcontrol/internal/core/tx"
	"labcontrol/pkg/logger"
)

// Transaction middleware gives every request its own tx.Transaction.
// Services open scopes on it through the request context; the connection
// it borrows is returned when the request ends, rolling back anything a
// handler left uncommitted.
func Transaction(newTransaction func() *tx.Transaction) gin.HandlerFunc {
	return func(c *gin.Context) {
		t := newTransaction()
		ctx := tx.WithTransaction(c.Request.Context(), t)
		c.Request = c.Request.WithContext(ctx)

		defer func() {
			if err := t.Close(context.WithoutCancel(ctx)); err != nil {
				logger.Warn(ctx, "close request transaction", "tx_id", t.ID(), "error", err)
			}
		}()

		c.Next()
	}
}
