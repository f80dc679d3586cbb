package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/budgets_backend/utils"
)

// RequestContextMiddleware attaches a correlation id and marks the
// context as user-initiated so mutations stamp the budget's updated_at.
func RequestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), cid)
		ctx = utils.SetHTTPRequestInContext(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
