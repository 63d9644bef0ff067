package middleware

import (
	"promptmarket-rewards/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last accumulated handler error as a structured JSON body
// using the errutil status mapping.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil {
			return
		}

		if v, ok := err.Err.(errutil.BaseError); ok {
			c.JSON(v.Code.HTTPStatus(), v.JSON())
			return
		}

		c.JSON(errutil.StatusInternal.HTTPStatus(), gin.H{
			"error": gin.H{"code": errutil.StatusInternal, "message": "internal error"},
		})
	}
}
