package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoovoice/internal/utils"
)

// RequireRole admits requests whose JWT app role is one of allowed. Roles
// compare case-insensitively.
func RequireRole(allowed ...string) gin.HandlerFunc {
	allow := map[string]bool{}
	for _, a := range allowed {
		if a = normRole(a); a != "" {
			allow[a] = true
		}
	}
	msg := "requires role " + strings.Join(allowed, " or ")

	return func(c *gin.Context) {
		if !allow[normRole(c.GetString("role"))] {
			c.AbortWithStatusJSON(http.StatusForbidden, apiError{
				Code:    utils.CodeForbidden,
				Message: msg,
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin guards the operator endpoints (live session counts).
func RequireAdmin() gin.HandlerFunc { return RequireRole("admin") }

func normRole(r string) string { return strings.ToLower(strings.TrimSpace(r)) }
