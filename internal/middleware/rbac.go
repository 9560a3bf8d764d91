package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
)

// RequireRole allows the request through when the caller holds one of roles.
// It must run after RequireJWT or RequireWSAuth.
func RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}

		code := response.ErrForbidden
		if len(roles) == 1 && roles[0] == model.RoleStudent {
			code = response.ErrStudentAccessOnly
		} else if claims.Role == model.RoleStudent {
			code = response.ErrTeacherAccessOnly
		}
		response.AbortFail(c, http.StatusForbidden, code)
	}
}
