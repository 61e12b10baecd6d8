package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sunbirdmfi/microfin_backend/config"
	"github.com/sunbirdmfi/microfin_backend/utils"
)

// SessionMiddleware resolves the caller's session token into an identity
// and attaches it to the request context. Requests without a token pass
// through anonymously; header-provided identity fields are attached either
// way so the audit columns get populated.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		token := c.Request.Header.Get("token")
		if token != "" {
			var username string
			exists, err := config.GetRedisObject("Token:"+token, &username)
			if err != nil || !exists {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
			ctx = utils.SetUsernameInContext(ctx, username)
		}

		if userId := c.Request.Header.Get("x-user-id"); userId != "" {
			ctx = utils.SetUserIdInContext(ctx, userId)
		}
		if username := c.Request.Header.Get("x-user-name"); username != "" {
			ctx = utils.SetUsernameInContext(ctx, username)
		}
		if email := c.Request.Header.Get("x-user-email"); email != "" {
			ctx = utils.SetUserEmailInContext(ctx, email)
		}
		if branchName := c.Request.Header.Get("x-branch-name"); branchName != "" {
			ctx = utils.SetBranchNameInContext(ctx, branchName)
		}
		if branchCode := c.Request.Header.Get("x-branch-code"); branchCode != "" {
			ctx = utils.SetBranchCodeInContext(ctx, branchCode)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
