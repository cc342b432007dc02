package security

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blockvest/blockvest/internal/logging"
)

const (
	// AdminSecretHeader carries the shared admin secret.
	AdminSecretHeader = "X-Admin-Secret"
	// ActorHeader names the administrator performing the request.
	ActorHeader = "X-Actor-ID"
	// DefaultActor is recorded when no actor header is sent.
	DefaultActor = "admin"
)

// RequireAdmin checks the X-Admin-Secret header against secret and stores
// the acting administrator in the request context. An empty secret disables
// the check (demo mode); config validation refuses that in production.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret != "" {
			got := c.GetHeader(AdminSecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "forbidden",
					"message": "admin credentials required",
				})
				return
			}
		}

		actor := c.GetHeader(ActorHeader)
		if actor == "" {
			actor = DefaultActor
		}
		ctx := logging.WithActor(c.Request.Context(), actor)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
