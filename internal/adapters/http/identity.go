package http

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/securecall/internal/domain"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderDeviceID = "X-Device-ID"

	sessionUser   = "user_id"
	sessionDevice = "device_id"
	identityKey   = "identity"
)

// IdentityMiddleware resolves the caller from the gateway headers and keeps
// it in the cookie session so browser websocket upgrades, which cannot set
// headers, are still attributed.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)

		user := c.GetHeader(HeaderUserID)
		device := c.GetHeader(HeaderDeviceID)
		fromHeader := user != ""
		if !fromHeader {
			user, _ = sess.Get(sessionUser).(string)
			device, _ = sess.Get(sessionDevice).(string)
		}

		id, err := domain.NewIdentity(user, device)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHENTICATED", "message": err.Error()})
			return
		}

		if fromHeader && (sess.Get(sessionUser) != string(id.User) || sess.Get(sessionDevice) != string(id.Device)) {
			sess.Set(sessionUser, string(id.User))
			sess.Set(sessionDevice, string(id.Device))
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("failed to save session")
			}
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identity(c *gin.Context) domain.Identity {
	id, _ := c.MustGet(identityKey).(domain.Identity)
	return id
}
