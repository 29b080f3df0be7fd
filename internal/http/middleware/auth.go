package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderActorID names the chat user the gateway acts for.
	HeaderActorID = "X-Actor-ID"

	ctxKeyActorID = "actorID"
)

// ActorID stashes the X-Actor-ID header in the context. Requests without it
// keep an empty actor; handlers decide whether that is acceptable.
func ActorID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(HeaderActorID)); id != "" {
			c.Set(ctxKeyActorID, id)
		}
		c.Next()
	}
}

// ActorFrom returns the acting user set by ActorID.
func ActorFrom(c *gin.Context) string {
	v, _ := c.Get(ctxKeyActorID)
	return asString(v)
}

// GatewayAuth requires "Authorization: Bearer <token>". An empty token
// disables the check.
func GatewayAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="gateway"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "missing or invalid gateway token",
			})
			return
		}
		c.Next()
	}
}
