// README: Firebase ID-token auth; puts the caller's uid and role on the gin context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ridecore/internal/infra"
)

const (
	ctxUID  = "auth.uid"
	ctxRole = "auth.role"
)

// Caller roles.
const (
	RoleDriver = "driver"
	RoleRider  = "rider"
)

// Auth rejects requests without a valid bearer token. WebSocket upgrades may pass the
// token as ?token= since browsers cannot set headers on the handshake.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil || token == nil || token.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxUID, token.UID)
		c.Set(ctxRole, roleFromClaims(token.Claims))
		c.Next()
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		raw, found := strings.CutPrefix(h, "Bearer ")
		raw = strings.TrimSpace(raw)
		return raw, found && raw != ""
	}
	if websocket.IsWebSocketUpgrade(r) {
		raw := r.URL.Query().Get("token")
		return raw, raw != ""
	}
	return "", false
}

func roleFromClaims(claims map[string]interface{}) string {
	if v, ok := claims["role"].(string); ok && strings.EqualFold(v, RoleDriver) {
		return RoleDriver
	}
	return RoleRider
}

// RequireRole must run after Auth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerRole(c) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": role + " role required"})
			return
		}
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

// CallerRole is RoleDriver or RoleRider.
func CallerRole(c *gin.Context) string {
	if r := c.GetString(ctxRole); r != "" {
		return r
	}
	return RoleRider
}
