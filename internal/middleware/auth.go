package middleware

import (
	"net/http"
	"strings"

	"famtool-server/internal/auth"
	"famtool-server/internal/rpc"

	"github.com/gin-gonic/gin"
)

const (
	userIDContextKey    = "userID"
	deviceKeyContextKey = "deviceKey"
)

func UserIDFromContext(c *gin.Context) (string, bool) {
	userID, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	value, ok := userID.(string)
	return value, ok && value != ""
}

// DeviceFromContext returns the account and device a device token speaks for.
func DeviceFromContext(c *gin.Context) (uid, deviceKey string, ok bool) {
	uid, ok = UserIDFromContext(c)
	if !ok {
		return "", "", false
	}
	deviceKey = c.GetString(deviceKeyContextKey)
	return uid, deviceKey, deviceKey != ""
}

func bearer(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": rpc.Errorf(rpc.Unauthenticated, "Invalid authentication token")})
}

// RequireAuth accepts account tokens and attaches the caller to the request
// context for the rpc layer.
func RequireAuth(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearer(c)
		if !ok {
			unauthorized(c)
			return
		}
		claims, err := auth.VerifyScoped(tok, auth.ScopeAccount, cfg)
		if err != nil {
			unauthorized(c)
			return
		}

		c.Set(userIDContextKey, claims.UserID)
		c.Request = c.Request.WithContext(rpc.WithCaller(c.Request.Context(), claims.UserID))
		c.Next()
	}
}

// RequireDevice accepts only device tokens issued at pairing.
func RequireDevice(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearer(c)
		if !ok {
			unauthorized(c)
			return
		}
		claims, err := auth.VerifyScoped(tok, auth.ScopeDevice, cfg)
		if err != nil {
			unauthorized(c)
			return
		}

		c.Set(userIDContextKey, claims.UserID)
		c.Set(deviceKeyContextKey, claims.DeviceKey)
		c.Next()
	}
}
