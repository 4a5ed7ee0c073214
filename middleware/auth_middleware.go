package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"maison/api/models"
	"maison/api/utils"

	"github.com/gin-gonic/gin"
)

// Context keys set by AuthRequired.
const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
	ContextUserRole  = "user_role"
)

// AuthConfig holds the dashboard credentials. With both fields empty the
// dashboard is open and AuthRequired lets every request through.
type AuthConfig struct {
	JWTSecret []byte
	APIKey    string
}

func (a AuthConfig) Enabled() bool {
	return len(a.JWTSecret) > 0 || a.APIKey != ""
}

// AuthRequired accepts an X-API-KEY header matching the configured key, or a
// session JWT from the jwt_token cookie or an Authorization: Bearer header.
func AuthRequired(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled() {
			c.Next()
			return
		}

		if key := c.GetHeader("X-API-KEY"); cfg.APIKey != "" && key != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.APIKey)) == 1 {
				c.Set(ContextUserRole, models.RoleAdmin)
				c.Next()
				return
			}
			log.Println("AuthRequired: invalid API key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API key"})
			return
		}

		tokenString, err := c.Cookie("jwt_token")
		if err != nil || tokenString == "" {
			tokenString = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}
		if len(cfg.JWTSecret) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Token login is disabled"})
			return
		}

		claims, err := utils.ValidateJWT(tokenString, cfg.JWTSecret)
		if err != nil {
			log.Printf("AuthRequired: Invalid JWT token: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserEmail, claims.Email)
		c.Set(ContextUserRole, claims.Role)
		c.Next()
	}
}

// RequireRole rejects authenticated callers without role. It is a no-op
// when auth is disabled.
func RequireRole(cfg AuthConfig, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled() || c.GetString(ContextUserRole) == role {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden: insufficient role"})
	}
}
