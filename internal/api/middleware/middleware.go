package middleware

import (
	"net/http"
	"strings"
	"time"

	"wa-bot-go/internal/logger"
	"wa-bot-go/internal/utils"

	"github.com/gin-gonic/gin"
)

// Context keys set by AuthMiddleware.
const (
	KeyStaffID = "staffID"
	KeyRole    = "role"
)

// CORSMiddleware configures CORS for specified domains
func CORSMiddleware(allowedDomains []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		for _, domain := range allowedDomains {
			if domain == "*" || origin == domain {
				allowed = true
				break
			}
		}

		// Allow requests with no origin (server-to-server, curl, etc.)
		if origin == "" {
			allowed = true
		}

		if !allowed {
			logger.Warn("CORS blocked", "origin", origin, "allowed", allowedDomains)
		} else if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
		}

		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, x-api-key, Origin, Referer, Authorization")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		// Handle preflight
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// APIKeyRequired requires a valid API key for the endpoint
func APIKeyRequired(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			// No API key configured, allow through
			c.Next()
			return
		}

		// Check header first, then query parameter
		reqAPIKey := c.GetHeader("x-api-key")
		if reqAPIKey == "" {
			reqAPIKey = c.Query("api_key")
		}

		if reqAPIKey != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}

		c.Next()
	}
}

// AuthMiddleware validates the staff JWT. With no secret configured every
// caller is treated as an administrator.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Set(KeyRole, utils.RoleAdmin)
			c.Next()
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			// browsers cannot set headers on WebSocket upgrades
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: missing token"})
			return
		}

		claims, err := utils.ValidateToken(token, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: invalid token"})
			return
		}

		c.Set(KeyStaffID, claims.StaffID)
		c.Set(KeyRole, claims.Role)
		c.Next()
	}
}

// RequireRole aborts unless AuthMiddleware stored one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if HasRole(c, roles...) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "Administrator role required"})
	}
}

func HasRole(c *gin.Context, roles ...string) bool {
	role := c.GetString(KeyRole)
	for _, r := range roles {
		if strings.EqualFold(role, r) {
			return true
		}
	}
	return false
}

// Logger writes one structured line per request.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		args := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"ip", c.ClientIP(),
			"latency", time.Since(start),
			"size", c.Writer.Size(),
		}
		switch {
		case status >= 500:
			logger.Error("HTTP request", args...)
		case status >= 400:
			logger.Warn("HTTP request", args...)
		default:
			logger.Debug("HTTP request", args...)
		}
	}
}

// Recovery turns panics into a 500 response.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("Panic recovered", "path", c.Request.URL.Path, "panic", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
	})
}
