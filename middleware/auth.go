package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"waste-ops-service/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims keys set on the gin context by AuthMiddleware.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// AuthMiddleware validates JWT tokens for protected routes and exposes the
// caller's id and role to handlers.
func AuthMiddleware(jwtSecret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		tokenString := extractToken(authHeader)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			c.Abort()
			return
		}

		userID, role, err := validateToken(tokenString, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(ContextUserID, userID)
		c.Set(ContextRole, string(role))
		c.Next()
	}
}

// RequireRole gates a route group to the given roles. Must run after
// AuthMiddleware.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
		c.Abort()
	}
}

// RequireFieldWork gates a route group to roles that can take field work.
func RequireFieldWork() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CallerRole(c).CanFieldWork() {
			c.JSON(http.StatusForbidden, gin.H{"error": "field agent role required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// CallerID returns the authenticated user id set by AuthMiddleware.
func CallerID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// CallerRole returns the authenticated role set by AuthMiddleware.
func CallerRole(c *gin.Context) models.Role {
	return models.Role(c.GetString(ContextRole))
}

// extractToken extracts the token from the Authorization header.
func extractToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// validateToken validates a JWT token and returns the user id and role.
func validateToken(tokenString string, jwtSecret []byte) (string, models.Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errors.New("invalid token claims")
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return "", "", errors.New("missing user_id claim")
	}
	role, _ := claims["role"].(string)
	if role == "" {
		role = string(models.RoleCitizen)
	}
	return userID, models.Role(role), nil
}

// GenerateToken issues an access token for a user. Kept alongside the
// validator so the claim layout has a single owner.
func GenerateToken(userID string, role models.Role, jwtSecret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     now.Add(ttl).Unix(),
		"iat":     now.Unix(),
	})
	return token.SignedString(jwtSecret)
}

// CORSMiddleware handles CORS headers.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
