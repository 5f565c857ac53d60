package middleware

import (
	"net/http"
	"os"
	"strings"

	"backend/internal/core/domain"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextUserKey is where the authenticated user context lives on the gin
// context.
const ContextUserKey = "user_context"

func GetJWTSecret() []byte {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		if os.Getenv("GIN_MODE") == "release" {
			panic("FATAL: JWT_SECRET environment variable is required in production mode")
		}
		secret = "default_super_secret_key" // Development fallback only — DO NOT use in production
	}
	return []byte(secret)
}

// SetTokenCookie sets the access token as an HttpOnly cookie
func SetTokenCookie(c *gin.Context, accessToken string) {
	// Production (cross-origin): SameSiteNoneMode + Secure=true
	// Development (same-site):   SameSiteLaxMode  + Secure=false
	sameSite := http.SameSiteLaxMode
	secure := false
	if os.Getenv("GIN_MODE") == "release" || os.Getenv("RENDER") != "" {
		sameSite = http.SameSiteNoneMode
		secure = true
	}

	c.SetSameSite(sameSite)
	c.SetCookie("access_token", accessToken, 3600*24, "/", "", secure, true)
}

// ClearTokenCookie removes the access token cookie
func ClearTokenCookie(c *gin.Context) {
	sameSite := http.SameSiteLaxMode
	secure := false
	if os.Getenv("GIN_MODE") == "release" || os.Getenv("RENDER") != "" {
		sameSite = http.SameSiteNoneMode
		secure = true
	}

	c.SetSameSite(sameSite)
	c.SetCookie("access_token", "", -1, "/", "", secure, true)
}

// extractToken reads the access token from the cookie first, falling back to
// the Authorization header.
func extractToken(c *gin.Context) (string, string) {
	tokenString, cookieErr := c.Cookie("access_token")
	if cookieErr == nil && tokenString != "" {
		return tokenString, ""
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "Authorization is missing"
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", "Invalid authorization format. Expected 'Bearer <token>'"
	}
	return parts[1], ""
}

// Authenticate validates the JWT and attaches the verified user context. The
// context built here is the only one the access layer trusts: a context
// assembled from request payloads never grants anything.
func Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, errMsg := extractToken(c)
		if errMsg != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, errMsg))
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return GetJWTSecret(), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token claims"))
			return
		}

		user := domain.NewUserContext(claims)
		if !user.Verified() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Token is missing required identity claims"))
			return
		}
		if !user.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Account is deactivated"))
			return
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// RequireRole restricts a route to the named roles. Runs after Authenticate.
func RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
			return
		}
		for _, role := range allowedRoles {
			if user.Role.Name == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient permissions"))
	}
}

// CurrentUser returns the authenticated user context, or nil outside an
// authenticated route.
func CurrentUser(c *gin.Context) *domain.UserContext {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*domain.UserContext)
	return user
}
