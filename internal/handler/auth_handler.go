package handler

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"backend/internal/core"
	"backend/internal/middleware"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type AuthHandler struct {
	db *gorm.DB
}

// NewAuthHandler sets up the routing dependencies for auth endpoints
func NewAuthHandler(db *gorm.DB) *AuthHandler {
	return &AuthHandler{db: db}
}

// RegisterRoutes binds the endpoints to the gin Engine or RouterGroup
func (h *AuthHandler) RegisterRoutes(router *gin.RouterGroup) {
	auth := router.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.Logout)
		auth.GET("/me", middleware.Authenticate(), h.Me)
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates by email and password and returns a JWT carrying the
// full identity claim set the domain engine resolves user expressions from.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload"))
		return
	}

	env := core.NewEnvironment(h.db, 0, nil)
	users, err := env.Model("user")
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "User model not registered"))
		return
	}
	found, err := users.SearchDomain([]any{[]any{"email", "=", req.Email}}, &core.SearchOptions{Limit: 1})
	if err != nil {
		log.Println("login lookup failed:", err)
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Login failed"))
		return
	}
	if !found.Exists() {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid email or password"))
		return
	}
	user := found.Records()[0]

	hashed, _ := user.Get("hashed_password")
	hashedStr, _ := hashed.(string)
	if bcrypt.CompareHashAndPassword([]byte(hashedStr), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid email or password"))
		return
	}
	if !truthy(user, "is_active") {
		c.JSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Account is deactivated"))
		return
	}

	tokenString, claims, err := issueToken(user)
	if err != nil {
		log.Println("token issue failed:", err)
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to generate token"))
		return
	}

	// Recorded outside the audited write path: a login is not a data change.
	if err := h.db.Table("users").Where("id = ?", user.ID()).
		Update("last_login_at", time.Now().UTC()).Error; err != nil {
		log.Println("last_login_at update failed:", err)
	}

	middleware.SetTokenCookie(c, tokenString)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{
		"token": tokenString,
		"user": gin.H{
			"id":          user.ID(),
			"email":       claims["email"],
			"full_name":   claims["full_name"],
			"role":        claims["role"],
			"permissions": claims["permissions"],
			"preferences": claims["preferences"],
		},
	}))
}

// Logout clears the auth cookie
func (h *AuthHandler) Logout(c *gin.Context) {
	middleware.ClearTokenCookie(c)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Logged out"}))
}

// Me returns the acting user's own record
func (h *AuthHandler) Me(c *gin.Context) {
	user := middleware.CurrentUser(c)
	env := core.NewEnvironment(h.db, user.ID, user)
	rec, err := env.UserRecord()
	if err != nil {
		c.JSON(core.HTTPStatus(err), response.Error(core.HTTPStatus(err), err.Error()))
		return
	}
	dict, err := rec.ToDict(&core.DictOptions{User: user, Fields: []string{
		"full_name", "email", "is_active", "role_id", "image",
		"last_login_at", "show_notification_toasts", "theme",
	}})
	if err != nil {
		c.JSON(core.HTTPStatus(err), response.Error(core.HTTPStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, dict))
}

// issueToken signs an HS256 token with the identity claim layout the
// middleware rebuilds user contexts from.
func issueToken(user *core.Record) (string, jwt.MapClaims, error) {
	email, _ := stringField(user, "email")
	fullName, _ := stringField(user, "full_name")

	roleName := ""
	permissions := []string{}
	roleVal, err := user.Get("role_id")
	if err != nil {
		return "", nil, fmt.Errorf("resolve role: %w", err)
	}
	if role, ok := roleVal.(*core.Record); ok && role != nil {
		roleName, _ = stringField(role, "name")
		permissions = rolePermissionCodes(role)
	}

	theme, _ := stringField(user, "theme")
	preferences := map[string]any{
		"show_notification_toasts": truthy(user, "show_notification_toasts"),
		"theme":                    theme,
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":         email,
		"user_id":     user.ID(),
		"email":       email,
		"full_name":   fullName,
		"role":        roleName,
		"permissions": permissions,
		"preferences": preferences,
		"is_active":   true,
		"iat":         now.Unix(),
		"exp":         now.Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(middleware.GetJWTSecret())
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// rolePermissionCodes flattens the role's permission matrix to "model.action"
// codes for the token.
func rolePermissionCodes(role *core.Record) []string {
	raw, err := role.Get("permissions")
	if err != nil {
		return nil
	}
	text, _ := raw.(string)
	if text == "" {
		return nil
	}
	var matrix map[string]map[string]bool
	if err := json.Unmarshal([]byte(text), &matrix); err != nil {
		return nil
	}
	var codes []string
	for modelName, actions := range matrix {
		for action, allowed := range actions {
			if allowed {
				codes = append(codes, modelName+"."+action)
			}
		}
	}
	sort.Strings(codes)
	return codes
}

func stringField(rec *core.Record, field string) (string, bool) {
	v, err := rec.Get(field)
	if err != nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// truthy reads a boolean column tolerantly; sqlite hands booleans back as
// integers.
func truthy(rec *core.Record, field string) bool {
	v, err := rec.Get(field)
	if err != nil {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case int:
		return b != 0
	case float64:
		return b != 0
	}
	return false
}
