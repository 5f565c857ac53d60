package domain

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RoleContext is the role slice of a user context.
type RoleContext struct {
	Name        string
	Permissions []string
}

// UserContext carries the identity facts that user-relative expression
// values ("user.id", "user.role.name", ...) resolve against. The provenance
// of those facts matters: a context built by NewUserContext from verified
// token claims is trusted, a zero-literal UserContext is not. The source
// marker is unexported on purpose so callers outside this package cannot
// forge a verified context.
type UserContext struct {
	ID          int64
	Email       string
	FullName    string
	Role        RoleContext
	Preferences map[string]any
	Active      bool

	source string
}

const sourceJWT = "jwt"

// NewUserContext builds a verified user context from decoded JWT claims.
// Expected claim fields follow the auth token layout: user_id, email,
// full_name, role, permissions, preferences, active.
func NewUserContext(claims jwt.MapClaims) *UserContext {
	ctx := &UserContext{Active: true, source: sourceJWT}
	if v, ok := claimFloat(claims, "user_id"); ok {
		ctx.ID = int64(v)
	}
	if v, ok := claims["email"].(string); ok {
		ctx.Email = v
	}
	if v, ok := claims["full_name"].(string); ok {
		ctx.FullName = v
	}
	if v, ok := claims["role"].(string); ok {
		ctx.Role.Name = v
	}
	if v, ok := claims["is_active"].(bool); ok {
		ctx.Active = v
	} else if v, ok := claims["active"].(bool); ok {
		ctx.Active = v
	}
	if perms, ok := claims["permissions"].([]any); ok {
		for _, p := range perms {
			if s, ok := p.(string); ok {
				ctx.Role.Permissions = append(ctx.Role.Permissions, s)
			}
		}
	}
	if prefs, ok := claims["preferences"].(map[string]any); ok {
		ctx.Preferences = prefs
	}
	return ctx
}

func claimFloat(claims jwt.MapClaims, key string) (float64, bool) {
	switch v := claims[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Verified reports whether this context came from token claims and carries
// the minimum identity facts needed to resolve user-relative values.
func (u *UserContext) Verified() bool {
	return u != nil && u.source == sourceJWT && u.ID != 0 && u.Email != "" && u.Role.Name != ""
}

// HasPermission reports whether the context's role carries the named
// permission.
func (u *UserContext) HasPermission(perm string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.Role.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Lookup resolves a dot path relative to the user ("id", "role.name",
// "preferences.region", ...). Unverified contexts resolve nothing, so
// expressions referencing user facts fail closed against forged contexts.
func (u *UserContext) Lookup(path string) (any, bool) {
	if !u.Verified() {
		return nil, false
	}
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "id":
		return u.ID, true
	case "email":
		return u.Email, true
	case "full_name":
		return u.FullName, true
	case "active":
		return u.Active, true
	case "role":
		if len(parts) == 1 {
			return u.Role.Name, true
		}
		switch parts[1] {
		case "name":
			return u.Role.Name, true
		case "permissions":
			out := make([]any, len(u.Role.Permissions))
			for i, p := range u.Role.Permissions {
				out[i] = p
			}
			return out, true
		}
	case "preferences":
		if len(parts) == 1 {
			return u.Preferences, true
		}
		cur := any(u.Preferences)
		for _, p := range parts[1:] {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = m[p]
			if !ok {
				return nil, false
			}
		}
		return cur, true
	}
	return nil, false
}
