package core

import (
	"fmt"
	"log"
	"sync"

	"gorm.io/gorm"

	"backend/internal/core/domain"
)

// AdminRole is always authorized for everything.
const AdminRole = "admin"

// Context keys scoping the many2one relation-resolution read carve-out.
const (
	CtxMany2oneRelation = "is_many2one_relation"
	CtxParentModel      = "parent_model"
)

// accessCache memoizes per (role, model, action) decisions; permissions are
// static once models are registered.
var accessCache sync.Map

// CanAccess checks whether a user may perform an action (create/read/write/
// delete) on a model. A missing role entry means denial. Reading a related
// model purely to resolve a many2one reference from a readable parent is
// allowed when the context carries the relation-resolution flag; that is the
// only bypass besides the admin role.
func CanAccess(user *domain.UserContext, modelName, action string, context map[string]any) bool {
	if !user.Verified() {
		return false
	}
	if user.Role.Name == AdminRole {
		return true
	}
	if action == "read" && context != nil {
		if flag, _ := context[CtxMany2oneRelation].(bool); flag {
			parent, _ := context[CtxParentModel].(string)
			if parent != "" && parent != modelName && CanAccess(user, parent, "read", nil) {
				return true
			}
		}
	}

	key := user.Role.Name + "\x00" + modelName + "\x00" + action
	if cached, ok := accessCache.Load(key); ok {
		return cached.(bool)
	}
	allowed := roleAllows(user.Role.Name, modelName, action)
	accessCache.Store(key, allowed)
	return allowed
}

func roleAllows(role, modelName, action string) bool {
	m, ok := GetModel(modelName)
	if !ok {
		return false
	}
	perms, ok := m.RolePermission(role)
	if !ok {
		return false
	}
	switch action {
	case "create":
		return perms.Create
	case "read":
		return perms.Read
	case "write":
		return perms.Write
	case "delete":
		return perms.Delete
	}
	return false
}

// DomainFilter returns the row filter the user's role declares on a model,
// with user-relative references resolved to literals. A reference that
// cannot be resolved drops its criterion rather than passing through as a
// malformed raw value.
func DomainFilter(user *domain.UserContext, modelName string) (domain.AST, error) {
	if !user.Verified() || user.Role.Name == AdminRole {
		return domain.AST{}, nil
	}
	m, ok := GetModel(modelName)
	if !ok {
		return domain.AST{}, NewUserError("model %q is not registered", modelName)
	}
	perms, ok := m.RolePermission(user.Role.Name)
	if !ok || perms.Domain == "" {
		return domain.AST{}, nil
	}
	ast, err := domain.Parse(perms.Domain)
	if err != nil {
		return domain.AST{}, fmt.Errorf("policy domain for %s on %s: %w", user.Role.Name, modelName, err)
	}
	return resolveFilterContext(ast, user, modelName), nil
}

func resolveFilterContext(ast domain.AST, user *domain.UserContext, modelName string) domain.AST {
	var out domain.AST
	for _, g := range ast.Groups {
		var conds []domain.Condition
		for _, c := range g.Conditions {
			resolved, err := resolveValue(c.Value, user)
			if err != nil {
				log.Printf("policy: dropping criterion %s on %s: %v", c.Field, modelName, err)
				continue
			}
			conds = append(conds, domain.Condition{Field: c.Field, Operator: c.Operator, Value: resolved})
		}
		if len(conds) > 0 {
			out.Groups = append(out.Groups, domain.Group{Conditions: conds})
		}
	}
	if len(out.Groups) > 1 {
		n := len(out.Groups) - 1
		if n > len(ast.Operators) {
			n = len(ast.Operators)
		}
		out.Operators = ast.Operators[:n]
	}
	return out
}

// ApplyDomainFilter narrows a query to the rows the user's role may see.
func ApplyDomainFilter(q *gorm.DB, user *domain.UserContext, modelName string) (*gorm.DB, error) {
	ast, err := DomainFilter(user, modelName)
	if err != nil {
		return nil, err
	}
	if ast.Empty() {
		return q, nil
	}
	m, _ := GetModel(modelName)
	return ApplyDomainExpr(q, m, ast, user)
}

// resetAccessCache clears memoized decisions. Test use only.
func resetAccessCache() {
	accessCache.Range(func(k, _ any) bool {
		accessCache.Delete(k)
		return true
	})
}
