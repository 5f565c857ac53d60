package core

import (
	"gorm.io/gorm"

	"backend/internal/core/domain"
)

// Environment binds a database handle to an acting user and an execution
// context. Every recordset operates through one; a request owns exactly one
// environment for its duration.
type Environment struct {
	db      *gorm.DB
	UserID  int64
	User    *domain.UserContext
	Context map[string]any
}

// NewEnvironment builds an environment for the acting user. user may be nil
// for system-level work (startup, schedulers); such an environment cannot
// resolve user-relative domain values.
func NewEnvironment(db *gorm.DB, userID int64, user *domain.UserContext) *Environment {
	return &Environment{db: db, UserID: userID, User: user, Context: map[string]any{}}
}

// DB exposes the environment's database handle.
func (e *Environment) DB() *gorm.DB { return e.db }

// Model returns an empty recordset bound to the named model.
func (e *Environment) Model(name string) (*Recordset, error) {
	m, ok := GetModel(name)
	if !ok {
		return nil, NewUserError("model %q is not registered", name)
	}
	return &Recordset{model: m, env: e}, nil
}

// WithContext returns a copy of the environment with one context key set.
// The database handle and acting user carry over.
func (e *Environment) WithContext(key string, value any) *Environment {
	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	return &Environment{db: e.db, UserID: e.UserID, User: e.User, Context: ctx}
}

// withDB rebinds the environment to a transaction handle.
func (e *Environment) withDB(db *gorm.DB) *Environment {
	return &Environment{db: db, UserID: e.UserID, User: e.User, Context: e.Context}
}

// UserRecord resolves the acting user's record through the registry.
func (e *Environment) UserRecord() (*Record, error) {
	if e.UserID == 0 {
		return nil, NewAuthenticationError("no acting user bound to environment")
	}
	rs, err := e.Model("user")
	if err != nil {
		return nil, err
	}
	users, err := rs.Browse(e.UserID)
	if err != nil {
		return nil, err
	}
	return users.EnsureOne()
}
