// Package routing resolves model roles to concrete provider/model
// bindings. Roles let the engine run cheap and expensive models side by
// side: a lead model opens the session, a worker carries the bulk of the
// turns, and a planner serves out-of-band planning requests.
package routing

import (
	"fmt"

	"github.com/nickmurray47/goose/pkg/models"
)

// Config pins roles to bindings.
type Config struct {
	// Bindings maps roles to provider/model pairs. Only main is
	// mandatory.
	Bindings map[models.ModelRole]models.RoleBinding

	// LeadTurns is how many initial turns the lead binding serves
	// before the worker takes over. 0 disables the lead phase.
	// Default: 3
	LeadTurns int
}

// Router is immutable after construction and safe for concurrent use.
type Router struct {
	bindings  map[models.ModelRole]models.RoleBinding
	leadTurns int
}

// NewRouter validates the configuration and builds a router. A main
// binding is required; every other role can fall back to it.
func NewRouter(cfg Config) (*Router, error) {
	main, ok := cfg.Bindings[models.ModelRoleMain]
	if !ok || main.Provider == "" || main.Model == "" {
		return nil, fmt.Errorf("routing: a main binding with provider and model is required")
	}
	bindings := make(map[models.ModelRole]models.RoleBinding, len(cfg.Bindings))
	for role, b := range cfg.Bindings {
		bindings[role] = b
	}
	leadTurns := cfg.LeadTurns
	if leadTurns < 0 {
		leadTurns = 0
	}
	return &Router{bindings: bindings, leadTurns: leadTurns}, nil
}

// Resolve returns the binding for a role. Worker and planner fall back
// to the main binding when unbound; a lead binding missing its provider
// borrows the main provider.
func (r *Router) Resolve(role models.ModelRole) (models.RoleBinding, error) {
	main := r.bindings[models.ModelRoleMain]

	b, ok := r.bindings[role]
	if !ok {
		switch role {
		case models.ModelRoleMain, models.ModelRoleWorker, models.ModelRolePlanner, models.ModelRoleLead:
			return main, nil
		default:
			return models.RoleBinding{}, fmt.Errorf("routing: unknown role %q", role)
		}
	}

	if b.Provider == "" {
		b.Provider = main.Provider
	}
	if b.Model == "" {
		return models.RoleBinding{}, fmt.Errorf("routing: role %q binding has no model", role)
	}
	return b, nil
}

// ForTurn picks the binding that drives the given 0-based turn: the lead
// binding for the first LeadTurns turns, the worker after.
func (r *Router) ForTurn(turnIndex int) (models.RoleBinding, models.ModelRole, error) {
	role := models.ModelRoleWorker
	if turnIndex < r.leadTurns {
		role = models.ModelRoleLead
	}
	b, err := r.Resolve(role)
	return b, role, err
}

// LeadTurns reports the configured lead phase length.
func (r *Router) LeadTurns() int {
	return r.leadTurns
}
