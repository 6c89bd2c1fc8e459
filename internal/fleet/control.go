package fleet

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sh00ty/fleet-upgrader/internal/models"
)

type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeRole   Scope = "role"
	ScopeHost   Scope = "host"
)

var ErrInvalidScope = errors.New("invalid scope")

func ParseScope(s string) (Scope, error) {
	switch scope := Scope(s); scope {
	case ScopeGlobal, ScopeRole, ScopeHost:
		return scope, nil
	}
	return "", fmt.Errorf("%w: %q, expected global, role or host", ErrInvalidScope, s)
}

func (r *Registry) controlKey(scope Scope, name string) (string, error) {
	if scope != ScopeGlobal && name == "" {
		return "", fmt.Errorf("%w: name must be passed if scope is not global", ErrInvalidScope)
	}
	switch scope {
	case ScopeGlobal:
		return r.keys.Global(), nil
	case ScopeRole:
		return r.keys.Role(models.Role(name)), nil
	case ScopeHost:
		return r.keys.Host(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScope, scope)
}

// SetControl writes an operator override, returns the written key.
func (r *Registry) SetControl(ctx context.Context, scope Scope, name, value string) (string, error) {
	key, err := r.controlKey(scope, name)
	if err != nil {
		return "", err
	}
	err = r.kv.Put(ctx, key, value)
	if err != nil {
		return "", fmt.Errorf("failed to set control %s: %w", key, err)
	}
	return key, nil
}

// DeleteControl removes an operator override, returns the deleted key.
func (r *Registry) DeleteControl(ctx context.Context, scope Scope, name string) (string, error) {
	key, err := r.controlKey(scope, name)
	if err != nil {
		return "", err
	}
	err = r.kv.Delete(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to delete control %s: %w", key, err)
	}
	return key, nil
}
