// Package authz resolves access tokens into identities and decides
// whether they may proceed.  The three checks compose as a chain:
// Authenticate, then RequireActive, then RequireRole.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/iliyamo/marketplace-api/internal/logger"
	"github.com/iliyamo/marketplace-api/internal/model"
)

// TokenVerifier turns an access token into a subject id.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (uint64, error)
}

// IdentityStore loads an identity by id.
type IdentityStore interface {
	Find(ctx context.Context, id uint64) (model.Identity, error)
}

// Gate is the authorization chain.
type Gate struct {
	tokens TokenVerifier
	users  IdentityStore
}

func NewGate(tokens TokenVerifier, users IdentityStore) *Gate {
	return &Gate{tokens: tokens, users: users}
}

// Authenticate verifies raw and loads its subject.  A valid token whose
// subject no longer exists is model.ErrUnauthenticated.
func (g *Gate) Authenticate(ctx context.Context, raw string) (model.Identity, error) {
	const op = "authz.Gate.Authenticate"
	if raw == "" {
		return model.Identity{}, fmt.Errorf("%s: %w", op, model.ErrUnauthenticated)
	}
	id, err := g.tokens.Verify(ctx, raw)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%s: %w", op, model.ErrUnauthenticated)
	}
	ident, err := g.users.Find(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		logger.From(ctx).Debug("access token subject not found", slog.Uint64("user_id", id))
		return model.Identity{}, fmt.Errorf("%s: %w", op, model.ErrUnauthenticated)
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	return ident, nil
}

// RequireActive denies deactivated identities.  Access tokens issued
// before deactivation stay structurally valid until they expire; this is
// the check that stops them.
func (g *Gate) RequireActive(ident model.Identity) (model.Identity, error) {
	if !ident.IsActive {
		return model.Identity{}, fmt.Errorf("authz.Gate.RequireActive: %w: account inactive", model.ErrForbidden)
	}
	return ident, nil
}

// RequireRole admits ident only when its role is in allowed.  An empty
// allowed set admits any valid role.  An identity whose role is outside
// the closed set is always denied.
func (g *Gate) RequireRole(ident model.Identity, allowed ...model.Role) (model.Identity, error) {
	const op = "authz.Gate.RequireRole"
	switch ident.Role {
	case model.RoleAdmin, model.RoleSeller, model.RoleBuyer:
	default:
		return model.Identity{}, fmt.Errorf("%s: %w: unknown role", op, model.ErrForbidden)
	}
	if len(allowed) == 0 {
		return ident, nil
	}
	for _, r := range allowed {
		if r == ident.Role {
			return ident, nil
		}
	}
	return model.Identity{}, fmt.Errorf("%s: %w: role %s not permitted", op, model.ErrForbidden, ident.Role)
}

// Check runs the whole chain, short-circuiting at the first failure.
func (g *Gate) Check(ctx context.Context, raw string, allowed ...model.Role) (model.Identity, error) {
	ident, err := g.Authenticate(ctx, raw)
	if err != nil {
		return model.Identity{}, err
	}
	if ident, err = g.RequireActive(ident); err != nil {
		return model.Identity{}, err
	}
	return g.RequireRole(ident, allowed...)
}

// CanActOn reports whether ident may modify a resource owned by ownerID:
// owners may, admins may act on anything.
func CanActOn(ident model.Identity, ownerID uint64) bool {
	switch ident.Role {
	case model.RoleAdmin:
		return true
	case model.RoleSeller, model.RoleBuyer:
		return ident.ID == ownerID
	}
	return false
}
