package account

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/marketplace-api/internal/clock"
	"github.com/iliyamo/marketplace-api/internal/database/dbtest"
	"github.com/iliyamo/marketplace-api/internal/model"
	"github.com/iliyamo/marketplace-api/internal/security"
	"github.com/iliyamo/marketplace-api/internal/session"
)

func newService(t *testing.T, revokeOnDeactivate bool) (*Service, *session.Ledger) {
	t.Helper()
	db := dbtest.Open(t)
	clk := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	issuer, err := security.NewTokenIssuer(security.IssuerConfig{Secret: []byte(strings.Repeat("s", 32))}, clk)
	require.NoError(t, err)
	ledger, err := session.NewLedger(db, issuer, session.Config{AccessTTL: time.Minute, RefreshTTL: time.Hour}, session.WithClock(clk))
	require.NoError(t, err)
	svc := NewService(db, security.NewPasswordVault(bcrypt.MinCost), ledger, Options{Clock: clk, RevokeOnDeactivate: revokeOnDeactivate})
	return svc, ledger
}

func register(t *testing.T, svc *Service, username string) (model.Identity, session.Pair) {
	t.Helper()
	u, pair, err := svc.Register(context.Background(), RegisterInput{
		Username: username, Email: username + "@Example.com", Password: "correct horse",
	})
	require.NoError(t, err)
	return u, pair
}

func TestRegisterNormalizesAndDefaultsToBuyer(t *testing.T) {
	svc, _ := newService(t, true)
	u, pair := register(t, svc, "Alice")
	require.Equal(t, "alice", u.Username)
	require.Equal(t, "alice@example.com", u.Email)
	require.Equal(t, model.RoleBuyer, u.Role)
	require.True(t, u.IsActive)
	require.NotEmpty(t, pair.Access.Token)
	require.NotEmpty(t, pair.Refresh.Token)
	require.NotEqual(t, "correct horse", u.PasswordHash)
}

func TestRegisterConflictsCaseInsensitive(t *testing.T) {
	svc, _ := newService(t, true)
	register(t, svc, "alice")

	_, _, err := svc.Register(context.Background(), RegisterInput{Username: "ALICE", Email: "other@example.com", Password: "12345678"})
	require.ErrorIs(t, err, model.ErrConflict)
	require.Contains(t, err.Error(), "username")

	_, _, err = svc.Register(context.Background(), RegisterInput{Username: "bob", Email: "ALICE@example.com", Password: "12345678"})
	require.ErrorIs(t, err, model.ErrConflict)
	require.Contains(t, err.Error(), "email")
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newService(t, true)
	ctx := context.Background()
	cases := map[string]RegisterInput{
		"short password": {Username: "a", Email: "a@example.com", Password: "short"},
		"bad email":      {Username: "a", Email: "not-an-email", Password: "12345678"},
		"bad username":   {Username: "a b", Email: "a@example.com", Password: "12345678"},
		"bad role":       {Username: "a", Email: "a@example.com", Password: "12345678", Role: "owner"},
	}
	for name, in := range cases {
		_, _, err := svc.Register(ctx, in)
		require.ErrorIs(t, err, model.ErrInvalidInput, name)
	}
	_, _, err := svc.Register(ctx, RegisterInput{Username: "root", Email: "root@example.com", Password: "12345678", Role: "admin"})
	require.ErrorIs(t, err, model.ErrForbidden)
}

func TestLoginByUsernameOrEmail(t *testing.T) {
	svc, _ := newService(t, true)
	register(t, svc, "alice")
	ctx := context.Background()

	u, pair, err := svc.Login(ctx, "ALICE", "correct horse")
	require.NoError(t, err)
	require.Equal(t, "alice", u.Username)
	require.NotEmpty(t, pair.Refresh.Token)

	_, _, err = svc.Login(ctx, "alice@example.com", "correct horse")
	require.NoError(t, err)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, _ := newService(t, true)
	alice, _ := register(t, svc, "alice")
	register(t, svc, "carol")
	ctx := context.Background()
	_, err := svc.SetActive(ctx, alice.ID, false)
	require.NoError(t, err)

	_, _, wrongPassword := svc.Login(ctx, "carol", "wrong password")
	_, _, unknown := svc.Login(ctx, "nobody", "correct horse")
	_, _, inactive := svc.Login(ctx, "alice", "correct horse")

	for _, err := range []error{wrongPassword, unknown, inactive} {
		require.ErrorIs(t, err, model.ErrUnauthenticated)
		require.Equal(t, ErrInvalidCredentials, err)
	}
}

func TestSetActiveRevokesSessions(t *testing.T) {
	svc, ledger := newService(t, true)
	ctx := context.Background()
	u, pair := register(t, svc, "alice")

	got, err := svc.SetActive(ctx, u.ID, false)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	_, err = svc.SetActive(ctx, u.ID, true)
	require.NoError(t, err)
	_, err = ledger.Rotate(ctx, pair.Refresh.Token)
	require.ErrorIs(t, err, model.ErrUnauthenticated)
}

func TestSetActiveKeepsSessionsWhenConfigured(t *testing.T) {
	svc, ledger := newService(t, false)
	ctx := context.Background()
	u, pair := register(t, svc, "alice")

	_, err := svc.SetActive(ctx, u.ID, false)
	require.NoError(t, err)
	_, err = svc.SetActive(ctx, u.ID, true)
	require.NoError(t, err)

	_, err = ledger.Rotate(ctx, pair.Refresh.Token)
	require.NoError(t, err)
}

func TestSetActiveUnknownUser(t *testing.T) {
	svc, _ := newService(t, true)
	_, err := svc.SetActive(context.Background(), 999, false)
	require.ErrorIs(t, err, model.ErrNotFound)
}
