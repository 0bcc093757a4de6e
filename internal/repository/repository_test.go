package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/marketplace-api/internal/database/dbtest"
	"github.com/iliyamo/marketplace-api/internal/model"
)

var now = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func TestUserCreateAndLookup(t *testing.T) {
	db := dbtest.Open(t)
	users := NewUserRepo(db)
	ctx := context.Background()

	u := model.Identity{Username: " Alice ", Email: "Alice@Example.com", PasswordHash: "h", Role: model.RoleSeller, IsActive: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, users.Create(ctx, &u))
	require.NotZero(t, u.ID)

	for _, login := range []string{"alice", "ALICE", "alice@example.com", " Alice@example.COM "} {
		got, err := users.GetByLogin(ctx, login)
		require.NoError(t, err, login)
		require.Equal(t, u.ID, got.ID)
		require.Equal(t, model.RoleSeller, got.Role)
	}

	_, err := users.GetByLogin(ctx, "nobody")
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = users.Find(ctx, 999)
	require.ErrorIs(t, err, model.ErrNotFound)

	dup := model.Identity{Username: "ALICE", Email: "x@example.com", PasswordHash: "h", Role: model.RoleBuyer, CreatedAt: now, UpdatedAt: now}
	err = users.Create(ctx, &dup)
	require.ErrorIs(t, err, model.ErrConflict)
	require.Contains(t, err.Error(), "username")

	dup = model.Identity{Username: "bob", Email: "ALICE@example.com", PasswordHash: "h", Role: model.RoleBuyer, CreatedAt: now, UpdatedAt: now}
	err = users.Create(ctx, &dup)
	require.ErrorIs(t, err, model.ErrConflict)
	require.Contains(t, err.Error(), "email")
}

func TestTokenRepoCounts(t *testing.T) {
	db := dbtest.Open(t)
	tokens := NewTokenRepo(db)
	ctx := context.Background()
	uid := dbtest.InsertUser(t, db, "alice", "buyer", true)

	require.NoError(t, tokens.StoreRefresh(ctx, db, uid, "live", now.Add(time.Hour), now))
	require.NoError(t, tokens.StoreRefresh(ctx, db, uid, "old", now.Add(-time.Minute), now.Add(-time.Hour)))
	require.ErrorIs(t, tokens.StoreRefresh(ctx, db, uid, "live", now.Add(time.Hour), now), model.ErrConflict)

	got, err := tokens.FindByHash(ctx, db, "old")
	require.NoError(t, err)
	require.Equal(t, uid, got.UserID)
	require.True(t, got.ExpiresAt.Equal(now.Add(-time.Minute)))

	n, err := tokens.DeleteExpiredForUser(ctx, db, uid, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = tokens.DeleteByHash(ctx, db, "live")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	n, err = tokens.DeleteByHash(ctx, db, "live")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	_, err = tokens.FindByHash(ctx, db, "live")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestWithTxRollsBack(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	uid := dbtest.InsertUser(t, db, "alice", "buyer", true)
	tokens := NewTokenRepo(db)
	boom := errors.New("boom")

	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		require.NoError(t, tokens.StoreRefresh(ctx, tx, uid, "a", now.Add(time.Hour), now))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, dbtest.Count(t, db, "refresh_tokens", ""))

	require.Panics(t, func() {
		_ = WithTx(ctx, db, func(tx *sql.Tx) error {
			require.NoError(t, tokens.StoreRefresh(ctx, tx, uid, "b", now.Add(time.Hour), now))
			panic("mid-transaction")
		})
	})
	require.Zero(t, dbtest.Count(t, db, "refresh_tokens", ""))

	cctx, cancel := context.WithCancel(ctx)
	err = WithTx(cctx, db, func(tx *sql.Tx) error {
		require.NoError(t, tokens.StoreRefresh(cctx, tx, uid, "c", now.Add(time.Hour), now))
		cancel()
		return nil
	})
	require.Error(t, err)
	require.Zero(t, dbtest.Count(t, db, "refresh_tokens", ""))
}

func TestCommitThenKeepsWrites(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	uid := dbtest.InsertUser(t, db, "alice", "buyer", true)
	tokens := NewTokenRepo(db)

	err := CommitThen(ctx, db, func(tx *sql.Tx) (bool, error) {
		require.NoError(t, tokens.StoreRefresh(ctx, tx, uid, "kept", now.Add(time.Hour), now))
		return true, model.ErrDomainInvariant
	})
	require.ErrorIs(t, err, model.ErrDomainInvariant)
	require.Equal(t, 1, dbtest.Count(t, db, "refresh_tokens", "token_hash=?", "kept"))

	err = CommitThen(ctx, db, func(tx *sql.Tx) (bool, error) {
		require.NoError(t, tokens.StoreRefresh(ctx, tx, uid, "dropped", now.Add(time.Hour), now))
		return false, model.ErrForbidden
	})
	require.ErrorIs(t, err, model.ErrForbidden)
	require.Zero(t, dbtest.Count(t, db, "refresh_tokens", "token_hash=?", "dropped"))
}

func TestProductRepo(t *testing.T) {
	db := dbtest.Open(t)
	products := NewProductRepo(db)
	ctx := context.Background()
	seller := dbtest.InsertUser(t, db, "sam", "seller", true)

	p := model.Product{SellerID: seller, Name: "Lamp", PriceCents: 999, Stock: 2, Rating: 3, IsActive: true, CreatedAt: now}
	require.NoError(t, products.Create(ctx, &p))
	got, err := products.GetByID(ctx, db, p.ID)
	require.NoError(t, err)
	require.Zero(t, got.Rating)
	require.Nil(t, got.Description)

	require.NoError(t, products.Deactivate(ctx, p.ID))
	require.ErrorIs(t, products.Deactivate(ctx, 999), model.ErrNotFound)
	err = WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := products.GetActiveTx(ctx, tx, p.ID)
		return err
	})
	require.ErrorIs(t, err, model.ErrNotFound)
}
