package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/marketplace-api/internal/model"
)

// TokenRepo persists refresh tokens by digest (single 'token_hash' column).
// Only the session ledger writes through it.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// StoreRefresh inserts a refresh token digest row.  A digest collision is
// reported as model.ErrConflict so the caller can draw a new token.
func (r *TokenRepo) StoreRefresh(ctx context.Context, q Querier, userID uint64, tokenHash string, exp, now time.Time) error {
	const op = "repository.TokenRepo.StoreRefresh"
	_, err := q.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at) VALUES (?,?,?,?)",
		userID, tokenHash, exp, now)
	return wrap(op, err)
}

// FindByHash returns the token row for tokenHash regardless of expiry.
func (r *TokenRepo) FindByHash(ctx context.Context, q Querier, tokenHash string) (model.RefreshToken, error) {
	const op = "repository.TokenRepo.FindByHash"
	var t model.RefreshToken
	err := q.QueryRowContext(ctx,
		"SELECT id, user_id, token_hash, expires_at, created_at FROM refresh_tokens WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return model.RefreshToken{}, wrap(op, err)
	}
	return t, nil
}

// DeleteByHash removes the token with tokenHash and returns how many rows
// went away (0 or 1).  Rotation relies on this count to detect that a
// concurrent caller consumed the token first.
func (r *TokenRepo) DeleteByHash(ctx context.Context, q Querier, tokenHash string) (int64, error) {
	const op = "repository.TokenRepo.DeleteByHash"
	return affected(op)(q.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE token_hash=?", tokenHash))
}

// DeleteExpiredForUser purges userID's tokens that expired at or before now.
func (r *TokenRepo) DeleteExpiredForUser(ctx context.Context, q Querier, userID uint64, now time.Time) (int64, error) {
	const op = "repository.TokenRepo.DeleteExpiredForUser"
	return affected(op)(q.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE user_id=? AND expires_at<=?", userID, now))
}

// DeleteAllForUser removes every refresh token of userID (logout everywhere).
func (r *TokenRepo) DeleteAllForUser(ctx context.Context, q Querier, userID uint64) (int64, error) {
	const op = "repository.TokenRepo.DeleteAllForUser"
	return affected(op)(q.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE user_id=?", userID))
}

// DeleteExpired purges every token that expired at or before now.
func (r *TokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "repository.TokenRepo.DeleteExpired"
	return affected(op)(r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at<=?", now))
}

// affected adapts an Exec result into a row count with classified errors.
func affected(op string) func(sql.Result, error) (int64, error) {
	return func(res sql.Result, err error) (int64, error) {
		if err != nil {
			return 0, wrap(op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, wrap(op, err)
		}
		return n, nil
	}
}
