package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/marketplace-api/internal/model"
)

// UserRepo persists identities in the users table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,username,email,password_hash,role,is_active,created_at,updated_at"

// NormalizeLogin lower-cases and trims a username or email so lookups and
// uniqueness are case-insensitive.
func NormalizeLogin(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Create inserts u and fills in its ID.  Username and email are stored
// normalized.  A taken username or email yields model.ErrConflict with the
// field named in the message.
func (r *UserRepo) Create(ctx context.Context, u *model.Identity) error {
	const op = "repository.UserRepo.Create"
	u.Username = NormalizeLogin(u.Username)
	u.Email = NormalizeLogin(u.Email)
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, role, is_active, created_at, updated_at) VALUES (?,?,?,?,?,?,?)",
		u.Username, u.Email, u.PasswordHash, u.Role, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			if f := duplicateField(err, "username", "email"); f != "" {
				return fmt.Errorf("%s: %w: %s already exists", op, model.ErrConflict, f)
			}
		}
		return wrap(op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrap(op, err)
	}
	u.ID = uint64(id)
	return nil
}

// Find fetches a user by id outside any transaction.
func (r *UserRepo) Find(ctx context.Context, id uint64) (model.Identity, error) {
	return r.GetByID(ctx, r.DB, id)
}

// GetByID fetches a user by id using q (the DB or a running transaction).
func (r *UserRepo) GetByID(ctx context.Context, q Querier, id uint64) (model.Identity, error) {
	const op = "repository.UserRepo.GetByID"
	u, err := scanUser(q.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
	return u, wrap(op, err)
}

// GetByLogin fetches a user whose username or email equals login
// (case-insensitive).
func (r *UserRepo) GetByLogin(ctx context.Context, login string) (model.Identity, error) {
	const op = "repository.UserRepo.GetByLogin"
	login = NormalizeLogin(login)
	column := "username"
	if strings.Contains(login, "@") {
		column = "email"
	}
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE "+column+"=? LIMIT 1", login))
	return u, wrap(op, err)
}

// SetActiveTx sets users.is_active for id inside tx.  A missing user
// yields model.ErrNotFound.
func (r *UserRepo) SetActiveTx(ctx context.Context, tx *sql.Tx, id uint64, active bool, now time.Time) error {
	const op = "repository.UserRepo.SetActiveTx"
	res, err := tx.ExecContext(ctx,
		"UPDATE users SET is_active=?, updated_at=? WHERE id=?", active, now, id)
	if err != nil {
		return wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	return nil
}

func scanUser(row *sql.Row) (model.Identity, error) {
	var u model.Identity
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.Identity{}, err
	}
	return u, err
}
