package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/marketplace-api/internal/model"
)

// ReviewRepo provides access to the reviews table.  Writes happen inside
// the caller's transaction so the rating recompute that follows sees them.
type ReviewRepo struct{ DB *sql.DB }

func NewReviewRepo(db *sql.DB) *ReviewRepo { return &ReviewRepo{DB: db} }

const reviewColumns = "id,user_id,product_id,grade,comment,is_active,created_at"

// HasActiveTx reports whether userID already holds an active review for
// productID.
func (r *ReviewRepo) HasActiveTx(ctx context.Context, tx *sql.Tx, userID, productID uint64) (bool, error) {
	const op = "repository.ReviewRepo.HasActiveTx"
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reviews WHERE user_id=? AND product_id=? AND is_active=TRUE",
		userID, productID).Scan(&n)
	if err != nil {
		return false, wrap(op, err)
	}
	return n > 0, nil
}

// CreateTx inserts rv inside tx and fills in its ID.  The unique index on
// active (user, product) pairs turns a racing duplicate into
// model.ErrConflict.
func (r *ReviewRepo) CreateTx(ctx context.Context, tx *sql.Tx, rv *model.Review) error {
	const op = "repository.ReviewRepo.CreateTx"
	res, err := tx.ExecContext(ctx,
		"INSERT INTO reviews (user_id, product_id, grade, comment, is_active, created_at) VALUES (?,?,?,?,?,?)",
		rv.UserID, rv.ProductID, rv.Grade, rv.Comment, rv.IsActive, rv.CreatedAt)
	if err != nil {
		return wrap(op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrap(op, err)
	}
	rv.ID = uint64(id)
	return nil
}

// GetByID fetches a review by id.
func (r *ReviewRepo) GetByID(ctx context.Context, q Querier, id uint64) (model.Review, error) {
	const op = "repository.ReviewRepo.GetByID"
	rv, err := scanReview(q.QueryRowContext(ctx, "SELECT "+reviewColumns+" FROM reviews WHERE id=? LIMIT 1", id))
	if err != nil {
		return model.Review{}, wrap(op, err)
	}
	return rv, nil
}

// UpdateTx rewrites the grade and comment of review id.
func (r *ReviewRepo) UpdateTx(ctx context.Context, tx *sql.Tx, id uint64, grade int, comment *string) error {
	const op = "repository.ReviewRepo.UpdateTx"
	return oneRow(op)(tx.ExecContext(ctx, "UPDATE reviews SET grade=?, comment=? WHERE id=?", grade, comment, id))
}

// DeactivateTx clears is_active on review id.
func (r *ReviewRepo) DeactivateTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	const op = "repository.ReviewRepo.DeactivateTx"
	return oneRow(op)(tx.ExecContext(ctx, "UPDATE reviews SET is_active=FALSE WHERE id=?", id))
}

// ListActive returns active reviews, optionally limited to one product,
// ordered by id.
func (r *ReviewRepo) ListActive(ctx context.Context, productID uint64, offset, limit int) ([]model.Review, error) {
	const op = "repository.ReviewRepo.ListActive"
	query := "SELECT " + reviewColumns + " FROM reviews WHERE is_active=TRUE"
	args := []any{}
	if productID != 0 {
		query += " AND product_id=?"
		args = append(args, productID)
	}
	query += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()
	out := []model.Review{}
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(s rowScanner) (model.Review, error) {
	var (
		rv      model.Review
		comment sql.NullString
	)
	if err := s.Scan(&rv.ID, &rv.UserID, &rv.ProductID, &rv.Grade, &comment, &rv.IsActive, &rv.CreatedAt); err != nil {
		return model.Review{}, err
	}
	if comment.Valid {
		c := comment.String
		rv.Comment = &c
	}
	return rv, nil
}

// oneRow is affected() for updates that must touch exactly one row.
func oneRow(op string) func(sql.Result, error) error {
	return func(res sql.Result, err error) error {
		n, err := affected(op)(res, err)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%s: %w", op, model.ErrNotFound)
		}
		return nil
	}
}
