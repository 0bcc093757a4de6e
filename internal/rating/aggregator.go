// Package rating maintains products.rating, the mean grade of a product's
// active reviews (0 when it has none).  It is the only writer of that
// column.
package rating

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/marketplace-api/internal/model"
	"github.com/iliyamo/marketplace-api/internal/repository"
)

// recomputeSQL derives and writes the rating in one statement so no other
// writer can interleave between the read and the write.
const recomputeSQL = `UPDATE products
SET rating = (SELECT COALESCE(AVG(grade), 0) FROM reviews WHERE product_id = ? AND is_active = TRUE)
WHERE id = ? AND is_active = TRUE`

// Aggregator recomputes product ratings.
type Aggregator struct {
	db *sql.DB
}

func NewAggregator(db *sql.DB) *Aggregator { return &Aggregator{db: db} }

// Recompute rewrites the rating of productID inside tx and returns the new
// value.  It must run after the triggering review write in the same
// transaction.  A missing or inactive product yields
// model.ErrDomainInvariant; running it twice without a review change gives
// the same rating.
func (a *Aggregator) Recompute(ctx context.Context, tx *sql.Tx, productID uint64) (float64, error) {
	const op = "rating.Aggregator.Recompute"
	res, err := tx.ExecContext(ctx, recomputeSQL, productID, productID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, model.ErrStorageUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, model.ErrStorageUnavailable, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s: %w: product %d missing or inactive", op, model.ErrDomainInvariant, productID)
	}
	var r float64
	if err := tx.QueryRowContext(ctx, "SELECT rating FROM products WHERE id = ?", productID).Scan(&r); err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, model.ErrStorageUnavailable, err)
	}
	return r, nil
}

// RecomputeNow runs Recompute in its own transaction.
func (a *Aggregator) RecomputeNow(ctx context.Context, productID uint64) (float64, error) {
	var r float64
	err := repository.WithTx(ctx, a.db, func(tx *sql.Tx) error {
		var err error
		r, err = a.Recompute(ctx, tx, productID)
		return err
	})
	return r, err
}
