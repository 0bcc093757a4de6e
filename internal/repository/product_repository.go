package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/marketplace-api/internal/model"
)

// ProductRepo provides the product operations the core needs: creation by
// a seller, lookup, and soft deactivation.  products.rating is
// deliberately absent from every write here; only the rating aggregator
// updates it.
type ProductRepo struct{ DB *sql.DB }

func NewProductRepo(db *sql.DB) *ProductRepo { return &ProductRepo{DB: db} }

const productColumns = "id,seller_id,name,description,price_cents,stock,rating,is_active,created_at"

// Create inserts p with a zero rating and fills in its ID.
func (r *ProductRepo) Create(ctx context.Context, p *model.Product) error {
	const op = "repository.ProductRepo.Create"
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO products (seller_id, name, description, price_cents, stock, rating, is_active, created_at) VALUES (?,?,?,?,?,0,?,?)",
		p.SellerID, p.Name, p.Description, p.PriceCents, p.Stock, p.IsActive, p.CreatedAt)
	if err != nil {
		return wrap(op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrap(op, err)
	}
	p.ID = uint64(id)
	p.Rating = 0
	return nil
}

// GetByID fetches a product by id whether or not it is active.
func (r *ProductRepo) GetByID(ctx context.Context, q Querier, id uint64) (model.Product, error) {
	const op = "repository.ProductRepo.GetByID"
	var (
		p    model.Product
		desc sql.NullString
	)
	err := q.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id=? LIMIT 1", id).
		Scan(&p.ID, &p.SellerID, &p.Name, &desc, &p.PriceCents, &p.Stock, &p.Rating, &p.IsActive, &p.CreatedAt)
	if err != nil {
		return model.Product{}, wrap(op, err)
	}
	if desc.Valid {
		d := desc.String
		p.Description = &d
	}
	return p, nil
}

// GetActiveTx fetches a product inside tx and reports model.ErrNotFound
// when it is missing or inactive.
func (r *ProductRepo) GetActiveTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Product, error) {
	const op = "repository.ProductRepo.GetActiveTx"
	p, err := r.GetByID(ctx, tx, id)
	if err != nil {
		return model.Product{}, err
	}
	if !p.IsActive {
		return model.Product{}, fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	return p, nil
}

// Deactivate clears products.is_active for id.
func (r *ProductRepo) Deactivate(ctx context.Context, id uint64) error {
	const op = "repository.ProductRepo.Deactivate"
	n, err := affected(op)(r.DB.ExecContext(ctx, "UPDATE products SET is_active=FALSE WHERE id=?", id))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	return nil
}
