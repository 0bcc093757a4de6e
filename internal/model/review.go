package model

import "time"

// Grade bounds for reviews (inclusive).
const (
	MinGrade = 1
	MaxGrade = 5
)

// Review represents a row in the `reviews` table.  A user may hold at
// most one active review per product; deactivated reviews stay in the
// table but no longer count towards the product rating.
type Review struct {
	ID        uint64    `json:"id"`
	UserID    uint64    `json:"user_id"`
	ProductID uint64    `json:"product_id"`
	Grade     int       `json:"grade"`
	Comment   *string   `json:"comment,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidGrade reports whether g lies in the accepted grade range.
func ValidGrade(g int) bool { return g >= MinGrade && g <= MaxGrade }

// Column limits of products.name and products.description, in characters.
const (
	MaxProductNameLen        = 100
	MaxProductDescriptionLen = 500
)

// Product holds the subset of the `products` table the core works with.
// Rating is derived from active reviews and is only written by the
// rating aggregator.
type Product struct {
	ID          uint64    `json:"id"`
	SellerID    uint64    `json:"seller_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	PriceCents  uint32    `json:"price_cents"`
	Stock       uint32    `json:"stock"`
	Rating      float64   `json:"rating"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}
