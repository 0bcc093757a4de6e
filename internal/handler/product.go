package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/marketplace-api/internal/authz"
	"github.com/iliyamo/marketplace-api/internal/clock"
	"github.com/iliyamo/marketplace-api/internal/model"
	"github.com/iliyamo/marketplace-api/internal/repository"
)

// ProductHandler exposes the product plumbing reviews and ratings rely on.
type ProductHandler struct {
	Products *repository.ProductRepo
	Clock    clock.Clock
}

func NewProductHandler(products *repository.ProductRepo, clk clock.Clock) *ProductHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &ProductHandler{Products: products, Clock: clk}
}

type createProductReq struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	PriceCents  uint32  `json:"price_cents"`
	Stock       uint32  `json:"stock"`
}

// Create adds a product owned by the calling seller (or admin).
func (h *ProductHandler) Create(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	var req createProductReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > model.MaxProductNameLen {
		return writeError(c, fmt.Errorf("%w: name must be 1-%d characters", model.ErrInvalidInput, model.MaxProductNameLen))
	}
	if req.Description != nil {
		d := strings.TrimSpace(*req.Description)
		if utf8.RuneCountInString(d) > model.MaxProductDescriptionLen {
			return writeError(c, fmt.Errorf("%w: description longer than %d characters", model.ErrInvalidInput, model.MaxProductDescriptionLen))
		}
		req.Description = &d
		if d == "" {
			req.Description = nil
		}
	}

	p := model.Product{
		SellerID:    me.ID,
		Name:        name,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Stock:       req.Stock,
		IsActive:    true,
		CreatedAt:   h.Clock.Now().UTC().Truncate(time.Second),
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	if err := h.Products.Create(ctx, &p); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// Get returns an active product.  Inactive products read as not found.
func (h *ProductHandler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	p, err := h.Products.GetByID(ctx, h.Products.DB, id)
	if err != nil {
		return writeError(c, err)
	}
	if !p.IsActive {
		return writeError(c, model.ErrNotFound)
	}
	return c.JSON(http.StatusOK, p)
}

// Deactivate soft-deletes a product.  Its seller or an admin may do so.
// Reviews of a deactivated product can no longer be written.
func (h *ProductHandler) Deactivate(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	p, err := h.Products.GetByID(ctx, h.Products.DB, id)
	if err != nil {
		return writeError(c, err)
	}
	if !authz.CanActOn(me, p.SellerID) {
		return writeError(c, model.ErrForbidden)
	}
	if err := h.Products.Deactivate(ctx, id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
