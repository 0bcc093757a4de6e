package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/marketplace-api/internal/model"
	"github.com/iliyamo/marketplace-api/internal/review"
)

// maxPageLimit is the largest page the review listing returns.
const maxPageLimit = 100

// ReviewHandler serves review writes and the public review listing.
type ReviewHandler struct {
	Reviews *review.Service
}

func NewReviewHandler(s *review.Service) *ReviewHandler { return &ReviewHandler{Reviews: s} }

type createReviewReq struct {
	ProductID uint64  `json:"product_id"`
	Grade     int     `json:"grade"`
	Comment   *string `json:"comment"`
}

type updateReviewReq struct {
	Grade   *int    `json:"grade"`
	Comment *string `json:"comment"`
}

type reviewResp struct {
	Review        model.Review `json:"review"`
	ProductRating *float64     `json:"product_rating,omitempty"`
	Warning       string       `json:"warning,omitempty"`
}

// respond renders a review write.  A write that committed without a
// rating recompute is still a success for the client, with a warning.
func respond(c echo.Context, status int, res review.Result, err error) error {
	if errors.Is(err, model.ErrDomainInvariant) && res.Review.ID != 0 {
		return c.JSON(status, reviewResp{Review: res.Review, Warning: "product rating not updated"})
	}
	if err != nil {
		return writeError(c, err)
	}
	r := res.Rating
	return c.JSON(status, reviewResp{Review: res.Review, ProductRating: &r})
}

// Create posts a review by the authenticated buyer.
func (h *ReviewHandler) Create(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	var req createReviewReq
	if err := c.Bind(&req); err != nil || req.ProductID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "product_id and grade required"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	res, err := h.Reviews.Create(ctx, me, review.CreateInput{ProductID: req.ProductID, Grade: req.Grade, Comment: req.Comment})
	return respond(c, http.StatusCreated, res, err)
}

// Update edits grade and/or comment of the caller's review.
func (h *ReviewHandler) Update(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	var req updateReviewReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Grade == nil && req.Comment == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "nothing to update"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	res, err := h.Reviews.Update(ctx, me, id, review.UpdateInput{Grade: req.Grade, Comment: req.Comment})
	return respond(c, http.StatusOK, res, err)
}

// Deactivate soft-deletes a review (author or admin).
func (h *ReviewHandler) Deactivate(c echo.Context) error {
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
	res, err := h.Reviews.Deactivate(ctx, me, id)
	return respond(c, http.StatusOK, res, err)
}

// List returns active reviews, optionally filtered by ?product_id=.
func (h *ReviewHandler) List(c echo.Context) error {
	productID, err := queryInt(c, "product_id", 0)
	if err != nil {
		return writeError(c, err)
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return writeError(c, err)
	}
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		return writeError(c, err)
	}
	if limit < 1 || limit > maxPageLimit {
		return writeError(c, fmt.Errorf("%w: limit must be between 1 and %d", model.ErrInvalidInput, maxPageLimit))
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	items, err := h.Reviews.List(ctx, uint64(productID), offset, limit)
	if err != nil {
		return writeError(c, err)
	}
	if items == nil {
		items = []model.Review{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "offset": offset, "limit": limit})
}
