// Package review implements review writes.  Every write recomputes the
// product rating inside the same transaction, after the review change, so
// the new grade is part of the mean.
package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/iliyamo/marketplace-api/internal/authz"
	"github.com/iliyamo/marketplace-api/internal/clock"
	"github.com/iliyamo/marketplace-api/internal/logger"
	"github.com/iliyamo/marketplace-api/internal/model"
	"github.com/iliyamo/marketplace-api/internal/queue"
	"github.com/iliyamo/marketplace-api/internal/rating"
	"github.com/iliyamo/marketplace-api/internal/repository"
)

const maxCommentLen = 500

// Triggers reported in rating.updated events.
const (
	TriggerCreated     = "created"
	TriggerUpdated     = "updated"
	TriggerDeactivated = "deactivated"
)

// Service handles review creation, editing and deactivation.
type Service struct {
	db       *sql.DB
	reviews  *repository.ReviewRepo
	products *repository.ProductRepo
	ratings  *rating.Aggregator
	events   queue.Publisher
	clock    clock.Clock
}

func NewService(db *sql.DB, ratings *rating.Aggregator, events queue.Publisher, clk clock.Clock) *Service {
	if events == nil {
		events = queue.Nop{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{
		db:       db,
		reviews:  repository.NewReviewRepo(db),
		products: repository.NewProductRepo(db),
		ratings:  ratings,
		events:   events,
		clock:    clk,
	}
}

// CreateInput is a new review by the authenticated buyer.
type CreateInput struct {
	ProductID uint64
	Grade     int
	Comment   *string
}

// Result is a committed review write.  It can come back together with
// model.ErrDomainInvariant: the review was saved but its product rating
// could not be recomputed.
type Result struct {
	Review model.Review
	Rating float64
}

// Create stores a review by author for an active product.  A second active
// review of the same product by the same author is model.ErrConflict.  If
// the rating recompute fails with model.ErrDomainInvariant the review is
// still committed and the error is returned alongside it.
func (s *Service) Create(ctx context.Context, author model.Identity, in CreateInput) (Result, error) {
	const op = "review.Service.Create"
	comment, err := validate(in.Grade, in.Comment)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}
	rv := model.Review{
		UserID:    author.ID,
		ProductID: in.ProductID,
		Grade:     in.Grade,
		Comment:   comment,
		IsActive:  true,
		CreatedAt: s.clock.Now().UTC().Truncate(time.Second),
	}

	var res Result
	err = repository.CommitThen(ctx, s.db, func(tx *sql.Tx) (bool, error) {
		if _, err := s.products.GetActiveTx(ctx, tx, in.ProductID); err != nil {
			return false, err
		}
		dup, err := s.reviews.HasActiveTx(ctx, tx, author.ID, in.ProductID)
		if err != nil {
			return false, err
		}
		if dup {
			return false, fmt.Errorf("%w: already reviewed this product", model.ErrConflict)
		}
		if err := s.reviews.CreateTx(ctx, tx, &rv); err != nil {
			return false, err
		}
		res.Review = rv
		return s.recompute(ctx, tx, in.ProductID, &res)
	})
	return s.finish(ctx, op, TriggerCreated, res, err)
}

// UpdateInput carries the editable fields; nil means unchanged.
type UpdateInput struct {
	Grade   *int
	Comment *string
}

// Update changes grade or comment of an active review.  Only its author
// may edit it.
func (s *Service) Update(ctx context.Context, caller model.Identity, reviewID uint64, in UpdateInput) (Result, error) {
	const op = "review.Service.Update"
	var res Result
	err := repository.CommitThen(ctx, s.db, func(tx *sql.Tx) (bool, error) {
		rv, err := s.activeReview(ctx, tx, reviewID)
		if err != nil {
			return false, err
		}
		if rv.UserID != caller.ID {
			return false, fmt.Errorf("%w: not the author", model.ErrForbidden)
		}
		grade, comment := rv.Grade, rv.Comment
		if in.Grade != nil {
			grade = *in.Grade
		}
		if in.Comment != nil {
			comment = in.Comment
		}
		if comment, err = validate(grade, comment); err != nil {
			return false, err
		}
		if err := s.reviews.UpdateTx(ctx, tx, rv.ID, grade, comment); err != nil {
			return false, err
		}
		rv.Grade, rv.Comment = grade, comment
		res.Review = rv
		return s.recompute(ctx, tx, rv.ProductID, &res)
	})
	return s.finish(ctx, op, TriggerUpdated, res, err)
}

// Deactivate soft-deletes a review.  Its author or an admin may do so.
func (s *Service) Deactivate(ctx context.Context, caller model.Identity, reviewID uint64) (Result, error) {
	const op = "review.Service.Deactivate"
	var res Result
	err := repository.CommitThen(ctx, s.db, func(tx *sql.Tx) (bool, error) {
		rv, err := s.activeReview(ctx, tx, reviewID)
		if err != nil {
			return false, err
		}
		if !authz.CanActOn(caller, rv.UserID) {
			return false, fmt.Errorf("%w: not the author", model.ErrForbidden)
		}
		if err := s.reviews.DeactivateTx(ctx, tx, rv.ID); err != nil {
			return false, err
		}
		rv.IsActive = false
		res.Review = rv
		return s.recompute(ctx, tx, rv.ProductID, &res)
	})
	return s.finish(ctx, op, TriggerDeactivated, res, err)
}

// List returns active reviews, optionally for one product.
func (s *Service) List(ctx context.Context, productID uint64, offset, limit int) ([]model.Review, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.reviews.ListActive(ctx, productID, offset, limit)
}

func (s *Service) activeReview(ctx context.Context, tx *sql.Tx, id uint64) (model.Review, error) {
	rv, err := s.reviews.GetByID(ctx, tx, id)
	if err != nil {
		return model.Review{}, err
	}
	if !rv.IsActive {
		return model.Review{}, fmt.Errorf("review %d: %w", id, model.ErrNotFound)
	}
	return rv, nil
}

// recompute runs the aggregator after a review write.  A domain error
// keeps the review write; anything else rolls it back.
func (s *Service) recompute(ctx context.Context, tx *sql.Tx, productID uint64, res *Result) (bool, error) {
	r, err := s.ratings.Recompute(ctx, tx, productID)
	if errors.Is(err, model.ErrDomainInvariant) {
		return true, err
	}
	if err != nil {
		return false, err
	}
	res.Rating = r
	return false, nil
}

// finish publishes rating.updated for a committed write and wraps err.
func (s *Service) finish(ctx context.Context, op, trigger string, res Result, err error) (Result, error) {
	if err != nil && !errors.Is(err, model.ErrDomainInvariant) {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		logger.From(ctx).Warn("review saved but rating not recomputed",
			slog.Uint64("review_id", res.Review.ID), slog.Uint64("product_id", res.Review.ProductID), slog.Any("err", err))
		return res, fmt.Errorf("%s: %w", op, err)
	}
	ev := queue.RatingUpdatedEvent{
		EventID:    uuid.NewString(),
		ProductID:  res.Review.ProductID,
		ReviewID:   res.Review.ID,
		Trigger:    trigger,
		Rating:     res.Rating,
		OccurredAt: s.clock.Now().UTC().Format(time.RFC3339),
	}
	if perr := s.events.Publish(ctx, queue.RatingUpdatedQueue, ev); perr != nil {
		logger.From(ctx).Warn("rating.updated publish failed", slog.Any("err", perr))
	}
	return res, nil
}

// validate checks grade and trims comment; an empty comment becomes nil.
func validate(grade int, comment *string) (*string, error) {
	if !model.ValidGrade(grade) {
		return nil, fmt.Errorf("%w: grade must be between %d and %d", model.ErrInvalidInput, model.MinGrade, model.MaxGrade)
	}
	if comment == nil {
		return nil, nil
	}
	c := strings.TrimSpace(*comment)
	if c == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(c) > maxCommentLen {
		return nil, fmt.Errorf("%w: comment longer than %d characters", model.ErrInvalidInput, maxCommentLen)
	}
	return &c, nil
}
