// Package session owns refresh tokens: issuing them at login, rotating
// them single-use for a new access/refresh pair, revoking them at logout
// and sweeping expired rows.  Nothing else inserts or deletes refresh
// tokens.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/marketplace-api/internal/clock"
	"github.com/iliyamo/marketplace-api/internal/logger"
	"github.com/iliyamo/marketplace-api/internal/model"
	"github.com/iliyamo/marketplace-api/internal/queue"
	"github.com/iliyamo/marketplace-api/internal/repository"
	"github.com/iliyamo/marketplace-api/internal/security"
)

// maxIssueAttempts bounds retries when a freshly drawn token collides with
// an existing digest.
const maxIssueAttempts = 5

// Reasons attached to session.revoked events.
const (
	ReasonLogout        = "logout"
	ReasonLogoutAll     = "logout_all"
	ReasonDeactivated   = "deactivated"
	ReasonInactiveOwner = "inactive_owner"
)

// Refresh is a raw refresh token as handed to the client.  Only its digest
// is stored.
type Refresh struct {
	Token string
	Exp   time.Time
}

// Pair is the result of login and rotation.
type Pair struct {
	UserID  uint64
	Access  security.AccessToken
	Refresh Refresh
}

// Config carries the token lifetimes.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Ledger issues, rotates and revokes refresh tokens.
type Ledger struct {
	db      *sql.DB
	tokens  *repository.TokenRepo
	users   *repository.UserRepo
	issuer  *security.TokenIssuer
	cfg     Config
	clock   clock.Clock
	entropy io.Reader
	events  queue.Publisher
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option { return func(l *Ledger) { l.clock = c } }

// WithEntropy replaces crypto/rand as the refresh token source.
func WithEntropy(r io.Reader) Option { return func(l *Ledger) { l.entropy = r } }

// WithPublisher sets where session.revoked events go.
func WithPublisher(p queue.Publisher) Option { return func(l *Ledger) { l.events = p } }

// NewLedger wires a ledger over db.  Non-positive TTLs are rejected.
func NewLedger(db *sql.DB, issuer *security.TokenIssuer, cfg Config, opts ...Option) (*Ledger, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("session: token TTLs must be positive")
	}
	l := &Ledger{
		db:     db,
		tokens: repository.NewTokenRepo(db),
		users:  repository.NewUserRepo(db),
		issuer: issuer,
		cfg:    cfg,
		clock:  clock.Real(),
		events: queue.Nop{},
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// now is the ledger clock in UTC truncated to the second, the precision
// stored in expires_at.
func (l *Ledger) now() time.Time { return l.clock.Now().UTC().Truncate(time.Second) }

// IssueSession stores a new refresh token for userID valid for ttl.
func (l *Ledger) IssueSession(ctx context.Context, userID uint64, ttl time.Duration) (Refresh, error) {
	return l.IssueSessionTx(ctx, l.db, userID, ttl)
}

// IssueSessionTx is IssueSession using q, normally a running transaction.
// A digest collision draws a new token, up to maxIssueAttempts times.
func (l *Ledger) IssueSessionTx(ctx context.Context, q repository.Querier, userID uint64, ttl time.Duration) (Refresh, error) {
	const op = "session.Ledger.IssueSession"
	if ttl <= 0 {
		return Refresh{}, fmt.Errorf("%s: %w: non-positive ttl", op, model.ErrInvalidInput)
	}
	now := l.now()
	exp := now.Add(ttl)
	for attempt := 1; ; attempt++ {
		raw, err := security.NewRefreshRaw(l.entropy)
		if err != nil {
			return Refresh{}, fmt.Errorf("%s: entropy: %w", op, err)
		}
		err = l.tokens.StoreRefresh(ctx, q, userID, security.HashRefreshRaw(raw), exp, now)
		if err == nil {
			return Refresh{Token: raw, Exp: exp}, nil
		}
		if !errors.Is(err, model.ErrConflict) || attempt == maxIssueAttempts {
			return Refresh{}, fmt.Errorf("%s: %w", op, err)
		}
	}
}

// Establish mints a fresh access/refresh pair for a user who just proved
// their credentials.
func (l *Ledger) Establish(ctx context.Context, userID uint64) (Pair, error) {
	const op = "session.Ledger.Establish"
	refresh, err := l.IssueSession(ctx, userID, l.cfg.RefreshTTL)
	if err != nil {
		return Pair{}, err
	}
	access, err := l.issuer.Issue(userID, l.cfg.AccessTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}
	return Pair{UserID: userID, Access: access, Refresh: refresh}, nil
}

// Rotate exchanges presented for a new pair in one transaction.
//
// The presented token is looked up and deleted inside the transaction,
// and the delete must remove exactly one row.  Two concurrent rotations of
// the same value are serialized by the store, so the second one finds
// nothing to delete and gets model.ErrUnauthenticated.  An inactive owner
// loses the token and gets model.ErrForbidden.  Nothing is consumed or
// minted unless the transaction commits.
func (l *Ledger) Rotate(ctx context.Context, presented string) (Pair, error) {
	const op = "session.Ledger.Rotate"
	if presented == "" {
		return Pair{}, fmt.Errorf("%s: %w", op, model.ErrUnauthenticated)
	}
	hash := security.HashRefreshRaw(presented)
	now := l.now()

	var (
		pair    Pair
		revoked uint64
	)
	err := repository.CommitThen(ctx, l.db, func(tx *sql.Tx) (bool, error) {
		tok, err := l.tokens.FindByHash(ctx, tx, hash)
		if errors.Is(err, model.ErrNotFound) {
			return false, model.ErrUnauthenticated
		}
		if err != nil {
			return false, err
		}
		if !tok.ExpiresAt.After(now) {
			if _, err := l.tokens.DeleteByHash(ctx, tx, hash); err != nil {
				return false, err
			}
			return true, model.ErrUnauthenticated
		}

		owner, err := l.users.GetByID(ctx, tx, tok.UserID)
		switch {
		case errors.Is(err, model.ErrNotFound):
			if _, err := l.tokens.DeleteByHash(ctx, tx, hash); err != nil {
				return false, err
			}
			return true, model.ErrUnauthenticated
		case err != nil:
			return false, err
		case !owner.IsActive:
			if _, err := l.tokens.DeleteByHash(ctx, tx, hash); err != nil {
				return false, err
			}
			revoked = owner.ID
			return true, model.ErrForbidden
		}

		n, err := l.tokens.DeleteByHash(ctx, tx, hash)
		if err != nil {
			return false, err
		}
		if n != 1 {
			return false, model.ErrUnauthenticated
		}
		if _, err := l.tokens.DeleteExpiredForUser(ctx, tx, owner.ID, now); err != nil {
			return false, err
		}

		refresh, err := l.IssueSessionTx(ctx, tx, owner.ID, l.cfg.RefreshTTL)
		if err != nil {
			return false, err
		}
		access, err := l.issuer.Issue(owner.ID, l.cfg.AccessTTL)
		if err != nil {
			return false, err
		}
		pair = Pair{UserID: owner.ID, Access: access, Refresh: refresh}
		return false, nil
	})
	// ErrForbidden only comes back once CommitThen has committed the delete.
	if revoked != 0 && errors.Is(err, model.ErrForbidden) {
		l.publishRevoked(ctx, revoked, ReasonInactiveOwner, 1)
	}
	if err != nil {
		logger.From(ctx).Debug("refresh rotation rejected", slog.Any("err", err))
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}
	return pair, nil
}

// Revoke deletes presented if it exists.  Revoking an unknown or already
// revoked token is not an error.
func (l *Ledger) Revoke(ctx context.Context, presented string) error {
	const op = "session.Ledger.Revoke"
	if presented == "" {
		return nil
	}
	hash := security.HashRefreshRaw(presented)
	tok, err := l.tokens.FindByHash(ctx, l.db, hash)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := l.tokens.DeleteByHash(ctx, l.db, hash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		l.publishRevoked(ctx, tok.UserID, ReasonLogout, n)
	}
	return nil
}

// RevokeAll deletes every refresh token of userID and returns how many
// were removed.
func (l *Ledger) RevokeAll(ctx context.Context, userID uint64) (int64, error) {
	const op = "session.Ledger.RevokeAll"
	n, err := l.tokens.DeleteAllForUser(ctx, l.db, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		l.publishRevoked(ctx, userID, ReasonLogoutAll, n)
	}
	return n, nil
}

// RevokeAllTx deletes every refresh token of userID inside tx.  The caller
// publishes nothing until it commits; see Revoked.
func (l *Ledger) RevokeAllTx(ctx context.Context, tx *sql.Tx, userID uint64) (int64, error) {
	const op = "session.Ledger.RevokeAllTx"
	n, err := l.tokens.DeleteAllForUser(ctx, tx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// Revoked announces tokens removed by RevokeAllTx once the caller's
// transaction has committed.
func (l *Ledger) Revoked(ctx context.Context, userID uint64, reason string, n int64) {
	if n > 0 {
		l.publishRevoked(ctx, userID, reason, n)
	}
}

// SweepExpired deletes every token that has expired.  Rotation checks
// expiry inline, so the sweep only reclaims space.
func (l *Ledger) SweepExpired(ctx context.Context) (int64, error) {
	const op = "session.Ledger.SweepExpired"
	n, err := l.tokens.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (l *Ledger) publishRevoked(ctx context.Context, userID uint64, reason string, n int64) {
	ev := queue.SessionRevokedEvent{
		EventID:    uuid.NewString(),
		UserID:     userID,
		Reason:     reason,
		Tokens:     n,
		OccurredAt: l.now().Format(time.RFC3339),
	}
	if err := l.events.Publish(ctx, queue.SessionRevokedQueue, ev); err != nil {
		logger.From(ctx).Warn("session.revoked publish failed", slog.Uint64("user_id", userID), slog.Any("err", err))
	}
}
