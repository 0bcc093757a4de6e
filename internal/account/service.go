// Package account implements registration, login and administrative
// activation of identities on top of the password vault and the session
// ledger.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/iliyamo/marketplace-api/internal/clock"
	"github.com/iliyamo/marketplace-api/internal/logger"
	"github.com/iliyamo/marketplace-api/internal/model"
	"github.com/iliyamo/marketplace-api/internal/repository"
	"github.com/iliyamo/marketplace-api/internal/security"
	"github.com/iliyamo/marketplace-api/internal/session"
)

// ErrInvalidCredentials is the single outcome of every failed login:
// unknown account, wrong password and inactive account all return this
// exact value.
var ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", model.ErrUnauthenticated)

const (
	minPasswordLen = 8
	maxPasswordLen = 72 // bcrypt ignores anything longer
	maxEmailLen    = 120
)

var usernameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,49}$`)

// Service bundles the account use cases.
type Service struct {
	db     *sql.DB
	users  *repository.UserRepo
	vault  *security.PasswordVault
	ledger *session.Ledger
	clock  clock.Clock

	// revokeOnDeactivate deletes every refresh token when an account is
	// deactivated, so a later reactivation starts with no sessions.
	revokeOnDeactivate bool
}

// Options configures a Service.
type Options struct {
	Clock              clock.Clock
	RevokeOnDeactivate bool
}

func NewService(db *sql.DB, vault *security.PasswordVault, ledger *session.Ledger, o Options) *Service {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	return &Service{
		db:                 db,
		users:              repository.NewUserRepo(db),
		vault:              vault,
		ledger:             ledger,
		clock:              o.Clock,
		revokeOnDeactivate: o.RevokeOnDeactivate,
	}
}

// RegisterInput is a self-service sign-up request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     string // buyer (default) or seller
}

// Register creates an active account and opens its first session.
// Admin accounts cannot be self-registered.
func (s *Service) Register(ctx context.Context, in RegisterInput) (model.Identity, session.Pair, error) {
	const op = "account.Service.Register"
	u, err := s.validate(in)
	if err != nil {
		return model.Identity{}, session.Pair{}, fmt.Errorf("%s: %w", op, err)
	}
	hash, err := s.vault.Hash(in.Password)
	if err != nil {
		return model.Identity{}, session.Pair{}, fmt.Errorf("%s: hash: %w", op, err)
	}
	u.PasswordHash = hash
	now := s.clock.Now().UTC().Truncate(time.Second)
	u.CreatedAt, u.UpdatedAt = now, now

	if err := s.users.Create(ctx, &u); err != nil {
		return model.Identity{}, session.Pair{}, fmt.Errorf("%s: %w", op, err)
	}
	pair, err := s.ledger.Establish(ctx, u.ID)
	if err != nil {
		return model.Identity{}, session.Pair{}, fmt.Errorf("%s: %w", op, err)
	}
	logger.From(ctx).Info("account registered", slog.Uint64("user_id", u.ID), slog.String("role", u.Role.String()))
	return u, pair, nil
}

func (s *Service) validate(in RegisterInput) (model.Identity, error) {
	username := repository.NormalizeLogin(in.Username)
	if !usernameRE.MatchString(username) {
		return model.Identity{}, fmt.Errorf("%w: username must be 1-50 of a-z 0-9 _ . -", model.ErrInvalidInput)
	}
	email := repository.NormalizeLogin(in.Email)
	if len(email) > maxEmailLen {
		return model.Identity{}, fmt.Errorf("%w: email too long", model.ErrInvalidInput)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return model.Identity{}, fmt.Errorf("%w: invalid email", model.ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLen || len(in.Password) > maxPasswordLen {
		return model.Identity{}, fmt.Errorf("%w: password must be %d-%d bytes", model.ErrInvalidInput, minPasswordLen, maxPasswordLen)
	}
	role := model.RoleBuyer
	if strings.TrimSpace(in.Role) != "" {
		r, err := model.ParseRole(in.Role)
		if err != nil {
			return model.Identity{}, err
		}
		role = r
	}
	switch role {
	case model.RoleBuyer, model.RoleSeller:
	case model.RoleAdmin:
		return model.Identity{}, fmt.Errorf("%w: admin accounts cannot self-register", model.ErrForbidden)
	}
	return model.Identity{Username: username, Email: email, Role: role, IsActive: true}, nil
}

// Login checks a username or email and password and opens a session.
// Every credential failure returns ErrInvalidCredentials; unknown accounts
// still spend one bcrypt comparison.
func (s *Service) Login(ctx context.Context, login, password string) (model.Identity, session.Pair, error) {
	const op = "account.Service.Login"
	log := logger.From(ctx)

	u, err := s.users.GetByLogin(ctx, login)
	switch {
	case errors.Is(err, model.ErrNotFound):
		s.vault.VerifyDummy(password)
		log.Debug("login rejected", slog.String("reason", "unknown account"))
		return model.Identity{}, session.Pair{}, ErrInvalidCredentials
	case err != nil:
		return model.Identity{}, session.Pair{}, fmt.Errorf("%s: %w", op, err)
	}
	if !s.vault.Verify(password, u.PasswordHash) {
		log.Debug("login rejected", slog.String("reason", "password"), slog.Uint64("user_id", u.ID))
		return model.Identity{}, session.Pair{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		log.Debug("login rejected", slog.String("reason", "inactive"), slog.Uint64("user_id", u.ID))
		return model.Identity{}, session.Pair{}, ErrInvalidCredentials
	}

	pair, err := s.ledger.Establish(ctx, u.ID)
	if err != nil {
		return model.Identity{}, session.Pair{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, pair, nil
}

// SetActive activates or deactivates userID.  Deactivation optionally
// revokes every refresh token in the same transaction.
func (s *Service) SetActive(ctx context.Context, userID uint64, active bool) (model.Identity, error) {
	const op = "account.Service.SetActive"
	var (
		u       model.Identity
		revoked int64
	)
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.users.SetActiveTx(ctx, tx, userID, active, s.clock.Now().UTC().Truncate(time.Second)); err != nil {
			return err
		}
		if !active && s.revokeOnDeactivate {
			n, err := s.ledger.RevokeAllTx(ctx, tx, userID)
			if err != nil {
				return err
			}
			revoked = n
		}
		var err error
		u, err = s.users.GetByID(ctx, tx, userID)
		return err
	})
	if err != nil {
		return model.Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	s.ledger.Revoked(ctx, userID, session.ReasonDeactivated, revoked)
	logger.From(ctx).Info("account status changed", slog.Uint64("user_id", userID), slog.Bool("active", active), slog.Int64("sessions_revoked", revoked))
	return u, nil
}

// Get returns the identity with id.
func (s *Service) Get(ctx context.Context, id uint64) (model.Identity, error) {
	return s.users.Find(ctx, id)
}
