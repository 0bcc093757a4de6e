package security

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/marketplace-api/internal/clock"
	"github.com/iliyamo/marketplace-api/internal/logger"
	"github.com/iliyamo/marketplace-api/internal/model"
)

// Supported signing algorithms (JWT "alg" header values).
const (
	AlgHS256 = "HS256"
	AlgHS384 = "HS384"
	AlgHS512 = "HS512"
	AlgEdDSA = "EdDSA"
)

// AccessToken represents a signed JWT access token along with its expiry.
// Access tokens are never stored; they are valid purely by signature and
// expiry until Exp passes.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// IssuerConfig selects the signing algorithm and key material.  HS*
// algorithms use Secret; EdDSA uses PrivateKey (the public half is
// derived from it).
type IssuerConfig struct {
	Algorithm  string
	Secret     []byte
	PrivateKey ed25519.PrivateKey
	Issuer     string
}

// TokenIssuer mints and verifies access tokens.  It is safe for
// concurrent use.
type TokenIssuer struct {
	method  jwt.SigningMethod
	signKey any
	verKey  any
	issuer  string
	clock   clock.Clock
}

// NewTokenIssuer validates cfg and returns an issuer.  A nil clock means
// clock.Real().
func NewTokenIssuer(cfg IssuerConfig, clk clock.Clock) (*TokenIssuer, error) {
	if clk == nil {
		clk = clock.Real()
	}
	t := &TokenIssuer{issuer: strings.TrimSpace(cfg.Issuer), clock: clk}
	switch strings.ToUpper(strings.TrimSpace(cfg.Algorithm)) {
	case "", AlgHS256:
		t.method = jwt.SigningMethodHS256
	case AlgHS384:
		t.method = jwt.SigningMethodHS384
	case AlgHS512:
		t.method = jwt.SigningMethodHS512
	case strings.ToUpper(AlgEdDSA):
		if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
			return nil, errors.New("security: EdDSA requires an ed25519 private key")
		}
		t.method = jwt.SigningMethodEdDSA
		t.signKey = cfg.PrivateKey
		t.verKey = cfg.PrivateKey.Public()
		return t, nil
	default:
		return nil, fmt.Errorf("security: unsupported signing algorithm %q", cfg.Algorithm)
	}
	if len(cfg.Secret) < 32 {
		return nil, errors.New("security: HMAC secret must be at least 32 bytes")
	}
	t.signKey = cfg.Secret
	t.verKey = cfg.Secret
	return t, nil
}

// Algorithm returns the JWT alg value tokens are signed with.
func (t *TokenIssuer) Algorithm() string { return t.method.Alg() }

// Issue builds a signed token for subjectID expiring ttl from now.  The
// token carries sub (decimal user id), exp, iat, jti and, when
// configured, iss.
func (t *TokenIssuer) Issue(subjectID uint64, ttl time.Duration) (AccessToken, error) {
	if subjectID == 0 {
		return AccessToken{}, fmt.Errorf("%w: empty subject", model.ErrInvalidInput)
	}
	if ttl <= 0 {
		return AccessToken{}, fmt.Errorf("%w: non-positive ttl", model.ErrInvalidInput)
	}
	now := t.clock.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(subjectID, 10),
		Issuer:    t.issuer,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(t.method, claims).SignedString(t.signKey)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp.Truncate(time.Second)}, nil
}

// Verify checks the signature, then expiry, then the subject claim, and
// returns the subject id.  Every failure is reported as
// model.ErrUnauthenticated; the specific reason only reaches the debug log.
func (t *TokenIssuer) Verify(ctx context.Context, raw string) (uint64, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{t.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock.Now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	var claims jwt.RegisteredClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.verKey, nil
	}, opts...)
	if err != nil || !tok.Valid {
		logger.From(ctx).Debug("access token rejected", slog.String("reason", rejectReason(err)))
		return 0, model.ErrUnauthenticated
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		logger.From(ctx).Debug("access token rejected", slog.String("reason", "malformed subject"))
		return 0, model.ErrUnauthenticated
	}
	return id, nil
}

func rejectReason(err error) string {
	switch {
	case err == nil:
		return "invalid"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return "signature"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	}
	return "claims"
}
