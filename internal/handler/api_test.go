package handler_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/marketplace-api/internal/account"
	"github.com/iliyamo/marketplace-api/internal/authz"
	"github.com/iliyamo/marketplace-api/internal/clock"
	"github.com/iliyamo/marketplace-api/internal/config"
	"github.com/iliyamo/marketplace-api/internal/database/dbtest"
	"github.com/iliyamo/marketplace-api/internal/handler"
	"github.com/iliyamo/marketplace-api/internal/queue"
	"github.com/iliyamo/marketplace-api/internal/rating"
	"github.com/iliyamo/marketplace-api/internal/repository"
	"github.com/iliyamo/marketplace-api/internal/review"
	"github.com/iliyamo/marketplace-api/internal/router"
	"github.com/iliyamo/marketplace-api/internal/security"
	"github.com/iliyamo/marketplace-api/internal/session"
)

type api struct {
	t      *testing.T
	e      *echo.Echo
	db     *sql.DB
	issuer *security.TokenIssuer
	events *queue.Recorder
}

func newAPI(t *testing.T) *api {
	t.Helper()
	db := dbtest.Open(t)
	clk := clock.Real()
	issuer, err := security.NewTokenIssuer(security.IssuerConfig{Secret: []byte(strings.Repeat("h", 32))}, clk)
	require.NoError(t, err)
	rec := &queue.Recorder{}
	ledger, err := session.NewLedger(db, issuer, session.Config{AccessTTL: time.Minute, RefreshTTL: time.Hour},
		session.WithClock(clk), session.WithPublisher(rec))
	require.NoError(t, err)
	accounts := account.NewService(db, security.NewPasswordVault(bcrypt.MinCost), ledger, account.Options{Clock: clk, RevokeOnDeactivate: true})

	e := router.New(router.Deps{
		DB:        db,
		RateLimit: config.RateLimitConfig{Enabled: false},
		Cache:     config.CacheConfig{Enabled: false},
		Gate:      authz.NewGate(issuer, repository.NewUserRepo(db)),
		Auth:      handler.NewAuthHandler(accounts, ledger),
		Reviews:   handler.NewReviewHandler(review.NewService(db, rating.NewAggregator(db), rec, clk)),
		Products:  handler.NewProductHandler(repository.NewProductRepo(db), clk),
		Admin:     handler.NewAdminHandler(accounts),
	})
	return &api{t: t, e: e, db: db, issuer: issuer, events: rec}
}

func (a *api) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

type tokens struct {
	User struct {
		ID   uint64 `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
	Access  struct{ Token string } `json:"access"`
	Refresh struct{ Token string } `json:"refresh"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *api) register(username, role string) tokens {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": username, "email": username + "@example.com", "password": "password123", "role": role,
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[tokens](a.t, rec)
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	rec := a.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginFailuresLookIdentical(t *testing.T) {
	a := newAPI(t)
	a.register("alice", "")
	off := a.register("carol", "")
	dbtest.SetActive(t, a.db, "users", off.User.ID, false)

	ok := a.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"login": "ALICE@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())

	var bodies []string
	for _, creds := range []map[string]string{
		{"login": "alice", "password": "wrong-password"},
		{"login": "nobody", "password": "password123"},
		{"login": "carol", "password": "password123"},
	} {
		rec := a.do(http.MethodPost, "/v1/auth/login", "", creds)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		bodies = append(bodies, rec.Body.String())
	}
	require.Equal(t, bodies[0], bodies[1])
	require.Equal(t, bodies[0], bodies[2])
}

func TestRegisterConflictAndValidation(t *testing.T) {
	a := newAPI(t)
	a.register("alice", "")

	rec := a.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "Alice", "email": "x@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "username")

	rec = a.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "bob", "email": "bob@example.com", "password": "short",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "eve", "email": "eve@example.com", "password": "password123", "role": "admin",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRefreshRotationRejectsReuse(t *testing.T) {
	a := newAPI(t)
	first := a.register("alice", "")

	rec := a.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": first.Refresh.Token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	next := decode[tokens](t, rec)
	require.NotEqual(t, first.Refresh.Token, next.Refresh.Token)

	rec = a.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": first.Refresh.Token})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error":"unauthenticated"}`, rec.Body.String())

	rec = a.do(http.MethodPost, "/v1/auth/logout", "", map[string]string{"refresh_token": next.Refresh.Token})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(http.MethodPost, "/v1/auth/logout", "", map[string]string{"refresh_token": next.Refresh.Token})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": next.Refresh.Token})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeRequiresToken(t *testing.T) {
	a := newAPI(t)
	u := a.register("alice", "")

	require.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/v1/me", "", nil).Code)
	require.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/v1/me", "forged", nil).Code)

	rec := a.do(http.MethodGet, "/v1/me", u.Access.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"username":"alice"`)
}

func TestReviewFlow(t *testing.T) {
	a := newAPI(t)
	seller := a.register("sam", "seller")
	buyer := a.register("bea", "")
	other := a.register("bob", "")

	rec := a.do(http.MethodPost, "/v1/products", buyer.Access.Token, map[string]any{"name": "Lamp", "price_cents": 1500})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/v1/products", seller.Access.Token, map[string]any{"name": "Lamp", "price_cents": 1500, "stock": 3})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	product := decode[struct{ ID uint64 }](t, rec)

	rec = a.do(http.MethodPost, "/v1/reviews", seller.Access.Token, map[string]any{"product_id": product.ID, "grade": 5})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/v1/reviews", buyer.Access.Token, map[string]any{"product_id": product.ID, "grade": 4, "comment": " fine "})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		Review struct {
			ID      uint64
			Comment string
		} `json:"review"`
		ProductRating float64 `json:"product_rating"`
	}](t, rec)
	require.Equal(t, 4.0, created.ProductRating)
	require.Equal(t, "fine", created.Review.Comment)

	rec = a.do(http.MethodPost, "/v1/reviews", buyer.Access.Token, map[string]any{"product_id": product.ID, "grade": 2})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/v1/reviews", other.Access.Token, map[string]any{"product_id": product.ID, "grade": 9})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(http.MethodPost, "/v1/reviews", other.Access.Token, map[string]any{"product_id": product.ID, "grade": 5})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(http.MethodGet, fmt.Sprintf("/v1/products/%d", product.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"rating":4.5`)

	path := fmt.Sprintf("/v1/reviews/%d", created.Review.ID)
	require.Equal(t, http.StatusForbidden, a.do(http.MethodPatch, path, other.Access.Token, map[string]any{"grade": 1}).Code)
	rec = a.do(http.MethodPatch, path, buyer.Access.Token, map[string]any{"grade": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"product_rating":3`)

	require.Equal(t, http.StatusForbidden, a.do(http.MethodDelete, path, other.Access.Token, nil).Code)
	require.Equal(t, http.StatusOK, a.do(http.MethodDelete, path, buyer.Access.Token, nil).Code)
	require.Equal(t, http.StatusNotFound, a.do(http.MethodDelete, path, buyer.Access.Token, nil).Code)

	rec = a.do(http.MethodGet, fmt.Sprintf("/v1/reviews?product_id=%d", product.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct{ Items []struct{ Grade int } }](t, rec)
	require.Len(t, list.Items, 1)
	require.Equal(t, 5, list.Items[0].Grade)

	require.Len(t, a.events.Events(), 4)
}

func TestAdminDeactivationRevokesSessions(t *testing.T) {
	a := newAPI(t)
	buyer := a.register("bea", "")
	adminID := dbtest.InsertUser(t, a.db, "root", "admin", true)
	adminTok, err := a.issuer.Issue(adminID, time.Minute)
	require.NoError(t, err)

	path := fmt.Sprintf("/v1/admin/users/%d/status", buyer.User.ID)
	require.Equal(t, http.StatusForbidden, a.do(http.MethodPatch, path, buyer.Access.Token, map[string]bool{"is_active": false}).Code)

	rec := a.do(http.MethodPatch, path, adminTok.Token, map[string]bool{"is_active": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"is_active":false`)

	require.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/v1/me", buyer.Access.Token, nil).Code)
	rec = a.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": buyer.Refresh.Token})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodPatch, "/v1/admin/users/999/status", adminTok.Token, map[string]bool{"is_active": true})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProductFieldLimits(t *testing.T) {
	a := newAPI(t)
	seller := a.register("sam", "seller")
	create := func(name, desc string) int {
		return a.do(http.MethodPost, "/v1/products", seller.Access.Token, map[string]any{
			"name": name, "description": desc, "price_cents": 100,
		}).Code
	}

	require.Equal(t, http.StatusCreated, create(strings.Repeat("é", 100), strings.Repeat("ü", 500)))
	require.Equal(t, http.StatusBadRequest, create(strings.Repeat("é", 101), "short"))
	require.Equal(t, http.StatusBadRequest, create("Lamp", strings.Repeat("ü", 501)))
	require.Equal(t, http.StatusBadRequest, create("   ", ""))
}

func TestReviewListLimitBounds(t *testing.T) {
	a := newAPI(t)
	for _, q := range []string{"limit=0", "limit=101", "limit=500", "limit=-1", "offset=x"} {
		rec := a.do(http.MethodGet, "/v1/reviews?"+q, "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec := a.do(http.MethodGet, "/v1/reviews?limit=100", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[],"offset":0,"limit":100}`, rec.Body.String())

	rec = a.do(http.MethodGet, "/v1/reviews", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"limit":20`)
}
