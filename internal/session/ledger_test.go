package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/marketplace-api/internal/clock"
	"github.com/iliyamo/marketplace-api/internal/database/dbtest"
	"github.com/iliyamo/marketplace-api/internal/model"
	"github.com/iliyamo/marketplace-api/internal/queue"
	"github.com/iliyamo/marketplace-api/internal/security"
)

type fixture struct {
	ledger *Ledger
	issuer *security.TokenIssuer
	clock  *clock.Fake
	events *queue.Recorder
}

func newFixture(t *testing.T) (fixture, func() uint64) {
	t.Helper()
	db := dbtest.Open(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	issuer, err := security.NewTokenIssuer(security.IssuerConfig{Secret: []byte(strings.Repeat("k", 32))}, clk)
	require.NoError(t, err)
	rec := &queue.Recorder{}
	l, err := NewLedger(db, issuer, Config{AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour},
		WithClock(clk), WithPublisher(rec))
	require.NoError(t, err)
	n := 0
	newUser := func() uint64 {
		n++
		return dbtest.InsertUser(t, db, "user"+string(rune('a'+n)), "buyer", true)
	}
	return fixture{ledger: l, issuer: issuer, clock: clk, events: rec}, newUser
}

func count(t *testing.T, l *Ledger, userID uint64) int {
	return dbtest.Count(t, l.db, "refresh_tokens", "user_id=?", userID)
}

func TestNewLedgerRejectsZeroTTL(t *testing.T) {
	_, err := NewLedger(nil, nil, Config{AccessTTL: time.Minute})
	require.Error(t, err)
}

func TestEstablishAndRotate(t *testing.T) {
	f, newUser := newFixture(t)
	ctx := context.Background()
	uid := newUser()

	pair, err := f.ledger.Establish(ctx, uid)
	require.NoError(t, err)
	require.NotEmpty(t, pair.Refresh.Token)
	require.Equal(t, f.clock.Now().Add(24*time.Hour), pair.Refresh.Exp)
	require.Equal(t, 1, count(t, f.ledger, uid))

	got, err := f.issuer.Verify(ctx, pair.Access.Token)
	require.NoError(t, err)
	require.Equal(t, uid, got)

	next, err := f.ledger.Rotate(ctx, pair.Refresh.Token)
	require.NoError(t, err)
	require.Equal(t, uid, next.UserID)
	require.NotEqual(t, pair.Refresh.Token, next.Refresh.Token)
	require.Equal(t, 1, count(t, f.ledger, uid))
}

func TestRotateReusedTokenIsUnauthenticated(t *testing.T) {
	f, newUser := newFixture(t)
	ctx := context.Background()
	uid := newUser()

	pair, err := f.ledger.Establish(ctx, uid)
	require.NoError(t, err)
	_, err = f.ledger.Rotate(ctx, pair.Refresh.Token)
	require.NoError(t, err)

	_, err = f.ledger.Rotate(ctx, pair.Refresh.Token)
	require.ErrorIs(t, err, model.ErrUnauthenticated)
	require.Equal(t, 1, count(t, f.ledger, uid), "a replay must not mint a token")
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	f, newUser := newFixture(t)
	ctx := context.Background()
	uid := newUser()

	pair, err := f.ledger.Establish(ctx, uid)
	require.NoError(t, err)

	const callers = 4
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.ledger.Rotate(ctx, pair.Refresh.Token)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, model.ErrUnauthenticated)
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, count(t, f.ledger, uid))
}

func TestRotateExpired(t *testing.T) {
	f, newUser := newFixture(t)
	ctx := context.Background()
	uid := newUser()

	pair, err := f.ledger.Establish(ctx, uid)
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)

	_, err = f.ledger.Rotate(ctx, pair.Refresh.Token)
	require.ErrorIs(t, err, model.ErrUnauthenticated)
	require.Zero(t, count(t, f.ledger, uid))
}

func TestRotateUnknownToken(t *testing.T) {
	f, _ := newFixture(t)
	_, err := f.ledger.Rotate(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, model.ErrUnauthenticated)
	_, err = f.ledger.Rotate(context.Background(), "")
	require.ErrorIs(t, err, model.ErrUnauthenticated)
}

func TestRotateInactiveOwnerForbiddenAndConsumed(t *testing.T) {
	f, newUser := newFixture(t)
	ctx := context.Background()
	uid := newUser()

	pair, err := f.ledger.Establish(ctx, uid)
	require.NoError(t, err)
	dbtest.SetActive(t, f.ledger.db, "users", uid, false)

	_, err = f.ledger.Rotate(ctx, pair.Refresh.Token)
	require.ErrorIs(t, err, model.ErrForbidden)
	require.Zero(t, count(t, f.ledger, uid))

	evs := f.events.Events()
	require.Len(t, evs, 1)
	require.Equal(t, queue.SessionRevokedQueue, evs[0].Queue)
	require.Equal(t, ReasonInactiveOwner, evs[0].Event.(queue.SessionRevokedEvent).Reason)

	// Reactivation does not bring the consumed token back.
	dbtest.SetActive(t, f.ledger.db, "users", uid, true)
	_, err = f.ledger.Rotate(ctx, pair.Refresh.Token)
	require.ErrorIs(t, err, model.ErrUnauthenticated)
}

func TestRotateInactiveOwnerFailedCommitPublishesNothing(t *testing.T) {
	f, newUser := newFixture(t)
	ctx := context.Background()
	uid := newUser()

	pair, err := f.ledger.Establish(ctx, uid)
	require.NoError(t, err)
	dbtest.SetActive(t, f.ledger.db, "users", uid, false)

	// A deferred foreign-key violation makes COMMIT itself fail.
	for _, stmt := range []string{
		`CREATE TABLE commit_guard (user_id INTEGER REFERENCES users (id) DEFERRABLE INITIALLY DEFERRED)`,
		`CREATE TRIGGER refresh_tokens_guard AFTER DELETE ON refresh_tokens BEGIN INSERT INTO commit_guard VALUES (999999); END`,
	} {
		_, err := f.ledger.db.Exec(stmt)
		require.NoError(t, err)
	}

	_, err = f.ledger.Rotate(ctx, pair.Refresh.Token)
	require.Error(t, err)
	require.NotErrorIs(t, err, model.ErrForbidden)
	require.Empty(t, f.events.Events())
}

func TestRotatePurgesOwnersExpiredTokens(t *testing.T) {
	f, newUser := newFixture(t)
	ctx := context.Background()
	uid := newUser()

	_, err := f.ledger.IssueSession(ctx, uid, time.Hour)
	require.NoError(t, err)
	live, err := f.ledger.IssueSession(ctx, uid, 48*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, count(t, f.ledger, uid))

	f.clock.Advance(2 * time.Hour)
	_, err = f.ledger.Rotate(ctx, live.Token)
	require.NoError(t, err)
	require.Equal(t, 1, count(t, f.ledger, uid))
}

func TestRevokeIsIdempotent(t *testing.T) {
	f, newUser := newFixture(t)
	ctx := context.Background()
	uid := newUser()

	pair, err := f.ledger.Establish(ctx, uid)
	require.NoError(t, err)

	require.NoError(t, f.ledger.Revoke(ctx, pair.Refresh.Token))
	require.NoError(t, f.ledger.Revoke(ctx, pair.Refresh.Token))
	require.Zero(t, count(t, f.ledger, uid))
	require.Len(t, f.events.Events(), 1)

	_, err = f.ledger.Rotate(ctx, pair.Refresh.Token)
	require.ErrorIs(t, err, model.ErrUnauthenticated)
}

func TestRevokeAll(t *testing.T) {
	f, newUser := newFixture(t)
	ctx := context.Background()
	alice, bob := newUser(), newUser()

	for i := 0; i < 3; i++ {
		_, err := f.ledger.Establish(ctx, alice)
		require.NoError(t, err)
	}
	_, err := f.ledger.Establish(ctx, bob)
	require.NoError(t, err)

	n, err := f.ledger.RevokeAll(ctx, alice)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.Zero(t, count(t, f.ledger, alice))
	require.Equal(t, 1, count(t, f.ledger, bob))
}

func TestSweepExpired(t *testing.T) {
	f, newUser := newFixture(t)
	ctx := context.Background()
	uid := newUser()

	_, err := f.ledger.IssueSession(ctx, uid, time.Hour)
	require.NoError(t, err)
	_, err = f.ledger.IssueSession(ctx, uid, 3*time.Hour)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	n, err := f.ledger.SweepExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, 1, count(t, f.ledger, uid))
}

// repeatReader yields the same bytes forever so every drawn token collides.
type repeatReader struct{}

func (repeatReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 7
	}
	return len(p), nil
}

func TestIssueSessionGivesUpAfterCollisions(t *testing.T) {
	f, newUser := newFixture(t)
	ctx := context.Background()
	uid := newUser()
	WithEntropy(repeatReader{})(f.ledger)

	_, err := f.ledger.IssueSession(ctx, uid, time.Hour)
	require.NoError(t, err)
	_, err = f.ledger.IssueSession(ctx, uid, time.Hour)
	require.True(t, errors.Is(err, model.ErrConflict))
	require.Equal(t, 1, count(t, f.ledger, uid))
}
