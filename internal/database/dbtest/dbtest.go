// Package dbtest opens throwaway SQLite databases with the application
// schema for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/marketplace-api/internal/database"
)

// Open returns a migrated database stored under t.TempDir().  It is
// closed automatically when the test ends.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(context.Background(), database.Options{Driver: database.DriverSQLite, Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.DriverSQLite))
	return db
}

// InsertUser adds a user row directly and returns its id.  The password
// hash is a placeholder; tests that log in should go through the account
// service instead.
func InsertUser(t testing.TB, db *sql.DB, username, role string, active bool) uint64 {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	res, err := db.Exec(
		"INSERT INTO users (username, email, password_hash, role, is_active, created_at, updated_at) VALUES (?,?,?,?,?,?,?)",
		username, username+"@example.com", "x", role, active, now, now)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return uint64(id)
}

// InsertProduct adds an active product owned by sellerID.
func InsertProduct(t testing.TB, db *sql.DB, sellerID uint64, name string) uint64 {
	t.Helper()
	res, err := db.Exec(
		"INSERT INTO products (seller_id, name, price_cents, stock, rating, is_active, created_at) VALUES (?,?,?,?,?,?,?)",
		sellerID, name, 1000, 5, 0, true, time.Now().UTC().Truncate(time.Second))
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return uint64(id)
}

// SetActive sets is_active on row id of table.
func SetActive(t testing.TB, db *sql.DB, table string, id uint64, active bool) {
	t.Helper()
	switch table {
	case "users", "products", "reviews":
	default:
		t.Fatalf("dbtest: unexpected table %q", table)
	}
	_, err := db.Exec("UPDATE "+table+" SET is_active=? WHERE id=?", active, id)
	require.NoError(t, err)
}

// Count returns the number of rows in table matching the optional where
// clause.
func Count(t testing.TB, db *sql.DB, table, where string, args ...any) int {
	t.Helper()
	q := "SELECT COUNT(*) FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	require.NoError(t, db.QueryRow(q, args...).Scan(&n))
	return n
}
