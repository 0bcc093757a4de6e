package database

import (
	"context"
	"database/sql"
	"fmt"
)

// mysqlSchema creates the tables owned by the core.  The reviews table
// carries a generated column that is non-NULL only for active reviews so
// the unique index allows any number of inactive rows per pair.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(50) NOT NULL,
		email VARCHAR(120) NOT NULL,
		password_hash VARCHAR(200) NOT NULL,
		role ENUM('admin','seller','buyer') NOT NULL DEFAULT 'buyer',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE KEY uq_users_username (username),
		UNIQUE KEY uq_users_email (email),
		KEY idx_users_active (is_active),
		KEY idx_users_role (role)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		token_hash CHAR(64) NOT NULL,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE KEY uq_refresh_tokens_hash (token_hash),
		KEY idx_refresh_tokens_user_exp (user_id, expires_at),
		KEY idx_refresh_tokens_exp (expires_at),
		CONSTRAINT fk_refresh_tokens_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS products (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		seller_id BIGINT UNSIGNED NOT NULL,
		name VARCHAR(100) NOT NULL,
		description VARCHAR(500) NULL,
		price_cents INT UNSIGNED NOT NULL,
		stock INT UNSIGNED NOT NULL DEFAULT 0,
		rating DOUBLE NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		KEY idx_products_seller (seller_id),
		CONSTRAINT fk_products_seller FOREIGN KEY (seller_id) REFERENCES users (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS reviews (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		product_id BIGINT UNSIGNED NOT NULL,
		comment VARCHAR(500) NULL,
		grade TINYINT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		active_pair VARCHAR(41) GENERATED ALWAYS AS (IF(is_active, CONCAT(user_id, ':', product_id), NULL)) STORED,
		UNIQUE KEY uq_reviews_active_pair (active_pair),
		KEY idx_reviews_product_active (product_id, is_active),
		CONSTRAINT chk_reviews_grade CHECK (grade BETWEEN 1 AND 5),
		CONSTRAINT fk_reviews_user FOREIGN KEY (user_id) REFERENCES users (id),
		CONSTRAINT fk_reviews_product FOREIGN KEY (product_id) REFERENCES products (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'buyer' CHECK (role IN ('admin','seller','buyer')),
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		token_hash TEXT NOT NULL UNIQUE,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_exp ON refresh_tokens (user_id, expires_at)`,
	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seller_id INTEGER NOT NULL REFERENCES users (id),
		name TEXT NOT NULL,
		description TEXT NULL,
		price_cents INTEGER NOT NULL,
		stock INTEGER NOT NULL DEFAULT 0,
		rating REAL NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reviews (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users (id),
		product_id INTEGER NOT NULL REFERENCES products (id),
		comment TEXT NULL,
		grade INTEGER NOT NULL CHECK (grade BETWEEN 1 AND 5),
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_reviews_active_pair ON reviews (user_id, product_id) WHERE is_active = 1`,
	`CREATE INDEX IF NOT EXISTS idx_reviews_product_active ON reviews (product_id, is_active)`,
}

// Migrate creates any missing tables for the given driver.  Statements are
// idempotent so it can run on every start.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	var stmts []string
	switch driver {
	case "", DriverMySQL:
		stmts = mysqlSchema
	case DriverSQLite:
		stmts = sqliteSchema
	default:
		return fmt.Errorf("database: unsupported driver %q", driver)
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("database: migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
