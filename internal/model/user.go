package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of account classifications used for
// authorization decisions.  The zero value is not a valid role so a
// missing assignment can never be mistaken for one of the three.
type Role uint8

const (
	RoleAdmin Role = iota + 1
	RoleSeller
	RoleBuyer
)

// Roles lists every valid role in a stable order.
var Roles = []Role{RoleAdmin, RoleSeller, RoleBuyer}

// String returns the lower-case name stored in users.role.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleSeller:
		return "seller"
	case RoleBuyer:
		return "buyer"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// Valid reports whether r is one of the three defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSeller, RoleBuyer:
		return true
	}
	return false
}

// ParseRole converts a stored or submitted role name into a Role.  Any
// string outside the closed set is rejected with ErrInvalidInput.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, nil
	case "seller":
		return RoleSeller, nil
	case "buyer":
		return RoleBuyer, nil
	}
	return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// Scan implements sql.Scanner so users.role can be read straight into a Role.
func (r *Role) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("role: unsupported column type %T", src)
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Value implements driver.Valuer.  Invalid roles are refused so they never
// reach the database.
func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: role %d", ErrInvalidInput, uint8(r))
	}
	return r.String(), nil
}

// MarshalText lets roles appear as names in JSON payloads.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: role %d", ErrInvalidInput, uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText accepts role names from JSON payloads.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Identity represents an account record as stored in the `users` table.
// Username and Email are stored lower-cased so uniqueness is
// case-insensitive.  Accounts are never hard-deleted here; IsActive is
// cleared instead.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Username     – unique login name.
//  Email        – unique email address.
//  PasswordHash – bcrypt digest, never the plaintext.
//  Role         – one of admin, seller or buyer.
//  IsActive     – whether the account may act.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type Identity struct {
	ID           uint64    // users.id
	Username     string    // users.username
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         Role      // users.role
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  The raw
// token handed to the client is never stored; only its SHA-256 digest.
// A row exists only while the token is usable: rotation, logout and the
// expiry sweep delete it.
//
// Fields:
//  ID        – primary key identifier.
//  UserID    – owner of the token.
//  TokenHash – SHA-256 hex digest of the token value.
//  ExpiresAt – absolute expiration timestamp.
//  CreatedAt – timestamp of creation.
type RefreshToken struct {
	ID        uint64    // refresh_tokens.id
	UserID    uint64    // refresh_tokens.user_id
	TokenHash string    // refresh_tokens.token_hash
	ExpiresAt time.Time // refresh_tokens.expires_at
	CreatedAt time.Time // refresh_tokens.created_at
}
