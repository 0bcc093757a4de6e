package security

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// PasswordVault hashes and verifies passwords with bcrypt.  It stores
// nothing; the cost is fixed at construction.
type PasswordVault struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewPasswordVault returns a vault using the given bcrypt cost.  Costs
// outside bcrypt's accepted range fall back to bcrypt.DefaultCost.
func NewPasswordVault(cost int) *PasswordVault {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordVault{cost: cost}
}

// Hash returns a salted bcrypt digest of plain.
func (v *PasswordVault) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), v.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether plain matches digest.  A corrupt or truncated
// digest yields false rather than an error.
func (v *PasswordVault) Verify(plain, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}

// VerifyDummy spends one verification at the vault's cost against a
// throwaway digest and always returns false.  Login calls it for unknown
// accounts so they take as long as a wrong password.
func (v *PasswordVault) VerifyDummy(plain string) bool {
	v.dummyOnce.Do(func() {
		buf := make([]byte, 16)
		_, _ = rand.Read(buf)
		v.dummy, _ = bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(buf)), v.cost)
	})
	_ = bcrypt.CompareHashAndPassword(v.dummy, []byte(plain))
	return false
}
