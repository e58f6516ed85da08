package go_relay_i_guess

import (
    "golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost matches the cost used by existing user files.
const DefaultBcryptCost = 8

// PasswordHasher is the opaque verify/hash capability used to check and
// update a session's password.
type PasswordHasher interface {
    // Verify check whether `secret` matches the stored `hash`.
    Verify(secret, hash string) bool

    // Hash compute a fresh hash for `secret`.
    Hash(secret string) (string, error)
}

// BcryptHasher implements PasswordHasher over bcrypt.
type BcryptHasher struct {
    // Cost used when hashing. Zero means DefaultBcryptCost.
    Cost int
}

// Verify check whether `secret` matches the bcrypt `hash`. An empty or
// malformed hash never matches.
func (b BcryptHasher) Verify(secret, hash string) bool {
    if len(hash) == 0 {
        return false
    }
    return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// Hash compute a bcrypt hash for `secret`.
func (b BcryptHasher) Hash(secret string) (string, error) {
    cost := b.Cost
    if cost == 0 {
        cost = DefaultBcryptCost
    }

    hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
    if err != nil {
        return "", err
    }
    return string(hash), nil
}
