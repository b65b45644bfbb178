// Package passwords hashes and verifies user passwords.
package passwords

import (
	"context"
	"fmt"
)

const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// Hasher turns a plaintext password into a salted digest and checks
// candidates against it. Verify reports false for any failure, including a
// malformed digest or a cancelled context.
type Hasher interface {
	Hash(ctx context.Context, plain string) (string, error)
	Verify(ctx context.Context, plain, digest string) bool
}

// New returns the hasher configured by algorithm. An empty algorithm selects
// bcrypt.
func New(algorithm string, bcryptCost int) (Hasher, error) {
	switch algorithm {
	case "", AlgorithmBcrypt:
		return NewBcryptHasher(bcryptCost), nil
	case AlgorithmArgon2id:
		return NewArgon2Hasher(DefaultArgon2Params), nil
	default:
		return nil, fmt.Errorf("unknown password algorithm %q", algorithm)
	}
}
