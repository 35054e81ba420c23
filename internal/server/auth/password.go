package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Password hashing algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// DefaultBcryptCost is the work factor used when none is configured.
const DefaultBcryptCost = 12

const (
	argon2Time    uint32 = 1
	argon2Memory  uint32 = 64 * 1024
	argon2Threads uint8  = 4
	argon2KeyLen  uint32 = 32
	argon2SaltLen        = 16
)

// Ceilings for parameters read back from a stored hash. A row carrying
// larger values is rejected instead of being run.
const (
	argon2MaxMemory  uint32 = 1 << 22 // KiB, 4 GiB
	argon2MaxTime    uint32 = 16
	argon2MaxThreads uint8  = 64
	argon2MaxKeyLen         = 1024
)

// PasswordHasher produces salted one-way password hashes. The zero value is
// not usable; build one with NewPasswordHasher.
type PasswordHasher struct {
	algorithm  string
	bcryptCost int
}

// NewPasswordHasher returns a hasher for algorithm ("bcrypt" when empty).
// bcryptCost below DefaultBcryptCost is rejected.
func NewPasswordHasher(algorithm string, bcryptCost int) (*PasswordHasher, error) {
	if algorithm == "" {
		algorithm = AlgorithmBcrypt
	}
	if bcryptCost == 0 {
		bcryptCost = DefaultBcryptCost
	}

	switch algorithm {
	case AlgorithmBcrypt, AlgorithmArgon2id:
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", algorithm)
	}
	if bcryptCost < DefaultBcryptCost || bcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d, got %d", DefaultBcryptCost, bcrypt.MaxCost, bcryptCost)
	}

	return &PasswordHasher{algorithm: algorithm, bcryptCost: bcryptCost}, nil
}

// Hash returns a new hash of password. Two calls with the same input never
// return the same string.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if h.algorithm == AlgorithmArgon2id {
		return hashArgon2id(password)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. Malformed hashes simply
// don't match.
func (h *PasswordHasher) Verify(password, hash string) bool {
	if strings.HasPrefix(hash, "$argon2id$") {
		return verifyArgon2id(password, hash)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NeedsRehash reports whether hash was produced with another algorithm or
// a weaker bcrypt cost than the hasher is configured for.
func (h *PasswordHasher) NeedsRehash(hash string) bool {
	if strings.HasPrefix(hash, "$argon2id$") {
		return h.algorithm != AlgorithmArgon2id
	}
	if h.algorithm != AlgorithmBcrypt {
		return true
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < h.bcryptCost
}

// hashArgon2id encodes as $argon2id$v=19$m=65536,t=1,p=4$SALT$HASH.
func hashArgon2id(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2id salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2id(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false
	}
	if memory == 0 || time == 0 || threads == 0 {
		return false
	}
	if memory > argon2MaxMemory || time > argon2MaxTime || threads > argon2MaxThreads {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 || len(want) > argon2MaxKeyLen {
		return false
	}

	got := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
