// Package crypto implements server-side password hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/donewithit/server/internal/errs"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	saltLen             = 16

	// maxDigestMemory caps m= read back from a stored digest (1 GiB in KiB).
	// argon2 panics on zero rounds/threads and a corrupted m could demand
	// arbitrary allocations, so out-of-range parameters are a corrupt digest.
	maxDigestMemory uint32 = 1 << 20
)

// MinPasswordLen is the minimum accepted plaintext length.
const MinPasswordLen = 8

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword returns a self-contained PHC-encoded Argon2id digest with a
// fresh random salt. Two calls with the same plaintext yield distinct digests.
// Plaintexts below MinPasswordLen fail with errs.ErrWeakCredential.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLen {
		return "", errs.ErrWeakCredential
	}
	salt, err := RandBytes(saltLen)
	if err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword verifies password against a stored digest using a
// constant-time comparison. A mismatch returns (false, nil); only a
// structurally invalid digest returns errs.ErrCorruptDigest.
func VerifyPassword(digest, password string) (bool, error) {
	salt, key, mem, iters, threads, err := parseDigest(digest)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, iters, mem, threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(got, key) == 1, nil
}

// parseDigest decodes a "$argon2id$v=19$m=...,t=...,p=...$salt$key" string.
func parseDigest(digest string) ([]byte, []byte, uint32, uint32, uint8, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, errs.ErrCorruptDigest
	}
	var version int
	if n, err := fmt.Sscanf(parts[2], "v=%d", &version); n != 1 || err != nil || version != argon2.Version {
		return nil, nil, 0, 0, 0, errs.ErrCorruptDigest
	}
	var mem, iters uint32
	var threads uint8
	if n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &threads); n != 3 || err != nil {
		return nil, nil, 0, 0, 0, errs.ErrCorruptDigest
	}
	if iters < 1 || threads < 1 || mem < 8 || mem > maxDigestMemory {
		return nil, nil, 0, 0, 0, errs.ErrCorruptDigest
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return nil, nil, 0, 0, 0, errs.ErrCorruptDigest
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, nil, 0, 0, 0, errs.ErrCorruptDigest
	}
	return salt, key, mem, iters, threads, nil
}
