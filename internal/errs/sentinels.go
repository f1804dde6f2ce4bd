// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrWeakCredential indicates a password below the minimum length policy.
	ErrWeakCredential = errors.New("weak credential")

	// ErrCorruptDigest indicates a stored password digest that cannot be parsed.
	ErrCorruptDigest = errors.New("corrupt digest")

	// ErrSessionNotFound indicates an absent or expired session reference.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPersistence indicates a failed durable write; no delivery is attempted after it.
	ErrPersistence = errors.New("persistence failure")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")
)
