// Package session maintains opaque session references for authenticated users.
package session

import (
	"encoding/base64"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/donewithit/server/internal/crypto"
	"github.com/donewithit/server/internal/errs"
)

// refLen is the byte length of a reference before encoding (256 bits entropy).
const refLen = 32

// Manager owns the in-process session store. State is scoped to the process
// lifetime; a single mutex serializes all access.
type Manager struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time // swapped in tests
	refs map[string]entry
}

type entry struct {
	userID    uuid.UUID
	expiresAt time.Time
}

// NewManager constructs a Manager whose references expire after ttl.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{ttl: ttl, now: time.Now, refs: make(map[string]entry)}
}

// Establish creates a new unguessable reference bound to userID. Prior
// references for the same user remain valid; there is no single-session
// constraint.
func (m *Manager) Establish(userID uuid.UUID) (string, error) {
	b, err := crypto.RandBytes(refLen)
	if err != nil {
		return "", err
	}
	ref := base64.RawURLEncoding.EncodeToString(b)

	m.mu.Lock()
	m.refs[ref] = entry{userID: userID, expiresAt: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return ref, nil
}

// Resolve returns the user id bound to ref. Absent or expired references
// resolve as errs.ErrSessionNotFound, never as a stale user id.
func (m *Manager) Resolve(ref string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.refs[ref]
	if !ok {
		return uuid.Nil, errs.ErrSessionNotFound
	}
	if !e.expiresAt.After(m.now()) {
		delete(m.refs, ref)
		return uuid.Nil, errs.ErrSessionNotFound
	}
	return e.userID, nil
}

// Revoke removes ref. Revoking an absent reference is not an error.
func (m *Manager) Revoke(ref string) {
	m.mu.Lock()
	delete(m.refs, ref)
	m.mu.Unlock()
}

// RevokeUser removes every reference bound to userID.
func (m *Manager) RevokeUser(userID uuid.UUID) {
	m.mu.Lock()
	for ref, e := range m.refs {
		if e.userID == userID {
			delete(m.refs, ref)
		}
	}
	m.mu.Unlock()
}

// PurgeExpired drops expired references and reports how many were removed.
// Resolve also drops lazily; this keeps the map from growing unbounded.
func (m *Manager) PurgeExpired() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for ref, e := range m.refs {
		if !e.expiresAt.After(now) {
			delete(m.refs, ref)
			n++
		}
	}
	return n
}
