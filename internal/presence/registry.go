// Package presence tracks which users currently hold live real-time channels.
package presence

import (
	"sync"

	"github.com/gofrs/uuid/v5"
)

// Registry is a process-wide multimap of user id to live channel ids. It is
// written only by the real-time transport's connect/disconnect handlers and
// read by the message router; a single RWMutex serializes mutation.
type Registry struct {
	mu        sync.RWMutex
	byUser    map[uuid.UUID][]string // channels in registration order
	byChannel map[string]uuid.UUID
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser:    make(map[uuid.UUID][]string),
		byChannel: make(map[string]uuid.UUID),
	}
}

// Register adds a (user, channel) pair. Registering the same pair twice is a
// no-op. A channel id already held by another user is moved to the new owner:
// channel reuse across reconnect is an owner change, not an error.
func (r *Registry) Register(userID uuid.UUID, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byChannel[channelID]; ok {
		if prev == userID {
			return
		}
		r.dropChannelLocked(prev, channelID)
	}
	r.byChannel[channelID] = userID
	r.byUser[userID] = append(r.byUser[userID], channelID)
}

// Unregister removes the pair keyed by channelID. Absent channels are ignored.
func (r *Registry) Unregister(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byChannel[channelID]
	if !ok {
		return
	}
	delete(r.byChannel, channelID)
	r.dropChannelLocked(userID, channelID)
}

func (r *Registry) dropChannelLocked(userID uuid.UUID, channelID string) {
	chans := r.byUser[userID]
	for i, id := range chans {
		if id == channelID {
			chans = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(chans) == 0 {
		delete(r.byUser, userID)
		return
	}
	r.byUser[userID] = chans
}

// IsOnline reports whether at least one channel is registered for userID.
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ChannelsFor returns the currently-live channels for userID in registration
// order. The returned slice is a copy.
func (r *Registry) ChannelsFor(userID uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chans := r.byUser[userID]
	if len(chans) == 0 {
		return nil
	}
	out := make([]string, len(chans))
	copy(out, chans)
	return out
}

// Len returns the number of live channels across all users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byChannel)
}
