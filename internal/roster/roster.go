// Package roster holds the set of registered identities and is the
// single source of truth for "who exists". Every successful mutation is
// persisted to the configured store before returning; a store failure is
// logged and the in-memory roster remains authoritative.
package roster

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrNameTaken is returned by Register when the display name is already
// held by another identity. Comparison is case-sensitive exact match.
var ErrNameTaken = errors.New("name taken")

// Identity is a registered participant.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Roster is the mutex-guarded identity set, kept in insertion order.
type Roster struct {
	mu         sync.RWMutex
	identities []Identity
	byName     map[string]int // name -> index into identities
	byID       map[string]int // id -> index into identities
	store      Store
}

// New creates a roster backed by store. If store is non-nil, the
// persisted roster is loaded once; a missing file loads as empty.
func New(store Store) (*Roster, error) {
	r := &Roster{
		byName: make(map[string]int),
		byID:   make(map[string]int),
		store:  store,
	}

	if store != nil {
		loaded, err := store.Load()
		if err != nil {
			return nil, err
		}
		for _, id := range loaded {
			if _, dup := r.byName[id.Name]; dup {
				slog.Warn("roster load: skipping duplicate name", "name", id.Name)
				continue
			}
			r.byName[id.Name] = len(r.identities)
			r.byID[id.ID] = len(r.identities)
			r.identities = append(r.identities, id)
		}
	}

	return r, nil
}

// Register creates a fresh identity for name and persists the roster.
// Returns ErrNameTaken if any identity already holds the name.
func (r *Roster) Register(name string) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return Identity{}, ErrNameTaken
	}

	id := Identity{ID: uuid.NewString(), Name: name}
	r.byName[name] = len(r.identities)
	r.byID[id.ID] = len(r.identities)
	r.identities = append(r.identities, id)

	r.persistLocked()
	slog.Info("identity registered", "id", id.ID, "name", id.Name)
	return id, nil
}

// Verify reports whether an identity with both matching id and name exists.
func (r *Roster) Verify(id, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byID[id]
	if !ok {
		return false
	}
	return r.identities[idx].Name == name
}

// Remove deletes the identity with the given id, persisting on success.
// Returns whether a removal occurred.
func (r *Roster) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok {
		return false
	}

	removed := r.identities[idx]
	r.identities = append(r.identities[:idx], r.identities[idx+1:]...)
	delete(r.byID, removed.ID)
	delete(r.byName, removed.Name)
	// Reindex entries shifted left by the removal.
	for i := idx; i < len(r.identities); i++ {
		r.byID[r.identities[i].ID] = i
		r.byName[r.identities[i].Name] = i
	}

	r.persistLocked()
	slog.Info("identity removed", "id", removed.ID, "name", removed.Name)
	return true
}

// Snapshot returns a copy of the roster in insertion order.
func (r *Roster) Snapshot() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Identity, len(r.identities))
	copy(out, r.identities)
	return out
}

// Len returns the number of registered identities.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}

// persistLocked writes the full roster through the store. Durability is
// best-effort: a write error never rolls back the in-memory mutation.
// Caller must hold r.mu, which also serializes file writes.
func (r *Roster) persistLocked() {
	if r.store == nil {
		return
	}
	if err := r.store.Save(r.identities); err != nil {
		slog.Error("roster persist failed", "error", err, "identities", len(r.identities))
	}
}
