package roster

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRegisterAndSnapshot(t *testing.T) {
	r, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	alice, err := r.Register("alice")
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	if alice.ID == "" {
		t.Error("registered identity has empty id")
	}
	if alice.Name != "alice" {
		t.Errorf("name = %q, want %q", alice.Name, "alice")
	}

	bob, err := r.Register("bob")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	if bob.ID == alice.ID {
		t.Error("ids must be unique")
	}

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot length = %d, want 2", len(snap))
	}
	if snap[0].Name != "alice" || snap[1].Name != "bob" {
		t.Errorf("snapshot order = %q, %q; want alice, bob", snap[0].Name, snap[1].Name)
	}
}

func TestRegisterNameTaken(t *testing.T) {
	r, _ := New(nil)

	if _, err := r.Register("alice"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := r.Register("alice")
	if !errors.Is(err, ErrNameTaken) {
		t.Errorf("duplicate register error = %v, want ErrNameTaken", err)
	}
	if r.Len() != 1 {
		t.Errorf("roster length after conflict = %d, want 1", r.Len())
	}
}

func TestRegisterNameCaseSensitive(t *testing.T) {
	r, _ := New(nil)

	if _, err := r.Register("Alice"); err != nil {
		t.Fatalf("register Alice: %v", err)
	}
	if _, err := r.Register("alice"); err != nil {
		t.Errorf("register alice after Alice: %v (names are case-sensitive)", err)
	}
}

func TestVerify(t *testing.T) {
	r, _ := New(nil)
	alice, _ := r.Register("alice")

	tests := []struct {
		name string
		id   string
		user string
		want bool
	}{
		{"exact match", alice.ID, "alice", true},
		{"wrong name", alice.ID, "bob", false},
		{"wrong id", "nonexistent", "alice", false},
		{"both wrong", "nonexistent", "bob", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Verify(tt.id, tt.user); got != tt.want {
				t.Errorf("Verify(%q, %q) = %v, want %v", tt.id, tt.user, got, tt.want)
			}
		})
	}
}

func TestRemove(t *testing.T) {
	r, _ := New(nil)
	alice, _ := r.Register("alice")
	bob, _ := r.Register("bob")
	carol, _ := r.Register("carol")

	if !r.Remove(bob.ID) {
		t.Error("remove existing identity should return true")
	}
	if r.Remove(bob.ID) {
		t.Error("second remove should return false")
	}

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("roster length = %d, want 2", len(snap))
	}
	if snap[0].ID != alice.ID || snap[1].ID != carol.ID {
		t.Errorf("insertion order not preserved after removal: %v", snap)
	}

	// Name is free for re-registration after removal.
	if _, err := r.Register("bob"); err != nil {
		t.Errorf("re-register removed name: %v", err)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	r, _ := New(nil)
	r.Register("alice")

	snap := r.Snapshot()
	snap[0].Name = "mallory"

	if r.Snapshot()[0].Name != "alice" {
		t.Error("mutating a snapshot must not affect the roster")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	store := NewFileStore(path)

	r, err := New(store)
	if err != nil {
		t.Fatalf("New with missing file: %v", err)
	}
	alice, _ := r.Register("alice")
	r.Register("bob")

	// A second roster loading the same file sees both identities.
	r2, err := New(NewFileStore(path))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	snap := r2.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("reloaded length = %d, want 2", len(snap))
	}
	if !r2.Verify(alice.ID, "alice") {
		t.Error("reloaded roster should verify alice")
	}
}

func TestFileStorePersistsRemoval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")

	r, _ := New(NewFileStore(path))
	alice, _ := r.Register("alice")
	r.Remove(alice.ID)

	r2, _ := New(NewFileStore(path))
	if r2.Len() != 0 {
		t.Errorf("reloaded length after removal = %d, want 0", r2.Len())
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	ids, err := store.Load()
	if err != nil {
		t.Fatalf("missing file should load as empty, got %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("missing file loaded %d identities, want 0", len(ids))
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	os.WriteFile(path, []byte("{not json"), 0o644)

	if _, err := New(NewFileStore(path)); err == nil {
		t.Error("corrupt roster file should fail to load")
	}
}

// failingStore always errors on Save.
type failingStore struct{}

func (failingStore) Load() ([]Identity, error) { return nil, nil }
func (failingStore) Save([]Identity) error     { return errors.New("disk full") }

func TestPersistFailureDoesNotRollBack(t *testing.T) {
	r, err := New(failingStore{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	alice, err := r.Register("alice")
	if err != nil {
		t.Fatalf("register despite persist failure: %v", err)
	}
	if !r.Verify(alice.ID, "alice") {
		t.Error("in-memory roster must keep the identity when persistence fails")
	}
}
