package ledgerstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"geoexport/internal/apperrors"
	"geoexport/internal/export"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	desc := apperrors.Descriptor{
		MessageKey: "export.error.processFailed",
		Params:     map[string]string{"reason": "disk full"},
	}
	jobs := []export.Job{
		{ID: "j1", ResourceName: "topp:states", ResourceTitle: "USA States",
			Status: export.StatusCompleted,
			Result: &export.Result{Location: "http://example.com/out.zip"}},
		{ID: "j2", ResourceName: "topp:roads", Status: export.StatusFailed,
			Result: &export.Result{Error: &desc}},
	}

	if err := s.Save("alice", jobs); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := s.Load("alice")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d jobs, want 2", len(loaded))
	}
	if loaded[0].Result == nil || loaded[0].Result.Location != "http://example.com/out.zip" {
		t.Errorf("completed result not preserved: %+v", loaded[0].Result)
	}
	if loaded[1].Result == nil || loaded[1].Result.Error == nil {
		t.Fatalf("failed result not preserved: %+v", loaded[1].Result)
	}
	if loaded[1].Result.Error.MessageKey != desc.MessageKey {
		t.Errorf("MessageKey = %q, want %q", loaded[1].Result.Error.MessageKey, desc.MessageKey)
	}
}

func TestLoadDropsPendingJobs(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	jobs := []export.Job{
		{ID: "done", Status: export.StatusCompleted, Result: &export.Result{Location: "x"}},
		{ID: "stuck", Status: export.StatusPending},
		{ID: "broken", Status: export.StatusFailed},
	}
	if err := s.Save("alice", jobs); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := s.Load("alice")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d jobs, want 2 (pending dropped)", len(loaded))
	}
	for _, job := range loaded {
		if job.Status == export.StatusPending {
			t.Errorf("pending job %q survived the restore", job.ID)
		}
	}
}

func TestLoadMissingSlotIsEmpty(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	jobs, err := s.Load("nobody")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if jobs != nil {
		t.Errorf("jobs = %+v, want nil for a missing slot", jobs)
	}
}

func TestSlotsAreIsolatedPerUser(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	if err := s.Save("alice", []export.Job{{ID: "a", Status: export.StatusCompleted}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("bob", []export.Job{{ID: "b", Status: export.StatusCompleted}}); err != nil {
		t.Fatal(err)
	}

	alice, _ := s.Load("alice")
	bob, _ := s.Load("bob")
	if len(alice) != 1 || alice[0].ID != "a" {
		t.Errorf("alice slot = %+v", alice)
	}
	if len(bob) != 1 || bob[0].ID != "b" {
		t.Errorf("bob slot = %+v", bob)
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Save("alice", []export.Job{{ID: "old", Status: export.StatusCompleted}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("alice", []export.Job{{ID: "new", Status: export.StatusCompleted}}); err != nil {
		t.Fatal(err)
	}

	loaded, _ := s.Load("alice")
	if len(loaded) != 1 || loaded[0].ID != "new" {
		t.Errorf("loaded = %+v, want only the replacement", loaded)
	}

	// No temp files linger after the rename.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestSlotShapeOnDisk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Save("alice", []export.Job{{ID: "j1", Status: export.StatusCompleted}}); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "alice.json"))
	if err != nil {
		t.Fatalf("slot file missing: %v", err)
	}

	var shape map[string]json.RawMessage
	if err := json.Unmarshal(raw, &shape); err != nil {
		t.Fatalf("slot is not a JSON object: %v", err)
	}
	if _, ok := shape["results"]; !ok {
		t.Errorf("slot %s missing results key", raw)
	}
}

func TestSanitizeUserIdentity(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	// Identities with path separators and odd runes still get their own
	// slot and never escape the data directory.
	weird := "../she/../nanigans"
	if err := s.Save(weird, []export.Job{{ID: "w", Status: export.StatusCompleted}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := s.Load(weird)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "w" {
		t.Errorf("loaded = %+v", loaded)
	}

	if sanitize("alice") != "alice" {
		t.Errorf("sanitize(alice) = %q", sanitize("alice"))
	}
	if sanitize("") != "_" {
		t.Errorf("sanitize(empty) = %q", sanitize(""))
	}
	if got := sanitize("a/b"); got == "a/b" {
		t.Errorf("sanitize must escape separators, got %q", got)
	}
}

func TestEmptyUserRejected(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	if err := s.Save("", nil); err == nil {
		t.Error("expected Save with empty user to fail")
	}
	if _, err := s.Load(""); err == nil {
		t.Error("expected Load with empty user to fail")
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Check(); err != nil {
		t.Errorf("Check failed on a healthy directory: %v", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := s.Check(); err == nil {
		t.Error("expected Check to fail after the directory vanished")
	}
}
