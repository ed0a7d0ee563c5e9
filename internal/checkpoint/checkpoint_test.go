package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsNil(t *testing.T) {
	state, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state != nil {
		t.Errorf("expected nil state for missing file, got %+v", state)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	want := OAIState{ResumptionToken: "abc123", Page: 7}
	if err := Save(path, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil || *got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	if err := Save(path, OAIState{ResumptionToken: "first", Page: 1}); err != nil {
		t.Fatalf("Save 1: %v", err)
	}
	if err := Save(path, OAIState{ResumptionToken: "second", Page: 2}); err != nil {
		t.Fatalf("Save 2: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ResumptionToken != "second" || got.Page != 2 {
		t.Errorf("expected second/2, got %+v", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly one file in checkpoint dir (no leftover temp files), got %d", len(entries))
	}
}

func TestClearRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := Save(path, OAIState{ResumptionToken: "x", Page: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected checkpoint file to be gone, stat err = %v", err)
	}
	// Clearing again must not error.
	if err := Clear(path); err != nil {
		t.Errorf("Clear on already-missing file should be a no-op, got %v", err)
	}
}
