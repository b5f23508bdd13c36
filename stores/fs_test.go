package stores

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFS_Contract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := NewFS(path, "")
	if err != nil {
		t.Fatalf("NewFS() error = %v", err)
	}

	if err := s.Set("a", "1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if v, ok, _ := s.Get("a"); !ok || v != "1" {
		t.Errorf("Get(a) = (%q, %v), want (1, true)", v, ok)
	}
	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if has, _ := s.Has("a"); has {
		t.Error("Has(a) = true after Remove")
	}
}

func TestFS_SurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	first, err := NewFS(path, "")
	if err != nil {
		t.Fatalf("NewFS() error = %v", err)
	}
	if err := first.Set("account", "acct-a"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	second, err := NewFS(path, "")
	if err != nil {
		t.Fatalf("NewFS() reload error = %v", err)
	}
	if v, ok, _ := second.Get("account"); !ok || v != "acct-a" {
		t.Errorf("reloaded Get(account) = (%q, %v), want (acct-a, true)", v, ok)
	}
}

func TestFS_MissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	s, err := NewFS(path, "")
	if err != nil {
		t.Fatalf("NewFS() error = %v", err)
	}
	keys, _ := s.Keys()
	if len(keys) != 0 {
		t.Errorf("Keys() = %v, want none", keys)
	}

	// First write creates the parent directory.
	if err := s.Set("a", "1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("state file missing after Set: %v", err)
	}
}
