package session

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestLoadMissingDocument(t *testing.T) {
	s := newTestStore(t)

	attrs, err := s.Load("alice@example.com")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(attrs) != 0 {
		t.Fatalf("expected empty attributes, got %v", attrs)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	attrs := Attributes{"token": "abc123", "uid": "42"}
	if err := s.Save("alice@example.com", attrs); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Load("alice@example.com")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got["token"] != "abc123" || got["uid"] != "42" {
		t.Fatalf("unexpected attributes: %v", got)
	}
}

func TestSavePreservesOtherAccounts(t *testing.T) {
	s := newTestStore(t)

	if err := s.Save("alice@example.com", Attributes{"token": "a"}); err != nil {
		t.Fatalf("Save alice failed: %v", err)
	}
	if err := s.Save("bob@example.com", Attributes{"token": "b"}); err != nil {
		t.Fatalf("Save bob failed: %v", err)
	}

	alice, err := s.Load("alice@example.com")
	if err != nil {
		t.Fatalf("Load alice failed: %v", err)
	}
	if alice["token"] != "a" {
		t.Fatalf("alice's record was clobbered: %v", alice)
	}
}

func TestLoadMissingAccount(t *testing.T) {
	s := newTestStore(t)

	if err := s.Save("alice@example.com", Attributes{"token": "a"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	attrs, err := s.Load("carol@example.com")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(attrs) != 0 {
		t.Fatalf("expected empty attributes, got %v", attrs)
	}
}

func TestLoadCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, "")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, stateFile), []byte("not = = toml"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := s.Load("alice@example.com"); err == nil {
		t.Fatal("expected error for corrupt document")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Save("alice@example.com", Attributes{"token": "a"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Delete("alice@example.com"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	attrs, err := s.Load("alice@example.com")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(attrs) != 0 {
		t.Fatalf("expected empty attributes after delete, got %v", attrs)
	}
}

func TestTypedAccessors(t *testing.T) {
	attrs := Attributes{}
	attrs.SetInt64("mid", -5)
	attrs.SetUint64("counter", 18446744073709551615)
	attrs.SetBool("ok", true)
	attrs.SetString("token", "t")

	if v := attrs.GetInt64("mid", 0); v != -5 {
		t.Errorf("GetInt64 = %d, want -5", v)
	}
	if v := attrs.GetUint64("counter", 0); v != 18446744073709551615 {
		t.Errorf("GetUint64 = %d", v)
	}
	if !attrs.GetBool("ok", false) {
		t.Error("GetBool = false, want true")
	}
	if v, ok := attrs.GetString("token"); !ok || v != "t" {
		t.Errorf("GetString = %q, %v", v, ok)
	}

	// Absent and malformed keys fall back to the default.
	if v := attrs.GetInt64("missing", 7); v != 7 {
		t.Errorf("GetInt64 default = %d, want 7", v)
	}
	attrs.SetString("bad", "not-a-number")
	if v := attrs.GetUint64("bad", 9); v != 9 {
		t.Errorf("GetUint64 on garbage = %d, want 9", v)
	}
}

func TestSealedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	if err := os.WriteFile(keyFile, []byte("hunter2\n"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	s, err := NewStore(dir, keyFile)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if err := s.Save("alice@example.com", Attributes{"token": "secret"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// On-disk bytes must not contain the plaintext.
	raw, err := os.ReadFile(filepath.Join(dir, stateFile))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !isSealed(raw) {
		t.Fatal("document was not sealed")
	}

	got, err := s.Load("alice@example.com")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got["token"] != "secret" {
		t.Fatalf("unexpected attributes: %v", got)
	}
}

func TestSealedDocumentWithoutKey(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	if err := os.WriteFile(keyFile, []byte("hunter2"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	sealed, err := NewStore(dir, keyFile)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := sealed.Save("alice@example.com", Attributes{"token": "secret"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	plain, err := NewStore(dir, "")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, err := plain.Load("alice@example.com"); err == nil {
		t.Fatal("expected error loading sealed document without key")
	}
}
