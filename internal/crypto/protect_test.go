package crypto

import (
	"path/filepath"
	"testing"
)

func TestLoadOrGenerateProtectedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")
	pass := []byte("correct horse battery staple")

	kp, err := LoadOrGenerateProtected(path, pass)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	loaded, err := LoadOrGenerateProtected(path, pass)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.PeerID() != kp.PeerID() {
		t.Fatal("expected the same identity after reloading")
	}
}

func TestLoadProtectedRejectsWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")
	if _, err := LoadOrGenerateProtected(path, []byte("right")); err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := LoadProtected(path, []byte("wrong")); err == nil {
		t.Fatal("expected decryption to fail with the wrong passphrase")
	}
}

func TestIsProtectedDistinguishesFormats(t *testing.T) {
	plainPath := filepath.Join(t.TempDir(), "plain.key")
	if _, err := LoadOrGenerate(plainPath); err != nil {
		t.Fatalf("generate plain: %v", err)
	}
	if protected, err := IsProtected(plainPath); err != nil || protected {
		t.Fatalf("expected a raw seed file to report unprotected, got protected=%v err=%v", protected, err)
	}

	protectedPath := filepath.Join(t.TempDir(), "protected.key")
	if _, err := LoadOrGenerateProtected(protectedPath, []byte("pw")); err != nil {
		t.Fatalf("generate protected: %v", err)
	}
	if protected, err := IsProtected(protectedPath); err != nil || !protected {
		t.Fatalf("expected a protected file to report protected, got protected=%v err=%v", protected, err)
	}
}
