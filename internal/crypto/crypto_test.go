package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	msg := []byte("hello uppe")
	sig := Sign(kp, msg)
	if !Verify(kp.PublicKey(), msg, sig) {
		t.Fatal("expected signature to verify")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	kp, _ := GenerateKeyPair()
	msg := []byte("hello uppe")
	sig := Sign(kp, msg)

	tamperedMsg := append([]byte(nil), msg...)
	tamperedMsg[0] ^= 0xFF
	if Verify(kp.PublicKey(), tamperedMsg, sig) {
		t.Fatal("expected tampered message to fail verification")
	}

	tamperedSig := append([]byte(nil), sig...)
	tamperedSig[0] ^= 0xFF
	if Verify(kp.PublicKey(), msg, tamperedSig) {
		t.Fatal("expected tampered signature to fail verification")
	}
}

func TestVerifyRejectsMalformedLengths(t *testing.T) {
	kp, _ := GenerateKeyPair()
	msg := []byte("hi")
	sig := Sign(kp, msg)

	if Verify(kp.PublicKey()[:16], msg, sig) {
		t.Fatal("expected short public key to fail")
	}
	if Verify(kp.PublicKey(), msg, sig[:32]) {
		t.Fatal("expected short signature to fail")
	}
}

func TestPeerIDIsHexOfPublicKey(t *testing.T) {
	kp, _ := GenerateKeyPair()
	id := kp.PeerID()
	if len(id) != 64 {
		t.Fatalf("expected 64-char peer id, got %d: %s", len(id), id)
	}
	if !VerifyPeerIdentity(id, kp.PublicKey()) {
		t.Fatal("expected peer id to match public key")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	owner, _ := GenerateKeyPair()
	plaintext := []byte(`{"status":"up"}`)

	enc, err := EncryptResultForOwner(owner.X25519PublicKey(), owner.PeerID(), "monitor-1", "helper-1", 1000, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := DecryptResultForOwner(owner.X25519SecretKey(), enc)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %s want %s", got, plaintext)
	}

	other, _ := GenerateKeyPair()
	if _, err := DecryptResultForOwner(other.X25519SecretKey(), enc); err == nil {
		t.Fatal("expected decryption with wrong key to fail")
	}
}

func TestEncryptionIsForwardSecret(t *testing.T) {
	owner, _ := GenerateKeyPair()
	plaintext := []byte("ping")

	enc1, _ := EncryptResultForOwner(owner.X25519PublicKey(), owner.PeerID(), "m", "h", 1, plaintext)
	enc2, _ := EncryptResultForOwner(owner.X25519PublicKey(), owner.PeerID(), "m", "h", 1, plaintext)

	if enc1.EphemeralPubKey == enc2.EphemeralPubKey {
		t.Fatal("expected distinct ephemeral public keys across encryptions")
	}
	if bytes.Equal(enc1.Ciphertext, enc2.Ciphertext) {
		t.Fatal("expected distinct ciphertexts across encryptions")
	}

	p1, err := DecryptResultForOwner(owner.X25519SecretKey(), enc1)
	if err != nil || !bytes.Equal(p1, plaintext) {
		t.Fatalf("enc1 failed to decrypt: %v", err)
	}
	p2, err := DecryptResultForOwner(owner.X25519SecretKey(), enc2)
	if err != nil || !bytes.Equal(p2, plaintext) {
		t.Fatalf("enc2 failed to decrypt: %v", err)
	}
}

func TestX25519DerivationIsDeterministicFromSeed(t *testing.T) {
	kp, _ := GenerateKeyPair()
	kp2, err := keyPairFromSeed(kp.Seed)
	if err != nil {
		t.Fatalf("rederive: %v", err)
	}
	if kp.X25519PublicKey() != kp2.X25519PublicKey() {
		t.Fatal("expected deterministic X25519 derivation from seed")
	}
}

func TestKeyIDIsFirst16HexCharsOfSHA256(t *testing.T) {
	kp, _ := GenerateKeyPair()
	id := KeyID(kp.PublicKey())
	if len(id) != 16 {
		t.Fatalf("expected 16-char key id, got %d", len(id))
	}
	digest := sha256.Sum256(kp.PublicKey())
	if want := hex.EncodeToString(digest[:])[:16]; id != want {
		t.Fatalf("expected key id %s, got %s", want, id)
	}
}

func TestLoadOrGenerateRejectsWrongLength(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/keypair"
	if err := os.WriteFile(path, []byte("too-short"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadOrGenerate(path); err == nil {
		t.Fatal("expected error for non-32-byte keypair file")
	}
}
