package trust

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/uppe-net/uppe/internal/crypto"
	"github.com/uppe-net/uppe/internal/netlog"
)

func adminKeyFrom(kp *crypto.KeyPair, validFrom, validUntil time.Time, description string) AdminKey {
	pubB64 := base64.StdEncoding.EncodeToString(kp.PublicKey())
	return AdminKey{
		PublicKey:   pubB64,
		ValidFrom:   validFrom.Unix(),
		ValidUntil:  validUntil.Unix(),
		KeyID:       ComputeKeyID(pubB64),
		Description: description,
	}
}

func TestEmptyChainHasNoKeys(t *testing.T) {
	c := EmptyChain()
	if len(c.CurrentKeys) != 0 || c.Version != 0 {
		t.Fatalf("expected empty chain, got %+v", c)
	}
}

func TestAdminKeyValidityWindow(t *testing.T) {
	now := time.Now()
	expired := AdminKey{ValidFrom: now.Add(-1000 * time.Second).Unix(), ValidUntil: now.Add(-100 * time.Second).Unix()}
	if !expired.IsExpired(now) {
		t.Fatal("expected key to be expired")
	}

	valid := AdminKey{ValidFrom: now.Add(-100 * time.Second).Unix(), ValidUntil: now.Add(100 * time.Second).Unix()}
	if !valid.IsValid(now) || valid.IsExpired(now) {
		t.Fatal("expected key to be currently valid")
	}
}

func TestChainVerifyRejectsEmptyKeys(t *testing.T) {
	c := EmptyChain()
	valid, err := c.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if valid {
		t.Fatal("expected empty chain to fail verification")
	}
}

func TestApplyRotationAndVerify(t *testing.T) {
	rootKP, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	root := adminKeyFrom(rootKP, now.Add(-time.Hour), now.Add(365*24*time.Hour), "root")

	c := EmptyChain()
	c.CurrentKeys = []AdminKey{root}

	newKP, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	newKey := adminKeyFrom(newKP, now, now.Add(365*24*time.Hour), "rotated")

	message, err := json.Marshal(newKey)
	if err != nil {
		t.Fatal(err)
	}
	rotation := KeyRotation{
		NewKey:        newKey,
		SignedByKeyID: root.KeyID,
		Signature:     crypto.Sign(rootKP, message),
		RotatedAt:     now.Unix(),
		Reason:        "scheduled rotation",
	}

	if err := c.ApplyRotation(rotation); err != nil {
		t.Fatalf("expected rotation to apply, got %v", err)
	}

	valid, err := c.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !valid {
		t.Fatal("expected chain with valid rotation to verify")
	}
}

func TestApplyRotationRejectsForgedSignature(t *testing.T) {
	rootKP, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	root := adminKeyFrom(rootKP, now.Add(-time.Hour), now.Add(365*24*time.Hour), "root")
	c := EmptyChain()
	c.CurrentKeys = []AdminKey{root}

	newKP, _ := crypto.GenerateKeyPair()
	newKey := adminKeyFrom(newKP, now, now.Add(365*24*time.Hour), "rotated")

	rotation := KeyRotation{
		NewKey:        newKey,
		SignedByKeyID: root.KeyID,
		Signature:     make([]byte, 64), // all-zero, not a real signature
		RotatedAt:     now.Unix(),
	}

	if err := c.ApplyRotation(rotation); err == nil {
		t.Fatal("expected forged rotation signature to be rejected")
	}
}

func TestRevocationListVerifyAndApply(t *testing.T) {
	rootKP, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	root := adminKeyFrom(rootKP, now.Add(-time.Hour), now.Add(365*24*time.Hour), "root")
	c := EmptyChain()
	c.CurrentKeys = []AdminKey{root}
	c.RevocationList.SignedByKeyID = root.KeyID

	list := RevocationList{
		RevokedKeys:       map[string]bool{"some-other-key": true},
		RevocationReasons: map[string]string{"some-other-key": "compromised"},
		RevokedAt:         map[string]int64{"some-other-key": now.Unix()},
		SignedByKeyID:     root.KeyID,
		Version:           1,
		IssuedAt:          now.Unix(),
	}
	message, err := list.signableJSON()
	if err != nil {
		t.Fatal(err)
	}
	list.Signature = crypto.Sign(rootKP, message)

	if err := c.UpdateRevocationList(list, now); err != nil {
		t.Fatalf("expected CRL update to succeed, got %v", err)
	}
	if !c.RevocationList.IsRevoked("some-other-key") {
		t.Fatal("expected key to be revoked after CRL update")
	}

	// A CRL with an equal or lower version must be rejected.
	if err := c.UpdateRevocationList(list, now); err == nil {
		t.Fatal("expected stale CRL version to be rejected")
	}
}

func TestManagerVerifyAdminSignature(t *testing.T) {
	rootKP, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	root := adminKeyFrom(rootKP, now.Add(-time.Hour), now.Add(365*24*time.Hour), "root")
	c := EmptyChain()
	c.CurrentKeys = []AdminKey{root}

	m, err := FromChain(c, netlog.Noop{})
	if err != nil {
		t.Fatal(err)
	}

	message := []byte("admin operation payload")
	sig := crypto.Sign(rootKP, message)

	valid, err := m.VerifyAdminSignature(root.KeyID, message, sig)
	if err != nil {
		t.Fatal(err)
	}
	if !valid {
		t.Fatal("expected admin signature to verify")
	}

	tampered := append([]byte(nil), sig...)
	tampered[0] ^= 0xFF
	valid, err = m.VerifyAdminSignature(root.KeyID, message, tampered)
	if err != nil {
		t.Fatal(err)
	}
	if valid {
		t.Fatal("expected tampered admin signature to fail")
	}
}
