package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	NonceSize = chacha20poly1305.NonceSizeX // 24 bytes, XChaCha20's extended nonce
)

// ErrDecrypt is returned for any AEAD failure: wrong key, tampered
// ciphertext, or truncated input. Never distinguish the cause — that
// would be an oracle.
var ErrDecrypt = errors.New("crypto: decryption failed")

// EncryptedResult is the per-message envelope for private monitors
// (data model §3). Derived by ephemeral-static ECDH (ephemeral_secret
// × owner_public) followed by XChaCha20-Poly1305 with a freshly random
// nonce per call, giving forward secrecy per invariant: every
// encryption uses an independently random ephemeral keypair.
type EncryptedResult struct {
	OwnerPeerID     string `json:"owner_peer_id"`
	MonitorUUID     string `json:"monitor_uuid"`
	HelperPeerID    string `json:"helper_peer_id"`
	Timestamp       int64  `json:"timestamp"`
	EphemeralPubKey [32]byte `json:"ephemeral_pubkey"`
	Nonce           [24]byte `json:"nonce"`
	Ciphertext      []byte `json:"ciphertext"`
}

// encryptionAAD binds the ciphertext to its envelope metadata so a
// swapped owner/monitor/timestamp combination fails to decrypt even
// with the right key.
func encryptionAAD(ownerPeerID, monitorUUID, helperPeerID string, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%d", ownerPeerID, monitorUUID, helperPeerID, timestamp))
}

// deriveSharedKey runs X25519 ECDH between a local secret scalar and a
// remote public point, then HKDF-SHA256 to turn the raw shared point
// into a uniform 32-byte AEAD key. Mirrors vaultd's
// internal/sharing.ShareKeyWith / RecoverSharedKey pattern.
func deriveSharedKey(localSecret, remotePublic [32]byte, salt []byte) ([32]byte, error) {
	var shared [32]byte
	curve25519.ScalarMult(&shared, &localSecret, &remotePublic)

	var key [32]byte
	h := hkdf.New(sha256.New, shared[:], salt, []byte("uppe-private-result"))
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return key, fmt.Errorf("derive shared key: %w", err)
	}
	return key, nil
}

// EncryptResultForOwner encrypts plaintext (the helper's signed
// CheckResult JSON) for ownerPublic using a fresh ephemeral X25519
// keypair, per the helper-side encryption path in §4.10.
func EncryptResultForOwner(ownerPublic [32]byte, ownerPeerID, monitorUUID, helperPeerID string, timestamp int64, plaintext []byte) (*EncryptedResult, error) {
	var ephemeralSecret [32]byte
	if _, err := io.ReadFull(rand.Reader, ephemeralSecret[:]); err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	ephemeralSecret[0] &= 0xF8
	ephemeralSecret[31] &= 0x7F
	ephemeralSecret[31] |= 0x40

	var ephemeralPublic [32]byte
	curve25519.ScalarBaseMult(&ephemeralPublic, &ephemeralSecret)

	aad := encryptionAAD(ownerPeerID, monitorUUID, helperPeerID, timestamp)
	key, err := deriveSharedKey(ephemeralSecret, ownerPublic, ephemeralPublic[:])
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce[:], plaintext, aad)

	return &EncryptedResult{
		OwnerPeerID:     ownerPeerID,
		MonitorUUID:     monitorUUID,
		HelperPeerID:    helperPeerID,
		Timestamp:       timestamp,
		EphemeralPubKey: ephemeralPublic,
		Nonce:           nonce,
		Ciphertext:      ciphertext,
	}, nil
}

// DecryptResultForOwner reverses EncryptResultForOwner using the
// owner's X25519 secret scalar. Returns ErrDecrypt for any failure.
func DecryptResultForOwner(ownerSecret [32]byte, enc *EncryptedResult) ([]byte, error) {
	key, err := deriveSharedKey(ownerSecret, enc.EphemeralPubKey, enc.EphemeralPubKey[:])
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}

	aad := encryptionAAD(enc.OwnerPeerID, enc.MonitorUUID, enc.HelperPeerID, enc.Timestamp)
	plaintext, err := aead.Open(nil, enc.Nonce[:], enc.Ciphertext, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
