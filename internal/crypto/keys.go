// Package crypto provides uppe's key material, signed-envelope codec,
// and per-result encryption. It follows vaultd's pkg/crypto +
// internal/sharing split: a plain AEAD primitive layer plus a
// higher-level keypair/ECDH layer, collapsed into one package because
// uppe has a single identity keypair rather than per-entry keys.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/curve25519"
)

// ErrInvalidKey is returned when key material is structurally malformed.
var ErrInvalidKey = errors.New("crypto: invalid key")

// KeyPair is a node's identity: an Ed25519 signing keypair plus the
// X25519 encryption keypair derived from the same seed by Curve25519
// clamping, per the data model's key-derivation contract.
type KeyPair struct {
	Seed       [32]byte // Ed25519 seed == raw keypair file contents
	signing    ed25519.PrivateKey
	public     ed25519.PublicKey
	x25519Priv [32]byte
	x25519Pub  [32]byte
}

// GenerateKeyPair creates a fresh random keypair.
func GenerateKeyPair() (*KeyPair, error) {
	var seed [32]byte
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	return keyPairFromSeed(seed)
}

// keyPairFromSeed derives the full KeyPair from a 32-byte Ed25519 seed,
// including the clamped X25519 scalar and its base-point public key.
// The clamping operation must match exactly: b[0]&=0xF8; b[31]&=0x7F;
// b[31]|=0x40 — this is the one place where getting the bit-twiddling
// wrong silently breaks every private-monitor decryption.
func keyPairFromSeed(seed [32]byte) (*KeyPair, error) {
	signing := ed25519.NewKeyFromSeed(seed[:])
	public := signing.Public().(ed25519.PublicKey)

	var x25519Priv [32]byte
	copy(x25519Priv[:], seed[:])
	x25519Priv[0] &= 0xF8
	x25519Priv[31] &= 0x7F
	x25519Priv[31] |= 0x40

	var x25519Pub [32]byte
	curve25519.ScalarBaseMult(&x25519Pub, &x25519Priv)

	return &KeyPair{
		Seed:       seed,
		signing:    signing,
		public:     public,
		x25519Priv: x25519Priv,
		x25519Pub:  x25519Pub,
	}, nil
}

// LoadOrGenerate reads a 32-byte raw seed file at path, generating and
// persisting a new one if the path does not exist. Fails with
// ErrInvalidKey if the file exists but is not exactly 32 bytes.
func LoadOrGenerate(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		kp, err := GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, kp.Seed[:], 0o600); err != nil {
			return nil, fmt.Errorf("write keypair file: %w", err)
		}
		return kp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keypair file: %w", err)
	}
	if len(data) != 32 {
		return nil, fmt.Errorf("%w: keypair file must be exactly 32 bytes, got %d", ErrInvalidKey, len(data))
	}
	var seed [32]byte
	copy(seed[:], data)
	return keyPairFromSeed(seed)
}

// PublicKey returns the raw 32-byte Ed25519 public key.
func (k *KeyPair) PublicKey() []byte {
	pk := make([]byte, len(k.public))
	copy(pk, k.public)
	return pk
}

// PeerID is the lowercase hex encoding of the public key — the node's
// globally unique identifier used for signing, routing, and access
// control.
func (k *KeyPair) PeerID() string {
	return hex.EncodeToString(k.public)
}

// SigningPrivateKey returns the raw 64-byte Ed25519 private key (seed
// || public), for callers that must hand the same identity key to a
// transport layer (e.g. libp2p's host identity) rather than sign
// through KeyPair.Sign directly.
func (k *KeyPair) SigningPrivateKey() ed25519.PrivateKey {
	out := make(ed25519.PrivateKey, len(k.signing))
	copy(out, k.signing)
	return out
}

// X25519PublicKey returns the derived 32-byte encryption public key.
func (k *KeyPair) X25519PublicKey() [32]byte {
	return k.x25519Pub
}

// X25519SecretKey returns the clamped 32-byte encryption secret scalar.
func (k *KeyPair) X25519SecretKey() [32]byte {
	return k.x25519Priv
}

// Sign produces a 64-byte Ed25519 signature over the given bytes.
func (k *KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(k.signing, message)
}

// PeerIDFromPublicKey is the same hex-encoding rule as KeyPair.PeerID,
// exposed standalone for validating a remote peer's claimed identity.
func PeerIDFromPublicKey(pub []byte) string {
	return hex.EncodeToString(pub)
}

// KeyID is the first 16 hex characters of SHA-256(publicKey) — the
// admin trust chain's key identifier, per REDESIGN FLAG (b): implement
// as "the first 16 hex-characters of the SHA-256 digest of the
// public-key bytes", not the source's ambiguous chars().take(16)-over-
// format! phrasing.
func KeyID(publicKey []byte) string {
	digest := sha256.Sum256(publicKey)
	return hex.EncodeToString(digest[:])[:16]
}
