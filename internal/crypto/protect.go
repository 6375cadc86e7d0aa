package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// protectedMagic marks a passphrase-protected keypair file so
// LoadOrGenerate's 32-byte raw-seed format is never mistaken for one,
// and vice versa.
var protectedMagic = [8]byte{'u', 'p', 'p', 'e', 'k', 'e', 'y', '1'}

const saltSize = 16

// passphraseKey stretches a passphrase into an AEAD key via HKDF over
// its SHA-256 digest. This guards a keypair file at rest, not a
// network-facing secret, so HKDF's speed is the right tradeoff against
// a slower KDF (scrypt/argon2) that the examples reach for elsewhere.
func passphraseKey(passphrase, salt []byte) ([32]byte, error) {
	digest := sha256.Sum256(passphrase)
	var key [32]byte
	h := hkdf.New(sha256.New, digest[:], salt, []byte("uppe-keyfile"))
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return key, fmt.Errorf("derive keyfile key: %w", err)
	}
	return key, nil
}

// SaveProtected writes seed to path encrypted under passphrase, in the
// layout: magic(8) || salt(16) || nonce(24) || ciphertext.
func SaveProtected(path string, seed [32]byte, passphrase []byte) error {
	var salt [saltSize]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	key, err := passphraseKey(passphrase, salt[:])
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return fmt.Errorf("create AEAD: %w", err)
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce[:], seed[:], protectedMagic[:])

	out := make([]byte, 0, len(protectedMagic)+saltSize+len(nonce)+len(ciphertext))
	out = append(out, protectedMagic[:]...)
	out = append(out, salt[:]...)
	out = append(out, nonce[:]...)
	out = append(out, ciphertext...)
	return os.WriteFile(path, out, 0o600)
}

// IsProtected reports whether the file at path is a passphrase-protected
// keypair file rather than a raw 32-byte seed.
func IsProtected(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return len(data) >= len(protectedMagic) && string(data[:len(protectedMagic)]) == string(protectedMagic[:]), nil
}

// LoadProtected decrypts a file written by SaveProtected.
func LoadProtected(path string, passphrase []byte) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file: %w", err)
	}
	minLen := len(protectedMagic) + saltSize + 24
	if len(data) < minLen || string(data[:len(protectedMagic)]) != string(protectedMagic[:]) {
		return nil, fmt.Errorf("%w: not a protected keypair file", ErrInvalidKey)
	}
	rest := data[len(protectedMagic):]
	salt, rest := rest[:saltSize], rest[saltSize:]
	nonce, ciphertext := rest[:24], rest[24:]

	key, err := passphraseKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, protectedMagic[:])
	if err != nil {
		return nil, fmt.Errorf("%w: wrong passphrase", ErrDecrypt)
	}
	if len(plaintext) != 32 {
		return nil, errors.New("crypto: decrypted seed has wrong length")
	}
	var seed [32]byte
	copy(seed[:], plaintext)
	return keyPairFromSeed(seed)
}

// LoadOrGenerateProtected is LoadOrGenerate's passphrase-gated sibling:
// it reads and decrypts an existing protected file, or generates a
// fresh keypair and writes it encrypted under passphrase.
func LoadOrGenerateProtected(path string, passphrase []byte) (*KeyPair, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		kp, err := GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		if err := SaveProtected(path, kp.Seed, passphrase); err != nil {
			return nil, err
		}
		return kp, nil
	}
	return LoadProtected(path, passphrase)
}
