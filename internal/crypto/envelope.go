package crypto

import (
	"crypto/ed25519"
	"fmt"
)

// Sign produces a 64-byte signature over message using kp's signing key.
func Sign(kp *KeyPair, message []byte) []byte {
	return kp.Sign(message)
}

// Verify returns true only when publicKey is exactly 32 bytes,
// signature is exactly 64 bytes, and the signature verifies over
// message under publicKey. Every other case, including a public key of
// the wrong length, yields false; Verify has no error result and does
// not report ErrInvalidKey for a structurally malformed key.
func Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

// CanonicalVoteBytes builds the signable byte string for an
// OrchestrationVote: "domain:schedule_json:timestamp".
func CanonicalVoteBytes(domain string, scheduleJSON []byte, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s:%s:%d", domain, scheduleJSON, timestamp))
}

// VerifyPeerIdentity checks the peer_id == hex(public_key) invariant
// the data model requires of every SignedResult.
func VerifyPeerIdentity(peerID string, publicKey []byte) bool {
	return peerID == PeerIDFromPublicKey(publicKey)
}
