package p2p

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/uppe-net/uppe/internal/crypto"
	"github.com/uppe-net/uppe/internal/monitor"
)

func signedResultBytes(t *testing.T, kp *crypto.KeyPair, ts time.Time, peerIDOverride string) []byte {
	t.Helper()
	result := monitor.CheckResult{
		MonitorUUID: uuid.New(),
		Target:      "https://example.com",
		Timestamp:   ts,
		Status:      monitor.StatusUp,
		PeerID:      kp.PeerID(),
	}
	signable, err := result.SignableJSON()
	if err != nil {
		t.Fatal(err)
	}
	result.Signature = crypto.Sign(kp, signable)

	if peerIDOverride != "" {
		result.PeerID = peerIDOverride
	}

	var pubKey [32]byte
	copy(pubKey[:], kp.PublicKey())
	data, err := json.Marshal(monitor.SignedMessage{Result: result, PublicKey: pubKey})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestAdmitSignedResultAccepts(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	data := signedResultBytes(t, kp, now, "")

	result, reason, err := admitSignedResult(data, "peer-from", now)
	if err != nil {
		t.Fatal(err)
	}
	if reason != "" {
		t.Fatalf("expected acceptance, got reason %q", reason)
	}
	if !result.Verified || result.SourcePeerID != "peer-from" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestAdmitSignedResultRejectsPeerIDMismatch(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	data := signedResultBytes(t, kp, now, "some-other-peer-id")

	_, reason, err := admitSignedResult(data, "peer-from", now)
	if err != nil {
		t.Fatal(err)
	}
	if reason != "peer_id_mismatch" {
		t.Fatalf("expected peer_id_mismatch, got %q", reason)
	}
}

func TestAdmitSignedResultRejectsTamperedSignature(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	data := signedResultBytes(t, kp, now, "")

	var signed monitor.SignedMessage
	if err := json.Unmarshal(data, &signed); err != nil {
		t.Fatal(err)
	}
	signed.Result.Target = "https://tampered.example.com"
	tampered, err := json.Marshal(signed)
	if err != nil {
		t.Fatal(err)
	}

	_, reason, err := admitSignedResult(tampered, "peer-from", now)
	if err != nil {
		t.Fatal(err)
	}
	if reason != "invalid_signature" {
		t.Fatalf("expected invalid_signature, got %q", reason)
	}
}

func TestAdmitSignedResultRejectsTimestampSkew(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	future := now.Add(301 * time.Second)
	data := signedResultBytes(t, kp, future, "")

	_, reason, err := admitSignedResult(data, "peer-from", now)
	if err != nil {
		t.Fatal(err)
	}
	if reason != "timestamp_skew" {
		t.Fatalf("expected timestamp_skew, got %q", reason)
	}
}

func TestAdmitSignedResultAcceptsBoundaryTimestamp(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	withinBounds := now.Add(299 * time.Second)
	data := signedResultBytes(t, kp, withinBounds, "")

	_, reason, err := admitSignedResult(data, "peer-from", now)
	if err != nil {
		t.Fatal(err)
	}
	if reason != "" {
		t.Fatalf("expected acceptance at 299s skew, got reason %q", reason)
	}
}

func TestPeerIDToPubKeyArrayRoundTrips(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	arr := peerIDToPubKeyArray(kp.PeerID())
	if string(arr[:]) != string(kp.PublicKey()) {
		t.Fatalf("expected round-tripped public key to match")
	}
}
