package consensus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/uppe-net/uppe/internal/crypto"
)

func TestRateLimitValidateSchedule(t *testing.T) {
	r := NewRateLimitState()

	ok := OrchestrationSchedule{IntervalSeconds: 60}
	if err := r.ValidateSchedule(ok, 1); err != nil {
		t.Fatalf("expected 60s/1peer schedule to validate, got %v", err)
	}

	tooFast := OrchestrationSchedule{IntervalSeconds: 5}
	if err := r.ValidateSchedule(tooFast, 1); err == nil {
		t.Fatal("expected 5s/1peer schedule to be rejected")
	}
}

func TestRateLimitCanCheckEnforcesHourlyCap(t *testing.T) {
	r := NewRateLimitState()
	for i := uint64(0); i < r.MaxChecksPerPeerPerHour; i++ {
		if !r.CanCheck("peer1") {
			t.Fatalf("expected check %d to be allowed", i)
		}
	}
	if r.CanCheck("peer1") {
		t.Fatal("expected check beyond hourly cap to be rejected")
	}
}

func signVote(t *testing.T, domain string, schedule OrchestrationSchedule, voterPeerID string, ts int64) OrchestrationVote {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	scheduleJSON := mustMarshal(t, schedule)
	message := crypto.CanonicalVoteBytes(domain, scheduleJSON, ts)
	return OrchestrationVote{
		Domain:      domain,
		Schedule:    schedule,
		VoterPeerID: voterPeerID,
		Signature:   crypto.Sign(kp, message),
		PublicKey:   kp.PublicKey(),
		Timestamp:   ts,
	}
}

func TestConsensusReachedAtQuorum(t *testing.T) {
	schedule := OrchestrationSchedule{
		IntervalSeconds: 60,
		Assignments: []PeerAssignment{
			{PeerID: "peer0", NextCheckAt: 0, CheckSequence: 0},
			{PeerID: "peer1", NextCheckAt: 20, CheckSequence: 1},
			{PeerID: "peer2", NextCheckAt: 40, CheckSequence: 2},
		},
	}

	m := NewManager()
	m.GetOrCreate("test.com", schedule)

	now := time.Now().Unix()
	for i := 0; i < 3; i++ {
		vote := signVote(t, "test.com", schedule, peerName(i), now)
		if err := m.CastVote("test.com", vote); err != nil {
			t.Fatalf("vote %d rejected: %v", i, err)
		}
	}

	if _, ok := m.CheckConsensus("test.com", 3); !ok {
		t.Fatal("expected consensus with 3/3 votes")
	}
}

func TestConsensusRejectsDuplicateVoteFromSamePeer(t *testing.T) {
	schedule := OrchestrationSchedule{
		IntervalSeconds: 60,
		Assignments:     []PeerAssignment{{PeerID: "peer0", NextCheckAt: 0, CheckSequence: 0}},
	}
	m := NewManager()
	m.GetOrCreate("test.com", schedule)

	now := time.Now().Unix()
	v1 := signVote(t, "test.com", schedule, "peer0", now)
	if err := m.CastVote("test.com", v1); err != nil {
		t.Fatal(err)
	}
	v2 := signVote(t, "test.com", schedule, "peer0", now)
	if err := m.CastVote("test.com", v2); err == nil {
		t.Fatal("expected duplicate vote from same peer to be rejected")
	}
}

func TestConsensusRejectsForgedSignature(t *testing.T) {
	schedule := OrchestrationSchedule{IntervalSeconds: 60}
	m := NewManager()
	m.GetOrCreate("test.com", schedule)

	vote := signVote(t, "test.com", schedule, "peer0", time.Now().Unix())
	vote.Signature[0] ^= 0xFF
	if err := m.CastVote("test.com", vote); err == nil {
		t.Fatal("expected forged signature to be rejected")
	}
}

func TestMarkCheckCompletedAdvancesAssignment(t *testing.T) {
	schedule := OrchestrationSchedule{
		IntervalSeconds: 60,
		Assignments: []PeerAssignment{
			{PeerID: "peer0", NextCheckAt: 0, CheckSequence: 0},
			{PeerID: "peer1", NextCheckAt: 30, CheckSequence: 1},
		},
	}
	s := NewState("test.com", schedule)
	s.MarkCheckCompleted("peer0")
	if s.CurrentSchedule.Assignments[0].NextCheckAt != 120 {
		t.Fatalf("expected next_check_at advanced by interval*n=120, got %d", s.CurrentSchedule.Assignments[0].NextCheckAt)
	}
}

func peerName(i int) string {
	return [...]string{"peer0", "peer1", "peer2"}[i]
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
