package p2p

import "testing"

func TestPublicMonitorsTopic(t *testing.T) {
	got := PublicMonitorsTopic("example.com")
	want := "/uppe/public-monitors/example.com"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPrivateResultsTopic(t *testing.T) {
	got := PrivateResultsTopic("abc123")
	want := "/uppe/private-results/abc123/v1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSyncCompletionTopic(t *testing.T) {
	got := SyncCompletionTopic("abc123")
	want := "/uppe/sync-completion/abc123/v1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPublicMonitorDHTKey(t *testing.T) {
	got := PublicMonitorDHTKey("example.com")
	want := "/uppe/public-monitor/example.com"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPrivateResultsBatchDHTKey(t *testing.T) {
	got := PrivateResultsBatchDHTKey("monitor-1", 3)
	want := "uppe-private-results-monitor-1-3"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPrivateResultEchoDHTKey(t *testing.T) {
	got := PrivateResultEchoDHTKey("owner-1", "monitor-1", 12345)
	want := "/uppe/private/owner-1/monitor-1/12345"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFixedDHTKeysAreWellKnown(t *testing.T) {
	if AdminTrustChainDHTKey != "uppe-admin-trust-chain" {
		t.Fatalf("unexpected admin trust chain key: %q", AdminTrustChainDHTKey)
	}
	if AdminRevocationListDHTKey != "uppe-admin-revocation-list" {
		t.Fatalf("unexpected admin revocation list key: %q", AdminRevocationListDHTKey)
	}
}

func TestHelperAssignmentResponseConstructors(t *testing.T) {
	accepted := AcceptHelperAssignment("monitor-1", "helper-1")
	if accepted.Kind != HelperAccepted || accepted.HelperPeerID != "helper-1" {
		t.Fatalf("unexpected accepted response: %+v", accepted)
	}

	rejected := RejectHelperAssignment("monitor-1", "unavailable")
	if rejected.Kind != HelperRejected || rejected.Reason != "unavailable" {
		t.Fatalf("unexpected rejected response: %+v", rejected)
	}
}

func TestRecordValidatorSelect(t *testing.T) {
	v := recordValidator{}
	idx, err := v.Select("some-key", [][]byte{[]byte("short"), []byte("much longer value")})
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Fatalf("expected the longer value to win, got index %d", idx)
	}
}

func TestRecordValidatorRejectsEmpty(t *testing.T) {
	v := recordValidator{}
	if err := v.Validate("some-key", nil); err == nil {
		t.Fatal("expected empty record to be rejected")
	}
}
