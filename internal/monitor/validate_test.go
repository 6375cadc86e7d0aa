package monitor

import "testing"

func TestValidateHTTPTargetScenarios(t *testing.T) {
	cases := []struct {
		name    string
		target  string
		wantErr bool
		kind    string
	}{
		{"A valid https", "https://example.com", false, ""},
		{"valid http with port", "http://example.com:8080", false, ""},
		{"B private loopback", "http://127.0.0.1", true, "PrivateAddress"},
		{"localhost literal", "http://localhost", true, "PrivateAddress"},
		{"private range", "http://192.168.1.1", true, "PrivateAddress"},
		{"private range 10/8", "http://10.0.0.1", true, "PrivateAddress"},
		{"C bad scheme", "ftp://example.com", true, "BadScheme"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := validateHTTPTarget(c.target)
			if c.wantErr && err == nil {
				t.Fatalf("expected error for %s", c.target)
			}
			if !c.wantErr && err != nil {
				t.Fatalf("unexpected error for %s: %v", c.target, err)
			}
			if c.wantErr {
				ve, ok := err.(ValidationError)
				if !ok || ve.Kind != c.kind {
					t.Fatalf("expected kind %s, got %v", c.kind, err)
				}
			}
		})
	}
}

func TestValidateTCPTargetScenarios(t *testing.T) {
	cases := []struct {
		name    string
		target  string
		wantErr bool
		kind    string
	}{
		{"valid", "example.com:80", false, ""},
		{"valid https port", "google.com:443", false, ""},
		{"D port blocked", "example.com:22", true, "PortBlocked"},
		{"rdp blocked", "example.com:3389", true, "PortBlocked"},
		{"E private address", "192.168.1.5:80", true, "PrivateAddress"},
		{"loopback", "127.0.0.1:80", true, "PrivateAddress"},
		{"missing port", "example.com", true, "InvalidTarget"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := validateTCPTarget(c.target)
			if c.wantErr && err == nil {
				t.Fatalf("expected error for %s", c.target)
			}
			if !c.wantErr && err != nil {
				t.Fatalf("unexpected error for %s: %v", c.target, err)
			}
		})
	}
}

func TestValidateCheckIntervalScenarios(t *testing.T) {
	if err := ValidateCheckInterval(10); err != nil {
		t.Fatalf("G: expected ok at minimum boundary, got %v", err)
	}
	if err := ValidateCheckInterval(86400); err != nil {
		t.Fatalf("expected ok at maximum boundary, got %v", err)
	}
	if err := ValidateCheckInterval(5); err == nil {
		t.Fatal("F: expected error for interval too short")
	}
	if err := ValidateCheckInterval(100000); err == nil {
		t.Fatal("expected error for interval too long")
	}
}

func TestValidateTimeoutBoundaries(t *testing.T) {
	if err := ValidateTimeout(1); err != nil {
		t.Fatalf("expected ok at minimum, got %v", err)
	}
	if err := ValidateTimeout(300); err != nil {
		t.Fatalf("expected ok at maximum, got %v", err)
	}
	if err := ValidateTimeout(0); err == nil {
		t.Fatal("expected error for timeout too short")
	}
	if err := ValidateTimeout(301); err == nil {
		t.Fatal("expected error for timeout too long")
	}
}

func TestIsPrivateOrLocal(t *testing.T) {
	private := []string{"localhost", "127.0.0.1", "192.168.1.1", "10.0.0.1", "172.16.0.1"}
	for _, h := range private {
		if !isPrivateOrLocal(h) {
			t.Errorf("expected %s to be private/local", h)
		}
	}
	public := []string{"8.8.8.8", "1.1.1.1", "example.com"}
	for _, h := range public {
		if isPrivateOrLocal(h) {
			t.Errorf("expected %s to be public", h)
		}
	}
}

func TestMonitorValidateInvariants(t *testing.T) {
	m := Monitor{IntervalSeconds: 30, TimeoutSeconds: 10}
	if err := m.ValidateInvariants(); err != nil {
		t.Fatalf("expected valid monitor, got %v", err)
	}

	bad := Monitor{IntervalSeconds: 10, TimeoutSeconds: 10}
	if err := bad.ValidateInvariants(); err != ErrTimeoutNotLessThanInterval {
		t.Fatalf("expected timeout-not-less-than-interval error, got %v", err)
	}

	shortInterval := Monitor{IntervalSeconds: 5, TimeoutSeconds: 1}
	if err := shortInterval.ValidateInvariants(); err != ErrIntervalOutOfRange {
		t.Fatalf("expected interval-out-of-range error, got %v", err)
	}
}
