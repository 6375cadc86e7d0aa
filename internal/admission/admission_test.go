package admission

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/uppe-net/uppe/internal/crypto"
	"github.com/uppe-net/uppe/internal/monitor"
	"github.com/uppe-net/uppe/internal/netlog"
	"github.com/uppe-net/uppe/internal/trust"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *crypto.KeyPair, string) {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	pubB64 := base64.StdEncoding.EncodeToString(kp.PublicKey())
	root := trust.AdminKey{
		PublicKey:  pubB64,
		ValidFrom:  now.Add(-time.Hour).Unix(),
		ValidUntil: now.Add(365 * 24 * time.Hour).Unix(),
		KeyID:      trust.ComputeKeyID(pubB64),
	}

	chain := trust.EmptyChain()
	chain.CurrentKeys = []trust.AdminKey{root}

	tm, err := trust.FromChain(chain, netlog.Noop{})
	if err != nil {
		t.Fatal(err)
	}
	return New(tm).WithThreshold(3), kp, root.KeyID
}

func publicMonitor(domain string) monitor.Monitor {
	return monitor.Monitor{
		Name: "Test", Target: "https://" + domain, CheckType: monitor.CheckHTTPS,
		IntervalSeconds: 60, TimeoutSeconds: 10, Visibility: monitor.VisibilityPublic,
		PublicDomain: domain, DisplayName: "Example Site",
	}
}

func TestThresholdPromotion(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	m := publicMonitor("example.com")

	record, err := o.SignalInterest(m, "peer1")
	if err != nil {
		t.Fatal(err)
	}
	if record.InterestCount != 1 || o.ShouldPromote(record) {
		t.Fatalf("expected not yet promoted after one signal, got %+v", record)
	}

	if _, err := o.SignalInterest(m, "peer2"); err != nil {
		t.Fatal(err)
	}
	record, err = o.SignalInterest(m, "peer3")
	if err != nil {
		t.Fatal(err)
	}
	if record.InterestCount != 3 || !o.ShouldPromote(record) {
		t.Fatalf("expected promotion at threshold, got %+v", record)
	}
}

func TestSignalInterestIgnoresDuplicatePeer(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	m := publicMonitor("example.com")

	if _, err := o.SignalInterest(m, "peer1"); err != nil {
		t.Fatal(err)
	}
	record, err := o.SignalInterest(m, "peer1")
	if err != nil {
		t.Fatal(err)
	}
	if record.InterestCount != 1 {
		t.Fatalf("expected duplicate interest to be ignored, got count %d", record.InterestCount)
	}
}

func TestAdminCreateOrModifyRequiresValidKey(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	m := publicMonitor("example.com")

	_, err := o.AdminCreateOrModify(m, "not-an-admin-key", []byte("sig"))
	if err == nil {
		t.Fatal("expected rejection for unknown admin key")
	}
}

func TestAdminCreateOrModifySignsAndPromotesImmediately(t *testing.T) {
	o, kp, keyID := newTestOrchestrator(t)
	m := publicMonitor("example.com")

	config, _ := MonitorConfigFromMonitor(m)
	message, err := json.Marshal(config)
	if err != nil {
		t.Fatal(err)
	}
	sig := crypto.Sign(kp, message)

	record, err := o.AdminCreateOrModify(m, keyID, sig)
	if err != nil {
		t.Fatalf("expected admin create to succeed, got %v", err)
	}
	if !o.ShouldPromote(record) {
		t.Fatal("expected admin-signed record to be immediately public")
	}
	if record.InterestCount != 0 {
		t.Fatalf("expected zero interest count for admin-created record, got %d", record.InterestCount)
	}
}

func TestAdminCreateOrModifyRejectsForgedSignature(t *testing.T) {
	o, _, keyID := newTestOrchestrator(t)
	m := publicMonitor("example.com")

	_, err := o.AdminCreateOrModify(m, keyID, make([]byte, 64))
	if err == nil {
		t.Fatal("expected forged admin signature to be rejected")
	}
}

func TestProcessDHTRecordAdminSupersedesInterestOnly(t *testing.T) {
	o, kp, keyID := newTestOrchestrator(t)
	m := publicMonitor("example.com")

	if _, err := o.SignalInterest(m, "peer1"); err != nil {
		t.Fatal(err)
	}

	config, _ := MonitorConfigFromMonitor(m)
	message, err := json.Marshal(config)
	if err != nil {
		t.Fatal(err)
	}
	adminRecord := PublicMonitorRecord{
		Monitor:    config,
		CreatedAt:  time.Now().Unix(),
		ModifiedAt: time.Now().Unix(),
		AdminSignature: &AdminSignature{
			AdminKeyID: keyID,
			Signature:  crypto.Sign(kp, message),
			SignedAt:   time.Now().Unix(),
		},
	}

	accepted, err := o.ProcessDHTRecord(adminRecord)
	if err != nil {
		t.Fatal(err)
	}
	if !accepted {
		t.Fatal("expected admin-signed record to supersede interest-only record")
	}

	public := o.GetPublicMonitors()
	if len(public) != 1 || public[0].AdminSignature == nil {
		t.Fatalf("expected exactly one admin-signed public monitor, got %+v", public)
	}
}

func TestProcessDHTRecordNewerAdminSignatureWins(t *testing.T) {
	o, kp, keyID := newTestOrchestrator(t)
	config := MonitorConfig{
		Domain: "example.com", Target: "https://example.com", DisplayName: "Old",
		CheckType: "https", IntervalSeconds: 60, TimeoutSeconds: 10,
	}
	message, err := json.Marshal(config)
	if err != nil {
		t.Fatal(err)
	}
	older := PublicMonitorRecord{
		Monitor: config, CreatedAt: 100, ModifiedAt: 100,
		AdminSignature: &AdminSignature{AdminKeyID: keyID, Signature: crypto.Sign(kp, message), SignedAt: time.Now().Unix()},
	}
	if _, err := o.ProcessDHTRecord(older); err != nil {
		t.Fatal(err)
	}

	newerConfig := config
	newerConfig.DisplayName = "New"
	newerMessage, err := json.Marshal(newerConfig)
	if err != nil {
		t.Fatal(err)
	}
	stale := PublicMonitorRecord{
		Monitor: newerConfig, CreatedAt: 50, ModifiedAt: 50,
		AdminSignature: &AdminSignature{AdminKeyID: keyID, Signature: crypto.Sign(kp, newerMessage), SignedAt: time.Now().Unix()},
	}
	accepted, err := o.ProcessDHTRecord(stale)
	if err != nil {
		t.Fatal(err)
	}
	if accepted {
		t.Fatal("expected older modified_at admin record to be rejected")
	}
}

func TestAdminDeleteRequiresValidKey(t *testing.T) {
	o, _, keyID := newTestOrchestrator(t)
	if err := o.AdminDelete("example.com", "unknown-key"); err == nil {
		t.Fatal("expected delete by unknown key to be rejected")
	}
	if err := o.AdminDelete("example.com", keyID); err != nil {
		t.Fatalf("expected delete by valid admin key to succeed, got %v", err)
	}
}
