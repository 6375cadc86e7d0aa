package sqlite

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/uppe-net/uppe/internal/consensus"
	"github.com/uppe-net/uppe/internal/monitor"
	"github.com/uppe-net/uppe/internal/registry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsApplyIdempotently(t *testing.T) {
	s := newTestStore(t)

	// Re-running migrate against an already-migrated database must not error.
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate call failed: %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != len(migrations) {
		t.Fatalf("expected %d applied migrations, got %d", len(migrations), count)
	}
}

func TestSaveAndGetMonitor(t *testing.T) {
	s := newTestStore(t)

	m := &monitor.Monitor{
		Name:            "example",
		Target:          "https://example.com",
		CheckType:       monitor.CheckHTTPS,
		IntervalSeconds: 60,
		TimeoutSeconds:  10,
		Enabled:         true,
		Visibility:      monitor.VisibilityPublic,
		PublicDomain:    "example.com",
		DisplayName:     "Example",
	}

	id, err := s.SaveMonitor(m)
	if err != nil {
		t.Fatalf("save monitor: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected a generated UUID")
	}

	got, err := s.GetMonitorByUUID(id)
	if err != nil {
		t.Fatalf("get monitor: %v", err)
	}
	if got.Name != m.Name || got.Target != m.Target || got.CheckType != m.CheckType {
		t.Fatalf("round-tripped monitor mismatch: %+v", got)
	}
	if got.PublicDomain != m.PublicDomain || got.DisplayName != m.DisplayName {
		t.Fatalf("public fields not preserved: %+v", got)
	}

	list, err := s.GetEnabledMonitors()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].UUID != id {
		t.Fatalf("expected enabled monitor list to contain %s, got %+v", id, list)
	}
}

func TestSaveMonitorUpsertsOnConflict(t *testing.T) {
	s := newTestStore(t)

	m := &monitor.Monitor{
		UUID:            uuid.New(),
		Name:            "original",
		Target:          "https://example.com",
		CheckType:       monitor.CheckHTTPS,
		IntervalSeconds: 60,
		TimeoutSeconds:  10,
		Visibility:      monitor.VisibilityPrivate,
	}
	if _, err := s.SaveMonitor(m); err != nil {
		t.Fatal(err)
	}

	m.Name = "renamed"
	if _, err := s.SaveMonitor(m); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMonitorByUUID(m.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "renamed" {
		t.Fatalf("expected upsert to rename monitor, got %q", got.Name)
	}
}

func TestGetMonitorByUUIDNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetMonitorByUUID(uuid.New())
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestDeleteMonitorCascadesResults(t *testing.T) {
	s := newTestStore(t)

	m := &monitor.Monitor{
		Target: "1.2.3.4", CheckType: monitor.CheckTCP,
		IntervalSeconds: 30, TimeoutSeconds: 5, Visibility: monitor.VisibilityInternal,
	}
	id, err := s.SaveMonitor(m)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SaveResult(&monitor.CheckResult{
		MonitorUUID: id, Target: m.Target, Timestamp: time.Now(), Status: monitor.StatusUp, PeerID: "peer-1",
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteMonitor(id); err != nil {
		t.Fatalf("delete monitor: %v", err)
	}

	results, err := s.GetRecentResults(id, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("expected cascade delete to remove results, got %d", len(results))
	}

	if err := s.DeleteMonitor(id); err == nil {
		t.Fatal("expected not-found deleting an already-deleted monitor")
	}
}

func TestSaveResultAndGetRecentResultsOrdering(t *testing.T) {
	s := newTestStore(t)
	m := &monitor.Monitor{Target: "a", CheckType: monitor.CheckHTTP, IntervalSeconds: 30, TimeoutSeconds: 5, Visibility: monitor.VisibilityPublic}
	id, err := s.SaveMonitor(m)
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		err := s.SaveResult(&monitor.CheckResult{
			MonitorUUID: id, Target: m.Target,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Status:    monitor.StatusUp, PeerID: "peer-1",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	results, err := s.GetRecentResults(id, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Timestamp.After(results[1].Timestamp) || !results[1].Timestamp.After(results[2].Timestamp) {
		t.Fatalf("expected newest-first ordering, got %+v", results)
	}
}

func TestSavePeerResultAndCleanupExpired(t *testing.T) {
	s := newTestStore(t)
	m := &monitor.Monitor{Target: "a", CheckType: monitor.CheckHTTP, IntervalSeconds: 30, TimeoutSeconds: 5, Visibility: monitor.VisibilityPublic}
	id, err := s.SaveMonitor(m)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	expired := monitor.PeerResult{
		CheckResult:    monitor.CheckResult{MonitorUUID: id, Target: m.Target, Timestamp: now, Status: monitor.StatusUp, PeerID: "peer-1"},
		ReceivedAt:     now,
		RetentionUntil: now.Add(-time.Minute),
	}
	fresh := monitor.PeerResult{
		CheckResult:    monitor.CheckResult{MonitorUUID: id, Target: m.Target, Timestamp: now, Status: monitor.StatusDown, PeerID: "peer-2"},
		ReceivedAt:     now,
		RetentionUntil: now.Add(time.Hour),
	}
	if err := s.SavePeerResult(&expired); err != nil {
		t.Fatal(err)
	}
	if err := s.SavePeerResult(&fresh); err != nil {
		t.Fatal(err)
	}

	removed, err := s.CleanupExpiredPeerResults(now)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 expired row removed, got %d", removed)
	}

	remaining, err := s.GetPeerResults(id, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].PeerID != "peer-2" {
		t.Fatalf("expected only the fresh peer result to remain, got %+v", remaining)
	}
}

func TestPublicMonitorGroupRoundTrip(t *testing.T) {
	s := newTestStore(t)

	g := &consensus.PublicMonitorGroup{
		Domain:      "status.example.com",
		DisplayName: "Example Status",
		PeerIDs:     []string{"peer-1", "peer-2"},
		Schedule:    consensus.StaggerAssignments([]string{"peer-1", "peer-2"}, 60),
		TotalChecks: 42,
	}
	if err := s.SavePublicMonitorGroup(g); err != nil {
		t.Fatalf("save group: %v", err)
	}

	got, err := s.GetPublicMonitorGroup(g.Domain)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if got.DisplayName != g.DisplayName || len(got.PeerIDs) != 2 || got.TotalChecks != 42 {
		t.Fatalf("round-tripped group mismatch: %+v", got)
	}
	if len(got.Schedule.Assignments) != 2 {
		t.Fatalf("expected schedule to round-trip with 2 assignments, got %+v", got.Schedule)
	}

	if _, err := s.GetPublicMonitorGroup("unknown.example.com"); err == nil {
		t.Fatal("expected not-found for unknown domain")
	}
}

func TestListPeersAndNetworkStats(t *testing.T) {
	s := newTestStore(t)

	p := &registry.Peer{
		PeerID: "peer-1", Status: registry.PeerOnline,
		LastSeen: time.Now(), JoinedAt: time.Now().Add(-24 * time.Hour),
		ContributionScore: 1.5, UptimePercent: 99.9, ChecksPerDay: 120,
	}
	if err := s.SavePeer(p); err != nil {
		t.Fatalf("save peer: %v", err)
	}

	peers, err := s.ListPeers(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 1 || peers[0].PeerID != "peer-1" {
		t.Fatalf("expected one listed peer, got %+v", peers)
	}

	stats := &registry.NetworkStats{
		Timestamp: time.Now(), TotalPeers: 10, OnlinePeers: 8,
		TotalMonitors: 50, PublicMonitors: 12, TotalChecks24h: 3000,
	}
	if err := s.SaveNetworkStats(stats); err != nil {
		t.Fatalf("save network stats: %v", err)
	}

	got, err := s.GetLatestNetworkStats()
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalPeers != 10 || got.OnlinePeers != 8 || got.TotalChecks24h != 3000 {
		t.Fatalf("network stats mismatch: %+v", got)
	}
}

func TestSettingsGetAndSave(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetSetting("missing"); err == nil {
		t.Fatal("expected not-found for missing setting")
	}

	if err := s.SaveSetting("node_name", "uppe-node-1"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSetting("node_name")
	if err != nil {
		t.Fatal(err)
	}
	if got != "uppe-node-1" {
		t.Fatalf("expected %q, got %q", "uppe-node-1", got)
	}

	if err := s.SaveSetting("node_name", "uppe-node-2"); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetSetting("node_name")
	if err != nil {
		t.Fatal(err)
	}
	if got != "uppe-node-2" {
		t.Fatalf("expected overwritten value %q, got %q", "uppe-node-2", got)
	}
}
