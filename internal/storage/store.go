// Package storage defines the persistence contract every other uppe
// component depends on. The core never touches a concrete database
// directly; per the design notes, storage is a pluggable capability
// set behind this interface. Grounded on the teacher's
// internal/storage.Store interface (typed ErrNotFound, narrow method
// set, Close()), generalized from a single CRDT-entry table to the
// monitor/result/peer/group/settings tables the monitoring domain needs.
package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/uppe-net/uppe/internal/consensus"
	"github.com/uppe-net/uppe/internal/monitor"
	"github.com/uppe-net/uppe/internal/registry"
)

// ErrNotFound is returned when a lookup by ID/domain/key finds nothing.
type ErrNotFound struct {
	Kind string
	Key  string
}

func (e ErrNotFound) Error() string {
	return "storage: " + e.Kind + " not found: " + e.Key
}

// Store is the persistence contract consumed by the scheduler, the
// orchestrators, and the consensus/trust managers. Implementations
// may be embedded SQL, an embedded KV store with manual indexes, or a
// networked SQL backend — callers depend only on this interface.
type Store interface {
	// Monitors.
	GetEnabledMonitors() ([]monitor.Monitor, error)
	GetMonitorByUUID(id uuid.UUID) (monitor.Monitor, error)
	SaveMonitor(m *monitor.Monitor) (uuid.UUID, error)
	DeleteMonitor(id uuid.UUID) error // cascades to results

	// Results.
	SaveResult(r *monitor.CheckResult) error
	SavePeerResult(r *monitor.PeerResult) error
	GetRecentResults(monitorID uuid.UUID, limit int) ([]monitor.CheckResult, error) // newest first
	GetPeerResults(monitorID uuid.UUID, limit int) ([]monitor.PeerResult, error)    // newest first
	CleanupExpiredPeerResults(now time.Time) (int, error)

	// Public monitor groups.
	GetPublicMonitorGroup(domain string) (consensus.PublicMonitorGroup, error)
	SavePublicMonitorGroup(g *consensus.PublicMonitorGroup) error

	// Peers and network stats.
	ListPeers(limit int) ([]registry.Peer, error)
	GetLatestNetworkStats() (registry.NetworkStats, error)
	SaveNetworkStats(s *registry.NetworkStats) error

	// Settings (key/value, used for small pieces of node-local state).
	GetSetting(key string) (string, error)
	SaveSetting(key, value string) error

	Close() error
}
