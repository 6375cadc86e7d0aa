// Package sqlite implements storage.Store on top of database/sql and
// mattn/go-sqlite3. Transaction/upsert shape and schema-versioning
// idiom are ported directly from the teacher's
// internal/storage/sqlite.SQLiteStore, generalized from a single
// CRDT entries table to uppe's monitor/result/peer/group/settings
// tables, and extended with a monotonic migrations table per the
// storage component's schema-migration contract.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/uppe-net/uppe/internal/consensus"
	"github.com/uppe-net/uppe/internal/monitor"
	"github.com/uppe-net/uppe/internal/registry"
	"github.com/uppe-net/uppe/internal/storage"
)

// Store implements storage.Store using a single *sql.DB.
type Store struct {
	db *sql.DB
}

// New opens (creating if absent) a SQLite database at path and runs
// every pending migration. path may be ":memory:".
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

// GetDB exposes the underlying connection for callers that need raw
// access (e.g. admin CLI diagnostics).
func (s *Store) GetDB() *sql.DB { return s.db }

type migration struct {
	version     int
	description string
	apply       func(*sql.Tx) error
}

var migrations = []migration{
	{1, "monitors and check_results", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS monitors (
				uuid TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				target TEXT NOT NULL,
				check_type TEXT NOT NULL,
				interval_seconds INTEGER NOT NULL,
				timeout_seconds INTEGER NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 1,
				visibility TEXT NOT NULL,
				public_domain TEXT,
				display_name TEXT,
				owner_peer_id TEXT,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_monitors_enabled ON monitors(enabled);
			CREATE INDEX IF NOT EXISTS idx_monitors_visibility ON monitors(visibility);

			CREATE TABLE IF NOT EXISTS check_results (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				monitor_uuid TEXT NOT NULL,
				target TEXT NOT NULL,
				timestamp INTEGER NOT NULL,
				status TEXT NOT NULL,
				latency_ms INTEGER,
				status_code INTEGER,
				error_message TEXT,
				peer_id TEXT NOT NULL,
				signature BLOB,
				FOREIGN KEY (monitor_uuid) REFERENCES monitors(uuid) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_check_results_monitor_ts ON check_results(monitor_uuid, timestamp DESC);
		`)
		return err
	}},
	{2, "peer_results", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS peer_results (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				monitor_uuid TEXT NOT NULL,
				target TEXT NOT NULL,
				timestamp INTEGER NOT NULL,
				status TEXT NOT NULL,
				latency_ms INTEGER,
				status_code INTEGER,
				error_message TEXT,
				peer_id TEXT NOT NULL,
				signature BLOB,
				verified INTEGER NOT NULL DEFAULT 0,
				received_at INTEGER NOT NULL,
				public_key BLOB,
				source_peer_id TEXT,
				synced_from_peer INTEGER NOT NULL DEFAULT 0,
				retention_until INTEGER NOT NULL,
				latitude REAL,
				longitude REAL,
				country_code TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_peer_results_monitor_ts ON peer_results(monitor_uuid, timestamp DESC);
			CREATE INDEX IF NOT EXISTS idx_peer_results_retention ON peer_results(retention_until);
		`)
		return err
	}},
	{3, "public_monitor_groups", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS public_monitor_groups (
				domain TEXT PRIMARY KEY,
				display_name TEXT NOT NULL,
				peer_ids TEXT NOT NULL,
				schedule TEXT NOT NULL,
				total_checks INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				last_updated INTEGER NOT NULL
			);
		`)
		return err
	}},
	{4, "peers and network_stats", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS peers (
				peer_id TEXT PRIMARY KEY,
				status TEXT NOT NULL,
				last_seen INTEGER NOT NULL,
				joined_at INTEGER NOT NULL,
				contribution_score REAL NOT NULL DEFAULT 0,
				uptime_percent REAL NOT NULL DEFAULT 0,
				checks_per_day REAL NOT NULL DEFAULT 0,
				latitude REAL,
				longitude REAL,
				country_code TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_peers_last_seen ON peers(last_seen DESC);

			CREATE TABLE IF NOT EXISTS network_stats (
				timestamp INTEGER PRIMARY KEY,
				total_peers INTEGER NOT NULL,
				online_peers INTEGER NOT NULL,
				total_monitors INTEGER NOT NULL,
				public_monitors INTEGER NOT NULL,
				total_checks_24h INTEGER NOT NULL
			);
		`)
		return err
	}},
	{5, "settings", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);
		`)
		return err
	}},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		);
	`); err != nil {
		return err
	}

	applied := make(map[int]bool)
	rows, err := s.db.Query("SELECT version FROM migrations")
	if err != nil {
		return err
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if err := m.apply(tx); err != nil {
			// Tolerate idempotent column-add migrations re-running
			// against a schema that already has the column.
			if !isDuplicateColumnError(err) {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
			}
		}
		if _, err := tx.Exec(
			"INSERT INTO migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.version, m.description, time.Now().Unix(),
		); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Monitors ---

func (s *Store) GetEnabledMonitors() ([]monitor.Monitor, error) {
	rows, err := s.db.Query(`
		SELECT uuid, name, target, check_type, interval_seconds, timeout_seconds,
		       enabled, visibility, public_domain, display_name, owner_peer_id,
		       created_at, updated_at
		FROM monitors WHERE enabled = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: list enabled monitors: %w", err)
	}
	defer rows.Close()
	return scanMonitors(rows)
}

func (s *Store) GetMonitorByUUID(id uuid.UUID) (monitor.Monitor, error) {
	row := s.db.QueryRow(`
		SELECT uuid, name, target, check_type, interval_seconds, timeout_seconds,
		       enabled, visibility, public_domain, display_name, owner_peer_id,
		       created_at, updated_at
		FROM monitors WHERE uuid = ?
	`, id.String())
	m, err := scanMonitorRow(row)
	if err == sql.ErrNoRows {
		return monitor.Monitor{}, ErrNotFound("monitor", id.String())
	}
	return m, err
}

func (s *Store) SaveMonitor(m *monitor.Monitor) (uuid.UUID, error) {
	if m.UUID == uuid.Nil {
		m.UUID = uuid.New()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO monitors (uuid, name, target, check_type, interval_seconds, timeout_seconds,
		                       enabled, visibility, public_domain, display_name, owner_peer_id,
		                       created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name, target = excluded.target, check_type = excluded.check_type,
			interval_seconds = excluded.interval_seconds, timeout_seconds = excluded.timeout_seconds,
			enabled = excluded.enabled, visibility = excluded.visibility,
			public_domain = excluded.public_domain, display_name = excluded.display_name,
			owner_peer_id = excluded.owner_peer_id, updated_at = excluded.updated_at
	`, m.UUID.String(), m.Name, m.Target, string(m.CheckType), m.IntervalSeconds, m.TimeoutSeconds,
		boolToInt(m.Enabled), string(m.Visibility), nullString(m.PublicDomain), nullString(m.DisplayName),
		nullString(m.OwnerPeerID), m.CreatedAt.Unix(), m.UpdatedAt.Unix())
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: save monitor: %w", err)
	}
	return m.UUID, nil
}

func (s *Store) DeleteMonitor(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM check_results WHERE monitor_uuid = ?", id.String()); err != nil {
		return fmt.Errorf("storage: cascade delete check_results: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM peer_results WHERE monitor_uuid = ?", id.String()); err != nil {
		return fmt.Errorf("storage: cascade delete peer_results: %w", err)
	}
	result, err := tx.Exec("DELETE FROM monitors WHERE uuid = ?", id.String())
	if err != nil {
		return fmt.Errorf("storage: delete monitor: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound("monitor", id.String())
	}
	return tx.Commit()
}

func scanMonitors(rows *sql.Rows) ([]monitor.Monitor, error) {
	out := []monitor.Monitor{}
	for rows.Next() {
		m, err := scanMonitorRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMonitorRow(row rowScanner) (monitor.Monitor, error) {
	var m monitor.Monitor
	var idStr, checkType, visibility string
	var publicDomain, displayName, ownerPeerID sql.NullString
	var enabled int
	var createdAt, updatedAt int64

	err := row.Scan(&idStr, &m.Name, &m.Target, &checkType, &m.IntervalSeconds, &m.TimeoutSeconds,
		&enabled, &visibility, &publicDomain, &displayName, &ownerPeerID, &createdAt, &updatedAt)
	if err != nil {
		return monitor.Monitor{}, err
	}

	m.UUID, _ = uuid.Parse(idStr)
	m.CheckType = monitor.CheckType(checkType)
	m.Visibility = monitor.Visibility(visibility)
	m.Enabled = enabled != 0
	m.PublicDomain = publicDomain.String
	m.DisplayName = displayName.String
	m.OwnerPeerID = ownerPeerID.String
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	m.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return m, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// --- Results ---

func (s *Store) SaveResult(r *monitor.CheckResult) error {
	_, err := s.db.Exec(`
		INSERT INTO check_results (monitor_uuid, target, timestamp, status, latency_ms,
		                            status_code, error_message, peer_id, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.MonitorUUID.String(), r.Target, r.Timestamp.Unix(), string(r.Status),
		r.LatencyMS, r.StatusCode, r.ErrorMessage, r.PeerID, r.Signature)
	if err != nil {
		return fmt.Errorf("storage: save result: %w", err)
	}
	return nil
}

func (s *Store) SavePeerResult(r *monitor.PeerResult) error {
	_, err := s.db.Exec(`
		INSERT INTO peer_results (monitor_uuid, target, timestamp, status, latency_ms,
		                           status_code, error_message, peer_id, signature, verified,
		                           received_at, public_key, source_peer_id, synced_from_peer,
		                           retention_until, latitude, longitude, country_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.MonitorUUID.String(), r.Target, r.Timestamp.Unix(), string(r.Status), r.LatencyMS,
		r.StatusCode, r.ErrorMessage, r.PeerID, r.Signature, boolToInt(r.Verified),
		r.ReceivedAt.Unix(), r.PublicKey, nullString(r.SourcePeerID), boolToInt(r.SyncedFromPeer),
		r.RetentionUntil.Unix(), r.Latitude, r.Longitude, nullString(r.CountryCode))
	if err != nil {
		return fmt.Errorf("storage: save peer result: %w", err)
	}
	return nil
}

func (s *Store) GetRecentResults(monitorID uuid.UUID, limit int) ([]monitor.CheckResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT monitor_uuid, target, timestamp, status, latency_ms, status_code, error_message, peer_id, signature
		FROM check_results WHERE monitor_uuid = ? ORDER BY timestamp DESC LIMIT ?
	`, monitorID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("storage: get recent results: %w", err)
	}
	defer rows.Close()

	out := []monitor.CheckResult{}
	for rows.Next() {
		var r monitor.CheckResult
		var idStr string
		var ts int64
		var status string
		if err := rows.Scan(&idStr, &r.Target, &ts, &status, &r.LatencyMS, &r.StatusCode, &r.ErrorMessage, &r.PeerID, &r.Signature); err != nil {
			return nil, err
		}
		r.MonitorUUID, _ = uuid.Parse(idStr)
		r.Timestamp = time.Unix(ts, 0).UTC()
		r.Status = monitor.Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetPeerResults(monitorID uuid.UUID, limit int) ([]monitor.PeerResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT monitor_uuid, target, timestamp, status, latency_ms, status_code, error_message,
		       peer_id, signature, verified, received_at, public_key, source_peer_id,
		       synced_from_peer, retention_until, latitude, longitude, country_code
		FROM peer_results WHERE monitor_uuid = ? ORDER BY timestamp DESC LIMIT ?
	`, monitorID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("storage: get peer results: %w", err)
	}
	defer rows.Close()

	out := []monitor.PeerResult{}
	for rows.Next() {
		var r monitor.PeerResult
		var idStr string
		var ts, receivedAt, retentionUntil int64
		var status string
		var verified, synced int
		var sourcePeerID, countryCode sql.NullString

		if err := rows.Scan(&idStr, &r.Target, &ts, &status, &r.LatencyMS, &r.StatusCode, &r.ErrorMessage,
			&r.PeerID, &r.Signature, &verified, &receivedAt, &r.PublicKey, &sourcePeerID,
			&synced, &retentionUntil, &r.Latitude, &r.Longitude, &countryCode); err != nil {
			return nil, err
		}
		r.MonitorUUID, _ = uuid.Parse(idStr)
		r.Timestamp = time.Unix(ts, 0).UTC()
		r.Status = monitor.Status(status)
		r.Verified = verified != 0
		r.ReceivedAt = time.Unix(receivedAt, 0).UTC()
		r.SourcePeerID = sourcePeerID.String
		r.SyncedFromPeer = synced != 0
		r.RetentionUntil = time.Unix(retentionUntil, 0).UTC()
		r.CountryCode = countryCode.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CleanupExpiredPeerResults(now time.Time) (int, error) {
	result, err := s.db.Exec("DELETE FROM peer_results WHERE retention_until < ?", now.Unix())
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup expired peer results: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// --- Public monitor groups ---

func (s *Store) GetPublicMonitorGroup(domain string) (consensus.PublicMonitorGroup, error) {
	var g consensus.PublicMonitorGroup
	var peerIDsJSON, scheduleJSON string
	var createdAt, lastUpdated int64

	err := s.db.QueryRow(`
		SELECT domain, display_name, peer_ids, schedule, total_checks, created_at, last_updated
		FROM public_monitor_groups WHERE domain = ?
	`, domain).Scan(&g.Domain, &g.DisplayName, &peerIDsJSON, &scheduleJSON, &g.TotalChecks, &createdAt, &lastUpdated)
	if err == sql.ErrNoRows {
		return consensus.PublicMonitorGroup{}, ErrNotFound("public_monitor_group", domain)
	}
	if err != nil {
		return consensus.PublicMonitorGroup{}, fmt.Errorf("storage: get public monitor group: %w", err)
	}

	if err := json.Unmarshal([]byte(peerIDsJSON), &g.PeerIDs); err != nil {
		return consensus.PublicMonitorGroup{}, fmt.Errorf("storage: decode peer_ids: %w", err)
	}
	if err := json.Unmarshal([]byte(scheduleJSON), &g.Schedule); err != nil {
		return consensus.PublicMonitorGroup{}, fmt.Errorf("storage: decode schedule: %w", err)
	}
	g.CreatedAt = time.Unix(createdAt, 0).UTC()
	g.LastUpdated = time.Unix(lastUpdated, 0).UTC()
	return g, nil
}

func (s *Store) SavePublicMonitorGroup(g *consensus.PublicMonitorGroup) error {
	now := time.Now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.LastUpdated = now

	peerIDsJSON, err := json.Marshal(g.PeerIDs)
	if err != nil {
		return fmt.Errorf("storage: encode peer_ids: %w", err)
	}
	scheduleJSON, err := json.Marshal(g.Schedule)
	if err != nil {
		return fmt.Errorf("storage: encode schedule: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO public_monitor_groups (domain, display_name, peer_ids, schedule, total_checks, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			display_name = excluded.display_name, peer_ids = excluded.peer_ids,
			schedule = excluded.schedule, total_checks = excluded.total_checks,
			last_updated = excluded.last_updated
	`, g.Domain, g.DisplayName, string(peerIDsJSON), string(scheduleJSON), g.TotalChecks, g.CreatedAt.Unix(), g.LastUpdated.Unix())
	if err != nil {
		return fmt.Errorf("storage: save public monitor group: %w", err)
	}
	return nil
}

// --- Peers and network stats ---

func (s *Store) ListPeers(limit int) ([]registry.Peer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT peer_id, status, last_seen, joined_at, contribution_score, uptime_percent,
		       checks_per_day, latitude, longitude, country_code
		FROM peers ORDER BY last_seen DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list peers: %w", err)
	}
	defer rows.Close()

	out := []registry.Peer{}
	for rows.Next() {
		var p registry.Peer
		var status string
		var lastSeen, joinedAt int64
		var countryCode sql.NullString
		if err := rows.Scan(&p.PeerID, &status, &lastSeen, &joinedAt, &p.ContributionScore,
			&p.UptimePercent, &p.ChecksPerDay, &p.Latitude, &p.Longitude, &countryCode); err != nil {
			return nil, err
		}
		p.Status = registry.PeerStatus(status)
		p.LastSeen = time.Unix(lastSeen, 0).UTC()
		p.JoinedAt = time.Unix(joinedAt, 0).UTC()
		p.CountryCode = countryCode.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SavePeer(p *registry.Peer) error {
	_, err := s.db.Exec(`
		INSERT INTO peers (peer_id, status, last_seen, joined_at, contribution_score, uptime_percent,
		                    checks_per_day, latitude, longitude, country_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			status = excluded.status, last_seen = excluded.last_seen,
			contribution_score = excluded.contribution_score, uptime_percent = excluded.uptime_percent,
			checks_per_day = excluded.checks_per_day, latitude = excluded.latitude,
			longitude = excluded.longitude, country_code = excluded.country_code
	`, p.PeerID, string(p.Status), p.LastSeen.Unix(), p.JoinedAt.Unix(), p.ContributionScore,
		p.UptimePercent, p.ChecksPerDay, p.Latitude, p.Longitude, nullString(p.CountryCode))
	if err != nil {
		return fmt.Errorf("storage: save peer: %w", err)
	}
	return nil
}

func (s *Store) GetLatestNetworkStats() (registry.NetworkStats, error) {
	var ns registry.NetworkStats
	var ts int64
	err := s.db.QueryRow(`
		SELECT timestamp, total_peers, online_peers, total_monitors, public_monitors, total_checks_24h
		FROM network_stats ORDER BY timestamp DESC LIMIT 1
	`).Scan(&ts, &ns.TotalPeers, &ns.OnlinePeers, &ns.TotalMonitors, &ns.PublicMonitors, &ns.TotalChecks24h)
	if err == sql.ErrNoRows {
		return registry.NetworkStats{}, ErrNotFound("network_stats", "latest")
	}
	if err != nil {
		return registry.NetworkStats{}, fmt.Errorf("storage: get latest network stats: %w", err)
	}
	ns.Timestamp = time.Unix(ts, 0).UTC()
	return ns, nil
}

func (s *Store) SaveNetworkStats(ns *registry.NetworkStats) error {
	if ns.Timestamp.IsZero() {
		ns.Timestamp = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO network_stats (timestamp, total_peers, online_peers, total_monitors, public_monitors, total_checks_24h)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(timestamp) DO UPDATE SET
			total_peers = excluded.total_peers, online_peers = excluded.online_peers,
			total_monitors = excluded.total_monitors, public_monitors = excluded.public_monitors,
			total_checks_24h = excluded.total_checks_24h
	`, ns.Timestamp.Unix(), ns.TotalPeers, ns.OnlinePeers, ns.TotalMonitors, ns.PublicMonitors, ns.TotalChecks24h)
	if err != nil {
		return fmt.Errorf("storage: save network stats: %w", err)
	}
	return nil
}

// --- Settings ---

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound("setting", key)
	}
	if err != nil {
		return "", fmt.Errorf("storage: get setting: %w", err)
	}
	return value, nil
}

func (s *Store) SaveSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("storage: save setting: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ErrNotFound constructs the shared storage.ErrNotFound.
func ErrNotFound(kind, key string) error {
	return storage.ErrNotFound{Kind: kind, Key: key}
}

var _ storage.Store = (*Store)(nil)
