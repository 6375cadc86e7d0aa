// Package admission manages how a monitor becomes public: either by
// threshold-based interest (N independent peers add the same domain)
// or by an admin signature validated against the trust chain. Ported
// from orchestrator/admission.rs; MonitorConfig's shape is validated
// with gojsonschema the way the teacher's internal/schema.Registry
// validates entry content against a compiled JSON Schema.
package admission

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/uppe-net/uppe/internal/monitor"
	"github.com/uppe-net/uppe/internal/trust"
)

// PublicPromotionThreshold is how many independent peers must signal
// interest in a domain before it auto-promotes to public.
const PublicPromotionThreshold = 5

// AdminSignatureMaxAge bounds how stale an admin signature may be
// before it is rejected outright.
const AdminSignatureMaxAge = 7 * 24 * time.Hour

// monitorConfigSchema is the canonical shape of a public monitor
// proposal, independent of the richer internal Monitor record.
const monitorConfigSchema = `{
	"type": "object",
	"required": ["domain", "target", "display_name", "check_type", "interval_seconds", "timeout_seconds"],
	"properties": {
		"domain": {"type": "string", "minLength": 1},
		"target": {"type": "string", "minLength": 1},
		"display_name": {"type": "string", "minLength": 1},
		"check_type": {"type": "string", "enum": ["http", "https", "tcp", "icmp"]},
		"interval_seconds": {"type": "integer", "minimum": 10, "maximum": 86400},
		"timeout_seconds": {"type": "integer", "minimum": 1, "maximum": 300}
	}
}`

var compiledMonitorConfigSchema = mustCompileSchema(monitorConfigSchema)

func mustCompileSchema(def string) *gojsonschema.Schema {
	loader := gojsonschema.NewStringLoader(def)
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		panic(fmt.Sprintf("admission: invalid built-in schema: %v", err))
	}
	return schema
}

// MonitorConfig is the canonical, signable definition of a public
// monitor: the fields that matter for what gets checked, independent
// of interest bookkeeping or admin provenance.
type MonitorConfig struct {
	Domain          string `json:"domain"`
	Target          string `json:"target"`
	DisplayName     string `json:"display_name"`
	CheckType       string `json:"check_type"`
	IntervalSeconds uint32 `json:"interval_seconds"`
	TimeoutSeconds  uint32 `json:"timeout_seconds"`
}

// DHTKey is the canonical lookup key for this config's domain.
func (c MonitorConfig) DHTKey() string {
	return "public-monitor:" + strings.ToLower(c.Domain)
}

// Validate checks c against the structural monitor-config schema.
func (c MonitorConfig) Validate() error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("admission: encode monitor config: %w", err)
	}
	result, err := compiledMonitorConfigSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("admission: schema validation: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("admission: invalid monitor config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MonitorConfigFromMonitor projects a Monitor down to its canonical
// public configuration, returning ok=false if it has no public domain.
func MonitorConfigFromMonitor(m monitor.Monitor) (MonitorConfig, bool) {
	if m.PublicDomain == "" {
		return MonitorConfig{}, false
	}
	displayName := m.DisplayName
	if displayName == "" {
		displayName = m.PublicDomain
	}
	return MonitorConfig{
		Domain:          m.PublicDomain,
		Target:          m.Target,
		DisplayName:     displayName,
		CheckType:       string(m.CheckType),
		IntervalSeconds: uint32(m.IntervalSeconds),
		TimeoutSeconds:  uint32(m.TimeoutSeconds),
	}, true
}

// AdminSignature attaches admin provenance to a MonitorConfig.
type AdminSignature struct {
	AdminKeyID string `json:"admin_key_id"`
	Signature  []byte `json:"signature"`
	SignedAt   int64  `json:"signed_at"`
}

// PublicMonitorRecord is the DHT-replicated record tracking one
// domain's path to (or already-granted) public status.
type PublicMonitorRecord struct {
	Monitor         MonitorConfig   `json:"monitor"`
	CreatedAt       int64           `json:"created_at"`
	ModifiedAt      int64           `json:"modified_at"`
	InterestCount   uint32          `json:"interest_count"`
	InterestedPeers []string        `json:"interested_peers"`
	AdminSignature  *AdminSignature `json:"admin_signature,omitempty"`
}

func (r PublicMonitorRecord) hasInterest(peerID string) bool {
	for _, p := range r.InterestedPeers {
		if p == peerID {
			return true
		}
	}
	return false
}

// Orchestrator manages the public-monitor promotion lifecycle:
// interest accumulation, admin-signed overrides, and DHT record
// reconciliation.
type Orchestrator struct {
	threshold    uint32
	trustManager *trust.Manager

	mu      sync.Mutex
	records map[string]PublicMonitorRecord
}

// New creates an admission orchestrator with the default promotion
// threshold, backed by the given trust manager for admin verification.
func New(trustManager *trust.Manager) *Orchestrator {
	return &Orchestrator{
		threshold:    PublicPromotionThreshold,
		trustManager: trustManager,
		records:      make(map[string]PublicMonitorRecord),
	}
}

// WithThreshold overrides the default promotion threshold.
func (o *Orchestrator) WithThreshold(threshold uint32) *Orchestrator {
	o.threshold = threshold
	return o
}

// IsAdminKey reports whether keyID is a currently-valid admin key.
func (o *Orchestrator) IsAdminKey(keyID string) bool {
	return o.trustManager.IsAdminKey(keyID)
}

// SignalInterest records peerID's interest in m's public domain,
// creating the record on first interest. Returns the updated record.
func (o *Orchestrator) SignalInterest(m monitor.Monitor, peerID string) (PublicMonitorRecord, error) {
	config, ok := MonitorConfigFromMonitor(m)
	if !ok {
		return PublicMonitorRecord{}, fmt.Errorf("admission: monitor missing public_domain")
	}
	if err := config.Validate(); err != nil {
		return PublicMonitorRecord{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now().Unix()
	key := config.DHTKey()
	record, exists := o.records[key]
	if !exists {
		record = PublicMonitorRecord{Monitor: config, CreatedAt: now, ModifiedAt: now}
	}

	if !record.hasInterest(peerID) {
		record.InterestedPeers = append(record.InterestedPeers, peerID)
		record.InterestCount++
		record.ModifiedAt = now
	}

	o.records[key] = record
	return record, nil
}

// AdminCreateOrModify installs or replaces a public monitor record
// signed by an admin key, verifying both key validity and signature.
func (o *Orchestrator) AdminCreateOrModify(m monitor.Monitor, adminKeyID string, signature []byte) (PublicMonitorRecord, error) {
	if !o.IsAdminKey(adminKeyID) {
		return PublicMonitorRecord{}, fmt.Errorf("admission: invalid admin key id: %s", adminKeyID)
	}

	config, ok := MonitorConfigFromMonitor(m)
	if !ok {
		return PublicMonitorRecord{}, fmt.Errorf("admission: monitor missing public_domain")
	}
	if err := config.Validate(); err != nil {
		return PublicMonitorRecord{}, err
	}

	message, err := json.Marshal(config)
	if err != nil {
		return PublicMonitorRecord{}, fmt.Errorf("admission: encode monitor config: %w", err)
	}
	verified, err := o.trustManager.VerifyAdminSignature(adminKeyID, message, signature)
	if err != nil {
		return PublicMonitorRecord{}, fmt.Errorf("admission: verify admin signature: %w", err)
	}
	if !verified {
		return PublicMonitorRecord{}, fmt.Errorf("admission: invalid admin signature")
	}

	now := time.Now().Unix()
	record := PublicMonitorRecord{
		Monitor:    config,
		CreatedAt:  now,
		ModifiedAt: now,
		AdminSignature: &AdminSignature{
			AdminKeyID: adminKeyID,
			Signature:  signature,
			SignedAt:   now,
		},
	}

	o.mu.Lock()
	o.records[config.DHTKey()] = record
	o.mu.Unlock()
	return record, nil
}

// AdminDelete removes a public monitor record, provided adminKeyID is
// currently valid.
func (o *Orchestrator) AdminDelete(domain, adminKeyID string) error {
	if !o.IsAdminKey(adminKeyID) {
		return fmt.Errorf("admission: only admins can delete public monitors")
	}
	key := "public-monitor:" + strings.ToLower(domain)
	o.mu.Lock()
	delete(o.records, key)
	o.mu.Unlock()
	return nil
}

// ShouldPromote reports whether r has earned public status: an
// admin signature always promotes; otherwise the interest threshold
// must be met.
func (o *Orchestrator) ShouldPromote(r PublicMonitorRecord) bool {
	if r.AdminSignature != nil {
		return true
	}
	return r.InterestCount >= o.threshold
}

// VerifyAdminSignature checks r's admin signature is both fresh
// (younger than AdminSignatureMaxAge) and cryptographically valid.
func (o *Orchestrator) VerifyAdminSignature(r PublicMonitorRecord) (bool, error) {
	if r.AdminSignature == nil {
		return false, nil
	}
	age := time.Since(time.Unix(r.AdminSignature.SignedAt, 0))
	if age > AdminSignatureMaxAge {
		return false, nil
	}
	message, err := json.Marshal(r.Monitor)
	if err != nil {
		return false, fmt.Errorf("admission: encode monitor config: %w", err)
	}
	return o.trustManager.VerifyAdminSignature(r.AdminSignature.AdminKeyID, message, r.AdminSignature.Signature)
}

// ProcessDHTRecord reconciles a record received from the network
// against local state: admin-signed records always verify before
// acceptance; between two admin-signed records the newer modified_at
// wins; an admin-signed record always supersedes a non-signed one.
func (o *Orchestrator) ProcessDHTRecord(r PublicMonitorRecord) (bool, error) {
	if r.AdminSignature != nil {
		ok, err := o.VerifyAdminSignature(r)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("admission: invalid admin signature")
		}
	}

	key := r.Monitor.DHTKey()

	o.mu.Lock()
	defer o.mu.Unlock()

	existing, exists := o.records[key]
	accept := true
	if exists {
		switch {
		case r.AdminSignature != nil && existing.AdminSignature == nil:
			accept = true
		case r.AdminSignature != nil && existing.AdminSignature != nil:
			accept = r.ModifiedAt > existing.ModifiedAt
		case r.AdminSignature == nil && existing.AdminSignature != nil:
			accept = false
		default:
			accept = true
		}
	}

	if accept {
		o.records[key] = r
	}
	return accept, nil
}

// GetPublicMonitors returns every record that has earned public
// status (threshold met, or admin-signed).
func (o *Orchestrator) GetPublicMonitors() []PublicMonitorRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]PublicMonitorRecord, 0, len(o.records))
	for _, r := range o.records {
		if o.ShouldPromote(r) {
			out = append(out, r)
		}
	}
	return out
}

// UpdateFromDHT reconciles a batch of records fetched from the
// network, ignoring individual record errors the way the source's
// update_from_dht discards per-record failures.
func (o *Orchestrator) UpdateFromDHT(records []PublicMonitorRecord) {
	for _, r := range records {
		_, _ = o.ProcessDHTRecord(r)
	}
}

// AdminKeyIDs returns the currently valid admin key IDs.
func (o *Orchestrator) AdminKeyIDs() []string {
	return o.trustManager.AdminKeyIDs()
}
