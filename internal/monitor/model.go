// Package monitor defines uppe's core data model: monitor
// specifications, check results, and the results a peer observes from
// the network. Shapes follow the original service's database/models.rs,
// extended with the visibility/ownership fields the distilled spec adds.
package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CheckType is the kind of probe a Monitor runs.
type CheckType string

const (
	CheckHTTP  CheckType = "http"
	CheckHTTPS CheckType = "https"
	CheckTCP   CheckType = "tcp"
	CheckICMP  CheckType = "icmp"
)

// Visibility controls a monitor's trust and retention semantics.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityInternal Visibility = "internal"
)

// Status is the outcome of a single check.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
	StatusUnknown  Status = "unknown"
)

var (
	ErrTimeoutNotLessThanInterval = errors.New("monitor: timeout_seconds must be less than interval_seconds")
	ErrIntervalOutOfRange         = errors.New("monitor: interval_seconds must be in [10, 86400]")
	ErrTimeoutOutOfRange          = errors.New("monitor: timeout_seconds must be in [1, 300]")
)

// Monitor is a target specification.
type Monitor struct {
	UUID            uuid.UUID  `json:"uuid"`
	Name            string     `json:"name"`
	Target          string     `json:"target"`
	CheckType       CheckType  `json:"check_type"`
	IntervalSeconds uint64     `json:"interval_seconds"`
	TimeoutSeconds  uint64     `json:"timeout_seconds"`
	Enabled         bool       `json:"enabled"`
	Visibility      Visibility `json:"visibility"`

	// Public-only.
	PublicDomain string `json:"public_domain,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`

	// Private/internal-only.
	OwnerPeerID string `json:"owner_peer_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidateInvariants enforces the data model's structural invariants,
// independent of the security-oriented target validation in validate.go.
func (m Monitor) ValidateInvariants() error {
	if m.TimeoutSeconds >= m.IntervalSeconds {
		return ErrTimeoutNotLessThanInterval
	}
	if m.IntervalSeconds < 10 || m.IntervalSeconds > 86400 {
		return ErrIntervalOutOfRange
	}
	if m.TimeoutSeconds < 1 || m.TimeoutSeconds > 300 {
		return ErrTimeoutOutOfRange
	}
	return nil
}

// CheckResult is one observation produced by the probe executor.
type CheckResult struct {
	MonitorUUID  uuid.UUID `json:"monitor_uuid"`
	Target       string    `json:"target"`
	Timestamp    time.Time `json:"timestamp"`
	Status       Status    `json:"status"`
	LatencyMS    *uint64   `json:"latency_ms,omitempty"`
	StatusCode   *int      `json:"status_code,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	PeerID       string    `json:"peer_id"`
	Signature    []byte    `json:"signature,omitempty"`
}

// SignableJSON serializes the subset of fields that get signed: every
// field except the signature itself, in the data model's declared
// field order (Go's encoding/json already emits struct fields in
// declaration order, which is what "canonical" means here).
func (r CheckResult) SignableJSON() ([]byte, error) {
	type signable struct {
		MonitorUUID  uuid.UUID `json:"monitor_uuid"`
		Target       string    `json:"target"`
		Timestamp    time.Time `json:"timestamp"`
		Status       Status    `json:"status"`
		LatencyMS    *uint64   `json:"latency_ms,omitempty"`
		StatusCode   *int      `json:"status_code,omitempty"`
		ErrorMessage *string   `json:"error_message,omitempty"`
		PeerID       string    `json:"peer_id"`
	}
	return json.Marshal(signable{
		MonitorUUID:  r.MonitorUUID,
		Target:       r.Target,
		Timestamp:    r.Timestamp,
		Status:       r.Status,
		LatencyMS:    r.LatencyMS,
		StatusCode:   r.StatusCode,
		ErrorMessage: r.ErrorMessage,
		PeerID:       r.PeerID,
	})
}

// PeerResult is a CheckResult received from the network, with
// provenance and retention bookkeeping attached.
type PeerResult struct {
	CheckResult
	Verified       bool      `json:"verified"`
	ReceivedAt     time.Time `json:"received_at"`
	PublicKey      []byte    `json:"public_key,omitempty"`
	SourcePeerID   string    `json:"source_peer_id,omitempty"`
	SyncedFromPeer bool      `json:"synced_from_peer"`
	RetentionUntil time.Time `json:"retention_until"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	CountryCode    string    `json:"country_code,omitempty"`
}

// SignedMessage is the GossipSub wire envelope for topic
// uppe/monitoring/results/v1.
type SignedMessage struct {
	Result    CheckResult `json:"result"`
	PublicKey [32]byte    `json:"public_key"`
}

// TimestampSkewError is returned by result admission when a result's
// timestamp is outside the accepted window.
type TimestampSkewError struct {
	Timestamp time.Time
	Now       time.Time
}

func (e TimestampSkewError) Error() string {
	return fmt.Sprintf("monitor: timestamp %s outside admission window around %s", e.Timestamp, e.Now)
}

// maxFutureSkew / maxPastSkew bound §4.2's admission window: reject
// timestamps more than 300s in the future or 86400s in the past.
const (
	maxFutureSkew = 300 * time.Second
	maxPastSkew   = 86400 * time.Second
)

// WithinAdmissionWindow reports whether ts is acceptable relative to now.
func WithinAdmissionWindow(ts, now time.Time) bool {
	if ts.After(now.Add(maxFutureSkew)) {
		return false
	}
	if ts.Before(now.Add(-maxPastSkew)) {
		return false
	}
	return true
}
