package p2p

import "fmt"

// ResultsTopic carries the signed CheckResults of public monitors;
// results of private and internal monitors are not published on it (§6).
const ResultsTopic = "uppe/monitoring/results/v1"

// HelperAssignmentsTopic carries HelperAssignmentRequest/Response
// traffic that isn't already routed via the probe protocol directly.
const HelperAssignmentsTopic = "/uppe/helper-assignments/v1"

// ReputationTopic carries PeerTrustScore updates between peers.
const ReputationTopic = "/uppe/reputation/v1"

// PublicMonitorsTopic is the per-domain control topic for a public
// monitor group: Announce/Join/Leave/ScheduleUpdate/GroupQuery/
// GroupResponse.
func PublicMonitorsTopic(domain string) string {
	return "/uppe/public-monitors/" + domain
}

// PrivateResultsTopic is where a private monitor's helpers gossip
// EncryptedResult envelopes for the owner to subscribe to.
func PrivateResultsTopic(ownerPeerID string) string {
	return "/uppe/private-results/" + ownerPeerID + "/v1"
}

// SyncCompletionTopic is where an owner announces it has caught up to
// a given timestamp, letting sync-aware retention reclaim results.
func SyncCompletionTopic(ownerPeerID string) string {
	return "/uppe/sync-completion/" + ownerPeerID + "/v1"
}

// Admin trust-chain DHT keys (§6): flat, well-known strings rather
// than per-domain, since there is exactly one chain network-wide.
const (
	AdminTrustChainDHTKey     = "uppe-admin-trust-chain"
	AdminRevocationListDHTKey = "uppe-admin-revocation-list"
)

// PublicMonitorDHTKey is the DHT key under which a domain's JSON
// admission.PublicMonitorRecord is replicated.
func PublicMonitorDHTKey(domain string) string {
	return "/uppe/public-monitor/" + domain
}

// PrivateResultsBatchDHTKey is the DHT key a helper stores a batch of
// EncryptedResult envelopes under, for owner-offline sync. Batches
// must be filled consecutively starting at index 0 — owner-sync stops
// at the first not-found index (REDESIGN FLAG (c): this does not
// tolerate gaps).
func PrivateResultsBatchDHTKey(monitorUUID string, batchIndex int) string {
	return fmt.Sprintf("uppe-private-results-%s-%d", monitorUUID, batchIndex)
}

// PrivateResultEchoDHTKey is a per-result echo key a helper may also
// publish, keyed by owner/monitor/timestamp, independent of batching.
func PrivateResultEchoDHTKey(ownerPeerID, monitorUUID string, timestamp int64) string {
	return fmt.Sprintf("/uppe/private/%s/%s/%d", ownerPeerID, monitorUUID, timestamp)
}

// MaxBatchIndex bounds owner-sync's consecutive batch walk (§5
// timeouts: "implicit upper bound via MAX_BATCH_INDEX = 100").
const MaxBatchIndex = 100

// RecordTTLDays is how many days a published DHT record is valid for before
// Kademlia expires it (§4.7).
const RecordTTLDays = 7

// ReplicationQuorum is how many peers a DHT record is replicated to.
const ReplicationQuorum = 20

// DHTQueryTimeoutSeconds bounds a get_record call; past this with no
// valid replica found, the runtime emits DHTRecordNotFound.
const DHTQueryTimeoutSeconds = 30
