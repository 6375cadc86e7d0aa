// Package p2p is the peer-to-peer runtime: libp2p host, GossipSub,
// Kademlia DHT, mDNS, and the request-response probe protocol, wired
// together behind a command/event channel pair so no orchestrator
// holds a direct handle to the swarm.
//
// Inbound commands and outbound events are Go structs carrying a Kind
// discriminator field rather than an interface with marker methods,
// keeping channel-based dispatch a plain switch over a string constant.
package p2p

import (
	"github.com/uppe-net/uppe/internal/crypto"
	"github.com/uppe-net/uppe/internal/monitor"
)

// ProbeProtocolID is the request-response stream protocol used for
// on-demand probe solicitation between peers.
const ProbeProtocolID = "/peerup/probe/1.0"

// ProbeRequest is the JSON-framed request body for ProbeProtocolID.
type ProbeRequest struct {
	TargetURL   string            `json:"target_url"`
	Method      string            `json:"method"`
	TimeoutMS   uint64            `json:"timeout"`
	Body        *string           `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestedBy string            `json:"requested_by"`
}

// ProbeResponse is the JSON-framed response body for ProbeProtocolID.
type ProbeResponse struct {
	Status     *int              `json:"status,omitempty"`
	DurationMS uint64            `json:"duration"`
	Error      *string           `json:"error,omitempty"`
	ProbedBy   string            `json:"probed_by"`
	Timestamp  int64             `json:"timestamp"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       *string           `json:"body,omitempty"`
}

// QueryResult is one row of a ResultsQueryResponse: a self-contained,
// independently-verifiable signed observation.
type QueryResult struct {
	MonitorUUID  string  `json:"monitor_uuid"`
	Timestamp    int64   `json:"timestamp"`
	Status       string  `json:"status"`
	LatencyMS    *uint64 `json:"latency_ms,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	PeerID       string  `json:"peer_id"`
	Signature    []byte  `json:"signature"`
	PublicKey    []byte  `json:"public_key"`
}

// ResultsQueryRequest asks a peer for its results since a timestamp,
// optionally scoped to one monitor.
type ResultsQueryRequest struct {
	SinceTimestamp int64   `json:"since_timestamp"`
	MonitorUUID    *string `json:"monitor_uuid,omitempty"`
	Limit          uint64  `json:"limit"`
}

// ResultsQueryResponse answers a ResultsQueryRequest.
type ResultsQueryResponse struct {
	Results []QueryResult `json:"results"`
	HasMore bool          `json:"has_more"`
}

// SyncCompletionNotification tells the network an owner has caught up
// to a given timestamp, letting sync-aware retention reclaim the
// results it now covers.
type SyncCompletionNotification struct {
	SyncingPeerID      string   `json:"syncing_peer_id"`
	SyncedUntilTs      int64    `json:"synced_until_timestamp"`
	MonitorUUIDs       []string `json:"monitor_uuids"`
}

// HelperAssignmentRequest asks a candidate helper peer to take on a
// private monitor's checks; owner_public_key is the owner's X25519 key
// used for per-result encryption.
type HelperAssignmentRequest struct {
	MonitorUUID     string   `json:"monitor_uuid"`
	Target          string   `json:"target"`
	CheckType       string   `json:"check_type"`
	IntervalSeconds uint64   `json:"interval_seconds"`
	TimeoutSeconds  uint64   `json:"timeout_seconds"`
	OwnerPeerID     string   `json:"owner_peer_id"`
	OwnerPublicKey  [32]byte `json:"owner_public_key"`
	HelperPeerID    string   `json:"helper_peer_id"`
	AssignedAt      int64    `json:"assigned_at"`
}

// HelperAssignmentResponseKind discriminates HelperAssignmentResponse.
type HelperAssignmentResponseKind string

const (
	HelperAccepted HelperAssignmentResponseKind = "accepted"
	HelperRejected HelperAssignmentResponseKind = "rejected"
)

// HelperAssignmentResponse is a helper's accept/reject reply to a
// HelperAssignmentRequest.
type HelperAssignmentResponse struct {
	Kind         HelperAssignmentResponseKind `json:"kind"`
	MonitorUUID  string                       `json:"monitor_uuid"`
	HelperPeerID string                       `json:"helper_peer_id,omitempty"`
	Reason       string                       `json:"reason,omitempty"`
}

// AcceptHelperAssignment builds an Accepted response.
func AcceptHelperAssignment(monitorUUID, helperPeerID string) HelperAssignmentResponse {
	return HelperAssignmentResponse{Kind: HelperAccepted, MonitorUUID: monitorUUID, HelperPeerID: helperPeerID}
}

// RejectHelperAssignment builds a Rejected response.
func RejectHelperAssignment(monitorUUID, reason string) HelperAssignmentResponse {
	return HelperAssignmentResponse{Kind: HelperRejected, MonitorUUID: monitorUUID, Reason: reason}
}

// PublicMonitorMessageKind discriminates PublicMonitorMessage variants
// exchanged on a per-domain control topic.
type PublicMonitorMessageKind string

const (
	PublicMonitorAnnounce       PublicMonitorMessageKind = "announce"
	PublicMonitorJoin           PublicMonitorMessageKind = "join"
	PublicMonitorLeave          PublicMonitorMessageKind = "leave"
	PublicMonitorScheduleUpdate PublicMonitorMessageKind = "schedule_update"
	PublicMonitorGroupQuery     PublicMonitorMessageKind = "group_query"
	PublicMonitorGroupResponse  PublicMonitorMessageKind = "group_response"
)

// PublicMonitorMessage is the wire envelope for
// /uppe/public-monitors/{domain}. Only the fields relevant to Kind are
// populated; a GroupResponse is only sent by a peer that knows the
// domain, so its Group is always set.
type PublicMonitorMessage struct {
	Kind          PublicMonitorMessageKind `json:"kind"`
	Domain        string                   `json:"domain"`
	DisplayName   string                   `json:"display_name,omitempty"`
	CreatorPeerID string                   `json:"creator_peer_id,omitempty"`
	PeerID        string                   `json:"peer_id,omitempty"`
	Schedule      *ScheduleWire            `json:"schedule,omitempty"`
	Group         *GroupWire               `json:"group,omitempty"`

	// VoterPeerID/Signature/PublicKey/Timestamp are only populated on
	// ScheduleUpdate: the signed vote provenance a receiving peer needs
	// to admit the proposed schedule into its own consensus round.
	VoterPeerID string `json:"voter_peer_id,omitempty"`
	Signature   []byte `json:"signature,omitempty"`
	PublicKey   []byte `json:"public_key,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// ScheduleWire and GroupWire are local re-declarations of the
// consensus package's schedule/group shapes, kept free of an import
// cycle: p2p is a pure wire-protocol package, the consensus and
// orchestrator packages depend on it rather than the reverse.
type ScheduleWire struct {
	IntervalSeconds uint64               `json:"interval_seconds"`
	Assignments     []PeerAssignmentWire `json:"assignments"`
}

// PeerAssignmentWire is one peer's slot within a ScheduleWire.
type PeerAssignmentWire struct {
	PeerID        string `json:"peer_id"`
	NextCheckAt   int64  `json:"next_check_at"`
	CheckSequence int    `json:"check_sequence"`
}

// GroupWire mirrors consensus.PublicMonitorGroup for wire transport.
type GroupWire struct {
	Domain      string       `json:"domain"`
	DisplayName string       `json:"display_name"`
	PeerIDs     []string     `json:"peer_ids"`
	Schedule    ScheduleWire `json:"schedule"`
	TotalChecks uint64       `json:"total_checks"`
}

// DhtPeerEntry is one peer known to a Kademlia bucket, captured for a
// point-in-time DhtSnapshot.
type DhtPeerEntry struct {
	PeerID string   `json:"peer_id"`
	Addrs  []string `json:"addrs"`
	State  *string  `json:"state,omitempty"`
}

// DhtBucket is one k-bucket's contents in a DhtSnapshot.
type DhtBucket struct {
	Index int            `json:"index"`
	Peers []DhtPeerEntry `json:"peers"`
}

// DhtSnapshot is a debug/introspection dump of the local routing
// table, emitted on demand as a DHTSnapshot event.
type DhtSnapshot struct {
	LocalPeerID string      `json:"local_peer_id"`
	Buckets     []DhtBucket `json:"buckets"`
	CapturedAt  int64       `json:"captured_at"`
}

// CommandKind discriminates Command, the single channel type the rest
// of the core uses to drive the swarm without ever touching it
// directly.
type CommandKind string

const (
	CmdPublishResult          CommandKind = "publish_result"
	CmdPublishEncryptedResult CommandKind = "publish_encrypted_result"
	CmdPublishToTopic         CommandKind = "publish_to_topic"
	CmdQueryResults           CommandKind = "query_results"
	CmdNotifySyncComplete     CommandKind = "notify_sync_complete"
	CmdAssignHelper           CommandKind = "assign_helper"
	CmdSendHelperResponse     CommandKind = "send_helper_response"
	CmdPublishDHTRecord       CommandKind = "publish_dht_record"
	CmdGetDHTRecord           CommandKind = "get_dht_record"
	CmdSubscribe              CommandKind = "subscribe"
	CmdUnsubscribe            CommandKind = "unsubscribe"
	CmdShutdown               CommandKind = "shutdown"
)

// Command is the command-surface envelope from §4.7: only the fields
// relevant to Kind are populated.
type Command struct {
	Kind CommandKind

	Result          *monitor.CheckResult
	EncryptedResult *crypto.EncryptedResult
	Topic           string
	Data            []byte
	Request         *ResultsQueryRequest
	SyncNotify      *SyncCompletionNotification

	HelperPeerID string
	HelperReq    *HelperAssignmentRequest
	HelperResp   *HelperAssignmentResponse

	DHTKey   string
	DHTValue []byte
}

// PublishResult builds a CmdPublishResult command.
func PublishResult(r monitor.CheckResult) Command { return Command{Kind: CmdPublishResult, Result: &r} }

// PublishEncryptedResult builds a CmdPublishEncryptedResult command.
func PublishEncryptedResult(r crypto.EncryptedResult) Command {
	return Command{Kind: CmdPublishEncryptedResult, EncryptedResult: &r}
}

// PublishToTopic builds a CmdPublishToTopic command for raw bytes on
// an arbitrary GossipSub topic (used for the per-domain public-monitor
// control topics; helper-assignment traffic goes through AssignHelper
// and SendHelperResponse).
func PublishToTopic(topic string, data []byte) Command {
	return Command{Kind: CmdPublishToTopic, Topic: topic, Data: data}
}

// AssignHelper builds a CmdAssignHelper command.
func AssignHelper(helperPeerID string, req HelperAssignmentRequest) Command {
	return Command{Kind: CmdAssignHelper, HelperPeerID: helperPeerID, HelperReq: &req}
}

// SendHelperResponse builds a CmdSendHelperResponse command.
func SendHelperResponse(resp HelperAssignmentResponse) Command {
	return Command{Kind: CmdSendHelperResponse, HelperResp: &resp}
}

// PublishDHTRecord builds a CmdPublishDHTRecord command.
func PublishDHTRecord(key string, value []byte) Command {
	return Command{Kind: CmdPublishDHTRecord, DHTKey: key, DHTValue: value}
}

// GetDHTRecord builds a CmdGetDHTRecord command.
func GetDHTRecord(key string) Command { return Command{Kind: CmdGetDHTRecord, DHTKey: key} }

// EventKind discriminates Event, the single channel type the runtime
// uses to deliver inbound activity to the rest of the core.
type EventKind string

const (
	EvtPeerConnected           EventKind = "peer_connected"
	EvtPeerDisconnected        EventKind = "peer_disconnected"
	EvtResultReceived          EventKind = "result_received"
	EvtResultsQueried          EventKind = "results_queried"
	EvtSyncCompleted           EventKind = "sync_completed"
	EvtSubscribed              EventKind = "subscribed"
	EvtUnsubscribed            EventKind = "unsubscribed"
	EvtStarted                 EventKind = "started"
	EvtError                   EventKind = "error"
	EvtDHTRecordPublished      EventKind = "dht_record_published"
	EvtDHTRecordReceived       EventKind = "dht_record_received"
	EvtDHTRecordNotFound       EventKind = "dht_record_not_found"
	EvtDHTRecordPublishFailed  EventKind = "dht_record_publish_failed"
	EvtHelperAssignmentReq     EventKind = "helper_assignment_requested"
	EvtHelperAssignmentResp    EventKind = "helper_assignment_response"
	EvtEncryptedResultReceived EventKind = "encrypted_result_received"
	EvtDhtSnapshot             EventKind = "dht_snapshot"
)

// Event is the event-surface envelope from §4.7.
type Event struct {
	Kind EventKind

	PeerID string

	Result  *monitor.PeerResult
	Results *ResultsQueryResponse

	SyncNotify *SyncCompletionNotification

	ErrorMessage string

	DHTKey   string
	DHTValue []byte

	HelperReq       *HelperAssignmentRequest
	HelperResp      *HelperAssignmentResponse
	EncryptedResult *crypto.EncryptedResult

	Snapshot *DhtSnapshot
}
