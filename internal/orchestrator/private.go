package orchestrator

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uppe-net/uppe/internal/crypto"
	"github.com/uppe-net/uppe/internal/monitor"
	"github.com/uppe-net/uppe/internal/netlog"
	"github.com/uppe-net/uppe/internal/p2p"
	"github.com/uppe-net/uppe/internal/registry"
	"github.com/uppe-net/uppe/internal/storage"
)

// maxAssignmentsPerHelper bounds how many private monitors a single
// helper peer may be assigned concurrently.
const maxAssignmentsPerHelper = 10

// assignmentTimeout bounds how long a pending helper assignment waits
// for an accept/reject before it is reassigned.
const assignmentTimeout = 30 * time.Second

// minHelpers/maxHelpers bound how many helpers are assigned per private
// monitor; fewer than minHelpers triggers a rebalance on peer loss.
const (
	minHelpers = 3
	maxHelpers = 5
)

// helperStatus tracks one helper's recent activity, used to detect
// stale assignments and to feed trust scoring.
type helperStatus struct {
	lastSeen        time.Time
	assignmentCount int
	confirmed       bool
}

type pendingAssignment struct {
	helperIDs []string
	assignedAt time.Time
}

// PrivateOrchestrator assigns helper peers to private monitors, routes
// their encrypted results, and periodically syncs an owner's own
// results back out of the DHT. Ported from orchestrator/private.rs.
type PrivateOrchestrator struct {
	store      storage.Store
	peerID     string
	ownerPub   [32]byte
	ownerSec   [32]byte
	commands   chan<- p2p.Command
	log        netlog.Logger

	mu             sync.Mutex
	assignments    map[string][]string // monitor uuid -> helper peer ids
	pending        map[string]pendingAssignment
	helperStatus   map[string]*helperStatus
	connectedPeers map[string]bool
	syncedBatches  map[string]int64 // "monitorUUID-batchIndex" -> synced-at unix
	lastSyncAt     time.Time

	trustMu sync.Mutex
	trust   map[string]*registry.PeerTrustScore

	dhtMu       sync.Mutex
	dhtWaiters  map[string]chan []byte

	rateLimiter *PrivateMonitorRateLimiter
}

// NewPrivateOrchestrator wires a private orchestrator to its store and
// the p2p command channel it publishes assignments/results through.
// ownerKeyPair supplies both the X25519 public key advertised to
// helpers and the secret scalar used to decrypt synced results.
func NewPrivateOrchestrator(store storage.Store, peerID string, ownerKeyPair *crypto.KeyPair, commands chan<- p2p.Command, log netlog.Logger) *PrivateOrchestrator {
	if log == nil {
		log = netlog.Noop{}
	}
	return &PrivateOrchestrator{
		store:          store,
		peerID:         peerID,
		ownerPub:       ownerKeyPair.X25519PublicKey(),
		ownerSec:       ownerKeyPair.X25519SecretKey(),
		commands:       commands,
		log:            log,
		assignments:    make(map[string][]string),
		pending:        make(map[string]pendingAssignment),
		helperStatus:   make(map[string]*helperStatus),
		connectedPeers: make(map[string]bool),
		syncedBatches:  make(map[string]int64),
		trust:          make(map[string]*registry.PeerTrustScore),
		dhtWaiters:     make(map[string]chan []byte),
		rateLimiter:    NewPrivateMonitorRateLimiter(),
	}
}

// Initialize assigns helper peers for every already-enabled private
// monitor found in storage, backfilling a missing owner_peer_id with
// this node's own ID the way a monitor created before ownership
// tracking existed would need.
func (o *PrivateOrchestrator) Initialize() error {
	o.log.Infof("orchestrator: initializing private monitor orchestrator")

	monitors, err := o.store.GetEnabledMonitors()
	if err != nil {
		return fmt.Errorf("orchestrator: load enabled monitors: %w", err)
	}

	var private []monitor.Monitor
	for _, m := range monitors {
		if m.Visibility == monitor.VisibilityPrivate {
			if m.OwnerPeerID == "" {
				m.OwnerPeerID = o.peerID
				if _, err := o.store.SaveMonitor(&m); err != nil {
					o.log.Warnf("orchestrator: failed to save monitor with owner_peer_id: %v", err)
				}
			}
			private = append(private, m)
		}
	}
	if len(private) == 0 {
		o.log.Infof("orchestrator: no private monitors found during initialization")
		return nil
	}

	for _, m := range private {
		if err := o.HandleNewMonitor(m); err != nil {
			o.log.Warnf("orchestrator: failed to assign helpers for monitor %s: %v", m.UUID, err)
		}
	}
	return nil
}

// HandleNewMonitor selects and notifies helper peers for m, recording
// the assignment as pending until each helper accepts.
func (o *PrivateOrchestrator) HandleNewMonitor(m monitor.Monitor) error {
	if m.Visibility != monitor.VisibilityPrivate {
		return nil
	}

	monitorUUID := m.UUID.String()
	o.log.Infof("orchestrator: handling new private monitor %s", monitorUUID)

	if !o.rateLimiter.CanAddMonitor(m.OwnerPeerID) {
		o.log.Warnf("orchestrator: owner %s has reached the private monitor limit, rejecting %s", m.OwnerPeerID, monitorUUID)
		return fmt.Errorf("orchestrator: owner %s has reached the private monitor limit", m.OwnerPeerID)
	}

	helpers := o.assignHelperPeers(m)
	if len(helpers) == 0 {
		o.log.Warnf("orchestrator: no helper peers available for private monitor %s", monitorUUID)
		return nil
	}

	o.mu.Lock()
	o.pending[monitorUUID] = pendingAssignment{helperIDs: append([]string(nil), helpers...), assignedAt: time.Now()}
	o.mu.Unlock()

	for _, helperID := range helpers {
		if err := o.notifyHelperPeer(helperID, m); err != nil {
			o.log.Warnf("orchestrator: failed to notify helper peer %s: %v", helperID, err)
		}
	}

	o.log.Infof("orchestrator: assigned %d helper peers to monitor %s (pending confirmation)", len(helpers), monitorUUID)
	return nil
}

// assignHelperPeers selects min(5, N) candidates, preferring higher
// trust scores and shuffling within 0.1-wide trust tiers so equally
// trusted peers aren't always picked in the same order.
func (o *PrivateOrchestrator) assignHelperPeers(m monitor.Monitor) []string {
	o.mu.Lock()
	candidates := make([]string, 0, len(o.connectedPeers))
	for peerID := range o.connectedPeers {
		if peerID != m.OwnerPeerID {
			candidates = append(candidates, peerID)
		}
	}
	o.mu.Unlock()

	if len(candidates) == 0 {
		return nil
	}

	type scored = struct {
		peerID string
		score  float64
	}
	ranked := make([]scored, len(candidates))
	for i, id := range candidates {
		ranked[i] = scored{peerID: id, score: o.trustScore(id)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	for i := 0; i < len(ranked); {
		j := i + 1
		for j < len(ranked) && ranked[i].score-ranked[j].score < 0.1 {
			j++
		}
		shuffleTier(ranked[i:j])
		i = j
	}

	helperCount := len(ranked)
	if helperCount > maxHelpers {
		helperCount = maxHelpers
	}

	out := make([]string, helperCount)
	for i := 0; i < helperCount; i++ {
		out[i] = ranked[i].peerID
	}
	return out
}

// shuffleTier permutes s in place at random, so equally trusted peers
// are not always picked in the same order.
func shuffleTier(s []struct {
	peerID string
	score  float64
}) {
	rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

func (o *PrivateOrchestrator) trustScore(peerID string) float64 {
	o.trustMu.Lock()
	defer o.trustMu.Unlock()
	t, ok := o.trust[peerID]
	if !ok {
		return 1.0
	}
	return t.Score
}

func (o *PrivateOrchestrator) notifyHelperPeer(helperID string, m monitor.Monitor) error {
	o.log.Debugf("orchestrator: notifying peer %s to help monitor %s", helperID, m.UUID)
	req := p2p.HelperAssignmentRequest{
		MonitorUUID:     m.UUID.String(),
		Target:          m.Target,
		CheckType:       string(m.CheckType),
		IntervalSeconds: m.IntervalSeconds,
		TimeoutSeconds:  m.TimeoutSeconds,
		OwnerPeerID:     o.peerID,
		OwnerPublicKey:  o.ownerPub,
		HelperPeerID:    helperID,
		AssignedAt:      time.Now().Unix(),
	}
	o.commands <- p2p.AssignHelper(helperID, req)
	return nil
}

// HandleEncryptedResult gossips and DHT-stores a helper's encrypted
// result for redundancy; the owner decrypts it later during sync.
func (o *PrivateOrchestrator) HandleEncryptedResult(result crypto.EncryptedResult) error {
	o.log.Infof("orchestrator: received encrypted result for monitor %s from peer %s", result.MonitorUUID, result.HelperPeerID)

	if !o.rateLimiter.CanCheck(result.OwnerPeerID) {
		o.log.Warnf("orchestrator: owner %s exceeded its hourly check limit, dropping result for monitor %s", result.OwnerPeerID, result.MonitorUUID)
		return fmt.Errorf("orchestrator: owner %s exceeded its hourly check limit", result.OwnerPeerID)
	}

	o.commands <- p2p.PublishEncryptedResult(result)

	batch := []crypto.EncryptedResult{result}
	value, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("orchestrator: encode encrypted result batch: %w", err)
	}
	key := p2p.PrivateResultEchoDHTKey(result.OwnerPeerID, result.MonitorUUID, result.Timestamp)
	o.commands <- p2p.PublishDHTRecord(key, value)

	o.recordHelperSeen(result.HelperPeerID)
	return nil
}

// CanCheck reports whether ownerPeerID may count another private-monitor
// check this hour, consuming one unit of its rate budget if so. Engine
// calls this for the owner's own local checks; HandleEncryptedResult
// calls it again for checks a helper reports on the owner's behalf, so
// the limit is shared across both paths.
func (o *PrivateOrchestrator) CanCheck(ownerPeerID string) bool {
	return o.rateLimiter.CanCheck(ownerPeerID)
}

// ShouldCheckNow reports whether this peer is m's owner or one of its
// confirmed helpers.
func (o *PrivateOrchestrator) ShouldCheckNow(m monitor.Monitor) bool {
	if m.Visibility != monitor.VisibilityPrivate {
		return false
	}
	if m.OwnerPeerID == o.peerID {
		return true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range o.assignments[m.UUID.String()] {
		if id == o.peerID {
			return true
		}
	}
	return false
}

// HandlePeerConnected records peerID as a helper-assignment candidate.
func (o *PrivateOrchestrator) HandlePeerConnected(peerID string) {
	o.mu.Lock()
	o.connectedPeers[peerID] = true
	o.mu.Unlock()
}

// HandlePeerDisconnected drops peerID from the candidate pool and
// rebalances any monitor it was helping that falls below minHelpers.
func (o *PrivateOrchestrator) HandlePeerDisconnected(peerID string) {
	o.mu.Lock()
	delete(o.connectedPeers, peerID)
	delete(o.helperStatus, peerID)

	var needsRebalance []string
	for monitorUUID, helpers := range o.assignments {
		out := helpers[:0]
		hadPeer := false
		for _, id := range helpers {
			if id == peerID {
				hadPeer = true
				continue
			}
			out = append(out, id)
		}
		if hadPeer {
			o.assignments[monitorUUID] = out
			if len(out) < minHelpers {
				needsRebalance = append(needsRebalance, monitorUUID)
			}
		}
	}
	o.mu.Unlock()

	for _, monitorUUID := range needsRebalance {
		o.reassignMonitor(monitorUUID, "helper peer went offline")
	}
}

func (o *PrivateOrchestrator) reassignMonitor(monitorUUID, reason string) {
	id, err := uuid.Parse(monitorUUID)
	if err != nil {
		return
	}
	m, err := o.store.GetMonitorByUUID(id)
	if err != nil || m.Visibility != monitor.VisibilityPrivate {
		return
	}
	o.log.Infof("orchestrator: finding replacement helper for monitor %s (%s)", monitorUUID, reason)
	if err := o.HandleNewMonitor(m); err != nil {
		o.log.Warnf("orchestrator: failed to reassign monitor %s: %v", monitorUUID, err)
	}
}

// HandleHelperAccepted confirms helperID's assignment for monitorUUID,
// promoting it from pending to active.
func (o *PrivateOrchestrator) HandleHelperAccepted(monitorUUID, helperID string) {
	o.log.Infof("orchestrator: helper %s accepted assignment for monitor %s", helperID, monitorUUID)

	o.mu.Lock()
	if _, ok := o.pending[monitorUUID]; ok {
		delete(o.pending, monitorUUID)
		o.assignments[monitorUUID] = append(o.assignments[monitorUUID], helperID)
	}
	o.mu.Unlock()

	st := o.helperStatusFor(helperID)
	st.confirmed = true
	st.assignmentCount++
}

// HandleHelperRejected drops helperID from monitorUUID's pending set
// and looks for a replacement.
func (o *PrivateOrchestrator) HandleHelperRejected(monitorUUID, helperID, reason string) {
	o.log.Warnf("orchestrator: helper %s rejected assignment for monitor %s: %s", helperID, monitorUUID, reason)

	o.mu.Lock()
	if p, ok := o.pending[monitorUUID]; ok {
		out := p.helperIDs[:0]
		for _, id := range p.helperIDs {
			if id != helperID {
				out = append(out, id)
			}
		}
		p.helperIDs = out
		o.pending[monitorUUID] = p
	}
	o.mu.Unlock()

	o.reassignMonitor(monitorUUID, "helper rejected assignment")
}

func (o *PrivateOrchestrator) helperStatusFor(peerID string) *helperStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.helperStatus[peerID]
	if !ok {
		st = &helperStatus{}
		o.helperStatus[peerID] = st
	}
	st.lastSeen = time.Now()
	return st
}

func (o *PrivateOrchestrator) recordHelperSeen(helperID string) {
	o.helperStatusFor(helperID)

	o.trustMu.Lock()
	t, ok := o.trust[helperID]
	if !ok {
		score := registry.NewPeerTrustScore(helperID)
		t = &score
		o.trust[helperID] = t
	}
	t.RecordOperation(true)
	o.trustMu.Unlock()
}

// CheckHelperHealth reassigns monitors whose helpers haven't been seen
// within staleAfter, penalizing their trust score.
func (o *PrivateOrchestrator) CheckHelperHealth(staleAfter time.Duration) {
	now := time.Now()

	o.mu.Lock()
	var stale []string
	for peerID, st := range o.helperStatus {
		if now.Sub(st.lastSeen) > staleAfter {
			stale = append(stale, peerID)
		}
	}
	o.mu.Unlock()
	if len(stale) == 0 {
		return
	}

	o.log.Warnf("orchestrator: found %d stale helpers, reassigning their monitors", len(stale))

	isStale := make(map[string]bool, len(stale))
	for _, id := range stale {
		isStale[id] = true
	}

	o.mu.Lock()
	var toReassign []string
	for monitorUUID, helpers := range o.assignments {
		for _, id := range helpers {
			if isStale[id] {
				toReassign = append(toReassign, monitorUUID)
				break
			}
		}
	}
	for _, id := range stale {
		delete(o.helperStatus, id)
	}
	o.mu.Unlock()

	for _, monitorUUID := range toReassign {
		o.reassignMonitor(monitorUUID, "stale helper")
	}

	o.trustMu.Lock()
	for _, id := range stale {
		t, ok := o.trust[id]
		if !ok {
			score := registry.NewPeerTrustScore(id)
			t = &score
			o.trust[id] = t
		}
		t.RecordOperation(false)
	}
	o.trustMu.Unlock()
}

// CheckPendingTimeouts reassigns monitors whose pending helper
// assignment has sat unconfirmed past assignmentTimeout.
func (o *PrivateOrchestrator) CheckPendingTimeouts() {
	now := time.Now()

	o.mu.Lock()
	var timedOut []string
	for monitorUUID, p := range o.pending {
		if now.Sub(p.assignedAt) > assignmentTimeout {
			timedOut = append(timedOut, monitorUUID)
		}
	}
	for _, id := range timedOut {
		delete(o.pending, id)
	}
	o.mu.Unlock()

	if len(timedOut) == 0 {
		return
	}
	o.log.Warnf("orchestrator: found %d timed out assignments, reassigning", len(timedOut))
	for _, monitorUUID := range timedOut {
		o.reassignMonitor(monitorUUID, "assignment timeout")
	}
}

// RunMaintenance runs the periodic helper-health and timeout sweeps.
func (o *PrivateOrchestrator) RunMaintenance() {
	o.CheckHelperHealth(5 * time.Minute)
	o.CheckPendingTimeouts()
}

// ShouldSyncOwnerResults reports whether 12+ hours have passed since
// the last owner sync (or none has ever run).
func (o *PrivateOrchestrator) ShouldSyncOwnerResults() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastSyncAt.IsZero() {
		return true
	}
	return time.Since(o.lastSyncAt) > 12*time.Hour
}

// HandleDHTRecordReceived delivers a DHT get result to whichever
// pending batch-walk call is awaiting that key.
func (o *PrivateOrchestrator) HandleDHTRecordReceived(key string, value []byte) {
	o.dhtMu.Lock()
	ch, ok := o.dhtWaiters[key]
	if ok {
		delete(o.dhtWaiters, key)
	}
	o.dhtMu.Unlock()
	if ok {
		ch <- value
	}
}

// HandleDHTRecordNotFound signals absence to a pending batch-walk call.
func (o *PrivateOrchestrator) HandleDHTRecordNotFound(key string) {
	o.dhtMu.Lock()
	ch, ok := o.dhtWaiters[key]
	if ok {
		delete(o.dhtWaiters, key)
	}
	o.dhtMu.Unlock()
	if ok {
		ch <- nil
	}
}

func (o *PrivateOrchestrator) getDHTRecord(key string) []byte {
	ch := make(chan []byte, 1)
	o.dhtMu.Lock()
	o.dhtWaiters[key] = ch
	o.dhtMu.Unlock()

	o.commands <- p2p.GetDHTRecord(key)

	select {
	case value := <-ch:
		return value
	case <-time.After(p2p.DHTQueryTimeoutSeconds * time.Second):
		o.dhtMu.Lock()
		delete(o.dhtWaiters, key)
		o.dhtMu.Unlock()
		return nil
	}
}

// SyncOwnerResultsFromDHT walks each assigned monitor's batch keys from
// index 0, decrypting and permanently storing every result found, and
// stopping at the first missing batch index (REDESIGN FLAG (c): gaps
// are not tolerated, matching PrivateResultsBatchDHTKey's contract).
func (o *PrivateOrchestrator) SyncOwnerResultsFromDHT() error {
	o.log.Infof("orchestrator: syncing encrypted results from DHT for owner")

	o.mu.Lock()
	monitorUUIDs := make([]string, 0, len(o.assignments))
	for id := range o.assignments {
		monitorUUIDs = append(monitorUUIDs, id)
	}
	o.mu.Unlock()

	total := 0
	for _, monitorUUID := range monitorUUIDs {
		for batchIndex := 0; batchIndex < p2p.MaxBatchIndex; batchIndex++ {
			batchKey := fmt.Sprintf("%s-%d", monitorUUID, batchIndex)

			o.mu.Lock()
			_, synced := o.syncedBatches[batchKey]
			o.mu.Unlock()
			if synced {
				continue
			}

			dhtKey := p2p.PrivateResultsBatchDHTKey(monitorUUID, batchIndex)
			value := o.getDHTRecord(dhtKey)
			if value == nil {
				break // no record at this index: end of this monitor's batches
			}

			results, err := o.decryptResultBatch(value)
			if err != nil {
				o.log.Warnf("orchestrator: failed to decrypt batch %d for monitor %s: %v", batchIndex, monitorUUID, err)
				continue
			}
			for i := range results {
				if err := o.store.SaveResult(&results[i]); err != nil {
					o.log.Warnf("orchestrator: failed to store synced result for monitor %s: %v", monitorUUID, err)
				}
			}

			o.mu.Lock()
			o.syncedBatches[batchKey] = time.Now().Unix()
			o.mu.Unlock()
			total += len(results)
		}
	}

	o.mu.Lock()
	o.lastSyncAt = time.Now()
	o.mu.Unlock()

	o.log.Infof("orchestrator: completed syncing encrypted results from DHT (%d results total)", total)
	return nil
}

func (o *PrivateOrchestrator) decryptResultBatch(batchBytes []byte) ([]monitor.CheckResult, error) {
	var batch []crypto.EncryptedResult
	if err := json.Unmarshal(batchBytes, &batch); err != nil {
		return nil, fmt.Errorf("orchestrator: decode encrypted batch: %w", err)
	}

	results := make([]monitor.CheckResult, 0, len(batch))
	for _, enc := range batch {
		plaintext, err := crypto.DecryptResultForOwner(o.ownerSec, &enc)
		if err != nil {
			o.log.Warnf("orchestrator: failed to decrypt individual result in batch: %v", err)
			continue
		}
		var result monitor.CheckResult
		if err := json.Unmarshal(plaintext, &result); err != nil {
			o.log.Warnf("orchestrator: failed to decode decrypted result: %v", err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}
