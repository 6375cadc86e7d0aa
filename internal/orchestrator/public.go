// Package orchestrator coordinates checks across the network: the
// public-monitor consensus path (this file), the private-monitor
// helper-assignment path (private.go), result retention (retention.go),
// and the top-level engine that wires them to storage and the p2p
// runtime (engine.go). Ported from orchestrator/distributed.rs,
// orchestrator/private.rs, and orchestrator/retention.rs.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/uppe-net/uppe/internal/consensus"
	"github.com/uppe-net/uppe/internal/crypto"
	"github.com/uppe-net/uppe/internal/monitor"
	"github.com/uppe-net/uppe/internal/netlog"
	"github.com/uppe-net/uppe/internal/p2p"
	"github.com/uppe-net/uppe/internal/storage"
)

// groupQueryTimeout bounds how long HandleNewMonitor waits for a
// GroupResponse before assuming no other peer knows the domain yet.
const groupQueryTimeout = 3 * time.Second

// PublicOrchestrator coordinates public monitor groups across peers:
// schedule consensus, membership, and rebalance on join/leave.
type PublicOrchestrator struct {
	store     storage.Store
	consensus *consensus.Manager
	peerID    string
	keypair   *crypto.KeyPair
	commands  chan<- p2p.Command
	log       netlog.Logger

	mu     sync.RWMutex
	groups map[string]*consensus.PublicMonitorGroup

	groupQueryMu sync.Mutex
	groupWaiters map[string]chan *p2p.GroupWire
}

// NewPublicOrchestrator wires a public orchestrator to its store and
// the p2p command channel it publishes announcements/votes through.
func NewPublicOrchestrator(store storage.Store, peerID string, keypair *crypto.KeyPair, commands chan<- p2p.Command, log netlog.Logger) *PublicOrchestrator {
	if log == nil {
		log = netlog.Noop{}
	}
	return &PublicOrchestrator{
		store:        store,
		consensus:    consensus.NewManager(),
		peerID:       peerID,
		keypair:      keypair,
		commands:     commands,
		log:          log,
		groups:       make(map[string]*consensus.PublicMonitorGroup),
		groupWaiters: make(map[string]chan *p2p.GroupWire),
	}
}

// Initialize loads every enabled public monitor, groups them by
// domain, and seeds in-memory group state from the store (falling back
// to a freshly created group when none is persisted yet).
func (o *PublicOrchestrator) Initialize() error {
	o.log.Infof("orchestrator: initializing public monitor orchestrator")

	monitors, err := o.store.GetEnabledMonitors()
	if err != nil {
		return fmt.Errorf("orchestrator: load enabled monitors: %w", err)
	}

	domains := make(map[string]bool)
	for _, m := range monitors {
		if m.Visibility == monitor.VisibilityPublic && m.PublicDomain != "" {
			domains[m.PublicDomain] = true
		}
	}
	if len(domains) == 0 {
		o.log.Infof("orchestrator: no public monitors found during initialization")
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for domain := range domains {
		existing, err := o.store.GetPublicMonitorGroup(domain)
		switch {
		case err == nil:
			o.log.Infof("orchestrator: loaded existing public monitor group %s", domain)
			g := existing
			o.groups[domain] = &g
		default:
			o.log.Infof("orchestrator: creating new public monitor group %s", domain)
			g := newGroup(domain, "Public Monitors - "+domain, o.peerID)
			o.groups[domain] = &g
		}
		o.consensus.GetOrCreate(domain, o.groups[domain].Schedule)
	}
	return nil
}

func newGroup(domain, displayName, creatorPeerID string) consensus.PublicMonitorGroup {
	now := time.Now()
	return consensus.PublicMonitorGroup{
		Domain:      domain,
		DisplayName: displayName,
		PeerIDs:     []string{creatorPeerID},
		Schedule:    consensus.StaggerAssignments([]string{creatorPeerID}, 60),
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// HandleNewMonitor validates and either joins m's domain's existing
// group or creates a new one, broadcasting the appropriate control
// message and proposing a schedule update.
func (o *PublicOrchestrator) HandleNewMonitor(m monitor.Monitor) error {
	if m.Visibility != monitor.VisibilityPublic {
		return nil // private/internal monitors are handled by the private orchestrator
	}
	if m.PublicDomain == "" {
		return fmt.Errorf("orchestrator: public monitor missing domain")
	}

	if err := monitor.ValidateMonitorTarget(m.Target, m.CheckType); err != nil {
		return fmt.Errorf("orchestrator: monitor validation failed: %w", err)
	}
	if err := m.ValidateInvariants(); err != nil {
		return fmt.Errorf("orchestrator: interval validation failed: %w", err)
	}

	domain := m.PublicDomain
	o.log.Infof("orchestrator: handling new public monitor for domain %s", domain)

	o.mu.Lock()
	group, exists := o.groups[domain]
	if exists {
		o.log.Infof("orchestrator: joining existing monitor group for %s", domain)
		group.AddPeer(o.peerID)
		schedule := group.Schedule
		o.mu.Unlock()

		if err := o.broadcastJoin(domain); err != nil {
			return err
		}
		return o.proposeScheduleUpdate(domain, schedule)
	}

	o.mu.Unlock()

	// This peer has no local record of the domain's group, but another
	// peer already tracking it may — ask before assuming we're first.
	if wire := o.queryGroup(domain); wire != nil {
		g := wireToGroup(wire)
		g.AddPeer(o.peerID)
		o.mu.Lock()
		o.groups[domain] = &g
		o.mu.Unlock()
		o.consensus.GetOrCreate(domain, g.Schedule)

		if err := o.broadcastJoin(domain); err != nil {
			return err
		}
		return o.proposeScheduleUpdate(domain, g.Schedule)
	}

	displayName := m.DisplayName
	if displayName == "" {
		displayName = domain
	}
	g := newGroup(domain, displayName, o.peerID)
	o.mu.Lock()
	o.groups[domain] = &g
	o.mu.Unlock()

	if err := o.broadcastAnnouncement(g); err != nil {
		return err
	}
	o.consensus.GetOrCreate(domain, g.Schedule)
	return nil
}

// ShouldCheckNow reports whether this peer's assignment slot is due
// for m, per the domain's current consensus schedule. Private/internal
// monitors always report true — their cadence is owner-local.
func (o *PublicOrchestrator) ShouldCheckNow(m monitor.Monitor) bool {
	if m.Visibility != monitor.VisibilityPublic {
		return true
	}
	if m.PublicDomain == "" {
		return false
	}
	return o.consensus.ShouldCheckNow(m.PublicDomain, o.peerID)
}

// MarkCheckCompleted advances the local peer's schedule slot and bumps
// the group's total-checks counter for m's domain.
func (o *PublicOrchestrator) MarkCheckCompleted(m monitor.Monitor) {
	if m.Visibility != monitor.VisibilityPublic || m.PublicDomain == "" {
		return
	}
	domain := m.PublicDomain
	o.consensus.MarkCheckCompleted(domain, o.peerID)

	o.mu.Lock()
	defer o.mu.Unlock()
	if g, ok := o.groups[domain]; ok {
		g.MarkCheckCompleted(o.peerID)
	}
}

// proposeScheduleUpdate signs and casts a local vote for schedule
// within domain, then broadcasts it for other group members to vote on.
func (o *PublicOrchestrator) proposeScheduleUpdate(domain string, schedule consensus.OrchestrationSchedule) error {
	timestamp := time.Now().Unix()
	scheduleJSON, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("orchestrator: encode schedule: %w", err)
	}
	message := crypto.CanonicalVoteBytes(domain, scheduleJSON, timestamp)
	signature := crypto.Sign(o.keypair, message)

	vote := consensus.OrchestrationVote{
		Domain:      domain,
		Schedule:    schedule,
		VoterPeerID: o.peerID,
		Signature:   signature,
		PublicKey:   o.keypair.PublicKey(),
		Timestamp:   timestamp,
	}

	o.consensus.GetOrCreate(domain, schedule)
	if err := o.consensus.CastVote(domain, vote); err != nil {
		return fmt.Errorf("orchestrator: cast local vote: %w", err)
	}

	return o.broadcastVote(vote)
}

// HandleVote admits a vote received from the network, re-checking
// quorum and, if reached, adopting and persisting the winning schedule.
func (o *PublicOrchestrator) HandleVote(vote consensus.OrchestrationVote) error {
	o.log.Debugf("orchestrator: received vote from %s for %s", vote.VoterPeerID, vote.Domain)

	o.consensus.GetOrCreate(vote.Domain, vote.Schedule)
	if err := o.consensus.CastVote(vote.Domain, vote); err != nil {
		return fmt.Errorf("orchestrator: cast vote: %w", err)
	}

	o.mu.Lock()
	group, ok := o.groups[vote.Domain]
	var totalPeers int
	if ok {
		totalPeers = len(group.PeerIDs)
	}
	o.mu.Unlock()
	if !ok {
		return nil
	}

	schedule, reached := o.consensus.CheckConsensus(vote.Domain, totalPeers)
	if !reached {
		return nil
	}

	o.log.Infof("orchestrator: consensus reached for %s, updating schedule", vote.Domain)
	o.mu.Lock()
	group.Schedule = schedule
	group.LastUpdated = time.Now()
	persisted := *group
	o.mu.Unlock()

	if err := o.store.SavePublicMonitorGroup(&persisted); err != nil {
		o.log.Warnf("orchestrator: failed to persist group %s: %v", vote.Domain, err)
	}
	return nil
}

// HandlePeerJoin records a remote peer joining domain's group and
// proposes a rebalanced schedule.
func (o *PublicOrchestrator) HandlePeerJoin(domain, peerID string) error {
	o.log.Infof("orchestrator: peer %s joining monitor group %s", peerID, domain)

	o.mu.Lock()
	group, ok := o.groups[domain]
	if !ok {
		o.mu.Unlock()
		o.log.Warnf("orchestrator: join request for unknown monitor group: %s", domain)
		return nil
	}
	group.AddPeer(peerID)
	schedule := group.Schedule
	o.mu.Unlock()

	return o.proposeScheduleUpdate(domain, schedule)
}

// HandlePeerLeave removes peerID from domain's group, dropping the
// group entirely once empty, otherwise proposing a rebalance.
func (o *PublicOrchestrator) HandlePeerLeave(domain, peerID string) error {
	o.log.Infof("orchestrator: peer %s leaving monitor group %s", peerID, domain)

	o.mu.Lock()
	group, ok := o.groups[domain]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	group.RemovePeer(peerID)
	if len(group.PeerIDs) == 0 {
		delete(o.groups, domain)
		o.mu.Unlock()
		o.log.Infof("orchestrator: monitor group %s removed (no peers left)", domain)
		return nil
	}
	schedule := group.Schedule
	o.mu.Unlock()

	return o.proposeScheduleUpdate(domain, schedule)
}

// GetAllGroups returns a snapshot of every known public monitor group.
func (o *PublicOrchestrator) GetAllGroups() []consensus.PublicMonitorGroup {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]consensus.PublicMonitorGroup, 0, len(o.groups))
	for _, g := range o.groups {
		out = append(out, *g)
	}
	return out
}

// GetGroup returns domain's group, if known.
func (o *PublicOrchestrator) GetGroup(domain string) (consensus.PublicMonitorGroup, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	g, ok := o.groups[domain]
	if !ok {
		return consensus.PublicMonitorGroup{}, false
	}
	return *g, true
}

func scheduleToWire(s consensus.OrchestrationSchedule) *p2p.ScheduleWire {
	assignments := make([]p2p.PeerAssignmentWire, len(s.Assignments))
	for i, a := range s.Assignments {
		assignments[i] = p2p.PeerAssignmentWire{PeerID: a.PeerID, NextCheckAt: a.NextCheckAt, CheckSequence: a.CheckSequence}
	}
	return &p2p.ScheduleWire{IntervalSeconds: s.IntervalSeconds, Assignments: assignments}
}

func groupToWire(g consensus.PublicMonitorGroup) *p2p.GroupWire {
	return &p2p.GroupWire{
		Domain:      g.Domain,
		DisplayName: g.DisplayName,
		PeerIDs:     append([]string(nil), g.PeerIDs...),
		Schedule:    *scheduleToWire(g.Schedule),
		TotalChecks: g.TotalChecks,
	}
}

func wireToGroup(w *p2p.GroupWire) consensus.PublicMonitorGroup {
	now := time.Now()
	return consensus.PublicMonitorGroup{
		Domain:      w.Domain,
		DisplayName: w.DisplayName,
		PeerIDs:     append([]string(nil), w.PeerIDs...),
		Schedule:    wireToSchedule(&w.Schedule),
		TotalChecks: w.TotalChecks,
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// broadcastGroupQuery asks domain's control topic whether any
// listening peer already knows that domain's group.
func (o *PublicOrchestrator) broadcastGroupQuery(domain string) error {
	return o.publishPublicMonitorMessage(domain, p2p.PublicMonitorMessage{
		Kind:   p2p.PublicMonitorGroupQuery,
		Domain: domain,
	})
}

// queryGroup broadcasts a GroupQuery for domain and waits up to
// groupQueryTimeout for the first GroupResponse naming a known group,
// returning nil if none arrives in time (no peer knows the domain, or
// none happened to be listening).
func (o *PublicOrchestrator) queryGroup(domain string) *p2p.GroupWire {
	ch := make(chan *p2p.GroupWire, 1)
	o.groupQueryMu.Lock()
	o.groupWaiters[domain] = ch
	o.groupQueryMu.Unlock()

	if err := o.broadcastGroupQuery(domain); err != nil {
		o.log.Warnf("orchestrator: broadcast group query for %s: %v", domain, err)
	}

	select {
	case wire := <-ch:
		return wire
	case <-time.After(groupQueryTimeout):
		o.groupQueryMu.Lock()
		delete(o.groupWaiters, domain)
		o.groupQueryMu.Unlock()
		return nil
	}
}

// handleGroupQuery answers a peer's GroupQuery with a GroupResponse
// when this peer knows domain's group; a domain neither side knows
// gets no response at all rather than an empty one.
func (o *PublicOrchestrator) handleGroupQuery(domain string) error {
	o.mu.RLock()
	g, ok := o.groups[domain]
	var wire p2p.GroupWire
	if ok {
		wire = *groupToWire(*g)
	}
	o.mu.RUnlock()
	if !ok {
		return nil
	}
	return o.publishPublicMonitorMessage(domain, p2p.PublicMonitorMessage{
		Kind:   p2p.PublicMonitorGroupResponse,
		Domain: domain,
		Group:  &wire,
	})
}

// handleGroupResponse delivers an inbound GroupResponse to whichever
// queryGroup call is waiting on domain, if any; unsolicited or
// already-answered responses are dropped.
func (o *PublicOrchestrator) handleGroupResponse(domain string, group *p2p.GroupWire) error {
	if group == nil {
		return nil
	}
	o.groupQueryMu.Lock()
	ch, ok := o.groupWaiters[domain]
	if ok {
		delete(o.groupWaiters, domain)
	}
	o.groupQueryMu.Unlock()
	if ok {
		ch <- group
	}
	return nil
}

func (o *PublicOrchestrator) publishPublicMonitorMessage(domain string, msg p2p.PublicMonitorMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("orchestrator: encode public monitor message: %w", err)
	}
	o.commands <- p2p.PublishToTopic(p2p.PublicMonitorsTopic(domain), data)
	return nil
}

func (o *PublicOrchestrator) broadcastAnnouncement(g consensus.PublicMonitorGroup) error {
	o.log.Debugf("orchestrator: broadcasting monitor group announcement for domain %s", g.Domain)
	return o.publishPublicMonitorMessage(g.Domain, p2p.PublicMonitorMessage{
		Kind:          p2p.PublicMonitorAnnounce,
		Domain:        g.Domain,
		DisplayName:   g.DisplayName,
		CreatorPeerID: o.peerID,
	})
}

func (o *PublicOrchestrator) broadcastJoin(domain string) error {
	o.log.Debugf("orchestrator: broadcasting join message for domain %s", domain)
	return o.publishPublicMonitorMessage(domain, p2p.PublicMonitorMessage{
		Kind:   p2p.PublicMonitorJoin,
		Domain: domain,
		PeerID: o.peerID,
	})
}

func (o *PublicOrchestrator) broadcastVote(vote consensus.OrchestrationVote) error {
	o.log.Debugf("orchestrator: broadcasting orchestration vote for domain %s", vote.Domain)
	return o.publishPublicMonitorMessage(vote.Domain, p2p.PublicMonitorMessage{
		Kind:        p2p.PublicMonitorScheduleUpdate,
		Domain:      vote.Domain,
		Schedule:    scheduleToWire(vote.Schedule),
		VoterPeerID: vote.VoterPeerID,
		Signature:   vote.Signature,
		PublicKey:   vote.PublicKey,
		Timestamp:   vote.Timestamp,
	})
}

func wireToSchedule(s *p2p.ScheduleWire) consensus.OrchestrationSchedule {
	if s == nil {
		return consensus.OrchestrationSchedule{}
	}
	assignments := make([]consensus.PeerAssignment, len(s.Assignments))
	for i, a := range s.Assignments {
		assignments[i] = consensus.PeerAssignment{PeerID: a.PeerID, NextCheckAt: a.NextCheckAt, CheckSequence: a.CheckSequence}
	}
	return consensus.OrchestrationSchedule{IntervalSeconds: s.IntervalSeconds, Assignments: assignments}
}

// HandleInboundMessage dispatches a decoded control message from a
// domain's public-monitors topic to the matching handler. Join/Leave
// carry no crypto, they are membership gossip only; ScheduleUpdate
// carries a signed vote that re-enters the consensus round.
func (o *PublicOrchestrator) HandleInboundMessage(msg p2p.PublicMonitorMessage) error {
	switch msg.Kind {
	case p2p.PublicMonitorJoin:
		return o.HandlePeerJoin(msg.Domain, msg.PeerID)
	case p2p.PublicMonitorLeave:
		return o.HandlePeerLeave(msg.Domain, msg.PeerID)
	case p2p.PublicMonitorScheduleUpdate:
		return o.HandleVote(consensus.OrchestrationVote{
			Domain:      msg.Domain,
			Schedule:    wireToSchedule(msg.Schedule),
			VoterPeerID: msg.VoterPeerID,
			Signature:   msg.Signature,
			PublicKey:   msg.PublicKey,
			Timestamp:   msg.Timestamp,
		})
	case p2p.PublicMonitorAnnounce:
		o.mu.Lock()
		if _, exists := o.groups[msg.Domain]; !exists {
			displayName := msg.DisplayName
			if displayName == "" {
				displayName = msg.Domain
			}
			g := newGroup(msg.Domain, displayName, msg.CreatorPeerID)
			o.groups[msg.Domain] = &g
			o.consensus.GetOrCreate(msg.Domain, g.Schedule)
		}
		o.mu.Unlock()
		return nil
	case p2p.PublicMonitorGroupQuery:
		return o.handleGroupQuery(msg.Domain)
	case p2p.PublicMonitorGroupResponse:
		return o.handleGroupResponse(msg.Domain, msg.Group)
	default:
		return nil
	}
}
