// Package consensus implements threshold-based schedule agreement for
// public monitor groups: vote casting, quorum evaluation, and the rate
// limits that bound how aggressively a domain can be rechecked. Ported
// from the original distributed/consensus.rs, using an RWMutex-guarded
// map in place of a tokio RwLock per the design note's single-lock
// ownership guidance.
package consensus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/uppe-net/uppe/internal/crypto"
)

// PeerAssignment is one peer's slot within an OrchestrationSchedule.
type PeerAssignment struct {
	PeerID        string `json:"peer_id"`
	NextCheckAt   int64  `json:"next_check_at"`
	CheckSequence int    `json:"check_sequence"`
}

// OrchestrationSchedule assigns staggered check slots across a public
// monitor group's participating peers.
type OrchestrationSchedule struct {
	IntervalSeconds uint64           `json:"interval_seconds"`
	Assignments     []PeerAssignment `json:"assignments"`
}

// StaggerAssignments builds assignments for n peers spread evenly
// across interval, so consecutive peers are interval/n apart.
func StaggerAssignments(peerIDs []string, intervalSeconds uint64) OrchestrationSchedule {
	n := len(peerIDs)
	assignments := make([]PeerAssignment, 0, n)
	if n == 0 {
		return OrchestrationSchedule{IntervalSeconds: intervalSeconds, Assignments: assignments}
	}
	spacing := int64(intervalSeconds) / int64(n)
	for i, id := range peerIDs {
		assignments = append(assignments, PeerAssignment{
			PeerID:        id,
			NextCheckAt:   spacing * int64(i),
			CheckSequence: i,
		})
	}
	return OrchestrationSchedule{IntervalSeconds: intervalSeconds, Assignments: assignments}
}

// PublicMonitorGroup is the durable per-domain coordination record: who
// participates, and under what schedule, independent of any one peer's
// in-memory consensus round.
type PublicMonitorGroup struct {
	Domain          string                `json:"domain"`
	DisplayName     string                `json:"display_name"`
	PeerIDs         []string              `json:"peer_ids"`
	Schedule        OrchestrationSchedule `json:"schedule"`
	TotalChecks     uint64                `json:"total_checks"`
	CreatedAt       time.Time             `json:"created_at"`
	LastUpdated     time.Time             `json:"last_updated"`
}

// AddPeer adds peerID to the group if not already present and
// rebalances the schedule across the new membership.
func (g *PublicMonitorGroup) AddPeer(peerID string) {
	for _, id := range g.PeerIDs {
		if id == peerID {
			return
		}
	}
	g.PeerIDs = append(g.PeerIDs, peerID)
	g.rebalanceSchedule()
}

// RemovePeer drops peerID from the group, if present, and rebalances.
func (g *PublicMonitorGroup) RemovePeer(peerID string) {
	out := g.PeerIDs[:0]
	for _, id := range g.PeerIDs {
		if id != peerID {
			out = append(out, id)
		}
	}
	g.PeerIDs = out
	g.rebalanceSchedule()
}

func (g *PublicMonitorGroup) rebalanceSchedule() {
	if len(g.PeerIDs) == 0 {
		g.Schedule.Assignments = nil
		return
	}
	g.Schedule = StaggerAssignments(g.PeerIDs, g.Schedule.IntervalSeconds)
}

// MarkCheckCompleted advances peerID's assignment slot by one full
// rotation and bumps the group's total-checks counter.
func (g *PublicMonitorGroup) MarkCheckCompleted(peerID string) {
	for i := range g.Schedule.Assignments {
		if g.Schedule.Assignments[i].PeerID != peerID {
			continue
		}
		rotation := int64(g.Schedule.IntervalSeconds) * int64(len(g.PeerIDs))
		g.Schedule.Assignments[i].NextCheckAt += rotation
		g.TotalChecks++
		return
	}
}

// OrchestrationVote proposes a schedule change for a domain.
type OrchestrationVote struct {
	Domain      string                `json:"domain"`
	Schedule    OrchestrationSchedule `json:"schedule"`
	VoterPeerID string                `json:"voter_peer_id"`
	Signature   []byte                `json:"signature"`
	PublicKey   []byte                `json:"public_key"`
	Timestamp   int64                 `json:"timestamp"`
}

// RateLimitState bounds how often a domain may be rechecked overall
// and how often any single peer may perform a check.
type RateLimitState struct {
	MinCheckInterval        uint64
	MaxChecksPerPeerPerHour uint64

	mu              sync.Mutex
	peerCheckCounts map[string]uint64
	windowStart     time.Time
}

// NewRateLimitState returns the default limits: 10s minimum interval,
// 360 checks/peer/hour (one every 10s).
func NewRateLimitState() *RateLimitState {
	return &RateLimitState{
		MinCheckInterval:        10,
		MaxChecksPerPeerPerHour: 360,
		peerCheckCounts:         make(map[string]uint64),
		windowStart:             time.Now(),
	}
}

// CanCheck reports whether peerID may perform another check within
// the current hourly window, incrementing its counter if so.
func (r *RateLimitState) CanCheck(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.windowStart) > time.Hour {
		r.peerCheckCounts = make(map[string]uint64)
		r.windowStart = time.Now()
	}

	count := r.peerCheckCounts[peerID]
	if count >= r.MaxChecksPerPeerPerHour {
		return false
	}
	r.peerCheckCounts[peerID] = count + 1
	return true
}

// ValidateSchedule rejects a proposed schedule that would violate the
// minimum interval or the per-peer hourly cap.
func (r *RateLimitState) ValidateSchedule(schedule OrchestrationSchedule, peerCount int) error {
	if schedule.IntervalSeconds < r.MinCheckInterval {
		return fmt.Errorf("consensus: check interval too low: %d < %d", schedule.IntervalSeconds, r.MinCheckInterval)
	}
	if peerCount == 0 {
		return fmt.Errorf("consensus: cannot validate schedule with zero peers")
	}
	divisor := schedule.IntervalSeconds * uint64(peerCount)
	if divisor == 0 {
		return fmt.Errorf("consensus: invalid schedule: interval cannot be zero")
	}
	checksPerPeerPerHour := 3600 / divisor
	if checksPerPeerPerHour > r.MaxChecksPerPeerPerHour {
		return fmt.Errorf("consensus: schedule would cause %d checks/peer/hour (max: %d)", checksPerPeerPerHour, r.MaxChecksPerPeerPerHour)
	}
	return nil
}

// DefaultQuorumThreshold is the fraction of total peers whose votes
// must agree on the same schedule for consensus to be reached.
const DefaultQuorumThreshold = 0.67

// State is a single domain's consensus state.
type State struct {
	Domain          string
	CurrentSchedule OrchestrationSchedule
	PendingVotes    []OrchestrationVote
	QuorumThreshold float64
	LastConsensusAt time.Time
	RateLimit       *RateLimitState
}

// NewState creates consensus state for a domain with its initial
// schedule and default quorum threshold.
func NewState(domain string, initial OrchestrationSchedule) *State {
	return &State{
		Domain:          domain,
		CurrentSchedule: initial,
		QuorumThreshold: DefaultQuorumThreshold,
		LastConsensusAt: time.Now(),
		RateLimit:       NewRateLimitState(),
	}
}

// CastVote validates and records a vote, rejecting forged signatures,
// schedules that violate rate limits, and duplicate votes within the
// pending round.
func (s *State) CastVote(vote OrchestrationVote) error {
	if !verifyVoteSignature(vote) {
		return fmt.Errorf("consensus: invalid vote signature")
	}
	if err := s.RateLimit.ValidateSchedule(vote.Schedule, len(vote.Schedule.Assignments)); err != nil {
		return err
	}
	for _, v := range s.PendingVotes {
		if v.VoterPeerID == vote.VoterPeerID {
			return fmt.Errorf("consensus: peer %s already voted", vote.VoterPeerID)
		}
	}
	s.PendingVotes = append(s.PendingVotes, vote)
	return nil
}

func verifyVoteSignature(vote OrchestrationVote) bool {
	if len(vote.PublicKey) != 32 {
		return false
	}
	scheduleJSON, err := json.Marshal(vote.Schedule)
	if err != nil {
		return false
	}
	message := crypto.CanonicalVoteBytes(vote.Domain, scheduleJSON, vote.Timestamp)
	return crypto.Verify(vote.PublicKey, message, vote.Signature)
}

// CheckConsensus groups pending votes by their (canonically-serialized)
// proposed schedule and, if the largest group reaches the quorum
// threshold of total_peers, adopts that schedule and clears the round.
func (s *State) CheckConsensus(totalPeers int) (OrchestrationSchedule, bool) {
	if len(s.PendingVotes) == 0 {
		return OrchestrationSchedule{}, false
	}

	groups := make(map[string][]OrchestrationVote)
	for _, v := range s.PendingVotes {
		scheduleJSON, err := json.Marshal(v.Schedule)
		if err != nil {
			continue
		}
		key := string(scheduleJSON)
		groups[key] = append(groups[key], v)
	}

	var winningKey string
	var winningVotes []OrchestrationVote
	for key, votes := range groups {
		if len(votes) > len(winningVotes) {
			winningKey = key
			winningVotes = votes
		}
	}
	if winningVotes == nil {
		return OrchestrationSchedule{}, false
	}

	votePercentage := float64(len(winningVotes)) / float64(totalPeers)
	if votePercentage < s.QuorumThreshold {
		return OrchestrationSchedule{}, false
	}

	var schedule OrchestrationSchedule
	if err := json.Unmarshal([]byte(winningKey), &schedule); err != nil {
		return OrchestrationSchedule{}, false
	}

	s.CurrentSchedule = schedule
	s.LastConsensusAt = time.Now()
	s.PendingVotes = nil
	return schedule, true
}

// ShouldCheckNow reports whether peerID's assignment slot is due and
// the peer has not exceeded its rate limit.
func (s *State) ShouldCheckNow(peerID string, now time.Time) bool {
	for _, a := range s.CurrentSchedule.Assignments {
		if a.PeerID != peerID {
			continue
		}
		if !s.RateLimit.CanCheck(peerID) {
			return false
		}
		return a.NextCheckAt <= now.Unix()
	}
	return false
}

// MarkCheckCompleted advances peerID's next check slot by one full
// rotation (interval * peer count).
func (s *State) MarkCheckCompleted(peerID string) {
	for i := range s.CurrentSchedule.Assignments {
		if s.CurrentSchedule.Assignments[i].PeerID != peerID {
			continue
		}
		rotation := int64(s.CurrentSchedule.IntervalSeconds) * int64(len(s.CurrentSchedule.Assignments))
		s.CurrentSchedule.Assignments[i].NextCheckAt += rotation
		return
	}
}

// Manager owns per-domain consensus state behind a single RWMutex.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewManager returns an empty consensus manager.
func NewManager() *Manager {
	return &Manager{states: make(map[string]*State)}
}

// GetOrCreate returns the existing state for domain, or creates one
// seeded with initial.
func (m *Manager) GetOrCreate(domain string, initial OrchestrationSchedule) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[domain]; ok {
		return s
	}
	s := NewState(domain, initial)
	m.states[domain] = s
	return s
}

// CastVote routes a vote to the named domain's state.
func (m *Manager) CastVote(domain string, vote OrchestrationVote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[domain]
	if !ok {
		return fmt.Errorf("consensus: domain %q not found", domain)
	}
	return s.CastVote(vote)
}

// CheckConsensus evaluates quorum for the named domain.
func (m *Manager) CheckConsensus(domain string, totalPeers int) (OrchestrationSchedule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[domain]
	if !ok {
		return OrchestrationSchedule{}, false
	}
	return s.CheckConsensus(totalPeers)
}

// ShouldCheckNow evaluates the named domain's schedule for peerID.
func (m *Manager) ShouldCheckNow(domain, peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[domain]
	if !ok {
		return false
	}
	return s.ShouldCheckNow(peerID, time.Now())
}

// MarkCheckCompleted records completion for peerID in the named domain.
func (m *Manager) MarkCheckCompleted(domain, peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[domain]; ok {
		s.MarkCheckCompleted(peerID)
	}
}
