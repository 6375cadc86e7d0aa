package orchestrator

import (
	"fmt"
	"time"

	"github.com/uppe-net/uppe/internal/netlog"
	"github.com/uppe-net/uppe/internal/storage"
)

// RetentionPolicy controls how long each class of result is kept.
// Ported from orchestrator/retention.rs's RetentionPolicy.
type RetentionPolicy struct {
	PrivateResultDays int
	PublicResultDays  int
	PeerResultDays    int
}

// DefaultRetentionPolicy matches the upstream defaults: private
// results are the shortest-lived since they're re-derivable from a
// helper's next check, peer/public results are kept a full month.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		PrivateResultDays: 7,
		PublicResultDays:  30,
		PeerResultDays:    30,
	}
}

func (p RetentionPolicy) peerRetention() time.Duration {
	return time.Duration(p.PeerResultDays) * 24 * time.Hour
}

// RetentionCleanup periodically purges expired peer results from
// storage. Ported from orchestrator/retention.rs's RetentionCleanup.
type RetentionCleanup struct {
	store  storage.Store
	policy RetentionPolicy
	log    netlog.Logger
}

// NewRetentionCleanup wires a cleanup manager to its store and policy.
func NewRetentionCleanup(store storage.Store, policy RetentionPolicy, log netlog.Logger) *RetentionCleanup {
	if log == nil {
		log = netlog.Noop{}
	}
	return &RetentionCleanup{store: store, policy: policy, log: log}
}

// PeerRetention exposes the peer-result retention window so callers
// outside this file (engine.go, stamping RetentionUntil on arrival)
// don't need their own copy of the policy.
func (c *RetentionCleanup) PeerRetention() time.Duration {
	return c.policy.peerRetention()
}

// CleanupExpiredResults deletes every peer result whose retention
// window has elapsed.
func (c *RetentionCleanup) CleanupExpiredResults() error {
	c.log.Infof("orchestrator: starting retention cleanup")

	count, err := c.store.CleanupExpiredPeerResults(time.Now())
	if err != nil {
		return fmt.Errorf("orchestrator: cleanup expired peer results: %w", err)
	}

	c.log.Infof("orchestrator: retention cleanup completed: %d peer results deleted", count)
	return nil
}

// RunPeriodicCleanup blocks running CleanupExpiredResults once an hour
// until stop is closed; call it from a goroutine.
func (c *RetentionCleanup) RunPeriodicCleanup(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.CleanupExpiredResults(); err != nil {
				c.log.Warnf("orchestrator: periodic retention cleanup failed: %v", err)
			}
		}
	}
}
