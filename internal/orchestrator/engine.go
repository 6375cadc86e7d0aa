package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uppe-net/uppe/internal/admission"
	"github.com/uppe-net/uppe/internal/crypto"
	"github.com/uppe-net/uppe/internal/executor"
	"github.com/uppe-net/uppe/internal/monitor"
	"github.com/uppe-net/uppe/internal/netlog"
	"github.com/uppe-net/uppe/internal/p2p"
	"github.com/uppe-net/uppe/internal/scheduler"
	"github.com/uppe-net/uppe/internal/storage"
	"github.com/uppe-net/uppe/internal/trust"
)

// Config wires together everything Engine needs to run: identity,
// storage, transport, and check execution.
type Config struct {
	KeyPair    *crypto.KeyPair
	Store      storage.Store
	Node       *p2p.Node
	Trust      *trust.Manager
	Logger     netlog.Logger
	NodeConfig p2p.Config
}

// Engine is the top-level orchestrator: it wires the scheduler, the
// public/private consensus orchestrators, admission, and retention to
// a running p2p.Node, and is the only component cmd/uppe talks to.
// Ported from pkg/engine/engine.go's wrapper shape and the service's
// main-loop wiring in main.rs.
type Engine struct {
	keypair *crypto.KeyPair
	store   storage.Store
	node    *p2p.Node
	nodeCfg p2p.Config
	log     netlog.Logger

	scheduler *scheduler.Scheduler
	executor  *executor.Executor
	public    *PublicOrchestrator
	private   *PrivateOrchestrator
	admission *admission.Orchestrator
	retention *RetentionCleanup

	helperMu  sync.Mutex
	helperRun map[string]context.CancelFunc

	stop chan struct{}
	wg   sync.WaitGroup
}

// New assembles an Engine from cfg. Call Start to bring it up.
func New(cfg Config) (*Engine, error) {
	if cfg.KeyPair == nil {
		return nil, fmt.Errorf("orchestrator: engine requires a keypair")
	}
	log := cfg.Logger
	if log == nil {
		log = netlog.Noop{}
	}

	commands := cfg.Node.Commands()
	peerID := cfg.KeyPair.PeerID()
	exec := executor.New(0)

	e := &Engine{
		keypair:   cfg.KeyPair,
		store:     cfg.Store,
		node:      cfg.Node,
		nodeCfg:   cfg.NodeConfig,
		log:       log,
		scheduler: scheduler.New(exec, 0),
		executor:  exec,
		public:    NewPublicOrchestrator(cfg.Store, peerID, cfg.KeyPair, commands, log),
		private:   NewPrivateOrchestrator(cfg.Store, peerID, cfg.KeyPair, commands, log),
		admission: admission.New(cfg.Trust),
		retention: NewRetentionCleanup(cfg.Store, DefaultRetentionPolicy(), log),
		helperRun: make(map[string]context.CancelFunc),
		stop:      make(chan struct{}),
	}
	return e, nil
}

// Start brings the full stack up: orchestrator state, the p2p
// runtime, every enabled monitor's scheduled ticker, and the
// background loops that drain scheduler results and network events.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.public.Initialize(); err != nil {
		return fmt.Errorf("orchestrator: initialize public orchestrator: %w", err)
	}
	if err := e.private.Initialize(); err != nil {
		return fmt.Errorf("orchestrator: initialize private orchestrator: %w", err)
	}

	if err := e.node.Start(ctx, e.nodeCfg); err != nil {
		return fmt.Errorf("orchestrator: start p2p node: %w", err)
	}
	e.node.Commands() <- p2p.Command{Kind: p2p.CmdSubscribe, Topic: p2p.PrivateResultsTopic(e.keypair.PeerID())}

	monitors, err := e.store.GetEnabledMonitors()
	if err != nil {
		return fmt.Errorf("orchestrator: load enabled monitors: %w", err)
	}
	for _, m := range monitors {
		if m.OwnerPeerID == e.keypair.PeerID() || m.Visibility == monitor.VisibilityPublic {
			e.scheduler.Schedule(ctx, m)
			if m.Visibility == monitor.VisibilityPublic {
				e.node.Commands() <- p2p.Command{Kind: p2p.CmdSubscribe, Topic: p2p.PublicMonitorsTopic(m.PublicDomain)}
			}
		}
	}

	e.wg.Add(4)
	go e.runResultLoop(ctx)
	go e.runEventLoop(ctx)
	go e.runMaintenanceLoop(ctx)
	go func() {
		defer e.wg.Done()
		e.retention.RunPeriodicCleanup(e.stop)
	}()

	e.log.Infof("orchestrator: engine started for peer %s", e.keypair.PeerID())
	return nil
}

// Stop tears the stack down in reverse dependency order: background
// loops first, then the scheduler, then the p2p node.
func (e *Engine) Stop() error {
	close(e.stop)
	e.wg.Wait()
	e.scheduler.Stop()

	e.helperMu.Lock()
	for _, cancel := range e.helperRun {
		cancel()
	}
	e.helperRun = make(map[string]context.CancelFunc)
	e.helperMu.Unlock()

	return e.node.Stop()
}

// AddMonitor validates, persists, and schedules a new monitor,
// wiring it into the public consensus path or the private
// helper-assignment path according to its visibility.
func (e *Engine) AddMonitor(ctx context.Context, m monitor.Monitor) (monitor.Monitor, error) {
	if m.UUID == uuid.Nil {
		m.UUID = uuid.New()
	}
	if m.OwnerPeerID == "" {
		m.OwnerPeerID = e.keypair.PeerID()
	}
	if err := monitor.ValidateMonitorTarget(m.Target, m.CheckType); err != nil {
		return monitor.Monitor{}, fmt.Errorf("orchestrator: validate target: %w", err)
	}
	if err := m.ValidateInvariants(); err != nil {
		return monitor.Monitor{}, fmt.Errorf("orchestrator: validate invariants: %w", err)
	}

	if _, err := e.store.SaveMonitor(&m); err != nil {
		return monitor.Monitor{}, fmt.Errorf("orchestrator: save monitor: %w", err)
	}

	switch m.Visibility {
	case monitor.VisibilityPublic:
		// Subscribe before HandleNewMonitor: it may broadcast a
		// GroupQuery and wait on this same topic for a GroupResponse,
		// which would never arrive if we subscribed only afterward.
		e.node.Commands() <- p2p.Command{Kind: p2p.CmdSubscribe, Topic: p2p.PublicMonitorsTopic(m.PublicDomain)}
		if err := e.public.HandleNewMonitor(m); err != nil {
			return monitor.Monitor{}, err
		}
	case monitor.VisibilityPrivate:
		if err := e.private.HandleNewMonitor(m); err != nil {
			return monitor.Monitor{}, err
		}
	}

	e.scheduler.Schedule(ctx, m)
	return m, nil
}

// SignalPublicInterest records this peer's interest in promoting m's
// domain to public status and replicates the updated record to the
// network, the threshold-based path to promotion alongside the
// signed AdminPromote path.
func (e *Engine) SignalPublicInterest(m monitor.Monitor) error {
	record, err := e.admission.SignalInterest(m, e.keypair.PeerID())
	if err != nil {
		return fmt.Errorf("orchestrator: signal interest: %w", err)
	}
	return e.publishAdmissionRecord(record)
}

// AdminPromote installs an admin-signed public monitor record for
// domain (via m) and replicates it immediately, bypassing the
// interest threshold.
func (e *Engine) AdminPromote(m monitor.Monitor, adminKeyID string, signature []byte) error {
	record, err := e.admission.AdminCreateOrModify(m, adminKeyID, signature)
	if err != nil {
		return fmt.Errorf("orchestrator: admin promote: %w", err)
	}
	return e.publishAdmissionRecord(record)
}

func (e *Engine) publishAdmissionRecord(record admission.PublicMonitorRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("orchestrator: encode admission record: %w", err)
	}
	e.node.Commands() <- p2p.PublishDHTRecord(p2p.PublicMonitorDHTKey(record.Monitor.Domain), data)
	return nil
}

// runResultLoop drains locally produced check results and hands each
// one to handleLocalResult.
func (e *Engine) runResultLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case result, ok := <-e.scheduler.Results():
			if !ok {
				return
			}
			e.handleLocalResult(result)
		}
	}
}

// handleLocalResult signs and persists a result this node just
// produced for a monitor it owns. Only public monitors ever gossip
// their plaintext result on ResultsTopic; a private monitor's owner
// keeps its own checks local, and an internal monitor's results never
// leave the node at all — only a helper peer's encrypted delegation
// (runHelperCheckLoop) crosses the wire for private monitors.
func (e *Engine) handleLocalResult(result monitor.CheckResult) {
	m, err := e.store.GetMonitorByUUID(result.MonitorUUID)
	if err != nil {
		e.log.Warnf("orchestrator: result for unknown monitor %s: %v", result.MonitorUUID, err)
		return
	}

	if m.Visibility == monitor.VisibilityPublic && !e.public.ShouldCheckNow(m) {
		return // not this peer's turn in the consensus schedule
	}

	if m.Visibility == monitor.VisibilityPrivate && !e.private.CanCheck(m.OwnerPeerID) {
		e.log.Warnf("orchestrator: owner %s exceeded its hourly check limit, dropping local result for %s", m.OwnerPeerID, result.MonitorUUID)
		return
	}

	result.PeerID = e.keypair.PeerID()
	signable, err := result.SignableJSON()
	if err != nil {
		e.log.Warnf("orchestrator: encode signable result: %v", err)
		return
	}
	result.Signature = e.keypair.Sign(signable)

	if err := e.store.SaveResult(&result); err != nil {
		e.log.Warnf("orchestrator: save result: %v", err)
	}

	if m.Visibility == monitor.VisibilityPublic {
		e.node.Commands() <- p2p.PublishResult(result)
		e.public.MarkCheckCompleted(m)
	}
}

// runEventLoop drains the p2p runtime's event channel, dispatching
// each event to the handler that owns its concern.
func (e *Engine) runEventLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case evt, ok := <-e.node.Events():
			if !ok {
				return
			}
			e.handleEvent(ctx, evt)
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt p2p.Event) {
	switch evt.Kind {
	case p2p.EvtPeerConnected:
		e.private.HandlePeerConnected(evt.PeerID)
	case p2p.EvtPeerDisconnected:
		e.private.HandlePeerDisconnected(evt.PeerID)
	case p2p.EvtResultReceived:
		if evt.Result != nil {
			if evt.Result.RetentionUntil.IsZero() {
				evt.Result.RetentionUntil = evt.Result.ReceivedAt.Add(e.retention.PeerRetention())
			}
			if err := e.store.SavePeerResult(evt.Result); err != nil {
				e.log.Warnf("orchestrator: save peer result: %v", err)
			}
		}
	case p2p.EvtHelperAssignmentReq:
		if evt.HelperReq != nil {
			e.handleHelperAssignmentRequest(ctx, *evt.HelperReq)
		}
	case p2p.EvtHelperAssignmentResp:
		if evt.HelperResp != nil {
			e.handleHelperAssignmentResponse(*evt.HelperResp)
		}
	case p2p.EvtDHTRecordReceived:
		e.handleDHTOrTopicMessage(evt)
	case p2p.EvtDHTRecordNotFound:
		e.private.HandleDHTRecordNotFound(evt.DHTKey)
	}
}

// handleDHTOrTopicMessage demultiplexes EvtDHTRecordReceived: the p2p
// layer uses the same event for an actual Kademlia get response and
// for per-domain/per-owner gossip topic deliveries (DHTKey holds the
// topic name in the latter case).
func (e *Engine) handleDHTOrTopicMessage(evt p2p.Event) {
	switch {
	case strings.HasPrefix(evt.DHTKey, "/uppe/public-monitors/"):
		var msg p2p.PublicMonitorMessage
		if err := json.Unmarshal(evt.DHTValue, &msg); err != nil {
			e.log.Warnf("orchestrator: decode public monitor message: %v", err)
			return
		}
		if err := e.public.HandleInboundMessage(msg); err != nil {
			e.log.Warnf("orchestrator: handle public monitor message: %v", err)
		}
	case evt.DHTKey == p2p.PrivateResultsTopic(e.keypair.PeerID()):
		var enc crypto.EncryptedResult
		if err := json.Unmarshal(evt.DHTValue, &enc); err != nil {
			e.log.Warnf("orchestrator: decode encrypted result: %v", err)
			return
		}
		e.decryptAndStoreOwnResult(enc)
	case strings.HasPrefix(evt.DHTKey, "/uppe/public-monitor/"):
		// Off the event loop: handleAdmissionRecord can call
		// HandleNewMonitor, which may block on a GroupQuery/GroupResponse
		// round trip delivered through this same loop — running it
		// inline would starve the very response it's waiting for.
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.handleAdmissionRecord(evt.DHTValue)
		}()
	default:
		e.private.HandleDHTRecordReceived(evt.DHTKey, evt.DHTValue)
	}
}

func (e *Engine) decryptAndStoreOwnResult(enc crypto.EncryptedResult) {
	plaintext, err := crypto.DecryptResultForOwner(e.keypair.X25519SecretKey(), &enc)
	if err != nil {
		e.log.Warnf("orchestrator: decrypt own result: %v", err)
		return
	}
	var result monitor.CheckResult
	if err := json.Unmarshal(plaintext, &result); err != nil {
		e.log.Warnf("orchestrator: decode decrypted result: %v", err)
		return
	}
	if err := e.store.SaveResult(&result); err != nil {
		e.log.Warnf("orchestrator: save decrypted result: %v", err)
	}
}

// handleAdmissionRecord reconciles a PublicMonitorRecord replicated
// under PublicMonitorDHTKey against local admission state; a record
// that newly clears the promotion threshold gets folded into the
// public consensus group the same way a local HandleNewMonitor would.
func (e *Engine) handleAdmissionRecord(data []byte) {
	var record admission.PublicMonitorRecord
	if err := json.Unmarshal(data, &record); err != nil {
		e.log.Warnf("orchestrator: decode admission record: %v", err)
		return
	}
	accepted, err := e.admission.ProcessDHTRecord(record)
	if err != nil {
		e.log.Warnf("orchestrator: reject admission record for %s: %v", record.Monitor.Domain, err)
		return
	}
	if !accepted || !e.admission.ShouldPromote(record) {
		return
	}

	domain := record.Monitor.Domain
	if _, known := e.public.GetGroup(domain); known {
		return
	}
	if err := monitor.ValidateMonitorTarget(record.Monitor.Target, monitor.CheckType(record.Monitor.CheckType)); err != nil {
		e.log.Warnf("orchestrator: promoted domain %s failed target validation: %v", domain, err)
		return
	}

	e.log.Infof("orchestrator: domain %s promoted to public, joining group", domain)
	m := monitor.Monitor{
		UUID:            uuid.New(),
		Name:            record.Monitor.DisplayName,
		Target:          record.Monitor.Target,
		CheckType:       monitor.CheckType(record.Monitor.CheckType),
		IntervalSeconds: uint64(record.Monitor.IntervalSeconds),
		TimeoutSeconds:  uint64(record.Monitor.TimeoutSeconds),
		Enabled:         true,
		Visibility:      monitor.VisibilityPublic,
		PublicDomain:    domain,
		DisplayName:     record.Monitor.DisplayName,
		OwnerPeerID:     e.keypair.PeerID(),
	}
	if err := m.ValidateInvariants(); err != nil {
		e.log.Warnf("orchestrator: promoted domain %s failed invariant validation: %v", domain, err)
		return
	}
	if _, err := e.store.SaveMonitor(&m); err != nil {
		e.log.Warnf("orchestrator: save promoted monitor for %s: %v", domain, err)
		return
	}
	// Subscribe before HandleNewMonitor: it may broadcast a GroupQuery and
	// wait on this same topic for a GroupResponse, which would never
	// arrive if we subscribed only afterward.
	e.node.Commands() <- p2p.Command{Kind: p2p.CmdSubscribe, Topic: p2p.PublicMonitorsTopic(domain)}
	if err := e.public.HandleNewMonitor(m); err != nil {
		e.log.Warnf("orchestrator: join promoted domain %s: %v", domain, err)
		return
	}
}

// handleHelperAssignmentRequest accepts every assignment this node is
// offered and starts a dedicated check loop for it: helper-side
// monitors never get a local Monitor row, since only the owner's
// store carries the canonical definition.
func (e *Engine) handleHelperAssignmentRequest(ctx context.Context, req p2p.HelperAssignmentRequest) {
	e.log.Infof("orchestrator: accepting helper assignment for monitor %s from %s", req.MonitorUUID, req.OwnerPeerID)
	e.node.Commands() <- p2p.SendHelperResponse(p2p.AcceptHelperAssignment(req.MonitorUUID, e.keypair.PeerID()))

	runCtx, cancel := context.WithCancel(ctx)
	e.helperMu.Lock()
	if old, ok := e.helperRun[req.MonitorUUID]; ok {
		old()
	}
	e.helperRun[req.MonitorUUID] = cancel
	e.helperMu.Unlock()

	e.wg.Add(1)
	go e.runHelperCheckLoop(runCtx, req)
}

func (e *Engine) runHelperCheckLoop(ctx context.Context, req p2p.HelperAssignmentRequest) {
	defer e.wg.Done()

	interval := time.Duration(req.IntervalSeconds) * time.Second
	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	checkType := monitor.CheckType(req.CheckType)

	monitorUUID, err := uuid.Parse(req.MonitorUUID)
	if err != nil {
		e.log.Warnf("orchestrator: invalid monitor uuid in assignment: %v", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			result := e.executor.Execute(ctx, monitorUUID, req.Target, checkType, timeout)
			result.MonitorUUID = monitorUUID
			result.PeerID = e.keypair.PeerID()

			plaintext, err := json.Marshal(result)
			if err != nil {
				e.log.Warnf("orchestrator: encode helper result: %v", err)
				continue
			}
			enc, err := crypto.EncryptResultForOwner(req.OwnerPublicKey, req.OwnerPeerID, req.MonitorUUID, e.keypair.PeerID(), time.Now().Unix(), plaintext)
			if err != nil {
				e.log.Warnf("orchestrator: encrypt helper result: %v", err)
				continue
			}
			if err := e.private.HandleEncryptedResult(*enc); err != nil {
				e.log.Warnf("orchestrator: publish encrypted result: %v", err)
			}
		}
	}
}

func (e *Engine) handleHelperAssignmentResponse(resp p2p.HelperAssignmentResponse) {
	switch resp.Kind {
	case p2p.HelperAccepted:
		e.private.HandleHelperAccepted(resp.MonitorUUID, resp.HelperPeerID)
	case p2p.HelperRejected:
		e.private.HandleHelperRejected(resp.MonitorUUID, resp.HelperPeerID, resp.Reason)
	}
}

// runMaintenanceLoop drives the periodic work that isn't triggered by
// an inbound event: helper health/timeout sweeps and owner DHT sync.
// Retention cleanup runs on its own ticker via RetentionCleanup.
func (e *Engine) runMaintenanceLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.private.RunMaintenance()
			if e.private.ShouldSyncOwnerResults() {
				if err := e.private.SyncOwnerResultsFromDHT(); err != nil {
					e.log.Warnf("orchestrator: sync owner results: %v", err)
				}
			}
		}
	}
}
