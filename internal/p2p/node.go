package p2p

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	gosync "sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"

	"github.com/uppe-net/uppe/internal/crypto"
	"github.com/uppe-net/uppe/internal/executor"
	"github.com/uppe-net/uppe/internal/monitor"
	"github.com/uppe-net/uppe/internal/netlog"
)

// ServiceName tags the mDNS service type uppe nodes advertise under.
const ServiceName = "_uppe-monitoring._udp"

// recordMaxAge bounds how long this node keeps a DHT record before
// treating it as expired, matching the network's 7-day record lifetime.
const recordMaxAge = 7 * 24 * time.Hour

// Config configures a Node's transport and discovery behaviour.
type Config struct {
	ListenAddrs    []string
	BootstrapPeers []peer.AddrInfo
	EnableMDNS     bool
	EnableDHT      bool
	Logger         netlog.Logger
}

// Node is the peer-to-peer runtime: it owns the libp2p swarm, the
// GossipSub router, the Kademlia DHT, and mDNS discovery, exposing
// only the Commands()/Events() channel pair to the rest of the core —
// no orchestrator ever touches the swarm directly.
type Node struct {
	host   host.Host
	ps     *pubsub.PubSub
	kad    *dht.IpfsDHT
	mdnsSv mdns.Service
	logger netlog.Logger
	exec   *executor.Executor

	topicsMu gosync.Mutex
	topics   map[string]*pubsub.Topic
	subs     map[string]*pubsub.Subscription

	commands chan Command
	events   chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// New constructs a Node whose libp2p host identity is derived from the
// same Ed25519 keypair used for result signing, per §4.7's "Peer ID =
// hex of the Ed25519 public key (same identity as used for result
// signing)": the transport-level identity and the signing identity
// share key material even though libp2p's own peer.ID encoding differs
// from the hex peer_id used in the wire protocol.
func New(kp *crypto.KeyPair, cfg Config) (*Node, error) {
	priv, err := libp2pcrypto.UnmarshalEd25519PrivateKey(kp.SigningPrivateKey())
	if err != nil {
		return nil, fmt.Errorf("p2p: derive host identity: %w", err)
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.ListenAddrs))
	for _, addr := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("p2p: invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrs(listenAddrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("p2p: create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(context.Background(), h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("p2p: create gossipsub router: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = netlog.Noop{}
	}

	return &Node{
		host:     h,
		ps:       ps,
		logger:   logger,
		exec:     executor.New(0),
		topics:   make(map[string]*pubsub.Topic),
		subs:     make(map[string]*pubsub.Subscription),
		commands: make(chan Command, 256),
		events:   make(chan Event, 256),
	}, nil
}

// Host returns the underlying libp2p host, for callers (admin
// bootstrap, QR-code peer invites) that need the listen addresses or
// peer ID directly rather than through the command/event channels.
func (n *Node) Host() host.Host { return n.host }

// Commands is the channel callers send Command values on to drive the
// swarm (§4.7 command surface).
func (n *Node) Commands() chan<- Command { return n.commands }

// Events is the channel the runtime delivers inbound activity on
// (§4.7 event surface).
func (n *Node) Events() <-chan Event { return n.events }

// Start subscribes the fixed set of GossipSub topics, registers the
// probe stream handler, and begins mDNS/DHT discovery if enabled.
func (n *Node) Start(ctx context.Context, cfg Config) error {
	n.ctx, n.cancel = context.WithCancel(ctx)

	n.host.SetStreamHandler(protocol.ID(ProbeProtocolID), n.handleProbeStream)

	n.host.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			n.emit(Event{Kind: EvtPeerConnected, PeerID: c.RemotePeer().String()})
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			n.emit(Event{Kind: EvtPeerDisconnected, PeerID: c.RemotePeer().String()})
		},
	})

	if err := n.subscribe(ResultsTopic); err != nil {
		return fmt.Errorf("p2p: subscribe results topic: %w", err)
	}
	if err := n.subscribe(HelperAssignmentsTopic); err != nil {
		return fmt.Errorf("p2p: subscribe helper-assignments topic: %w", err)
	}

	if cfg.EnableMDNS {
		n.mdnsSv = mdns.NewMdnsService(n.host, ServiceName, mdnsNotifee{n})
		if err := n.mdnsSv.Start(); err != nil {
			return fmt.Errorf("p2p: start mDNS: %w", err)
		}
	}

	if cfg.EnableDHT {
		kad, err := dht.New(n.ctx, n.host,
			dht.Mode(dht.ModeAutoServer),
			dht.BootstrapPeers(cfg.BootstrapPeers...),
			dht.Validator(recordValidator{}),
			dht.MaxRecordAge(recordMaxAge),
		)
		if err != nil {
			return fmt.Errorf("p2p: create DHT: %w", err)
		}
		if err := kad.Bootstrap(n.ctx); err != nil {
			return fmt.Errorf("p2p: bootstrap DHT: %w", err)
		}
		n.kad = kad
	}

	n.wg.Add(2)
	go n.commandLoop()
	go n.resultsReadLoop()

	n.emit(Event{Kind: EvtStarted, PeerID: n.host.ID().String()})
	return nil
}

// Stop signals shutdown, closes subscriptions, and tears down the
// host: cancel first, wait for loops, then close discovery services
// before the host itself.
func (n *Node) Stop() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()

	if n.mdnsSv != nil {
		n.mdnsSv.Close()
	}
	if n.kad != nil {
		n.kad.Close()
	}
	return n.host.Close()
}

func (n *Node) subscribe(topicName string) error {
	n.topicsMu.Lock()
	defer n.topicsMu.Unlock()

	if _, ok := n.topics[topicName]; ok {
		return nil
	}
	topic, err := n.ps.Join(topicName)
	if err != nil {
		return err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return err
	}
	n.topics[topicName] = topic
	n.subs[topicName] = sub
	n.wg.Add(1)
	go n.readTopic(topicName, sub)
	return nil
}

func (n *Node) unsubscribe(topicName string) {
	n.topicsMu.Lock()
	defer n.topicsMu.Unlock()

	if sub, ok := n.subs[topicName]; ok {
		sub.Cancel()
		delete(n.subs, topicName)
	}
	if topic, ok := n.topics[topicName]; ok {
		topic.Close()
		delete(n.topics, topicName)
	}
}

// readTopic drains one subscription, demultiplexing by topic name:
// the fixed topics decode into their own message types, per-domain
// and per-owner topics are identified by prefix.
func (n *Node) readTopic(topicName string, sub *pubsub.Subscription) {
	defer n.wg.Done()
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return // context cancelled, or subscription closed
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		n.handleTopicMessage(topicName, msg.Data, msg.ReceivedFrom)
	}
}

func (n *Node) handleTopicMessage(topicName string, data []byte, from peer.ID) {
	switch {
	case topicName == ResultsTopic:
		n.handleSignedResult(data, from)
	case topicName == HelperAssignmentsTopic:
		n.handleHelperAssignmentMessage(data, from)
	default:
		// Per-domain/per-owner topics: hand the raw envelope to the
		// event bus so the public/private orchestrators (who know the
		// PublicMonitorMessage/EncryptedResult shapes for their own
		// subscriptions) can decode it themselves.
		n.emit(Event{Kind: EvtDHTRecordReceived, PeerID: from.String(), DHTKey: topicName, DHTValue: data})
	}
}

// handleSignedResult applies §4.2 admission to every inbound
// CheckResult before it ever reaches storage.
func (n *Node) handleSignedResult(data []byte, from peer.ID) {
	result, reason, err := admitSignedResult(data, from.String(), time.Now())
	if err != nil {
		n.logger.Warnf("uppe::audit peer=%s event=decode_failed reason=%v", from, err)
		return
	}
	if reason != "" {
		n.logger.Warnf("uppe::audit peer=%s event=result_rejected reason=%s", from, reason)
		return
	}
	n.emit(Event{Kind: EvtResultReceived, PeerID: from.String(), Result: result})
}

// admitSignedResult implements §4.2's received-result admission:
// verify the signature, verify peer_id == hex(public_key), and reject
// timestamps outside the admission window. Kept free of Node so it is
// testable without a live libp2p host; the returned reason string is
// empty only when the result is admitted.
func admitSignedResult(data []byte, fromPeer string, now time.Time) (*monitor.PeerResult, string, error) {
	var signed monitor.SignedMessage
	if err := json.Unmarshal(data, &signed); err != nil {
		return nil, "", fmt.Errorf("decode signed message: %w", err)
	}

	peerID := crypto.PeerIDFromPublicKey(signed.PublicKey[:])
	if peerID != signed.Result.PeerID {
		return nil, "peer_id_mismatch", nil
	}
	signable, err := signed.Result.SignableJSON()
	if err != nil {
		return nil, "", fmt.Errorf("encode signable result: %w", err)
	}
	if !crypto.Verify(signed.PublicKey[:], signable, signed.Result.Signature) {
		return nil, "invalid_signature", nil
	}
	if !monitor.WithinAdmissionWindow(signed.Result.Timestamp, now) {
		return nil, "timestamp_skew", nil
	}

	pub := make([]byte, 32)
	copy(pub, signed.PublicKey[:])
	return &monitor.PeerResult{
		CheckResult:  signed.Result,
		Verified:     true,
		ReceivedAt:   now,
		PublicKey:    pub,
		SourcePeerID: fromPeer,
	}, "", nil
}

func (n *Node) handleHelperAssignmentMessage(data []byte, from peer.ID) {
	var req HelperAssignmentRequest
	if err := json.Unmarshal(data, &req); err == nil && req.MonitorUUID != "" {
		n.emit(Event{Kind: EvtHelperAssignmentReq, PeerID: from.String(), HelperReq: &req})
		return
	}
	var resp HelperAssignmentResponse
	if err := json.Unmarshal(data, &resp); err == nil && resp.MonitorUUID != "" {
		n.emit(Event{Kind: EvtHelperAssignmentResp, PeerID: from.String(), HelperResp: &resp})
	}
}

// resultsReadLoop is a placeholder pump kept symmetrical with the
// command loop; all topic reads are actually driven per-subscription
// by readTopic goroutines spawned from subscribe.
func (n *Node) resultsReadLoop() {
	defer n.wg.Done()
	<-n.ctx.Done()
}

// commandLoop drains the command channel, translating each Command
// into the corresponding libp2p/pubsub/DHT operation and emitting the
// matching event.
func (n *Node) commandLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case cmd, ok := <-n.commands:
			if !ok {
				return
			}
			n.dispatch(cmd)
		}
	}
}

func (n *Node) dispatch(cmd Command) {
	switch cmd.Kind {
	case CmdPublishResult:
		if cmd.Result == nil {
			return
		}
		data, err := json.Marshal(monitor.SignedMessage{Result: *cmd.Result, PublicKey: peerIDToPubKeyArray(cmd.Result.PeerID)})
		if err != nil {
			n.emit(Event{Kind: EvtError, ErrorMessage: err.Error()})
			return
		}
		n.publish(ResultsTopic, data)

	case CmdPublishEncryptedResult:
		if cmd.EncryptedResult == nil {
			return
		}
		data, err := json.Marshal(cmd.EncryptedResult)
		if err != nil {
			n.emit(Event{Kind: EvtError, ErrorMessage: err.Error()})
			return
		}
		n.publish(PrivateResultsTopic(cmd.EncryptedResult.OwnerPeerID), data)

	case CmdPublishToTopic:
		n.publish(cmd.Topic, cmd.Data)

	case CmdAssignHelper:
		if cmd.HelperReq == nil {
			return
		}
		data, err := json.Marshal(cmd.HelperReq)
		if err != nil {
			n.emit(Event{Kind: EvtError, ErrorMessage: err.Error()})
			return
		}
		n.publish(HelperAssignmentsTopic, data)

	case CmdSendHelperResponse:
		if cmd.HelperResp == nil {
			return
		}
		data, err := json.Marshal(cmd.HelperResp)
		if err != nil {
			n.emit(Event{Kind: EvtError, ErrorMessage: err.Error()})
			return
		}
		n.publish(HelperAssignmentsTopic, data)

	case CmdPublishDHTRecord:
		n.putDHTRecord(cmd.DHTKey, cmd.DHTValue)

	case CmdGetDHTRecord:
		n.getDHTRecord(cmd.DHTKey)

	case CmdSubscribe:
		if err := n.subscribe(cmd.Topic); err != nil {
			n.emit(Event{Kind: EvtError, ErrorMessage: err.Error()})
			return
		}
		n.emit(Event{Kind: EvtSubscribed})

	case CmdUnsubscribe:
		n.unsubscribe(cmd.Topic)
		n.emit(Event{Kind: EvtUnsubscribed})

	case CmdShutdown:
		n.cancel()
	}
}

// peerIDToPubKeyArray re-derives the 32-byte public key from its hex
// peer-ID encoding, the inverse of crypto.PeerIDFromPublicKey, so
// PublishResult can build the wire envelope from just a CheckResult's
// embedded peer_id.
func peerIDToPubKeyArray(peerIDHex string) [32]byte {
	var out [32]byte
	pub, err := hex.DecodeString(peerIDHex)
	if err == nil && len(pub) == ed25519.PublicKeySize {
		copy(out[:], pub)
	}
	return out
}

func (n *Node) publish(topicName string, data []byte) {
	n.topicsMu.Lock()
	topic, ok := n.topics[topicName]
	n.topicsMu.Unlock()
	if !ok {
		if err := n.subscribe(topicName); err != nil {
			n.emit(Event{Kind: EvtError, ErrorMessage: err.Error()})
			return
		}
		n.topicsMu.Lock()
		topic = n.topics[topicName]
		n.topicsMu.Unlock()
	}
	if err := topic.Publish(n.ctx, data); err != nil {
		n.emit(Event{Kind: EvtError, ErrorMessage: err.Error()})
	}
}

func (n *Node) putDHTRecord(key string, value []byte) {
	if n.kad == nil {
		n.emit(Event{Kind: EvtDHTRecordPublishFailed, DHTKey: key, ErrorMessage: "dht disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(n.ctx, DHTQueryTimeoutSeconds*time.Second)
	defer cancel()
	if err := n.kad.PutValue(ctx, key, value); err != nil {
		n.emit(Event{Kind: EvtDHTRecordPublishFailed, DHTKey: key, ErrorMessage: err.Error()})
		return
	}
	n.emit(Event{Kind: EvtDHTRecordPublished, DHTKey: key})
}

func (n *Node) getDHTRecord(key string) {
	if n.kad == nil {
		n.emit(Event{Kind: EvtDHTRecordNotFound, DHTKey: key})
		return
	}
	ctx, cancel := context.WithTimeout(n.ctx, DHTQueryTimeoutSeconds*time.Second)
	defer cancel()
	value, err := n.kad.GetValue(ctx, key)
	if err != nil {
		n.emit(Event{Kind: EvtDHTRecordNotFound, DHTKey: key})
		return
	}
	n.emit(Event{Kind: EvtDHTRecordReceived, DHTKey: key, DHTValue: value})
}

func (n *Node) emit(evt Event) {
	select {
	case n.events <- evt:
	case <-n.ctx.Done():
	}
}

// probeTimeoutCap bounds how long a single /peerup/probe/1.0 request is
// allowed to run, regardless of the timeout the requester asked for.
const probeTimeoutCap = 30 * time.Second

func (n *Node) handleProbeStream(stream network.Stream) {
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(probeTimeoutCap))

	var req ProbeRequest
	if err := json.NewDecoder(stream).Decode(&req); err != nil {
		return
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout <= 0 || timeout > probeTimeoutCap {
		timeout = probeTimeoutCap
	}

	result := n.exec.ExecuteProbe(n.ctx, req.Method, req.TargetURL, req.Headers, req.Body, timeout)

	resp := ProbeResponse{
		DurationMS: result.DurationMS,
		ProbedBy:   n.host.ID().String(),
		Timestamp:  time.Now().Unix(),
		Headers:    result.Headers,
		Body:       result.Body,
	}
	if result.Err != nil {
		msg := result.Err.Error()
		resp.Error = &msg
	} else {
		status := result.Status
		resp.Status = &status
	}
	_ = json.NewEncoder(stream).Encode(resp)
}

// mdnsNotifee adapts Node to mdns.Notifee.
type mdnsNotifee struct{ n *Node }

func (m mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == m.n.host.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(m.n.ctx, 10*time.Second)
	defer cancel()
	// EvtPeerConnected fires from the network.Notifiee registered in
	// Start, which covers every connection regardless of how it was
	// discovered (mDNS, DHT, direct dial).
	_ = m.n.host.Connect(ctx, pi)
}

// GetDefaultBootstrapPeers returns libp2p's well-known bootstrap peers,
// used when no WAN bootstrap list is configured.
func GetDefaultBootstrapPeers() []peer.AddrInfo {
	addrs := dht.DefaultBootstrapPeers
	out := make([]peer.AddrInfo, 0, len(addrs))
	for _, addr := range addrs {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		out = append(out, *pi)
	}
	return out
}
