package p2p

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"

	dht "github.com/libp2p/go-libp2p-kad-dht"

	"github.com/uppe-net/uppe/internal/netlog"
)

// RendezvousNamespace is the WAN peer-discovery namespace uppe nodes
// advertise and search under.
const RendezvousNamespace = "/uppe/1.0.0"

// recordValidator accepts any key (admin trust-chain keys,
// public-monitor keys, private-result batch keys are all plain
// application strings, not libp2p's /pk//ipns conventions) and rejects
// only empty values. When replicas disagree, Select picks the longest
// value, the first one on ties — the application layer (trust.Manager,
// admission orchestrator) re-validates content and provenance on top
// of this.
type recordValidator struct{}

func (recordValidator) Validate(key string, value []byte) error {
	if len(value) == 0 {
		return fmt.Errorf("p2p: empty dht record for key %q", key)
	}
	return nil
}

func (recordValidator) Select(key string, values [][]byte) (int, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("p2p: no candidate values for key %q", key)
	}
	best := 0
	for i := 1; i < len(values); i++ {
		if len(values[i]) > len(values[best]) {
			best = i
		}
	}
	return best, nil
}

// Discovery wraps Kademlia-based rendezvous advertise/find: advertise
// under the rendezvous namespace, then poll for peers.
type Discovery struct {
	host    host.Host
	kad     *dht.IpfsDHT
	routing *drouting.RoutingDiscovery
	logger  netlog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// NewDiscovery builds a rendezvous-discovery helper over an
// already-constructed DHT (shared with the Node that owns it, so
// there is exactly one Kademlia routing table per process).
func NewDiscovery(h host.Host, kad *dht.IpfsDHT, logger netlog.Logger) *Discovery {
	ctx, cancel := context.WithCancel(context.Background())
	return &Discovery{host: h, kad: kad, logger: logger, ctx: ctx, cancel: cancel}
}

// Start advertises this node under RendezvousNamespace and begins
// polling for peers, invoking peerNotify for each one discovered.
func (d *Discovery) Start(peerNotify func(peer.AddrInfo)) {
	d.routing = drouting.NewRoutingDiscovery(d.kad)
	dutil.Advertise(d.ctx, d.routing, RendezvousNamespace)

	d.wg.Add(1)
	go d.discoverLoop(peerNotify)
}

func (d *Discovery) discoverLoop(peerNotify func(peer.AddrInfo)) {
	defer d.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.findPeers(peerNotify)
		}
	}
}

func (d *Discovery) findPeers(peerNotify func(peer.AddrInfo)) {
	ctx, cancel := context.WithTimeout(d.ctx, 10*time.Second)
	defer cancel()

	peerCh, err := d.routing.FindPeers(ctx, RendezvousNamespace)
	if err != nil {
		return
	}
	for pi := range peerCh {
		if pi.ID == d.host.ID() || len(pi.Addrs) == 0 {
			continue
		}
		if d.logger != nil {
			d.logger.Debugf("p2p: discovered rendezvous peer %s", pi.ID.String())
		}
		peerNotify(pi)
	}
}

// Stop ends the discovery poll loop. The underlying DHT is owned and
// closed by the Node, not by Discovery.
func (d *Discovery) Stop() {
	d.cancel()
	d.wg.Wait()
}

// PublicMonitorRegistry is a domain's group state as known to a
// publisher. Nothing publishes this type: the value stored at a
// PublicMonitorDHTKey is the JSON admission.PublicMonitorRecord that
// the engine writes there.
type PublicMonitorRegistry struct {
	Domain      string      `json:"domain"`
	Group       GroupWire   `json:"group"`
	LastUpdated int64       `json:"last_updated"`
}
