package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/uppe-net/uppe/internal/crypto"
)

func peerAddrInfo(n *Node) peer.AddrInfo {
	return peer.AddrInfo{ID: n.Host().ID(), Addrs: n.Host().Addrs()}
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	n, err := New(kp, Config{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func waitForEvent(t *testing.T, n *Node, kind EventKind, timeout time.Duration) bool {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-n.Events():
			if evt.Kind == kind {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

func TestConnectEmitsPeerConnected(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx, Config{}); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()
	if err := b.Start(ctx, Config{}); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	bInfo := peerAddrInfo(b)
	if err := a.Host().Connect(ctx, bInfo); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if !waitForEvent(t, a, EvtPeerConnected, 5*time.Second) {
		t.Fatal("expected EvtPeerConnected on the dialing node")
	}
}

func TestDisconnectEmitsPeerDisconnected(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx, Config{}); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()
	if err := b.Start(ctx, Config{}); err != nil {
		t.Fatal(err)
	}

	bInfo := peerAddrInfo(b)
	if err := a.Host().Connect(ctx, bInfo); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !waitForEvent(t, a, EvtPeerConnected, 5*time.Second) {
		t.Fatal("expected EvtPeerConnected before tearing down the peer")
	}

	if err := b.Stop(); err != nil {
		t.Fatal(err)
	}

	if !waitForEvent(t, a, EvtPeerDisconnected, 5*time.Second) {
		t.Fatal("expected EvtPeerDisconnected once the peer goes away")
	}
}
