package registry

import "testing"

func TestIndexAndSearchPeer(t *testing.T) {
	idx, err := NewMemoryIndex()
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	peer := Peer{PeerID: "abc123def456", Status: PeerOnline, CountryCode: "DE"}
	if err := idx.IndexPeer(peer); err != nil {
		t.Fatal(err)
	}

	results, err := idx.Search("abc123def456", SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != peer.PeerID {
		t.Fatalf("expected one hit for peer %s, got %+v", peer.PeerID, results)
	}
	if results[0].Type != DocTypePeer {
		t.Fatalf("expected hit type %s, got %s", DocTypePeer, results[0].Type)
	}
}

func TestIndexAndSearchGroup(t *testing.T) {
	idx, err := NewMemoryIndex()
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	if err := idx.IndexGroup("status.example.com", "Example Status Page"); err != nil {
		t.Fatal(err)
	}

	results, err := idx.Search("status.example.com", SearchOptions{Type: DocTypeGroup})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "status.example.com" {
		t.Fatalf("expected one group hit, got %+v", results)
	}
}

func TestDeletePeerRemovesFromIndex(t *testing.T) {
	idx, err := NewMemoryIndex()
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	peer := Peer{PeerID: "peer-to-remove"}
	if err := idx.IndexPeer(peer); err != nil {
		t.Fatal(err)
	}
	if err := idx.DeletePeer(peer.PeerID); err != nil {
		t.Fatal(err)
	}

	results, err := idx.Search("peer-to-remove", SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no hits after deletion, got %+v", results)
	}
}
