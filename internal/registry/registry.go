// Package registry holds observed-peer metadata and network-wide
// summary statistics, and exposes full-text lookup over peers and
// public monitor groups through a Bleve index. Adapted from
// internal/search/index.go: same Bleve-index-plus-Document shape,
// generalized from a single "entry" document type to a peer/group
// document distinguished by the existing Type field.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blevesearch/bleve/v2"
)

// PeerStatus is a peer's last-observed liveness state.
type PeerStatus string

const (
	PeerOnline   PeerStatus = "online"
	PeerOffline  PeerStatus = "offline"
	PeerDegraded PeerStatus = "degraded"
)

// Peer is stored metadata about a peer this node has observed.
type Peer struct {
	PeerID            string     `json:"peer_id"`
	Status            PeerStatus `json:"status"`
	LastSeen          time.Time  `json:"last_seen"`
	JoinedAt          time.Time  `json:"joined_at"`
	ContributionScore float64    `json:"contribution_score"`
	UptimePercent     float64    `json:"uptime_percent"`
	ChecksPerDay      float64    `json:"checks_per_day"`
	Latitude          *float64   `json:"latitude,omitempty"`
	Longitude         *float64   `json:"longitude,omitempty"`
	CountryCode       string     `json:"country_code,omitempty"`
}

// PeerTrustScore tracks one peer's operational reliability, used to
// rank helper candidates for private monitors. Ported from
// distributed/metadata.rs's PeerTrustScore.
type PeerTrustScore struct {
	PeerID                 string    `json:"peer_id"`
	Score                  float64   `json:"score"`
	SuccessfulOperations   uint64    `json:"successful_operations"`
	FailedOperations       uint64    `json:"failed_operations"`
	AvailabilityPercentage float64   `json:"availability_percentage"`
	LastSeen               time.Time `json:"last_seen"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// NewPeerTrustScore returns a neutral-trust record for a newly observed peer.
func NewPeerTrustScore(peerID string) PeerTrustScore {
	now := time.Now()
	return PeerTrustScore{
		PeerID:                 peerID,
		Score:                  1.0,
		AvailabilityPercentage: 100.0,
		LastSeen:               now,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// RecordOperation updates the score with the outcome of one operation:
// a success-rate weighted by how many operations have been observed so
// far, so a handful of early failures don't sink a peer's score as hard
// as a sustained pattern would.
func (t *PeerTrustScore) RecordOperation(success bool) {
	if success {
		t.SuccessfulOperations++
	} else {
		t.FailedOperations++
	}

	total := t.SuccessfulOperations + t.FailedOperations
	if total > 0 {
		successRate := float64(t.SuccessfulOperations) / float64(total)
		weight := float64(total)
		if weight > 1000 {
			weight = 1000
		}
		weight /= 1000.0
		t.Score = 0.5 + (successRate-0.5)*weight
	}
	t.UpdatedAt = time.Now()
}

// NetworkStats is a point-in-time snapshot of network-wide counters.
// storage.Store saves and loads snapshots (SaveNetworkStats,
// GetLatestNetworkStats); the daemon itself does not compute or save one.
type NetworkStats struct {
	Timestamp      time.Time `json:"timestamp"`
	TotalPeers     int       `json:"total_peers"`
	OnlinePeers    int       `json:"online_peers"`
	TotalMonitors  int       `json:"total_monitors"`
	PublicMonitors int       `json:"public_monitors"`
	TotalChecks24h uint64    `json:"total_checks_24h"`
}

// Index wraps Bleve for full-text search over peers and public
// monitor groups.
type Index struct {
	index bleve.Index
	path  string
}

// document is the searchable shape indexed for both peers and groups.
type document struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

const (
	DocTypePeer  = "peer"
	DocTypeGroup = "public_monitor_group"
)

// NewIndex creates or opens a Bleve index at dataDir/registry.bleve.
func NewIndex(dataDir string) (*Index, error) {
	indexPath := filepath.Join(dataDir, "registry.bleve")

	idx, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		mapping := bleve.NewIndexMapping()

		docMapping := bleve.NewDocumentMapping()

		contentField := bleve.NewTextFieldMapping()
		contentField.Analyzer = "standard"
		docMapping.AddFieldMappingsAt("content", contentField)

		tagsField := bleve.NewTextFieldMapping()
		tagsField.Analyzer = "keyword"
		docMapping.AddFieldMappingsAt("tags", tagsField)

		typeField := bleve.NewTextFieldMapping()
		typeField.Analyzer = "keyword"
		docMapping.AddFieldMappingsAt("type", typeField)

		mapping.AddDocumentMapping("_default", docMapping)

		idx, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, fmt.Errorf("registry: create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("registry: open index: %w", err)
	}

	return &Index{index: idx, path: indexPath}, nil
}

// NewMemoryIndex creates an in-memory index, for tests.
func NewMemoryIndex() (*Index, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, err
	}
	return &Index{index: idx}, nil
}

// IndexPeer adds or updates a peer document, searchable on peer ID
// and country code.
func (i *Index) IndexPeer(p Peer) error {
	content := p.PeerID + " " + p.CountryCode
	tags := []string{p.CountryCode, string(p.Status)}
	return i.index.Index(peerDocID(p.PeerID), document{
		ID: peerDocID(p.PeerID), Type: DocTypePeer, Content: content, Tags: tags,
	})
}

// IndexGroup adds or updates a public monitor group document,
// searchable on domain and display name.
func (i *Index) IndexGroup(domain, displayName string) error {
	content := domain + " " + displayName
	return i.index.Index(groupDocID(domain), document{
		ID: groupDocID(domain), Type: DocTypeGroup, Content: content,
	})
}

// DeletePeer removes a peer's document from the index.
func (i *Index) DeletePeer(peerID string) error {
	return i.index.Delete(peerDocID(peerID))
}

// DeleteGroup removes a group's document from the index.
func (i *Index) DeleteGroup(domain string) error {
	return i.index.Delete(groupDocID(domain))
}

func peerDocID(peerID string) string  { return "peer:" + peerID }
func groupDocID(domain string) string { return "group:" + domain }

// SearchOptions configures a search query.
type SearchOptions struct {
	Type  string
	Limit int
}

// SearchResult is a single search hit, with the original ID stripped
// of its document-type prefix.
type SearchResult struct {
	ID    string
	Type  string
	Score float64
}

// Search runs a full-text query, optionally restricted by document type.
func (i *Index) Search(query string, opts SearchOptions) ([]SearchResult, error) {
	contentQuery := bleve.NewMatchQuery(query)
	contentQuery.SetField("content")

	var q = bleve.Query(contentQuery)
	if opts.Type != "" {
		typeQuery := bleve.NewTermQuery(opts.Type)
		typeQuery.SetField("type")
		q = bleve.NewConjunctionQuery(contentQuery, typeQuery)
	}

	searchReq := bleve.NewSearchRequest(q)
	searchReq.Fields = []string{"type"}
	searchReq.Size = opts.Limit
	if searchReq.Size <= 0 {
		searchReq.Size = 50
	}

	searchRes, err := i.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("registry: search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(searchRes.Hits))
	for _, hit := range searchRes.Hits {
		docType, _ := hit.Fields["type"].(string)
		results = append(results, SearchResult{
			ID:    stripDocIDPrefix(hit.ID),
			Type:  docType,
			Score: hit.Score,
		})
	}
	return results, nil
}

func stripDocIDPrefix(id string) string {
	for _, prefix := range []string{"peer:", "group:"} {
		if len(id) > len(prefix) && id[:len(prefix)] == prefix {
			return id[len(prefix):]
		}
	}
	return id
}

// Close closes the index.
func (i *Index) Close() error {
	return i.index.Close()
}

// Delete closes and removes the index from disk.
func (i *Index) Delete() error {
	i.index.Close()
	if i.path != "" {
		return os.RemoveAll(i.path)
	}
	return nil
}
