package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"stagehand/api/internal/stage"
)

const idxAssets = "stagehand_assets"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the asset index.
// An unreachable server is not fatal; the health loop keeps probing.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxAssets,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxAssets, err)
	}

	index := m.client.Index(idxAssets)
	filterable := []interface{}{"type", "approved"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxAssets, err)
	}
	searchable := []string{"filename"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxAssets, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the asset index, restricted to approved assets.
func (m *Meili) Search(_ context.Context, q Query) ([]stage.Asset, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	filters := []string{"approved = true"}
	if q.Type != "" {
		filters = append(filters, fmt.Sprintf("type = %q", string(q.Type)))
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID: idxAssets,
			Query:    q.Text,
			Limit:    int64(q.limit()),
			Offset:   int64(q.offset()),
			Filter:   filters,
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []stage.Asset
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			asset, err := hitToAsset(hit)
			if err != nil {
				log.Printf("search: decode hit: %v", err)
				continue
			}
			results = append(results, asset)
		}
	}
	return results, total, nil
}

func hitToAsset(hit meili.Hit) (stage.Asset, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return stage.Asset{}, err
	}
	var asset stage.Asset
	if err := json.Unmarshal(raw, &asset); err != nil {
		return stage.Asset{}, err
	}
	return asset, nil
}

// IndexAsset adds or updates an asset in the search index.
func (m *Meili) IndexAsset(a stage.Asset) error {
	_, err := m.client.Index(idxAssets).AddDocuments([]stage.Asset{a}, nil)
	return err
}

// IndexAssets bulk-indexes assets.
func (m *Meili) IndexAssets(assets []stage.Asset) error {
	if len(assets) == 0 {
		return nil
	}
	_, err := m.client.Index(idxAssets).AddDocuments(assets, nil)
	return err
}
