// Package search backs the console asset library: a Meilisearch index of
// approved assets with a database fallback.
package search

import (
	"context"

	"stagehand/api/internal/stage"
)

// Query describes a search request.
type Query struct {
	Text   string
	Type   stage.AssetType // empty = all types
	Limit  int
	Offset int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []stage.Asset `json:"results"`
	Total   int           `json:"total"`
	Query   string        `json:"query"`
}

// Searcher can execute a search over approved assets.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]stage.Asset, int, error)
	Healthy() bool
}

// AssetLister enumerates approved assets for bulk indexing.
type AssetLister interface {
	ListApprovedAssets(ctx context.Context) ([]stage.Asset, error)
}
