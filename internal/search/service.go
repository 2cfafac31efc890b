package search

import (
	"context"
	"log"

	"stagehand/api/internal/stage"
)

// Service is the facade that tries Meilisearch first and falls back to the
// database searcher.
type Service struct {
	meili    *Meili
	fallback Searcher
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []stage.Asset{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: fallback error: %v", err)
		return Response{Results: []stage.Asset{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexAsset indexes an asset (fire-and-forget to Meilisearch). Unapproved
// uploads are indexed too; the approved filter keeps them out of results.
func (s *Service) IndexAsset(a stage.Asset) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexAsset(a); err != nil {
			log.Printf("search: index asset %s: %v", a.ID, err)
		}
	}()
}

// Reindex pushes every approved asset into Meilisearch. Called at startup.
func (s *Service) Reindex(ctx context.Context, lister AssetLister) {
	if s.meili == nil || !s.meili.Healthy() || lister == nil {
		return
	}
	assets, err := lister.ListApprovedAssets(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexAssets(assets); err != nil {
		log.Printf("search: reindex assets: %v", err)
	}
}

func nonNil(r []stage.Asset) []stage.Asset {
	if r == nil {
		return []stage.Asset{}
	}
	return r
}
