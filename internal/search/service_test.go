package search

import (
	"context"
	"errors"
	"testing"

	"stagehand/api/internal/stage"
)

type staticLister struct {
	assets []stage.Asset
	err    error
}

func (s staticLister) ListApprovedAssets(context.Context) ([]stage.Asset, error) {
	return s.assets, s.err
}

func catalog() []stage.Asset {
	return []stage.Asset{
		{ID: "a1", Type: stage.AssetImage, Filename: "logo.png", Approved: true},
		{ID: "a2", Type: stage.AssetVideo, Filename: "intro-clip.mp4", Approved: true},
		{ID: "a3", Type: stage.AssetImage, Filename: "Logo-dark.png", Approved: true},
		{ID: "a4", Type: stage.AssetImage, Filename: "logo-pending.png", Approved: false},
	}
}

func TestListSearchFilters(t *testing.T) {
	s := NewListSearch(staticLister{assets: catalog()})
	ctx := context.Background()

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{name: "all approved", query: Query{}, want: []string{"a1", "a2", "a3"}},
		{name: "case insensitive text", query: Query{Text: "LOGO"}, want: []string{"a1", "a3"}},
		{name: "type filter", query: Query{Type: stage.AssetVideo}, want: []string{"a2"}},
		{name: "text and type", query: Query{Text: "clip", Type: stage.AssetImage}, want: nil},
		{name: "paged", query: Query{Limit: 1, Offset: 1}, want: []string{"a2"}},
		{name: "offset past end", query: Query{Offset: 10}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := s.Search(ctx, tt.query)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Search() returned %d results, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Fatalf("result[%d] = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestListSearchTotalIgnoresPaging(t *testing.T) {
	s := NewListSearch(staticLister{assets: catalog()})
	_, total, err := s.Search(context.Background(), Query{Limit: 1})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
}

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	svc := NewService(nil, NewListSearch(staticLister{assets: catalog()}))
	resp := svc.Search(context.Background(), Query{Text: "intro"})
	if resp.Total != 1 || len(resp.Results) != 1 || resp.Results[0].ID != "a2" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Query != "intro" {
		t.Fatalf("Query = %q, want intro", resp.Query)
	}
}

func TestServiceFallbackErrorReturnsEmpty(t *testing.T) {
	svc := NewService(nil, NewListSearch(staticLister{err: errors.New("db down")}))
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp)
	}
}

func TestServiceWithoutBackends(t *testing.T) {
	svc := NewService(nil, nil)
	resp := svc.Search(context.Background(), Query{})
	if resp.Results == nil {
		t.Fatal("results must be non-nil")
	}
	// Indexing without Meilisearch is a no-op.
	svc.IndexAsset(stage.Asset{ID: "a1"})
	svc.Reindex(context.Background(), staticLister{})
}

func TestQueryDefaults(t *testing.T) {
	if got := (Query{}).limit(); got != 20 {
		t.Fatalf("default limit = %d, want 20", got)
	}
	if got := (Query{Limit: 500}).limit(); got != 20 {
		t.Fatalf("oversized limit = %d, want 20", got)
	}
	if got := (Query{Offset: -3}).offset(); got != 0 {
		t.Fatalf("negative offset = %d, want 0", got)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Fatalf("escapeLike() = %q", got)
	}
}
