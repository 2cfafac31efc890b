package store

import (
	"context"
	"database/sql"
	"log"
	"sort"
	"sync"
	"time"

	"stagehand/api/internal/rbac"
	"stagehand/api/internal/stage"
	"stagehand/api/internal/util"
)

func float(v float64) *float64 { return &v }

// DemoAssets is the catalog served when no database is configured.
func DemoAssets(now time.Time) []stage.Asset {
	created := now.UnixMilli()
	return []stage.Asset{
		{
			ID:         "asset-1",
			Type:       stage.AssetImage,
			URL:        "https://placehold.co/400x400/png",
			Filename:   "placeholder.png",
			Metadata:   stage.AssetMetadata{Width: float(400), Height: float(400)},
			UploaderID: "user-1",
			Approved:   true,
			CreatedAt:  created,
		},
		{
			ID:         "asset-2",
			Type:       stage.AssetText,
			Filename:   "Hello World",
			UploaderID: "user-1",
			Approved:   true,
			CreatedAt:  created,
		},
		{
			ID:         "asset-3",
			Type:       stage.AssetVideo,
			URL:        "https://interactive-examples.mdn.mozilla.net/media/cc0-videos/flower.mp4",
			Filename:   "flower.mp4",
			Metadata:   stage.AssetMetadata{Width: float(400), Height: float(400)},
			UploaderID: "user-1",
			Approved:   true,
			CreatedAt:  created,
		},
	}
}

// MemoryStore is an in-process catalog and membership table.
type MemoryStore struct {
	mu      sync.RWMutex
	assets  map[string]stage.Asset
	members map[[2]string]rbac.Role
}

func NewMemoryStore(seed ...stage.Asset) *MemoryStore {
	m := &MemoryStore{
		assets:  make(map[string]stage.Asset),
		members: make(map[[2]string]rbac.Role),
	}
	for _, a := range seed {
		m.assets[a.ID] = a
	}
	return m
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) GetAsset(_ context.Context, assetID string) (*stage.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[assetID]
	if !ok || !a.Approved {
		return nil, nil
	}
	return &a, nil
}

func (m *MemoryStore) ListApprovedAssets(context.Context) ([]stage.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []stage.Asset
	for _, a := range m.assets {
		if a.Approved {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) InsertAsset(_ context.Context, in NewAsset) (stage.Asset, error) {
	a := stage.Asset{
		ID:         util.NewID(""),
		Type:       in.Type,
		URL:        in.URL,
		Filename:   in.Filename,
		Metadata:   in.Metadata,
		UploaderID: in.UploaderID,
		CreatedAt:  time.Now().UnixMilli(),
	}
	m.mu.Lock()
	m.assets[a.ID] = a
	m.mu.Unlock()
	return a, nil
}

func (m *MemoryStore) ApproveAsset(_ context.Context, assetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[assetID]
	if !ok {
		return sql.ErrNoRows
	}
	a.Approved = true
	m.assets[assetID] = a
	return nil
}

func (m *MemoryStore) LookupRole(_ context.Context, channelSlug, userID string) (rbac.Role, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.members[[2]string{channelSlug, userID}]
	if !ok {
		return rbac.RoleGuest, false, nil
	}
	return role, true, nil
}

func (m *MemoryStore) UpsertMember(_ context.Context, member Member) error {
	m.mu.Lock()
	m.members[[2]string{member.ChannelSlug, member.UserID}] = rbac.Normalize(member.Role)
	m.mu.Unlock()
	return nil
}

// AssetGetter is the lookup half of a catalog.
type AssetGetter interface {
	GetAsset(ctx context.Context, assetID string) (*stage.Asset, error)
}

// FallbackAssets consults Primary first and falls back to Secondary when the
// primary errors or has no approved row.
type FallbackAssets struct {
	Primary   AssetGetter
	Secondary AssetGetter
}

func (f FallbackAssets) GetAsset(ctx context.Context, assetID string) (*stage.Asset, error) {
	asset, err := f.Primary.GetAsset(ctx, assetID)
	if err != nil {
		log.Printf("store: asset lookup %s failed, using fallback catalog: %v", assetID, err)
	}
	if asset != nil {
		return asset, nil
	}
	if f.Secondary == nil {
		return nil, err
	}
	return f.Secondary.GetAsset(ctx, assetID)
}
