package store

import (
	"encoding/json"
	"time"

	"stagehand/api/internal/stage"
)

// assetRow is the assets table as scanned from Postgres.
type assetRow struct {
	ID         string
	Type       string
	URL        string
	Filename   string
	Metadata   []byte
	UploaderID string
	Approved   bool
	CreatedAt  time.Time
}

func (r assetRow) toAsset() stage.Asset {
	asset := stage.Asset{
		ID:         r.ID,
		Type:       stage.AssetType(r.Type),
		URL:        r.URL,
		Filename:   r.Filename,
		UploaderID: r.UploaderID,
		Approved:   r.Approved,
		CreatedAt:  r.CreatedAt.UnixMilli(),
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &asset.Metadata)
	}
	return asset
}

// NewAsset is what the uploader records; new rows always start unapproved.
type NewAsset struct {
	Type       stage.AssetType
	URL        string
	Filename   string
	Metadata   stage.AssetMetadata
	UploaderID string
}

type Member struct {
	ChannelSlug string
	UserID      string
	Role        string
}
