// Package upload ingests operator media: the bytes go to object storage and
// a pending row goes into the asset catalog for moderation.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"time"

	"stagehand/api/internal/stage"
	"stagehand/api/internal/store"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmptyFile       = errors.New("file is required")
)

// Catalog records new uploads.
type Catalog interface {
	InsertAsset(ctx context.Context, in store.NewAsset) (stage.Asset, error)
}

// Indexer is told about freshly recorded assets.
type Indexer interface {
	IndexAsset(a stage.Asset)
}

// File is one uploaded part.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Service struct {
	blobs   BlobStore
	catalog Catalog
	index   Indexer
	now     func() time.Time
}

// NewService wires the uploader. index may be nil.
func NewService(blobs BlobStore, catalog Catalog, index Indexer) *Service {
	return &Service{blobs: blobs, catalog: catalog, index: index, now: time.Now}
}

// AssetTypeFor maps a MIME type onto IMAGE or VIDEO. Everything else is
// refused.
func AssetTypeFor(mimeType string) (stage.AssetType, bool) {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return stage.AssetImage, true
	case strings.HasPrefix(mimeType, "video/"):
		return stage.AssetVideo, true
	}
	return "", false
}

var whitespace = regexp.MustCompile(`\s+`)

// SafeName replaces whitespace runs with "-".
func SafeName(name string) string {
	return whitespace.ReplaceAllString(name, "-")
}

// ObjectKey is <userID>/<unixMillis>-<safeName>.
func ObjectKey(userID string, at time.Time, name string) string {
	return fmt.Sprintf("%s/%d-%s", userID, at.UnixMilli(), SafeName(name))
}

// Upload stores f for userID and records an unapproved asset.
func (s *Service) Upload(ctx context.Context, userID string, f File) (stage.Asset, error) {
	if f.Body == nil || f.Name == "" {
		return stage.Asset{}, ErrEmptyFile
	}
	assetType, ok := AssetTypeFor(f.ContentType)
	if !ok {
		return stage.Asset{}, ErrUnsupportedType
	}

	key := ObjectKey(userID, s.now(), f.Name)
	url, err := s.blobs.Put(ctx, key, f.Body, f.Size, f.ContentType)
	if err != nil {
		return stage.Asset{}, fmt.Errorf("store upload: %w", err)
	}

	asset, err := s.catalog.InsertAsset(ctx, store.NewAsset{
		Type:     assetType,
		URL:      url,
		Filename: f.Name,
		Metadata: stage.AssetMetadata{
			MimeType: f.ContentType,
			Size:     f.Size,
		},
		UploaderID: userID,
	})
	if err != nil {
		return stage.Asset{}, fmt.Errorf("record upload: %w", err)
	}
	log.Printf("upload: user %s stored %s as asset %s (pending approval)", userID, key, asset.ID)

	if s.index != nil {
		s.index.IndexAsset(asset)
	}
	return asset, nil
}
