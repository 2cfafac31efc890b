package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stagehand/api/internal/auth"
	"stagehand/api/internal/config"
	"stagehand/api/internal/realtime"
	"stagehand/api/internal/search"
	"stagehand/api/internal/stage"
	"stagehand/api/internal/upload"
)

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check names one readiness dependency.
type Check struct {
	Name   string
	Pinger Pinger
}

// Service backs the HTTP surface: identity, channel reads, the asset
// library and uploads. The websocket protocol itself lives in the hub.
type Service struct {
	cfg     config.Config
	hub     *realtime.Hub
	search  *search.Service
	uploads *upload.Service
	checks  []Check
}

// New wires the service. uploads may be nil when object storage is not
// configured.
func New(cfg config.Config, hub *realtime.Hub, searchService *search.Service, uploads *upload.Service, checks ...Check) *Service {
	return &Service{
		cfg:     cfg,
		hub:     hub,
		search:  searchService,
		uploads: uploads,
		checks:  checks,
	}
}

// Hub exposes the websocket coordinator for mounting.
func (s *Service) Hub() *realtime.Hub {
	return s.hub
}

// IdentityFromToken verifies a bearer credential.
func (s *Service) IdentityFromToken(token string) (auth.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return auth.ParseToken([]byte(s.cfg.JWTSecret), token)
}

// Readiness pings every dependency and reports per-check status.
func (s *Service) Readiness(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := make(map[string]any, len(s.checks))
	for _, c := range s.checks {
		if err := c.Pinger.Ping(ctx); err != nil {
			ready = false
			checks[c.Name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[c.Name] = map[string]any{"status": "ok"}
	}
	return ready, checks
}

func (s *Service) ChannelState(channelID string) stage.State {
	return s.hub.Snapshot(channelID)
}

func (s *Service) ChannelLog(channelID string) []stage.AuditEntry {
	return s.hub.AuditLog(channelID)
}

func (s *Service) SearchAssets(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []stage.Asset{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// Upload stores a file for the caller and records a pending asset.
func (s *Service) Upload(ctx context.Context, identity auth.Identity, f upload.File) (stage.Asset, error) {
	if s.uploads == nil {
		return stage.Asset{}, errUploadsDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	asset, err := s.uploads.Upload(ctx, identity.UserID, f)
	switch {
	case errors.Is(err, upload.ErrEmptyFile):
		return stage.Asset{}, errFileRequired
	case errors.Is(err, upload.ErrUnsupportedType):
		return stage.Asset{}, errUnsupportedType
	case err != nil:
		return stage.Asset{}, fmt.Errorf("upload for %s: %w", identity.UserID, err)
	}
	return asset, nil
}
