// Package stage holds the authoritative per-channel scene graph.
package stage

import (
	"encoding/json"
	"errors"

	"stagehand/api/internal/geometry"
)

var (
	ErrNotFound      = errors.New("element not found")
	ErrStageLocked   = errors.New("stage is locked")
	ErrElementLocked = errors.New("element is locked by another user")
	ErrAlreadyLocked = errors.New("element already locked")
)

type AssetType string

const (
	AssetImage AssetType = "IMAGE"
	AssetVideo AssetType = "VIDEO"
	AssetText  AssetType = "TEXT"
)

type AssetMetadata struct {
	Width    *float64 `json:"width,omitempty"`
	Height   *float64 `json:"height,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
	MimeType string   `json:"mimeType,omitempty"`
	Size     int64    `json:"size,omitempty"`
}

// Asset is a catalog entry. TEXT assets render their Filename and leave URL
// empty.
type Asset struct {
	ID         string        `json:"id"`
	Type       AssetType     `json:"type"`
	URL        string        `json:"url"`
	Filename   string        `json:"filename"`
	Metadata   AssetMetadata `json:"metadata"`
	UploaderID string        `json:"uploaderId"`
	Approved   bool          `json:"approved"`
	CreatedAt  int64         `json:"createdAt"`
}

// Element is one placed instance of an Asset. The embedded asset is a copy
// taken when the element was added and is never refreshed.
type Element struct {
	ID        string             `json:"id"`
	AssetID   string             `json:"assetId"`
	Asset     Asset              `json:"asset"`
	Transform geometry.Transform `json:"transform"`
	Layer     int                `json:"layer"`
	LockedBy  string             `json:"lockedBy,omitempty"`
	Visible   bool               `json:"visible"`
}

type Config struct {
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	Locked          bool   `json:"locked"`
}

// Frame is the reference pixel space elements are positioned in.
func (c Config) Frame() geometry.Size {
	return geometry.Size{Width: float64(c.Width), Height: float64(c.Height)}
}

type State struct {
	Elements map[string]*Element `json:"elements"`
	Config   Config              `json:"config"`
	Version  uint64              `json:"version"`
}

func DefaultState() State {
	return State{
		Elements: map[string]*Element{},
		Config: Config{
			Width:  1920,
			Height: 1080,
		},
	}
}

// Clone returns a deep copy that shares nothing with s.
func (s State) Clone() State {
	out := State{
		Elements: make(map[string]*Element, len(s.Elements)),
		Config:   s.Config,
		Version:  s.Version,
	}
	for id, el := range s.Elements {
		copied := *el
		copied.Asset.Metadata = cloneMetadata(el.Asset.Metadata)
		out.Elements[id] = &copied
	}
	return out
}

func cloneMetadata(m AssetMetadata) AssetMetadata {
	out := m
	out.Width = cloneFloat(m.Width)
	out.Height = cloneFloat(m.Height)
	out.Duration = cloneFloat(m.Duration)
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Marshal serializes the state for history snapshots and broadcasts.
func (s State) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

func Unmarshal(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, err
	}
	if s.Elements == nil {
		s.Elements = map[string]*Element{}
	}
	return s, nil
}
