package realtime

import (
	"encoding/json"
	"fmt"

	"stagehand/api/internal/geometry"
	"stagehand/api/internal/stage"
)

// Client to server events.
const (
	EventJoin          = "join"
	EventAddElement    = "add-element"
	EventUpdateElement = "update-element"
	EventRemoveElement = "remove-element"
	EventLockElement   = "lock-element"
	EventUnlockElement = "unlock-element"
	EventDragStart     = "drag-start"
	EventClear         = "clear"
	EventUndo          = "undo"
	EventToggleLock    = "toggle-lock"
)

// Server to client events.
const (
	EventHello           = "hello"
	EventStageUpdate     = "stage-update"
	EventElementLocked   = "element-locked"
	EventElementUnlocked = "element-unlocked"
	EventLog             = "log"
	EventError           = "error"
)

// Error frame messages.
const (
	MsgUnauthorised     = "Unauthorised"
	MsgStageLocked      = "Stage is locked"
	MsgElementLocked    = "Element is locked by another user"
	MsgAlreadyLocked    = "Element already locked"
	MsgMalformedPayload = "Malformed payload"
)

// Envelope is one websocket frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	ChannelID string `json:"channelId"`
}

type AddElementPayload struct {
	AssetID   string              `json:"assetId"`
	Transform *geometry.Transform `json:"transform,omitempty"`
}

type UpdateElementPayload struct {
	InstanceID string         `json:"instanceId"`
	Transform  geometry.Patch `json:"transform"`
}

// ElementPayload carries the target of remove, lock, unlock and drag-start.
type ElementPayload struct {
	InstanceID string `json:"instanceId"`
}

type HelloPayload struct {
	ConnectionID  string `json:"connectionId"`
	UserID        string `json:"userId,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

type StageUpdatePayload struct {
	State stage.State `json:"state"`
}

type ElementLockedPayload struct {
	InstanceID string `json:"instanceId"`
	HolderID   string `json:"holderId"`
}

type ElementUnlockedPayload struct {
	InstanceID string `json:"instanceId"`
}

type LogPayload struct {
	Message string `json:"message"`
	ActorID string `json:"actorId,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode builds a frame from an event name and payload.
func Encode(eventType string, payload any) ([]byte, error) {
	env := Envelope{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode reads env's payload into v. An absent payload leaves v untouched.
func (env Envelope) Decode(v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}
