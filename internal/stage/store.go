package stage

import (
	"sync"
	"time"

	"stagehand/api/internal/geometry"
)

// Store owns every channel's state. Channels are created lazily and live
// for the lifetime of the process.
type Store struct {
	mu           sync.Mutex
	channels     map[string]*Channel
	historyLimit int
	auditLimit   int
}

func NewStore(historyLimit, auditLimit int) *Store {
	if auditLimit <= 0 {
		auditLimit = DefaultAuditLimit
	}
	return &Store{
		channels:     make(map[string]*Channel),
		historyLimit: historyLimit,
		auditLimit:   auditLimit,
	}
}

// GetOrCreate returns the channel, creating a default 1920x1080 unlocked
// empty stage on first access.
func (s *Store) GetOrCreate(channelID string) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		ch = &Channel{
			id:      channelID,
			state:   DefaultState(),
			history: NewHistory(s.historyLimit),
			audit:   auditLog{limit: s.auditLimit},
		}
		s.channels[channelID] = ch
	}
	return ch
}

// Lookup returns an existing channel without creating one.
func (s *Store) Lookup(channelID string) (*Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	return ch, ok
}

// Channel is one stage plus its undo history and audit log.
//
// Mutating methods do no locking of their own: callers hold Lock for the
// whole check, mutate and broadcast sequence so that every member observes
// mutations in apply order.
type Channel struct {
	mu      sync.Mutex
	id      string
	state   State
	history *History
	audit   auditLog
}

func (c *Channel) ID() string { return c.id }

func (c *Channel) Lock() { c.mu.Lock() }
func (c *Channel) Unlock() { c.mu.Unlock() }

// Snapshot returns a deep copy of the current state.
func (c *Channel) Snapshot() State {
	return c.state.Clone()
}

// View locks the channel and returns a copy of its state.
func (c *Channel) View() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

func (c *Channel) Locked() bool {
	return c.state.Config.Locked
}

func (c *Channel) Element(id string) (Element, bool) {
	el, ok := c.state.Elements[id]
	if !ok {
		return Element{}, false
	}
	return *el, true
}

func (c *Channel) HistoryLen() int {
	return c.history.Len()
}

func (c *Channel) touch() {
	c.state.Version++
}

// Add places a new element on top of the stage. The layer is the current
// element count, so after removals it can tie with a surviving element.
func (c *Channel) Add(id string, asset Asset, t geometry.Transform) (Element, error) {
	if c.state.Config.Locked {
		return Element{}, ErrStageLocked
	}
	el := &Element{
		ID:        id,
		AssetID:   asset.ID,
		Asset:     asset,
		Transform: t,
		Layer:     len(c.state.Elements),
		Visible:   true,
	}
	c.state.Elements[id] = el
	c.touch()
	return *el, nil
}

// Update merges patch into the element's transform.
func (c *Channel) Update(id, caller string, patch geometry.Patch) error {
	if c.state.Config.Locked {
		return ErrStageLocked
	}
	el, ok := c.state.Elements[id]
	if !ok {
		return ErrNotFound
	}
	if el.LockedBy != "" && el.LockedBy != caller {
		return ErrElementLocked
	}
	el.Transform = patch.Apply(el.Transform)
	c.touch()
	return nil
}

// Remove deletes the element after snapshotting the stage for undo.
func (c *Channel) Remove(id, caller string) (Element, error) {
	if c.state.Config.Locked {
		return Element{}, ErrStageLocked
	}
	el, ok := c.state.Elements[id]
	if !ok {
		return Element{}, ErrNotFound
	}
	if el.LockedBy != "" && el.LockedBy != caller {
		return Element{}, ErrElementLocked
	}
	if err := c.history.Push(c.state); err != nil {
		return Element{}, err
	}
	removed := *el
	delete(c.state.Elements, id)
	c.touch()
	return removed, nil
}

// Clear removes every element after snapshotting the stage for undo.
func (c *Channel) Clear() error {
	if c.state.Config.Locked {
		return ErrStageLocked
	}
	if err := c.history.Push(c.state); err != nil {
		return err
	}
	c.state.Elements = map[string]*Element{}
	c.touch()
	return nil
}

// LockElement grants holder exclusive edit rights. Re-locking by the
// current holder succeeds.
func (c *Channel) LockElement(id, holder string) error {
	el, ok := c.state.Elements[id]
	if !ok {
		return ErrNotFound
	}
	if el.LockedBy != "" && el.LockedBy != holder {
		return ErrAlreadyLocked
	}
	el.LockedBy = holder
	c.touch()
	return nil
}

// UnlockElement releases the element if holder owns it and reports whether
// anything changed.
func (c *Channel) UnlockElement(id, holder string) bool {
	el, ok := c.state.Elements[id]
	if !ok || el.LockedBy == "" || el.LockedBy != holder {
		return false
	}
	el.LockedBy = ""
	c.touch()
	return true
}

// ReleaseAll drops every lock held by holder and returns the released ids.
func (c *Channel) ReleaseAll(holder string) []string {
	var released []string
	for id, el := range c.state.Elements {
		if el.LockedBy == holder && holder != "" {
			el.LockedBy = ""
			released = append(released, id)
		}
	}
	if len(released) > 0 {
		c.touch()
	}
	return released
}

// ReleaseStale drops locks whose holder no longer passes live. Restored
// snapshots can carry locks from connections that have since left.
func (c *Channel) ReleaseStale(live func(holder string) bool) []string {
	var released []string
	for id, el := range c.state.Elements {
		if el.LockedBy != "" && !live(el.LockedBy) {
			el.LockedBy = ""
			released = append(released, id)
		}
	}
	return released
}

// Checkpoint snapshots the stage at the start of a gesture. It is skipped
// while the kill switch is on.
func (c *Channel) Checkpoint() error {
	if c.state.Config.Locked {
		return ErrStageLocked
	}
	return c.history.Push(c.state)
}

// ToggleLock flips the kill switch and returns the new value.
func (c *Channel) ToggleLock() bool {
	c.state.Config.Locked = !c.state.Config.Locked
	c.touch()
	return c.state.Config.Locked
}

// Undo restores the most recent snapshot, config included. It is not gated
// by the kill switch and may clear it. ok is false when there is nothing to
// undo.
func (c *Channel) Undo() (bool, error) {
	prev, ok, err := c.history.Pop()
	if err != nil || !ok {
		return false, err
	}
	c.Replace(prev)
	return true, nil
}

// Replace swaps in snapshot wholesale. The version keeps counting forward so
// clients can still order broadcasts.
func (c *Channel) Replace(snapshot State) {
	version := c.state.Version
	c.state = snapshot.Clone()
	c.state.Version = version + 1
}

// Record appends an audit line.
func (c *Channel) Record(message, actorID string, at time.Time) AuditEntry {
	entry := AuditEntry{Message: message, ActorID: actorID, At: at}
	c.audit.append(entry)
	return entry
}

// AuditLog returns a copy of the recent audit lines, oldest first.
func (c *Channel) AuditLog() []AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audit.list()
}
