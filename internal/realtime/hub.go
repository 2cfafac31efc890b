// Package realtime is the collaboration coordinator: it owns websocket
// connections, groups them into per-channel rooms, gates every operation by
// role and broadcasts the resulting stage state.
package realtime

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"stagehand/api/internal/auth"
	"stagehand/api/internal/geometry"
	"stagehand/api/internal/rbac"
	"stagehand/api/internal/stage"
	"stagehand/api/internal/util"
)

// AssetSource hydrates elements on add. A nil asset means not found or not
// approved.
type AssetSource interface {
	GetAsset(ctx context.Context, assetID string) (*stage.Asset, error)
}

type Options struct {
	// Secret verifies bearer credentials presented at the handshake.
	Secret []byte
	// AllowedOrigin is checked against the Origin header; "*" allows all.
	AllowedOrigin string
	// ReleaseLocksOnDisconnect frees every element a connection holds when
	// it leaves its room.
	ReleaseLocksOnDisconnect bool
	// SendBuffer bounds each connection's outbound queue.
	SendBuffer int
}

// Hub tracks connections and rooms. Lock order is channel lock, then mu.
type Hub struct {
	stages   *stage.Store
	assets   AssetSource
	resolver *Resolver
	opts     Options
	now      func() time.Time
	newID    func() string

	mu    sync.Mutex
	rooms map[string]map[string]*Conn
	conns map[string]*Conn
}

func NewHub(stages *stage.Store, assets AssetSource, resolver *Resolver, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if resolver == nil {
		resolver = NewResolver(nil)
	}
	return &Hub{
		stages:   stages,
		assets:   assets,
		resolver: resolver,
		opts:     opts,
		now:      time.Now,
		newID:    func() string { return util.NewID("") },
		rooms:    make(map[string]map[string]*Conn),
		conns:    make(map[string]*Conn),
	}
}

// Conn is one connected client. Its channel and role cache are owned by the
// goroutine reading the client's frames.
type Conn struct {
	id       string
	identity *auth.Identity
	send     chan []byte
	done     chan struct{}
	once     sync.Once

	channel string
	roles   map[string]rbac.Role
}

func (c *Conn) ID() string { return c.id }

// Done is closed when the connection must be torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) kick() {
	c.once.Do(func() { close(c.done) })
}

// enqueue never blocks. A full queue disconnects the client rather than
// dropping the frame, so no member silently diverges.
func (c *Conn) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		log.Printf("realtime: send queue full for %s, disconnecting", c.id)
		c.kick()
	}
}

// Register admits a connection. identity is nil for anonymous clients.
func (h *Hub) Register(identity *auth.Identity) *Conn {
	c := &Conn{
		id:       h.newID(),
		identity: identity,
		send:     make(chan []byte, h.opts.SendBuffer),
		done:     make(chan struct{}),
		roles:    make(map[string]rbac.Role),
	}
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	hello := HelloPayload{ConnectionID: c.id, Authenticated: identity != nil}
	if identity != nil {
		hello.UserID = identity.UserID
	}
	h.sendTo(c, EventHello, hello)
	return c
}

// Unregister removes the connection from its room and the hub.
func (h *Hub) Unregister(c *Conn) {
	h.leave(c)
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	c.kick()
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.kick()
	}
}

// Snapshot returns the current state of a channel without creating it.
func (h *Hub) Snapshot(channelID string) stage.State {
	ch, ok := h.stages.Lookup(channelID)
	if !ok {
		return stage.DefaultState()
	}
	return ch.View()
}

// AuditLog returns a channel's recent audit lines.
func (h *Hub) AuditLog(channelID string) []stage.AuditEntry {
	ch, ok := h.stages.Lookup(channelID)
	if !ok {
		return []stage.AuditEntry{}
	}
	return ch.AuditLog()
}

// Members reports how many connections are in a channel's room.
func (h *Hub) Members(channelID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[channelID])
}

// Handle dispatches one inbound frame. Frames other than join are ignored
// until the connection has joined a channel.
func (h *Hub) Handle(ctx context.Context, c *Conn, env Envelope) {
	if env.Type == EventJoin {
		var p JoinPayload
		if err := env.Decode(&p); err != nil {
			h.sendError(c, MsgMalformedPayload)
			return
		}
		h.join(ctx, c, p.ChannelID)
		return
	}

	action := rbac.Action(env.Type)
	if !rbac.Known(action) {
		log.Printf("realtime: %s sent unknown event %q", c.id, env.Type)
		return
	}
	if c.channel == "" {
		return
	}
	if !rbac.Can(h.roleFor(ctx, c, c.channel), action) {
		h.sendError(c, MsgUnauthorised)
		return
	}

	switch env.Type {
	case EventAddElement:
		var p AddElementPayload
		if err := env.Decode(&p); err != nil {
			h.sendError(c, MsgMalformedPayload)
			return
		}
		h.addElement(ctx, c, p)
	case EventUpdateElement:
		var p UpdateElementPayload
		if err := env.Decode(&p); err != nil {
			h.sendError(c, MsgMalformedPayload)
			return
		}
		h.updateElement(c, p)
	case EventClear:
		h.clear(c)
	case EventUndo:
		h.undo(c)
	case EventToggleLock:
		h.toggleLock(c)
	default:
		var p ElementPayload
		if err := env.Decode(&p); err != nil {
			h.sendError(c, MsgMalformedPayload)
			return
		}
		switch env.Type {
		case EventRemoveElement:
			h.removeElement(c, p.InstanceID)
		case EventLockElement:
			h.lockElement(c, p.InstanceID)
		case EventUnlockElement:
			h.unlockElement(c, p.InstanceID)
		case EventDragStart:
			h.dragStart(c, p.InstanceID)
		}
	}
}

func (h *Hub) roleFor(ctx context.Context, c *Conn, channelID string) rbac.Role {
	if role, ok := c.roles[channelID]; ok {
		return role
	}
	role := h.resolver.Resolve(ctx, c.identity, channelID)
	c.roles[channelID] = role
	return role
}

func (h *Hub) join(ctx context.Context, c *Conn, channelID string) {
	if channelID == "" {
		return
	}
	if c.channel != "" && c.channel != channelID {
		h.leave(c)
	}
	// Resolve before taking the channel lock; the result is cached.
	role := h.roleFor(ctx, c, channelID)

	ch := h.stages.GetOrCreate(channelID)
	ch.Lock()
	defer ch.Unlock()

	h.mu.Lock()
	room, ok := h.rooms[channelID]
	if !ok {
		room = make(map[string]*Conn)
		h.rooms[channelID] = room
	}
	room[c.id] = c
	h.mu.Unlock()
	c.channel = channelID

	log.Printf("realtime: %s joined stage %s as %s", c.id, channelID, role)
	h.sendTo(c, EventStageUpdate, StageUpdatePayload{State: ch.Snapshot()})
	h.audit(ch, c, "User joined")
}

// leave drops c from its room and, when configured, releases its locks.
func (h *Hub) leave(c *Conn) {
	channelID := c.channel
	if channelID == "" {
		return
	}
	c.channel = ""

	ch := h.stages.GetOrCreate(channelID)
	ch.Lock()
	defer ch.Unlock()

	h.mu.Lock()
	if room, ok := h.rooms[channelID]; ok {
		delete(room, c.id)
		if len(room) == 0 {
			delete(h.rooms, channelID)
		}
	}
	h.mu.Unlock()

	if !h.opts.ReleaseLocksOnDisconnect {
		return
	}
	released := ch.ReleaseAll(c.id)
	if len(released) == 0 {
		return
	}
	log.Printf("realtime: released %d lock(s) held by %s on %s", len(released), c.id, channelID)
	h.broadcastState(ch)
	for _, id := range released {
		h.broadcast(channelID, EventElementUnlocked, ElementUnlockedPayload{InstanceID: id})
	}
}

func (h *Hub) addElement(ctx context.Context, c *Conn, p AddElementPayload) {
	ch := h.stages.GetOrCreate(c.channel)

	ch.Lock()
	locked := ch.Locked()
	ch.Unlock()
	if locked {
		h.sendError(c, MsgStageLocked)
		return
	}

	asset, err := h.assets.GetAsset(ctx, p.AssetID)
	if err != nil {
		log.Printf("realtime: fetch asset %s: %v", p.AssetID, err)
		return
	}
	if asset == nil {
		log.Printf("realtime: asset %s not found or not approved", p.AssetID)
		return
	}
	t := geometry.DefaultTransform()
	if p.Transform != nil {
		t = *p.Transform
	}

	ch.Lock()
	defer ch.Unlock()
	// The kill switch may have flipped while the asset was being fetched.
	if _, err := ch.Add(h.newID(), *asset, t); err != nil {
		h.reject(c, ch, err)
		return
	}
	h.broadcastState(ch)
	h.audit(ch, c, "Added element "+asset.Filename)
}

func (h *Hub) updateElement(c *Conn, p UpdateElementPayload) {
	ch := h.stages.GetOrCreate(c.channel)
	ch.Lock()
	defer ch.Unlock()

	err := ch.Update(p.InstanceID, c.id, p.Transform)
	switch {
	case errors.Is(err, stage.ErrStageLocked):
		// Drags stream many updates; a locked stage drops them quietly.
		return
	case err != nil:
		h.reject(c, ch, err)
		return
	}
	h.broadcastState(ch)
}

func (h *Hub) removeElement(c *Conn, instanceID string) {
	ch := h.stages.GetOrCreate(c.channel)
	ch.Lock()
	defer ch.Unlock()

	removed, err := ch.Remove(instanceID, c.id)
	if err != nil {
		h.reject(c, ch, err)
		return
	}
	h.broadcastState(ch)
	h.audit(ch, c, "Removed "+removed.Asset.Filename)
}

func (h *Hub) lockElement(c *Conn, instanceID string) {
	ch := h.stages.GetOrCreate(c.channel)
	ch.Lock()
	defer ch.Unlock()

	if err := ch.LockElement(instanceID, c.id); err != nil {
		h.reject(c, ch, err)
		return
	}
	h.broadcastState(ch)
	h.broadcast(ch.ID(), EventElementLocked, ElementLockedPayload{InstanceID: instanceID, HolderID: c.id})
}

func (h *Hub) unlockElement(c *Conn, instanceID string) {
	ch := h.stages.GetOrCreate(c.channel)
	ch.Lock()
	defer ch.Unlock()

	if !ch.UnlockElement(instanceID, c.id) {
		return
	}
	h.broadcastState(ch)
	h.broadcast(ch.ID(), EventElementUnlocked, ElementUnlockedPayload{InstanceID: instanceID})
}

func (h *Hub) dragStart(c *Conn, instanceID string) {
	ch := h.stages.GetOrCreate(c.channel)
	ch.Lock()
	defer ch.Unlock()

	if err := ch.Checkpoint(); err != nil && !errors.Is(err, stage.ErrStageLocked) {
		log.Printf("realtime: checkpoint %s before dragging %s: %v", ch.ID(), instanceID, err)
	}
}

func (h *Hub) clear(c *Conn) {
	ch := h.stages.GetOrCreate(c.channel)
	ch.Lock()
	defer ch.Unlock()

	if err := ch.Clear(); err != nil {
		h.reject(c, ch, err)
		return
	}
	h.broadcastState(ch)
	h.audit(ch, c, "Cleared stage")
}

func (h *Hub) undo(c *Conn) {
	ch := h.stages.GetOrCreate(c.channel)
	ch.Lock()
	defer ch.Unlock()

	ok, err := ch.Undo()
	if err != nil {
		log.Printf("realtime: undo on %s: %v", ch.ID(), err)
		return
	}
	if !ok {
		return
	}
	// A restored snapshot can name holders who have since left the room.
	released := ch.ReleaseStale(func(holder string) bool { return h.inRoom(ch.ID(), holder) })
	h.broadcastState(ch)
	for _, id := range released {
		h.broadcast(ch.ID(), EventElementUnlocked, ElementUnlockedPayload{InstanceID: id})
	}
	h.audit(ch, c, "Undid last action")
}

func (h *Hub) toggleLock(c *Conn) {
	ch := h.stages.GetOrCreate(c.channel)
	ch.Lock()
	defer ch.Unlock()

	message := "UNLOCKED STAGE"
	if ch.ToggleLock() {
		message = "LOCKED STAGE (KILL SWITCH)"
	}
	h.broadcastState(ch)
	h.audit(ch, c, message)
}

// reject maps a stage error onto a caller-only error frame. Missing
// elements are only logged.
func (h *Hub) reject(c *Conn, ch *stage.Channel, err error) {
	switch {
	case errors.Is(err, stage.ErrStageLocked):
		h.sendError(c, MsgStageLocked)
	case errors.Is(err, stage.ErrElementLocked):
		h.sendError(c, MsgElementLocked)
	case errors.Is(err, stage.ErrAlreadyLocked):
		h.sendError(c, MsgAlreadyLocked)
	case errors.Is(err, stage.ErrNotFound):
		log.Printf("realtime: %s referenced a missing element on %s", c.id, ch.ID())
	default:
		log.Printf("realtime: %s on %s: %v", c.id, ch.ID(), err)
	}
}

func (h *Hub) inRoom(channelID, connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.rooms[channelID][connID]
	return ok
}

// audit records a line and sends it to the room. Caller holds the channel lock.
func (h *Hub) audit(ch *stage.Channel, c *Conn, message string) {
	entry := ch.Record(message, c.id, h.now())
	log.Printf("realtime: [%s] %s (%s)", ch.ID(), entry.Message, entry.ActorID)
	h.broadcast(ch.ID(), EventLog, LogPayload{Message: entry.Message, ActorID: entry.ActorID})
}

// broadcastState sends the full state to the room. Caller holds the channel lock.
func (h *Hub) broadcastState(ch *stage.Channel) {
	h.broadcast(ch.ID(), EventStageUpdate, StageUpdatePayload{State: ch.Snapshot()})
}

func (h *Hub) broadcast(channelID, eventType string, payload any) {
	msg, err := Encode(eventType, payload)
	if err != nil {
		log.Printf("realtime: %v", err)
		return
	}
	h.mu.Lock()
	members := make([]*Conn, 0, len(h.rooms[channelID]))
	for _, m := range h.rooms[channelID] {
		members = append(members, m)
	}
	h.mu.Unlock()
	for _, m := range members {
		m.enqueue(msg)
	}
}

func (h *Hub) sendTo(c *Conn, eventType string, payload any) {
	msg, err := Encode(eventType, payload)
	if err != nil {
		log.Printf("realtime: %v", err)
		return
	}
	c.enqueue(msg)
}

func (h *Hub) sendError(c *Conn, message string) {
	h.sendTo(c, EventError, ErrorPayload{Message: message})
}
