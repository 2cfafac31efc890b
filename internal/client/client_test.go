package client

import (
	"context"
	"errors"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stagehand/api/internal/auth"
	"stagehand/api/internal/geometry"
	"stagehand/api/internal/realtime"
	"stagehand/api/internal/rbac"
	"stagehand/api/internal/stage"
	"stagehand/api/internal/store"
)

var testSecret = []byte("test-secret")

func startServer(t *testing.T) (string, *realtime.Hub) {
	t.Helper()
	catalog := store.NewMemoryStore(store.DemoAssets(time.Now())...)
	if err := catalog.UpsertMember(context.Background(), store.Member{ChannelSlug: "alice", UserID: "u-op", Role: "operator"}); err != nil {
		t.Fatal(err)
	}
	hub := realtime.NewHub(stage.NewStore(50, 200), catalog, realtime.NewResolver(catalog), realtime.Options{
		Secret:                   testSecret,
		ReleaseLocksOnDisconnect: true,
	})
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub
}

func token(t *testing.T, userID, name string) string {
	t.Helper()
	tok, err := auth.IssueToken(testSecret, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
		Name:             name,
	}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func dial(t *testing.T, url, tok string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, tok)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func join(t *testing.T, c *Client, channel string) stage.State {
	t.Helper()
	if err := c.Join(channel); err != nil {
		t.Fatal(err)
	}
	return nextState(t, c)
}

func nextState(t *testing.T, c *Client) stage.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := c.NextState(ctx)
	if err != nil {
		t.Fatalf("NextState() error = %v", err)
	}
	return s
}

func nextError(t *testing.T, c *Client) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	env, err := c.Next(ctx, realtime.EventError)
	if err != nil {
		t.Fatalf("Next(error) = %v", err)
	}
	var p realtime.ErrorPayload
	if err := env.Decode(&p); err != nil {
		t.Fatal(err)
	}
	return p.Message
}

func only(t *testing.T, s stage.State) stage.Element {
	t.Helper()
	if len(s.Elements) != 1 {
		t.Fatalf("expected 1 element, got %d", len(s.Elements))
	}
	for _, el := range s.Elements {
		return *el
	}
	return stage.Element{}
}

func TestDialReportsIdentity(t *testing.T) {
	url, _ := startServer(t)
	authed := dial(t, url, token(t, "u-alice", "Alice"))
	if !authed.Authenticated() || authed.ConnectionID() == "" {
		t.Fatalf("authenticated client: %v %q", authed.Authenticated(), authed.ConnectionID())
	}
	guest := dial(t, url, "")
	if guest.Authenticated() {
		t.Fatal("guest should not be authenticated")
	}
	bogus := dial(t, url, "not-a-jwt")
	if bogus.Authenticated() {
		t.Fatal("invalid credential should connect as guest")
	}
}

func TestQueryParameterCredential(t *testing.T) {
	url, _ := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url+"?access_token="+token(t, "u-alice", "Alice"), "")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if !c.Authenticated() {
		t.Fatal("access_token query parameter was ignored")
	}
}

func TestEndToEndScenario(t *testing.T) {
	url, hub := startServer(t)
	prod := dial(t, url, token(t, "u-alice", "Alice"))
	op := dial(t, url, token(t, "u-op", "Olga"))
	guest := dial(t, url, "")

	join(t, prod, "alice")
	join(t, op, "alice")
	join(t, guest, "alice")

	if err := guest.AddElement("asset-1", nil); err != nil {
		t.Fatal(err)
	}
	if msg := nextError(t, guest); msg != realtime.MsgUnauthorised {
		t.Fatalf("guest error = %q", msg)
	}

	if err := prod.AddElement("asset-1", nil); err != nil {
		t.Fatal(err)
	}
	el := only(t, nextState(t, prod))
	nextState(t, op)
	nextState(t, guest)

	// Frames on one connection are handled in order, so the checkpoint
	// lands before the kill switch.
	if err := prod.DragStart(el.ID); err != nil {
		t.Fatal(err)
	}
	if err := prod.ToggleLock(); err != nil {
		t.Fatal(err)
	}
	for _, c := range []*Client{prod, op, guest} {
		if !nextState(t, c).Config.Locked {
			t.Fatal("member did not see the kill switch")
		}
	}

	x := 0.9
	if err := op.UpdateElement(el.ID, geometry.Patch{X: &x}); err != nil {
		t.Fatal(err)
	}
	// A rejected frame from the same connection proves the update was handled.
	if err := op.ToggleLock(); err != nil {
		t.Fatal(err)
	}
	if msg := nextError(t, op); msg != realtime.MsgUnauthorised {
		t.Fatalf("operator toggle-lock error = %q", msg)
	}
	if err := prod.Undo(); err != nil {
		t.Fatal(err)
	}
	var states []stage.State
	for _, c := range []*Client{prod, op, guest} {
		s := nextState(t, c)
		if s.Config.Locked {
			t.Fatal("undo should restore an unlocked stage")
		}
		if got := only(t, s).Transform.X; got != 0.5 {
			t.Fatalf("dropped update leaked into state: x=%v", got)
		}
		states = append(states, s)
	}
	for i := 1; i < len(states); i++ {
		if states[i].Version != states[0].Version {
			t.Fatalf("members disagree on version: %d vs %d", states[i].Version, states[0].Version)
		}
	}
	if got := hub.Snapshot("alice").Version; got != states[0].Version {
		t.Fatalf("hub version = %d, broadcast = %d", got, states[0].Version)
	}
}

func TestResizeGestureKeepsAnchor(t *testing.T) {
	url, hub := startServer(t)
	prod := dial(t, url, token(t, "u-alice", "Alice"))
	join(t, prod, "alice")

	start := geometry.Transform{X: 0.4, Y: 0.6, Scale: 1.5, Rotation: 30}
	if err := prod.AddElement("asset-1", &start); err != nil {
		t.Fatal(err)
	}
	el := only(t, nextState(t, prod))

	frame := geometry.Size{Width: 1920, Height: 1080}
	elemSize := geometry.Size{Width: 400, Height: 400}
	anchor := geometry.CornerPosition(el.Transform, elemSize, frame, geometry.TopLeft)

	g := Gesture{Client: prod, Viewport: geometry.Size{Width: 960, Height: 540}}
	steps := []Pointer{{DX: 40, DY: 30}, {DX: 120, DY: 80}, {DX: 0, DY: 0}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.Resize(ctx, el, frame, elemSize, geometry.BottomRight, steps); err != nil {
		t.Fatal(err)
	}

	// Three updates, then the unlock. The lock broadcast was consumed while
	// waiting for the grant.
	var final stage.State
	for i := 0; i < 4; i++ {
		final = nextState(t, prod)
	}
	got := only(t, final)
	if got.LockedBy != "" {
		t.Fatal("gesture should release its lock")
	}
	if math.Abs(got.Transform.Scale-start.Scale) > 1e-9 {
		t.Fatalf("scale = %v after returning to start, want %v", got.Transform.Scale, start.Scale)
	}
	after := geometry.CornerPosition(got.Transform, elemSize, frame, geometry.TopLeft)
	if math.Abs(after.X-anchor.X) > 1e-6 || math.Abs(after.Y-anchor.Y) > 1e-6 {
		t.Fatalf("anchor moved from %+v to %+v", anchor, after)
	}
	if hub.Snapshot("alice").Version != final.Version {
		t.Fatal("client missed a broadcast")
	}
}

func TestRoleFromMembershipTable(t *testing.T) {
	url, _ := startServer(t)
	op := dial(t, url, token(t, "u-op", "Olga"))
	join(t, op, "alice")
	if err := op.ToggleLock(); err != nil {
		t.Fatal(err)
	}
	if msg := nextError(t, op); msg != realtime.MsgUnauthorised {
		t.Fatalf("operator toggle-lock error = %q", msg)
	}
	if rbac.Can(rbac.RoleOperator, rbac.ActionToggleLock) {
		t.Fatal("permission table drifted")
	}
}

func TestUndoAfterGestureLeavesElementUnlocked(t *testing.T) {
	url, hub := startServer(t)
	prod := dial(t, url, token(t, "u-alice", "Alice"))
	op := dial(t, url, token(t, "u-op", "Olga"))
	join(t, prod, "alice")
	join(t, op, "alice")

	if err := prod.AddElement("asset-1", nil); err != nil {
		t.Fatal(err)
	}
	el := only(t, nextState(t, prod))
	nextState(t, op)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g := Gesture{Client: prod, Viewport: geometry.Size{Width: 1920, Height: 1080}}
	if err := g.Drag(ctx, el, []Pointer{{DX: 192, DY: 108}}); err != nil {
		t.Fatal(err)
	}
	if err := prod.Undo(); err != nil {
		t.Fatal(err)
	}

	// lock, update, unlock, undo.
	var restored stage.State
	for i := 0; i < 4; i++ {
		restored = nextState(t, op)
	}
	got := only(t, restored)
	if got.LockedBy != "" {
		t.Fatalf("undo restored a lock held by %q", got.LockedBy)
	}
	if got.Transform.X != 0.5 {
		t.Fatalf("undo should restore the pre-drag position, x=%v", got.Transform.X)
	}

	x := 0.7
	if err := op.UpdateElement(el.ID, geometry.Patch{X: &x}); err != nil {
		t.Fatal(err)
	}
	if moved := only(t, nextState(t, op)); moved.Transform.X != 0.7 {
		t.Fatalf("operator update after undo: x=%v", moved.Transform.X)
	}
	if hub.Snapshot("alice").Elements[el.ID].Transform.X != 0.7 {
		t.Fatal("hub state does not reflect the operator update")
	}
}

func TestGestureAbortsWhenLockIsRefused(t *testing.T) {
	url, hub := startServer(t)
	prod := dial(t, url, token(t, "u-alice", "Alice"))
	op := dial(t, url, token(t, "u-op", "Olga"))
	join(t, prod, "alice")
	join(t, op, "alice")

	if err := prod.AddElement("asset-1", nil); err != nil {
		t.Fatal(err)
	}
	el := only(t, nextState(t, prod))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := op.LockElement(el.ID); err != nil {
		t.Fatal(err)
	}
	if err := op.AwaitLock(ctx, el.ID); err != nil {
		t.Fatalf("operator lock: %v", err)
	}

	g := Gesture{Client: prod, Viewport: geometry.Size{Width: 1920, Height: 1080}}
	err := g.Drag(ctx, el, []Pointer{{DX: 192, DY: 108}, {DX: 384, DY: 216}})
	if !errors.Is(err, ErrLockRefused) {
		t.Fatalf("Drag() error = %v, want ErrLockRefused", err)
	}
	after := hub.Snapshot("alice").Elements[el.ID]
	if after.Transform.X != 0.5 || after.LockedBy != op.ConnectionID() {
		t.Fatalf("refused gesture changed the element: %+v", after)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	url, _ := startServer(t)
	c := dial(t, url, "")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Close()
		}()
	}
	wg.Wait()
	if err := c.Send(realtime.EventUndo, nil); err == nil {
		t.Fatal("send after close should fail")
	}
}
