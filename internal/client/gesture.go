package client

import (
	"context"
	"fmt"

	"stagehand/api/internal/geometry"
	"stagehand/api/internal/stage"
)

// Pointer is a screen-space pointer displacement from the gesture start.
type Pointer struct {
	DX, DY float64
}

// Gesture plays a drag, resize or rotate the way an editing surface would:
// checkpoint, lock, stream updates, unlock.
//
// The checkpoint is taken before the lock so that undoing the gesture never
// restores an element held by this connection.
type Gesture struct {
	Client   *Client
	Viewport geometry.Size
}

// begin returns once the server has granted the lock. A refused lock ends
// the gesture before any update is sent.
func (g Gesture) begin(ctx context.Context, el stage.Element) error {
	if err := g.Client.DragStart(el.ID); err != nil {
		return err
	}
	if err := g.Client.LockElement(el.ID); err != nil {
		return err
	}
	return g.Client.AwaitLock(ctx, el.ID)
}

// stream sends each patch and always releases the lock afterwards.
func (g Gesture) stream(ctx context.Context, el stage.Element, patches []geometry.Patch) (err error) {
	if err := g.begin(ctx, el); err != nil {
		return err
	}
	defer func() {
		if unlockErr := g.Client.UnlockElement(el.ID); err == nil {
			err = unlockErr
		}
	}()
	for _, p := range patches {
		if err := g.Client.UpdateElement(el.ID, p); err != nil {
			return err
		}
	}
	return nil
}

// Drag moves el by each pointer offset in turn.
func (g Gesture) Drag(ctx context.Context, el stage.Element, steps []Pointer) error {
	patches := make([]geometry.Patch, len(steps))
	for i, p := range steps {
		patches[i] = geometry.Drag(el.Transform, p.DX, p.DY, g.Viewport)
	}
	return g.stream(ctx, el, patches)
}

// Rotate turns el by each horizontal pointer offset in turn.
func (g Gesture) Rotate(ctx context.Context, el stage.Element, steps []Pointer) error {
	patches := make([]geometry.Patch, len(steps))
	for i, p := range steps {
		patches[i] = geometry.Rotate(el.Transform, p.DX)
	}
	return g.stream(ctx, el, patches)
}

// Resize drags corner handle of el, holding the opposite corner fixed.
// steps are offsets of the pointer from the handle's starting position,
// in stage pixels.
func (g Gesture) Resize(ctx context.Context, el stage.Element, frame, elemSize geometry.Size, handle geometry.Corner, steps []Pointer) error {
	rs, err := geometry.BeginResize(el.Transform, handle, elemSize, frame)
	if err != nil {
		return fmt.Errorf("resize %s: %w", el.ID, err)
	}
	start := rs.Handle()
	patches := make([]geometry.Patch, len(steps))
	for i, p := range steps {
		patches[i] = rs.Update(start.Add(geometry.Point{X: p.DX, Y: p.DY}))
	}
	return g.stream(ctx, el, patches)
}
