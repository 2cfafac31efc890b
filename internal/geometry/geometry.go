// Package geometry maps raw pointer input onto stage transform updates.
//
// Positions live in two spaces: normalized stage space, where an element's
// centre is expressed as a fraction of the reference frame, and reference
// pixel space, the fixed virtual canvas (1920x1080 by default) that
// normalized coordinates map onto. Resize math happens in reference pixels
// so that rotation is applied to undistorted offsets.
package geometry

import (
	"errors"
	"math"
)

// MinScale is the smallest scale a gesture may produce.
const MinScale = 0.1

var ErrDegenerate = errors.New("geometry: degenerate element size")

// Transform places an element on the stage. X and Y are the normalized
// centre, Scale multiplies the element's native size, Rotation is in degrees
// and is never wrapped.
type Transform struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"`
}

// DefaultTransform centres an element at native size.
func DefaultTransform() Transform {
	return Transform{X: 0.5, Y: 0.5, Scale: 1, Rotation: 0}
}

// Patch is a partial Transform; nil fields are left untouched when applied.
type Patch struct {
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Scale    *float64 `json:"scale,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
}

// Apply returns t with every non-nil field of p merged over it.
func (p Patch) Apply(t Transform) Transform {
	if p.X != nil {
		t.X = *p.X
	}
	if p.Y != nil {
		t.Y = *p.Y
	}
	if p.Scale != nil {
		t.Scale = *p.Scale
	}
	if p.Rotation != nil {
		t.Rotation = *p.Rotation
	}
	return t
}

type Point struct {
	X float64
	Y float64
}

func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }
func (p Point) Mul(k float64) Point { return Point{X: p.X * k, Y: p.Y * k} }
func (p Point) Dot(q Point) float64 { return p.X*q.X + p.Y*q.Y }
func (p Point) Rotate(deg float64) Point {
	rad := deg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	return Point{X: p.X*cos - p.Y*sin, Y: p.X*sin + p.Y*cos}
}

type Size struct {
	Width  float64
	Height float64
}

// Rect is an on-screen viewport rectangle in client pixels.
type Rect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// ScreenToStage converts a client pointer position into reference pixels
// for a stage rendered inside viewport.
func ScreenToStage(client Point, viewport Rect, frame Size) Point {
	if viewport.Width == 0 || viewport.Height == 0 {
		return Point{}
	}
	nx := (client.X - viewport.Left) / viewport.Width
	ny := (client.Y - viewport.Top) / viewport.Height
	return Point{X: nx * frame.Width, Y: ny * frame.Height}
}

// ToNormalized converts reference pixels into normalized stage space.
func ToNormalized(p Point, frame Size) Point {
	if frame.Width == 0 || frame.Height == 0 {
		return Point{}
	}
	return Point{X: p.X / frame.Width, Y: p.Y / frame.Height}
}

// Centre returns t's centre in reference pixels.
func Centre(t Transform, frame Size) Point {
	return Point{X: t.X * frame.Width, Y: t.Y * frame.Height}
}

// Corner names a resize handle.
type Corner string

const (
	TopLeft     Corner = "tl"
	TopRight    Corner = "tr"
	BottomLeft  Corner = "bl"
	BottomRight Corner = "br"
)

// Opposite returns the diagonal corner held fixed while c is dragged.
func (c Corner) Opposite() Corner {
	switch c {
	case TopLeft:
		return BottomRight
	case TopRight:
		return BottomLeft
	case BottomLeft:
		return TopRight
	case BottomRight:
		return TopLeft
	default:
		return ""
	}
}

func (c Corner) Valid() bool {
	return c.Opposite() != ""
}

// offset is the unrotated offset of corner c from the centre of an element
// of native size elem drawn at the given scale.
func (c Corner) offset(elem Size, scale float64) Point {
	hw := elem.Width * scale / 2
	hh := elem.Height * scale / 2
	switch c {
	case TopLeft:
		return Point{X: -hw, Y: -hh}
	case TopRight:
		return Point{X: hw, Y: -hh}
	case BottomLeft:
		return Point{X: -hw, Y: hh}
	default:
		return Point{X: hw, Y: hh}
	}
}

// CornerPosition returns where corner c of an element with native size elem
// sits in reference pixels, rotation included.
func CornerPosition(t Transform, elem Size, frame Size, c Corner) Point {
	return Centre(t, frame).Add(c.offset(elem, t.Scale).Rotate(t.Rotation))
}

// Drag translates the element by a client-pixel pointer delta measured
// against a viewport of the given on-screen size.
func Drag(start Transform, dx, dy float64, viewport Size) Patch {
	if viewport.Width == 0 || viewport.Height == 0 {
		return Patch{}
	}
	x := start.X + dx/viewport.Width
	y := start.Y + dy/viewport.Height
	return Patch{X: &x, Y: &y}
}

// Rotate adds the raw horizontal pointer delta, in pixels, to the starting
// rotation. One pixel is one degree.
func Rotate(start Transform, dx float64) Patch {
	r := start.Rotation + dx
	return Patch{Rotation: &r}
}

// Resize holds the state of one corner-resize gesture. The anchor corner
// stays put; the dragged handle follows the pointer projected onto the
// original diagonal, which preserves aspect ratio and rotation.
type Resize struct {
	anchor     Point
	diagonal   Point
	startScale float64
	frame      Size
}

// BeginResize captures the gesture state when handle is grabbed.
func BeginResize(t Transform, handle Corner, elem Size, frame Size) (Resize, error) {
	if !handle.Valid() {
		return Resize{}, errors.New("geometry: unknown resize handle")
	}
	anchor := CornerPosition(t, elem, frame, handle.Opposite())
	grip := CornerPosition(t, elem, frame, handle)
	diagonal := grip.Sub(anchor)
	if diagonal.Dot(diagonal) == 0 {
		return Resize{}, ErrDegenerate
	}
	return Resize{
		anchor:     anchor,
		diagonal:   diagonal,
		startScale: t.Scale,
		frame:      frame,
	}, nil
}

// Anchor is the fixed corner in reference pixels.
func (r Resize) Anchor() Point {
	return r.anchor
}

// Handle is the grabbed corner's position when the gesture started.
func (r Resize) Handle() Point {
	return r.anchor.Add(r.diagonal)
}

// Update computes the scale and centre for a pointer at the given
// reference-pixel position. The centre is derived from the clamped scale so
// the anchor corner never moves, even when the floor kicks in.
func (r Resize) Update(pointer Point) Patch {
	ratio := pointer.Sub(r.anchor).Dot(r.diagonal) / r.diagonal.Dot(r.diagonal)
	scale := math.Max(MinScale, r.startScale*ratio)
	if r.startScale > 0 {
		ratio = scale / r.startScale
	}
	centre := ToNormalized(r.anchor.Add(r.diagonal.Mul(ratio/2)), r.frame)
	return Patch{X: &centre.X, Y: &centre.Y, Scale: &scale}
}
