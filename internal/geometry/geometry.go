// Package geometry holds the pure transform math used to place a photo behind a
// frame window: cover-fit scaling, pan clamping and zoom about a fixed point.
package geometry

import (
	"image"
	"math"
)

// MaxZoom bounds how far past the cover scale a photo may be magnified.
const MaxZoom = 5.0

// Point is a position in canvas pixels.
type Point struct {
	X float64
	Y float64
}

// Midpoint returns the point halfway between p and q.
func Midpoint(p, q Point) Point {
	return Point{X: (p.X + q.X) / 2, Y: (p.Y + q.Y) / 2}
}

// Distance returns the euclidean distance between p and q.
func Distance(p, q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// Size is the pixel size of a source photo.
type Size struct {
	Width  float64
	Height float64
}

// SizeOf reports the dimensions of b.
func SizeOf(b image.Rectangle) Size {
	return Size{Width: float64(b.Dx()), Height: float64(b.Dy())}
}

// Empty reports whether either dimension is not positive.
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Window is the region of the output canvas where the photo shows through the frame.
type Window struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Rect converts w to an integer rectangle.
func (w Window) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(w.X)),
		int(math.Round(w.Y)),
		int(math.Round(w.X+w.Width)),
		int(math.Round(w.Y+w.Height)),
	)
}

// Center returns the center of w.
func (w Window) Center() Point {
	return Point{X: w.X + w.Width/2, Y: w.Y + w.Height/2}
}

// Transform maps a source photo onto the canvas: the photo's top-left corner sits at
// (OffsetX, OffsetY) and every source pixel is Scale canvas pixels wide.
type Transform struct {
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	Scale   float64 `json:"scale"`
}

// CoverScale returns the smallest scale at which a photo of the given size fully covers w.
func CoverScale(photoW, photoH float64, w Window) float64 {
	return math.Max(w.Width/photoW, w.Height/photoH)
}

// CenterOffset returns the offset that centers a photo scaled by scale inside w.
func CenterOffset(photoW, photoH, scale float64, w Window) (float64, float64) {
	return w.X + (w.Width-photoW*scale)/2, w.Y + (w.Height-photoH*scale)/2
}

// Fit returns the initial transform for a freshly selected photo: cover scale, centered.
func Fit(photo Size, w Window) Transform {
	scale := CoverScale(photo.Width, photo.Height, w)
	x, y := CenterOffset(photo.Width, photo.Height, scale, w)
	return Transform{OffsetX: x, OffsetY: y, Scale: scale}
}

// Clamp moves the offset of t so the scaled photo rectangle contains w on both axes.
// When the photo is smaller than the window on an axis the offset collapses to the
// window's leading edge.
func Clamp(t Transform, photoW, photoH float64, w Window) Transform {
	t.OffsetX = clampAxis(t.OffsetX, w.X, w.Width, photoW*t.Scale)
	t.OffsetY = clampAxis(t.OffsetY, w.Y, w.Height, photoH*t.Scale)
	return t
}

func clampAxis(offset, start, length, scaled float64) float64 {
	lo := start + length - scaled
	return math.Min(start, math.Max(lo, offset))
}

// ClampScale bounds scale to [minScale, minScale*MaxZoom].
func ClampScale(scale, minScale float64) float64 {
	return math.Max(minScale, math.Min(minScale*MaxZoom, scale))
}

// ZoomAbout multiplies the scale of t by factor, bounded by ClampScale, keeping the photo
// pixel under p at the same canvas position. The result is not pan-clamped.
func ZoomAbout(t Transform, p Point, factor, minScale float64) Transform {
	if t.Scale <= 0 {
		return t
	}
	newScale := ClampScale(t.Scale*factor, minScale)
	ratio := newScale / t.Scale

	t.OffsetX = p.X - (p.X-t.OffsetX)*ratio
	t.OffsetY = p.Y - (p.Y-t.OffsetY)*ratio
	t.Scale = newScale
	return t
}

// Covers reports whether the photo placed by t contains w, within eps.
func Covers(t Transform, photoW, photoH float64, w Window, eps float64) bool {
	right := t.OffsetX + photoW*t.Scale
	bottom := t.OffsetY + photoH*t.Scale
	return t.OffsetX <= w.X+eps &&
		t.OffsetY <= w.Y+eps &&
		right >= w.X+w.Width-eps &&
		bottom >= w.Y+w.Height-eps
}

// ToPhoto maps a canvas point to source photo coordinates under t.
func ToPhoto(t Transform, p Point) Point {
	return Point{X: (p.X - t.OffsetX) / t.Scale, Y: (p.Y - t.OffsetY) / t.Scale}
}
