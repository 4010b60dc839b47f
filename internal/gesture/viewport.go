package gesture

import "github.com/dunamismax/flagbooth/internal/geometry"

// Viewport describes where a canvas is displayed so that display coordinates can be
// converted into canvas pixels.
type Viewport struct {
	Left          float64
	Top           float64
	DisplayWidth  float64
	DisplayHeight float64
	CanvasWidth   float64
	CanvasHeight  float64
}

// ToCanvas maps a display position to canvas pixels. A viewport without a display size
// is treated as 1:1.
func (v Viewport) ToCanvas(clientX, clientY float64) geometry.Point {
	scaleX, scaleY := 1.0, 1.0
	if v.DisplayWidth > 0 && v.CanvasWidth > 0 {
		scaleX = v.CanvasWidth / v.DisplayWidth
	}
	if v.DisplayHeight > 0 && v.CanvasHeight > 0 {
		scaleY = v.CanvasHeight / v.DisplayHeight
	}
	return geometry.Point{
		X: (clientX - v.Left) * scaleX,
		Y: (clientY - v.Top) * scaleY,
	}
}
