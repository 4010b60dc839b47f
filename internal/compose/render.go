package compose

import (
	"image"
	"image/draw"

	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/geometry"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Quality selects the resampling kernel used to scale the photo.
type Quality int

const (
	// QualityPreview favors speed for interactive redraws.
	QualityPreview Quality = iota
	// QualityExport is used for the final image.
	QualityExport
)

func (q Quality) interpolator() xdraw.Interpolator {
	if q == QualityExport {
		return xdraw.CatmullRom
	}
	return xdraw.ApproxBiLinear
}

// Scene is everything one frame of output depends on.
type Scene struct {
	Window    geometry.Window
	Photo     image.Image
	Transform geometry.Transform
	Overlay   image.Image
}

func NewCanvas(f frame.Format) *image.RGBA {
	spec := f.Spec()
	return image.NewRGBA(image.Rect(0, 0, spec.Width, spec.Height))
}

// Render redraws dst from scratch: background, then the photo clipped to the
// window (or the placeholder without one), then the overlay across the whole
// canvas.
func Render(dst *image.RGBA, s Scene, q Quality) {
	bounds := dst.Bounds()
	draw.Draw(dst, bounds, image.NewUniform(frame.ColorGreen), image.Point{}, draw.Src)

	win := s.Window.Rect().Intersect(bounds)
	if s.Photo != nil && !s.Photo.Bounds().Empty() {
		drawPhoto(dst.SubImage(win).(*image.RGBA), s.Photo, s.Transform, q)
	} else if !win.Empty() {
		draw.Draw(dst, win, image.NewUniform(frame.ColorGreenDark), image.Point{}, draw.Src)
	}

	if s.Overlay == nil {
		return
	}
	ob := s.Overlay.Bounds()
	if ob.Dx() == bounds.Dx() && ob.Dy() == bounds.Dy() {
		draw.Draw(dst, bounds, s.Overlay, ob.Min, draw.Over)
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, bounds, s.Overlay, ob, xdraw.Over, nil)
}

func drawPhoto(clip *image.RGBA, photo image.Image, t geometry.Transform, q Quality) {
	sr := photo.Bounds()
	s2d := f64.Aff3{
		t.Scale, 0, t.OffsetX - t.Scale*float64(sr.Min.X),
		0, t.Scale, t.OffsetY - t.Scale*float64(sr.Min.Y),
	}
	q.interpolator().Transform(clip, s2d, photo, sr, xdraw.Over, nil)
}

// Composite renders a fresh canvas for format f.
func Composite(f frame.Format, photo image.Image, t geometry.Transform, overlay image.Image, q Quality) *image.RGBA {
	canvas := NewCanvas(f)
	Render(canvas, Scene{Window: f.Window(), Photo: photo, Transform: t, Overlay: overlay}, q)
	return canvas
}
