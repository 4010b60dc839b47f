package frame

import (
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"github.com/dunamismax/flagbooth/internal/location"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

const (
	borderWidth  = 3
	cornerLength = 30
	cornerWidth  = 3
)

// opentype faces keep glyph caches and are not safe for concurrent use.
var textMu sync.Mutex

// Generate draws the branded overlay for loc in format f: a solid frame with a
// transparent photo window, a gold window border, corner marks, header text
// above the window and footer text below it.
func Generate(loc location.Location, f Format) *image.NRGBA {
	spec := f.Spec()
	in := spec.Insets
	img := image.NewNRGBA(image.Rect(0, 0, spec.Width, spec.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(ColorGreen), image.Point{}, draw.Src)

	win := image.Rect(in.Left, in.Top, spec.Width-in.Right, spec.Height-in.Bottom)
	draw.Draw(img, win, image.Transparent, image.Point{}, draw.Src)

	strokeOutside(img, win, borderWidth, ColorGold)
	drawCorners(img, win)

	fs := loadFaces()
	cx := spec.Width / 2
	top := in.Top / 2
	bottom := spec.Height - in.Bottom + in.Bottom/2

	textMu.Lock()
	defer textMu.Unlock()
	drawCentered(img, fs.header, ColorGold, "CAPTURE THE FLAG", cx, top-20)
	drawCentered(img, fs.location, ColorText, strings.ToUpper(loc.Name), cx, top+16)
	if loc.Country != "" {
		drawCentered(img, fs.pairing, ColorTextDim, "Paired with "+loc.Country, cx, top+44)
	}
	if loc.Tagline != "" {
		drawCentered(img, fs.tagline, ColorTextDim, "“"+loc.Tagline+"”", cx, bottom-30)
	}
	drawCentered(img, fs.slogan, ColorGold, "WORLD WELCOME TO ATLANTA", cx, bottom+10)
	drawCentered(img, fs.footer, ColorTextDim, "SHOWCASE ATLANTA  •  2026", cx, bottom+38)
	return img
}

// strokeOutside paints a band of width w hugging r from the outside.
func strokeOutside(img draw.Image, r image.Rectangle, w int, c color.Color) {
	src := image.NewUniform(c)
	outer := r.Inset(-w)
	bands := []image.Rectangle{
		image.Rect(outer.Min.X, outer.Min.Y, outer.Max.X, r.Min.Y),
		image.Rect(outer.Min.X, r.Max.Y, outer.Max.X, outer.Max.Y),
		image.Rect(outer.Min.X, r.Min.Y, r.Min.X, r.Max.Y),
		image.Rect(r.Max.X, r.Min.Y, outer.Max.X, r.Max.Y),
	}
	for _, b := range bands {
		draw.Draw(img, b, src, image.Point{}, draw.Src)
	}
}

func drawCorners(img draw.Image, win image.Rectangle) {
	src := image.NewUniform(ColorGold)
	x0, y0 := win.Min.X-cornerWidth, win.Min.Y-cornerWidth
	x1, y1 := win.Max.X, win.Max.Y
	rects := []image.Rectangle{
		image.Rect(x0, y0, x0+cornerLength, y0+cornerWidth),
		image.Rect(x0, y0, x0+cornerWidth, y0+cornerLength),
		image.Rect(x1-cornerLength+cornerWidth, y0, x1+cornerWidth, y0+cornerWidth),
		image.Rect(x1, y0, x1+cornerWidth, y0+cornerLength),
		image.Rect(x0, y1, x0+cornerLength, y1+cornerWidth),
		image.Rect(x0, y1-cornerLength+cornerWidth, x0+cornerWidth, y1+cornerWidth),
		image.Rect(x1-cornerLength+cornerWidth, y1, x1+cornerWidth, y1+cornerWidth),
		image.Rect(x1, y1-cornerLength+cornerWidth, x1+cornerWidth, y1+cornerWidth),
	}
	for _, r := range rects {
		draw.Draw(img, r, src, image.Point{}, draw.Src)
	}
}

// drawCentered renders s horizontally centered on cx with its vertical middle at cy.
func drawCentered(dst draw.Image, face font.Face, c color.Color, s string, cx, cy int) {
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(c), Face: face}
	m := face.Metrics()
	width := d.MeasureString(s)
	baseline := fixed.I(cy) + (m.Ascent-m.Descent)/2
	d.Dot = fixed.Point26_6{X: fixed.I(cx) - width/2, Y: baseline}
	d.DrawString(s)
}
