package compose

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/geometry"
	"github.com/dunamismax/flagbooth/internal/location"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func near(got color.RGBA, want color.NRGBA, tol int) bool {
	d := func(a, b uint8) bool {
		diff := int(a) - int(b)
		return diff <= tol && diff >= -tol
	}
	return d(got.R, want.R) && d(got.G, want.G) && d(got.B, want.B) && d(got.A, want.A)
}

func TestRenderPlaceholderWithoutPhoto(t *testing.T) {
	canvas := NewCanvas(frame.FormatSquare)
	win := frame.FormatSquare.Window()
	Render(canvas, Scene{Window: win}, QualityPreview)

	if c := canvas.RGBAAt(500, 500); !near(c, frame.ColorGreenDark, 0) {
		t.Fatalf("expected placeholder inside window, got %+v", c)
	}
	if c := canvas.RGBAAt(10, 10); !near(c, frame.ColorGreen, 0) {
		t.Fatalf("expected background outside window, got %+v", c)
	}
}

func TestRenderClipsPhotoToWindow(t *testing.T) {
	red := color.NRGBA{R: 220, G: 20, B: 20, A: 255}
	photo := solid(2000, 1000, red)
	win := frame.FormatSquare.Window()
	tr := geometry.Fit(geometry.SizeOf(photo.Bounds()), win)

	canvas := NewCanvas(frame.FormatSquare)
	Render(canvas, Scene{Window: win, Photo: photo, Transform: tr}, QualityPreview)

	r := win.Rect()
	for _, p := range []image.Point{r.Min, {r.Max.X - 1, r.Max.Y - 1}, {540, 520}} {
		if c := canvas.RGBAAt(p.X, p.Y); !near(c, red, 1) {
			t.Fatalf("expected photo at %v, got %+v", p, c)
		}
	}
	for _, p := range []image.Point{{r.Min.X - 1, 520}, {540, r.Min.Y - 1}, {r.Max.X, 520}, {540, r.Max.Y}} {
		if c := canvas.RGBAAt(p.X, p.Y); !near(c, frame.ColorGreen, 0) {
			t.Fatalf("photo leaked outside window at %v: %+v", p, c)
		}
	}
}

func TestRenderHonorsOffsetAndSourceOrigin(t *testing.T) {
	src := solid(400, 400, color.RGBA{B: 255, A: 255})
	draw.Draw(src, image.Rect(200, 0, 400, 400), image.NewUniform(color.RGBA{R: 255, A: 255}), image.Point{}, draw.Src)
	photo := src.SubImage(image.Rect(100, 0, 400, 400))

	win := geometry.Window{X: 0, Y: 0, Width: 300, Height: 400}
	canvas := image.NewRGBA(image.Rect(0, 0, 300, 400))
	Render(canvas, Scene{Window: win, Photo: photo, Transform: geometry.Transform{Scale: 1}}, QualityPreview)

	if c := canvas.RGBAAt(50, 200); c.B != 255 || c.R != 0 {
		t.Fatalf("expected blue half on the left, got %+v", c)
	}
	if c := canvas.RGBAAt(250, 200); c.R != 255 || c.B != 0 {
		t.Fatalf("expected red half on the right, got %+v", c)
	}
}

func TestRenderDrawsOverlayUnclipped(t *testing.T) {
	loc := location.Location{Slug: "west-end", Name: "West End"}
	overlay := frame.Generate(loc, frame.FormatPortrait)
	photo := solid(800, 800, color.White)
	win := frame.FormatPortrait.Window()

	canvas := Composite(frame.FormatPortrait, photo, geometry.Fit(geometry.SizeOf(photo.Bounds()), win), overlay, QualityExport)
	r := win.Rect()
	if c := canvas.RGBAAt(r.Min.X-1, (r.Min.Y+r.Max.Y)/2); !near(c, frame.ColorGold, 0) {
		t.Fatalf("expected overlay border, got %+v", c)
	}
	if c := canvas.RGBAAt(540, 675); !near(c, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, 1) {
		t.Fatalf("expected photo through the window, got %+v", c)
	}
}

func TestEncodeAndDataURL(t *testing.T) {
	img := solid(1080, 1350, color.RGBA{R: 10, G: 200, B: 30, A: 255})

	data, err := EncodeBytes(img, "jpg", ExportQuality)
	if err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}

	pngData, err := EncodeBytes(img, "png", 0)
	if err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(pngData)); err != nil {
		t.Fatalf("decode png: %v", err)
	}

	if _, err := EncodeBytes(img, "tiff", 0); err == nil {
		t.Fatalf("expected unsupported format error")
	}

	url, err := DataURL(img)
	if err != nil {
		t.Fatalf("data url: %v", err)
	}
	const prefix = "data:image/jpeg;base64,"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("unexpected data url prefix: %.40s", url)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	thumb, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if thumb.Bounds().Dx() != 480 || thumb.Bounds().Dy() != 600 {
		t.Fatalf("unexpected thumbnail size %v", thumb.Bounds())
	}
}

func TestThumbnailKeepsSmallImages(t *testing.T) {
	img := solid(300, 200, color.Black)
	if got := Thumbnail(img, ThumbnailWidth); got != image.Image(img) {
		t.Fatalf("expected unchanged image")
	}
}

func TestDecodePhotoRejectsGarbage(t *testing.T) {
	if _, _, err := DecodePhoto(strings.NewReader("not an image")); err == nil {
		t.Fatalf("expected decode error")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(4, 3, color.White)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	img, format, err := DecodePhoto(&buf)
	if err != nil || format != "png" || img.Bounds().Dx() != 4 {
		t.Fatalf("unexpected decode result format=%s err=%v", format, err)
	}
}

func TestFilename(t *testing.T) {
	if got := Filename("piedmont-park", frame.FormatStory); got != "capture-the-flag-piedmont-park-story.jpg" {
		t.Fatalf("unexpected filename %s", got)
	}
}
