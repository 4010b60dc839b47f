package compose

import (
	"image"
	"image/color"
	"testing"

	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/geometry"
	"github.com/dunamismax/flagbooth/internal/location"
)

func BenchmarkRenderPreview(b *testing.B) {
	benchmarkRender(b, QualityPreview)
}

func BenchmarkRenderExport(b *testing.B) {
	benchmarkRender(b, QualityExport)
}

func benchmarkRender(b *testing.B, q Quality) {
	photo := benchmarkPhoto(4032, 3024)
	overlay := frame.Generate(location.Location{Slug: "bench", Name: "Bench"}, frame.FormatPortrait)
	win := frame.FormatPortrait.Window()
	scene := Scene{
		Window:    win,
		Photo:     photo,
		Transform: geometry.Fit(geometry.SizeOf(photo.Bounds()), win),
		Overlay:   overlay,
	}
	canvas := NewCanvas(frame.FormatPortrait)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Render(canvas, scene, q)
	}
}

func benchmarkPhoto(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}
