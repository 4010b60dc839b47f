package frame

import (
	"image"

	"github.com/disintegration/imaging"
)

const (
	opaqueAlphaFloor = 10
	whiteFloor       = 240
)

// HasTransparency reports whether any pixel of img has alpha below 10.
func HasTransparency(img *image.NRGBA) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			if row[x*4+3] < opaqueAlphaFloor {
				return true
			}
		}
	}
	return false
}

func isWhite(img *image.NRGBA, x, y int) bool {
	i := img.PixOffset(x, y)
	p := img.Pix[i : i+3 : i+3]
	return p[0] >= whiteFloor && p[1] >= whiteFloor && p[2] >= whiteFloor
}

// Key clears the near-white region through the center of img in place and
// returns the scanned rectangle. The rectangle is found by walking left, right,
// up and down from the center pixel while pixels stay near-white; only
// near-white pixels inside it become transparent. Assets must draw their
// cutout as one contiguous near-white rectangle through the center.
func Key(img *image.NRGBA) image.Rectangle {
	b := img.Bounds()
	if b.Empty() {
		return image.Rectangle{}
	}
	cx := b.Min.X + b.Dx()/2
	cy := b.Min.Y + b.Dy()/2
	left, right, top, bottom := cx, cx, cy, cy
	for left > b.Min.X && isWhite(img, left-1, cy) {
		left--
	}
	for right < b.Max.X-1 && isWhite(img, right+1, cy) {
		right++
	}
	for top > b.Min.Y && isWhite(img, cx, top-1) {
		top--
	}
	for bottom < b.Max.Y-1 && isWhite(img, cx, bottom+1) {
		bottom++
	}

	for y := top; y <= bottom; y++ {
		for x := left; x <= right; x++ {
			if isWhite(img, x, y) {
				img.Pix[img.PixOffset(x, y)+3] = 0
			}
		}
	}
	return image.Rect(left, top, right+1, bottom+1)
}

// Prepare converts a decoded designer asset into an overlay. Assets that
// already carry transparency are returned as a plain NRGBA copy; opaque ones
// get their central white window keyed out.
func Prepare(src image.Image) *image.NRGBA {
	img := imaging.Clone(src)
	keyOpaque(img)
	return img
}

func keyOpaque(img *image.NRGBA) {
	if !HasTransparency(img) {
		Key(img)
	}
}
