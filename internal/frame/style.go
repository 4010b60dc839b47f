package frame

import (
	"image/color"
	"log"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// Brand palette.
var (
	ColorGreen     = color.NRGBA{R: 0x1B, G: 0x3A, B: 0x2D, A: 0xFF}
	ColorGreenDark = color.NRGBA{R: 0x15, G: 0x2E, B: 0x23, A: 0xFF}
	ColorGold      = color.NRGBA{R: 0xC9, G: 0xA9, B: 0x4E, A: 0xFF}
	ColorGoldDim   = color.NRGBA{R: 0xA6, G: 0x8B, B: 0x3C, A: 0xFF}
	ColorText      = color.NRGBA{R: 0xF5, G: 0xF0, B: 0xE8, A: 0xFF}
	ColorTextDim   = color.NRGBA{R: 0xA8, G: 0x9E, B: 0x8C, A: 0xFF}
)

type faceSet struct {
	header   font.Face
	location font.Face
	pairing  font.Face
	tagline  font.Face
	slogan   font.Face
	footer   font.Face
}

var (
	facesOnce sync.Once
	faces     faceSet
)

func loadFaces() faceSet {
	facesOnce.Do(func() {
		fallback := basicfont.Face7x13
		faces = faceSet{
			header:   newFace(gobold.TTF, 28, fallback),
			location: newFace(gobold.TTF, 22, fallback),
			pairing:  newFace(goregular.TTF, 16, fallback),
			tagline:  newFace(goitalic.TTF, 18, fallback),
			slogan:   newFace(gobold.TTF, 20, fallback),
			footer:   newFace(goregular.TTF, 14, fallback),
		}
	})
	return faces
}

func newFace(ttf []byte, size float64, fallback font.Face) font.Face {
	parsed, err := opentype.Parse(ttf)
	if err != nil {
		log.Printf("frame: parse font: %v", err)
		return fallback
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		log.Printf("frame: build font face size=%v: %v", size, err)
		return fallback
	}
	return face
}
