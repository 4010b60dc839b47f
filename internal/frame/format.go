package frame

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/flagbooth/internal/geometry"
)

type Format string

const (
	FormatSquare   Format = "square"
	FormatPortrait Format = "portrait"
	FormatStory    Format = "story"
)

var ErrUnknownFormat = errors.New("unknown format")

// Insets are the distances from the canvas edges to the photo window.
type Insets struct {
	Top    int
	Bottom int
	Left   int
	Right  int
}

type Spec struct {
	Width  int
	Height int
	Label  string
	Insets Insets
}

var specs = map[Format]Spec{
	FormatSquare:   {Width: 1080, Height: 1080, Label: "Square (1:1)", Insets: Insets{Top: 120, Bottom: 160, Left: 40, Right: 40}},
	FormatPortrait: {Width: 1080, Height: 1350, Label: "Portrait (4:5)", Insets: Insets{Top: 140, Bottom: 180, Left: 40, Right: 40}},
	FormatStory:    {Width: 1080, Height: 1920, Label: "Story (9:16)", Insets: Insets{Top: 160, Bottom: 260, Left: 40, Right: 40}},
}

// Formats lists the supported output formats.
func Formats() []Format {
	return []Format{FormatSquare, FormatPortrait, FormatStory}
}

func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := specs[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
	return f, nil
}

func (f Format) Valid() bool {
	_, ok := specs[f]
	return ok
}

// Spec returns the canvas definition of f. Unknown formats fall back to portrait.
func (f Format) Spec() Spec {
	if s, ok := specs[f]; ok {
		return s
	}
	return specs[FormatPortrait]
}

// Window returns the photo window of f in canvas pixels.
func (f Format) Window() geometry.Window {
	s := f.Spec()
	return geometry.Window{
		X:      float64(s.Insets.Left),
		Y:      float64(s.Insets.Top),
		Width:  float64(s.Width - s.Insets.Left - s.Insets.Right),
		Height: float64(s.Height - s.Insets.Top - s.Insets.Bottom),
	}
}
