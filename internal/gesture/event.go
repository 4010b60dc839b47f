package gesture

import (
	"fmt"
	"strings"

	"github.com/dunamismax/flagbooth/internal/geometry"
)

const (
	EventDown   = "down"
	EventMove   = "move"
	EventUp     = "up"
	EventCancel = "cancel"
	EventWheel  = "wheel"
)

// Event is a recorded input event in canvas coordinates. Recorded logs let a server
// reproduce the exact framing a visitor chose on their device.
type Event struct {
	Kind    string  `json:"kind"`
	Pointer int     `json:"pointer,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	DeltaY  float64 `json:"delta_y,omitempty"`
}

// Validate checks that the event kind is known.
func (e Event) Validate() error {
	switch strings.ToLower(strings.TrimSpace(e.Kind)) {
	case EventDown, EventMove, EventUp, EventCancel, EventWheel:
		return nil
	default:
		return fmt.Errorf("unknown gesture event kind: %q", e.Kind)
	}
}

// Apply feeds a single event into h.
func (h *Handler) Apply(e Event) {
	p := geometry.Point{X: e.X, Y: e.Y}
	id := PointerID(e.Pointer)

	switch strings.ToLower(strings.TrimSpace(e.Kind)) {
	case EventDown:
		h.PointerDown(id, p)
	case EventMove:
		h.PointerMove(id, p)
	case EventUp:
		h.PointerUp(id)
	case EventCancel:
		h.PointerCancel(id)
	case EventWheel:
		h.Wheel(p, e.DeltaY)
	}
}

// Replay applies events in order and returns the resulting transform.
func (h *Handler) Replay(events []Event) geometry.Transform {
	for _, e := range events {
		h.Apply(e)
	}
	return h.transform
}
