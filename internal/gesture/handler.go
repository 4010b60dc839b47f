// Package gesture turns pointer and wheel input into photo transform updates.
//
// A Handler is driven from a single event loop and is not safe for concurrent use;
// callers that receive events from several goroutines must serialize them.
package gesture

import (
	"github.com/dunamismax/flagbooth/internal/geometry"
)

// Per-tick wheel zoom factors.
const (
	WheelZoomOut = 0.95
	WheelZoomIn  = 1.05
)

// PointerID identifies one contact point for the lifetime of a press.
type PointerID int

type State int

const (
	StateIdle State = iota
	StateDragging
	StatePinching
)

func (s State) String() string {
	switch s {
	case StateDragging:
		return "dragging"
	case StatePinching:
		return "pinching"
	default:
		return "idle"
	}
}

// Handler owns the Transform of the current photo and mutates it from gestures.
type Handler struct {
	window    geometry.Window
	photo     geometry.Size
	hasPhoto  bool
	minScale  float64
	transform geometry.Transform

	pointers      map[PointerID]geometry.Point
	order         []PointerID
	lastPinchDist float64

	onUpdate func()
}

// NewHandler returns a handler for the given window. onUpdate is called synchronously
// after every transform mutation; it may be nil.
func NewHandler(window geometry.Window, onUpdate func()) *Handler {
	if onUpdate == nil {
		onUpdate = func() {}
	}
	return &Handler{
		window:   window,
		pointers: make(map[PointerID]geometry.Point),
		onUpdate: onUpdate,
	}
}

// SetPhoto installs a new photo and resets the transform to the cover fit.
func (h *Handler) SetPhoto(size geometry.Size) {
	if size.Empty() {
		h.ClearPhoto()
		return
	}
	h.photo = size
	h.hasPhoto = true
	h.transform = geometry.Fit(size, h.window)
	h.minScale = h.transform.Scale
	h.releaseAll()
}

// ClearPhoto drops the current photo and ends any gesture in progress.
func (h *Handler) ClearPhoto() {
	h.photo = geometry.Size{}
	h.hasPhoto = false
	h.transform = geometry.Transform{Scale: 1}
	h.minScale = 1
	h.releaseAll()
}

// SetWindow changes the target window and refits the current photo, if any.
func (h *Handler) SetWindow(window geometry.Window) {
	h.window = window
	if h.hasPhoto {
		h.SetPhoto(h.photo)
	}
}

func (h *Handler) HasPhoto() bool { return h.hasPhoto }

func (h *Handler) Transform() geometry.Transform { return h.transform }

func (h *Handler) MinScale() float64 { return h.minScale }

func (h *Handler) Window() geometry.Window { return h.window }

// SetTransform replaces the transform, bounding scale and clamping the offset.
func (h *Handler) SetTransform(t geometry.Transform) {
	if !h.hasPhoto {
		return
	}
	t.Scale = geometry.ClampScale(t.Scale, h.minScale)
	h.transform = t
	h.clamp()
	h.onUpdate()
}

// State reports the gesture phase derived from the active pointer count.
func (h *Handler) State() State {
	switch len(h.order) {
	case 0:
		return StateIdle
	case 1:
		return StateDragging
	default:
		return StatePinching
	}
}

// PointerDown starts tracking a contact point. Ignored without a photo.
func (h *Handler) PointerDown(id PointerID, p geometry.Point) {
	if !h.hasPhoto {
		return
	}
	if _, ok := h.pointers[id]; !ok {
		h.order = append(h.order, id)
	}
	h.pointers[id] = p
	h.lastPinchDist = 0
}

// PointerMove applies a drag (one active point) or pinch (two active points).
func (h *Handler) PointerMove(id PointerID, p geometry.Point) {
	prev, ok := h.pointers[id]
	if !ok || !h.hasPhoto {
		return
	}

	switch len(h.order) {
	case 1:
		h.transform.OffsetX += p.X - prev.X
		h.transform.OffsetY += p.Y - prev.Y
		h.clamp()
		h.onUpdate()
	case 2:
		h.pointers[id] = p
		a, b := h.pointers[h.order[0]], h.pointers[h.order[1]]
		dist := geometry.Distance(a, b)
		if h.lastPinchDist > 0 {
			factor := dist / h.lastPinchDist
			h.transform = geometry.ZoomAbout(h.transform, geometry.Midpoint(a, b), factor, h.minScale)
			h.clamp()
			h.onUpdate()
		}
		h.lastPinchDist = dist
		return
	}

	h.pointers[id] = p
}

// PointerUp stops tracking a contact point.
func (h *Handler) PointerUp(id PointerID) {
	if _, ok := h.pointers[id]; !ok {
		return
	}
	delete(h.pointers, id)
	for i, existing := range h.order {
		if existing == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	if len(h.order) < 2 {
		h.lastPinchDist = 0
	}
}

// PointerCancel forcibly ends the gesture of a contact point.
func (h *Handler) PointerCancel(id PointerID) {
	h.PointerUp(id)
}

// Wheel zooms about the cursor position by one tick. Positive deltaY zooms out.
func (h *Handler) Wheel(p geometry.Point, deltaY float64) {
	if !h.hasPhoto {
		return
	}
	factor := WheelZoomIn
	if deltaY > 0 {
		factor = WheelZoomOut
	}
	h.transform = geometry.ZoomAbout(h.transform, p, factor, h.minScale)
	h.clamp()
	h.onUpdate()
}

func (h *Handler) clamp() {
	h.transform = geometry.Clamp(h.transform, h.photo.Width, h.photo.Height, h.window)
}

func (h *Handler) releaseAll() {
	clear(h.pointers)
	h.order = h.order[:0]
	h.lastPinchDist = 0
}
