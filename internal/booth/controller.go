package booth

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log"
	"slices"
	"sync"

	"github.com/dunamismax/flagbooth/internal/checkin"
	"github.com/dunamismax/flagbooth/internal/compose"
	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/geometry"
	"github.com/dunamismax/flagbooth/internal/gesture"
	"github.com/dunamismax/flagbooth/internal/location"
)

type Screen string

const (
	ScreenHome     Screen = "home"
	ScreenPicker   Screen = "picker"
	ScreenLanding  Screen = "landing"
	ScreenSelect   Screen = "select"
	ScreenEditor   Screen = "editor"
	ScreenDone     Screen = "done"
	ScreenComplete Screen = "complete"
)

var (
	ErrNoLocation      = errors.New("no location selected")
	ErrNoFormat        = errors.New("no format selected")
	ErrNoPhoto         = errors.New("no photo loaded")
	ErrCheckInDisabled = errors.New("check-in client not configured")
	ErrMissingVisitor  = errors.New("first name and email are required")
)

// CheckInClient is the part of the check-in API the booth uses.
type CheckInClient interface {
	CheckIn(ctx context.Context, e checkin.Entry) (checkin.Result, error)
	UploadPhoto(ctx context.Context, email, locationID, imageData string) (string, error)
	CachedProgress(ctx context.Context) (checkin.Progress, error)
}

type Config struct {
	Catalog *location.Catalog
	Frames  *frame.Provider
	CheckIn CheckInClient
	Logger  *log.Logger
	// OnRender receives the canvas after every redraw. It runs with the
	// controller locked and must not retain or mutate the image.
	OnRender func(*image.RGBA)
}

// Outcome summarizes a finished capture.
type Outcome struct {
	Filename string
	Screen   Screen
	Count    int
	Queued   bool
	Knockout bool
}

// Controller holds the booth state. Every mutation goes through its mutex, so
// input events and asynchronous frame loads never interleave.
type Controller struct {
	catalog  *location.Catalog
	frames   *frame.Provider
	client   CheckInClient
	logger   *log.Logger
	onRender func(*image.RGBA)

	mu        sync.Mutex
	screen    Screen
	loc       location.Location
	hasLoc    bool
	format    frame.Format
	overlay   image.Image
	photo     image.Image
	gestures  *gesture.Handler
	viewport  gesture.Viewport
	canvas    *image.RGBA
	selection uint64
	renders   int

	background sync.WaitGroup
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	frames := cfg.Frames
	if frames == nil {
		frames = frame.NewProvider(nil, logger)
	}

	c := &Controller{
		catalog:  cfg.Catalog,
		frames:   frames,
		client:   cfg.CheckIn,
		logger:   logger,
		onRender: cfg.OnRender,
		screen:   ScreenHome,
	}
	c.gestures = gesture.NewHandler(geometry.Window{}, c.renderLocked)
	return c, nil
}

// Start opens the booth for a scanned location slug. Empty or unknown slugs
// land on the home screen.
func (c *Controller) Start(slug string) Screen {
	if slug == "" {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.screen = ScreenHome
		return c.screen
	}
	if err := c.SelectLocation(slug); err != nil {
		c.logger.Printf("start location=%q err=%v", slug, err)
		c.mu.Lock()
		defer c.mu.Unlock()
		c.screen = ScreenHome
		return c.screen
	}
	return c.Screen()
}

func (c *Controller) ShowPicker() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.screen = ScreenPicker
}

func (c *Controller) SelectLocation(slug string) error {
	loc, err := c.catalog.Effective(slug)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loc = loc
	c.hasLoc = true
	c.clearEditorLocked()
	c.screen = ScreenLanding
	return nil
}

// BeginCapture moves from the landing card to format selection.
func (c *Controller) BeginCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasLoc {
		return ErrNoLocation
	}
	c.screen = ScreenSelect
	return nil
}

// SelectFormat opens the editor for f. The procedural frame is shown at once
// and the designer asset, if any, replaces it when it finishes loading and the
// selection has not changed in the meantime.
func (c *Controller) SelectFormat(ctx context.Context, f frame.Format) error {
	if !f.Valid() {
		return fmt.Errorf("%w: %q", frame.ErrUnknownFormat, f)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasLoc {
		return ErrNoLocation
	}

	loc := c.loc
	c.format = f
	c.canvas = compose.NewCanvas(f)
	c.overlay = c.frames.Procedural(loc, f)
	c.gestures.SetWindow(f.Window())
	c.selection++
	c.screen = ScreenEditor
	c.renderLocked()

	selection := c.selection
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		img, err := c.frames.Asset(ctx, loc, f)
		if err != nil {
			if !errors.Is(err, frame.ErrAssetNotFound) {
				c.logger.Printf("frame asset unavailable location=%s format=%s err=%v", loc.Slug, f, err)
			}
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if selection != c.selection {
			return
		}
		c.overlay = img
		c.renderLocked()
	}()
	return nil
}

// LoadPhoto decodes r and installs it with a cover fit. Undecodable input is
// ignored and reported as false.
func (c *Controller) LoadPhoto(r io.Reader) bool {
	img, _, err := compose.DecodePhoto(r)
	if err != nil {
		c.logger.Printf("photo ignored err=%v", err)
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.photo = img
	c.gestures.SetPhoto(geometry.SizeOf(img.Bounds()))
	c.renderLocked()
	return true
}

// ViewportFor describes a canvas of format f displayed at (left, top) with the
// given on-screen size.
func ViewportFor(f frame.Format, left, top, displayWidth, displayHeight float64) gesture.Viewport {
	spec := f.Spec()
	return gesture.Viewport{
		Left:          left,
		Top:           top,
		DisplayWidth:  displayWidth,
		DisplayHeight: displayHeight,
		CanvasWidth:   float64(spec.Width),
		CanvasHeight:  float64(spec.Height),
	}
}

func (c *Controller) SetViewport(v gesture.Viewport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewport = v
}

func (c *Controller) PointerDown(id gesture.PointerID, clientX, clientY float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gestures.PointerDown(id, c.viewport.ToCanvas(clientX, clientY))
}

func (c *Controller) PointerMove(id gesture.PointerID, clientX, clientY float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gestures.PointerMove(id, c.viewport.ToCanvas(clientX, clientY))
}

func (c *Controller) PointerUp(id gesture.PointerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gestures.PointerUp(id)
}

func (c *Controller) PointerCancel(id gesture.PointerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gestures.PointerCancel(id)
}

func (c *Controller) Wheel(clientX, clientY, deltaY float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gestures.Wheel(c.viewport.ToCanvas(clientX, clientY), deltaY)
}

// renderLocked redraws the canvas with preview quality. c.mu must be held.
func (c *Controller) renderLocked() {
	if c.canvas == nil {
		return
	}
	compose.Render(c.canvas, c.sceneLocked(), compose.QualityPreview)
	c.renders++
	if c.onRender != nil {
		c.onRender(c.canvas)
	}
}

func (c *Controller) sceneLocked() compose.Scene {
	s := compose.Scene{Window: c.format.Window(), Overlay: c.overlay}
	if c.photo != nil {
		s.Photo = c.photo
		s.Transform = c.gestures.Transform()
	}
	return s
}

// Snapshot returns a copy of the current canvas, or nil before a format is chosen.
func (c *Controller) Snapshot() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canvas == nil {
		return nil
	}
	out := image.NewRGBA(c.canvas.Bounds())
	draw.Draw(out, out.Bounds(), c.canvas, c.canvas.Bounds().Min, draw.Src)
	return out
}

// Export writes the final JPEG to w and returns its download filename.
func (c *Controller) Export(w io.Writer) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, name, err := c.exportLocked(w)
	return name, err
}

func (c *Controller) exportLocked(w io.Writer) (*image.RGBA, string, error) {
	if !c.hasLoc {
		return nil, "", ErrNoLocation
	}
	if c.canvas == nil {
		return nil, "", ErrNoFormat
	}
	if c.photo == nil {
		return nil, "", ErrNoPhoto
	}
	out := compose.NewCanvas(c.format)
	compose.Render(out, c.sceneLocked(), compose.QualityExport)
	if err := compose.Encode(w, out, "jpeg", compose.ExportQuality); err != nil {
		return nil, "", err
	}
	return out, compose.Filename(c.loc.Slug, c.format), nil
}

// Download exports without checking in and shows the done screen.
func (c *Controller) Download(w io.Writer) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, name, err := c.exportLocked(w)
	if err != nil {
		return Outcome{}, err
	}
	c.screen = ScreenDone
	return Outcome{Filename: name, Screen: c.screen, Knockout: c.loc.Knockout}, nil
}

// CheckIn exports the image, records the visit and uploads a thumbnail in
// the background. Collecting every location ends on the complete screen.
func (c *Controller) CheckIn(ctx context.Context, v checkin.Visitor, w io.Writer) (Outcome, error) {
	if c.client == nil {
		return Outcome{}, ErrCheckInDisabled
	}
	if v.Email == "" || v.FirstName == "" {
		return Outcome{}, ErrMissingVisitor
	}

	c.mu.Lock()
	out, name, err := c.exportLocked(w)
	if err != nil {
		c.mu.Unlock()
		return Outcome{}, err
	}
	entry := checkin.Entry{
		Email:      v.Email,
		FirstName:  v.FirstName,
		LocationID: c.loc.Slug,
		Format:     string(c.format),
		Phase:      c.catalog.Phase(),
	}
	knockout := c.loc.Knockout
	selection := c.selection
	c.mu.Unlock()

	// The editor stays responsive while the check-in API is called.
	thumb, err := compose.DataURL(out)
	if err != nil {
		return Outcome{}, err
	}
	res, err := c.client.CheckIn(ctx, entry)
	if err != nil {
		return Outcome{}, fmt.Errorf("check in: %w", err)
	}

	c.background.Add(1)
	go func() {
		defer c.background.Done()
		if _, err := c.client.UploadPhoto(context.WithoutCancel(ctx), v.Email, entry.LocationID, thumb); err != nil {
			c.logger.Printf("thumbnail upload failed location=%s err=%v", entry.LocationID, err)
		}
	}()

	progress, err := c.client.CachedProgress(ctx)
	if err != nil {
		return Outcome{}, err
	}
	count := len(progress.Visited)
	if !slices.Contains(progress.Visited, entry.LocationID) {
		count++
	}

	screen := ScreenDone
	if count >= c.catalog.Total() {
		screen = ScreenComplete
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A reset or new selection during the call keeps its own screen.
	if selection == c.selection {
		c.screen = screen
	}
	return Outcome{
		Filename: name,
		Screen:   screen,
		Count:    count,
		Queued:   res.Queued,
		Knockout: knockout,
	}, nil
}

// ResetPhoto drops the photo and returns the editor to its placeholder.
func (c *Controller) ResetPhoto() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetPhotoLocked()
	c.renderLocked()
}

func (c *Controller) resetPhotoLocked() {
	c.photo = nil
	c.gestures.ClearPhoto()
}

// Reset clears the photo and format so the visitor can capture again.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearEditorLocked()
	if c.hasLoc {
		c.screen = ScreenLanding
	} else {
		c.screen = ScreenHome
	}
}

// clearEditorLocked drops the photo and format and invalidates pending frame
// loads. c.mu must be held.
func (c *Controller) clearEditorLocked() {
	c.resetPhotoLocked()
	c.format = ""
	c.canvas = nil
	c.overlay = nil
	c.selection++
}

// Wait blocks until pending frame loads and uploads have finished.
func (c *Controller) Wait() {
	c.background.Wait()
}

func (c *Controller) Screen() Screen {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen
}

func (c *Controller) Location() (location.Location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loc, c.hasLoc
}

func (c *Controller) Format() frame.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}

func (c *Controller) Transform() geometry.Transform {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gestures.Transform()
}

func (c *Controller) HasPhoto() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.photo != nil
}

// Renders counts redraws since the controller was created.
func (c *Controller) Renders() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renders
}

// Overlay returns the frame currently composited over the photo.
func (c *Controller) Overlay() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overlay
}
