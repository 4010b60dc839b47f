package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestLocationsListsCatalog(t *testing.T) {
	isolate(t)

	out, err := run(t, "locations", "--json")
	if err != nil {
		t.Fatalf("locations: %v", err)
	}
	var body struct {
		Phase     string `json:"phase"`
		Total     int    `json:"total"`
		Locations []struct {
			Slug string `json:"slug"`
		} `json:"locations"`
	}
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if body.Phase != "group_stage" || body.Total != 16 || len(body.Locations) != 16 {
		t.Fatalf("unexpected catalog %+v", body)
	}
}

func TestFrameWritesOverlay(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	if _, err := run(t, "frame", "west-end", "--format", "square", "--out", dir); err != nil {
		t.Fatalf("frame: %v", err)
	}
	cfg := decodeConfig(t, filepath.Join(dir, "west-end-square.png"))
	if cfg.Width != 1080 || cfg.Height != 1080 {
		t.Fatalf("expected 1080x1080, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestCaptureDownloads(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	photo := writePhoto(t, dir, 1600, 1200)

	gestures := filepath.Join(dir, "gestures.json")
	if err := os.WriteFile(gestures, []byte(`[{"kind":"wheel","x":540,"y":675,"delta_y":-1}]`), 0o644); err != nil {
		t.Fatalf("write gestures: %v", err)
	}

	if _, err := run(t, "capture", "--location", "piedmont-park", "--photo", photo, "--gestures", gestures, "--out", dir); err != nil {
		t.Fatalf("capture: %v", err)
	}
	cfg := decodeConfig(t, filepath.Join(dir, "capture-the-flag-piedmont-park-portrait.jpg"))
	if cfg.Width != 1080 || cfg.Height != 1350 {
		t.Fatalf("expected 1080x1350, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestCaptureRejectsUnknownLocation(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	photo := writePhoto(t, dir, 200, 200)

	if _, err := run(t, "capture", "--location", "midtown", "--photo", photo, "--out", dir); err == nil {
		t.Fatal("expected error for unknown location")
	}
}

func TestCaptureChecksInAndUploads(t *testing.T) {
	isolate(t)
	api := newFakeCheckInAPI()
	srv := httptest.NewServer(api)
	defer srv.Close()
	t.Setenv("FLAGBOOTH_CHECKIN_URL", srv.URL+"/api")

	dir := t.TempDir()
	photo := writePhoto(t, dir, 800, 800)

	if _, err := run(t, "capture", "--location", "west-end", "--format", "story", "--photo", photo,
		"--out", dir, "--email", "fan@example.com", "--name", "Sam"); err != nil {
		t.Fatalf("capture: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.checkins) != 1 || api.checkins[0]["locationId"] != "west-end" || api.checkins[0]["format"] != "story" {
		t.Fatalf("unexpected check-ins %v", api.checkins)
	}
	if api.uploads != 1 {
		t.Fatalf("expected thumbnail upload, got %d", api.uploads)
	}
}

func TestRenderWritesFullAndThumbnail(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	photo := writePhoto(t, dir, 640, 480)
	out := filepath.Join(dir, "renders")

	if _, err := run(t, "render", photo, "--location", "sweet-auburn", "-F", "square,story", "--out", out); err != nil {
		t.Fatalf("render: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(out, "*", "capture-the-flag-sweet-auburn-*.jpg"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 4 {
		t.Fatalf("expected 4 files (2 formats x full+thumbnail), got %v", matches)
	}
}

func TestFlushRequiresAPI(t *testing.T) {
	isolate(t)
	t.Setenv("FLAGBOOTH_CHECKIN_URL", "")

	if _, err := run(t, "flush"); err == nil || !strings.Contains(err.Error(), "FLAGBOOTH_CHECKIN_URL") {
		t.Fatalf("expected missing API error, got %v", err)
	}
}

func TestProgressOfflineUsesCache(t *testing.T) {
	isolate(t)
	t.Setenv("FLAGBOOTH_CHECKIN_URL", "")

	out, err := run(t, "progress", "--email", "fan@example.com")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if !strings.Contains(out, "captured 0 of 16") {
		t.Fatalf("unexpected progress output %q", out)
	}
}

// isolate points the kiosk store at a temp file so tests never share state.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("FLAGBOOTH_CHECKIN_DB", filepath.Join(t.TempDir(), "checkin.db"))
	t.Setenv("FLAGBOOTH_FRAME_DIR", "")
	t.Setenv("FLAGBOOTH_PHASE", "")
	t.Setenv("FLAGBOOTH_CAMPAIGN_FILE", "")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writePhoto(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	path := filepath.Join(dir, "photo.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create photo: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode photo: %v", err)
	}
	return path
}

func decodeConfig(t *testing.T, path string) image.Config {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return cfg
}

type fakeCheckInAPI struct {
	mu       sync.Mutex
	checkins []map[string]string
	uploads  int
}

func newFakeCheckInAPI() *fakeCheckInAPI {
	return &fakeCheckInAPI{}
}

func (a *fakeCheckInAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch r.URL.Path {
	case "/api/checkin":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		a.checkins = append(a.checkins, body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true}`))
	case "/api/upload-photo":
		a.uploads++
		_, _ = w.Write([]byte(`{"photoUrl":"https://cdn.test/p.jpg"}`))
	default:
		http.NotFound(w, r)
	}
}
