package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/flagbooth/internal/domain"
	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/geometry"
	"github.com/dunamismax/flagbooth/internal/gesture"
	"github.com/dunamismax/flagbooth/internal/location"
)

var testLocation = location.Location{
	Slug:    "piedmont-park",
	Name:    "Piedmont Park",
	Country: "Netherlands",
	Tagline: "Total football",
}

func TestLocalProcessor_FileInFramedFileOut(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	outputDir := filepath.Join(tmp, "out")

	if err := os.WriteFile(inputPath, buildTestPNG(t, 800, 600), 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	processor, err := NewLocalProcessor(outputDir, frame.NewProvider(nil, nil))
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	req := Request{
		JobID:        "job-local-1",
		SourceType:   SourceTypeLocalFile,
		ObjectKey:    inputPath,
		Location:     testLocation,
		Format:       frame.FormatSquare,
		OutputFormat: "png",
	}

	result, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process request: %v", err)
	}
	if len(result.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(result.Outputs))
	}

	full := result.Outputs[0]
	if full.Kind != domain.OutputFull || full.Format != "png" {
		t.Fatalf("unexpected full output: %+v", full)
	}
	if filepath.Base(full.Path) != "capture-the-flag-piedmont-park-square.png" {
		t.Fatalf("unexpected full output name: %s", full.Path)
	}
	verifyImageSize(t, full.Path, 1080, 1080)

	thumb := result.Outputs[1]
	if thumb.Kind != domain.OutputThumbnail || thumb.Format != "jpeg" {
		t.Fatalf("unexpected thumbnail output: %+v", thumb)
	}
	verifyImageSize(t, thumb.Path, 480, 480)

	if result.SourceBytes == 0 {
		t.Fatalf("expected source bytes to be recorded")
	}
}

func TestLocalProcessor_RejectsUndecodableSource(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.bin")
	if err := os.WriteFile(inputPath, []byte("not a photo"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	processor, err := NewLocalProcessor(tmp, frame.NewProvider(nil, nil))
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-bad",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Location:   testLocation,
		Format:     frame.FormatPortrait,
	})
	if !errors.Is(err, ErrUndecodablePhoto) {
		t.Fatalf("expected ErrUndecodablePhoto, got %v", err)
	}
}

func TestProcessor_ObjectStoreStages(t *testing.T) {
	store := newMemoryObjects()
	store.objects["uploads/photo.png"] = buildTestPNG(t, 400, 300)

	processor, err := NewProcessor(
		ObjectStoreFetcher{Storage: store},
		frame.NewProvider(nil, nil),
		ObjectStoreEmitter{Storage: store, OutputPrefix: "renders"},
	)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	result, err := processor.Process(context.Background(), Request{
		JobID:        "job/42",
		SourceType:   domain.SourceTypeS3Presigned,
		ObjectKey:    "uploads/photo.png",
		Location:     testLocation,
		Format:       frame.FormatStory,
		OutputFormat: "jpg",
		Quality:      80,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	want := "renders/job_42/capture-the-flag-piedmont-park-story.jpg"
	if result.Outputs[0].Path != want {
		t.Fatalf("expected key %s, got %s", want, result.Outputs[0].Path)
	}
	if store.contentTypes[want] != "image/jpeg" {
		t.Fatalf("unexpected content type %q", store.contentTypes[want])
	}
	if _, ok := store.objects["renders/job_42/capture-the-flag-piedmont-park-story-thumbnail.jpg"]; !ok {
		t.Fatalf("expected thumbnail object, have %v", store.keys())
	}
}

func TestFraming(t *testing.T) {
	bounds := image.Rect(0, 0, 4000, 3000)
	win := frame.FormatSquare.Window()
	fit := geometry.Fit(geometry.SizeOf(bounds), win)

	t.Run("default cover fit", func(t *testing.T) {
		got := Framing(bounds, Request{Format: frame.FormatSquare})
		if got != fit {
			t.Fatalf("expected %+v, got %+v", fit, got)
		}
	})

	t.Run("explicit transform is bounded", func(t *testing.T) {
		got := Framing(bounds, Request{
			Format:    frame.FormatSquare,
			Transform: &geometry.Transform{Scale: 0.01, OffsetX: 5000, OffsetY: 5000},
		})
		if got.Scale != fit.Scale {
			t.Fatalf("expected scale %v, got %v", fit.Scale, got.Scale)
		}
		if !geometry.Covers(got, 4000, 3000, win, 1e-6) {
			t.Fatalf("transform %+v does not cover window", got)
		}
	})

	t.Run("gestures replay from fit", func(t *testing.T) {
		got := Framing(bounds, Request{
			Format: frame.FormatSquare,
			Gestures: []gesture.Event{
				{Kind: gesture.EventWheel, X: 540, Y: 540, DeltaY: -1},
			},
		})
		if got.Scale <= fit.Scale {
			t.Fatalf("expected zoom in from %v, got %v", fit.Scale, got.Scale)
		}
	})
}

func TestSanitizePathToken(t *testing.T) {
	if got := sanitizePathToken("a/b c"); got != "a_b_c" {
		t.Fatalf("unexpected token %q", got)
	}
	if got := sanitizePathToken("  "); got != "unknown" {
		t.Fatalf("unexpected token %q", got)
	}
}

type memoryObjects struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (m *memoryObjects) ReadObject(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (m *memoryObjects) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	m.objects[key] = data
	m.contentTypes[key] = contentType
	return nil
}

func (m *memoryObjects) keys() []string {
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 90,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func verifyImageSize(t *testing.T, path string, wantW, wantH int) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output image: %v", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode output image config: %v", err)
	}
	if cfg.Width != wantW || cfg.Height != wantH {
		t.Fatalf("expected %dx%d, got %dx%d", wantW, wantH, cfg.Width, cfg.Height)
	}
}
