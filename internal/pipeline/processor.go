package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/flagbooth/internal/compose"
	"github.com/dunamismax/flagbooth/internal/domain"
	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/geometry"
	"github.com/dunamismax/flagbooth/internal/gesture"
	"github.com/dunamismax/flagbooth/internal/location"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrUndecodablePhoto      = errors.New("source is not a decodable photo")
)

type Request struct {
	JobID        string
	SourceType   string
	ObjectKey    string
	Location     location.Location
	Format       frame.Format
	Transform    *geometry.Transform
	Gestures     []gesture.Event
	OutputFormat string
	Quality      int
}

type Output struct {
	Kind    string
	Format  string
	Path    string
	Bytes   int
	Width   int
	Height  int
	Success bool
}

type Result struct {
	Outputs     []Output
	SourceBytes int
	Transform   geometry.Transform
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, kind string, data []byte, format string, width, height int) (Output, error)
}

// FrameSource picks the overlay for a location and format.
type FrameSource interface {
	Best(ctx context.Context, loc location.Location, f frame.Format) *image.NRGBA
}

type Processor struct {
	fetcher Fetcher
	frames  FrameSource
	emitter Emitter
}

func NewProcessor(fetcher Fetcher, frames FrameSource, emitter Emitter) (*Processor, error) {
	if fetcher == nil || emitter == nil {
		return nil, errors.New("fetcher and emitter are required")
	}
	if frames == nil {
		return nil, errors.New("frame source is required")
	}
	return &Processor{fetcher: fetcher, frames: frames, emitter: emitter}, nil
}

func NewLocalProcessor(outputDir string, frames FrameSource) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, frames, LocalFileEmitter{OutputDir: outputDir})
}

// Process fetches the source photo, frames it and emits the full render and
// its thumbnail.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if !req.Format.Valid() {
		return Result{}, fmt.Errorf("%w: %q", frame.ErrUnknownFormat, req.Format)
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	photo, _, err := compose.DecodePhoto(bytes.NewReader(sourceBytes))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUndecodablePhoto, err)
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	transform := Framing(photo.Bounds(), req)
	overlay := p.frames.Best(ctx, req.Location, req.Format)
	canvas := compose.Composite(req.Format, photo, transform, overlay, compose.QualityExport)

	out := Result{SourceBytes: len(sourceBytes), Transform: transform, Outputs: make([]Output, 0, 2)}

	format := compose.NormalizeFormat(req.OutputFormat)
	if format == "" {
		return Result{}, fmt.Errorf("%w: %s", compose.ErrUnsupportedFormat, req.OutputFormat)
	}
	full, err := compose.EncodeBytes(canvas, format, req.Quality)
	if err != nil {
		return Result{}, fmt.Errorf("encode stage kind=%s: %w", domain.OutputFull, err)
	}
	written, err := p.emitter.Emit(ctx, req, domain.OutputFull, full, format, canvas.Bounds().Dx(), canvas.Bounds().Dy())
	if err != nil {
		return Result{}, fmt.Errorf("emit stage kind=%s: %w", domain.OutputFull, err)
	}
	out.Outputs = append(out.Outputs, written)

	thumb := compose.Thumbnail(canvas, compose.ThumbnailWidth)
	thumbData, err := compose.EncodeBytes(thumb, "jpeg", compose.ThumbnailQuality)
	if err != nil {
		return Result{}, fmt.Errorf("encode stage kind=%s: %w", domain.OutputThumbnail, err)
	}
	written, err = p.emitter.Emit(ctx, req, domain.OutputThumbnail, thumbData, "jpeg", thumb.Bounds().Dx(), thumb.Bounds().Dy())
	if err != nil {
		return Result{}, fmt.Errorf("emit stage kind=%s: %w", domain.OutputThumbnail, err)
	}
	out.Outputs = append(out.Outputs, written)

	return out, nil
}

// Framing resolves the transform for a photo with the given bounds. An
// explicit transform is bounded and clamped, a gesture log is replayed from
// the cover fit, and otherwise the cover fit is used as is.
func Framing(bounds image.Rectangle, req Request) geometry.Transform {
	h := gesture.NewHandler(req.Format.Window(), nil)
	h.SetPhoto(geometry.SizeOf(bounds))
	switch {
	case req.Transform != nil:
		h.SetTransform(*req.Transform)
		return h.Transform()
	case len(req.Gestures) > 0:
		return h.Replay(req.Gestures)
	default:
		return h.Transform()
	}
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, kind string, data []byte, format string, width, height int) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, outputName(req, kind, format))
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return Output{
		Kind:    kind,
		Format:  compose.NormalizeFormat(format),
		Path:    fullPath,
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}

// outputName is the download-style name of an emitted render.
func outputName(req Request, kind, format string) string {
	base := fmt.Sprintf("capture-the-flag-%s-%s", sanitizePathToken(req.Location.Slug), req.Format)
	if kind != domain.OutputFull {
		base += "-" + sanitizePathToken(kind)
	}
	return base + "." + compose.Extension(format)
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
