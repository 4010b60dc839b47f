package frame

import (
	"context"
	"errors"
	"image"
	"io"
	"log"
	"sync"

	"github.com/dunamismax/flagbooth/internal/location"
)

// CacheKey identifies a generated overlay. Pairing carries the effective
// country so knockout overrides never share an entry with the group stage.
type CacheKey struct {
	Slug    string
	Format  Format
	Pairing string
	Tagline string
}

func KeyFor(loc location.Location, f Format) CacheKey {
	return CacheKey{Slug: loc.Slug, Format: f, Pairing: loc.Country, Tagline: loc.Tagline}
}

type assetKey struct {
	slug   string
	format Format
}

// Provider hands out frame overlays. Returned images are shared and must be
// treated as read-only.
type Provider struct {
	source Source
	logger *log.Logger

	mu         sync.Mutex
	procedural map[CacheKey]*image.NRGBA
	assets     map[assetKey]*image.NRGBA
}

// NewProvider builds a Provider. A nil source disables designer assets.
func NewProvider(source Source, logger *log.Logger) *Provider {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Provider{
		source:     source,
		logger:     logger,
		procedural: make(map[CacheKey]*image.NRGBA),
		assets:     make(map[assetKey]*image.NRGBA),
	}
}

// Procedural returns the generated overlay for loc in f, building it once.
func (p *Provider) Procedural(loc location.Location, f Format) *image.NRGBA {
	key := KeyFor(loc, f)
	p.mu.Lock()
	img, ok := p.procedural[key]
	p.mu.Unlock()
	if ok {
		return img
	}

	img = Generate(loc, f)

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.procedural[key]; ok {
		return existing
	}
	p.procedural[key] = img
	return img
}

// Asset loads the designer overlay for loc in f. Successful loads are cached;
// failures are not, so a later upload of the asset is picked up.
func (p *Provider) Asset(ctx context.Context, loc location.Location, f Format) (*image.NRGBA, error) {
	if p.source == nil {
		return nil, ErrAssetNotFound
	}
	key := assetKey{slug: loc.Slug, format: f}
	p.mu.Lock()
	img, ok := p.assets[key]
	p.mu.Unlock()
	if ok {
		return img, nil
	}

	img, err := LoadAsset(ctx, p.source, loc.Slug, f)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.assets[key] = img
	p.mu.Unlock()
	return img, nil
}

// Best returns the designer asset when one loads and the procedural overlay
// otherwise.
func (p *Provider) Best(ctx context.Context, loc location.Location, f Format) *image.NRGBA {
	img, err := p.Asset(ctx, loc, f)
	if err == nil {
		return img
	}
	if !errors.Is(err, ErrAssetNotFound) {
		p.logger.Printf("frame asset fallback slug=%s format=%s err=%v", loc.Slug, f, err)
	}
	return p.Procedural(loc, f)
}
