package frame

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/flagbooth/internal/storage"
)

var ErrAssetNotFound = errors.New("frame asset not found")

// Source supplies designer frame assets by location slug and format.
type Source interface {
	Open(ctx context.Context, slug string, f Format) ([]byte, error)
}

// AssetName is the file name of the designer asset for slug in format f.
func AssetName(slug string, f Format) string {
	return slug + "-" + string(f) + ".png"
}

// DirSource reads assets from a local directory.
type DirSource struct {
	Dir string
}

func (s DirSource) Open(_ context.Context, slug string, f Format) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, AssetName(slug, f)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, AssetName(slug, f))
	}
	if err != nil {
		return nil, fmt.Errorf("read frame asset: %w", err)
	}
	return data, nil
}

type ObjectReader interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
}

// ObjectStoreSource reads assets from object storage under Prefix.
type ObjectStoreSource struct {
	Store  ObjectReader
	Prefix string
}

func (s ObjectStoreSource) Open(ctx context.Context, slug string, f Format) ([]byte, error) {
	key := path.Join(s.Prefix, AssetName(slug, f))
	data, err := s.Store.ReadObject(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// LoadAsset fetches and decodes the asset for slug, scales it to the canvas
// size of f and then keys it. Keying after the resample keeps the window edge
// hard instead of smearing it into partial alpha.
func LoadAsset(ctx context.Context, src Source, slug string, f Format) (*image.NRGBA, error) {
	data, err := src.Open(ctx, slug, f)
	if err != nil {
		return nil, err
	}
	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame asset %s: %w", AssetName(slug, f), err)
	}
	spec := f.Spec()
	var img *image.NRGBA
	if b := decoded.Bounds(); b.Dx() != spec.Width || b.Dy() != spec.Height {
		img = imaging.Resize(decoded, spec.Width, spec.Height, imaging.Lanczos)
	} else {
		img = imaging.Clone(decoded)
	}
	keyOpaque(img)
	return img, nil
}
