package compose

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/flagbooth/internal/frame"
	_ "golang.org/x/image/webp"
)

const (
	ExportQuality    = 92
	ThumbnailWidth   = 480
	ThumbnailQuality = 70
)

var (
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrWebPUnavailable   = errors.New("webp export unavailable in this build")
)

// DecodePhoto decodes a JPEG, PNG, GIF or WebP photo.
func DecodePhoto(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode photo: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, "", errors.New("decode photo: empty image")
	}
	return img, format, nil
}

func NormalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "jpg", "jpeg":
		return "jpeg"
	case "png":
		return "png"
	case "webp":
		return "webp"
	default:
		return ""
	}
}

func ContentType(format string) string {
	switch NormalizeFormat(format) {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func Extension(format string) string {
	switch NormalizeFormat(format) {
	case "png":
		return "png"
	case "webp":
		return "webp"
	default:
		return "jpg"
	}
}

// Encode writes img as jpeg, png or webp. Quality applies to the lossy formats;
// out-of-range values fall back to ExportQuality.
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = ExportQuality
	}
	switch NormalizeFormat(format) {
	case "jpeg":
		if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return fmt.Errorf("encode jpeg: %w", err)
		}
		return nil
	case "png":
		if err := imaging.Encode(w, img, imaging.PNG); err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
		return nil
	case "webp":
		return encodeWebP(w, img, quality)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func EncodeBytes(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, format, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Thumbnail scales img down to at most maxWidth pixels wide, keeping the
// aspect ratio. Narrower images are returned unchanged.
func Thumbnail(img image.Image, maxWidth int) image.Image {
	if maxWidth <= 0 || img.Bounds().Dx() <= maxWidth {
		return img
	}
	return imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
}

// DataURL encodes the upload thumbnail of img as a base64 JPEG data URL.
func DataURL(img image.Image) (string, error) {
	data, err := EncodeBytes(Thumbnail(img, ThumbnailWidth), "jpeg", ThumbnailQuality)
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Filename is the download name of an exported image.
func Filename(slug string, f frame.Format) string {
	return fmt.Sprintf("capture-the-flag-%s-%s.jpg", slug, f)
}
