//go:build govips && cgo

package compose

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/davidbyttow/govips/v2/vips"
)

func encodeWebP(w io.Writer, img image.Image, quality int) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("stage webp source: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return fmt.Errorf("load webp source: %w", err)
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	params.Quality = quality
	data, _, err := ref.ExportWebp(params)
	if err != nil {
		return fmt.Errorf("encode webp: %w", err)
	}
	_, err = w.Write(data)
	return err
}
