//go:build !cgo

package compose

import (
	"image"
	"io"
)

func encodeWebP(io.Writer, image.Image, int) error {
	return ErrWebPUnavailable
}
