package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/pipeline"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newRenderCmd(g *globals) *cobra.Command {
	var (
		slug         string
		formats      []string
		outDir       string
		gestures     string
		outputFormat string
		quality      int
	)

	cmd := &cobra.Command{
		Use:   "render PHOTO",
		Short: "Render framed images and thumbnails without a booth session",
		Long: `Runs the render worker's pipeline locally: the photo is cover-fit (or framed
by a replayed gesture log), composited under the location's frame and written
as a full-size image plus a 480px thumbnail for every requested format.`,
		Example: `  # All three formats for the airport
  flagbooth render arrivals.jpg --location hartsfield-jackson-airport -F square,portrait,story`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := g.catalog()
			if err != nil {
				return err
			}
			loc, err := catalog.Effective(slug)
			if err != nil {
				return err
			}
			events, err := readGestures(gestures)
			if err != nil {
				return err
			}

			processor, err := pipeline.NewLocalProcessor(outDir, g.frames())
			if err != nil {
				return err
			}

			for _, name := range formats {
				f, err := frame.ParseFormat(name)
				if err != nil {
					return err
				}
				res, err := processor.Process(cmd.Context(), pipeline.Request{
					JobID:        "local-" + uuid.NewString()[:8],
					SourceType:   pipeline.SourceTypeLocalFile,
					ObjectKey:    args[0],
					Location:     loc,
					Format:       f,
					Gestures:     events,
					OutputFormat: outputFormat,
					Quality:      quality,
				})
				if err != nil {
					return fmt.Errorf("render %s: %w", f, err)
				}
				for _, out := range res.Outputs {
					slog.Info("Rendered",
						"format", f,
						"kind", out.Kind,
						"file", filepath.Clean(out.Path),
						"size", humanize.Bytes(uint64(out.Bytes)),
						"pixels", humanize.Comma(int64(out.Width*out.Height)),
					)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&slug, "location", "l", "", "Location slug")
	cmd.Flags().StringSliceVarP(&formats, "formats", "F", []string{string(frame.FormatPortrait)}, "Frame formats to render")
	cmd.Flags().StringVarP(&outDir, "out", "o", "./renders", "Output directory")
	cmd.Flags().StringVar(&gestures, "gestures", "", "JSON gesture log to replay")
	cmd.Flags().StringVar(&outputFormat, "output-format", "jpeg", "Encoding for the full image ("+strings.Join([]string{"jpeg", "png", "webp"}, ", ")+")")
	cmd.Flags().IntVarP(&quality, "quality", "q", 92, "Lossy encoding quality")
	_ = cmd.MarkFlagRequired("location")

	return cmd
}
