package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dunamismax/flagbooth/internal/compose"
	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newFrameCmd(g *globals) *cobra.Command {
	var (
		format     string
		outDir     string
		procedural bool
	)

	cmd := &cobra.Command{
		Use:   "frame LOCATION...",
		Short: "Write frame overlays as transparent PNGs",
		Long: `Writes the overlay a visitor would see for each location. The designed asset
is used when one is available and keyed to a transparent window; otherwise the
procedural frame is drawn. Pass "all" to export every location.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := frame.ParseFormat(format)
			if err != nil {
				return err
			}
			catalog, err := g.catalog()
			if err != nil {
				return err
			}
			slugs := args
			if len(args) == 1 && args[0] == "all" {
				slugs = make([]string, 0, catalog.Total())
				for _, loc := range catalog.All() {
					slugs = append(slugs, loc.Slug)
				}
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}

			frames := g.frames()
			for _, slug := range slugs {
				loc, err := catalog.Effective(slug)
				if err != nil {
					return err
				}
				overlay := frames.Procedural(loc, f)
				if !procedural {
					overlay = frames.Best(cmd.Context(), loc, f)
				}
				data, err := compose.EncodeBytes(overlay, "png", 0)
				if err != nil {
					return err
				}
				dest := filepath.Join(outDir, frame.AssetName(loc.Slug, f))
				if err := os.WriteFile(dest, data, 0o644); err != nil {
					return fmt.Errorf("write frame: %w", err)
				}
				slog.Info("Frame written", "file", dest, "size", humanize.Bytes(uint64(len(data))), "knockout", loc.Knockout)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(frame.FormatPortrait), "Frame format (square, portrait, story)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "./frames-out", "Output directory")
	cmd.Flags().BoolVar(&procedural, "procedural", false, "Ignore designed assets")

	return cmd
}
