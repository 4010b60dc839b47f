package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/flagbooth/internal/booth"
	"github.com/dunamismax/flagbooth/internal/checkin"
	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/gesture"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newCaptureCmd(g *globals) *cobra.Command {
	var (
		slug      string
		format    string
		photoPath string
		gestures  string
		outDir    string
		email     string
		firstName string
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run one booth session: frame a photo and download or check in",
		Long: `Runs a booth session the way a visitor would at a kiosk.

The location is opened, the format selected and the photo loaded with a cover
fit. An optional gesture log (JSON array of down/move/up/cancel/wheel events in
canvas pixels) is replayed through the editor before export. With --email and
--name the session checks in; otherwise the image is only downloaded.`,
		Example: `  # Frame a photo for Piedmont Park in portrait
  flagbooth capture --location piedmont-park --photo me.jpg

  # Replay recorded gestures and check in
  flagbooth capture --location west-end --format story --photo me.jpg \
    --gestures pinch.json --email fan@example.com --name Sam`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := frame.ParseFormat(format)
			if err != nil {
				return err
			}
			events, err := readGestures(gestures)
			if err != nil {
				return err
			}

			catalog, err := g.catalog()
			if err != nil {
				return err
			}

			cfg := booth.Config{
				Catalog: catalog,
				Frames:  g.frames(),
				Logger:  g.logger("booth"),
			}
			checkingIn := email != "" || firstName != ""
			if checkingIn {
				client, closeStore, err := g.checkInClient(ctx)
				if err != nil {
					return err
				}
				defer closeStore()
				cfg.CheckIn = client
			}

			c, err := booth.NewController(cfg)
			if err != nil {
				return err
			}
			defer c.Wait()

			if screen := c.Start(slug); screen != booth.ScreenLanding {
				return fmt.Errorf("unknown location %q", slug)
			}
			if err := c.BeginCapture(); err != nil {
				return err
			}
			if err := c.SelectFormat(ctx, f); err != nil {
				return err
			}

			photo, err := os.Open(photoPath)
			if err != nil {
				return fmt.Errorf("open photo: %w", err)
			}
			loaded := c.LoadPhoto(photo)
			photo.Close()
			if !loaded {
				return fmt.Errorf("%s is not a decodable photo", photoPath)
			}

			// let a designed frame asset land before the session is replayed
			c.Wait()
			replay(c, events)

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			tmp, err := os.CreateTemp(outDir, ".capture-*.jpg")
			if err != nil {
				return fmt.Errorf("create output file: %w", err)
			}
			defer os.Remove(tmp.Name())

			var outcome booth.Outcome
			if checkingIn {
				outcome, err = c.CheckIn(ctx, checkin.Visitor{Email: email, FirstName: firstName}, tmp)
			} else {
				outcome, err = c.Download(tmp)
			}
			if cerr := tmp.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				if errors.Is(err, booth.ErrMissingVisitor) {
					return fmt.Errorf("%w: pass both --email and --name", err)
				}
				return err
			}

			dest := filepath.Join(outDir, outcome.Filename)
			if err := os.Rename(tmp.Name(), dest); err != nil {
				return fmt.Errorf("save export: %w", err)
			}
			info, err := os.Stat(dest)
			if err != nil {
				return err
			}

			t := c.Transform()
			slog.Info("Capture saved",
				"file", dest,
				"size", humanize.Bytes(uint64(info.Size())),
				"scale", fmt.Sprintf("%.3f", t.Scale),
				"screen", outcome.Screen,
			)
			if checkingIn {
				msg := "Checked in"
				if outcome.Queued {
					msg = "Check-in queued until the kiosk is back online"
				}
				slog.Info(msg, "location", slug, "collected", fmt.Sprintf("%d/%d", outcome.Count, catalog.Total()))
			}
			if outcome.Screen == booth.ScreenComplete {
				slog.Info("Every flag captured! Run `flagbooth submit` to enter the prize draw")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&slug, "location", "l", "", "Location slug from the scanned QR code")
	cmd.Flags().StringVarP(&format, "format", "f", string(frame.FormatPortrait), "Frame format (square, portrait, story)")
	cmd.Flags().StringVarP(&photoPath, "photo", "p", "", "Photo to frame (JPEG, PNG, GIF or WebP)")
	cmd.Flags().StringVar(&gestures, "gestures", "", "JSON gesture log to replay")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory for the exported image")
	cmd.Flags().StringVar(&email, "email", "", "Visitor email for check-in")
	cmd.Flags().StringVar(&firstName, "name", "", "Visitor first name for check-in")
	_ = cmd.MarkFlagRequired("location")
	_ = cmd.MarkFlagRequired("photo")

	return cmd
}

func readGestures(path string) ([]gesture.Event, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gesture log: %w", err)
	}
	var events []gesture.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parse gesture log: %w", err)
	}
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("gesture %d: %w", i, err)
		}
	}
	return events, nil
}

// replay feeds recorded canvas-space events to the controller. The default
// viewport is 1:1, so canvas coordinates pass through unchanged.
func replay(c *booth.Controller, events []gesture.Event) {
	for _, e := range events {
		id := gesture.PointerID(e.Pointer)
		switch strings.ToLower(strings.TrimSpace(e.Kind)) {
		case gesture.EventDown:
			c.PointerDown(id, e.X, e.Y)
		case gesture.EventMove:
			c.PointerMove(id, e.X, e.Y)
		case gesture.EventUp:
			c.PointerUp(id)
		case gesture.EventCancel:
			c.PointerCancel(id)
		case gesture.EventWheel:
			c.Wheel(e.X, e.Y, e.DeltaY)
		}
	}
}
