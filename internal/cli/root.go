// Package cli implements the flagbooth command: the booth session driver and
// the check-in maintenance tools used at the kiosks.
package cli

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/dunamismax/flagbooth/internal/bootstrap"
	"github.com/dunamismax/flagbooth/internal/checkin"
	"github.com/dunamismax/flagbooth/internal/config"
	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/location"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type globals struct {
	verbose  bool
	frameDir string
	phase    string
	campaign string
	cfg      config.Config
}

func NewRootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   "flagbooth",
		Short: "Capture the Flag photo booth",
		Long: `flagbooth frames visitor photos for the Capture the Flag campaign.

It drives a booth session from the command line, renders frame overlays and
keeps the kiosk's offline check-in queue flowing to the campaign API.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional on kiosks
			_ = godotenv.Load()
			g.cfg = config.Load()
			if g.frameDir != "" {
				g.cfg.Frames.AssetDir = g.frameDir
			}
			if g.phase != "" {
				g.cfg.Campaign.Phase = g.phase
			}
			if g.campaign != "" {
				g.cfg.Campaign.File = g.campaign
			}

			level := slog.LevelInfo
			if g.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Verbose logging")
	cmd.PersistentFlags().StringVar(&g.frameDir, "frames", "", "Directory of designed frame assets (overrides FLAGBOOTH_FRAME_DIR)")
	cmd.PersistentFlags().StringVar(&g.phase, "phase", "", "Campaign phase (overrides FLAGBOOTH_PHASE)")
	cmd.PersistentFlags().StringVar(&g.campaign, "campaign", "", "Campaign YAML file (overrides FLAGBOOTH_CAMPAIGN_FILE)")

	cmd.AddCommand(
		newCaptureCmd(g),
		newRenderCmd(g),
		newFrameCmd(g),
		newLocationsCmd(g),
		newCheckInCmd(g),
		newFlushCmd(g),
		newProgressCmd(g),
		newSubmitCmd(g),
		newLeaderboardCmd(g),
	)

	return cmd
}

// logger bridges slog into the *log.Logger the booth packages take. Their
// messages are diagnostics, so they surface with --verbose.
func (g *globals) logger(component string) *log.Logger {
	return slog.NewLogLogger(slog.Default().With("component", component).Handler(), slog.LevelDebug)
}

func (g *globals) catalog() (*location.Catalog, error) {
	return bootstrap.Catalog(g.cfg.Campaign)
}

func (g *globals) frames() *frame.Provider {
	return frame.NewProvider(bootstrap.FrameSource(g.cfg.Frames, nil), g.logger("frames"))
}

// checkInClient opens the kiosk's local store and returns a client for the
// configured check-in API. The returned func closes the store.
func (g *globals) checkInClient(ctx context.Context) (*checkin.Client, func(), error) {
	store, err := checkin.NewSQLiteStore(ctx, g.cfg.CheckIn.StorePath)
	if err != nil {
		return nil, nil, err
	}
	client := checkin.NewClient(checkin.Config{
		BaseURL: g.cfg.CheckIn.BaseURL,
		Timeout: g.cfg.CheckIn.Timeout,
	}, store, g.logger("checkin"))
	return client, func() {
		if err := store.Close(); err != nil {
			slog.Warn("close check-in store", "err", err)
		}
	}, nil
}
