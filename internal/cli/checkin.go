package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dunamismax/flagbooth/internal/checkin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newCheckInCmd(g *globals) *cobra.Command {
	var (
		slug      string
		format    string
		email     string
		firstName string
	)

	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Record a check-in without a photo",
		Long: `Records a visit for a location. When the campaign API cannot be reached the
entry is kept in the kiosk's retry queue and delivered by "flagbooth flush".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireAPI(); err != nil {
				return err
			}
			catalog, err := g.catalog()
			if err != nil {
				return err
			}
			if _, err := catalog.Effective(slug); err != nil {
				return err
			}

			client, closeStore, err := g.checkInClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			res, err := client.CheckIn(cmd.Context(), checkin.Entry{
				Email:      strings.ToLower(strings.TrimSpace(email)),
				FirstName:  strings.TrimSpace(firstName),
				LocationID: slug,
				Format:     format,
				Phase:      catalog.Phase(),
			})
			if err != nil {
				return err
			}
			if res.Queued {
				slog.Warn("Check-in queued for retry", "location", slug)
				return nil
			}
			slog.Info("Checked in", "location", slug)
			return nil
		},
	}

	cmd.Flags().StringVarP(&slug, "location", "l", "", "Location slug")
	cmd.Flags().StringVarP(&format, "format", "f", "portrait", "Format recorded with the visit")
	cmd.Flags().StringVar(&email, "email", "", "Visitor email")
	cmd.Flags().StringVar(&firstName, "name", "", "Visitor first name")
	_ = cmd.MarkFlagRequired("location")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newFlushCmd(g *globals) *cobra.Command {
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Deliver queued check-ins",
		Long: `Replays the kiosk's retry queue against the campaign API. Entries the server
accepts, or already has, are removed. With --every the queue is flushed on a
schedule until interrupted, which is how kiosks run it in the background.`,
		Example: `  flagbooth flush
  flagbooth flush --every 2m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireAPI(); err != nil {
				return err
			}
			ctx := cmd.Context()
			client, closeStore, err := g.checkInClient(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			flush := func() {
				remaining, err := client.Flush(ctx)
				if err != nil {
					slog.Error("Flush failed", "err", err)
					return
				}
				if remaining > 0 {
					slog.Warn("Check-ins still queued", "remaining", remaining)
					return
				}
				slog.Info("Retry queue empty")
			}

			if every <= 0 {
				flush()
				return nil
			}

			c := cron.New()
			if _, err := c.AddFunc(fmt.Sprintf("@every %s", every), flush); err != nil {
				return fmt.Errorf("schedule flush: %w", err)
			}
			flush()
			c.Start()
			slog.Info("Flushing on schedule", "every", every)
			<-ctx.Done()
			<-c.Stop().Done()
			return nil
		},
	}

	cmd.Flags().DurationVar(&every, "every", 0, "Flush repeatedly at this interval")

	return cmd
}

func newProgressCmd(g *globals) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show which locations a visitor has captured",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := g.catalog()
			if err != nil {
				return err
			}
			client, closeStore, err := g.checkInClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			if email == "" {
				v, ok, err := client.CachedVisitor(cmd.Context())
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("no visitor on this kiosk yet; pass --email")
				}
				email = v.Email
			}

			var p checkin.Progress
			if g.cfg.CheckIn.BaseURL == "" {
				p, err = client.CachedProgress(cmd.Context())
			} else {
				p, err = client.Progress(cmd.Context(), email)
			}
			if err != nil {
				return err
			}
			total := p.Total
			if total == 0 {
				total = catalog.Total()
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s has captured %d of %d flags\n", email, len(p.Visited), total)
			visited := make(map[string]bool, len(p.Visited))
			for _, slug := range p.Visited {
				visited[slug] = true
			}
			for _, loc := range catalog.All() {
				mark := " "
				if visited[loc.Slug] {
					mark = "x"
				}
				fmt.Fprintf(out, "  [%s] %s\n", mark, loc.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Visitor email (defaults to the kiosk's last visitor)")

	return cmd
}

func newSubmitCmd(g *globals) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a completed collection for prize review",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireAPI(); err != nil {
				return err
			}
			client, closeStore, err := g.checkInClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			id, err := client.SubmitForReview(cmd.Context(), strings.ToLower(strings.TrimSpace(email)))
			if errors.Is(err, checkin.ErrRejected) {
				slog.Warn("Submission not accepted", "reason", err)
				return err
			}
			if err != nil {
				return err
			}
			slog.Info("Submitted for review", "submission", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Visitor email")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newLeaderboardCmd(g *globals) *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the top collectors and busiest locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireAPI(); err != nil {
				return err
			}
			client, closeStore, err := g.checkInClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			board := client.Leaderboard(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Top collectors")
			for i, l := range board.Leaders {
				if top > 0 && i >= top {
					break
				}
				fmt.Fprintf(out, "  %2d. %-20s %d\n", i+1, l.FirstName, l.Count)
			}
			fmt.Fprintln(out, "Check-ins by location")
			for _, s := range board.LocationStats {
				fmt.Fprintf(out, "  %-28s %d\n", s.LocationID, s.Count)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&top, "top", 10, "Number of collectors to show")

	return cmd
}

func (g *globals) requireAPI() error {
	if strings.TrimSpace(g.cfg.CheckIn.BaseURL) == "" {
		return errors.New("FLAGBOOTH_CHECKIN_URL is not set")
	}
	return nil
}
