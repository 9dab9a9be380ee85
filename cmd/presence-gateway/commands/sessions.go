package commands

import (
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/anatoly-dev/go-presence-gateway/pkg/config"
	"github.com/anatoly-dev/go-presence-gateway/pkg/models"
	"github.com/anatoly-dev/go-presence-gateway/pkg/redis"
	"github.com/spf13/cobra"
)

// NewSessionsCommand reads the presence mirror a running gateway keeps in
// Redis. It needs redis.addr but not redis.enabled.
func NewSessionsCommand() *cobra.Command {
	var (
		configPath string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List live presence sessions from the Redis mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			logger, err := config.NewLogger(&cfg.Logger)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Sync()

			mirror, err := redis.NewPresenceMirror(&cfg.Redis, logger)
			if err != nil {
				return err
			}
			defer mirror.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sessions, err := mirror.Sessions(ctx)
			if err != nil {
				return err
			}
			if err := printSessions(cmd.OutOrStdout(), sessions); err != nil {
				return err
			}

			if !watch {
				return nil
			}

			out := cmd.OutOrStdout()
			return mirror.Watch(ctx, func(event *models.Event) {
				fmt.Fprintln(out, formatEvent(event, time.Now()))
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and print presence events as they happen")

	return cmd
}

func printSessions(w io.Writer, sessions []models.UserState) error {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UserID < sessions[j].UserID
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER ID\tUSERNAME\tCOLOR\tX\tY\tIDLE")
	for _, s := range sessions {
		var x, y float64
		if s.CursorPosition != nil {
			x, y = s.CursorPosition.X, s.CursorPosition.Y
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%g\t%t\n", s.UserID, s.Username, s.Color, x, y, s.IsIdle)
	}
	return tw.Flush()
}

func formatEvent(event *models.Event, at time.Time) string {
	line := fmt.Sprintf("%s %-11s %s (%s)", at.Format(time.TimeOnly), event.Type, event.Username, event.UserID)
	if event.Type == models.EventCursorMove && event.Position != nil {
		line += fmt.Sprintf(" -> %g,%g", event.Position.X, event.Position.Y)
	}
	return line
}
