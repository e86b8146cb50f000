package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"musicbox/internal/audio"
	"musicbox/internal/client"
	"musicbox/internal/events"
	"musicbox/internal/logging"
	"musicbox/internal/player"
	"musicbox/internal/tui"
)

// NewPlayCommand opens the terminal player.
func NewPlayCommand(opts *RootOptions) *cobra.Command {
	var shuffle bool

	cmd := &cobra.Command{
		Use:   "play [playlist]",
		Short: "Play a playlist in the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, closeLog, err := opts.logger()
			if err != nil {
				return err
			}
			defer closeLog()

			api, err := opts.client()
			if err != nil {
				return err
			}

			notices := make(tui.Notifier, 16)
			ctrl := player.NewController(audio.NewElement(api.Open),
				player.WithNotifier(notices),
				player.WithLogger(logger),
			)
			if !audio.Available {
				logger.Warn().Msg("No audio output in this build; playing silently")
			}

			sess := client.NewSession(api, ctrl)
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := sess.Refresh(ctx); err != nil {
				return err
			}
			if len(args) == 1 {
				if err := sess.Switch(ctx, args[0]); err != nil {
					return err
				}
			}
			if shuffle {
				ctrl.ToggleShuffle()
			}

			if opts.Redis != "" {
				go followCatalog(ctx, opts, sess, logger)
			}

			return tui.Run(sess, notices)
		},
	}

	cmd.Flags().BoolVar(&shuffle, "shuffle", false, "start with shuffle on")
	return cmd
}

// followCatalog refreshes the session whenever another client changes the
// catalog.
func followCatalog(ctx context.Context, opts *RootOptions, sess *client.Session, logger zerolog.Logger) {
	rdb := redis.NewClient(&redis.Options{Addr: opts.Redis})
	defer rdb.Close()

	for ev := range events.Subscribe(ctx, rdb, opts.Channel) {
		logger.Debug().Str("event", string(ev.Type)).Str("song_id", ev.SongID).Msg("Catalog changed")
		if err := sess.Refresh(ctx); err != nil {
			logger.Warn().Err(err).Msg("Refresh after catalog event failed")
		}
	}
}

// NewWatchCommand prints catalog events as they happen.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print catalog changes published by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Redis == "" {
				return fmt.Errorf("--redis is required")
			}
			rdb := redis.NewClient(&redis.Options{Addr: opts.Redis})
			defer rdb.Close()

			if err := rdb.Ping(cmd.Context()).Err(); err != nil {
				return fmt.Errorf("redis unreachable: %w", err)
			}

			out := cmd.OutOrStdout()
			for ev := range events.Subscribe(cmd.Context(), rdb, opts.Channel) {
				fmt.Fprintf(out, "%s  %-22s %s\n", ev.At.Local().Format(time.TimeOnly), ev.Type, strings.TrimSpace(describe(ev)))
			}
			return nil
		},
	}
}

func describe(ev events.Event) string {
	switch {
	case ev.Target != "" && ev.Playlist != "":
		return fmt.Sprintf("%s %q -> %q", ev.SongID, ev.Playlist, ev.Target)
	case ev.Target != "":
		return fmt.Sprintf("%s -> %q", ev.SongID, ev.Target)
	case ev.Count > 0:
		return fmt.Sprintf("%q +%d", ev.Playlist, ev.Count)
	case ev.Playlist != "":
		return fmt.Sprintf("%s %q", ev.SongID, ev.Playlist)
	}
	return ev.SongID
}

// logger returns a file logger when --log-file is set. The player owns the
// terminal, so logs are otherwise dropped.
func (o *RootOptions) logger() (zerolog.Logger, func(), error) {
	if o.LogFile == "" {
		return zerolog.Nop(), func() {}, nil
	}
	f, err := os.OpenFile(o.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logging.NewLogger(logging.DebugLevel, f).Zerolog(), func() { _ = f.Close() }, nil
}
