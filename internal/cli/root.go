// Package cli implements musicctl, the command-line client for a musicbox server.
package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"musicbox/internal/client"
	"musicbox/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	Output  string // "table" | "yaml" | "json"
	LogFile string
	Redis   string
	Channel string
}

// ValidOutputs defines the allowed output formats.
var ValidOutputs = []string{"table", "yaml", "json"}

// DefaultServer is used when neither --server nor MUSICBOX_SERVER is set.
const DefaultServer = "http://localhost:8080"

// NewRootCommand creates the root command for musicctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "musicctl",
		Short: "Manage and play a musicbox library",
		Long: `musicctl talks to a musicbox server: upload songs, organise playlists
and play them in the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidOutputs, opts.Output) {
				return fmt.Errorf("invalid output %q: must be one of %v", opts.Output, ValidOutputs)
			}
			return nil
		},
	}

	server := os.Getenv(config.EnvPrefix + "_SERVER")
	if server == "" {
		server = DefaultServer
	}

	cmd.PersistentFlags().StringVarP(&opts.Server, "server", "s", server, "musicbox server URL")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "table", "output format (table|yaml|json)")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "write client logs to this file")
	cmd.PersistentFlags().StringVar(&opts.Redis, "redis", "", "Redis address for live catalog events")
	cmd.PersistentFlags().StringVar(&opts.Channel, "channel", "musicbox:catalog", "Redis channel carrying catalog events")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewUploadCommand(opts))
	cmd.AddCommand(NewRenameCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewMoveCommand(opts))
	cmd.AddCommand(NewPlaylistCommand(opts))
	cmd.AddCommand(NewPlayCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

func (o *RootOptions) client() (*client.Client, error) {
	return client.New(o.Server)
}
