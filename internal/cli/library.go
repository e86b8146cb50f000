package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"musicbox/internal/client"
)

// NewListCommand lists playlists, or the songs of one playlist.
func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "ls [playlist]",
		Aliases: []string{"list", "playlists"},
		Short:   "List playlists or the songs in a playlist",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.client()
			if err != nil {
				return err
			}
			snap, err := api.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return renderPlaylists(cmd.OutOrStdout(), opts.Output, summarizePlaylists(snap))
			}
			if !snap.Has(args[0]) {
				return fmt.Errorf("%w: %q", client.ErrUnknownPlaylist, args[0])
			}
			return renderSongs(cmd.OutOrStdout(), opts.Output, summarizeSongs(snap.Songs(args[0])))
		},
	}
}

// NewUploadCommand uploads one or more audio files.
func NewUploadCommand(opts *RootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload audio files into the library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.client()
			if err != nil {
				return err
			}
			if name != "" {
				if len(args) != 1 {
					return fmt.Errorf("--name needs exactly one file")
				}
				song, err := api.Upload(cmd.Context(), args[0], name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %q (%s)\n", song.Name, song.ID)
				return nil
			}

			report, err := api.UploadBulk(cmd.Context(), args)
			if err != nil {
				return err
			}
			if err := renderBulk(cmd.OutOrStdout(), opts.Output, report); err != nil {
				return err
			}
			if report.Uploaded == 0 {
				return fmt.Errorf("no files uploaded")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "display name for a single upload")
	return cmd
}

// NewRenameCommand renames a song everywhere it appears.
func NewRenameCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <song-id> <new-name>",
		Short: "Rename a song",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.client()
			if err != nil {
				return err
			}
			if err := api.RenameSong(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", args[0], args[1])
			return nil
		},
	}
}

// NewRemoveCommand deletes a song from a playlist. Deleting from the
// library playlist removes the song everywhere.
func NewRemoveCommand(opts *RootOptions) *cobra.Command {
	var playlist string

	cmd := &cobra.Command{
		Use:     "rm <song-id>",
		Aliases: []string{"delete"},
		Short:   "Remove a song from a playlist, or from everywhere",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.client()
			if err != nil {
				return err
			}
			if playlist == "" {
				snap, err := api.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				if len(snap.Order) == 0 {
					return fmt.Errorf("server reported no playlists")
				}
				playlist = snap.Order[0]
			}
			outcome, err := api.DeleteSong(cmd.Context(), args[0], playlist)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s from %q\n", outcome, args[0], playlist)
			return nil
		},
	}

	cmd.Flags().StringVarP(&playlist, "playlist", "p", "", "playlist to remove from (default: the library)")
	return cmd
}

// NewMoveCommand moves a song between playlists.
func NewMoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <song-id> <from> <to>",
		Short: "Move a song from one playlist to another",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.client()
			if err != nil {
				return err
			}
			if err := api.MoveSong(cmd.Context(), args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Moved %s from %q to %q\n", args[0], args[1], args[2])
			return nil
		},
	}
}
