package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"musicbox/internal/client"
)

// PlaylistSummary is one row of the playlist listing.
type PlaylistSummary struct {
	Name     string `json:"name" yaml:"name"`
	Songs    int    `json:"songs" yaml:"songs"`
	Reserved bool   `json:"reserved,omitempty" yaml:"reserved,omitempty"`
}

// SongSummary is one row of a song listing.
type SongSummary struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
	URL      string `json:"url" yaml:"url"`
}

func summarizePlaylists(snap *client.Snapshot) []PlaylistSummary {
	out := make([]PlaylistSummary, 0, len(snap.Order))
	for i, name := range snap.Order {
		out = append(out, PlaylistSummary{Name: name, Songs: len(snap.Songs(name)), Reserved: i == 0})
	}
	return out
}

func summarizeSongs(songs []client.Song) []SongSummary {
	out := make([]SongSummary, 0, len(songs))
	for _, s := range songs {
		out = append(out, SongSummary{ID: s.ID, Name: s.Name, Duration: formatDuration(s.DurationMs), URL: s.URL})
	}
	return out
}

func formatDuration(ms int64) string {
	if ms <= 0 {
		return ""
	}
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// render writes value in the requested format. Table output is built by fill.
func render(w io.Writer, format string, value any, fill func(t table.Writer)) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(value); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	fill(t)
	t.Render()
	return nil
}

func renderPlaylists(w io.Writer, format string, rows []PlaylistSummary) error {
	return render(w, format, rows, func(t table.Writer) {
		t.AppendHeader(table.Row{"Playlist", "Songs", ""})
		t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
		for _, r := range rows {
			mark := ""
			if r.Reserved {
				mark = "library"
			}
			t.AppendRow(table.Row{r.Name, r.Songs, mark})
		}
	})
}

func renderSongs(w io.Writer, format string, rows []SongSummary) error {
	return render(w, format, rows, func(t table.Writer) {
		t.AppendHeader(table.Row{"#", "ID", "Name", "Length"})
		t.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, Align: text.AlignRight},
			{Number: 4, Align: text.AlignRight},
		})
		for i, r := range rows {
			t.AppendRow(table.Row{i + 1, r.ID, r.Name, r.Duration})
		}
		t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d songs", len(rows)), ""})
	})
}

func renderBulk(w io.Writer, format string, report *client.BulkReport) error {
	return render(w, format, report, func(t table.Writer) {
		t.AppendHeader(table.Row{"File", "Result", "Detail"})
		for _, r := range report.Results {
			if r.Success {
				detail := ""
				if r.Song != nil {
					detail = r.Song.ID
				}
				t.AppendRow(table.Row{r.FileName, text.FgGreen.Sprint("ok"), detail})
				continue
			}
			t.AppendRow(table.Row{r.FileName, text.FgRed.Sprint(r.Category), r.Error})
		}
		t.AppendFooter(table.Row{"", fmt.Sprintf("%d uploaded", report.Uploaded), fmt.Sprintf("%d failed", report.Failed)})
	})
}
