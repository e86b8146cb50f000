package cli

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"musicbox/internal/catalog"
	"musicbox/internal/events"
	"musicbox/internal/handlers"
	"musicbox/internal/media"
	"musicbox/internal/services"
	"musicbox/internal/storage"
	"musicbox/internal/test"
)

type noCover struct{}

func (noCover) ExtractCover([]byte) (*media.Cover, error) { return nil, nil }

func newServer(t *testing.T) string {
	t.Helper()
	db, tearDown := test.GetTestDB(t)
	t.Cleanup(tearDown)

	store := storage.NewMemoryStore("/media")
	policy := media.DefaultUploadPolicy()
	svc := catalog.New(services.NewRepository(db), store,
		catalog.WithUploadPolicy(policy),
		catalog.WithCoverExtractor(noCover{}),
		catalog.WithDurationProber(nil),
		catalog.WithLogger(zerolog.Nop()),
	)

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	handlers.NewCatalogHandler(svc, policy).RegisterRoutes(app, nil)
	handlers.NewMediaHandler(store).RegisterRoutes(app)

	srv := httptest.NewServer(adaptor.FiberApp(app))
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("audio "+name), 0o600))
	return p
}

func songIDs(t *testing.T, server, playlist string) []string {
	t.Helper()
	out, err := run(t, server, "-o", "json", "ls", playlist)
	require.NoError(t, err)
	var rows []SongSummary
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"ls", "upload", "rename", "rm", "mv", "playlist", "play", "watch"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	t.Setenv("MUSICBOX_SERVER", "http://music.lan:9000")
	cmd := NewRootCommand()

	server := cmd.PersistentFlags().Lookup("server")
	require.NotNil(t, server)
	assert.Equal(t, "s", server.Shorthand)
	assert.Equal(t, "http://music.lan:9000", server.DefValue)

	output := cmd.PersistentFlags().Lookup("output")
	require.NotNil(t, output)
	assert.Equal(t, "table", output.DefValue)
}

func TestInvalidOutput(t *testing.T) {
	_, err := run(t, "http://localhost:1", "-o", "xml", "ls")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output")
}

func TestListEmptyLibrary(t *testing.T) {
	server := newServer(t)

	out, err := run(t, server, "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "default")
	assert.Contains(t, out, "library")

	out, err = run(t, server, "-o", "yaml", "ls")
	require.NoError(t, err)
	var rows []PlaylistSummary
	require.NoError(t, yaml.Unmarshal([]byte(out), &rows))
	assert.Equal(t, []PlaylistSummary{{Name: "default", Songs: 0, Reserved: true}}, rows)

	_, err = run(t, server, "ls", "Nope")
	assert.Error(t, err)
}

func TestUploadAndList(t *testing.T) {
	server := newServer(t)

	out, err := run(t, server, "upload", writeFile(t, "a.mp3"), writeFile(t, "b.flac"), writeFile(t, "notes.txt"))
	require.NoError(t, err)
	// Footers render upper-case.
	assert.Contains(t, out, "2 UPLOADED")
	assert.Contains(t, out, "1 FAILED")

	out, err = run(t, server, "upload", "--name", "Blue in Green", writeFile(t, "c.mp3"))
	require.NoError(t, err)
	assert.Contains(t, out, `Uploaded "Blue in Green"`)

	out, err = run(t, server, "ls", "default")
	require.NoError(t, err)
	assert.Contains(t, out, "Blue in Green")
	assert.Contains(t, out, "3 SONGS")

	_, err = run(t, server, "upload", "--name", "x", writeFile(t, "d.mp3"), writeFile(t, "e.mp3"))
	assert.Error(t, err)

	_, err = run(t, server, "upload", writeFile(t, "only.txt"))
	assert.Error(t, err)
}

func TestRemoveReportsOutcome(t *testing.T) {
	server := newServer(t)
	_, err := run(t, server, "upload", writeFile(t, "a.mp3"), writeFile(t, "b.mp3"))
	require.NoError(t, err)
	ids := songIDs(t, server, "default")
	require.Len(t, ids, 2)

	_, err = run(t, server, "playlist", "add", "Gym", ids[0], ids[1])
	require.NoError(t, err)

	out, err := run(t, server, "rm", "--playlist", "Gym", ids[0])
	require.NoError(t, err)
	assert.Contains(t, out, "unlinked")
	assert.Len(t, songIDs(t, server, "default"), 2)

	out, err = run(t, server, "rm", ids[1])
	require.NoError(t, err)
	assert.Contains(t, out, "purged")
	assert.Len(t, songIDs(t, server, "default"), 1)
	assert.Empty(t, songIDs(t, server, "Gym"))
}

func TestPlaylistCommands(t *testing.T) {
	server := newServer(t)
	_, err := run(t, server, "upload", writeFile(t, "a.mp3"))
	require.NoError(t, err)
	id := songIDs(t, server, "default")[0]

	_, err = run(t, server, "playlist", "create", "Gym")
	require.NoError(t, err)
	_, err = run(t, server, "playlist", "create", "Gym")
	assert.Error(t, err)

	_, err = run(t, server, "playlist", "add", "Gym", id)
	require.NoError(t, err)
	_, err = run(t, server, "playlist", "rename", "Gym", "Workout")
	require.NoError(t, err)

	_, err = run(t, server, "mv", id, "Workout", "Chill")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, songIDs(t, server, "Chill"))
	assert.Empty(t, songIDs(t, server, "Workout"))

	_, err = run(t, server, "rename", id, "Renamed")
	require.NoError(t, err)

	_, err = run(t, server, "playlist", "delete", "Workout")
	require.NoError(t, err)
	_, err = run(t, server, "playlist", "delete", "default")
	assert.Error(t, err)

	out, err := run(t, server, "-o", "json", "ls")
	require.NoError(t, err)
	var rows []PlaylistSummary
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Equal(t, []PlaylistSummary{
		{Name: "default", Songs: 1, Reserved: true},
		{Name: "Chill", Songs: 1},
	}, rows)
}

func TestWatchNeedsRedis(t *testing.T) {
	_, err := run(t, "http://localhost:1", "watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--redis")
}

func TestDescribeEvent(t *testing.T) {
	assert.Equal(t, `s1 "Gym" -> "Chill"`, describe(events.Event{Type: events.SongMoved, SongID: "s1", Playlist: "Gym", Target: "Chill"}))
	assert.Equal(t, `"Gym" +3`, describe(events.Event{Type: events.PlaylistSongsAdded, Playlist: "Gym", Count: 3}))
	assert.Equal(t, "s1", describe(events.Event{Type: events.SongRenamed, SongID: "s1"}))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "", formatDuration(0))
	assert.Equal(t, "3:05", formatDuration(185000))
}
