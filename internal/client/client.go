// Package client talks to the musicbox HTTP API and keeps a client-side
// session in step with it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Song is one song as the API returns it.
type Song struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	CoverURL   string    `json:"coverUrl,omitempty"`
	DurationMs int64     `json:"durationMs,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Snapshot is the full playlist view.
type Snapshot struct {
	Playlists map[string][]Song `json:"playlists"`
	Order     []string          `json:"order"`
}

// Songs returns the songs of one playlist, nil if it does not exist.
func (s *Snapshot) Songs(name string) []Song {
	if s == nil {
		return nil
	}
	return s.Playlists[name]
}

// Has reports whether a playlist exists.
func (s *Snapshot) Has(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Playlists[name]
	return ok
}

// BulkResult is the outcome for one file of a bulk upload.
type BulkResult struct {
	FileName string `json:"fileName"`
	Success  bool   `json:"success"`
	Song     *Song  `json:"song,omitempty"`
	Error    string `json:"error,omitempty"`
	Category string `json:"category,omitempty"`
}

// BulkReport summarizes a bulk upload.
type BulkReport struct {
	Uploaded int          `json:"uploaded"`
	Failed   int          `json:"failed"`
	Results  []BulkResult `json:"results"`
}

// APIError is a structured failure returned by the server.
type APIError struct {
	Status   int
	Category string
	Message  string
}

func (e *APIError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Category, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// IsNotFound reports whether err is a not-found API error.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client calls the musicbox API.
type Client struct {
	base *url.URL
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid server URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid server URL %q", baseURL)
	}

	c := &Client{
		base: u,
		http: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Resolve turns a possibly relative media URL into an absolute one.
func (c *Client) Resolve(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.base.ResolveReference(u).String()
}

// HTTP returns the underlying HTTP client, for fetching media.
func (c *Client) HTTP() *http.Client {
	return c.http
}

// Snapshot fetches every playlist with resolved songs.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/playlists", nil, &snap); err != nil {
		return nil, err
	}
	if snap.Playlists == nil {
		snap.Playlists = map[string][]Song{}
	}
	return &snap, nil
}

// Upload sends one file. displayName may be empty.
func (c *Client) Upload(ctx context.Context, path, displayName string) (*Song, error) {
	fields := map[string]string{}
	if displayName != "" {
		fields["name"] = displayName
	}
	body, contentType, err := multipartBody([]string{path}, fields)
	if err != nil {
		return nil, err
	}

	var res struct {
		Song *Song `json:"song"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/upload", body, contentType, &res); err != nil {
		return nil, err
	}
	return res.Song, nil
}

// UploadBulk sends several files in one request.
func (c *Client) UploadBulk(ctx context.Context, paths []string) (*BulkReport, error) {
	body, contentType, err := multipartBody(paths, nil)
	if err != nil {
		return nil, err
	}

	var report BulkReport
	if err := c.send(ctx, http.MethodPost, "/api/upload/bulk", body, contentType, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// RenameSong changes a song's display name.
func (c *Client) RenameSong(ctx context.Context, songID, newName string) error {
	return c.do(ctx, http.MethodPut, "/api/song/rename", map[string]string{
		"songId":  songID,
		"newName": newName,
	}, nil)
}

// DeleteSong purges the song when playlist is the reserved one and unlinks
// it otherwise. It returns "purged" or "unlinked".
func (c *Client) DeleteSong(ctx context.Context, songID, playlist string) (string, error) {
	var res struct {
		Outcome string `json:"outcome"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/song", map[string]string{
		"songId":       songID,
		"playlistName": playlist,
	}, &res)
	return res.Outcome, err
}

// MoveSong moves a song between playlists.
func (c *Client) MoveSong(ctx context.Context, songID, from, to string) error {
	return c.do(ctx, http.MethodPut, "/api/song/move", map[string]string{
		"songId":       songID,
		"fromPlaylist": from,
		"toPlaylist":   to,
	}, nil)
}

// CreatePlaylist creates an empty playlist.
func (c *Client) CreatePlaylist(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/api/playlist", map[string]string{"name": name}, nil)
}

// RenamePlaylist renames a playlist.
func (c *Client) RenamePlaylist(ctx context.Context, oldName, newName string) error {
	return c.do(ctx, http.MethodPut, "/api/playlist/rename", map[string]string{
		"oldName": oldName,
		"newName": newName,
	}, nil)
}

// DeletePlaylist deletes a playlist. Its songs stay in the catalog.
func (c *Client) DeletePlaylist(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/playlist", map[string]string{"name": name}, nil)
}

// AddSongs adds existing songs to a playlist.
func (c *Client) AddSongs(ctx context.Context, playlist string, songIDs []string) error {
	return c.do(ctx, http.MethodPost, "/api/playlist/add-songs", map[string]any{
		"playlistName": playlist,
		"songIds":      songIDs,
	}, nil)
}

// Open streams a media URL returned by the API.
func (c *Client) Open(ctx context.Context, mediaURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Resolve(mediaURL), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build media request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch media")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, body, contentType, out)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s failed", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error    string `json:"error"`
		Category string `json:"category"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
	}
	return &APIError{Status: resp.StatusCode, Category: body.Category, Message: body.Error}
}

func multipartBody(paths []string, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range paths {
		if err := addFile(w, p); err != nil {
			return nil, "", err
		}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", errors.Wrap(err, "failed to write form field")
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "failed to finish multipart body")
	}
	return &buf, w.FormDataContentType(), nil
}

func addFile(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	part, err := w.CreateFormFile("audio", filepath.Base(path))
	if err != nil {
		return errors.Wrap(err, "failed to create form file")
	}
	if _, err := io.Copy(part, f); err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	return nil
}
