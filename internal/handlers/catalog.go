package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"musicbox/internal/catalog"
	"musicbox/internal/logging"
	"musicbox/internal/media"
	"musicbox/internal/metrics"
	"musicbox/internal/utils"
)

// MaxBulkFiles bounds how many files one bulk upload may carry.
const MaxBulkFiles = 50

// BulkUploadPath is the route that needs the larger body ceiling.
const BulkUploadPath = "/api/upload/bulk"

// multipartOverhead covers form boundaries, part headers and the name field.
const multipartOverhead = 64 << 10

// UploadBodyLimits returns the request body ceiling for every route except
// the bulk upload, and the ceiling for the bulk upload.
func UploadBodyLimits(maxBytes int64) (single, bulk int64) {
	return maxBytes + multipartOverhead, maxBytes*MaxBulkFiles + multipartOverhead
}

// CatalogHandler exposes the catalog over HTTP.
type CatalogHandler struct {
	svc    *catalog.Service
	policy media.UploadPolicy
	logger zerolog.Logger
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(svc *catalog.Service, policy media.UploadPolicy) *CatalogHandler {
	return &CatalogHandler{
		svc:    svc,
		policy: policy,
		logger: logging.WithModule("handlers"),
	}
}

type renameSongRequest struct {
	SongID  string `json:"songId"`
	NewName string `json:"newName"`
}

type deleteSongRequest struct {
	SongID       string `json:"songId"`
	PlaylistName string `json:"playlistName"`
}

type moveSongRequest struct {
	SongID       string `json:"songId"`
	FromPlaylist string `json:"fromPlaylist"`
	ToPlaylist   string `json:"toPlaylist"`
}

type playlistRequest struct {
	Name string `json:"name"`
}

type renamePlaylistRequest struct {
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

type addSongsRequest struct {
	PlaylistName string   `json:"playlistName"`
	SongIDs      []string `json:"songIds"`
}

// BulkResult reports the outcome of one file in a bulk upload.
type BulkResult struct {
	FileName string            `json:"fileName"`
	Success  bool              `json:"success"`
	Song     *catalog.SongView `json:"song,omitempty"`
	Error    string            `json:"error,omitempty"`
	Category string            `json:"category,omitempty"`
}

// RegisterRoutes mounts the catalog API under /api. uploadGuard, when not
// nil, runs before both upload routes.
func (h *CatalogHandler) RegisterRoutes(app fiber.Router, uploadGuard fiber.Handler) {
	api := app.Group("/api")

	api.Get("/playlists", h.GetPlaylists)

	uploads := []fiber.Handler{}
	if uploadGuard != nil {
		uploads = append(uploads, uploadGuard)
	}
	api.Post("/upload", append(uploads, h.Upload)...)
	api.Post("/upload/bulk", append(uploads, h.BulkUpload)...)

	api.Put("/song/rename", h.RenameSong)
	api.Delete("/song", h.DeleteSong)
	api.Put("/song/move", h.MoveSong)

	api.Post("/playlist", h.CreatePlaylist)
	api.Put("/playlist/rename", h.RenamePlaylist)
	api.Delete("/playlist", h.DeletePlaylist)
	api.Post("/playlist/add-songs", h.AddSongs)
}

// GetPlaylists returns the full snapshot.
func (h *CatalogHandler) GetPlaylists(c *fiber.Ctx) error {
	snap, err := h.svc.Snapshot(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return utils.SendSuccess(c, http.StatusOK, fiber.Map{
		"playlists": snap.Playlists,
		"order":     snap.Order,
	})
}

// Upload stores one file from the multipart field "audio".
func (h *CatalogHandler) Upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("audio")
	if err != nil {
		return utils.SendValidationError(c, "multipart field \"audio\" is required")
	}

	song, err := h.addFile(c, fh, c.FormValue("name"))
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, http.StatusCreated, fiber.Map{"song": song})
}

// BulkUpload stores every "audio" file and reports each result. One bad
// file does not stop the rest.
func (h *CatalogHandler) BulkUpload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return utils.SendValidationError(c, "multipart body is required")
	}
	files := form.File["audio"]
	if len(files) == 0 {
		return utils.SendValidationError(c, "no files in field \"audio\"")
	}
	if len(files) > MaxBulkFiles {
		return utils.SendValidationError(c, fmt.Sprintf("at most %d files per bulk upload", MaxBulkFiles))
	}

	results := make([]BulkResult, 0, len(files))
	uploaded := 0
	for _, fh := range files {
		song, err := h.addFile(c, fh, "")
		if err != nil {
			results = append(results, BulkResult{
				FileName: fh.Filename,
				Error:    publicMessage(err),
				Category: string(catalog.KindOf(err)),
			})
			continue
		}
		uploaded++
		results = append(results, BulkResult{FileName: fh.Filename, Success: true, Song: song})
	}

	h.logger.Info().Int("uploaded", uploaded).Int("total", len(files)).Msg("Bulk upload finished")
	return utils.SendSuccess(c, http.StatusOK, fiber.Map{
		"uploaded": uploaded,
		"failed":   len(files) - uploaded,
		"results":  results,
	})
}

func (h *CatalogHandler) addFile(c *fiber.Ctx, fh *multipart.FileHeader, displayName string) (*catalog.SongView, error) {
	// Reject on the declared size before reading anything.
	if !h.policy.Fits(fh.Size) {
		metrics.UploadsTotal.WithLabelValues(string(catalog.KindValidation)).Inc()
		return nil, fmt.Errorf("%w: %d bytes, limit %d", catalog.ErrPayloadTooLarge, fh.Size, h.policy.MaxBytes)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.policy.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	song, err := h.svc.AddSong(c.UserContext(), catalog.Upload{
		FileName:    fh.Filename,
		DisplayName: displayName,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Data:        data,
	})
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(string(catalog.KindOf(err))).Inc()
		return nil, err
	}
	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	metrics.UploadBytesTotal.Add(float64(len(data)))
	return song, nil
}

// RenameSong handles PUT /api/song/rename.
func (h *CatalogHandler) RenameSong(c *fiber.Ctx) error {
	var req renameSongRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendValidationError(c, "Invalid request body")
	}
	if strings.TrimSpace(req.SongID) == "" {
		return utils.SendValidationError(c, "songId is required")
	}
	if err := h.svc.RenameSong(c.UserContext(), req.SongID, req.NewName); err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, http.StatusOK, nil)
}

// DeleteSong handles DELETE /api/song.
func (h *CatalogHandler) DeleteSong(c *fiber.Ctx) error {
	var req deleteSongRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendValidationError(c, "Invalid request body")
	}
	if strings.TrimSpace(req.SongID) == "" {
		return utils.SendValidationError(c, "songId is required")
	}
	outcome, err := h.svc.DeleteSong(c.UserContext(), req.SongID, req.PlaylistName)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, http.StatusOK, fiber.Map{"outcome": outcome})
}

// MoveSong handles PUT /api/song/move.
func (h *CatalogHandler) MoveSong(c *fiber.Ctx) error {
	var req moveSongRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendValidationError(c, "Invalid request body")
	}
	if strings.TrimSpace(req.SongID) == "" {
		return utils.SendValidationError(c, "songId is required")
	}
	if err := h.svc.MoveSong(c.UserContext(), req.SongID, req.FromPlaylist, req.ToPlaylist); err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, http.StatusOK, nil)
}

// CreatePlaylist handles POST /api/playlist.
func (h *CatalogHandler) CreatePlaylist(c *fiber.Ctx) error {
	var req playlistRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendValidationError(c, "Invalid request body")
	}
	if err := h.svc.CreatePlaylist(c.UserContext(), req.Name); err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, http.StatusCreated, nil)
}

// RenamePlaylist handles PUT /api/playlist/rename.
func (h *CatalogHandler) RenamePlaylist(c *fiber.Ctx) error {
	var req renamePlaylistRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendValidationError(c, "Invalid request body")
	}
	if err := h.svc.RenamePlaylist(c.UserContext(), req.OldName, req.NewName); err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, http.StatusOK, nil)
}

// DeletePlaylist handles DELETE /api/playlist.
func (h *CatalogHandler) DeletePlaylist(c *fiber.Ctx) error {
	var req playlistRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendValidationError(c, "Invalid request body")
	}
	if err := h.svc.DeletePlaylist(c.UserContext(), req.Name); err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, http.StatusOK, nil)
}

// AddSongs handles POST /api/playlist/add-songs.
func (h *CatalogHandler) AddSongs(c *fiber.Ctx) error {
	var req addSongsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendValidationError(c, "Invalid request body")
	}
	if len(req.SongIDs) == 0 {
		return utils.SendValidationError(c, "songIds must not be empty")
	}
	if err := h.svc.AddSongsToPlaylist(c.UserContext(), req.PlaylistName, req.SongIDs); err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, http.StatusOK, nil)
}

func (h *CatalogHandler) fail(c *fiber.Ctx, err error) error {
	kind := catalog.KindOf(err)
	if kind == catalog.KindStorage || kind == catalog.KindInternal {
		logging.WithContext(c.UserContext()).Error().Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg("Catalog request failed")
	}
	return utils.SendCatalogError(c, err)
}

func publicMessage(err error) string {
	switch catalog.KindOf(err) {
	case catalog.KindStorage:
		return "storage failure, please retry"
	case catalog.KindInternal:
		return "internal server error"
	}
	return err.Error()
}
