package handlers

import (
	"errors"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"musicbox/internal/catalog"
	"musicbox/internal/media"
	"musicbox/internal/storage"
	"musicbox/internal/utils"
)

// MediaHandler streams blobs for backends without their own public endpoint.
type MediaHandler struct {
	store storage.BlobStore
}

func NewMediaHandler(store storage.BlobStore) *MediaHandler {
	return &MediaHandler{store: store}
}

// RegisterRoutes serves GET /media/*. The disk backend is served straight
// from its root with range support; other backends stream through Open.
func (h *MediaHandler) RegisterRoutes(app *fiber.App) {
	if disk, ok := h.store.(*storage.DiskStore); ok {
		app.Static("/media", disk.Root(), fiber.Static{ByteRange: true})
		return
	}
	app.Get("/media/*", h.Serve)
}

// Serve streams one blob.
func (h *MediaHandler) Serve(c *fiber.Ctx) error {
	key, err := keyFromParam(c.Params("*"))
	if err != nil {
		return utils.SendValidationError(c, "invalid media key")
	}

	rc, err := h.store.Open(c.UserContext(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, string(catalog.KindNotFound), "media not found")
		}
		if errors.Is(err, storage.ErrInvalidKey) {
			return utils.SendValidationError(c, "invalid media key")
		}
		return utils.SendError(c, fiber.StatusBadGateway, string(catalog.KindStorage), "storage failure, please retry")
	}

	c.Set(fiber.HeaderContentType, contentTypeFor(key))
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	// fasthttp closes rc once the body is written.
	return c.SendStream(rc)
}

func keyFromParam(raw string) (string, error) {
	key, err := url.PathUnescape(raw)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(key, "/"), nil
}

func contentTypeFor(key string) string {
	ext := media.Ext(key)
	if t := mime.TypeByExtension(ext); t != "" && !strings.HasPrefix(t, "audio/") {
		return t
	}
	return media.ContentType(path.Base(key), "")
}

// MetricsHandler exposes the default Prometheus registry.
func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
