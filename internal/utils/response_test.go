package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musicbox/internal/catalog"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{catalog.ErrInvalidName, http.StatusBadRequest},
		{catalog.ErrReservedName, http.StatusBadRequest},
		{fmt.Errorf("%w: Gym", catalog.ErrDuplicateName), http.StatusConflict},
		{catalog.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{catalog.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{catalog.ErrSongNotFound, http.StatusNotFound},
		{&catalog.StorageError{Op: "put", Err: errors.New("x")}, http.StatusBadGateway},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestSendCatalogError(t *testing.T) {
	app := fiber.New()
	app.Get("/nf", func(c *fiber.Ctx) error {
		return SendCatalogError(c, fmt.Errorf("%w: abc", catalog.ErrSongNotFound))
	})
	app.Get("/internal", func(c *fiber.Ctx) error {
		return SendCatalogError(c, errors.New("db password is hunter2"))
	})
	app.Get("/ok", func(c *fiber.Ctx) error {
		return SendSuccess(c, http.StatusOK, fiber.Map{"outcome": "purged"})
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/nf", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body ErrorResponse
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.False(t, body.Success)
	assert.Equal(t, "not_found", body.Category)
	assert.Equal(t, "song not found: abc", body.Error)
	assert.Equal(t, http.StatusNotFound, body.Code)

	resp, err = app.Test(httptest.NewRequest("GET", "/internal", nil))
	require.NoError(t, err)
	raw, _ = io.ReadAll(resp.Body)
	assert.NotContains(t, string(raw), "hunter2")

	resp, err = app.Test(httptest.NewRequest("GET", "/ok", nil))
	require.NoError(t, err)
	var ok map[string]interface{}
	raw, _ = io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &ok))
	assert.Equal(t, true, ok["success"])
	assert.Equal(t, "purged", ok["outcome"])
}
