package utils

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"musicbox/internal/catalog"
)

// ErrorResponse represents a standardized error response format
type ErrorResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Category string `json:"category"`
	Code     int    `json:"code"`
}

// SendSuccess writes {"success": true} merged with extra fields.
func SendSuccess(c *fiber.Ctx, httpCode int, extra fiber.Map) error {
	body := fiber.Map{"success": true}
	for k, v := range extra {
		body[k] = v
	}
	return c.Status(httpCode).JSON(body)
}

// SendError sends a failure body with an explicit category.
func SendError(c *fiber.Ctx, httpCode int, category, message string) error {
	return c.Status(httpCode).JSON(ErrorResponse{
		Success:  false,
		Error:    message,
		Category: category,
		Code:     httpCode,
	})
}

// SendValidationError sends a 400 for malformed requests.
func SendValidationError(c *fiber.Ctx, message string) error {
	return SendError(c, http.StatusBadRequest, string(catalog.KindValidation), message)
}

// StatusFor maps a catalog error to its HTTP status.
func StatusFor(err error) int {
	switch catalog.KindOf(err) {
	case catalog.KindValidation:
		switch {
		case errors.Is(err, catalog.ErrDuplicateName):
			return http.StatusConflict
		case errors.Is(err, catalog.ErrPayloadTooLarge):
			return http.StatusRequestEntityTooLarge
		case errors.Is(err, catalog.ErrUnsupportedFormat):
			return http.StatusUnsupportedMediaType
		}
		return http.StatusBadRequest
	case catalog.KindNotFound:
		return http.StatusNotFound
	case catalog.KindStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// SendCatalogError classifies err and writes the matching failure body.
// Internal errors are not echoed to the client.
func SendCatalogError(c *fiber.Ctx, err error) error {
	kind := catalog.KindOf(err)
	status := StatusFor(err)
	message := err.Error()
	switch kind {
	case catalog.KindInternal:
		message = "internal server error"
	case catalog.KindStorage:
		message = "storage failure, please retry"
	}
	return SendError(c, status, string(kind), message)
}
