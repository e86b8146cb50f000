package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// NewBodyLimit rejects requests whose declared Content-Length is above
// limit, or above the override for the request path. The server runs with
// StreamRequestBody, so bodies past its buffer size reach this check before
// they are read. Streamed bodies without a length are refused.
func NewBodyLimit(limit int64, overrides map[string]int64) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ceiling := limit
		if n, ok := overrides[c.Path()]; ok {
			ceiling = n
		}

		length := int64(c.Request().Header.ContentLength())
		if length > ceiling {
			return fiber.ErrRequestEntityTooLarge
		}
		if length < 0 && c.Request().IsBodyStream() {
			return fiber.ErrLengthRequired
		}
		return c.Next()
	}
}
