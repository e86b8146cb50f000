package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"musicbox/internal/catalog"
	"musicbox/internal/logging"
	"musicbox/internal/utils"
)

// ErrorHandler renders errors that escape handlers, including fiber's own
// body-limit and routing errors, in the standard failure shape.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	switch {
	case code == fiber.StatusRequestEntityTooLarge:
		return utils.SendError(c, code, string(catalog.KindValidation), catalog.ErrPayloadTooLarge.Error())
	case code == fiber.StatusNotFound:
		return utils.SendError(c, code, string(catalog.KindNotFound), fe.Message)
	case code < fiber.StatusInternalServerError && fe != nil:
		return utils.SendError(c, code, string(catalog.KindValidation), fe.Message)
	}

	logging.WithContext(c.UserContext()).Error().Err(err).Str("path", c.Path()).Msg("Unhandled error")
	return utils.SendError(c, code, string(catalog.KindInternal), "internal server error")
}
