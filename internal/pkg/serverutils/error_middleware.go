package serverutils

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandlerMiddleware turns errors returned by later handlers into the
// JSON envelope. Fiber errors keep their status; anything else is a 500.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		var verr *ValidationError
		if errors.As(err, &verr) {
			return ctx.Status(fiber.StatusBadRequest).
				JSON(ErrorResponse(fiber.StatusBadRequest, "Validation failed", verr.Fields))
		}

		code := fiber.StatusInternalServerError
		message := "Internal server error"
		var ferr *fiber.Error
		if errors.As(err, &ferr) {
			code = ferr.Code
			message = ferr.Message
		}
		return ctx.Status(code).JSON(ErrorResponse(code, message, nil))
	}
}
