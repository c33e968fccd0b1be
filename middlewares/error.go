package middlewares

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"newsletter-backend/idempotency"
	"newsletter-backend/models"
	"newsletter-backend/newsletters"
)

// RetryAfterSeconds is sent with 409 responses for keys still being processed.
const RetryAfterSeconds = 1

// ErrorHandler centralizes error responses and keeps messages sanitized.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		// 1) Fiber errors (use their status code + message)
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
		}

		// 2) Validation errors (422 + per-field info)
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			out := make(map[string]string, len(ve))
			for _, fe := range ve {
				out[fe.Field()] = fe.Tag()
			}
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"message": "validation failed",
				"errors":  out,
			})
		}

		// 3) Domain errors
		switch {
		case errors.Is(err, newsletters.ErrConflictInProgress):
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(RetryAfterSeconds))
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"message": err.Error()})
		case errors.Is(err, newsletters.ErrInvalidIssue),
			errors.Is(err, idempotency.ErrEmptyKey),
			errors.Is(err, idempotency.ErrKeyTooLong),
			errors.Is(err, idempotency.ErrInvalidKey),
			errors.Is(err, models.ErrInvalidSubscriberName),
			errors.Is(err, models.ErrInvalidSubscriberEmail):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
		}

		// 4) Unknown errors (500)
		log.Error("internal error",
			zap.Error(err),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "internal server error",
		})
	}
}
