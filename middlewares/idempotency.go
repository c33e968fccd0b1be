package middlewares

import (
	"github.com/gofiber/fiber/v2"

	"newsletter-backend/idempotency"
)

const (
	idempotencyHeader    = "Idempotency-Key"
	idempotencyLocalsKey = "idempotencyKey"
)

// IdempotencyKey validates the request's idempotency key and stores it for
// handlers, see RequestIdempotencyKey. The Idempotency-Key header wins over an
// idempotency_key body field. Keys are opaque and used byte for byte.
func IdempotencyKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get(idempotencyHeader)
		if raw == "" {
			var body struct {
				IdempotencyKey string `json:"idempotency_key" form:"idempotency_key"`
			}
			if len(c.Body()) > 0 {
				if err := c.BodyParser(&body); err != nil {
					return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
				}
			}
			raw = body.IdempotencyKey
		}

		key, err := idempotency.NewKey(raw)
		if err != nil {
			return err
		}
		c.Locals(idempotencyLocalsKey, key)
		return c.Next()
	}
}

// RequestIdempotencyKey returns the key stored by IdempotencyKey.
func RequestIdempotencyKey(c *fiber.Ctx) (idempotency.Key, bool) {
	key, ok := c.Locals(idempotencyLocalsKey).(idempotency.Key)
	return key, ok
}
