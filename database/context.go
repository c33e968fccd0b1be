package database

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// TxLocalsKey is the fiber.Ctx Locals key holding the per-request transaction.
const TxLocalsKey = "tx"

// FromCtx returns the request's transaction opened by middlewares.Tx, or fallback
// bound to the request context when the route runs without one.
func FromCtx(c *fiber.Ctx, fallback *gorm.DB) *gorm.DB {
	if v := c.Locals(TxLocalsKey); v != nil {
		if tx, ok := v.(*gorm.DB); ok && tx != nil {
			return tx
		}
	}
	return fallback.WithContext(c.UserContext())
}
