package middleware

import (
	"fractions-backend/internal/pkg/constants"
	"fractions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// AdminKeyHeader carries the operator key for /api/v1 routes.
const AdminKeyHeader = "X-Admin-Key"

const operatorLocal = "operator"

// RequireAdminKey checks X-Admin-Key against a bcrypt hash. An empty hash disables the check
// (local development only). Returns 401 with the standard error format on mismatch.
func RequireAdminKey(hash string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if hash == "" {
			c.Locals(operatorLocal, constants.OperatorAnonymous)
			return c.Next()
		}
		key := c.Get(AdminKeyHeader)
		if key == "" {
			return response.Unauthorized(c, "Unauthorized")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			return response.Unauthorized(c, "Unauthorized")
		}
		c.Locals(operatorLocal, constants.OperatorAdmin)
		return c.Next()
	}
}

// GetOperator returns who passed the admin check ("admin", "anonymous" or "").
func GetOperator(c *fiber.Ctx) string {
	op, _ := c.Locals(operatorLocal).(string)
	return op
}
