package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sunsreach/nerris/internal/config"
	"github.com/sunsreach/nerris/internal/dto"
)

// AdminRequired admits requests that either:
// 1. carry X-Admin-Token matching ADMIN_TOKEN
// 2. carry a bearer JWT whose subject is one of OWNER_IDS
func AdminRequired(cfg *config.Config) fiber.Handler {
	owners := cfg.Owners()

	ownerCheck := func(c *fiber.Ctx) error {
		token, ok := c.Locals("user").(*jwt.Token)
		if !ok || token == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}
		sub, err := token.Claims.GetSubject()
		if err != nil || !contains(owners, sub) {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error: true, Message: "Admin access required",
			})
		}
		return c.Next()
	}
	jwtCheck := JWTProtected(cfg, ownerCheck)

	return func(c *fiber.Ctx) error {
		if cfg.AdminToken != "" {
			given := c.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(given), []byte(cfg.AdminToken)) == 1 {
				return c.Next()
			}
		}
		if cfg.JWTSecret == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}
		return jwtCheck(c)
	}
}

func contains(list []string, val string) bool {
	for _, item := range list {
		if item == val {
			return true
		}
	}
	return false
}
