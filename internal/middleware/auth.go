package middleware

import (
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/sunsreach/nerris/internal/config"
	"github.com/sunsreach/nerris/internal/dto"
)

// JWTProtected validates an HS256 bearer token signed with JWT_SECRET and
// then runs next.
func JWTProtected(cfg *config.Config, next fiber.Handler) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey:     jwtware.SigningKey{Key: []byte(cfg.JWTSecret)},
		SuccessHandler: next,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error:   true,
				Message: "Unauthorized: invalid or expired token",
			})
		},
	})
}
