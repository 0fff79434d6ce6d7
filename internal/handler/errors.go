package handler

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/carematch/matchengine/internal/port"
)

// respondError maps service and port errors to HTTP responses. Unknown
// errors become opaque 500s so internals never leak to callers.
func respondError(c fiber.Ctx, err error) error {
	var dim *port.DimensionMismatchError
	switch {
	case errors.Is(err, port.ErrProviderRejected):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.As(err, &dim):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, port.ErrInvalidK):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, port.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "caller does not own this job"})
	case errors.Is(err, port.ErrQueryVectorUnavailable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "embedding not ready for this entity"})
	case errors.Is(err, port.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, port.ErrRecommendationTimeout):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": "recommendation query timed out"})
	case errors.Is(err, port.ErrProviderUnavailable):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "embedding provider unavailable"})
	case errors.Is(err, port.ErrProviderMalformed):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "embedding provider returned a malformed response"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
