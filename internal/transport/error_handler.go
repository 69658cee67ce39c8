package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ureca/billing-notifier/internal/observability"
)

// ErrorHandler turns unhandled route errors into a JSON body and a log line.
// Domain sentinels are mapped to *fiber.Error by the handlers before they
// reach here; anything else is a 500.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		if traceID, ok := observability.TraceIDFromContext(c.UserContext()); ok {
			fields = append(fields, zap.String("traceId", traceID))
		}
		logger.Error("request error", fields...)

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
