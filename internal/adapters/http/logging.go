package http

import (
	"context"
	"log/slog"
	"net/http"
)

const serviceName = "aloe-signs-orders"

func httpLogger() *slog.Logger {
	return slog.Default().With(
		"service", serviceName,
		"module", "http",
		"layer", "adapter",
	)
}

// requestFields identify who made the call: request id, resolved client
// address and, behind the admin guard, the token subject.
func requestFields(ctx context.Context) []any {
	fields := []any{"request_id", requestIDFromContext(ctx)}
	if ip, ok := ctx.Value(ctxKeyClientIP).(string); ok && ip != "" {
		fields = append(fields, "client_ip", ip)
	}
	if actor := actorFromContext(ctx); actor.Subject != "" {
		fields = append(fields, "admin", actor.Subject)
	}
	return fields
}

func logOperationFailure(ctx context.Context, operation string, statusCode int, code, message string, err error) {
	recordOperationFailure(ctx, httpLogger(), operation, statusCode, code, message, err)
}

// Unknown order references are routine on the tracking page and log at info.
func recordOperationFailure(ctx context.Context, logger *slog.Logger, operation string, statusCode int, code, message string, err error) {
	fields := []any{
		"operation", operation,
		"outcome", "failure",
		"status_code", statusCode,
		"error_code", code,
		"message", message,
	}
	fields = append(fields, requestFields(ctx)...)
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	switch {
	case statusCode >= http.StatusInternalServerError:
		logger.ErrorContext(ctx, "order api call failed", fields...)
	case statusCode == http.StatusNotFound:
		logger.InfoContext(ctx, "order api call failed", fields...)
	default:
		logger.WarnContext(ctx, "order api call failed", fields...)
	}
}
