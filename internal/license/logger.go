package license

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"qacli/internal/infrastructure"
)

// logAction logs a license action with the shared attribute convention:
// component, action, result, plus caller-provided attributes. The trace ID
// is injected by the infrastructure handler.
func logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	logger := infrastructure.LoggerWithContext(ctx)

	allAttrs := []slog.Attr{
		slog.String("component", "license"),
		slog.String("action", action),
		slog.String("result", result),
	}
	allAttrs = append(allAttrs, attrs...)

	logger.LogAttrs(ctx, level, result, allAttrs...)
}

func logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	logAction(ctx, slog.LevelError, action, result, attrs...)
}

// HashLicenseKey creates a short hash of the license key for audit
// correlation and limiter identifiers without exposing the key itself.
// Unlike MaskLicenseKey, distinct keys produce distinct values.
func HashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)[:16]
}
