package middleware

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/titan-gateway/titan/internal/pipeline"
)

// Logging records method, path, status, duration, client ip, and
// correlation id on the response phase (spec §4.8 "Standard middleware
// behaviors").
type Logging struct {
	pipeline.Base
	logger *slog.Logger
}

func NewLogging(id string, logger *slog.Logger) *Logging {
	return &Logging{Base: pipeline.NewBase(id, pipeline.TypeLogging), logger: logger}
}

func (l *Logging) ProcessRequest(ctx *pipeline.RequestContext) pipeline.Outcome {
	if ctx.CorrelationID == "" {
		ctx.CorrelationID = uuid.NewString()
	}
	return pipeline.Continue
}

func (l *Logging) ProcessResponse(ctx *pipeline.ResponseContext) pipeline.Outcome {
	duration := time.Since(ctx.StartTime)
	requestSize := int64(len(ctx.Request.Request.Body))
	responseSize := int64(len(ctx.Response.Body))

	l.logger.Info("request completed",
		"method", ctx.Request.Request.Method,
		"path", ctx.Request.Request.Path,
		"status", ctx.Response.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"duration_formatted", duration.String(),
		"client_ip", ctx.ClientIP.String(),
		"correlation_id", ctx.CorrelationID,
		"request_bytes", requestSize,
		"response_bytes", responseSize,
		"size_flow", fmt.Sprintf("%s -> %s", formatBytes(requestSize), formatBytes(responseSize)),
	)
	return pipeline.Continue
}

// formatBytes converts byte count to human-readable form, matching the
// gateway's access-log style for size fields.
func formatBytes(bytes int64) string {
	const unit = 1024
	const suffixes = "KMGTPE"

	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	if exp >= len(suffixes) {
		exp = len(suffixes) - 1
	}
	size := float64(bytes) / float64(div)
	return fmt.Sprintf("%.1f%cB", size, suffixes[exp])
}
