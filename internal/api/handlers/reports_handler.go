package handlers

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/doccomply/backend/internal/cache/redis"
	"github.com/doccomply/backend/internal/metrics"
	"github.com/doccomply/backend/internal/middleware/auth"
	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/internal/storage/sqlite"
	"github.com/doccomply/backend/pkg/logger"
)

type ReportHandler struct {
	store    *sqlite.Client
	cache    *redis.Client
	cacheTTL time.Duration
}

// NewReportHandler wires report export. cache may be nil; projections
// are then built from storage on every request.
func NewReportHandler(store *sqlite.Client, cache *redis.Client, cacheTTL time.Duration) *ReportHandler {
	return &ReportHandler{
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// GetReportJSON serves the flat report projection, cache-first.
func (h *ReportHandler) GetReportJSON(c *fiber.Ctx) error {
	scope := auth.Scope(c)
	reportID := c.Params("id")

	if h.cache != nil {
		var cached map[string]any
		hit, err := h.cache.GetReport(c.Context(), scope, reportID, &cached)
		if err != nil {
			logger.Warn("Report cache read failed", zap.Error(err))
		} else if hit {
			metrics.CacheHits.WithLabelValues("reports").Inc()
			return c.JSON(cached)
		} else {
			metrics.CacheMisses.WithLabelValues("reports").Inc()
		}
	}

	report, err := h.store.GetReport(scope, reportID)
	if err != nil {
		return h.reportError(c, err)
	}

	projection := reportJSON(report)

	if h.cache != nil {
		if err := h.cache.SetReport(c.Context(), scope, reportID, projection, h.cacheTTL); err != nil {
			logger.Warn("Report cache write failed", zap.Error(err))
		}
	}

	return c.JSON(projection)
}

// GetViolationsCSV exports the report's violations as CSV with columns
// rule, severity, details, created_at.
func (h *ReportHandler) GetViolationsCSV(c *fiber.Ctx) error {
	scope := auth.Scope(c)
	reportID := c.Params("id")

	report, err := h.store.GetReport(scope, reportID)
	if err != nil {
		return h.reportError(c, err)
	}

	processedID, _ := report.Content["processed_id"].(string)
	if processedID == "" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Report has no processed document reference",
		})
	}

	violations, err := h.store.ListViolationsByProcessedID(scope, processedID)
	if err != nil {
		logger.Error("Failed to list violations for export", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to export violations",
		})
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"rule", "severity", "details", "created_at"}); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to export violations",
		})
	}

	for i := range violations {
		violation := &violations[i]
		details, err := json.Marshal(violation.Details)
		if err != nil {
			logger.Warn("Failed to marshal violation details", zap.String("violation_id", violation.ID), zap.Error(err))
			details = []byte("{}")
		}
		row := []string{
			violation.Rule,
			violation.Severity,
			string(details),
			violation.CreatedAt.Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to export violations",
			})
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to export violations",
		})
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="violations-`+reportID+`.csv"`)
	return c.Send(buf.Bytes())
}

// GetReportPDF is a deliberate thin adapter: the format is reserved but
// rendering is not implemented.
func (h *ReportHandler) GetReportPDF(c *fiber.Ctx) error {
	scope := auth.Scope(c)

	if _, err := h.store.GetReport(scope, c.Params("id")); err != nil {
		return h.reportError(c, err)
	}

	return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
		"error": "PDF export is not implemented",
	})
}

func (h *ReportHandler) reportError(c *fiber.Ctx, err error) error {
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Report not found",
		})
	}
	logger.Error("Failed to get report", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to get report",
	})
}

func reportJSON(report *models.Report) map[string]any {
	projection := map[string]any{
		"id":         report.ID,
		"summary":    report.Summary,
		"score":      report.Score,
		"created_at": report.CreatedAt.Format(time.RFC3339),
		"updated_at": formatTimePtr(report.UpdatedAt),
	}
	for key, value := range report.Content {
		if _, taken := projection[key]; !taken {
			projection[key] = value
		}
	}
	return projection
}
