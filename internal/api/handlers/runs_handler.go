package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/doccomply/backend/internal/middleware/auth"
	"github.com/doccomply/backend/internal/pipeline"
	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/internal/storage/sqlite"
	"github.com/doccomply/backend/pkg/logger"
)

type RunHandler struct {
	store        *sqlite.Client
	orchestrator *pipeline.Orchestrator
}

func NewRunHandler(store *sqlite.Client, orchestrator *pipeline.Orchestrator) *RunHandler {
	return &RunHandler{
		store:        store,
		orchestrator: orchestrator,
	}
}

// StartRun admits a run for a raw document. A document with an active
// run answers 409 with the conflicting run id.
func (h *RunHandler) StartRun(c *fiber.Ctx) error {
	scope := auth.Scope(c)
	rawID := c.Params("rawID")

	result, err := h.orchestrator.StartRun(c.Context(), scope, rawID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Document not found",
			})
		}
		logger.Error("Failed to start run", zap.String("raw_id", rawID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start run",
		})
	}

	if result.AlreadyRunning {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"status": "already_running",
			"run_id": result.ConflictRunID,
		})
	}

	go h.orchestrator.Execute(context.Background(), result.Run, "")

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": models.RunStatusQueued,
		"run_id": result.Run.ID,
	})
}

// Retry admits a fresh run after a retryable failure. Gating refusals
// answer 409 with a reason.
func (h *RunHandler) Retry(c *fiber.Ctx) error {
	scope := auth.Scope(c)
	rawID := c.Params("rawID")

	result, err := h.orchestrator.Retry(c.Context(), scope, rawID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "No runs found for document",
			})
		}
		logger.Error("Failed to retry run", zap.String("raw_id", rawID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retry run",
		})
	}

	if result.NotAllowed {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"status": "not_allowed",
			"reason": result.Reason,
		})
	}

	go h.orchestrator.Execute(context.Background(), result.Run, result.ReuseProcessedID())

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": models.RunStatusQueued,
		"run_id": result.Run.ID,
	})
}

func (h *RunHandler) ListRuns(c *fiber.Ctx) error {
	scope := auth.Scope(c)

	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	runs, err := h.store.ListRuns(scope, limit)
	if err != nil {
		logger.Error("Failed to list runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list runs",
		})
	}

	return c.JSON(fiber.Map{
		"runs":  runsJSON(runs),
		"count": len(runs),
	})
}

func (h *RunHandler) GetRun(c *fiber.Ctx) error {
	scope := auth.Scope(c)

	run, err := h.store.GetRun(scope, c.Params("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Run not found",
			})
		}
		logger.Error("Failed to get run", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get run",
		})
	}

	return c.JSON(runJSON(run))
}

func (h *RunHandler) ListRunSteps(c *fiber.Ctx) error {
	scope := auth.Scope(c)
	runID := c.Params("id")

	if _, err := h.store.GetRun(scope, runID); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Run not found",
			})
		}
		logger.Error("Failed to get run", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get run",
		})
	}

	steps, err := h.store.ListRunSteps(scope, runID)
	if err != nil {
		logger.Error("Failed to list run steps", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list run steps",
		})
	}

	stepRows := make([]fiber.Map, 0, len(steps))
	for i := range steps {
		stepRows = append(stepRows, stepJSON(&steps[i]))
	}

	return c.JSON(fiber.Map{
		"run_id": runID,
		"steps":  stepRows,
	})
}

func (h *RunHandler) ListRunsByDocument(c *fiber.Ctx) error {
	scope := auth.Scope(c)
	rawID := c.Params("rawID")

	runs, err := h.store.ListRunsByRawID(scope, rawID)
	if err != nil {
		logger.Error("Failed to list runs for document", zap.String("raw_id", rawID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list runs",
		})
	}

	return c.JSON(fiber.Map{
		"raw_id": rawID,
		"runs":   runsJSON(runs),
		"count":  len(runs),
	})
}

func runsJSON(runs []models.Run) []fiber.Map {
	rows := make([]fiber.Map, 0, len(runs))
	for i := range runs {
		rows = append(rows, runJSON(&runs[i]))
	}
	return rows
}

func runJSON(run *models.Run) fiber.Map {
	return fiber.Map{
		"id":            run.ID,
		"raw_id":        run.RawID,
		"processed_id":  run.ProcessedID,
		"report_id":     run.ReportID,
		"status":        run.Status,
		"source":        run.Source,
		"error":         run.Error,
		"error_code":    run.ErrorCode,
		"queued_at":     run.QueuedAt.Format(time.RFC3339),
		"processing_at": formatTimePtr(run.ProcessingAt),
		"completed_at":  formatTimePtr(run.CompletedAt),
	}
}

func stepJSON(step *models.RunStep) fiber.Map {
	return fiber.Map{
		"id":          step.ID,
		"run_id":      step.RunID,
		"step":        step.Step,
		"status":      step.Status,
		"data":        step.Data,
		"error":       step.Error,
		"created_at":  step.CreatedAt.Format(time.RFC3339),
		"finished_at": formatTimePtr(step.FinishedAt),
	}
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
