package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doccomply/backend/internal/metrics"
	"github.com/doccomply/backend/internal/middleware/auth"
	"github.com/doccomply/backend/internal/pipeline"
	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/internal/storage/sqlite"
	"github.com/doccomply/backend/pkg/logger"
)

type UploadHandler struct {
	store        *sqlite.Client
	orchestrator *pipeline.Orchestrator
}

func NewUploadHandler(store *sqlite.Client, orchestrator *pipeline.Orchestrator) *UploadHandler {
	return &UploadHandler{
		store:        store,
		orchestrator: orchestrator,
	}
}

// Upload ingests a multipart file, sniffs its content type, persists the
// raw document, and kicks off a compliance run in the background.
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	scope := auth.Scope(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Multipart field 'file' is required",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		logger.Error("Failed to open uploaded file", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unreadable upload",
		})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		logger.Error("Failed to read uploaded file", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unreadable upload",
		})
	}

	source := c.FormValue("source")
	if source == "" {
		source = "upload"
	}

	content := sniffContent(fileHeader.Filename, fileHeader.Header.Get("Content-Type"), data, source)

	doc := &models.RawDocument{
		ID:        uuid.New().String(),
		Scope:     scope,
		Content:   content,
		FileName:  content.FileName,
		FileType:  content.FileType,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.InsertRawDocument(doc); err != nil {
		logger.Error("Failed to persist raw document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store document",
		})
	}

	metrics.DocumentsIngested.WithLabelValues(content.FileType).Inc()
	logger.Info("Document ingested",
		zap.String("raw_id", doc.ID),
		zap.String("file_name", doc.FileName),
		zap.String("file_type", doc.FileType),
	)

	result, err := h.orchestrator.StartRun(c.Context(), scope, doc.ID)
	if err != nil {
		logger.Error("Failed to start run for upload", zap.String("raw_id", doc.ID), zap.Error(err))
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"raw_id":    doc.ID,
			"file_type": doc.FileType,
			"run_id":    nil,
		})
	}

	if result.AlreadyRunning {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"raw_id": doc.ID,
			"status": "already_running",
			"run_id": result.ConflictRunID,
		})
	}

	go h.orchestrator.Execute(context.Background(), result.Run, "")

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"raw_id":    doc.ID,
		"file_type": doc.FileType,
		"run_id":    result.Run.ID,
	})
}

// sniffContent decides the file type in order: csv by extension or
// declared content type, json by successful parse, html by markers, text
// otherwise.
func sniffContent(fileName, contentType string, data []byte, source string) models.RawContent {
	text := string(data)
	content := models.RawContent{
		RawText:  text,
		FileName: fileName,
		FileType: models.FileTypeText,
		Source:   source,
	}

	lowerName := strings.ToLower(fileName)

	if strings.HasSuffix(lowerName, ".csv") || strings.Contains(contentType, "text/csv") {
		if headers, rows, ok := parseCSV(text); ok {
			content.FileType = models.FileTypeCSV
			content.CSVHeaders = headers
			content.CSVRows = rows
			return content
		}
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			content.FileType = models.FileTypeJSON
			content.JSON = parsed
			return content
		}
	}

	lowerText := strings.ToLower(trimmed)
	if strings.HasSuffix(lowerName, ".html") || strings.HasSuffix(lowerName, ".htm") ||
		strings.Contains(contentType, "text/html") ||
		strings.Contains(lowerText, "<html") || strings.Contains(lowerText, "<!doctype html") {
		content.FileType = models.FileTypeHTML
		return content
	}

	return content
}

func parseCSV(text string) ([]string, [][]string, bool) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil || len(records) == 0 {
		return nil, nil, false
	}

	return records[0], records[1:], true
}
