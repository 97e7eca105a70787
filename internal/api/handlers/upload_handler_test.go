package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doccomply/backend/internal/middleware/auth"
	"github.com/doccomply/backend/internal/pipeline"
	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/internal/storage/sqlite"
	"github.com/doccomply/backend/internal/updates"
)

func newUploadApp(t *testing.T) (*fiber.App, *sqlite.Client) {
	t.Helper()

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "upload.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())

	orch := pipeline.New(store, updates.New())
	handler := NewUploadHandler(store, orch)

	app := fiber.New()
	app.Use(auth.Middleware(auth.Config{
		Tokens: map[string]string{"secret-token": "acme/legal"},
	}))
	app.Post("/upload", handler.Upload)

	return app, store
}

func multipartBody(t *testing.T, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return &buf, writer.FormDataContentType()
}

func TestUpload_IngestsAndStartsRun(t *testing.T) {
	app, store := newUploadApp(t)

	body, contentType := multipartBody(t, "notes.txt", "The customer SSN was exposed.")
	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer secret-token")

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var payload struct {
		RawID    string `json:"raw_id"`
		FileType string `json:"file_type"`
		RunID    string `json:"run_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.NotEmpty(t, payload.RawID)
	assert.Equal(t, models.FileTypeText, payload.FileType)
	require.NotEmpty(t, payload.RunID)

	scope := models.TenantScope{OrgID: "acme", WorkspaceID: "legal"}
	run, err := store.GetRun(scope, payload.RunID)
	require.NoError(t, err)
	assert.Equal(t, payload.RawID, run.RawID)
}

func TestUpload_RequiresFile(t *testing.T) {
	app, _ := newUploadApp(t)

	req := httptest.NewRequest("POST", "/upload", nil)
	req.Header.Set("Authorization", "Bearer secret-token")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
