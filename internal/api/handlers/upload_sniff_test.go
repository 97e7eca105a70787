package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doccomply/backend/internal/storage/models"
)

func TestSniffContent(t *testing.T) {
	tests := []struct {
		name        string
		fileName    string
		contentType string
		data        string
		wantType    string
	}{
		{
			name:     "csv by extension",
			fileName: "people.csv",
			data:     "name,role\nalice,admin\n",
			wantType: models.FileTypeCSV,
		},
		{
			name:        "csv by content type",
			fileName:    "export",
			contentType: "text/csv",
			data:        "a,b\n1,2\n",
			wantType:    models.FileTypeCSV,
		},
		{
			name:     "json object by parse",
			fileName: "payload.txt",
			data:     `{"key": "value"}`,
			wantType: models.FileTypeJSON,
		},
		{
			name:     "invalid json falls through to text",
			fileName: "broken.json",
			data:     `{"key": `,
			wantType: models.FileTypeText,
		},
		{
			name:     "html by extension",
			fileName: "page.html",
			data:     "<div>hello</div>",
			wantType: models.FileTypeHTML,
		},
		{
			name:     "html by marker",
			fileName: "page",
			data:     "<!DOCTYPE html><html><body>hi</body></html>",
			wantType: models.FileTypeHTML,
		},
		{
			name:     "plain text fallback",
			fileName: "notes.txt",
			data:     "just some words",
			wantType: models.FileTypeText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := sniffContent(tt.fileName, tt.contentType, []byte(tt.data), "upload")
			assert.Equal(t, tt.wantType, content.FileType)
			assert.Equal(t, tt.data, content.RawText)
			assert.Equal(t, "upload", content.Source)
		})
	}
}

func TestSniffContent_CSVRows(t *testing.T) {
	content := sniffContent("people.csv", "", []byte("name,role\nalice,admin\nbob,viewer\n"), "upload")

	require.Equal(t, models.FileTypeCSV, content.FileType)
	assert.Equal(t, []string{"name", "role"}, content.CSVHeaders)
	require.Len(t, content.CSVRows, 2)
	assert.Equal(t, []string{"alice", "admin"}, content.CSVRows[0])
}
