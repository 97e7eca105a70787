package agent

import (
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name:    "bare json",
			content: `{"run_id":"run-1","processed_id":"p-1","report_id":"r-1","risk_score":42.5,"violation_count":3}`,
		},
		{
			name: "fenced json",
			content: "Here is the result:\n```json\n" +
				`{"run_id":"run-1","processed_id":"p-1","report_id":"r-1","risk_score":42.5,"violation_count":3}` +
				"\n```",
		},
		{
			name:    "json embedded in prose",
			content: `The pipeline finished. {"run_id":"run-1","processed_id":"p-1","report_id":"r-1","risk_score":42.5,"violation_count":3} Done.`,
		},
		{
			name:    "missing processed id",
			content: `{"run_id":"run-1"}`,
			wantErr: true,
		},
		{
			name:    "not json at all",
			content: "sorry, I cannot do that",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseResult(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "run-1", result.RunID)
			assert.Equal(t, "p-1", result.ProcessedID)
			assert.Equal(t, 42.5, result.RiskScore)
			assert.Equal(t, 3, result.ViolationCount)
		})
	}
}

func TestClassifyError(t *testing.T) {
	rateLimited := classifyError(&openai.APIError{HTTPStatusCode: 429, Message: "too many requests"})
	assert.ErrorIs(t, rateLimited, ErrRateLimited)

	byMessage := classifyError(errors.New("upstream rate limit reached"))
	assert.ErrorIs(t, byMessage, ErrRateLimited)

	fatal := classifyError(&openai.APIError{HTTPStatusCode: 500, Message: "internal"})
	assert.NotErrorIs(t, fatal, ErrRateLimited)
}
