package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/doccomply/backend/pkg/circuitbreaker"
	"github.com/doccomply/backend/pkg/logger"
	"github.com/doccomply/backend/pkg/retry"
)

// ErrRateLimited marks upstream throttling. The orchestrator reacts by
// falling back to its own deterministic stage execution.
var ErrRateLimited = errors.New("agent rate limited")

// Result is the consolidated outcome the agent reports after attempting
// the full pipeline on its own. RunID must echo the acting run id;
// results for another run are rejected as stale.
type Result struct {
	RunID          string  `json:"run_id"`
	ProcessedID    string  `json:"processed_id"`
	ReportID       string  `json:"report_id"`
	RiskScore      float64 `json:"risk_score"`
	ViolationCount int     `json:"violation_count"`
}

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(apiKey, model string, temperature float32, maxTokens, timeoutSec int) *Client {
	cb := circuitbreaker.New("agent", circuitbreaker.Config{
		MaxRequests:      5,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
		// Throttling is surfaced immediately so the caller can fall back.
		Retryable: func(err error) bool { return !errors.Is(err, ErrRateLimited) },
		Logger:    logger.GetLogger(),
	}

	logger.Info("Agent client initialized", zap.String("model", model))

	return &Client{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     time.Duration(timeoutSec) * time.Second,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

const systemPrompt = `You are a compliance review agent with database tools for a
document compliance pipeline. Given a raw document id and a run id, execute the four
pipeline stages (data engineering, compliance checking, risk assessment, report writing)
and return ONLY the consolidated result as JSON:
{"run_id": "...", "processed_id": "...", "report_id": "...", "risk_score": 0.0, "violation_count": 0}`

// RunCompliance asks the agent to execute the full pipeline for one raw
// document and returns its consolidated result.
func (c *Client) RunCompliance(ctx context.Context, rawID, runID string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf("Run the compliance pipeline for raw_id=%s (run_id=%s). Return the final JSON only.", rawID, runID)

	var result *Result

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model: c.model,
					Messages: []openai.ChatCompletionMessage{
						{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
						{Role: openai.ChatMessageRoleUser, Content: userPrompt},
					},
					Temperature: c.temperature,
					MaxTokens:   c.maxTokens,
				},
			)
			if err != nil {
				return classifyError(err)
			}

			if len(resp.Choices) == 0 {
				return errors.New("agent returned no choices")
			}

			parsed, err := parseResult(resp.Choices[0].Message.Content)
			if err != nil {
				return err
			}

			if parsed.RunID != runID {
				return fmt.Errorf("agent result run id %q does not match acting run %q", parsed.RunID, runID)
			}

			result = parsed
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Agent completed compliance run",
		zap.String("run_id", runID),
		zap.String("report_id", result.ReportID),
		zap.Int("violations", result.ViolationCount),
	)

	return result, nil
}

func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "rate limit") {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return fmt.Errorf("agent request failed: %w", err)
}

var (
	fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	bareJSONPattern   = regexp.MustCompile(`(?s)\{.*\}`)
)

func parseResult(content string) (*Result, error) {
	text := strings.TrimSpace(content)

	if m := fencedJSONPattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	} else if m := bareJSONPattern.FindString(text); m != "" {
		text = m
	}

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("agent returned unparseable result: %w", err)
	}
	if result.ProcessedID == "" {
		return nil, errors.New("agent result missing processed_id")
	}

	return &result, nil
}
