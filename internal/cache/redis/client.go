package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func rulesKey(scope models.TenantScope) string {
	return fmt.Sprintf("rules:%s:%s", scope.OrgID, scope.WorkspaceID)
}

func reportKey(scope models.TenantScope, reportID string) string {
	return fmt.Sprintf("report:%s:%s:%s", scope.OrgID, scope.WorkspaceID, reportID)
}

// SetActiveRules caches the active rule snapshot for one tenant. The
// pipeline reads the snapshot at run start so rule edits mid-run never
// change an in-flight evaluation.
func (c *Client) SetActiveRules(ctx context.Context, scope models.TenantScope, ruleSet []models.PolicyRule, ttl time.Duration) error {
	data, err := json.Marshal(ruleSet)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	err = c.client.Set(ctx, rulesKey(scope), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set rules cache: %w", err)
	}

	logger.Debug("Active rules cached", zap.String("org_id", scope.OrgID), zap.Int("count", len(ruleSet)))
	return nil
}

func (c *Client) GetActiveRules(ctx context.Context, scope models.TenantScope) ([]models.PolicyRule, bool, error) {
	data, err := c.client.Get(ctx, rulesKey(scope)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rules cache: %w", err)
	}

	var ruleSet []models.PolicyRule
	err = json.Unmarshal(data, &ruleSet)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal rules: %w", err)
	}

	logger.Debug("Rules cache hit", zap.String("org_id", scope.OrgID))
	return ruleSet, true, nil
}

// InvalidateRules drops the tenant's rule snapshot after any rule
// mutation so the next run reads fresh rules.
func (c *Client) InvalidateRules(ctx context.Context, scope models.TenantScope) error {
	err := c.client.Del(ctx, rulesKey(scope)).Err()
	if err != nil {
		return fmt.Errorf("failed to invalidate rules cache: %w", err)
	}

	logger.Debug("Rules cache invalidated", zap.String("org_id", scope.OrgID))
	return nil
}

func (c *Client) SetReport(ctx context.Context, scope models.TenantScope, reportID string, report interface{}, ttl time.Duration) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	err = c.client.Set(ctx, reportKey(scope, reportID), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set report cache: %w", err)
	}

	logger.Debug("Report cached", zap.String("report_id", reportID), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetReport(ctx context.Context, scope models.TenantScope, reportID string, report interface{}) (bool, error) {
	data, err := c.client.Get(ctx, reportKey(scope, reportID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get report cache: %w", err)
	}

	err = json.Unmarshal(data, report)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal report: %w", err)
	}

	logger.Debug("Report cache hit", zap.String("report_id", reportID))
	return true, nil
}

func (c *Client) InvalidateReport(ctx context.Context, scope models.TenantScope, reportID string) error {
	err := c.client.Del(ctx, reportKey(scope, reportID)).Err()
	if err != nil {
		return fmt.Errorf("failed to invalidate report cache: %w", err)
	}
	return nil
}
