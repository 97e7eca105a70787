package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doccomply/backend/internal/cache/redis"
	"github.com/doccomply/backend/internal/middleware/auth"
	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/internal/storage/sqlite"
	"github.com/doccomply/backend/pkg/logger"
)

var validSeverities = map[string]struct{}{
	models.SeverityLow:      {},
	models.SeverityMedium:   {},
	models.SeverityHigh:     {},
	models.SeverityCritical: {},
}

var validPatternTypes = map[string]struct{}{
	models.PatternKeyword:  {},
	models.PatternRegex:    {},
	models.PatternSemantic: {},
}

type RuleHandler struct {
	store *sqlite.Client
	cache *redis.Client
}

// NewRuleHandler wires rule management. cache may be nil; invalidation
// is then a no-op.
func NewRuleHandler(store *sqlite.Client, cache *redis.Client) *RuleHandler {
	return &RuleHandler{
		store: store,
		cache: cache,
	}
}

type ruleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	Category    string   `json:"category"`
	PatternType string   `json:"pattern_type"`
	Pattern     string   `json:"pattern"`
	ScopeTags   []string `json:"scope_tags"`
	Remediation string   `json:"remediation"`
}

func (h *RuleHandler) CreateRule(c *fiber.Ctx) error {
	scope := auth.Scope(c)

	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Rule name is required",
		})
	}
	if req.Severity == "" {
		req.Severity = models.SeverityMedium
	}
	if _, ok := validSeverities[req.Severity]; !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Severity must be one of low, medium, high, critical",
		})
	}
	if req.PatternType == "" {
		req.PatternType = models.PatternKeyword
	}
	if _, ok := validPatternTypes[req.PatternType]; !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Pattern type must be one of keyword, regex, semantic",
		})
	}

	rule := &models.PolicyRule{
		ID:          uuid.New().String(),
		Scope:       scope,
		Name:        req.Name,
		Description: req.Description,
		Severity:    req.Severity,
		Category:    req.Category,
		PatternType: req.PatternType,
		Pattern:     req.Pattern,
		ScopeTags:   req.ScopeTags,
		Remediation: req.Remediation,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.store.CreateRule(rule, actor(c)); err != nil {
		logger.Error("Failed to create rule", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create rule",
		})
	}

	h.invalidateRules(c.Context(), scope)

	return c.Status(fiber.StatusCreated).JSON(ruleJSON(rule))
}

func (h *RuleHandler) ListRules(c *fiber.Ctx) error {
	scope := auth.Scope(c)
	activeOnly := c.Query("active") == "true"

	ruleSet, err := h.store.ListRules(scope, activeOnly)
	if err != nil {
		logger.Error("Failed to list rules", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list rules",
		})
	}

	rows := make([]fiber.Map, 0, len(ruleSet))
	for i := range ruleSet {
		rows = append(rows, ruleJSON(&ruleSet[i]))
	}

	return c.JSON(fiber.Map{
		"rules": rows,
		"count": len(rows),
	})
}

func (h *RuleHandler) GetRule(c *fiber.Ctx) error {
	scope := auth.Scope(c)

	rule, err := h.store.GetRule(scope, c.Params("id"))
	if err != nil {
		return h.ruleError(c, err, "Failed to get rule")
	}

	return c.JSON(ruleJSON(rule))
}

type ruleUpdateRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Severity    *string  `json:"severity"`
	Category    *string  `json:"category"`
	PatternType *string  `json:"pattern_type"`
	Pattern     *string  `json:"pattern"`
	ScopeTags   []string `json:"scope_tags"`
	Remediation *string  `json:"remediation"`
	IsActive    *bool    `json:"is_active"`
}

func (h *RuleHandler) UpdateRule(c *fiber.Ctx) error {
	scope := auth.Scope(c)

	var req ruleUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Severity != nil {
		if _, ok := validSeverities[*req.Severity]; !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Severity must be one of low, medium, high, critical",
			})
		}
	}
	if req.PatternType != nil {
		if _, ok := validPatternTypes[*req.PatternType]; !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Pattern type must be one of keyword, regex, semantic",
			})
		}
	}

	update := sqlite.RuleUpdate{
		Name:        req.Name,
		Description: req.Description,
		Severity:    req.Severity,
		Category:    req.Category,
		PatternType: req.PatternType,
		Pattern:     req.Pattern,
		ScopeTags:   req.ScopeTags,
		Remediation: req.Remediation,
		IsActive:    req.IsActive,
	}

	rule, err := h.store.UpdateRule(scope, c.Params("id"), update, actor(c))
	if err != nil {
		return h.ruleError(c, err, "Failed to update rule")
	}

	h.invalidateRules(c.Context(), scope)

	return c.JSON(ruleJSON(rule))
}

// DeactivateRule soft-deletes; history stays queryable.
func (h *RuleHandler) DeactivateRule(c *fiber.Ctx) error {
	scope := auth.Scope(c)

	rule, err := h.store.DeactivateRule(scope, c.Params("id"), actor(c))
	if err != nil {
		return h.ruleError(c, err, "Failed to deactivate rule")
	}

	h.invalidateRules(c.Context(), scope)

	return c.JSON(ruleJSON(rule))
}

func (h *RuleHandler) ListRuleVersions(c *fiber.Ctx) error {
	scope := auth.Scope(c)
	ruleID := c.Params("id")

	versions, err := h.store.ListRuleVersions(scope, ruleID)
	if err != nil {
		return h.ruleError(c, err, "Failed to list rule versions")
	}

	rows := make([]fiber.Map, 0, len(versions))
	for i := range versions {
		version := &versions[i]
		rows = append(rows, fiber.Map{
			"version":    version.Version,
			"snapshot":   ruleJSON(&version.Snapshot),
			"created_at": version.CreatedAt.Format(time.RFC3339),
		})
	}

	return c.JSON(fiber.Map{
		"rule_id":  ruleID,
		"versions": rows,
	})
}

func (h *RuleHandler) ListRuleAudit(c *fiber.Ctx) error {
	scope := auth.Scope(c)
	ruleID := c.Params("id")

	entries, err := h.store.ListRuleAudit(scope, ruleID)
	if err != nil {
		return h.ruleError(c, err, "Failed to list rule audit trail")
	}

	rows := make([]fiber.Map, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		rows = append(rows, fiber.Map{
			"action":     entry.Action,
			"actor":      entry.Actor,
			"changes":    entry.Changes,
			"created_at": entry.CreatedAt.Format(time.RFC3339),
		})
	}

	return c.JSON(fiber.Map{
		"rule_id": ruleID,
		"audit":   rows,
	})
}

func (h *RuleHandler) ruleError(c *fiber.Ctx, err error, msg string) error {
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Rule not found",
		})
	}
	logger.Error(msg, zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": msg,
	})
}

func (h *RuleHandler) invalidateRules(ctx context.Context, scope models.TenantScope) {
	if h.cache == nil {
		return
	}
	if err := h.cache.InvalidateRules(ctx, scope); err != nil {
		logger.Warn("Failed to invalidate rule cache", zap.Error(err))
	}
}

func actor(c *fiber.Ctx) string {
	if a := c.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}

func ruleJSON(rule *models.PolicyRule) fiber.Map {
	return fiber.Map{
		"id":           rule.ID,
		"name":         rule.Name,
		"description":  rule.Description,
		"severity":     rule.Severity,
		"category":     rule.Category,
		"pattern_type": rule.PatternType,
		"pattern":      rule.Pattern,
		"scope_tags":   rule.ScopeTags,
		"remediation":  rule.Remediation,
		"version":      rule.Version,
		"is_active":    rule.IsActive,
		"created_at":   rule.CreatedAt.Format(time.RFC3339),
		"updated_at":   formatTimePtr(rule.UpdatedAt),
	}
}
