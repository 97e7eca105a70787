package handlers

import (
	"errors"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/doccomply/backend/internal/metrics"
	"github.com/doccomply/backend/internal/middleware/auth"
	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/internal/storage/sqlite"
	"github.com/doccomply/backend/internal/updates"
	"github.com/doccomply/backend/pkg/logger"
)

type WebSocketHandler struct {
	store       *sqlite.Client
	broadcaster *updates.Broadcaster
}

func NewWebSocketHandler(store *sqlite.Client, broadcaster *updates.Broadcaster) *WebSocketHandler {
	return &WebSocketHandler{
		store:       store,
		broadcaster: broadcaster,
	}
}

// HandleRun streams one run's live updates. A snapshot of the run is
// sent first; there is no replay of events missed before connecting.
func (h *WebSocketHandler) HandleRun(c *websocket.Conn) {
	defer c.Close()

	runID := c.Params("id")
	scope, ok := c.Locals(auth.ScopeKey).(models.TenantScope)
	if !ok {
		h.sendError(c, "Unauthorized")
		return
	}

	run, err := h.store.GetRun(scope, runID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			h.sendError(c, "Run not found")
		} else {
			logger.Error("Failed to load run for websocket", zap.String("run_id", runID), zap.Error(err))
			h.sendError(c, "Failed to load run")
		}
		return
	}

	sub := h.broadcaster.Subscribe(runID)
	defer h.broadcaster.Unsubscribe(runID, sub)

	metrics.RunSubscribers.Inc()
	defer metrics.RunSubscribers.Dec()

	logger.Info("Run subscriber connected", zap.String("run_id", runID))

	snapshot := updates.Event{
		Status:  run.Status,
		Payload: map[string]any{"run": runJSON(run)},
	}
	if err := c.WriteJSON(snapshot); err != nil {
		return
	}

	// Reads only serve to notice the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := c.WriteJSON(event); err != nil {
				return
			}
		case <-closed:
			logger.Info("Run subscriber disconnected", zap.String("run_id", runID))
			return
		}
	}
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, msg string) {
	c.WriteJSON(map[string]any{
		"status": "error",
		"error":  msg,
	})
}
