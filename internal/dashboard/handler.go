package dashboard

import (
	"encoding/json"
	"log"
	"time"
)

// Handler bridges sync and store-change events to the WebSocket server.
// It implements syncer.Notifier, and its OnStoreChanged method is wired to
// the notification-file watcher so sibling-process persists reach
// connected UI clients too.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a Handler connected to a dashboard server.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// OnStoreChanged broadcasts that the store was persisted and readers
// should refresh. Safe to call on every coalesced notification-file touch.
func (h *Handler) OnStoreChanged() {
	h.server.Broadcast(Message{
		Type:      MessageTypeStoreChanged,
		Timestamp: time.Now(),
	})
}

// Info implements syncer.Notifier.
func (h *Handler) Info(msg string) { h.status("info", msg) }

// Warn implements syncer.Notifier.
func (h *Handler) Warn(msg string) { h.status("warn", msg) }

// Error implements syncer.Notifier.
func (h *Handler) Error(msg string) { h.status("error", msg) }

func (h *Handler) status(level, msg string) {
	h.logger.Printf("%s: %s", level, msg)

	data, err := json.Marshal(SyncStatusData{Level: level, Message: msg})
	if err != nil {
		h.logger.Printf("failed to marshal status: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncStatus,
		Timestamp: time.Now(),
		Data:      data,
	})
}
