package handlers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"plane-relay/internal/verify"

	"go.uber.org/zap"
)

// Archiver dumps each verified payload to disk when debug archiving is on.
// Useful when chasing schema changes in Plane's webhook output; off by
// default.
type Archiver struct {
	dir     string
	enabled bool
	logger  *zap.Logger
}

type archivedRequest struct {
	ReceivedAt time.Time       `json:"received_at"`
	DeliveryID string          `json:"delivery_id"`
	EventKind  string          `json:"event_kind"`
	Body       json.RawMessage `json:"body"`
}

func NewArchiver(dir string, logger *zap.Logger) *Archiver {
	return &Archiver{
		dir:     dir,
		enabled: os.Getenv("RELAY_DEBUG") == "true" && dir != "",
		logger:  logger,
	}
}

func (a *Archiver) Archive(vp verify.VerifiedPayload, receivedAt time.Time) {
	if a == nil || !a.enabled {
		return
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		a.logger.Warn("Could not create archive directory", zap.Error(err))
		return
	}

	record := archivedRequest{
		ReceivedAt: receivedAt,
		DeliveryID: vp.DeliveryID,
		EventKind:  vp.EventKind,
		Body:       json.RawMessage(vp.Body),
	}

	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		a.logger.Warn("Could not marshal archive record", zap.Error(err))
		return
	}

	name := receivedAt.Format("20060102T150405.000000000Z") + ".json"
	if err := os.WriteFile(filepath.Join(a.dir, name), raw, 0o644); err != nil {
		a.logger.Warn("Could not write archive file", zap.Error(err))
	}
}
