package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// SendFunc delivers one serialized entry batch to the remote compliance
// endpoint. Implementations own transport, retries, and authentication.
type SendFunc func(ctx context.Context, payload []byte) error

// Syncer uploads unsynced entries when connectivity allows and marks them
// confirmed on success. Failures leave entries pending for the next pass.
type Syncer struct {
	ledger  *Ledger
	send    SendFunc
	logger  *slog.Logger
	metrics *Metrics
}

// NewSyncer creates a Syncer over the ledger. A nil send function disables
// syncing entirely; Run becomes a no-op.
func NewSyncer(ledger *Ledger, send SendFunc, metrics *Metrics, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{ledger: ledger, send: send, logger: logger, metrics: metrics}
}

// Run performs one sync pass: serialize the pending entries, deliver them,
// and mark them synced on success. One pass per invocation; callers hook it
// to connectivity edges or a timer.
func (s *Syncer) Run(ctx context.Context) error {
	if s.send == nil {
		return nil
	}

	pending := s.ledger.PendingSync()
	if len(pending) == 0 {
		return nil
	}

	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode sync batch: %w", err)
	}
	if err := s.send(ctx, payload); err != nil {
		if s.metrics != nil {
			s.metrics.IncSyncFailure()
		}
		s.logger.Warn("audit sync pass failed, entries stay pending",
			slog.Int("entries", len(pending)), "error", err)
		return fmt.Errorf("failed to deliver sync batch: %w", err)
	}

	ids := make([]string, len(pending))
	for i, e := range pending {
		ids[i] = e.ID
	}
	s.ledger.MarkSynced(ctx, ids)
	if s.metrics != nil {
		s.metrics.IncSyncBatch()
	}
	s.logger.Info("audit sync pass delivered", slog.Int("entries", len(pending)))
	return nil
}
