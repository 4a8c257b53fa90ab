package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/harborwatch/fleetcore/internal/session"
	"github.com/harborwatch/fleetcore/internal/store"
)

// storeKey is the durable-store key holding the encrypted entry list.
const storeKey = "audit-log"

// encMode preserves nanosecond timestamps across persistence. The default
// encoder truncates time.Time to whole seconds, which would invalidate every
// digest on reload.
var encMode, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()

// ErrEntryNotFound is returned when a referenced entry does not exist.
var ErrEntryNotFound = errors.New("audit entry not found")

// Config bounds the ledger's local retention.
type Config struct {
	// RetentionDays is the horizon after which synced entries are swept.
	RetentionDays int

	// MaxEntries caps the ledger size. Eviction removes oldest synced
	// entries first and never touches unsynced ones: data pending upload
	// for compliance outlives storage pressure.
	MaxEntries int

	// EncryptionKey is the at-rest passphrase. Empty selects a development
	// fallback and logs a warning.
	EncryptionKey string
}

// defaults for unset config fields.
const (
	DefaultRetentionDays = 90
	DefaultMaxEntries    = 10000
)

// Ledger is the append-only audit log. Entries are held in memory in append
// order and persisted, encrypted, through the durable store after every
// change. Persistence failures are logged and swallowed: losing the ability
// to persist must not block the action being audited.
type Ledger struct {
	logger  *slog.Logger
	store   store.Store
	crypt   *cryptor
	metrics *Metrics
	cfg     Config

	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// New creates a Ledger over the given store, restoring any persisted
// entries and running the retention sweep. A nil store disables
// persistence.
func New(s store.Store, cfg Config, metrics *Metrics, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.EncryptionKey == "" {
		logger.Warn("audit encryption using development fallback key; configure FLEETCORE_AUDIT_ENCRYPTION_KEY for real deployments")
	}

	crypt, err := newCryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		logger:  logger,
		store:   s,
		crypt:   crypt,
		metrics: metrics,
		cfg:     cfg,
		now:     time.Now,
	}
	l.load()

	l.mu.Lock()
	l.sweepLocked()
	l.evictLocked()
	l.persistLocked(context.Background())
	l.observeLocked()
	l.mu.Unlock()

	return l, nil
}

// Log appends one entry for the given record. The entry ID, timestamp,
// session identifier, and integrity digest are assigned here. Actor fields
// left empty on the record are taken from the context.
func (l *Ledger) Log(ctx context.Context, rec Record) Entry {
	e := Entry{
		ID:            uuid.New().String(),
		Timestamp:     l.now().UTC(),
		ActorID:       rec.ActorID,
		ActorName:     rec.ActorName,
		Action:        rec.Action,
		Module:        rec.Module,
		ResourceType:  rec.ResourceType,
		ResourceID:    rec.ResourceID,
		Details:       rec.Details,
		PreviousValue: rec.PreviousValue,
		NewValue:      rec.NewValue,
		SessionID:     session.SessionID(ctx),
	}
	if e.ActorID == "" {
		e.ActorID = session.ActorID(ctx)
	}
	if e.ActorName == "" {
		e.ActorName = session.ActorName(ctx)
	}
	e.Digest = computeDigest(e)

	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.evictLocked()
	l.persistLocked(ctx)
	l.observeLocked()
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.IncLogged(string(e.Action))
	}
	return e
}

// LogCreate records the creation of a resource.
func (l *Ledger) LogCreate(ctx context.Context, module, resourceType, resourceID string, newValue json.RawMessage) Entry {
	return l.Log(ctx, Record{
		Action:       ActionCreate,
		Module:       module,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		NewValue:     newValue,
	})
}

// LogUpdate records a modification, capturing both values and the names of
// the top-level fields that changed.
func (l *Ledger) LogUpdate(ctx context.Context, module, resourceType, resourceID string, previous, updated json.RawMessage) Entry {
	details, err := json.Marshal(map[string]any{
		"changed_fields": changedFields(previous, updated),
	})
	if err != nil {
		details = nil
	}
	return l.Log(ctx, Record{
		Action:        ActionUpdate,
		Module:        module,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Details:       details,
		PreviousValue: previous,
		NewValue:      updated,
	})
}

// LogDelete records the removal of a resource.
func (l *Ledger) LogDelete(ctx context.Context, module, resourceType, resourceID string, previous json.RawMessage) Entry {
	return l.Log(ctx, Record{
		Action:        ActionDelete,
		Module:        module,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		PreviousValue: previous,
	})
}

// LogAccess records a read of sensitive data.
func (l *Ledger) LogAccess(ctx context.Context, module, resourceType, resourceID string) Entry {
	return l.Log(ctx, Record{
		Action:       ActionAccess,
		Module:       module,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	})
}

// LogLogin records an authentication attempt.
func (l *Ledger) LogLogin(ctx context.Context, actorID string, success bool) Entry {
	action := ActionLoginSuccess
	if !success {
		action = ActionLoginFailed
	}
	return l.Log(ctx, Record{
		ActorID:      actorID,
		Action:       action,
		Module:       "auth",
		ResourceType: "session",
	})
}

// LogLogout records the end of a session.
func (l *Ledger) LogLogout(ctx context.Context) Entry {
	return l.Log(ctx, Record{
		Action:       ActionLogout,
		Module:       "auth",
		ResourceType: "session",
	})
}

// LogAIAction records an action performed through the AI assistant edge
// functions.
func (l *Ledger) LogAIAction(ctx context.Context, module string, details json.RawMessage) Entry {
	return l.Log(ctx, Record{
		Action:       ActionAIAction,
		Module:       module,
		ResourceType: "ai_request",
		Details:      details,
	})
}

// Query returns entries matching the filter, newest first. Limit bounds the
// result (0 = no limit).
func (l *Ledger) Query(f Filter) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var results []Entry
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if !f.matches(e) {
			continue
		}
		results = append(results, e)
		if f.Limit > 0 && len(results) >= f.Limit {
			break
		}
	}
	return results
}

// PendingSync returns the entries not yet confirmed by the remote
// compliance endpoint, in append order.
func (l *Ledger) PendingSync() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var pending []Entry
	for _, e := range l.entries {
		if !e.Synced {
			pending = append(pending, e)
		}
	}
	return pending
}

// MarkSynced flags the given entries as confirmed remotely. Sync state is
// the only mutation an entry ever receives; the digest does not cover it.
func (l *Ledger) MarkSynced(ctx context.Context, ids []string) {
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	now := l.now().UTC()
	l.mu.Lock()
	for i := range l.entries {
		if idSet[l.entries[i].ID] && !l.entries[i].Synced {
			l.entries[i].Synced = true
			l.entries[i].SyncedAt = &now
		}
	}
	l.persistLocked(ctx)
	l.observeLocked()
	l.mu.Unlock()
}

// VerifyIntegrity recomputes the digest for one entry and compares it to
// the stored value. A mismatch means tampering or a caller bug that mutated
// a field post-creation; both are surfaced, never repaired.
func (l *Ledger) VerifyIntegrity(id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if e.ID == id {
			return computeDigest(e) == e.Digest, nil
		}
	}
	return false, ErrEntryNotFound
}

// VerifyAllIntegrity checks every entry and reports the invalid ones.
func (l *Ledger) VerifyAllIntegrity() IntegrityResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	var result IntegrityResult
	for _, e := range l.entries {
		if computeDigest(e) == e.Digest {
			result.Valid++
		} else {
			result.Invalid++
			result.InvalidIDs = append(result.InvalidIDs, e.ID)
		}
	}
	return result
}

// Stats summarizes the ledger for the ops polling surface.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Stats{
		TotalEntries: len(l.entries),
		ByModule:     make(map[string]int),
	}
	for _, e := range l.entries {
		stats.ByModule[e.Module]++
		if !e.Synced {
			stats.PendingSync++
		}
	}
	if len(l.entries) > 0 {
		oldest := l.entries[0].Timestamp
		newest := l.entries[len(l.entries)-1].Timestamp
		stats.Oldest = &oldest
		stats.Newest = &newest
	}
	return stats
}

// sweepLocked removes entries past the retention horizon, but only if they
// are already synced: unsynced entries are retained regardless of age.
// Callers must hold the mutex.
func (l *Ledger) sweepLocked() {
	cutoff := l.now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)
	kept := l.entries[:0]
	removed := 0
	for _, e := range l.entries {
		if e.Synced && e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	if removed > 0 {
		l.logger.Info("retention sweep removed synced entries",
			slog.Int("removed", removed),
			slog.Time("cutoff", cutoff))
	}
}

// evictLocked enforces the entry cap, dropping oldest synced entries first.
// When everything over the cap is unsynced, nothing is evicted. Callers
// must hold the mutex.
func (l *Ledger) evictLocked() {
	if len(l.entries) <= l.cfg.MaxEntries {
		return
	}
	over := len(l.entries) - l.cfg.MaxEntries

	kept := make([]Entry, 0, len(l.entries))
	evicted := 0
	for _, e := range l.entries {
		if evicted < over && e.Synced {
			evicted++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	if evicted > 0 {
		l.logger.Info("size cap evicted oldest synced entries", slog.Int("evicted", evicted))
	}
}

// load restores the persisted, encrypted entry list.
func (l *Ledger) load() {
	if l.store == nil {
		return
	}

	data, ok, err := l.store.Get(context.Background(), storeKey)
	if err != nil {
		l.logger.Warn("failed to load audit log, starting empty", "error", err)
		return
	}
	if !ok {
		return
	}

	plaintext, err := l.crypt.open(data)
	if err != nil {
		l.logger.Warn("failed to decrypt audit log, starting empty", "error", err)
		return
	}

	var entries []Entry
	if err := cbor.Unmarshal(plaintext, &entries); err != nil {
		l.logger.Warn("failed to decode audit log, starting empty", "error", err)
		return
	}
	l.entries = entries
}

// persistLocked writes the encrypted entry list through the store. Callers
// must hold the mutex. Failures are logged and swallowed: the audited
// action's availability outranks audit durability.
func (l *Ledger) persistLocked(ctx context.Context) {
	if l.store == nil {
		return
	}

	plaintext, err := encMode.Marshal(l.entries)
	if err != nil {
		l.logger.Warn("failed to encode audit log", "error", err)
		return
	}
	sealed, err := l.crypt.seal(plaintext)
	if err != nil {
		l.logger.Warn("failed to encrypt audit log", "error", err)
		return
	}
	if err := l.store.Set(ctx, storeKey, sealed); err != nil {
		l.logger.Warn("failed to persist audit log", "error", err)
	}
}

// observeLocked updates gauges. Callers must hold the mutex.
func (l *Ledger) observeLocked() {
	if l.metrics == nil {
		return
	}
	pending := 0
	for _, e := range l.entries {
		if !e.Synced {
			pending++
		}
	}
	l.metrics.SetTotalEntries(float64(len(l.entries)))
	l.metrics.SetPendingSync(float64(pending))
}
