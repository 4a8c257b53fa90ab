package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/harborwatch/fleetcore/internal/session"
	"github.com/harborwatch/fleetcore/internal/store"
)

func newTestLedger(t *testing.T, s store.Store, cfg Config) *Ledger {
	t.Helper()
	l, err := New(s, cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l
}

func TestLog_AssignsIdentity(t *testing.T) {
	l := newTestLedger(t, nil, Config{})

	ctx := session.WithActor(context.Background(), "capt-7", "E. Marlow")
	ctx = session.WithSessionID(ctx, "sess-1")

	e := l.LogCreate(ctx, "vessels", "vessel", "v-42", json.RawMessage(`{"name":"Meridian"}`))

	if e.ID == "" {
		t.Error("entry should be assigned an ID")
	}
	if e.Timestamp.IsZero() {
		t.Error("entry should be assigned a timestamp")
	}
	if e.ActorID != "capt-7" || e.ActorName != "E. Marlow" {
		t.Errorf("actor = %q/%q, want from context", e.ActorID, e.ActorName)
	}
	if e.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", e.SessionID)
	}
	if e.Digest == "" {
		t.Error("entry should carry an integrity digest")
	}
	if e.Synced {
		t.Error("new entries start unsynced")
	}
}

func TestLog_ExplicitActorWinsOverContext(t *testing.T) {
	l := newTestLedger(t, nil, Config{})
	ctx := session.WithActor(context.Background(), "ctx-actor", "Context Actor")

	e := l.Log(ctx, Record{ActorID: "system", Action: ActionAccess, Module: "compliance"})

	if e.ActorID != "system" {
		t.Errorf("ActorID = %q, want explicit record value", e.ActorID)
	}
}

func TestQuery_NewestFirstWithFilterAndLimit(t *testing.T) {
	l := newTestLedger(t, nil, Config{})
	ctx := context.Background()

	l.LogCreate(ctx, "vessels", "vessel", "v-1", nil)
	l.LogDelete(ctx, "vessels", "vessel", "v-1", nil)
	l.LogCreate(ctx, "crew", "crew_member", "c-1", nil)

	got := l.Query(Filter{Module: "vessels"})
	if len(got) != 2 {
		t.Fatalf("Query(vessels) returned %d entries, want 2", len(got))
	}
	if got[0].Action != ActionDelete {
		t.Errorf("first result action = %s, want newest (DELETE)", got[0].Action)
	}

	limited := l.Query(Filter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("Query(limit 1) returned %d entries", len(limited))
	}
	if limited[0].Module != "crew" {
		t.Errorf("limited result module = %q, want newest entry", limited[0].Module)
	}
}

func TestQuery_TimeBounds(t *testing.T) {
	l := newTestLedger(t, nil, Config{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		offset := time.Duration(i) * time.Hour
		l.now = func() time.Time { return base.Add(offset) }
		l.LogAccess(context.Background(), "compliance", "document", "d-1")
	}

	got := l.Query(Filter{From: base.Add(30 * time.Minute), To: base.Add(90 * time.Minute)})
	if len(got) != 1 {
		t.Fatalf("Query(window) returned %d entries, want 1", len(got))
	}
	if !got[0].Timestamp.Equal(base.Add(time.Hour)) {
		t.Errorf("Timestamp = %v, want the middle entry", got[0].Timestamp)
	}
}

func TestLedger_SurvivesRestart(t *testing.T) {
	s := store.NewMemory()
	cfg := Config{EncryptionKey: "harbor-secret"}

	l := newTestLedger(t, s, cfg)
	l.LogCreate(context.Background(), "vessels", "vessel", "v-1", nil)
	l.LogCreate(context.Background(), "vessels", "vessel", "v-2", nil)

	reopened := newTestLedger(t, s, cfg)
	if got := reopened.Stats().TotalEntries; got != 2 {
		t.Errorf("reopened ledger has %d entries, want 2", got)
	}
}

func TestLedger_WrongKeyStartsEmpty(t *testing.T) {
	s := store.NewMemory()
	l := newTestLedger(t, s, Config{EncryptionKey: "key-one"})
	l.LogCreate(context.Background(), "vessels", "vessel", "v-1", nil)

	reopened := newTestLedger(t, s, Config{EncryptionKey: "key-two"})
	if got := reopened.Stats().TotalEntries; got != 0 {
		t.Errorf("ledger opened with wrong key has %d entries, want 0", got)
	}
}

func TestLedger_PersistedBlobIsNotPlaintext(t *testing.T) {
	s := store.NewMemory()
	l := newTestLedger(t, s, Config{EncryptionKey: "harbor-secret"})
	l.LogCreate(context.Background(), "vessels", "vessel", "v-secret-hull", nil)

	data, ok, err := s.Get(context.Background(), storeKey)
	if err != nil || !ok {
		t.Fatalf("persisted blob missing: ok=%v err=%v", ok, err)
	}
	if strings.Contains(string(data), "v-secret-hull") {
		t.Error("persisted blob contains plaintext resource ID")
	}
}

func TestRetention_SweepsOldSyncedKeepsOldUnsynced(t *testing.T) {
	s := store.NewMemory()
	cfg := Config{RetentionDays: 30, EncryptionKey: "k"}

	l := newTestLedger(t, s, cfg)
	old := time.Now().UTC().AddDate(0, 0, -60)
	l.now = func() time.Time { return old }

	synced := l.LogCreate(context.Background(), "vessels", "vessel", "v-old-synced", nil)
	unsynced := l.LogCreate(context.Background(), "vessels", "vessel", "v-old-unsynced", nil)
	l.MarkSynced(context.Background(), []string{synced.ID})

	reopened := newTestLedger(t, s, cfg)
	remaining := reopened.Query(Filter{})
	if len(remaining) != 1 {
		t.Fatalf("after sweep %d entries remain, want 1", len(remaining))
	}
	if remaining[0].ID != unsynced.ID {
		t.Error("sweep should keep the unsynced entry and remove the synced one")
	}
}

func TestCap_EvictsOldestSyncedNeverUnsynced(t *testing.T) {
	l := newTestLedger(t, nil, Config{MaxEntries: 3})
	ctx := context.Background()

	first := l.LogCreate(ctx, "vessels", "vessel", "v-1", nil)
	second := l.LogCreate(ctx, "vessels", "vessel", "v-2", nil)
	l.MarkSynced(ctx, []string{first.ID, second.ID})

	l.LogCreate(ctx, "vessels", "vessel", "v-3", nil)
	l.LogCreate(ctx, "vessels", "vessel", "v-4", nil)

	entries := l.Query(Filter{})
	if len(entries) != 3 {
		t.Fatalf("ledger holds %d entries, want cap of 3", len(entries))
	}
	for _, e := range entries {
		if e.ID == first.ID {
			t.Error("oldest synced entry should have been evicted")
		}
	}
}

func TestCap_AllUnsyncedNothingEvicted(t *testing.T) {
	l := newTestLedger(t, nil, Config{MaxEntries: 2})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		l.LogAccess(ctx, "compliance", "document", "d-1")
	}
	if got := l.Stats().TotalEntries; got != 4 {
		t.Errorf("ledger holds %d entries, want all 4 unsynced retained", got)
	}
}

func TestMarkSynced(t *testing.T) {
	l := newTestLedger(t, nil, Config{})
	ctx := context.Background()

	a := l.LogCreate(ctx, "vessels", "vessel", "v-1", nil)
	b := l.LogCreate(ctx, "vessels", "vessel", "v-2", nil)

	if got := len(l.PendingSync()); got != 2 {
		t.Fatalf("PendingSync() = %d entries, want 2", got)
	}

	l.MarkSynced(ctx, []string{a.ID})

	pending := l.PendingSync()
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Errorf("PendingSync() = %v, want only the second entry", pending)
	}

	synced := l.Query(Filter{ResourceID: "v-1"})
	if len(synced) != 1 || !synced[0].Synced || synced[0].SyncedAt == nil {
		t.Error("synced entry should carry Synced flag and timestamp")
	}
}

func TestVerifyIntegrity(t *testing.T) {
	l := newTestLedger(t, nil, Config{})
	e := l.LogCreate(context.Background(), "vessels", "vessel", "v-1", nil)

	ok, err := l.VerifyIntegrity(e.ID)
	if err != nil {
		t.Fatalf("VerifyIntegrity() error = %v", err)
	}
	if !ok {
		t.Error("untouched entry should verify")
	}

	if _, err := l.VerifyIntegrity("no-such-id"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("VerifyIntegrity(unknown) error = %v, want ErrEntryNotFound", err)
	}
}

func TestVerifyIntegrity_SyncStateDoesNotAffectDigest(t *testing.T) {
	l := newTestLedger(t, nil, Config{})
	e := l.LogCreate(context.Background(), "vessels", "vessel", "v-1", nil)

	l.MarkSynced(context.Background(), []string{e.ID})

	ok, err := l.VerifyIntegrity(e.ID)
	if err != nil || !ok {
		t.Errorf("entry should still verify after MarkSynced: ok=%v err=%v", ok, err)
	}
}

func TestVerifyAllIntegrity_DetectsTamperedStorage(t *testing.T) {
	s := store.NewMemory()
	cfg := Config{EncryptionKey: "harbor-secret"}

	l := newTestLedger(t, s, cfg)
	ctx := context.Background()
	l.LogCreate(ctx, "vessels", "vessel", "v-1", nil)
	tampered := l.LogUpdate(ctx, "crew", "crew_member", "c-1",
		json.RawMessage(`{"rank":"mate"}`), json.RawMessage(`{"rank":"captain"}`))

	// Rewrite the persisted blob through the cipher, as an attacker with
	// the key would, altering one field of one entry.
	blob, _, err := s.Get(ctx, storeKey)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	crypt, err := newCryptor(cfg.EncryptionKey)
	if err != nil {
		t.Fatalf("newCryptor() error = %v", err)
	}
	plaintext, err := crypt.open(blob)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}
	var entries []Entry
	if err := cbor.Unmarshal(plaintext, &entries); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for i := range entries {
		if entries[i].ID == tampered.ID {
			entries[i].ResourceID = "c-999"
		}
	}
	forged, err := encMode.Marshal(entries)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	sealed, err := crypt.seal(forged)
	if err != nil {
		t.Fatalf("seal() error = %v", err)
	}
	if err := s.Set(ctx, storeKey, sealed); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	reopened := newTestLedger(t, s, cfg)
	result := reopened.VerifyAllIntegrity()
	if result.Valid != 1 || result.Invalid != 1 {
		t.Fatalf("integrity = %d valid / %d invalid, want 1/1", result.Valid, result.Invalid)
	}
	if len(result.InvalidIDs) != 1 || result.InvalidIDs[0] != tampered.ID {
		t.Errorf("InvalidIDs = %v, want the tampered entry", result.InvalidIDs)
	}
}

func TestLogUpdate_RecordsChangedFields(t *testing.T) {
	l := newTestLedger(t, nil, Config{})

	e := l.LogUpdate(context.Background(), "vessels", "vessel", "v-1",
		json.RawMessage(`{"name":"Meridian","status":"docked","flag":"PA"}`),
		json.RawMessage(`{"name":"Meridian","status":"underway","heading":270}`))

	var details struct {
		ChangedFields []string `json:"changed_fields"`
	}
	if err := json.Unmarshal(e.Details, &details); err != nil {
		t.Fatalf("Details unmarshal error = %v", err)
	}
	want := []string{"flag", "heading", "status"}
	if len(details.ChangedFields) != len(want) {
		t.Fatalf("changed_fields = %v, want %v", details.ChangedFields, want)
	}
	for i, f := range want {
		if details.ChangedFields[i] != f {
			t.Errorf("changed_fields[%d] = %q, want %q", i, details.ChangedFields[i], f)
		}
	}
}

func TestLogLogin(t *testing.T) {
	l := newTestLedger(t, nil, Config{})
	ctx := context.Background()

	success := l.LogLogin(ctx, "capt-7", true)
	failure := l.LogLogin(ctx, "capt-7", false)

	if success.Action != ActionLoginSuccess {
		t.Errorf("success action = %s, want LOGIN_SUCCESS", success.Action)
	}
	if failure.Action != ActionLoginFailed {
		t.Errorf("failure action = %s, want LOGIN_FAILED", failure.Action)
	}
	if success.Module != "auth" || success.ActorID != "capt-7" {
		t.Errorf("login entry = %+v, want auth module and given actor", success)
	}
}

func TestLog_StoreFailureDoesNotBlockLogging(t *testing.T) {
	l := newTestLedger(t, failingStore{}, Config{})

	e := l.LogCreate(context.Background(), "vessels", "vessel", "v-1", nil)

	if e.ID == "" {
		t.Error("logging should succeed even when persistence fails")
	}
	if got := l.Stats().TotalEntries; got != 1 {
		t.Errorf("TotalEntries = %d, want 1 held in memory", got)
	}
}

// failingStore errors on every operation.
type failingStore struct{}

func (failingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("backend unavailable")
}

func (failingStore) Set(ctx context.Context, key string, value []byte) error {
	return errors.New("backend unavailable")
}

func (failingStore) Delete(ctx context.Context, key string) error {
	return errors.New("backend unavailable")
}
