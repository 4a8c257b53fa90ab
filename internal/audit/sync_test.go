package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestSyncer_MarksDeliveredEntries(t *testing.T) {
	l := newTestLedger(t, nil, Config{})
	ctx := context.Background()
	l.LogCreate(ctx, "vessels", "vessel", "v-1", nil)
	l.LogCreate(ctx, "vessels", "vessel", "v-2", nil)

	var delivered []Entry
	send := func(ctx context.Context, payload []byte) error {
		return json.Unmarshal(payload, &delivered)
	}

	s := NewSyncer(l, send, nil, nil)
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(delivered) != 2 {
		t.Errorf("delivered %d entries, want 2", len(delivered))
	}
	if got := len(l.PendingSync()); got != 0 {
		t.Errorf("PendingSync() = %d after successful pass, want 0", got)
	}
}

func TestSyncer_FailureLeavesEntriesPending(t *testing.T) {
	l := newTestLedger(t, nil, Config{})
	ctx := context.Background()
	l.LogCreate(ctx, "vessels", "vessel", "v-1", nil)

	send := func(ctx context.Context, payload []byte) error {
		return errors.New("endpoint unreachable")
	}

	s := NewSyncer(l, send, nil, nil)
	if err := s.Run(ctx); err == nil {
		t.Fatal("Run() should surface the delivery failure")
	}

	if got := len(l.PendingSync()); got != 1 {
		t.Errorf("PendingSync() = %d after failed pass, want 1", got)
	}
}

func TestSyncer_NothingPendingIsNoOp(t *testing.T) {
	l := newTestLedger(t, nil, Config{})

	calls := 0
	send := func(ctx context.Context, payload []byte) error {
		calls++
		return nil
	}

	s := NewSyncer(l, send, nil, nil)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("send called %d times with empty backlog, want 0", calls)
	}
}

func TestSyncer_NilSendDisabled(t *testing.T) {
	l := newTestLedger(t, nil, Config{})
	l.LogCreate(context.Background(), "vessels", "vessel", "v-1", nil)

	s := NewSyncer(l, nil, nil, nil)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() with no send function should be a no-op, got %v", err)
	}
	if got := len(l.PendingSync()); got != 1 {
		t.Errorf("PendingSync() = %d, want entries untouched", got)
	}
}

func TestSyncer_SecondPassSkipsSynced(t *testing.T) {
	l := newTestLedger(t, nil, Config{})
	ctx := context.Background()
	l.LogCreate(ctx, "vessels", "vessel", "v-1", nil)

	var batches [][]Entry
	send := func(ctx context.Context, payload []byte) error {
		var entries []Entry
		if err := json.Unmarshal(payload, &entries); err != nil {
			return err
		}
		batches = append(batches, entries)
		return nil
	}

	s := NewSyncer(l, send, nil, nil)
	s.Run(ctx)
	l.LogCreate(ctx, "vessels", "vessel", "v-2", nil)
	s.Run(ctx)

	if len(batches) != 2 {
		t.Fatalf("delivered %d batches, want 2", len(batches))
	}
	if len(batches[1]) != 1 || batches[1][0].ResourceID != "v-2" {
		t.Errorf("second batch = %v, want only the new entry", batches[1])
	}
}
