// Package audit provides the append-only, integrity-checked ledger of
// tracked user and system actions kept for regulatory compliance. Entries
// are persisted encrypted at rest, queried and reported on locally, and
// synchronized to the remote compliance endpoint when connectivity allows.
package audit

import (
	"encoding/json"
	"time"
)

// Action is the enumerated verb recorded on an entry.
type Action string

// Tracked action verbs.
const (
	ActionCreate       Action = "CREATE"
	ActionUpdate       Action = "UPDATE"
	ActionDelete       Action = "DELETE"
	ActionAccess       Action = "ACCESS"
	ActionLoginSuccess Action = "LOGIN_SUCCESS"
	ActionLoginFailed  Action = "LOGIN_FAILED"
	ActionLogout       Action = "LOGOUT"
	ActionAIAction     Action = "AI_ACTION"
)

// Entry is one immutable record of a tracked action. After creation the
// only fields ever written are Synced and SyncedAt; everything covered by
// Digest must stay untouched or integrity verification will flag it.
type Entry struct {
	ID            string          `json:"id" cbor:"id"`
	Timestamp     time.Time       `json:"timestamp" cbor:"timestamp"`
	ActorID       string          `json:"actor_id" cbor:"actor_id"`
	ActorName     string          `json:"actor_name,omitempty" cbor:"actor_name,omitempty"`
	Action        Action          `json:"action" cbor:"action"`
	Module        string          `json:"module" cbor:"module"`
	ResourceType  string          `json:"resource_type" cbor:"resource_type"`
	ResourceID    string          `json:"resource_id,omitempty" cbor:"resource_id,omitempty"`
	Details       json.RawMessage `json:"details,omitempty" cbor:"details,omitempty"`
	PreviousValue json.RawMessage `json:"previous_value,omitempty" cbor:"previous_value,omitempty"`
	NewValue      json.RawMessage `json:"new_value,omitempty" cbor:"new_value,omitempty"`
	SessionID     string          `json:"session_id" cbor:"session_id"`
	Synced        bool            `json:"synced" cbor:"synced"`
	SyncedAt      *time.Time      `json:"synced_at,omitempty" cbor:"synced_at,omitempty"`
	Digest        string          `json:"digest" cbor:"digest"`
}

// Record is the input for creating an entry. Identity, timestamp, session,
// and digest are assigned by the ledger.
type Record struct {
	ActorID       string
	ActorName     string
	Action        Action
	Module        string
	ResourceType  string
	ResourceID    string
	Details       json.RawMessage
	PreviousValue json.RawMessage
	NewValue      json.RawMessage
}

// Filter narrows queries, reports, and exports. Zero fields match
// everything; time bounds are inclusive.
type Filter struct {
	ActorID      string
	Action       Action
	Module       string
	ResourceType string
	ResourceID   string
	From         time.Time
	To           time.Time
	Limit        int
}

// matches reports whether e satisfies the filter, ignoring Limit.
func (f Filter) matches(e Entry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Module != "" && e.Module != f.Module {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Stats is the ledger summary polled by ops tooling.
type Stats struct {
	TotalEntries int            `json:"total_entries"`
	PendingSync  int            `json:"pending_sync"`
	ByModule     map[string]int `json:"by_module"`
	Oldest       *time.Time     `json:"oldest,omitempty"`
	Newest       *time.Time     `json:"newest,omitempty"`
}

// Report is a derived aggregate over the entries matching a filter. It is
// computed on demand and never stored.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	From        time.Time      `json:"from,omitempty"`
	To          time.Time      `json:"to,omitempty"`
	ByActor     map[string]int `json:"by_actor"`
	ByModule    map[string]int `json:"by_module"`
	ByAction    map[string]int `json:"by_action"`
	Entries     []Entry        `json:"entries"`
}

// IntegrityResult summarizes a full-ledger verification pass.
type IntegrityResult struct {
	Valid      int      `json:"valid"`
	Invalid    int      `json:"invalid"`
	InvalidIDs []string `json:"invalid_ids,omitempty"`
}
