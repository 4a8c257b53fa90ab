package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// exportDocument is the JSON export envelope handed to compliance reviewers.
type exportDocument struct {
	ExportedAt time.Time      `json:"exported_at"`
	From       *time.Time     `json:"from,omitempty"`
	To         *time.Time     `json:"to,omitempty"`
	Count      int            `json:"count"`
	ByActor    map[string]int `json:"by_actor"`
	ByModule   map[string]int `json:"by_module"`
	ByAction   map[string]int `json:"by_action"`
	Entries    []Entry        `json:"entries"`
}

// csvHeader is the column layout for CSV exports. Opaque JSON values are
// flattened into single cells.
var csvHeader = []string{
	"id", "timestamp", "actor_id", "actor_name", "action", "module",
	"resource_type", "resource_id", "details", "session_id", "synced", "digest",
}

// ExportJSON serializes the entries matching the filter, oldest first, with
// summary counts suitable for handing off as a single compliance document.
func (l *Ledger) ExportJSON(f Filter) ([]byte, error) {
	entries := l.chronological(f)

	doc := exportDocument{
		ExportedAt: l.now().UTC(),
		Count:      len(entries),
		ByActor:    make(map[string]int),
		ByModule:   make(map[string]int),
		ByAction:   make(map[string]int),
		Entries:    entries,
	}
	if !f.From.IsZero() {
		doc.From = &f.From
	}
	if !f.To.IsZero() {
		doc.To = &f.To
	}
	for _, e := range entries {
		doc.ByActor[e.ActorID]++
		doc.ByModule[e.Module]++
		doc.ByAction[string(e.Action)]++
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	return data, nil
}

// ExportCSV serializes the entries matching the filter as CSV, oldest
// first, one row per entry.
func (l *Ledger) ExportCSV(f Filter) ([]byte, error) {
	entries := l.chronological(f)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.ActorID,
			e.ActorName,
			string(e.Action),
			e.Module,
			e.ResourceType,
			e.ResourceID,
			string(e.Details),
			e.SessionID,
			strconv.FormatBool(e.Synced),
			e.Digest,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// chronological returns matching entries in append order, ignoring Limit.
func (l *Ledger) chronological(f Filter) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var entries []Entry
	for _, e := range l.entries {
		if f.matches(e) {
			entries = append(entries, e)
		}
	}
	return entries
}
