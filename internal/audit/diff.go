package audit

import (
	"bytes"
	"encoding/json"
	"sort"
)

// changedFields compares two JSON objects and returns the sorted names of
// top-level fields that were added, removed, or modified. Non-object
// payloads yield an empty list; the full values are kept on the entry
// anyway.
func changedFields(previous, updated json.RawMessage) []string {
	var before, after map[string]json.RawMessage
	if err := json.Unmarshal(previous, &before); err != nil {
		return []string{}
	}
	if err := json.Unmarshal(updated, &after); err != nil {
		return []string{}
	}

	changed := []string{}
	for k, v := range before {
		nv, ok := after[k]
		if !ok || !bytes.Equal(v, nv) {
			changed = append(changed, k)
		}
	}
	for k := range after {
		if _, ok := before[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
