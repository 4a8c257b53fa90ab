package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// computeDigest derives the integrity digest from an entry's immutable
// identifying fields. Sync state is deliberately excluded: marking an entry
// synced must not change its digest.
//
// The digest is SHA-256 over a canonical field concatenation. The legacy
// dashboard used a non-cryptographic rolling checksum here; digest values
// therefore do not match ledgers written by that implementation, which must
// be re-verified after migration.
func computeDigest(e Entry) string {
	fields := []string{
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.ActorID,
		string(e.Action),
		e.Module,
		e.ResourceType,
		e.ResourceID,
		string(e.Details),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}
