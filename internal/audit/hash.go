package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// GenesisHash is the fixed previous-hash sentinel of the very first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// computeHash digests every field of the row including its previous hash.
// Map values are serialized with encoding/json, whose sorted-key output keeps
// the digest deterministic.
func computeHash(id int64, e Entry, createdAt time.Time, previousHash string) string {
	var principal string
	if e.PrincipalID != nil {
		principal = strconv.FormatInt(*e.PrincipalID, 10)
	}
	parts := []string{
		strconv.FormatInt(id, 10),
		principal,
		e.Action,
		e.EntityType,
		e.EntityID,
		marshalValues(e.OldValues),
		marshalValues(e.NewValues),
		e.IPAddress,
		e.UserAgent,
		createdAt.UTC().Format(time.RFC3339Nano),
		previousHash,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func marshalValues(values map[string]any) string {
	if len(values) == 0 {
		return ""
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(raw)
}

func entryOf(s StoredEntry) Entry {
	return Entry{
		PrincipalID: s.PrincipalID,
		Action:      s.Action,
		EntityType:  s.EntityType,
		EntityID:    s.EntityID,
		OldValues:   s.OldValues,
		NewValues:   s.NewValues,
		IPAddress:   s.IPAddress,
		UserAgent:   s.UserAgent,
	}
}
