package directory

import (
	"encoding/json"
	"strconv"
)

// ResolveOtherParticipant extracts the peer identifier from a heterogeneous
// summary record. Upstream records are not uniform; the precedence is:
//
//  1. direct "userId" field
//  2. embedded "user" object
//  3. "otherUserId" field
//  4. "participants" array, excluding self
//  5. two-sided "user1"/"user2" fields
//
// The empty string means no identifier could be found. This function is a
// compatibility shim for an inconsistent upstream schema and is the only
// shape-tolerant code in the engine; everything downstream uses a plain
// identifier.
func ResolveOtherParticipant(record map[string]any, selfID string) string {
	if record == nil {
		return ""
	}
	if id := asID(record["userId"]); id != "" {
		return id
	}
	if user, ok := record["user"].(map[string]any); ok {
		if id := recordID(user); id != "" {
			return id
		}
	}
	if id := asID(record["otherUserId"]); id != "" {
		return id
	}
	if parts, ok := record["participants"].([]any); ok {
		for _, p := range parts {
			id := asID(p)
			if id == "" {
				if obj, ok := p.(map[string]any); ok {
					id = recordID(obj)
				}
			}
			if id != "" && id != selfID {
				return id
			}
		}
	}
	u1, u2 := asID(record["user1"]), asID(record["user2"])
	if u1 != "" && u2 != "" && selfID != "" {
		if u1 == selfID {
			return u2
		}
		return u1
	}
	return ""
}

// recordID probes the id field variants of an embedded object, in the order
// "_id", "id", "userId", "uid".
func recordID(obj map[string]any) string {
	for _, k := range []string{"_id", "id", "userId", "uid"} {
		if id := asID(obj[k]); id != "" {
			return id
		}
	}
	return ""
}

// asID coerces a scalar identifier to its string form. Numbers appear in the
// wild where the store predates string ids.
func asID(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	}
	return ""
}
