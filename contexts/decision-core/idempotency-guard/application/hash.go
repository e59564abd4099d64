package application

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Volatile fields are excluded from the request hash so server-generated
// values never break replay detection.
var volatileFields = map[string]struct{}{
	"id":         {},
	"timestamp":  {},
	"created_at": {},
	"updated_at": {},
}

// ComputeRequestHash builds the stable signature of one logical request:
// sha256 of "METHOD:path:canonical-json(body)". encoding/json emits map keys
// in sorted order, which gives the canonical form for free.
func ComputeRequestHash(method string, path string, body map[string]any) string {
	normalized := NormalizeRequestBody(body)
	raw, err := json.Marshal(normalized)
	if err != nil {
		// Normalized bodies hold only strings, numbers, bools, maps and
		// slices, so marshal cannot fail; keep the signature total anyway.
		raw = []byte("{}")
	}
	signature := fmt.Sprintf("%s:%s:%s",
		strings.ToUpper(strings.TrimSpace(method)),
		strings.TrimSpace(path),
		raw,
	)
	sum := sha256.Sum256([]byte(signature))
	return hex.EncodeToString(sum[:])
}

// NormalizeRequestBody drops volatile fields and converts typed values
// (identifiers, enums, datetimes) to stable string forms, recursively.
func NormalizeRequestBody(body map[string]any) map[string]any {
	if body == nil {
		return map[string]any{}
	}
	normalized := make(map[string]any, len(body))
	for key, value := range body {
		if _, volatile := volatileFields[key]; volatile {
			continue
		}
		if value == nil {
			continue
		}
		normalized[key] = normalizeValue(value)
	}
	return normalized
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		nested := make(map[string]any, len(typed))
		for key, item := range typed {
			if item == nil {
				continue
			}
			nested[key] = normalizeValue(item)
		}
		return nested
	case []any:
		items := make([]any, 0, len(typed))
		for _, item := range typed {
			items = append(items, normalizeValue(item))
		}
		return items
	case string, bool, float64, int, int64:
		return typed
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprintf("%v", typed)
	}
}
