package bulk

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// findOperators are the characters FileMaker interprets in find criteria.
const findOperators = `\@*#?!=<>"~`

// ExactMatch builds a find criterion that matches value literally.
func ExactMatch(value any) string {
	raw := scalarText(value)
	var b strings.Builder
	b.Grow(len(raw) + 2)
	b.WriteString("==")
	for _, r := range raw {
		if strings.ContainsRune(findOperators, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MapFields renames the keys of record through mapping. Fields without a
// mapping entry are dropped. A nil or empty mapping copies record as is.
func MapFields(record map[string]any, mapping map[string]string) map[string]any {
	if len(mapping) == 0 {
		out := make(map[string]any, len(record))
		for k, v := range record {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(mapping))
	for source, target := range mapping {
		if v, ok := record[source]; ok {
			out[target] = v
		}
	}
	return out
}

// Project keeps only fields. No fields means all of them.
func Project(record map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		return MapFields(record, nil)
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := record[f]; ok {
			out[f] = v
		}
	}
	return out
}

func isBlank(v any) bool {
	switch typed := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	default:
		return false
	}
}

// scalarText renders a field value the way it is written into find
// criteria and flat exports.
func scalarText(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case bool:
		return strconv.FormatBool(typed)
	case json.Number:
		return typed.String()
	case fmt.Stringer:
		return typed.String()
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	}
}
