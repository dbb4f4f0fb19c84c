package conflict

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/wI2L/jsondiff"
)

// FieldMap returns the top-level JSON fields of v.
func FieldMap(v any) (map[string]any, error) {
	if v == nil {
		return nil, fmt.Errorf("field map of nil value")
	}
	if m, ok := v.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%T is not a JSON object: %w", v, err)
	}
	return m, nil
}

// ChangedFields lists the top-level fields present on both sides whose
// values differ, sorted by name. Fields present on only one side are not
// overlapping edits and are ignored.
func ChangedFields(local, server any) ([]string, error) {
	localFields, err := FieldMap(local)
	if err != nil {
		return nil, err
	}
	serverFields, err := FieldMap(server)
	if err != nil {
		return nil, err
	}
	localJSON, err := json.Marshal(localFields)
	if err != nil {
		return nil, err
	}
	serverJSON, err := json.Marshal(serverFields)
	if err != nil {
		return nil, err
	}

	patch, err := jsondiff.CompareJSON(localJSON, serverJSON)
	if err != nil {
		return nil, fmt.Errorf("diff resource fields: %w", err)
	}

	seen := make(map[string]struct{})
	var fields []string
	for _, op := range patch {
		field := topLevelField(string(op.Path))
		if field == "" {
			continue
		}
		if _, ok := localFields[field]; !ok {
			continue
		}
		if _, ok := serverFields[field]; !ok {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields, nil
}

// topLevelField extracts the first reference token of a JSON pointer.
func topLevelField(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return ""
	}
	if i := strings.IndexByte(pointer, '/'); i >= 0 {
		pointer = pointer[:i]
	}
	pointer = strings.ReplaceAll(pointer, "~1", "/")
	return strings.ReplaceAll(pointer, "~0", "~")
}

// Equal compares two values by their JSON representation, so an int64 from
// a typed struct equals the float64 decoded from a map.
func Equal(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	na, errA := normalize(a)
	nb, errB := normalize(b)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
