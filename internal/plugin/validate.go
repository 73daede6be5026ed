package plugin

import (
	"encoding/json"
	"fmt"
)

// ValidateShape enforces the size and depth limits spec.md §4.5 places on
// every plugin config regardless of plugin-specific field checks: ≤64 KiB
// serialized, depth ≤32, ≤1000 keys per object, ≤10000 array elements.
// None of the built-in plugins' ValidateConfig methods call it; the limits
// apply only where a caller invokes ValidateShape directly.
func ValidateShape(cfg map[string]interface{}) []FieldError {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return []FieldError{{Field: "", Message: fmt.Sprintf("config not serializable: %v", err)}}
	}
	if len(raw) > MaxConfigBytes {
		return []FieldError{{Field: "", Message: fmt.Sprintf("config exceeds %d bytes", MaxConfigBytes)}}
	}

	var errs []FieldError
	walk("", cfg, 1, &errs)
	return errs
}

func walk(path string, v interface{}, depth int, errs *[]FieldError) {
	if depth > MaxConfigDepth {
		*errs = append(*errs, FieldError{Field: path, Message: fmt.Sprintf("exceeds max depth %d", MaxConfigDepth)})
		return
	}
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) > MaxConfigObjectKeys {
			*errs = append(*errs, FieldError{Field: path, Message: fmt.Sprintf("object exceeds %d keys", MaxConfigObjectKeys)})
			return
		}
		for k, child := range t {
			walk(path+"."+k, child, depth+1, errs)
		}
	case []interface{}:
		if len(t) > MaxConfigArrayElems {
			*errs = append(*errs, FieldError{Field: path, Message: fmt.Sprintf("array exceeds %d elements", MaxConfigArrayElems)})
			return
		}
		for i, child := range t {
			walk(fmt.Sprintf("%s[%d]", path, i), child, depth+1, errs)
		}
	}
}
