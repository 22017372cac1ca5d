package catalog

import "fmt"

// ValidateParameters checks params against schema and returns a map of
// field name to error message; an empty map means the parameters are valid.
//
// Keys present in params but absent from schema are rejected so that
// misspelled parameter names are caught at write time instead of being
// silently ignored by the task body. Keys declared in schema but absent
// from params are legal: task bodies supply their own defaults.
func ValidateParameters(params map[string]any, schema Schema) map[string]string {
	errs := make(map[string]string)

	for field, value := range params {
		typ, known := schema[field]
		if !known {
			errs[field] = fmt.Sprintf("%s is not a valid parameter", field)
			continue
		}

		switch typ {
		case TypeString:
			if _, ok := value.(string); !ok {
				errs[field] = fmt.Sprintf("%s must be a string", field)
			}
		case TypeInteger:
			if !isWholeNumber(value) {
				errs[field] = fmt.Sprintf("%s must be an integer", field)
			}
		case TypeBoolean:
			if _, ok := value.(bool); !ok {
				errs[field] = fmt.Sprintf("%s must be a boolean", field)
			}
		case TypeFloat:
			if !isNumber(value) {
				errs[field] = fmt.Sprintf("%s must be a number", field)
			}
		}
	}

	return errs
}

// isWholeNumber reports whether value is an integral number. JSON decoding
// produces float64 for all numbers, so a float64 with no fractional part
// counts as an integer.
func isWholeNumber(value any) bool {
	switch v := value.(type) {
	case int, int32, int64:
		return true
	case float64:
		return v == float64(int64(v))
	case float32:
		return v == float32(int64(v))
	default:
		return false
	}
}

// isNumber reports whether value is any numeric type. Integers are accepted
// where a float is declared.
func isNumber(value any) bool {
	switch value.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}
