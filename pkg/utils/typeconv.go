package utils

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ConvertToInt64 handles the loose numeric encodings found in legacy JSON:
// plain numbers, numeric strings and json.Number all resolve to int64.
func ConvertToInt64(val interface{}) (int64, error) {
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("cannot convert non-integral %v to int", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case []byte:
		return ConvertToInt64(string(v))
	default:
		return 0, fmt.Errorf("cannot convert %T to int", val)
	}
}

// UnmarshalFlexibleInt decodes a JSON value that may be either a number or a
// quoted number. A JSON null decodes to zero.
func UnmarshalFlexibleInt(data []byte) (int64, error) {
	var raw interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}
	return ConvertToInt64(raw)
}
