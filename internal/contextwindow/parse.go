package contextwindow

import (
	"encoding/json"
	"strconv"
	"strings"
)

// parameterKeys are the Modelfile parameters that declare a context length.
var parameterKeys = map[string]bool{"num_ctx": true, "max_sequence_length": true}

// ParseContextWindow extracts the context length from an /api/show
// document. It looks at the parameters block (top level or under
// "details"), then model_info.num_ctx, then any model_info key ending in
// ".context_length". A matched parameter line with an unparsable value
// makes the result unknown.
func ParseContextWindow(details map[string]any) (int, bool) {
	if len(details) == 0 {
		return 0, false
	}

	params, _ := details["parameters"].(string)
	if params == "" {
		if nested, ok := details["details"].(map[string]any); ok {
			params, _ = nested["parameters"].(string)
		}
	}
	if params != "" {
		for _, line := range strings.Split(params, "\n") {
			fields := strings.Fields(line)
			if len(fields) < 2 || !parameterKeys[fields[0]] {
				continue
			}
			n, err := strconv.Atoi(strings.Trim(fields[1], `"`))
			if err != nil || n <= 0 {
				return 0, false
			}
			return n, true
		}
	}

	info, ok := details["model_info"].(map[string]any)
	if !ok {
		return 0, false
	}
	if n, ok := asPositiveInt(info["num_ctx"]); ok {
		return n, true
	}
	for key, v := range info {
		if strings.HasSuffix(key, ".context_length") {
			if n, ok := asPositiveInt(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func asPositiveInt(v any) (int, bool) {
	var n int
	switch x := v.(type) {
	case float64:
		if x != float64(int(x)) {
			return 0, false
		}
		n = int(x)
	case int:
		n = x
	case int64:
		n = int(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, false
		}
		n = int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		n = i
	default:
		return 0, false
	}
	return n, n > 0
}
