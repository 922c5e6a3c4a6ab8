package social

import (
	"encoding/json"
	"fmt"

	"github.com/chicify/socialgraph/internal/graph"
)

// stringParams reads the named string parameters from either positional
// (["a", "b"]) or named ({"userId": "a"}) JSON-RPC params. All names are
// required.
func stringParams(raw json.RawMessage, names ...string) ([]string, error) {
	values := make([]string, len(names))

	var positional []interface{}
	if err := json.Unmarshal(raw, &positional); err == nil {
		if len(positional) < len(names) {
			return nil, fmt.Errorf("missing required parameter: %s: %w", names[len(positional)], graph.ErrInvalidArgument)
		}
		for i, name := range names {
			s, ok := positional[i].(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("parameter %s must be a non-empty string: %w", name, graph.ErrInvalidArgument)
			}
			values[i] = s
		}
		return values, nil
	}

	var named map[string]interface{}
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, fmt.Errorf("invalid parameters format: %w", graph.ErrInvalidArgument)
	}
	for i, name := range names {
		v, present := named[name]
		if !present {
			return nil, fmt.Errorf("missing required parameter: %s: %w", name, graph.ErrInvalidArgument)
		}
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("parameter %s must be a non-empty string: %w", name, graph.ErrInvalidArgument)
		}
		values[i] = s
	}
	return values, nil
}
