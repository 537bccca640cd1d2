package cli

import (
	"fmt"
	"strings"
)

// parseDims turns repeated "key=value" arguments into a map: the format of
// --set (increment, histogram), --param (query) and REPL input lines.
func parseDims(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	dims := make(map[string]string, len(raw))

	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid %q, expected key=value", kv)
		}

		dims[key] = value
	}

	return dims, nil
}
