package config

import (
	"fmt"
	"strings"
)

// Header is one statically configured header to inject. Name keeps the
// exact spelling from the config file; injection writes it literally.
type Header struct {
	Name  string
	Value string
}

// ParseHeaderList parses "Name: value" entries into an ordered header
// set. Order is preserved; a later entry for the same name wins at
// injection time. Malformed entries abort config loading rather than
// being silently dropped.
func ParseHeaderList(entries []string) ([]Header, error) {
	headers := make([]Header, 0, len(entries))
	for _, e := range entries {
		name, value, ok := strings.Cut(e, ":")
		if !ok {
			return nil, fmt.Errorf("header entry %q: missing ':' separator", e)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("header entry %q: empty header name", e)
		}
		if strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("header entry %q: header name contains whitespace", e)
		}
		headers = append(headers, Header{Name: name, Value: strings.TrimSpace(value)})
	}
	return headers, nil
}
