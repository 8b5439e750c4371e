// Package extractor walks key paths into decoded JSON payloads. Connectors
// describe where each column's value lives as an ordered list of map keys;
// this resolves them while keeping "missing" distinct from "present but null".
package extractor

// Lookup resolves path against payload. The second return reports presence:
// a key that exists with a JSON null value returns (nil, true), while a key
// that does not exist returns (nil, false). Intermediate path segments must be
// objects; anything else counts as missing.
func Lookup(payload map[string]any, path ...string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}

	current := payload
	for i, key := range path {
		value, ok := current[key]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return value, true
		}
		next, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

// LookupString resolves path and asserts the value is a string.
func LookupString(payload map[string]any, path ...string) (string, bool) {
	value, found := Lookup(payload, path...)
	if !found {
		return "", false
	}
	s, ok := value.(string)
	if !ok {
		return "", false
	}
	return s, true
}
