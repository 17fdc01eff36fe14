package convert

import "strings"

// Document is a decoded JSON object as produced by encoding/json.
type Document = map[string]any

// GetNested walks a dot-separated path through nested documents. It reports
// false when any segment is missing or an intermediate value is not an
// object.
func GetNested(doc Document, path string) (any, bool) {
	var cur any = doc
	for _, key := range strings.Split(path, ".") {
		m, ok := asDocument(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetNested stores v at a dot-separated path, creating intermediate
// documents as needed. Non-object intermediates are replaced.
func SetNested(doc Document, path string, v any) {
	keys := strings.Split(path, ".")
	cur := doc
	for _, key := range keys[:len(keys)-1] {
		next, ok := asDocument(cur[key])
		if !ok {
			next = Document{}
			cur[key] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = v
}

func asDocument(v any) (Document, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
