// Package tagparse extracts pseudo-HTML widget tags from language model
// output. It has no knowledge of what the tags mean; see package interpret.
package tagparse

import (
	"sort"
	"strings"
)

// Attr is a single parsed attribute. Bare attributes (`urgent` with no
// value) carry Value "true" and Bare set.
type Attr struct {
	Value string `json:"value"`
	Bare  bool   `json:"bare,omitempty"`
}

// Widget is one tagged span found in the text.
type Widget struct {
	Type       string          `json:"type"`
	Attributes map[string]Attr `json:"attributes,omitempty"`
	InnerText  string          `json:"inner_text,omitempty"`
	// Ordinal is the first integer in the tag name (task3 → 3). It is an
	// ordering hint only, never an identifier.
	Ordinal *int   `json:"ordinal,omitempty"`
	Span    [2]int `json:"span"`
}

// Attr returns the trimmed value of the first present key, or "".
func (w Widget) Attr(keys ...string) string {
	for _, k := range keys {
		if a, ok := w.Attributes[k]; ok {
			if v := strings.TrimSpace(a.Value); v != "" {
				return v
			}
		}
	}
	return ""
}

// Has reports whether the attribute is present at all.
func (w Widget) Has(key string) bool {
	_, ok := w.Attributes[key]
	return ok
}

// Flag reports whether a boolean attribute is set, either bare or with a
// truthy value.
func (w Widget) Flag(key string) bool {
	a, ok := w.Attributes[key]
	if !ok {
		return false
	}
	if a.Bare {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(a.Value)) {
	case "true", "yes", "1":
		return true
	}
	return false
}

// Result is the output of a parse.
type Result struct {
	Prose   string   `json:"prose"`
	Widgets []Widget `json:"widgets"`
}

// Parser turns model output into prose plus widgets. Implementations must be
// total: malformed input degrades, it never errors.
type Parser interface {
	Parse(text string) Result
}

// attrKey renders attributes in a stable order for duplicate detection.
func attrKey(attrs map[string]Attr) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(attrs[k].Value)
		b.WriteByte(';')
	}
	return b.String()
}

// dedupe drops widgets that repeat an earlier widget of the same type with
// identical inner text or an identical title. Comparison is exact apart from
// surrounding whitespace. Attribute-only widgets compare on their full
// attribute set.
func dedupe(widgets []Widget) []Widget {
	type key struct{ typ, kind, val string }
	seen := make(map[key]bool)
	out := widgets[:0]
	for _, w := range widgets {
		var keys []key
		inner := strings.TrimSpace(w.InnerText)
		title := w.Attr("title")
		if inner != "" {
			keys = append(keys, key{w.Type, "inner", inner})
		}
		if title != "" {
			keys = append(keys, key{w.Type, "title", title})
		}
		if inner == "" && title == "" {
			keys = append(keys, key{w.Type, "attrs", attrKey(w.Attributes)})
		}
		dup := false
		for _, k := range keys {
			if seen[k] {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		for _, k := range keys {
			seen[k] = true
		}
		out = append(out, w)
	}
	return out
}
