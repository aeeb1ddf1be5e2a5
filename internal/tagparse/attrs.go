package tagparse

import (
	"strings"
	"unicode"
)

// parseAttrs reads key="v", key='v', key=v and bare key forms. Keys are
// lower-cased and the first occurrence wins. Fragments that do not look like
// an attribute are skipped.
func parseAttrs(s string) map[string]Attr {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "/"))
	if s == "" {
		return nil
	}
	out := make(map[string]Attr)
	set := func(k string, a Attr) {
		k = strings.ToLower(k)
		if _, ok := out[k]; !ok {
			out[k] = a
		}
	}

	i, n := 0, len(s)
	for i < n {
		for i < n && isSpace(s[i]) {
			i++
		}
		if i >= n {
			break
		}
		if s[i] == '"' || s[i] == '\'' {
			// Stray quoted fragment: skip it whole.
			i = skipQuoted(s, i)
			continue
		}
		start := i
		for i < n && isKeyByte(s[i]) {
			i++
		}
		if i == start {
			i++
			continue
		}
		key := s[start:i]

		j := i
		for j < n && isSpace(s[j]) {
			j++
		}
		if j >= n || s[j] != '=' {
			set(key, Attr{Value: "true", Bare: true})
			continue
		}
		j++
		for j < n && isSpace(s[j]) {
			j++
		}
		if j >= n {
			i = j
			continue
		}
		switch q := s[j]; q {
		case '"', '\'':
			end := strings.IndexByte(s[j+1:], q)
			if end < 0 {
				// Unterminated quote: the rest is unusable.
				i = n
				continue
			}
			set(key, Attr{Value: s[j+1 : j+1+end]})
			i = j + 1 + end + 1
		default:
			vs := j
			for j < n && !isSpace(s[j]) {
				j++
			}
			set(key, Attr{Value: s[vs:j]})
			i = j
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func skipQuoted(s string, i int) int {
	q := s[i]
	if end := strings.IndexByte(s[i+1:], q); end >= 0 {
		return i + 1 + end + 1
	}
	return len(s)
}

func isSpace(b byte) bool {
	return unicode.IsSpace(rune(b))
}

func isKeyByte(b byte) bool {
	return b == '_' || b == '-' || b == ':' ||
		('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}
