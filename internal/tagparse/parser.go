package tagparse

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultVocabulary is the tag set the assembly prompt asks the model to
// emit. Numbered variants (task1, team_member2) are accepted for every name.
var DefaultVocabulary = []string{
	"project_name",
	"project_description",
	"project_category",
	"project_priority",
	"project_status",
	"edc_date",
	"fud_date",
	"task",
	"subtask",
	"team_member",
}

var (
	openRe   = regexp.MustCompile(`<([A-Za-z][A-Za-z0-9_\-]*)(\s[^<>]*?)?\s*(/)?>`)
	closeRe  = regexp.MustCompile(`</\s*([A-Za-z][A-Za-z0-9_\-]*)\s*>`)
	digitsRe = regexp.MustCompile(`\d+`)
	spaceRe  = regexp.MustCompile(`[ \t\f\v]+`)
	edgeRe   = regexp.MustCompile(` *\n *`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// RegexParser is the lenient, regex-driven Parser.
type RegexParser struct {
	known map[string]bool
}

// New creates a parser recognizing the given base tag names.
func New(vocabulary []string) *RegexParser {
	known := make(map[string]bool, len(vocabulary))
	for _, v := range vocabulary {
		known[strings.ToLower(strings.TrimSpace(v))] = true
	}
	return &RegexParser{known: known}
}

// Default returns a parser for DefaultVocabulary.
func Default() *RegexParser {
	return New(DefaultVocabulary)
}

// Known reports whether name (numbered or not) is in the vocabulary.
func (p *RegexParser) Known(name string) bool {
	return p.known[baseName(strings.ToLower(name))]
}

// token is one opening or closing tag marker.
type token struct {
	start, end int
	name       string // lower-cased full tag name
	base       string
	attrs      string
	closing    bool
	selfClose  bool
}

type span struct{ start, end int }

// Parse extracts widgets and returns the remaining prose. Text without any
// widget comes back byte-for-byte unchanged.
func (p *RegexParser) Parse(text string) Result {
	toks := tokenize(text)
	if len(toks) == 0 {
		return Result{Prose: text}
	}

	used := make([]bool, len(toks))
	var claimed []span
	var widgets []Widget
	var orphans []span

	// Known vocabulary first, so fallback matches can never steal a
	// recognized tag's closing marker.
	for i, t := range toks {
		if t.closing || used[i] || !p.known[t.base] {
			continue
		}
		w, s, ok := p.match(text, toks, used, i, true)
		if !ok {
			if len(strings.TrimSpace(t.attrs)) > 0 {
				// Partially-closed: an attributed opening tag stands alone.
				used[i] = true
				w = newWidget(t, true, "", t.start, t.end)
				widgets = append(widgets, w)
				claimed = append(claimed, span{t.start, t.end})
			} else {
				orphans = append(orphans, span{t.start, t.end})
			}
			continue
		}
		widgets = append(widgets, w)
		claimed = append(claimed, s)
	}

	// Fallback: anything else well-formed becomes a widget named after its
	// tag, unless it would cut through a recognized span.
	for i, t := range toks {
		if t.closing || used[i] || p.known[t.base] {
			continue
		}
		w, s, ok := p.match(text, toks, used, i, false)
		if !ok || crosses(s, claimed) {
			continue
		}
		widgets = append(widgets, w)
		claimed = append(claimed, s)
	}

	if len(widgets) == 0 {
		return Result{Prose: text}
	}

	// Stray closing markers from the known vocabulary are markup, not prose.
	for i, t := range toks {
		if t.closing && !used[i] && p.known[t.base] {
			orphans = append(orphans, span{t.start, t.end})
		}
	}

	for i := range widgets {
		widgets[i].InnerText = stripSpans(text, widgets[i], claimed)
	}

	sort.SliceStable(widgets, func(a, b int) bool { return widgets[a].Span[0] < widgets[b].Span[0] })

	return Result{
		Prose:   normalizeSpace(removeSpans(text, append(claimed, orphans...))),
		Widgets: dedupe(widgets),
	}
}

// match pairs toks[i] with its closing marker. Known tags close on their base
// name so `<task1>x</task>` is accepted; other tags need the exact name.
func (p *RegexParser) match(text string, toks []token, used []bool, i int, byBase bool) (Widget, span, bool) {
	open := toks[i]
	if open.selfClose {
		used[i] = true
		return newWidget(open, byBase, "", open.start, open.end), span{open.start, open.end}, true
	}
	same := func(t token) bool {
		if byBase {
			return t.base == open.base
		}
		return t.name == open.name
	}
	for j := i + 1; j < len(toks); j++ {
		t := toks[j]
		if used[j] || !same(t) {
			continue
		}
		if !t.closing {
			if t.selfClose {
				continue
			}
			// A second opener before any closer: the first one never closed.
			return Widget{}, span{}, false
		}
		used[i], used[j] = true, true
		inner := text[open.end:t.start]
		return newWidget(open, byBase, inner, open.start, t.end), span{open.start, t.end}, true
	}
	return Widget{}, span{}, false
}

// newWidget builds a widget from its opening token. Vocabulary tags are
// typed by base name; fallback tags keep their literal name.
func newWidget(t token, known bool, inner string, start, end int) Widget {
	w := Widget{
		Type:       t.name,
		Attributes: parseAttrs(t.attrs),
		InnerText:  inner,
		Span:       [2]int{start, end},
	}
	if known {
		w.Type = t.base
	}
	if d := digitsRe.FindString(t.name); d != "" {
		if n, err := strconv.Atoi(d); err == nil {
			w.Ordinal = &n
		}
	}
	return w
}

func tokenize(text string) []token {
	var toks []token
	for _, m := range openRe.FindAllStringSubmatchIndex(text, -1) {
		name := strings.ToLower(text[m[2]:m[3]])
		t := token{start: m[0], end: m[1], name: name, base: baseName(name)}
		if m[4] >= 0 {
			t.attrs = text[m[4]:m[5]]
		}
		t.selfClose = m[6] >= 0
		toks = append(toks, t)
	}
	for _, m := range closeRe.FindAllStringSubmatchIndex(text, -1) {
		name := strings.ToLower(text[m[2]:m[3]])
		toks = append(toks, token{start: m[0], end: m[1], name: name, base: baseName(name), closing: true})
	}
	sort.Slice(toks, func(a, b int) bool { return toks[a].start < toks[b].start })
	return toks
}

// baseName strips digits from a tag name: team_member2 → team_member.
func baseName(name string) string {
	b := digitsRe.ReplaceAllString(name, "")
	return strings.TrimRight(b, "_-")
}

func crosses(s span, claimed []span) bool {
	for _, c := range claimed {
		if s.start < c.start && c.start < s.end && s.end < c.end {
			return true
		}
		if c.start < s.start && s.start < c.end && c.end < s.end {
			return true
		}
	}
	return false
}

// stripSpans returns the widget's inner text with nested widget spans cut out.
func stripSpans(text string, w Widget, claimed []span) string {
	if w.InnerText == "" {
		return ""
	}
	innerStart := w.Span[1] - len(w.InnerText)
	// Paired widgets end with a closing marker; locate the inner region.
	if idx := strings.Index(text[w.Span[0]:w.Span[1]], ">"); idx >= 0 {
		innerStart = w.Span[0] + idx + 1
	}
	innerEnd := innerStart + len(w.InnerText)
	var nested []span
	for _, c := range claimed {
		if c.start >= innerStart && c.end <= innerEnd && (c.start != w.Span[0] || c.end != w.Span[1]) {
			nested = append(nested, span{c.start - innerStart, c.end - innerStart})
		}
	}
	if len(nested) == 0 {
		return strings.TrimSpace(w.InnerText)
	}
	return normalizeSpace(removeSpans(w.InnerText, nested))
}

func removeSpans(text string, spans []span) string {
	if len(spans) == 0 {
		return text
	}
	sort.Slice(spans, func(a, b int) bool { return spans[a].start < spans[b].start })
	var b strings.Builder
	pos := 0
	for _, s := range spans {
		if s.end <= pos {
			continue
		}
		if s.start > pos {
			b.WriteString(text[pos:s.start])
			b.WriteByte(' ')
		}
		pos = s.end
	}
	if pos < len(text) {
		b.WriteString(text[pos:])
	}
	return b.String()
}

func normalizeSpace(s string) string {
	s = spaceRe.ReplaceAllString(s, " ")
	s = edgeRe.ReplaceAllString(s, "\n")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
