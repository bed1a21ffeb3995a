package model

import "strings"

// FetchSource controls which parts of the stored source a read returns.
// Patterns are dotted field paths where '*' matches any run of characters.
type FetchSource struct {
	Disabled bool     `json:"-"`
	Includes []string `json:"includes,omitempty"`
	Excludes []string `json:"excludes,omitempty"`
}

// NoSource disables source fetching entirely.
func NoSource() *FetchSource { return &FetchSource{Disabled: true} }

// FetchFields builds an include/exclude projection.
func FetchFields(includes, excludes []string) *FetchSource {
	return &FetchSource{Includes: includes, Excludes: excludes}
}

// IsFiltering reports whether the projection removes anything.
func (f *FetchSource) IsFiltering() bool {
	return f != nil && (f.Disabled || len(f.Includes) > 0 || len(f.Excludes) > 0)
}

// Apply returns the projected copy of doc. A nil receiver returns doc
// unchanged. A projection that keeps no field returns nil, like a disabled
// one.
func (f *FetchSource) Apply(doc Document) Document {
	if f == nil {
		return doc
	}
	if f.Disabled {
		return nil
	}
	if len(f.Includes) == 0 && len(f.Excludes) == 0 {
		return doc
	}
	out := f.filter(doc, "", false)
	if len(out) == 0 {
		return nil
	}
	return Document(out)
}

func (f *FetchSource) filter(m map[string]any, prefix string, included bool) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		p := k
		if prefix != "" {
			p = prefix + "." + k
		}
		if matchAny(f.Excludes, p) {
			continue
		}
		in := included || len(f.Includes) == 0 || matchAny(f.Includes, p)
		child, isMap := asMap(v)
		switch {
		case isMap:
			if !in && !f.mayIncludeBelow(p) {
				continue
			}
			sub := f.filter(child, p, in)
			if in || len(sub) > 0 {
				out[k] = sub
			}
		case in:
			out[k] = cloneValue(v)
		}
	}
	return out
}

func (f *FetchSource) mayIncludeBelow(p string) bool {
	for _, pattern := range f.Includes {
		if strings.Contains(pattern, "*") || strings.HasPrefix(pattern, p+".") {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if Wildcard(p, s) {
			return true
		}
	}
	return false
}

// Wildcard matches s against pattern where '*' matches any sequence.
func Wildcard(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return strings.HasSuffix(s, last)
}
