package memory

import "strings"

// matchSubject reports whether subject matches a NATS-style pattern where
// "*" is one token and a trailing ">" is one or more tokens.
func matchSubject(pattern, subject string) bool {
	if pattern == "" || subject == "" {
		return false
	}

	want := strings.Split(pattern, ".")
	got := strings.Split(subject, ".")
	for i, tok := range want {
		if tok == ">" {
			return i < len(got)
		}
		if i >= len(got) || (tok != "*" && tok != got[i]) {
			return false
		}
	}
	return len(want) == len(got)
}
