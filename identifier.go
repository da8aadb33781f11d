package testid

import (
	"strconv"
	"unicode"
)

// GenerateID derives a readable identifier from a tag name by converting it
// to lower kebab-case and appending suffix, so "CustomInput" with suffix
// "test" becomes "custom-input-test". Separators found in member or namespaced
// names ('.', ':', '_') are folded into single hyphens.
func GenerateID(tagName, suffix string) string {
	buf := make([]byte, 0, len(tagName)+len(suffix)+4)
	hyphen := func() {
		if len(buf) > 0 && buf[len(buf)-1] != '-' {
			buf = append(buf, '-')
		}
	}

	for _, r := range tagName {
		switch {
		case unicode.IsUpper(r):
			hyphen()
			buf = append(buf, string(unicode.ToLower(r))...)
		case r == '-' || r == '.' || r == ':' || r == '_':
			hyphen()
		default:
			buf = append(buf, string(r)...)
		}
	}

	if suffix == "" {
		return string(buf)
	}
	hyphen()
	return string(append(buf, suffix...))
}

// Ledger counts how many times each identifier is in use within a single
// operation. It is created per operation and never shared between them.
type Ledger map[string]int

// NewLedger seeds a ledger with every non-empty annotation value found in
// tags, regardless of whether the tag will be rewritten.
func NewLedger(tags []TagMatch) Ledger {
	l := make(Ledger, len(tags))
	for _, tag := range tags {
		if tag.AnnotationValue != "" {
			l[tag.AnnotationValue]++
		}
	}
	return l
}

// Resolve returns base if it is unused, otherwise the first of base-1,
// base-2, ... that is unused. The returned identifier is recorded as taken.
func (l Ledger) Resolve(base string) string {
	candidate := base
	for i := 1; l[candidate] > 0; i++ {
		candidate = base + "-" + strconv.Itoa(i)
	}
	l[candidate]++
	return candidate
}

// Release gives back one use of id. A tag about to be re-annotated releases
// its own value first so it can keep it instead of colliding with itself.
func (l Ledger) Release(id string) {
	if id == "" {
		return
	}
	switch n := l[id]; {
	case n <= 1:
		delete(l, id)
	default:
		l[id] = n - 1
	}
}

// Count returns the number of uses recorded for id.
func (l Ledger) Count(id string) int {
	return l[id]
}
