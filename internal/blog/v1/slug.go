package v1

import (
	"strings"
	"unicode"
)

// Slugify turns a post title into a URL-safe slug. Letters are
// lowercased, runs of spaces, hyphens and underscores become one hyphen,
// and everything else is dropped.
//
//	Slugify("Hello World")    // "hello-world"
//	Slugify("Go 1.24 -- Iter") // "go-124-iter"
func Slugify(title string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			pendingHyphen = true
		}
	}
	return b.String()
}
