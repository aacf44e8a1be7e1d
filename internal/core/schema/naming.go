package schema

import "strings"

// snakeCase converts a JSON:API member name to a column name.
//
//	snakeCase("createdAt")  // "created_at"
//	snakeCase("publishedAt") // "published_at"
//	snakeCase("author-id")  // "author_id"
func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + 32)
		case r == '-':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
