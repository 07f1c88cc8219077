package codeindex

import (
	"path"
	"regexp"
	"strings"
)

// globToRegex translates a search_code path filter glob into an anchored
// regex. Supports `**` (any depth), `*` (any run within one path segment),
// and `?` (single character within one segment), mirroring the teacher's
// gitignore pattern translator but anchored at both ends since filters
// match whole relative paths rather than gitignore's prefix rules.
func globToRegex(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")

	i := 0
	for i < len(pattern) {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i += 2
				if i < len(pattern) && pattern[i] == '/' {
					i++
				}
				continue
			}
			b.WriteString("[^/]*")
			i++
		case '?':
			b.WriteString("[^/]")
			i++
		case '.', '+', '^', '$', '(', ')', '{', '}', '|', '[', ']', '\\':
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		default:
			b.WriteString(string(c))
			i++
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// MatchesFilter reports whether relPath satisfies a search_code path filter.
// An empty filter matches everything. The filter is matched against the
// slash-normalized relative path.
func MatchesFilter(relPath, filter string) bool {
	if filter == "" {
		return true
	}
	re, err := globToRegex(path.Clean(filter))
	if err != nil {
		return false
	}
	return re.MatchString(path.Clean(relPath))
}
