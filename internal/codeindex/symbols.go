package codeindex

import (
	"regexp"
	"strings"

	"github.com/contextfabric/context-fabric/internal/memory"
)

// denylist filters control-flow and other non-symbol keywords that would
// otherwise false-positive-match a loose "name(" style regex (spec §4.6).
var denylist = map[string]struct{}{
	"if": {}, "for": {}, "while": {}, "switch": {}, "catch": {}, "return": {},
	"new": {}, "constructor": {}, "else": {}, "try": {}, "with": {}, "do": {},
}

type symbolPattern struct {
	re   *regexp.Regexp
	kind memory.SymbolKind
	// nameGroup is the regex capture group index holding the symbol name.
	nameGroup int
}

// braceLanguages use brace-depth counting to find a symbol's closing line.
var braceLanguages = map[string]struct{}{
	"go": {}, "javascript": {}, "typescript": {}, "java": {}, "c": {}, "cpp": {}, "rust": {},
}

var patternsByLanguage = map[string][]symbolPattern{
	"go": {
		{regexp.MustCompile(`^func\s+\([^)]+\)\s+([A-Za-z_]\w*)\s*\(`), memory.SymbolMethod, 1},
		{regexp.MustCompile(`^func\s+([A-Za-z_]\w*)\s*\(`), memory.SymbolFunction, 1},
		{regexp.MustCompile(`^type\s+([A-Za-z_]\w*)\s+interface\b`), memory.SymbolInterface, 1},
		{regexp.MustCompile(`^type\s+([A-Za-z_]\w*)\s+struct\b`), memory.SymbolClass, 1},
		{regexp.MustCompile(`^type\s+([A-Za-z_]\w*)\s+`), memory.SymbolType, 1},
		{regexp.MustCompile(`^const\s+([A-Za-z_]\w*)\b`), memory.SymbolConst, 1},
	},
	"python": {
		{regexp.MustCompile(`^\s*def\s+([A-Za-z_]\w*)\s*\(`), memory.SymbolFunction, 1},
		{regexp.MustCompile(`^\s*class\s+([A-Za-z_]\w*)\b`), memory.SymbolClass, 1},
	},
	"javascript": {
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$]\w*)\s*\(`), memory.SymbolFunction, 1},
		{regexp.MustCompile(`^\s*(?:export\s+)?class\s+([A-Za-z_$]\w*)\b`), memory.SymbolClass, 1},
		{regexp.MustCompile(`^\s*(?:export\s+)?const\s+([A-Za-z_$]\w*)\s*=\s*(?:async\s*)?\([^)]*\)\s*=>`), memory.SymbolFunction, 1},
		{regexp.MustCompile(`^\s*([A-Za-z_$]\w*)\s*\([^)]*\)\s*\{`), memory.SymbolMethod, 1},
	},
	"typescript": {
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$]\w*)\s*\(`), memory.SymbolFunction, 1},
		{regexp.MustCompile(`^\s*(?:export\s+)?class\s+([A-Za-z_$]\w*)\b`), memory.SymbolClass, 1},
		{regexp.MustCompile(`^\s*(?:export\s+)?interface\s+([A-Za-z_$]\w*)\b`), memory.SymbolInterface, 1},
		{regexp.MustCompile(`^\s*(?:export\s+)?type\s+([A-Za-z_$]\w*)\s*=`), memory.SymbolType, 1},
		{regexp.MustCompile(`^\s*(?:export\s+)?const\s+([A-Za-z_$]\w*)\s*=\s*(?:async\s*)?\([^)]*\)\s*=>`), memory.SymbolFunction, 1},
	},
	"java": {
		{regexp.MustCompile(`^\s*(?:public|private|protected)?\s*(?:static\s+)?(?:final\s+)?class\s+([A-Za-z_]\w*)\b`), memory.SymbolClass, 1},
		{regexp.MustCompile(`^\s*(?:public|private|protected)?\s*interface\s+([A-Za-z_]\w*)\b`), memory.SymbolInterface, 1},
		{regexp.MustCompile(`^\s*(?:public|private|protected)\s+(?:static\s+)?[\w<>\[\]]+\s+([A-Za-z_]\w*)\s*\([^;]*\)\s*\{`), memory.SymbolMethod, 1},
	},
	"c": {
		{regexp.MustCompile(`^[\w\*\s]+\s+([A-Za-z_]\w*)\s*\([^;]*\)\s*\{`), memory.SymbolFunction, 1},
		{regexp.MustCompile(`^\s*struct\s+([A-Za-z_]\w*)\b`), memory.SymbolClass, 1},
	},
	"cpp": {
		{regexp.MustCompile(`^[\w\*\s:<>]+\s+([A-Za-z_]\w*)\s*\([^;]*\)\s*\{`), memory.SymbolFunction, 1},
		{regexp.MustCompile(`^\s*class\s+([A-Za-z_]\w*)\b`), memory.SymbolClass, 1},
		{regexp.MustCompile(`^\s*struct\s+([A-Za-z_]\w*)\b`), memory.SymbolClass, 1},
	},
	"rust": {
		{regexp.MustCompile(`^\s*(?:pub\s+)?fn\s+([A-Za-z_]\w*)\s*[\(<]`), memory.SymbolFunction, 1},
		{regexp.MustCompile(`^\s*(?:pub\s+)?struct\s+([A-Za-z_]\w*)\b`), memory.SymbolClass, 1},
		{regexp.MustCompile(`^\s*(?:pub\s+)?trait\s+([A-Za-z_]\w*)\b`), memory.SymbolInterface, 1},
		{regexp.MustCompile(`^\s*(?:pub\s+)?enum\s+([A-Za-z_]\w*)\b`), memory.SymbolEnum, 1},
	},
	"ruby": {
		{regexp.MustCompile(`^\s*def\s+(?:self\.)?([A-Za-z_]\w*[?!=]?)`), memory.SymbolMethod, 1},
		{regexp.MustCompile(`^\s*class\s+([A-Za-z_]\w*)\b`), memory.SymbolClass, 1},
		{regexp.MustCompile(`^\s*module\s+([A-Za-z_]\w*)\b`), memory.SymbolClass, 1},
	},
}

// ExtractSymbols scans lines of source in the given language and returns
// one Symbol per recognized declaration, with a best-effort lineEnd
// computed via the language's line-end heuristic (spec §4.6: brace
// counting for brace-delimited languages, indentation for Python, `end`
// depth for Ruby).
func ExtractSymbols(filePath, language, content string) []memory.Symbol {
	patterns, ok := patternsByLanguage[language]
	if !ok {
		return nil
	}

	lines := strings.Split(content, "\n")
	var symbols []memory.Symbol

	for i, line := range lines {
		for _, p := range patterns {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name := m[p.nameGroup]
			if _, bad := denylist[name]; bad {
				continue
			}

			lineStart := i + 1
			lineEnd := computeLineEnd(lines, i, language)
			symbols = append(symbols, memory.Symbol{
				FilePath:   filePath,
				Name:       name,
				Kind:       p.kind,
				LineStart:  lineStart,
				LineEnd:    lineEnd,
				Signature:  strings.TrimSpace(line),
				DocComment: leadingDocComment(lines, i, language),
			})
			break // first matching pattern wins for this line
		}
	}
	return symbols
}

// computeLineEnd applies the per-language-family line-end heuristic.
func computeLineEnd(lines []string, startIdx int, language string) int {
	switch {
	case language == "python":
		return pythonIndentEnd(lines, startIdx)
	case language == "ruby":
		return rubyEndKeywordEnd(lines, startIdx)
	case isBraceLanguage(language):
		return braceDepthEnd(lines, startIdx)
	default:
		return startIdx + 1
	}
}

func isBraceLanguage(language string) bool {
	_, ok := braceLanguages[language]
	return ok
}

// braceDepthEnd counts braces starting from the declaration line, capped at
// 500 lines of lookahead (spec §4.6).
func braceDepthEnd(lines []string, startIdx int) int {
	depth := 0
	started := false
	limit := startIdx + 500
	if limit > len(lines) {
		limit = len(lines)
	}
	for i := startIdx; i < limit; i++ {
		for _, r := range lines[i] {
			switch r {
			case '{':
				depth++
				started = true
			case '}':
				depth--
				if started && depth <= 0 {
					return i + 1
				}
			}
		}
	}
	return limit
}

// pythonIndentEnd scans forward until a non-blank line at or below the
// declaration's indentation is found.
func pythonIndentEnd(lines []string, startIdx int) int {
	baseIndent := leadingSpaces(lines[startIdx])
	last := startIdx + 1
	for i := startIdx + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if leadingSpaces(lines[i]) <= baseIndent {
			return last
		}
		last = i + 1
	}
	return last
}

func leadingSpaces(s string) int {
	n := 0
	for _, r := range s {
		if r == ' ' {
			n++
		} else if r == '\t' {
			n += 8
		} else {
			break
		}
	}
	return n
}

// rubyEndKeywordEnd tracks `end`-keyword depth against block openers.
var rubyBlockOpener = regexp.MustCompile(`\b(def|class|module|do|if|unless|while|until|begin|case)\b`)
var rubyBlockCloser = regexp.MustCompile(`\bend\b`)

func rubyEndKeywordEnd(lines []string, startIdx int) int {
	depth := 0
	limit := startIdx + 500
	if limit > len(lines) {
		limit = len(lines)
	}
	for i := startIdx; i < limit; i++ {
		depth += len(rubyBlockOpener.FindAllString(lines[i], -1))
		depth -= len(rubyBlockCloser.FindAllString(lines[i], -1))
		if i > startIdx && depth <= 0 {
			return i + 1
		}
	}
	return limit
}

// leadingDocComment captures a single contiguous block of comment lines
// immediately preceding the declaration, if any.
func leadingDocComment(lines []string, declIdx int, language string) string {
	prefix := commentPrefix(language)
	if prefix == "" {
		return ""
	}
	var collected []string
	for i := declIdx - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			break
		}
		if !strings.HasPrefix(trimmed, prefix) {
			break
		}
		collected = append([]string{strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))}, collected...)
	}
	return strings.Join(collected, "\n")
}

func commentPrefix(language string) string {
	switch language {
	case "go", "javascript", "typescript", "java", "c", "cpp", "rust":
		return "//"
	case "python", "ruby":
		return "#"
	default:
		return ""
	}
}
