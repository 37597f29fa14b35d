package pipeline

import (
	"fmt"
	"strings"
	"unicode"
)

// Validate rejects conditions that go beyond comparisons and boolean logic
// over plain variables.
func Validate(cond string) error {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return nil
	}

	for _, ch := range []rune{'{', '}', '[', ']', ';', ':', '?', '@', '#', '$', '\\'} {
		if strings.ContainsRune(cond, ch) {
			return fmt.Errorf("illegal character %q", ch)
		}
	}
	if strings.Contains(stripStrings(cond), ".") && !looksNumeric(cond) {
		return fmt.Errorf("dot access is not allowed")
	}
	for _, op := range []string{"+", "*", "/", "%"} {
		if strings.Contains(stripStrings(cond), op) {
			return fmt.Errorf("arithmetic operator %q is not allowed", op)
		}
	}

	s := stripStrings(cond)
	for i := 0; i < len(s); i++ {
		if s[i] != '(' {
			continue
		}
		j := i - 1
		for j >= 0 && unicode.IsSpace(rune(s[j])) {
			j--
		}
		if j >= 0 && (unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j])) || s[j] == '_') {
			k := j
			for k >= 0 && (unicode.IsLetter(rune(s[k])) || unicode.IsDigit(rune(s[k])) || s[k] == '_') {
				k--
			}
			ident := s[k+1 : j+1]
			if ident != "and" && ident != "or" && ident != "not" {
				return fmt.Errorf("function calls are not allowed (found %q(...))", ident)
			}
		}
	}
	return nil
}

// stripStrings blanks out quoted literals so their contents are not checked.
func stripStrings(s string) string {
	var b strings.Builder
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0 && r == quote:
			quote = 0
			b.WriteRune(r)
		case quote != 0:
			b.WriteRune(' ')
		case r == '"' || r == '\'':
			quote = r
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// looksNumeric reports whether every '.' sits between digits, as in 0.85.
func looksNumeric(cond string) bool {
	s := stripStrings(cond)
	for i := 0; i < len(s); i++ {
		if s[i] != '.' {
			continue
		}
		if i == 0 || i == len(s)-1 || !unicode.IsDigit(rune(s[i-1])) || !unicode.IsDigit(rune(s[i+1])) {
			return false
		}
	}
	return true
}
