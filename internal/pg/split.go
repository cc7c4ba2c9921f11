package pg

import (
	"strings"
)

// SplitScript делит SQL-скрипт на операторы по ';'.
// Точка с запятой не считается границей внутри строк, квотированных имён,
// комментариев, dollar-quoted тел ($$ ... $$, $tag$ ... $tag$) и внутри
// блоков BEGIN ATOMIC ... END, глубина которых отслеживается с учётом
// вложенных CASE ... END. Прочие BEGIN блоком не считаются.
// Возвращаемые операторы обрезаны и без завершающей ';'.
func SplitScript(script string) []string {
	var (
		out     []string
		start   int
		depth   int
		hasCode bool
	)
	s := script
	n := len(s)

	// оператор начинается с первого значимого символа, ведущие комментарии отбрасываются
	mark := func(i int) {
		if !hasCode {
			hasCode = true
			start = i
		}
	}
	flush := func(end int) {
		part := strings.TrimSpace(s[start:end])
		if hasCode && part != "" {
			out = append(out, part)
		}
		hasCode = false
	}

	for i := 0; i < n; {
		c := s[i]
		switch {
		case c == '-' && i+1 < n && s[i+1] == '-':
			for i < n && s[i] != '\n' {
				i++
			}
			continue
		case c == '/' && i+1 < n && s[i+1] == '*':
			i = skipBlockComment(s, i)
			continue
		case c == '\'' || c == '"':
			mark(i)
			i = skipQuoted(s, i, c, c == '\'' && isEscapeString(s, i))
			continue
		case c == '$':
			if tag, ok := dollarTag(s, i); ok {
				mark(i)
				end := strings.Index(s[i+len(tag):], tag)
				if end < 0 {
					i = n
				} else {
					i += len(tag) + end + len(tag)
				}
				continue
			}
		case isWordStart(c):
			mark(i)
			j := i
			for j < n && isWordChar(s[j]) {
				j++
			}
			depth = trackBlock(strings.ToUpper(s[i:j]), s[j:], depth)
			i = j
			continue
		case c == ';':
			if depth == 0 {
				flush(i)
				start = i + 1
			}
			i++
			continue
		}
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			mark(i)
		}
		i++
	}
	flush(n)
	return out
}

// trackBlock меняет глубину по ключевому слову; rest — текст после слова.
func trackBlock(word, rest string, depth int) int {
	switch word {
	case "BEGIN":
		// вне dollar-quoted тел блок открывает только BEGIN ATOMIC;
		// begin не зарезервирован и может быть именем колонки
		if nextWord(rest) == "ATOMIC" {
			return depth + 1
		}
		return depth
	case "CASE":
		return depth + 1
	case "END":
		switch nextWord(rest) {
		case "IF", "LOOP":
			return depth
		}
		if depth > 0 {
			return depth - 1
		}
	}
	return depth
}

// nextWord — следующее слово (в верхнем регистре) или ";" после пробелов.
func nextWord(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	if i >= len(s) {
		return ""
	}
	if s[i] == ';' {
		return ";"
	}
	j := i
	for j < len(s) && isWordChar(s[j]) {
		j++
	}
	return strings.ToUpper(s[i:j])
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordChar(c byte) bool {
	return isWordStart(c) || (c >= '0' && c <= '9')
}

// dollarTag распознаёт $$ или $tag$ в позиции i ($1 — параметр, не тег).
func dollarTag(s string, i int) (string, bool) {
	j := i + 1
	if j < len(s) && s[j] == '$' {
		return "$$", true
	}
	if j >= len(s) || !isWordStart(s[j]) {
		return "", false
	}
	for j < len(s) && isWordChar(s[j]) {
		j++
	}
	if j < len(s) && s[j] == '$' {
		return s[i : j+1], true
	}
	return "", false
}

// isEscapeString — литерал вида E'...', где \' не закрывает строку.
func isEscapeString(s string, i int) bool {
	if i == 0 || (s[i-1] != 'E' && s[i-1] != 'e') {
		return false
	}
	return i == 1 || !isWordChar(s[i-2])
}

// skipQuoted пропускает '...' или "..." с удвоенными кавычками внутри.
func skipQuoted(s string, i int, q byte, backslash bool) int {
	i++
	for i < len(s) {
		if backslash && s[i] == '\\' {
			i += 2
			continue
		}
		if s[i] == q {
			if i+1 < len(s) && s[i+1] == q {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

// skipBlockComment пропускает /* ... */ (в PostgreSQL они вкладываются).
func skipBlockComment(s string, i int) int {
	level := 0
	for i < len(s) {
		switch {
		case strings.HasPrefix(s[i:], "/*"):
			level++
			i += 2
		case strings.HasPrefix(s[i:], "*/"):
			level--
			i += 2
			if level == 0 {
				return i
			}
		default:
			i++
		}
	}
	return i
}
