package validate

import "unicode"

type token struct {
	text  string
	start int
}

type scanResult struct {
	tokens []token

	// terminators counts top-level ';' characters.
	terminators int

	// firstSignificant is the byte offset of the first character that is
	// neither whitespace nor part of a comment, or -1.
	firstSignificant int

	// unterminated names the construct left open at end of input.
	unterminated string
}

// scan splits text into top-level word tokens, skipping string literals,
// quoted identifiers and comments.
func scan(text string) scanResult {
	res := scanResult{firstSignificant: -1}
	mark := func(i int) {
		if res.firstSignificant < 0 {
			res.firstSignificant = i
		}
	}

	n := len(text)
	i := 0
	for i < n {
		c := text[i]
		switch {
		case c == '-' && i+1 < n && text[i+1] == '-':
			for i < n && text[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < n && text[i+1] == '*':
			end := indexFrom(text, i+2, "*/")
			if end < 0 {
				res.unterminated = "block comment"
				return res
			}
			i = end + 2

		case c == '\'' || c == '"' || c == '`':
			mark(i)
			end := closeQuote(text, i+1, c)
			if end < 0 {
				res.unterminated = quoteName(c)
				return res
			}
			i = end + 1

		case c == '[':
			mark(i)
			end := indexFrom(text, i+1, "]")
			if end < 0 {
				res.unterminated = "bracketed identifier"
				return res
			}
			i = end + 1

		case c == ';':
			mark(i)
			res.terminators++
			i++

		case isWordStart(c):
			mark(i)
			start := i
			for i < n && isWordPart(text[i]) {
				i++
			}
			res.tokens = append(res.tokens, token{text: text[start:i], start: start})

		case isDigit(c):
			// Numeric literals (including 1e10, 0x1F) are consumed whole so
			// their suffixes never read as keywords.
			mark(i)
			for i < n && (isWordPart(text[i]) || text[i] == '.') {
				i++
			}

		case unicode.IsSpace(rune(c)):
			i++

		default:
			mark(i)
			i++
		}
	}
	return res
}

// closeQuote returns the index of the quote that closes a literal opened
// just before from. Doubled quotes are escapes.
func closeQuote(text string, from int, q byte) int {
	for i := from; i < len(text); i++ {
		if text[i] != q {
			continue
		}
		if i+1 < len(text) && text[i+1] == q {
			i++
			continue
		}
		return i
	}
	return -1
}

func indexFrom(text string, from int, sub string) int {
	for i := from; i+len(sub) <= len(text); i++ {
		if text[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func quoteName(q byte) string {
	switch q {
	case '\'':
		return "string literal"
	case '"':
		return "quoted identifier"
	default:
		return "backtick identifier"
	}
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isWordPart(c byte) bool {
	return isWordStart(c) || isDigit(c) || c == '$'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
