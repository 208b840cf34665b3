package validate

import (
	"sort"
	"strings"
)

// Forbidden lists the data-definition and data-modification keywords that
// may not appear as top-level tokens. DETACH, VACUUM and REINDEX are SQLite
// maintenance verbs that also write.
var Forbidden = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"DROP":     true,
	"ALTER":    true,
	"CREATE":   true,
	"ATTACH":   true,
	"DETACH":   true,
	"PRAGMA":   true,
	"REPLACE":  true,
	"TRUNCATE": true,
	"VACUUM":   true,
	"REINDEX":  true,
}

// ForbiddenKeywords returns Forbidden as a sorted slice.
func ForbiddenKeywords() []string {
	out := make([]string, 0, len(Forbidden))
	for k := range Forbidden {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Statement is an accepted single read-only query.
type Statement struct {
	// SQL is the statement text with outer whitespace and the trailing
	// terminator removed. It is otherwise identical to the input.
	SQL string
}

// String returns the statement text.
func (s Statement) String() string {
	return s.SQL
}

// Validator is the interface the gateway depends on.
type Validator interface {
	Validate(sql string) (Statement, error)
}

// Lexical is the default Validator.
type Lexical struct{}

// Validate implements Validator.
func (Lexical) Validate(sql string) (Statement, error) {
	return Check(sql)
}

// Check applies the rules to sql and returns the accepted statement or a
// *Error. It is a pure function.
func Check(sql string) (Statement, error) {
	text := strings.TrimSpace(sql)
	text = strings.TrimSuffix(text, ";")
	text = strings.TrimSpace(text)
	if text == "" {
		return Statement{}, reject(ReasonEmpty, "", "statement is empty")
	}

	sc := scan(text)
	if sc.unterminated != "" {
		return Statement{}, reject(ReasonUnterminated, "", "unterminated %s", sc.unterminated)
	}
	if sc.terminators > 0 {
		return Statement{}, reject(ReasonMultipleStatements, "",
			"only a single statement is allowed; found content after ';'")
	}
	if len(sc.tokens) == 0 || sc.tokens[0].start != sc.firstSignificant {
		return Statement{}, reject(ReasonNotSelect, "", "statement must begin with SELECT")
	}

	first := strings.ToUpper(sc.tokens[0].text)
	if first != "SELECT" {
		return Statement{}, reject(ReasonNotSelect, first,
			"statement must begin with SELECT, got %s", first)
	}

	for _, tok := range sc.tokens[1:] {
		word := strings.ToUpper(tok.text)
		if Forbidden[word] {
			return Statement{}, reject(ReasonForbiddenKeyword, word,
				"keyword %s is not allowed in a read-only query", word)
		}
	}

	return Statement{SQL: text}, nil
}
