package search

import (
	"strings"
)

// operators FTS5 understands; passed through uppercased.
var ftsOperators = map[string]string{
	"AND": "AND",
	"OR":  "OR",
	"NOT": "NOT",
}

// buildMatch turns a user query into an FTS5 MATCH expression. Quoted
// phrases and boolean operators pass through; bare terms are quoted so
// FTS syntax characters in them stay literal. Adjacent quoted terms are
// an implicit AND in FTS5.
func buildMatch(raw string) string {
	tokens := tokenize(raw)
	if len(tokens) == 0 {
		return ""
	}

	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if op, ok := ftsOperators[strings.ToUpper(tok.text)]; ok && !tok.phrase {
			// Operators are binary; drop ones with no left operand.
			if len(parts) == 0 || isOperator(parts[len(parts)-1]) {
				continue
			}
			parts = append(parts, op)
			continue
		}
		text := strings.ReplaceAll(tok.text, `"`, "")
		if text == "" {
			continue
		}
		parts = append(parts, `"`+text+`"`)
	}

	for len(parts) > 0 && isOperator(parts[len(parts)-1]) {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, " ")
}

func isOperator(s string) bool {
	_, ok := ftsOperators[s]
	return ok
}

type token struct {
	text   string
	phrase bool
}

// tokenize splits on whitespace, keeping double-quoted runs together.
// An unterminated quote extends to the end of the input.
func tokenize(raw string) []token {
	var (
		tokens  []token
		current strings.Builder
		inQuote bool
	)
	flush := func(phrase bool) {
		if current.Len() == 0 {
			return
		}
		tokens = append(tokens, token{text: current.String(), phrase: phrase})
		current.Reset()
	}

	for _, r := range raw {
		switch {
		case r == '"':
			if inQuote {
				flush(true)
				inQuote = false
			} else {
				flush(false)
				inQuote = true
			}
		case !inQuote && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			flush(false)
		default:
			current.WriteRune(r)
		}
	}
	flush(inQuote)
	return tokens
}
