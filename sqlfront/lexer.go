// Lexer: tokenizes keywords, identifiers, numbers, single-quoted
// strings (spec §4.5: `''` escapes a literal apostrophe), the
// comparison operators, punctuation, and `*`.
package sqlfront

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/jpl-au/minirel/errs"
)

// Lex tokenizes sql in full, returning every token including a trailing
// EOF token.
func Lex(sql string) ([]Token, error) {
	var toks []Token
	runes := []rune(sql)
	i := 0
	n := len(runes)

	for i < n {
		c := runes[i]
		switch {
		case unicode.IsSpace(c):
			i++

		case c == '\'':
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < n {
				if runes[i] == '\'' {
					if i+1 < n && runes[i+1] == '\'' {
						sb.WriteRune('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, errs.New(errs.SyntaxError, posMsg(start, "closing quote", "end of input"))
			}
			toks = append(toks, Token{Kind: TokString, Text: sb.String(), Pos: start})

		case unicode.IsDigit(c):
			start := i
			for i < n && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			toks = append(toks, Token{Kind: TokNumber, Text: string(runes[start:i]), Pos: start})

		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < n && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			word := string(runes[start:i])
			upper := strings.ToUpper(word)
			if keywords[upper] {
				toks = append(toks, Token{Kind: TokKeyword, Text: upper, Pos: start})
			} else {
				toks = append(toks, Token{Kind: TokIdent, Text: word, Pos: start})
			}

		case c == '*':
			toks = append(toks, Token{Kind: TokOp, Text: "*", Pos: i})
			i++

		case c == ',' || c == '(' || c == ')' || c == '.' || c == ';':
			toks = append(toks, Token{Kind: TokPunct, Text: string(c), Pos: i})
			i++

		default:
			matched := false
			for _, op := range operators {
				if strings.HasPrefix(string(runes[i:]), op) {
					toks = append(toks, Token{Kind: TokOp, Text: op, Pos: i})
					i += len(op)
					matched = true
					break
				}
			}
			if !matched {
				return nil, errs.New(errs.SyntaxError, posMsg(i, "a valid token", string(c)))
			}
		}
	}

	toks = append(toks, Token{Kind: TokEOF, Text: "", Pos: n})
	return toks, nil
}

func posMsg(pos int, expected, found string) string {
	return "at position " + strconv.Itoa(pos) + ": expected " + expected + ", found " + found
}
