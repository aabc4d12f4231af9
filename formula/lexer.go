package formula

import (
	"fmt"
	"strings"
)

// Lexer tokenizes a formula in a single pass with no backtracking.
type Lexer struct {
	source string
	pos    int
	tokens []Token
}

func NewLexer(source string) *Lexer {
	return &Lexer{source: source}
}

// ScanAll lexes the entire formula and returns all tokens, EOF-terminated.
func (l *Lexer) ScanAll() ([]Token, error) {
	for l.pos < len(l.source) {
		l.skipWhitespace()
		if l.pos >= len(l.source) {
			break
		}

		tok, err := l.scanToken()
		if err != nil {
			return nil, err
		}
		l.tokens = append(l.tokens, tok)
	}

	l.tokens = append(l.tokens, Token{Type: EOF, Pos: l.pos})
	return l.tokens, nil
}

func (l *Lexer) scanToken() (Token, error) {
	start := l.pos
	ch := l.source[l.pos]

	switch {
	case ch == '[':
		return l.scanRef(start)
	case ch >= '0' && ch <= '9', ch == '.':
		return l.scanNumber(start), nil
	case isIdentStart(ch):
		return l.scanIdent(start), nil
	}

	l.pos++
	switch ch {
	case '+':
		return Token{Type: PLUS, Pos: start}, nil
	case '-':
		return Token{Type: MINUS, Pos: start}, nil
	case '*':
		return Token{Type: ASTERISK, Pos: start}, nil
	case '/':
		return Token{Type: SLASH, Pos: start}, nil
	case '(':
		return Token{Type: LPAREN, Pos: start}, nil
	case ')':
		return Token{Type: RPAREN, Pos: start}, nil
	case ':':
		return Token{Type: COLON, Pos: start}, nil
	case '=':
		// "==" is tolerated as "="
		if l.peek() == '=' {
			l.pos++
		}
		return Token{Type: EQ, Pos: start}, nil
	case '<':
		if l.peek() == '=' {
			l.pos++
			return Token{Type: LE, Pos: start}, nil
		}
		return Token{Type: LT, Pos: start}, nil
	case '>':
		if l.peek() == '=' {
			l.pos++
			return Token{Type: GE, Pos: start}, nil
		}
		return Token{Type: GT, Pos: start}, nil
	}

	return Token{}, fmt.Errorf("unexpected character %q at offset %d", ch, start)
}

// scanRef consumes a bracketed account reference. The body is kept raw;
// the parser splits out document-type and period qualifiers.
func (l *Lexer) scanRef(start int) (Token, error) {
	l.pos++ // consume '['
	for l.pos < len(l.source) && l.source[l.pos] != ']' {
		l.pos++
	}
	if l.pos >= len(l.source) {
		return Token{}, fmt.Errorf("unterminated account reference at offset %d", start)
	}
	body := l.source[start+1 : l.pos]
	l.pos++ // consume ']'
	if strings.TrimSpace(body) == "" {
		return Token{}, fmt.Errorf("empty account reference at offset %d", start)
	}
	return Token{Type: REF, Text: body, Pos: start}, nil
}

func (l *Lexer) scanNumber(start int) Token {
	for l.pos < len(l.source) {
		ch := l.source[l.pos]
		// Thousands separators are tolerated in literals: 23,976,748.54
		if (ch >= '0' && ch <= '9') || ch == '.' || ch == ',' {
			l.pos++
			continue
		}
		break
	}
	text := strings.ReplaceAll(l.source[start:l.pos], ",", "")
	return Token{Type: NUMBER, Text: text, Pos: start}
}

func (l *Lexer) scanIdent(start int) Token {
	for l.pos < len(l.source) && isIdentPart(l.source[l.pos]) {
		l.pos++
	}
	text := l.source[start:l.pos]
	switch strings.ToUpper(text) {
	case "SUM":
		return Token{Type: SUM, Pos: start}
	case "AND":
		return Token{Type: AND, Pos: start}
	case "OR":
		return Token{Type: OR, Pos: start}
	}
	return Token{Type: IDENT, Text: text, Pos: start}
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.source) {
		switch l.source[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *Lexer) peek() byte {
	if l.pos < len(l.source) {
		return l.source[l.pos]
	}
	return 0
}

func isIdentStart(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || ch >= '0' && ch <= '9'
}
