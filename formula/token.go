/*
Package formula implements the reconciliation rule expression language.

PURPOSE:
  Rules cross-check extracted financial data with small arithmetic and
  comparison expressions over named accounts, e.g.

    [1000-0000] = [2000-0000] + [3000-0000]
    SUM(current_assets) / SUM(current_liabilities) >= 1.0
    [cash_flow: Net Cash Flow] = [Total Income] - [Total Expense]
    [Gross Rent] >= [Gross Rent @ PRIOR] * 0.85

LANGUAGE SURFACE:
  - account references in brackets: [CODE] or [Account Name], optionally
    qualified with a document type ([rent_roll: Total Rent]) and a period
    ([Total Rent @ PRIOR], [Total Rent @ PRIOR_YEAR])
  - numeric literals, + - * / with standard precedence, parentheses
  - comparisons = <= >= < >
  - SUM(category) aggregation over a line-item category tag
  - AND / OR connectives over comparisons

EVALUATION:
  All arithmetic is decimal (shopspring/decimal); binary floating point
  never touches a financial comparison. Division by a zero denominator and
  unresolved required terms surface as typed errors the caller maps to
  SKIPPED outcomes, never to zero values.

PIPELINE:
  Parse(text) -> *Node        (also run at rule save time: fail fast)
  Evaluate(node, ctx) -> Outcome

SEE ALSO:
  - engine/matcher.go: How account references become line items
  - session/context.go: The store-backed evaluation context
*/
package formula

import "fmt"

// TokenType represents the type of token scanned from the input.
type TokenType uint8

const (
	// Special tokens
	EOF TokenType = iota
	ILLEGAL

	// Literals
	NUMBER // 123.45
	REF    // [account reference], body kept raw for the parser
	IDENT  // SUM argument / bare identifier

	// Keywords
	SUM // SUM
	AND // AND
	OR  // OR

	// Operators
	PLUS     // +
	MINUS    // -
	ASTERISK // *
	SLASH    // /
	LPAREN   // (
	RPAREN   // )
	COLON    // : (inside SUM document qualifiers)
	EQ       // =
	LE       // <=
	GE       // >=
	LT       // <
	GT       // >
)

var tokenNames = map[TokenType]string{
	EOF:      "EOF",
	ILLEGAL:  "ILLEGAL",
	NUMBER:   "NUMBER",
	REF:      "REF",
	IDENT:    "IDENT",
	SUM:      "SUM",
	AND:      "AND",
	OR:       "OR",
	PLUS:     "+",
	MINUS:    "-",
	ASTERISK: "*",
	SLASH:    "/",
	LPAREN:   "(",
	RPAREN:   ")",
	COLON:    ":",
	EQ:       "=",
	LE:       "<=",
	GE:       ">=",
	LT:       "<",
	GT:       ">",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", t)
}

// Token is one scanned token. Text holds the literal for NUMBER, IDENT,
// and REF (the bracket body, brackets stripped).
type Token struct {
	Type TokenType
	Text string
	Pos  int // byte offset in the source, for error messages
}
