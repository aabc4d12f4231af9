package formula

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/recon-engine/engine"
)

// Parse builds the AST for a formula. It is also the save-time validator:
// the rule registry rejects any edit whose formula does not parse, so
// evaluation never sees malformed text.
//
// Grammar (low to high precedence):
//
//	formula     -> orExpr EOF
//	orExpr      -> andExpr ( OR andExpr )*
//	andExpr     -> comparison ( AND comparison )*
//	comparison  -> sum ( ('=' | '<=' | '>=' | '<' | '>') sum )?
//	sum         -> product ( ('+' | '-') product )*
//	product     -> unary ( ('*' | '/') unary )*
//	unary       -> '-' unary | primary
//	primary     -> NUMBER | REF | SUM '(' arg ')' | '(' orExpr ')'
func Parse(source string) (*Node, error) {
	tokens, err := NewLexer(source).ScanAll()
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != EOF {
		return nil, p.errorf("unexpected %s after expression", p.peek().Type)
	}
	return node, nil
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) parseOr() (*Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == OR {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if !left.IsCondition() || !right.IsCondition() {
			return nil, p.errorf("OR requires comparisons on both sides")
		}
		left = &Node{Kind: NodeLogical, Op: '|', Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (*Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == AND {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if !left.IsCondition() || !right.IsCondition() {
			return nil, p.errorf("AND requires comparisons on both sides")
		}
		left = &Node{Kind: NodeLogical, Op: '&', Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (*Node, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}

	var op engine.CompareOp
	switch p.peek().Type {
	case EQ:
		op = engine.OpEq
	case LE:
		op = engine.OpLe
	case GE:
		op = engine.OpGe
	case LT:
		op = engine.OpLt
	case GT:
		op = engine.OpGt
	default:
		return left, nil
	}
	p.advance()

	right, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if left.IsCondition() || right.IsCondition() {
		return nil, p.errorf("comparisons cannot be chained")
	}
	return &Node{Kind: NodeComparison, Compare: op, Left: left, Right: right}, nil
}

func (p *parser) parseSum() (*Node, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		var op byte
		switch p.peek().Type {
		case PLUS:
			op = '+'
		case MINUS:
			op = '-'
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &Node{Kind: NodeBinary, Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseProduct() (*Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op byte
		switch p.peek().Type {
		case ASTERISK:
			op = '*'
		case SLASH:
			op = '/'
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Node{Kind: NodeBinary, Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (*Node, error) {
	if p.peek().Type == MINUS {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Node{Kind: NodeNegate, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*Node, error) {
	tok := p.peek()
	switch tok.Type {
	case NUMBER:
		p.advance()
		d, err := decimal.NewFromString(tok.Text)
		if err != nil {
			return nil, p.errorf("invalid number %q", tok.Text)
		}
		return &Node{Kind: NodeNumber, Number: d}, nil

	case REF:
		p.advance()
		ref, err := parseRefSpec(tok.Text)
		if err != nil {
			return nil, fmt.Errorf("at offset %d: %w", tok.Pos, err)
		}
		return &Node{Kind: NodeAccountRef, Ref: ref}, nil

	case SUM:
		return p.parseSumCall()

	case LPAREN:
		p.advance()
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().Type != RPAREN {
			return nil, p.errorf("expected ')' after expression")
		}
		p.advance()
		return node, nil
	}
	return nil, p.errorf("unexpected %s", tok.Type)
}

// parseSumCall handles SUM(category) and SUM(doc_type: category).
func (p *parser) parseSumCall() (*Node, error) {
	p.advance() // consume SUM
	if p.peek().Type != LPAREN {
		return nil, p.errorf("expected '(' after SUM")
	}
	p.advance()

	if p.peek().Type != IDENT {
		return nil, p.errorf("expected category name in SUM()")
	}
	first := p.advance().Text

	node := &Node{Kind: NodeSum, Category: first}
	// Optional document-type qualifier: SUM(rent_roll: monthly_rent).
	if p.peek().Type == COLON {
		dt := engine.DocumentType(strings.ToLower(first))
		if !isDocumentType(dt) {
			return nil, p.errorf("unknown document type %q in SUM()", first)
		}
		p.advance()
		if p.peek().Type != IDENT {
			return nil, p.errorf("expected category name after ':' in SUM()")
		}
		node.Ref.DocumentType = dt
		node.Category = p.advance().Text
	}

	if p.peek().Type != RPAREN {
		return nil, p.errorf("expected ')' after SUM argument")
	}
	p.advance()
	return node, nil
}

// parseRefSpec splits a bracket body into document type, account, and
// period qualifier: "doc_type: account @ PRIOR".
func parseRefSpec(body string) (RefSpec, error) {
	spec := RefSpec{Period: PeriodCurrent}
	rest := strings.TrimSpace(body)

	if at := strings.LastIndex(rest, "@"); at >= 0 {
		qual := strings.ToUpper(strings.TrimSpace(rest[at+1:]))
		switch qual {
		case "PRIOR":
			spec.Period = PeriodPrior
		case "PRIOR_YEAR":
			spec.Period = PeriodPriorYear
		default:
			return RefSpec{}, fmt.Errorf("unknown period qualifier %q", qual)
		}
		rest = strings.TrimSpace(rest[:at])
	}

	if colon := strings.Index(rest, ":"); colon >= 0 {
		dt := engine.DocumentType(strings.ToLower(strings.TrimSpace(rest[:colon])))
		if !isDocumentType(dt) {
			return RefSpec{}, fmt.Errorf("unknown document type %q", rest[:colon])
		}
		spec.DocumentType = dt
		rest = strings.TrimSpace(rest[colon+1:])
	}

	if rest == "" {
		return RefSpec{}, fmt.Errorf("empty account reference")
	}

	if looksLikeCode(rest) {
		spec.AccountCode = engine.AccountCode(rest)
	} else {
		spec.AccountName = rest
	}
	return spec, nil
}

// looksLikeCode treats digits/dashes/dots as an account code
// ("0122-0000"), anything else as an account name.
func looksLikeCode(s string) bool {
	hasDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '-' || r == '.':
		default:
			return false
		}
	}
	return hasDigit
}

func isDocumentType(t engine.DocumentType) bool {
	for _, dt := range engine.AllDocumentTypes() {
		if dt == t {
			return true
		}
	}
	return false
}

func (p *parser) peek() Token { return p.tokens[p.pos] }

func (p *parser) advance() Token {
	tok := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("offset %d: %s", p.peek().Pos, fmt.Sprintf(format, args...))
}
