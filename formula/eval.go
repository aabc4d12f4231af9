package formula

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/recon-engine/engine"
)

// =============================================================================
// EVALUATION CONTEXT
// =============================================================================

// Context binds account references to resolved values. The session package
// provides the store-backed implementation; tests provide map-backed ones.
//
// Cross-document references resolve through the same Account Matcher as
// same-document lookups, so matching confidence and strategy are tracked
// uniformly - never through ad hoc joins.
type Context interface {
	// ResolveAccount returns the value of one account reference, the
	// match that produced it, and an error for unresolved terms
	// (*engine.UnresolvedAccountError). A missing required term is an
	// error, never zero.
	ResolveAccount(ref RefSpec) (decimal.Decimal, engine.MatchResult, error)

	// SumCategory sums every line item carrying the category tag within
	// one document type of the evaluation period.
	SumCategory(docType engine.DocumentType, category string) (decimal.Decimal, error)

	// DefaultDocumentType is the rule's own document scope, used when a
	// reference carries no explicit qualifier.
	DefaultDocumentType() engine.DocumentType
}

// =============================================================================
// OUTCOME
// =============================================================================

type OutcomeKind uint8

const (
	// OutcomeValue: the formula computed a bare number (no comparison).
	OutcomeValue OutcomeKind = iota
	// OutcomeComparison: "actual op expected" with both sides evaluated.
	OutcomeComparison
	// OutcomeCondition: a compound AND/OR condition; only Holds is
	// meaningful.
	OutcomeCondition
)

// Outcome is the result of evaluating a formula. For comparisons, Actual
// is the left side and Expected the right, matching how rule authors write
// them ("Assets = Liabilities + Equity" checks assets against the rest).
type Outcome struct {
	Kind     OutcomeKind
	Value    decimal.Decimal
	Actual   decimal.Decimal
	Expected decimal.Decimal
	Op       engine.CompareOp
	Holds    bool

	// Matches records every account resolution, for the audit trail.
	Matches []engine.MatchResult
}

// =============================================================================
// EVALUATOR
// =============================================================================

// Evaluate runs a parsed formula against a context.
//
// Error contract:
//   - unresolved required term  -> *engine.UnresolvedAccountError (SKIP)
//   - zero/missing denominator  -> engine.ErrDivisionByZero (SKIP)
//   - anything else             -> evaluation error (per-rule FAIL)
func Evaluate(node *Node, ctx Context) (Outcome, error) {
	ev := &evaluator{ctx: ctx}

	switch node.Kind {
	case NodeComparison:
		actual, err := ev.eval(node.Left)
		if err != nil {
			return Outcome{}, err
		}
		expected, err := ev.eval(node.Right)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Kind:     OutcomeComparison,
			Actual:   actual,
			Expected: expected,
			Op:       node.Compare,
			Holds:    node.Compare.Holds(actual, expected),
			Matches:  ev.matches,
		}, nil

	case NodeLogical:
		holds, err := ev.evalCondition(node)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: OutcomeCondition, Holds: holds, Matches: ev.matches}, nil

	default:
		value, err := ev.eval(node)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: OutcomeValue, Value: value, Matches: ev.matches}, nil
	}
}

// EvaluateText parses and evaluates in one step. Registry-saved rules are
// pre-validated, so a parse error here means the text bypassed save-time
// validation and is reported as an evaluation error.
func EvaluateText(source string, ctx Context) (Outcome, error) {
	node, err := Parse(source)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", engine.ErrEvaluation, err)
	}
	return Evaluate(node, ctx)
}

type evaluator struct {
	ctx     Context
	matches []engine.MatchResult
}

func (ev *evaluator) eval(n *Node) (decimal.Decimal, error) {
	switch n.Kind {
	case NodeNumber:
		return n.Number, nil

	case NodeAccountRef:
		ref := n.Ref
		if ref.DocumentType == "" {
			ref.DocumentType = ev.ctx.DefaultDocumentType()
		}
		value, match, err := ev.ctx.ResolveAccount(ref)
		if err != nil {
			return decimal.Zero, err
		}
		ev.matches = append(ev.matches, match)
		return value, nil

	case NodeSum:
		docType := n.Ref.DocumentType
		if docType == "" {
			docType = ev.ctx.DefaultDocumentType()
		}
		return ev.ctx.SumCategory(docType, n.Category)

	case NodeNegate:
		v, err := ev.eval(n.Operand)
		if err != nil {
			return decimal.Zero, err
		}
		return v.Neg(), nil

	case NodeBinary:
		left, err := ev.eval(n.Left)
		if err != nil {
			return decimal.Zero, err
		}
		right, err := ev.eval(n.Right)
		if err != nil {
			return decimal.Zero, err
		}
		switch n.Op {
		case '+':
			return left.Add(right), nil
		case '-':
			return left.Sub(right), nil
		case '*':
			return left.Mul(right), nil
		case '/':
			if right.IsZero() {
				return decimal.Zero, engine.ErrDivisionByZero
			}
			return left.DivRound(right, 12), nil
		}
		return decimal.Zero, fmt.Errorf("%w: unknown operator %q", engine.ErrEvaluation, n.Op)
	}
	return decimal.Zero, fmt.Errorf("%w: value expected, found condition", engine.ErrEvaluation)
}

func (ev *evaluator) evalCondition(n *Node) (bool, error) {
	switch n.Kind {
	case NodeComparison:
		left, err := ev.eval(n.Left)
		if err != nil {
			return false, err
		}
		right, err := ev.eval(n.Right)
		if err != nil {
			return false, err
		}
		return n.Compare.Holds(left, right), nil

	case NodeLogical:
		// Both sides are evaluated even when the left side decides the
		// outcome: an unresolved account anywhere in the condition must
		// surface as SKIPPED, not be short-circuited away.
		left, err := ev.evalCondition(n.Left)
		if err != nil {
			return false, err
		}
		right, err := ev.evalCondition(n.Right)
		if err != nil {
			return false, err
		}
		if n.Op == '&' {
			return left && right, nil
		}
		return left || right, nil
	}
	return false, fmt.Errorf("%w: condition expected", engine.ErrEvaluation)
}
