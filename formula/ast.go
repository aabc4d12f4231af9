package formula

import (
	"github.com/shopspring/decimal"

	"github.com/warp/recon-engine/engine"
)

// =============================================================================
// AST NODES
// =============================================================================

type NodeKind uint8

const (
	NodeNumber NodeKind = iota
	NodeAccountRef
	NodeSum
	NodeBinary     // + - * /
	NodeComparison // = <= >= < >
	NodeLogical    // AND OR
	NodeNegate     // unary minus
)

// PeriodQualifier shifts an account reference to another period.
type PeriodQualifier uint8

const (
	PeriodCurrent PeriodQualifier = iota
	PeriodPrior
	PeriodPriorYear
)

func (q PeriodQualifier) String() string {
	switch q {
	case PeriodPrior:
		return "PRIOR"
	case PeriodPriorYear:
		return "PRIOR_YEAR"
	default:
		return "CURRENT"
	}
}

// Node is one AST node. A single struct with a Kind tag keeps the tree
// allocation-light; only the fields for the node's kind are set.
type Node struct {
	Kind NodeKind

	// NodeNumber
	Number decimal.Decimal

	// NodeAccountRef / NodeSum
	Ref      RefSpec
	Category string // NodeSum

	// NodeBinary / NodeComparison / NodeLogical
	Op          byte // '+', '-', '*', '/', '&' (AND), '|' (OR)
	Compare     engine.CompareOp
	Left, Right *Node

	// NodeNegate
	Operand *Node
}

// RefSpec is a parsed account reference: which account, in which document
// type (empty = the rule's own document scope), at which period.
type RefSpec struct {
	AccountCode  engine.AccountCode
	AccountName  string
	DocumentType engine.DocumentType // "" = rule default
	Period       PeriodQualifier
}

// AccountRefs walks the tree and collects every account reference.
func (n *Node) AccountRefs() []RefSpec {
	if n == nil {
		return nil
	}
	var out []RefSpec
	switch n.Kind {
	case NodeAccountRef:
		out = append(out, n.Ref)
	case NodeSum, NodeNumber:
	case NodeNegate:
		out = append(out, n.Operand.AccountRefs()...)
	default:
		out = append(out, n.Left.AccountRefs()...)
		out = append(out, n.Right.AccountRefs()...)
	}
	return out
}

// TouchesAccounts reports whether the formula reads the books at all,
// through a bracketed reference or a category SUM. A formula that touches
// nothing asserts nothing and is rejected at save time.
func (n *Node) TouchesAccounts() bool {
	if len(n.AccountRefs()) > 0 {
		return true
	}
	return n.containsSum()
}

func (n *Node) containsSum() bool {
	if n == nil {
		return false
	}
	switch n.Kind {
	case NodeSum:
		return true
	case NodeNumber, NodeAccountRef:
		return false
	case NodeNegate:
		return n.Operand.containsSum()
	default:
		return n.Left.containsSum() || n.Right.containsSum()
	}
}

// IsCondition reports whether the formula asserts something (a comparison
// or a logical combination of comparisons) rather than computing a bare
// value.
func (n *Node) IsCondition() bool {
	return n != nil && (n.Kind == NodeComparison || n.Kind == NodeLogical)
}
