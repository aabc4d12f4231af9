/*
document.go - Registered handlers per document type

PURPOSE:
  Each statement type stores its primary amount in a different field
  (period amount, YTD, monthly rent). Instead of an if/elif chain per
  document type - a known source of "newly added type silently ignored"
  bugs - handlers live in a registry keyed by DocumentType and the full
  set is validated at startup.

VALIDATION:
  ValidateHandlers() compares the registry against AllDocumentTypes().
  A type without a handler fails fast at boot, not silently at runtime.

SEE ALSO:
  - types.go: DocumentType enumeration
  - matcher.go: Uses Amounts() when resolving references
*/
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DocumentHandler extracts the primary amount from a line item of its
// document type and says whether name-only matching is allowed (statements
// that commonly lack account codes).
type DocumentHandler struct {
	Type DocumentType

	// PrimaryAmount picks the amount field a formula term refers to by
	// default for this statement type.
	PrimaryAmount func(item LineItem) decimal.Decimal

	// AllowNameOnly permits the name-only matcher fallback. Cash-flow and
	// rent-roll statements routinely carry blank account codes.
	AllowNameOnly bool
}

var documentHandlers = map[DocumentType]DocumentHandler{
	DocBalanceSheet: {
		Type:          DocBalanceSheet,
		PrimaryAmount: func(item LineItem) decimal.Decimal { return item.PeriodAmount },
	},
	DocIncomeStatement: {
		Type:          DocIncomeStatement,
		PrimaryAmount: func(item LineItem) decimal.Decimal { return item.PeriodAmount },
	},
	DocCashFlow: {
		Type:          DocCashFlow,
		PrimaryAmount: func(item LineItem) decimal.Decimal { return item.PeriodAmount },
		AllowNameOnly: true,
	},
	DocRentRoll: {
		Type:          DocRentRoll,
		PrimaryAmount: func(item LineItem) decimal.Decimal { return item.MonthlyRent },
		AllowNameOnly: true,
	},
	DocMortgageStatement: {
		Type:          DocMortgageStatement,
		PrimaryAmount: func(item LineItem) decimal.Decimal { return item.PeriodAmount },
	},
}

// HandlerFor returns the registered handler for a document type.
func HandlerFor(t DocumentType) (DocumentHandler, error) {
	h, ok := documentHandlers[t]
	if !ok {
		return DocumentHandler{}, fmt.Errorf("%w: %s", ErrMissingHandler, t)
	}
	return h, nil
}

// Amounts returns the primary amount of a line item according to its
// document type's handler. Unknown types return zero and an error.
func Amounts(item LineItem) (decimal.Decimal, error) {
	h, err := HandlerFor(item.DocumentType)
	if err != nil {
		return decimal.Zero, err
	}
	return h.PrimaryAmount(item), nil
}

// ValidateHandlers checks every enumerated document type has a handler.
// Called from server startup.
func ValidateHandlers() error {
	for _, t := range AllDocumentTypes() {
		if _, ok := documentHandlers[t]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingHandler, t)
		}
	}
	return nil
}
