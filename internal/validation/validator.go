// =============================================================================
// Billing Summary - Line Quality Checks
// =============================================================================
//
// Aggregation never rejects a line: a bad amount counts as zero, an unknown
// condition type is ignored and a line without a document number is skipped.
// This module reports those silent decisions so a run can be audited.
//
// CHECKS:
//   - required : the line has no document number (it was skipped)
//   - numeric  : a condition amount or quantity is present but not a number
//   - known    : the condition type is not in the taxonomy
//
// Skipped lines are errors; everything else is a warning and does not
// change any total.
//
// =============================================================================

package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ginjaninja78/billing-summary/internal/aggregation"
	"github.com/ginjaninja78/billing-summary/internal/taxonomy"
	"github.com/ginjaninja78/billing-summary/internal/types"
)

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Rule names.
const (
	RuleRequired = "required"
	RuleNumeric  = "numeric"
	RuleKnown    = "known"
)

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// ValidationError represents a single finding.
type ValidationError struct {
	Severity string
	Field    string
	Value    string
	Rule     string
	Message  string

	// Index is the line's position in the loaded feed.
	Index int

	// Group is the group the line was folded into; empty for skipped lines.
	Group types.GroupKey
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	where := fmt.Sprintf("line %d", e.Index)
	if e.Group != "" {
		where += fmt.Sprintf(" (group %s)", e.Group)
	}
	return fmt.Sprintf("[%s] %s, field '%s': %s (value: '%s')",
		strings.ToUpper(e.Severity), where, e.Field, e.Message, e.Value)
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// ValidationResult contains the findings of one check.
type ValidationResult struct {
	// IsValid is true if there are no errors.
	IsValid bool

	Errors       []*ValidationError
	ErrorCount   int
	WarningCount int

	LinesChecked int
}

func (r *ValidationResult) add(e *ValidationError) {
	r.Errors = append(r.Errors, e)
	if e.Severity == SeverityError {
		r.ErrorCount++
	} else {
		r.WarningCount++
	}
}

// =============================================================================
// MAIN VALIDATION FUNCTION
// =============================================================================

// CheckResult audits the lines behind an aggregation result. Findings are
// ordered by line index.
func CheckResult(result *aggregation.Result, tx *taxonomy.Taxonomy) *ValidationResult {
	vr := &ValidationResult{}
	if result == nil {
		vr.IsValid = true
		return vr
	}

	for _, s := range result.Skipped {
		vr.LinesChecked++
		vr.add(&ValidationError{
			Severity: SeverityError,
			Field:    "primary_key",
			Rule:     RuleRequired,
			Message:  s.Reason,
			Index:    s.Index,
		})
	}
	for _, g := range result.Groups {
		for _, line := range g.Lines {
			vr.LinesChecked++
			for _, e := range CheckLine(line, tx) {
				e.Group = g.Key
				vr.add(e)
			}
		}
	}

	sort.SliceStable(vr.Errors, func(i, j int) bool {
		return vr.Errors[i].Index < vr.Errors[j].Index
	})
	vr.IsValid = vr.ErrorCount == 0
	return vr
}

// CheckLine returns the warnings for one line.
func CheckLine(line types.RawLineItem, tx *taxonomy.Taxonomy) []*ValidationError {
	var out []*ValidationError

	if code := taxonomy.NormalizeCode(line.ConditionType); code != "" {
		if _, ok := tx.Lookup(code); !ok {
			out = append(out, &ValidationError{
				Severity: SeverityWarning,
				Field:    "condition_type",
				Value:    line.ConditionType,
				Rule:     RuleKnown,
				Message:  "Condition type is not in the taxonomy and was ignored",
				Index:    line.Index,
			})
		}
	}
	if msg := validateAmount(line.ConditionAmount); msg != "" {
		out = append(out, &ValidationError{
			Severity: SeverityWarning,
			Field:    "condition_amount",
			Value:    fmt.Sprint(line.ConditionAmount),
			Rule:     RuleNumeric,
			Message:  msg,
			Index:    line.Index,
		})
	}
	if msg := validateAmount(line.Quantity); msg != "" {
		out = append(out, &ValidationError{
			Severity: SeverityWarning,
			Field:    "quantity",
			Value:    fmt.Sprint(line.Quantity),
			Rule:     RuleNumeric,
			Message:  msg,
			Index:    line.Index,
		})
	}
	return out
}

// validateAmount flags a present but non-numeric amount. Blank values are
// fine; they mean "no amount".
func validateAmount(v any) string {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return ""
	}
	if !aggregation.HasAmount(s) {
		return fmt.Sprintf("Value '%s' is not a valid decimal number and was counted as zero", strings.TrimSpace(s))
	}
	return ""
}

// =============================================================================
// ERROR FORMATTING
// =============================================================================

// FormatErrors formats findings for display or logging. At most limit
// findings are listed; limit <= 0 lists all.
func FormatErrors(errors []*ValidationError, limit int) string {
	if len(errors) == 0 {
		return "No validation errors."
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Validation completed with %d finding(s):\n\n", len(errors)))

	for i, err := range errors {
		if limit > 0 && i == limit {
			builder.WriteString(fmt.Sprintf("... and %d more\n", len(errors)-limit))
			break
		}
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, err.Error()))
	}

	return builder.String()
}
