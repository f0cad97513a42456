// =============================================================================
// Billing Summary - Condition Taxonomy
// =============================================================================
//
// The taxonomy maps pricing condition-type codes to a semantic role and to the
// sign with which the role contributes to the invoice amount. It is built once
// (from configuration or Default) and is immutable afterwards, so it can be
// shared by every aggregation run without locking.
//
// ROLES:
//   base_price  : the designated net-price condition (exactly one code)
//   discount    : subtracted from the invoice amount
//   tax         : added to the invoice amount
//   surcharge   : added to the invoice amount (freight, handling, ...)
//   statistical : accumulated for display, no effect on totals
//
// =============================================================================

package taxonomy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Role is the semantic role of a condition type.
type Role string

const (
	RoleBasePrice   Role = "base_price"
	RoleDiscount    Role = "discount"
	RoleTax         Role = "tax"
	RoleSurcharge   Role = "surcharge"
	RoleStatistical Role = "statistical"
)

// Sign is the contribution of a role to the invoice amount.
type Sign int

const (
	SignNone     Sign = 0
	SignAdd      Sign = 1
	SignSubtract Sign = -1
)

// Rule describes one condition type.
type Rule struct {
	Code        string
	Role        Role
	Sign        Sign
	Description string
}

// ErrNoBasePrice is returned when a taxonomy lacks a base price code.
var ErrNoBasePrice = errors.New("taxonomy has no base_price condition")

// Taxonomy is an immutable code -> rule mapping.
type Taxonomy struct {
	rules    map[string]Rule
	codes    []string
	baseCode string
}

// New builds a taxonomy from rules. Codes are trimmed and upper-cased. A rule
// with SignNone on an additive or subtractive role gets the role's default
// sign.
func New(rules []Rule) (*Taxonomy, error) {
	t := &Taxonomy{rules: make(map[string]Rule, len(rules))}

	for i, r := range rules {
		r.Code = NormalizeCode(r.Code)
		if r.Code == "" {
			return nil, fmt.Errorf("rule %d: empty condition code", i)
		}
		if _, dup := t.rules[r.Code]; dup {
			return nil, fmt.Errorf("rule %d: duplicate condition code %q", i, r.Code)
		}
		if !r.Role.valid() {
			return nil, fmt.Errorf("rule %d (%s): unknown role %q", i, r.Code, r.Role)
		}
		if r.Sign == SignNone {
			r.Sign = r.Role.DefaultSign()
		}

		if r.Role == RoleBasePrice {
			if t.baseCode != "" {
				return nil, fmt.Errorf("rule %d: second base_price code %q (already %q)", i, r.Code, t.baseCode)
			}
			t.baseCode = r.Code
			// The base price feeds the net amount, never the adjustment sum.
			r.Sign = SignNone
		}

		t.rules[r.Code] = r
		t.codes = append(t.codes, r.Code)
	}

	if t.baseCode == "" {
		return nil, ErrNoBasePrice
	}
	return t, nil
}

// MustNew is New for static tables; it panics on an invalid table.
func MustNew(rules []Rule) *Taxonomy {
	t, err := New(rules)
	if err != nil {
		panic(err)
	}
	return t
}

// Default returns the standard SD pricing taxonomy.
func Default() *Taxonomy {
	return MustNew([]Rule{
		{Code: "PR00", Role: RoleBasePrice, Description: "Price"},
		{Code: "K004", Role: RoleDiscount, Description: "Material discount"},
		{Code: "K005", Role: RoleDiscount, Description: "Customer/material discount"},
		{Code: "K007", Role: RoleDiscount, Description: "Customer discount"},
		{Code: "RA01", Role: RoleDiscount, Description: "Percentage discount"},
		{Code: "MWST", Role: RoleTax, Description: "Output tax"},
		{Code: "TAX1", Role: RoleTax, Description: "Tax component 1"},
		{Code: "TAX2", Role: RoleTax, Description: "Tax component 2"},
		{Code: "KF00", Role: RoleSurcharge, Description: "Freight"},
		{Code: "ZSUR", Role: RoleSurcharge, Description: "Surcharge"},
		{Code: "VPRS", Role: RoleStatistical, Description: "Internal cost"},
	})
}

// Lookup returns the rule for a code.
func (t *Taxonomy) Lookup(code string) (Rule, bool) {
	r, ok := t.rules[NormalizeCode(code)]
	return r, ok
}

// Codes returns the codes in definition order. The slice is a copy.
func (t *Taxonomy) Codes() []string {
	out := make([]string, len(t.codes))
	copy(out, t.codes)
	return out
}

// Rules returns the rules in definition order.
func (t *Taxonomy) Rules() []Rule {
	out := make([]Rule, 0, len(t.codes))
	for _, c := range t.codes {
		out = append(out, t.rules[c])
	}
	return out
}

// BaseCode is the designated base price code.
func (t *Taxonomy) BaseCode() string {
	return t.baseCode
}

// ZeroAccumulator returns a fresh map holding zero for every code.
func (t *Taxonomy) ZeroAccumulator() map[string]decimal.Decimal {
	acc := make(map[string]decimal.Decimal, len(t.codes))
	for _, c := range t.codes {
		acc[c] = decimal.Zero
	}
	return acc
}

// NormalizeCode trims and upper-cases a condition code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// =============================================================================
// ROLE / SIGN PARSING
// =============================================================================

func (r Role) valid() bool {
	switch r {
	case RoleBasePrice, RoleDiscount, RoleTax, RoleSurcharge, RoleStatistical:
		return true
	}
	return false
}

// DefaultSign is the invoice contribution of a role when none is configured.
func (r Role) DefaultSign() Sign {
	switch r {
	case RoleDiscount:
		return SignSubtract
	case RoleTax, RoleSurcharge:
		return SignAdd
	default:
		return SignNone
	}
}

// ParseRole parses a configured role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.valid() {
		return "", fmt.Errorf("unknown condition role %q", s)
	}
	return r, nil
}

// ParseSign parses "+", "-", "add", "subtract" or "" (role default).
func ParseSign(s string) (Sign, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return SignNone, nil
	case "+", "add", "additive":
		return SignAdd, nil
	case "-", "subtract", "subtractive":
		return SignSubtract, nil
	case "0", "none":
		return SignNone, nil
	}
	return SignNone, fmt.Errorf("unknown condition sign %q", s)
}
