package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/billing-summary/internal/aggregation"
	"github.com/ginjaninja78/billing-summary/internal/taxonomy"
	"github.com/ginjaninja78/billing-summary/internal/types"
)

func TestCheckLine(t *testing.T) {
	tx := taxonomy.Default()

	tests := []struct {
		name  string
		line  types.RawLineItem
		rules []string
	}{
		{"clean", types.RawLineItem{ConditionType: "PR00", ConditionAmount: "10.00", Quantity: "2"}, nil},
		{"trailing minus", types.RawLineItem{ConditionType: "K007", ConditionAmount: "1.50-"}, nil},
		{"blank amount", types.RawLineItem{ConditionType: "PR00", ConditionAmount: "  "}, nil},
		{"nil amount", types.RawLineItem{ConditionType: "PR00"}, nil},
		{"numeric driver value", types.RawLineItem{ConditionType: "PR00", ConditionAmount: 12.5}, nil},
		{"no condition", types.RawLineItem{ConditionAmount: "1"}, nil},
		{"unknown code", types.RawLineItem{ConditionType: "ZZ99", ConditionAmount: "1"}, []string{RuleKnown}},
		{"bad amount", types.RawLineItem{ConditionType: "PR00", ConditionAmount: "n/a"}, []string{RuleNumeric}},
		{"bad quantity", types.RawLineItem{ConditionType: "pr00", ConditionAmount: "1", Quantity: "two"}, []string{RuleNumeric}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rules []string
			for _, e := range CheckLine(tt.line, tx) {
				assert.Equal(t, SeverityWarning, e.Severity)
				rules = append(rules, e.Rule)
			}
			assert.Equal(t, tt.rules, rules)
		})
	}
}

func TestCheckResult(t *testing.T) {
	tx := taxonomy.Default()
	items := []types.RawLineItem{
		{Index: 0, PrimaryKey: "90000001", ConditionType: "PR00", ConditionAmount: "100"},
		{Index: 1, PrimaryKey: "", ConditionType: "PR00", ConditionAmount: "5"},
		{Index: 2, PrimaryKey: "90000001", ConditionType: "XXXX", ConditionAmount: "abc"},
	}
	result, err := aggregation.Aggregate(items, tx, aggregation.Options{})
	require.NoError(t, err)

	vr := CheckResult(result, tx)

	assert.False(t, vr.IsValid)
	assert.Equal(t, 3, vr.LinesChecked)
	assert.Equal(t, 1, vr.ErrorCount)
	assert.Equal(t, 2, vr.WarningCount)
	require.Len(t, vr.Errors, 3)

	assert.Equal(t, 1, vr.Errors[0].Index)
	assert.Equal(t, RuleRequired, vr.Errors[0].Rule)
	assert.Empty(t, vr.Errors[0].Group)

	assert.Equal(t, 2, vr.Errors[1].Index)
	assert.Equal(t, types.GroupKey("90000001_000010"), vr.Errors[1].Group)
	assert.Contains(t, vr.Errors[2].Error(), "[WARNING] line 2 (group 90000001_000010)")
}

func TestCheckResult_Nil(t *testing.T) {
	vr := CheckResult(nil, taxonomy.Default())
	assert.True(t, vr.IsValid)
	assert.Empty(t, vr.Errors)
}

func TestFormatErrors(t *testing.T) {
	assert.Equal(t, "No validation errors.", FormatErrors(nil, 0))

	errs := []*ValidationError{
		{Severity: SeverityWarning, Field: "quantity", Value: "x", Message: "bad", Index: 4},
		{Severity: SeverityError, Field: "primary_key", Message: "missing", Index: 7},
		{Severity: SeverityWarning, Field: "quantity", Value: "y", Message: "bad", Index: 9},
	}
	out := FormatErrors(errs, 2)
	assert.Contains(t, out, "3 finding(s)")
	assert.Contains(t, out, "1. [WARNING] line 4, field 'quantity': bad (value: 'x')")
	assert.Contains(t, out, "2. [ERROR] line 7")
	assert.Contains(t, out, "... and 1 more")
	assert.NotContains(t, out, "line 9")
}
