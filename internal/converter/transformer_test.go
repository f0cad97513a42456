package converter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/billing-summary/internal/config"
)

func TestApplyTransformation(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		action config.TransformationAction
		want   string
	}{
		{"prepend", "123", config.TransformationAction{Type: "prepend_string", Value: "A"}, "A123"},
		{"append", "123", config.TransformationAction{Type: "append_string", Value: "-00"}, "123-00"},
		{"trim", "  x ", config.TransformationAction{Type: "trim"}, "x"},
		{"trim left chars", "xx12", config.TransformationAction{Type: "trim_left", Value: "x"}, "12"},
		{"title case", "MÜLLER gmbh", config.TransformationAction{Type: "title_case"}, "Müller Gmbh"},
		{"replace", "1000/2024", config.TransformationAction{Type: "replace", Find: "/", Value: "_"}, "1000_2024"},
		{"substring runes", "Grüße", config.TransformationAction{Type: "substring", Value: "1,4"}, "rüß"},
		{"pad numeric key", "90000001", config.TransformationAction{Type: "pad_zeros_to_length", Value: "10"}, "0090000001"},
		{"pad skips alnum key", "MAT-1", config.TransformationAction{Type: "pad_zeros_to_length", Value: "10"}, "MAT-1"},
		{"pad skips empty", "", config.TransformationAction{Type: "pad_zeros_to_length", Value: "6"}, ""},
		{"ensure length truncates", "12345678", config.TransformationAction{Type: "ensure_length", Value: "4"}, "1234"},
		{"ensure length keeps whole runes", "Müller", config.TransformationAction{Type: "ensure_length", Value: "2"}, "Mü"},
		{"ensure length pads by runes", "Mü", config.TransformationAction{Type: "ensure_length", Value: "4"}, "00Mü"},
		{"remove leading zeros", "0090000001", config.TransformationAction{Type: "remove_leading_zeros"}, "90000001"},
		{"remove leading zeros all", "000", config.TransformationAction{Type: "remove_leading_zeros"}, "0"},
		{"sap sign", " 12.50-", config.TransformationAction{Type: "sap_sign"}, "-12.50"},
		{"sap sign positive", "12.50", config.TransformationAction{Type: "sap_sign"}, "12.50"},
		{"decimal comma", "1.234,56", config.TransformationAction{Type: "decimal_comma"}, "1234.56"},
		{"format number", "1234.5", config.TransformationAction{Type: "format_number", Value: "2"}, "1234.50"},
		{"format number non numeric", "n/a", config.TransformationAction{Type: "format_number", Value: "2"}, "n/a"},
		{"format date", "20240131", config.TransformationAction{Type: "format_date", Value: "20060102|2006-01-02"}, "2024-01-31"},
		{"lookup hit", "ZF2", config.TransformationAction{Type: "lookup", LookupTable: map[string]string{"ZF2": "F2"}}, "F2"},
		{"lookup miss", "ZF9", config.TransformationAction{Type: "lookup", LookupTable: map[string]string{"ZF2": "F2"}}, "ZF9"},
		{"lookup default", "ZF9", config.TransformationAction{Type: "lookup_with_default", Value: "F1"}, "F1"},
		{"empty default", " ", config.TransformationAction{Type: "if_empty_use_default", Value: "EUR"}, "EUR"},
		{"extract digits", "INV-12-34", config.TransformationAction{Type: "extract_digits"}, "1234"},
		{"whitespace", " a   b ", config.TransformationAction{Type: "normalize_whitespace"}, "a b"},
		{"nfc", "e\u0301", config.TransformationAction{Type: "normalize_unicode"}, "\u00e9"},
		{"strip accents", "Müller Café", config.TransformationAction{Type: "strip_accents"}, "Muller Cafe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyTransformation(tt.value, tt.action, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyTransformation_Unknown(t *testing.T) {
	_, err := ApplyTransformation("x", config.TransformationAction{Type: "conditional"}, nil)
	assert.ErrorIs(t, err, ErrUnknownTransformation)
}

func TestNewTransformer_Validation(t *testing.T) {
	_, err := NewTransformer([]config.TransformationRule{
		{Field: "VBELN", Actions: []config.TransformationAction{{Type: "explode"}}},
	})
	assert.ErrorIs(t, err, ErrUnknownTransformation)

	_, err = NewTransformer([]config.TransformationRule{
		{Field: "VBELN", Actions: []config.TransformationAction{{Type: "regex_replace", Find: "("}}},
	})
	assert.ErrorContains(t, err, "invalid regex pattern")
}

func TestTransformer_TransformRow(t *testing.T) {
	tr, err := NewTransformer([]config.TransformationRule{
		{Field: "VBELN", Actions: []config.TransformationAction{
			{Type: "trim"},
			{Type: "pad_zeros_to_length", Value: "10"},
		}},
		{Field: "KWERT", Actions: []config.TransformationAction{{Type: "sap_sign"}}},
		{Field: "KWERT", Actions: []config.TransformationAction{{Type: "format_number", Value: "2"}}},
		{Field: "WAERK", Actions: []config.TransformationAction{{Type: "if_empty_use_field", Value: "HWAER"}}},
		{Field: "POSNR", Actions: []config.TransformationAction{{Type: "regex_replace", Find: `^0+`, Value: ""}}},
	})
	require.NoError(t, err)

	row := map[string]string{"VBELN": " 90000001 ", "KWERT": "5-", "WAERK": "", "HWAER": "EUR", "POSNR": "000010"}
	got, err := tr.TransformRow(row)
	require.NoError(t, err)

	assert.Equal(t, "0090000001", got["VBELN"])
	assert.Equal(t, "-5.00", got["KWERT"])
	assert.Equal(t, "EUR", got["WAERK"])
	assert.Equal(t, "10", got["POSNR"])
	assert.Equal(t, " 90000001 ", row["VBELN"], "input row is not modified")
}

func TestTransformer_NoRules(t *testing.T) {
	tr, err := NewTransformer(nil)
	require.NoError(t, err)
	assert.True(t, tr.Empty())

	row := map[string]string{"a": "1"}
	got, err := tr.TransformRow(row)
	require.NoError(t, err)
	assert.Equal(t, row, got)
}

func TestPadLeft(t *testing.T) {
	assert.Equal(t, "0042", PadLeft("42", 4, '0'))
	assert.Equal(t, "12345", PadLeft("12345", 4, '0'))
}
