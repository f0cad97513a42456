// =============================================================================
// Billing Summary - Transformation Engine
// =============================================================================
//
// This module cleans raw feed columns before they are mapped onto billing
// records. Extracts from different systems disagree on key padding, sign
// placement and decimal separators; the rules in the feed configuration
// bring them to one shape so lines of the same document group together.
//
// TRANSFORMATION TYPES:
//   - String manipulations (prepend, append, trim, case conversion)
//   - SAP key formatting (zero padding, leading zero removal)
//   - Amount formatting (trailing minus, decimal comma, precision)
//   - Date conversions
//   - Lookup table replacements
//   - Unicode normalization
//
// Rules are compiled once when the Transformer is built; an unknown action
// type or a bad regular expression is reported then, not per row.
//
// =============================================================================

package converter

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ginjaninja78/billing-summary/internal/config"
)

// ErrUnknownTransformation is returned for an unsupported action type.
var ErrUnknownTransformation = errors.New("unknown transformation type")

var (
	digitsRe     = regexp.MustCompile(`\d+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	titleCaser   = cases.Title(language.Und)
)

// =============================================================================
// TRANSFORMER
// =============================================================================

// Transformer applies the transformation rules of one feed.
type Transformer struct {
	rules map[string][]config.TransformationAction

	// regexes holds the compiled pattern of every regex_replace action.
	regexes map[string]*regexp.Regexp
}

// NewTransformer compiles rules. Rules for the same field are concatenated
// in configuration order.
func NewTransformer(rules []config.TransformationRule) (*Transformer, error) {
	t := &Transformer{
		rules:   make(map[string][]config.TransformationAction),
		regexes: make(map[string]*regexp.Regexp),
	}
	for _, rule := range rules {
		for _, action := range rule.Actions {
			if !knownTransformations[action.Type] {
				return nil, fmt.Errorf("field %q: %w: %s", rule.Field, ErrUnknownTransformation, action.Type)
			}
			if action.Type == "regex_replace" && action.Find != "" {
				if _, ok := t.regexes[action.Find]; !ok {
					re, err := regexp.Compile(action.Find)
					if err != nil {
						return nil, fmt.Errorf("field %q: invalid regex pattern: %w", rule.Field, err)
					}
					t.regexes[action.Find] = re
				}
			}
		}
		t.rules[rule.Field] = append(t.rules[rule.Field], rule.Actions...)
	}
	return t, nil
}

// Empty reports whether there are no rules.
func (t *Transformer) Empty() bool {
	return len(t.rules) == 0
}

// Transform applies the rules for fieldName to value. allFields is the
// untransformed row, used by if_empty_use_field.
func (t *Transformer) Transform(fieldName, value string, allFields map[string]string) (string, error) {
	result := value
	for _, action := range t.rules[fieldName] {
		var err error
		result, err = t.apply(result, action, allFields)
		if err != nil {
			return "", fmt.Errorf("transformation '%s' failed: %w", action.Type, err)
		}
	}
	return result, nil
}

// TransformRow returns a copy of row with every rule applied. Fields with
// rules but no column in the row are treated as empty.
func (t *Transformer) TransformRow(row map[string]string) (map[string]string, error) {
	if t.Empty() {
		return row, nil
	}

	out := make(map[string]string, len(row))
	for k, v := range row {
		out[k] = v
	}
	for field := range t.rules {
		value, err := t.Transform(field, row[field], row)
		if err != nil {
			return nil, fmt.Errorf("error transforming field '%s': %w", field, err)
		}
		out[field] = value
	}
	return out, nil
}

func (t *Transformer) apply(value string, action config.TransformationAction, allFields map[string]string) (string, error) {
	if action.Type == "regex_replace" {
		if action.Find == "" {
			return value, nil
		}
		return t.regexes[action.Find].ReplaceAllString(value, action.Value), nil
	}
	return ApplyTransformation(value, action, allFields)
}

var knownTransformations = map[string]bool{
	"prepend_string": true, "append_string": true,
	"trim": true, "trim_left": true, "trim_right": true,
	"uppercase": true, "lowercase": true, "title_case": true,
	"replace": true, "regex_replace": true, "substring": true,
	"pad_zeros_to_length": true, "ensure_length": true, "remove_leading_zeros": true,
	"sap_sign": true, "decimal_comma": true, "format_number": true,
	"format_date": true,
	"lookup": true, "lookup_with_default": true,
	"if_empty_use_default": true, "if_empty_use_field": true,
	"extract_digits": true, "normalize_whitespace": true,
	"normalize_unicode": true, "strip_accents": true,
}

// ApplyTransformation applies a single transformation action.
func ApplyTransformation(value string, action config.TransformationAction, allFields map[string]string) (string, error) {
	switch action.Type {

	// =========================================================================
	// STRING MANIPULATIONS
	// =========================================================================

	case "prepend_string":
		return action.Value + value, nil

	case "append_string":
		return value + action.Value, nil

	case "trim":
		return strings.TrimSpace(value), nil

	case "trim_left":
		if action.Value != "" {
			return strings.TrimLeft(value, action.Value), nil
		}
		return strings.TrimLeft(value, " \t\n\r"), nil

	case "trim_right":
		if action.Value != "" {
			return strings.TrimRight(value, action.Value), nil
		}
		return strings.TrimRight(value, " \t\n\r"), nil

	case "uppercase":
		return strings.ToUpper(value), nil

	case "lowercase":
		return strings.ToLower(value), nil

	case "title_case":
		return titleCaser.String(strings.ToLower(value)), nil

	case "replace":
		// EXAMPLE:
		//   Input: "1000/2024"
		//   Action: replace with find "/" and value "_"
		//   Output: "1000_2024"
		if action.Find == "" {
			return value, nil
		}
		return strings.ReplaceAll(value, action.Find, action.Value), nil

	case "regex_replace":
		if action.Find == "" {
			return value, nil
		}
		re, err := regexp.Compile(action.Find)
		if err != nil {
			return "", fmt.Errorf("invalid regex pattern: %w", err)
		}
		return re.ReplaceAllString(value, action.Value), nil

	case "substring":
		// VALUE FORMAT: "start,end" (0-indexed runes, end is exclusive)
		parts := strings.Split(action.Value, ",")
		if len(parts) != 2 {
			return value, nil
		}
		start, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
		end, _ := strconv.Atoi(strings.TrimSpace(parts[1]))

		r := []rune(value)
		if start < 0 {
			start = 0
		}
		if end > len(r) {
			end = len(r)
		}
		if start >= end {
			return "", nil
		}
		return string(r[start:end]), nil

	// =========================================================================
	// SAP KEY FORMATTING
	// =========================================================================

	case "pad_zeros_to_length":
		// SAP ALPHA conversion: numeric keys are stored zero-padded.
		//
		// EXAMPLE:
		//   Input: "90000001"
		//   Action: pad_zeros_to_length with value "10"
		//   Output: "0090000001"
		//
		// Keys containing letters are left alone, as SAP does.
		targetLength, err := strconv.Atoi(action.Value)
		if err != nil || targetLength <= 0 {
			return value, nil
		}
		if value == "" || strings.TrimFunc(value, unicode.IsDigit) != "" {
			return value, nil
		}
		return PadLeft(value, targetLength, '0'), nil

	case "ensure_length":
		// Truncate or zero-pad to exactly the given length.
		targetLength, err := strconv.Atoi(action.Value)
		if err != nil || targetLength <= 0 {
			return value, nil
		}
		if chars := []rune(value); len(chars) > targetLength {
			return string(chars[:targetLength]), nil
		}
		return PadLeft(value, targetLength, '0'), nil

	case "remove_leading_zeros":
		// EXAMPLE:
		//   Input: "0090000001"
		//   Output: "90000001"
		if value == "" {
			return value, nil
		}
		result := strings.TrimLeft(value, "0")
		if result == "" {
			return "0", nil
		}
		return result, nil

	// =========================================================================
	// AMOUNT FORMATTING
	// =========================================================================

	case "sap_sign":
		// Move an SAP trailing minus to the front.
		//
		// EXAMPLE:
		//   Input: "12.50-"
		//   Output: "-12.50"
		v := strings.TrimSpace(value)
		if strings.HasSuffix(v, "-") {
			return "-" + strings.TrimSpace(strings.TrimSuffix(v, "-")), nil
		}
		return v, nil

	case "decimal_comma":
		// European number format to a plain decimal.
		//
		// EXAMPLE:
		//   Input: "1.234,56"
		//   Output: "1234.56"
		v := strings.ReplaceAll(strings.TrimSpace(value), ".", "")
		v = strings.ReplaceAll(v, " ", "")
		return strings.Replace(v, ",", ".", 1), nil

	case "format_number":
		// VALUE FORMAT: Number of decimal places.
		// EXAMPLE:
		//   Input: "1234.5"
		//   Action: format_number with value "2"
		//   Output: "1234.50"
		places, err := strconv.Atoi(action.Value)
		if err != nil || places < 0 {
			return value, nil
		}
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return value, nil // Not a number, return as-is
		}
		return d.StringFixed(int32(places)), nil

	// =========================================================================
	// DATE CONVERSIONS
	// =========================================================================

	case "format_date":
		// VALUE FORMAT: "input_format|output_format" (Go layouts)
		//
		// EXAMPLE:
		//   Input: "20240131"
		//   Action: format_date with value "20060102|2006-01-02"
		//   Output: "2024-01-31"
		parts := strings.Split(action.Value, "|")
		if len(parts) != 2 {
			return value, nil
		}
		t, err := time.Parse(strings.TrimSpace(parts[0]), value)
		if err != nil {
			return value, nil
		}
		return t.Format(strings.TrimSpace(parts[1])), nil

	// =========================================================================
	// LOOKUP TABLE REPLACEMENTS
	// =========================================================================

	case "lookup":
		// EXAMPLE:
		//   Input: "ZF2"
		//   Action: lookup with lookup_table {"ZF2": "F2"}
		//   Output: "F2"
		if replacement, exists := action.LookupTable[value]; exists {
			return replacement, nil
		}
		return value, nil

	case "lookup_with_default":
		if replacement, exists := action.LookupTable[value]; exists {
			return replacement, nil
		}
		return action.Value, nil

	case "if_empty_use_default":
		if strings.TrimSpace(value) == "" {
			return action.Value, nil
		}
		return value, nil

	case "if_empty_use_field":
		// VALUE: The name of the field to use.
		if strings.TrimSpace(value) == "" {
			if otherValue, exists := allFields[action.Value]; exists {
				return otherValue, nil
			}
		}
		return value, nil

	// =========================================================================
	// SPECIAL TRANSFORMATIONS
	// =========================================================================

	case "extract_digits":
		return strings.Join(digitsRe.FindAllString(value, -1), ""), nil

	case "normalize_whitespace":
		return strings.TrimSpace(whitespaceRe.ReplaceAllString(value, " ")), nil

	case "normalize_unicode":
		return norm.NFC.String(value), nil

	case "strip_accents":
		// EXAMPLE:
		//   Input: "Müller Café"
		//   Output: "Muller Cafe"
		t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
		out, _, err := transform.String(t, value)
		if err != nil {
			return "", err
		}
		return out, nil

	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownTransformation, action.Type)
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// PadLeft pads a string with a character on the left to reach the target length.
func PadLeft(s string, length int, padChar rune) string {
	n := utf8.RuneCountInString(s)
	if n >= length {
		return s
	}
	return strings.Repeat(string(padChar), length-n) + s
}
