// =============================================================================
// Billing Summary - XML Writer Module
// =============================================================================
//
// This module exports finalized result sets as XML. It never recomputes
// anything: amounts are written exactly as the engine and the reconciler
// produced them.
//
// OUTPUT STRUCTURE (billing summary):
//
//   <?xml version="1.0" encoding="UTF-8"?>
//   <billingSummary run="..." groups="2" netTotal="150.00" invoiceTotal="178.50">
//     <group n="1" key="90000001_000010">
//       <document>90000001</document>
//       <item>000010</item>
//       <attributes>
//         <attribute name="customer">C1</attribute>
//       </attributes>
//       <conditions>
//         <condition type="PR00" role="base_price">100</condition>
//       </conditions>
//       <netAmount>100.00</netAmount>
//       <invoiceAmount>119.00</invoiceAmount>
//     </group>
//     <skipped>
//       <line index="7" reason="missing primary key"/>
//     </skipped>
//   </billingSummary>
//
// OUTPUT STRUCTURE (reconciliation):
//
//   <reconciliation run="..." documents="1" grandTotal="119.00">
//     <document n="1" entity="1000" number="0100000001" period="2024">
//       <primaryAmount>100.00</primaryAmount>
//       <tax calculated="true" items="1">
//         <amount>19.00</amount>
//         <baseAmount>100.00</baseAmount>
//       </tax>
//       <grandTotal>119.00</grandTotal>
//     </document>
//   </reconciliation>
//
// =============================================================================

package xmlwriter

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"

	"github.com/ginjaninja78/billing-summary/internal/aggregation"
	"github.com/ginjaninja78/billing-summary/internal/reconcile"
	"github.com/ginjaninja78/billing-summary/internal/taxonomy"
	"github.com/ginjaninja78/billing-summary/internal/types"
)

// =============================================================================
// GENERATION OPTIONS
// =============================================================================

// GenerateOptions contains options for XML generation.
type GenerateOptions struct {
	// Indent is the string used for indentation.
	// Default: "  " (two spaces)
	Indent string

	// IncludeXMLDeclaration adds <?xml version="1.0" encoding="UTF-8"?>.
	// Default: true
	IncludeXMLDeclaration bool

	XMLVersion string
	Encoding   string

	// RootAttributes are additional attributes on the root element.
	RootAttributes map[string]string

	// IndexAttribute is the name of the 1-based position attribute.
	// Default: "n"
	IndexAttribute string

	// IncludeLines writes the source lines of each group or document.
	IncludeLines bool
}

// DefaultGenerateOptions returns the default generation options.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Indent:                "  ",
		IncludeXMLDeclaration: true,
		XMLVersion:            "1.0",
		Encoding:              "UTF-8",
		RootAttributes:        make(map[string]string),
		IndexAttribute:        "n",
	}
}

// =============================================================================
// XML DOCUMENT STRUCTURE
// =============================================================================

// XMLElement is a generic XML element.
type XMLElement struct {
	XMLName    xml.Name
	Attributes []xml.Attr
	Value      string
	Children   []XMLElement
}

func (e *XMLElement) attr(name, value string) *XMLElement {
	e.Attributes = append(e.Attributes, xml.Attr{Name: xml.Name{Local: name}, Value: value})
	return e
}

func (e *XMLElement) child(c XMLElement) {
	e.Children = append(e.Children, c)
}

// =============================================================================
// BILLING SUMMARY
// =============================================================================

// GenerateSummary renders an aggregation result. Conditions are written in
// taxonomy order.
func GenerateSummary(runID string, result *aggregation.Result, tx *taxonomy.Taxonomy, options GenerateOptions) ([]byte, error) {
	if result == nil || tx == nil {
		return nil, fmt.Errorf("xmlwriter: nil result or taxonomy")
	}
	options = withDefaults(options)

	net, invoice := result.Totals()
	root := newElement("billingSummary")
	root.attr("run", runID)
	root.attr("groups", strconv.Itoa(result.Len()))
	root.attr("netTotal", net.StringFixed(2))
	root.attr("invoiceTotal", invoice.StringFixed(2))
	addRootAttributes(&root, options)

	for i, g := range result.Groups {
		root.child(buildGroupElement(i+1, g, tx, options))
	}

	if len(result.Skipped) > 0 {
		skipped := newElement("skipped")
		for _, s := range result.Skipped {
			line := newElement("line")
			line.attr("index", strconv.Itoa(s.Index))
			line.attr("reason", s.Reason)
			skipped.child(line)
		}
		root.child(skipped)
	}

	return render(root, options), nil
}

func buildGroupElement(n int, g *types.AggregatedGroup, tx *taxonomy.Taxonomy, options GenerateOptions) XMLElement {
	el := newElement("group")
	el.attr(options.IndexAttribute, strconv.Itoa(n))
	el.attr("key", string(g.Key))
	if g.MixedMaterials {
		el.attr("mixedMaterials", "true")
	}

	el.child(simpleElement("document", g.PrimaryKey))
	if g.SecondaryKey != "" {
		el.child(simpleElement("item", g.SecondaryKey))
	}
	if g.Material != "" {
		el.child(simpleElement("material", g.Material))
	}
	el.child(simpleElement("quantity", g.Quantity.String()))

	if attrs := buildAttributes(g.Attributes); len(attrs.Children) > 0 {
		el.child(attrs)
	}

	conds := newElement("conditions")
	for _, code := range tx.Codes() {
		rule, _ := tx.Lookup(code)
		c := simpleElement("condition", g.Condition(code).String())
		c.attr("type", code)
		c.attr("role", string(rule.Role))
		conds.child(c)
	}
	el.child(conds)

	el.child(simpleElement("netAmount", g.NetAmount.StringFixed(2)))
	el.child(simpleElement("invoiceAmount", g.InvoiceAmount.StringFixed(2)))

	if !g.Text.IsEmpty() {
		texts := newElement("texts")
		for _, t := range []struct{ name, value string }{
			{"headerText", g.Text.HeaderText},
			{"itemText", g.Text.ItemText},
			{"materialText", g.Text.MaterialText},
			{"customerName", g.Text.CustomerName},
		} {
			if t.value != "" {
				texts.child(simpleElement(t.name, t.value))
			}
		}
		el.child(texts)
	}

	if options.IncludeLines {
		lines := newElement("lines")
		for _, l := range g.Lines {
			line := newElement("line")
			line.attr("index", strconv.Itoa(l.Index))
			line.attr("type", l.ConditionType)
			line.Value = aggregation.CoerceAmount(l.ConditionAmount).String()
			lines.child(line)
		}
		el.child(lines)
	}

	return el
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// GenerateReconciliation renders a reconciliation result.
func GenerateReconciliation(runID string, result *reconcile.Result, options GenerateOptions) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("xmlwriter: nil result")
	}
	options = withDefaults(options)

	root := newElement("reconciliation")
	root.attr("run", runID)
	root.attr("documents", strconv.Itoa(len(result.Documents)))
	root.attr("grandTotal", result.GrandTotal().StringFixed(2))
	addRootAttributes(&root, options)

	for i, doc := range result.Documents {
		root.child(buildDocumentElement(i+1, doc, options))
	}

	if len(result.Unmatched) > 0 {
		unmatched := newElement("unmatched")
		for _, key := range result.Unmatched {
			unmatched.child(keyElement("document", key))
		}
		root.child(unmatched)
	}

	if len(result.Skipped) > 0 {
		skipped := newElement("skipped")
		for _, s := range result.Skipped {
			line := newElement("line")
			line.attr("index", strconv.Itoa(s.Index))
			line.attr("reason", s.Reason)
			skipped.child(line)
		}
		root.child(skipped)
	}

	return render(root, options), nil
}

func buildDocumentElement(n int, doc *types.ReconciledDocument, options GenerateOptions) XMLElement {
	el := keyElement("document", doc.Key)
	el.Attributes = append([]xml.Attr{{Name: xml.Name{Local: options.IndexAttribute}, Value: strconv.Itoa(n)}}, el.Attributes...)
	if doc.Reversed {
		el.attr("reversed", "true")
	}
	if doc.MissingReference {
		el.attr("missingReference", "true")
	}

	if attrs := buildAttributes(doc.Attributes); len(attrs.Children) > 0 {
		el.child(attrs)
	}
	el.child(simpleElement("primaryAmount", doc.PrimaryAmount.StringFixed(2)))

	tax := newElement("tax")
	tax.attr("calculated", strconv.FormatBool(doc.TaxCalculated))
	tax.attr("items", strconv.Itoa(doc.TaxItemCount))
	if doc.HasSecondaryData {
		tax.child(simpleElement("amount", doc.TaxAmount.StringFixed(2)))
		tax.child(simpleElement("baseAmount", doc.TaxBaseAmount.StringFixed(2)))
	}
	el.child(tax)

	el.child(simpleElement("grandTotal", doc.GrandTotal.StringFixed(2)))

	if options.IncludeLines {
		lines := newElement("lines")
		for _, l := range doc.Lines {
			line := newElement("line")
			line.attr("index", strconv.Itoa(l.Index))
			line.Value = aggregation.CoerceAmount(l.TaxableAmount).String()
			lines.child(line)
		}
		el.child(lines)
	}
	return el
}

func keyElement(name string, key types.DocumentKey) XMLElement {
	el := newElement(name)
	el.attr("entity", key.Entity)
	el.attr("number", key.Document)
	el.attr("period", key.Period)
	return el
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func newElement(name string) XMLElement {
	return XMLElement{XMLName: xml.Name{Local: name}}
}

func simpleElement(name, value string) XMLElement {
	return XMLElement{XMLName: xml.Name{Local: name}, Value: value}
}

// buildAttributes writes descriptive attributes sorted by name. Empty
// values are omitted.
func buildAttributes(attrs map[string]string) XMLElement {
	el := newElement("attributes")
	names := make([]string, 0, len(attrs))
	for name, v := range attrs {
		if v != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		a := simpleElement("attribute", attrs[name])
		a.attr("name", name)
		el.child(a)
	}
	return el
}

func addRootAttributes(root *XMLElement, options GenerateOptions) {
	names := make([]string, 0, len(options.RootAttributes))
	for k := range options.RootAttributes {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		root.attr(k, options.RootAttributes[k])
	}
}

func withDefaults(options GenerateOptions) GenerateOptions {
	def := DefaultGenerateOptions()
	if options.Indent == "" {
		options.Indent = def.Indent
	}
	if options.XMLVersion == "" {
		options.XMLVersion = def.XMLVersion
	}
	if options.Encoding == "" {
		options.Encoding = def.Encoding
	}
	if options.IndexAttribute == "" {
		options.IndexAttribute = def.IndexAttribute
	}
	return options
}

// render writes the declaration and the element tree.
func render(root XMLElement, options GenerateOptions) []byte {
	var buffer bytes.Buffer

	if options.IncludeXMLDeclaration {
		buffer.WriteString(fmt.Sprintf("<?xml version=\"%s\" encoding=\"%s\"?>\n",
			options.XMLVersion, options.Encoding))
	}
	writeElement(&buffer, root, options.Indent, 0)
	return buffer.Bytes()
}

// writeElement writes an element and its children recursively.
func writeElement(buffer *bytes.Buffer, element XMLElement, indent string, level int) {
	for i := 0; i < level; i++ {
		buffer.WriteString(indent)
	}

	buffer.WriteString("<")
	buffer.WriteString(element.XMLName.Local)

	for _, attr := range element.Attributes {
		buffer.WriteString(fmt.Sprintf(" %s=\"%s\"", attr.Name.Local, escapeXML(attr.Value)))
	}

	if len(element.Children) == 0 && element.Value == "" {
		buffer.WriteString("/>\n")
		return
	}

	buffer.WriteString(">")

	if element.Value != "" {
		buffer.WriteString(escapeXML(element.Value))
	} else {
		buffer.WriteString("\n")

		for _, child := range element.Children {
			writeElement(buffer, child, indent, level+1)
		}

		for i := 0; i < level; i++ {
			buffer.WriteString(indent)
		}
	}

	buffer.WriteString("</")
	buffer.WriteString(element.XMLName.Local)
	buffer.WriteString(">\n")
}

// escapeXML escapes special characters in XML content.
func escapeXML(s string) string {
	var buffer bytes.Buffer

	for _, r := range s {
		switch r {
		case '&':
			buffer.WriteString("&amp;")
		case '<':
			buffer.WriteString("&lt;")
		case '>':
			buffer.WriteString("&gt;")
		case '"':
			buffer.WriteString("&quot;")
		case '\'':
			buffer.WriteString("&apos;")
		default:
			buffer.WriteRune(r)
		}
	}

	return buffer.String()
}
