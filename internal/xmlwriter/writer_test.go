package xmlwriter

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/billing-summary/internal/aggregation"
	"github.com/ginjaninja78/billing-summary/internal/reconcile"
	"github.com/ginjaninja78/billing-summary/internal/taxonomy"
	"github.com/ginjaninja78/billing-summary/internal/types"
)

func summaryResult(t *testing.T) *aggregation.Result {
	t.Helper()
	items := []types.RawLineItem{
		{PrimaryKey: "90000001", SecondaryKey: "000010", ConditionType: "PR00", ConditionAmount: "100", Attributes: map[string]string{"customer": "Smith & Sons"}},
		{PrimaryKey: "90000001", SecondaryKey: "000010", ConditionType: "MWST", ConditionAmount: "19"},
		{PrimaryKey: "90000002", SecondaryKey: "000010", ConditionType: "PR00", ConditionAmount: "50.005"},
		{PrimaryKey: "", ConditionType: "PR00", ConditionAmount: "1"},
	}
	for i := range items {
		items[i].Index = i
	}
	res, err := aggregation.Aggregate(items, taxonomy.Default(), aggregation.Options{ClampNegative: true})
	require.NoError(t, err)
	return res
}

func TestGenerateSummary(t *testing.T) {
	res := summaryResult(t)
	res.AttachText(map[types.GroupKey]types.TextRecord{"90000001_000010": {HeaderText: "<urgent>"}})

	opts := DefaultGenerateOptions()
	opts.RootAttributes["source"] = "billing.csv"
	out, err := GenerateSummary("run-1", res, taxonomy.Default(), opts)
	require.NoError(t, err)
	doc := string(out)

	assert.True(t, strings.HasPrefix(doc, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, doc, `<billingSummary run="run-1" groups="2" netTotal="150.01" invoiceTotal="169.01" source="billing.csv">`)
	assert.Contains(t, doc, `<group n="1" key="90000001_000010">`)
	assert.Contains(t, doc, `<attribute name="customer">Smith &amp; Sons</attribute>`)
	assert.Contains(t, doc, `<condition type="MWST" role="tax">19</condition>`)
	assert.Contains(t, doc, `<invoiceAmount>119.00</invoiceAmount>`)
	assert.Contains(t, doc, `<headerText>&lt;urgent&gt;</headerText>`)
	assert.Contains(t, doc, `<condition type="PR00" role="base_price">50.01</condition>`)
	assert.Contains(t, doc, `<line index="3" reason=`)
	assert.NotContains(t, doc, "<lines>")

	var parsed struct {
		XMLName xml.Name
		Groups  []struct {
			Key string `xml:"key,attr"`
		} `xml:"group"`
	}
	require.NoError(t, xml.Unmarshal(out, &parsed))
	assert.Equal(t, "billingSummary", parsed.XMLName.Local)
	require.Len(t, parsed.Groups, 2)
	assert.Equal(t, "90000002_000010", parsed.Groups[1].Key)
}

func TestGenerateSummary_IncludeLines(t *testing.T) {
	opts := DefaultGenerateOptions()
	opts.IncludeLines = true
	opts.IncludeXMLDeclaration = false

	out, err := GenerateSummary("run-2", summaryResult(t), taxonomy.Default(), opts)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "<billingSummary"))
	assert.Contains(t, string(out), `<line index="1" type="MWST">19</line>`)
}

func TestGenerateSummary_NilResult(t *testing.T) {
	_, err := GenerateSummary("x", nil, taxonomy.Default(), DefaultGenerateOptions())
	assert.Error(t, err)
}

func TestGenerateReconciliation(t *testing.T) {
	key := types.DocumentKey{Entity: "1000", Document: "0100000001", Period: "2024"}
	orphan := types.DocumentKey{Entity: "1000", Document: "0100000099", Period: "2024"}
	res := reconcile.New(nil).Reconcile(
		[]types.PrimaryLine{
			{Key: key, TaxableAmount: "60", Reversed: true},
			{Key: key, TaxableAmount: "40"},
			{Index: 2, Key: types.DocumentKey{Entity: "1000"}},
		},
		[]types.SecondaryItem{
			{Key: key, TaxAmount: "19", TaxBaseAmount: "100"},
			{Key: orphan, TaxAmount: "5"},
		},
	)

	out, err := GenerateReconciliation("run-3", res, DefaultGenerateOptions())
	require.NoError(t, err)
	doc := string(out)

	assert.Contains(t, doc, `<reconciliation run="run-3" documents="1" grandTotal="119.00">`)
	assert.Contains(t, doc, `<document n="1" entity="1000" number="0100000001" period="2024" reversed="true" missingReference="true">`)
	assert.Contains(t, doc, `<primaryAmount>100.00</primaryAmount>`)
	assert.Contains(t, doc, `<tax calculated="true" items="1">`)
	assert.Contains(t, doc, `<amount>19.00</amount>`)
	assert.Contains(t, doc, `<document entity="1000" number="0100000099" period="2024"/>`)
	assert.Contains(t, doc, `<line index="2" reason=`)
}

func TestEscapeXML(t *testing.T) {
	assert.Equal(t, "a &amp; b &lt;c&gt; &quot;d&quot; &apos;e&apos;", escapeXML(`a & b <c> "d" 'e'`))
}
