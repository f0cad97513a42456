package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow, color.Bold)
	red    = color.New(color.FgRed)

	// amounts formats totals with digit grouping.
	amounts = message.NewPrinter(language.English)
)

func header(text string) {
	line := strings.Repeat("=", 60)
	green.Printf("\n%s\n", line)
	green.Printf("%-60s\n", center(text, 60))
	green.Printf("%s\n\n", line)
}

func step(stepNum, totalSteps int, text string) {
	yellow.Printf("[%d/%d] %s\n", stepNum, totalSteps, text)
}

func success(text string) {
	green.Printf("  → %s\n", text)
}

func info(text string) {
	fmt.Printf("  → %s\n", text)
}

func warning(text string) {
	yellow.Printf("  ⚠ %s\n", text)
}

func failure(text string) {
	red.Printf("Error: %s\n", text)
}

// formatAmount renders d with two decimals and thousands separators.
func formatAmount(d decimal.Decimal) string {
	return amounts.Sprintf("%.2f", d.Round(2).InexactFloat64())
}

func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	padding := (width - len(text)) / 2
	return strings.Repeat(" ", padding) + text
}
