package cmd

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0.00"},
		{"1234.5", "1,234.50"},
		{"-98765.432", "-98,765.43"},
		{"1000000", "1,000,000.00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, formatAmount(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestCenter(t *testing.T) {
	assert.Equal(t, "  ab", center("ab", 6))
	assert.Equal(t, "abcdef", center("abcdef", 4))
}
