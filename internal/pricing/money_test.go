package pricing_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/invoice-pricing/internal/pricing"
)

func TestRound2(t *testing.T) {
	require.Equal(t, 1062.0, pricing.Round2(1062.0000000001))
	require.Equal(t, 0.13, pricing.Round2(0.125))
	require.Equal(t, -0.13, pricing.Round2(-0.125))
	require.Equal(t, 33.33, pricing.Round2(100.0/3))
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "INR 1062.00", pricing.FormatAmount(1062, "inr"))
	require.Equal(t, "1062.50", pricing.FormatAmount(1062.499999, "not-a-code"))
}

func TestDisplayRoundsOnlyCopies(t *testing.T) {
	b := pricing.ComputeLineItem(3, 0.1, 0, pricing.DiscountPercentage, 0)
	require.NotEqual(t, 0.3, b.Gross)
	d := b.Display()
	require.Equal(t, 0.3, d.Gross)
	require.Equal(t, 0.3, d.LineTotal)
}
