package currency_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/seva-labs/paygate/internal/currency"
)

func TestMinorUnits(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		amount   string
		code     string
		expected int64
	}{
		{name: "two decimal default", amount: "10.00", code: "EUR", expected: 1000},
		{name: "truncates excess precision", amount: "19.999", code: "EUR", expected: 1999},
		{name: "zero decimal truncates fraction", amount: "100.5", code: "JPY", expected: 100},
		{name: "zero decimal whole", amount: "100", code: "KRW", expected: 100},
		{name: "three decimal", amount: "5", code: "BHD", expected: 5000},
		{name: "three decimal with fraction", amount: "1.2345", code: "KWD", expected: 1234},
		{name: "lowercase code", amount: "2.50", code: "eur", expected: 250},
		{name: "negative amount", amount: "-3.33", code: "USD", expected: -333},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			amount, err := decimal.NewFromString(tc.amount)
			require.NoError(t, err)
			require.Equal(t, tc.expected, currency.MinorUnits(amount, tc.code))
		})
	}
}

func TestDecimals(t *testing.T) {
	t.Parallel()

	require.EqualValues(t, 0, currency.Decimals("JPY"))
	require.EqualValues(t, 0, currency.Decimals(" vnd "))
	require.EqualValues(t, 3, currency.Decimals("OMR"))
	require.EqualValues(t, 2, currency.Decimals("EUR"))
	require.EqualValues(t, 2, currency.Decimals("XYZ"))
}

func TestParseMinorUnits(t *testing.T) {
	t.Parallel()

	value, err := currency.ParseMinorUnits("333.33", "EUR")
	require.NoError(t, err)
	require.EqualValues(t, 33333, value)

	_, err = currency.ParseMinorUnits("not-a-number", "EUR")
	require.Error(t, err)
}
