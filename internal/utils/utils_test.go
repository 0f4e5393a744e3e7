package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFormatPrice(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"67012.5":       "67,012.5",
		"67012.499":     "67,012.5",
		"1234567.891":   "1,234,567.89",
		"1":             "1",
		"999.999":       "1,000",
		"0.5":           "0.5",
		"0.000012345":   "0.00001235",
		"0.00000000001": "0",
		"-1234.5":       "-1,234.5",
		"100":           "100",
	}
	for in, want := range tests {
		require.Equal(t, want, FormatPrice(decimal.RequireFromString(in)), in)
	}
}

func TestFormatMoney(t *testing.T) {
	t.Parallel()

	require.Equal(t, "$67,012.5 USD", FormatMoney(decimal.RequireFromString("67012.5"), "usd"))
	require.Equal(t, "€0.25 EUR", FormatMoney(decimal.RequireFromString("0.25"), "EUR"))
	require.Equal(t, "12 CHF", FormatMoney(decimal.RequireFromString("12"), "chf"))
}

func TestFormatPercent(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1.25%", FormatPercent(decimal.RequireFromString("-1.2499")))
	require.Equal(t, "0.00%", FormatPercent(decimal.Zero))
}

func TestToPersianDigits(t *testing.T) {
	t.Parallel()

	require.Equal(t, "۱۲,۳۴۵.۶", ToPersianDigits("12,345.6"))
}

func TestFormatTimestamp(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, "2024-03-01 12:00 UTC", FormatTimestamp(ts, nil, CalendarGregorian))

	tehran, err := LoadLocation("Asia/Tehran")
	require.NoError(t, err)
	require.Equal(t, "1402/12/11 - 15:30", FormatTimestamp(ts, tehran, CalendarJalali))

	_, err = LoadLocation("Not/AZone")
	require.Error(t, err)
}
