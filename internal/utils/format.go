package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

var persianDigits = map[rune]rune{
	'0': '۰',
	'1': '۱',
	'2': '۲',
	'3': '۳',
	'4': '۴',
	'5': '۵',
	'6': '۶',
	'7': '۷',
	'8': '۸',
	'9': '۹',
}

func ToPersianDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		if pr, ok := persianDigits[r]; ok {
			b.WriteRune(pr)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var one = decimal.NewFromInt(1)

// FormatPrice keeps 8 decimals below 1 and 2 otherwise, drops trailing
// zeros and groups the integer part: 67012.5, 1,234,567.89, 0.00001234.
func FormatPrice(d decimal.Decimal) string {
	places := int32(2)
	if d.Abs().LessThan(one) {
		places = 8
	}
	s := d.Round(places).StringFixed(places)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return groupThousands(s)
}

// FormatPercent renders a percentage with two decimals and no sign.
func FormatPercent(d decimal.Decimal) string {
	return d.Abs().StringFixed(2) + "%"
}

var fiatSigns = map[string]string{
	"usd": "$",
	"eur": "€",
	"gbp": "£",
	"jpy": "¥",
	"try": "₺",
	"brl": "R$",
	"rub": "₽",
	"inr": "₹",
}

// FormatMoney prefixes the currency sign when one is known and always
// suffixes the upper-case code.
func FormatMoney(d decimal.Decimal, fiat string) string {
	fiat = strings.ToLower(fiat)
	return fiatSigns[fiat] + FormatPrice(d) + " " + strings.ToUpper(fiat)
}

func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if len(intPart) <= 3 {
		return sign + s
	}

	var b strings.Builder
	b.Grow(len(s) + len(s)/3 + 1)
	b.WriteString(sign)
	rem := len(intPart) % 3
	if rem == 0 {
		rem = 3
	}
	b.WriteString(intPart[:rem])
	for i := rem; i < len(intPart); i += 3 {
		b.WriteByte(',')
		b.WriteString(intPart[i : i+3])
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}
