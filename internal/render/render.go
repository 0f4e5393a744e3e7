package render

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Armin-kho/crypto-price-bot/internal/aggregate"
	"github.com/Armin-kho/crypto-price-bot/internal/sources"
	"github.com/Armin-kho/crypto-price-bot/internal/utils"
)

type Options struct {
	// Provider is the one the request asked for; quotes from another one are tagged.
	Provider sources.Provider

	ShowUpdated   bool
	Location      *time.Location
	Calendar      string
	PersianDigits bool
}

// Render turns outcomes into a Telegram HTML reply, one line per ticker in order.
func Render(outcomes []aggregate.Outcome, fiat string, opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Source:</b> %s | <b>Fiat:</b> %s\n", opts.Provider.Title(), escape(strings.ToUpper(fiat)))

	var oldest time.Time
	for _, o := range outcomes {
		b.WriteString(code(o.Ticker.Raw))
		b.WriteString(": ")
		switch o.Kind {
		case aggregate.OutcomeQuote:
			b.WriteString(quoteLine(o.Quote, opts))
			if oldest.IsZero() || o.Quote.FetchedAt.Before(oldest) {
				oldest = o.Quote.FetchedAt
			}
		case aggregate.OutcomeProviderError:
			b.WriteString("⚠️ ")
			b.WriteString(escape(Reason(o.Err, fiat)))
		default:
			b.WriteString("unknown symbol")
		}
		b.WriteByte('\n')
	}

	if opts.ShowUpdated && !oldest.IsZero() {
		stamp := utils.FormatTimestamp(oldest, opts.Location, opts.Calendar)
		if opts.PersianDigits {
			stamp = utils.ToPersianDigits(stamp)
		}
		fmt.Fprintf(&b, "\n<i>Updated %s</i>", escape(stamp))
	}
	return strings.TrimRight(b.String(), "\n")
}

func quoteLine(q aggregate.Quote, opts Options) string {
	money := utils.FormatMoney(q.Price, q.Fiat)
	if opts.PersianDigits {
		money = utils.ToPersianDigits(money)
	}
	line := escape(money)
	if q.Change24h != nil {
		arrow := "▲"
		if q.Change24h.IsNegative() {
			arrow = "▼"
		}
		pct := utils.FormatPercent(*q.Change24h)
		if opts.PersianDigits {
			pct = utils.ToPersianDigits(pct)
		}
		line += " (" + arrow + " " + pct + ")"
	}
	if opts.Provider != "" && q.Provider != opts.Provider {
		line += " <i>via " + escape(q.Provider.Title()) + "</i>"
	}
	return line
}

// Reason is the user-facing text for a provider failure. It never carries
// upstream detail.
func Reason(err *sources.ProviderError, fiat string) string {
	if err == nil {
		return "price unavailable"
	}
	name := err.Provider.Title()
	switch err.Kind {
	case sources.Unreachable:
		return name + " is unavailable right now, try again later"
	case sources.RateLimited:
		return name + " rate limit reached, try again in a minute"
	case sources.UnsupportedFiat:
		return name + " does not quote " + strings.ToUpper(fiat)
	case sources.MalformedResponse:
		return name + " sent an unexpected answer"
	}
	return "price unavailable"
}

// Problem explains a rejected request.
func Problem(err error) string {
	var ce *aggregate.ConfigurationError
	if errors.As(err, &ce) {
		return "⚠️ " + escape(ce.Error())
	}
	return "⚠️ Something went wrong, please try again."
}

func code(s string) string {
	return "<code>" + escape(s) + "</code>"
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}
