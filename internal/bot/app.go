package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Armin-kho/crypto-price-bot/internal/aggregate"
	"github.com/Armin-kho/crypto-price-bot/internal/config"
	"github.com/Armin-kho/crypto-price-bot/internal/db"
	"github.com/Armin-kho/crypto-price-bot/internal/logger"
	"github.com/Armin-kho/crypto-price-bot/internal/observability"
	"github.com/Armin-kho/crypto-price-bot/internal/render"
	"github.com/Armin-kho/crypto-price-bot/internal/sources"
	"github.com/Armin-kho/crypto-price-bot/internal/utils"
)

// Sender is the part of *tgbotapi.BotAPI the bot writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Quoter interface {
	ResolveAndQuote(ctx context.Context, req aggregate.Request) (aggregate.Result, error)
	ValidateFiat(fiat string) (string, error)
	ValidateProvider(name string) (sources.Provider, error)
	SupportedFiats() []string
}

type Prefs interface {
	GetChatPrefs(ctx context.Context, chatID int64) (db.ChatPrefs, bool, error)
	SetChatFiat(ctx context.Context, chatID int64, fiat string) error
	SetChatProvider(ctx context.Context, chatID int64, provider string) error
}

// Session holds a chat's choices. Empty fields fall back to the configured defaults.
type Session struct {
	Fiat     string
	Provider string
}

type App struct {
	cfg     config.Config
	sender  Sender
	botName string
	quoter  Quoter
	prefs   Prefs
	metrics observability.Metrics
	log     *zap.Logger
	loc     *time.Location

	sem chan struct{}
	wg  sync.WaitGroup

	sessMu sync.Mutex
	sess   map[int64]*Session // by chat id
}

type Deps struct {
	Sender  Sender
	BotName string
	Quoter  Quoter
	Prefs   Prefs
	Metrics observability.Metrics
	Log     *zap.Logger
}

func New(cfg config.Config, deps Deps) (*App, error) {
	loc, err := utils.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNoopMetrics()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	workers := cfg.MaxConcurrentRequests
	if workers <= 0 {
		workers = 1
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = 20
	}
	return &App{
		cfg:     cfg,
		sender:  deps.Sender,
		botName: deps.BotName,
		quoter:  deps.Quoter,
		prefs:   deps.Prefs,
		metrics: deps.Metrics,
		log:     deps.Log.Named("bot"),
		loc:     loc,
		sem:     make(chan struct{}, workers),
		sess:    map[int64]*Session{},
	}, nil
}

// Run handles updates until ctx is done or the channel closes, then waits
// for the replies still in flight.
func (a *App) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	defer a.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case a.sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				defer func() { <-a.sem }()
				a.HandleUpdate(ctx, upd)
			}()
		}
	}
}

// HandleUpdate answers one update synchronously.
func (a *App) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	cmd, ok := ParseCommand(msg.Text, a.botName)
	if !ok || cmd.Kind == CommandUnknown {
		return
	}

	start := time.Now()
	log := a.log.With(
		zap.String("request_id", uuid.NewString()),
		zap.Int64("chat_id", msg.Chat.ID),
		zap.Stringer("command", cmd.Kind),
	)
	ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", zap.Any("panic", r))
		}
		a.metrics.CommandHandled(cmd.Kind.String(), time.Since(start))
	}()

	var text string
	switch cmd.Kind {
	case CommandStart, CommandHelp:
		text = a.usage()
	case CommandPrice:
		text = a.onPrice(ctx, log, msg.Chat.ID, cmd.Args)
	case CommandFiat:
		text = a.onFiat(ctx, log, msg.Chat.ID, cmd.Args)
	case CommandSource:
		text = a.onSource(ctx, log, msg.Chat.ID, cmd.Args)
	}
	a.reply(log, msg, text)
}

func (a *App) onPrice(ctx context.Context, log *zap.Logger, chatID int64, args []string) string {
	if len(args) == 0 {
		return "Usage: <code>/price btc eth sol</code>"
	}
	s := a.session(ctx, log, chatID)
	res, err := a.quoter.ResolveAndQuote(ctx, aggregate.Request{Tickers: args, Fiat: s.Fiat, Provider: s.Provider})
	if err != nil {
		var ce *aggregate.ConfigurationError
		if !errors.As(err, &ce) {
			log.Error("price request failed", zap.Error(err))
		}
		return render.Problem(err)
	}
	log.Debug("price request done", zap.Stringer("state", res.State), zap.Int("outcomes", len(res.Outcomes)))
	return render.Render(res.Outcomes, res.Fiat, render.Options{
		Provider:      res.Provider,
		ShowUpdated:   true,
		Location:      a.loc,
		Calendar:      a.cfg.Calendar,
		PersianDigits: a.cfg.PersianDigits,
	})
}

func (a *App) onFiat(ctx context.Context, log *zap.Logger, chatID int64, args []string) string {
	s := a.session(ctx, log, chatID)
	if len(args) == 0 {
		current := s.Fiat
		if current == "" {
			current = a.cfg.DefaultFiat
		}
		return fmt.Sprintf("Current fiat: <b>%s</b>\nAvailable: %s\nUsage: <code>/fiat eur</code>",
			strings.ToUpper(current), strings.ToUpper(strings.Join(a.quoter.SupportedFiats(), ", ")))
	}
	fiat, err := a.quoter.ValidateFiat(args[0])
	if err != nil {
		return render.Problem(err)
	}
	if err := a.prefs.SetChatFiat(ctx, chatID, fiat); err != nil {
		log.Error("save fiat", zap.Error(err))
		return render.Problem(err)
	}
	a.updateSession(chatID, func(s *Session) { s.Fiat = fiat })
	return "✅ Fiat set to <b>" + strings.ToUpper(fiat) + "</b>"
}

func (a *App) onSource(ctx context.Context, log *zap.Logger, chatID int64, args []string) string {
	s := a.session(ctx, log, chatID)
	if len(args) == 0 {
		current := sources.Provider(s.Provider)
		if current == "" {
			current = sources.Provider(a.cfg.DefaultProvider)
		}
		names := make([]string, 0, len(sources.Providers))
		for _, p := range sources.Providers {
			names = append(names, string(p))
		}
		return fmt.Sprintf("Current source: <b>%s</b>\nAvailable: %s\nUsage: <code>/source binance</code>",
			current.Title(), strings.Join(names, ", "))
	}
	p, err := a.quoter.ValidateProvider(args[0])
	if err != nil {
		return render.Problem(err)
	}
	if err := a.prefs.SetChatProvider(ctx, chatID, string(p)); err != nil {
		log.Error("save source", zap.Error(err))
		return render.Problem(err)
	}
	a.updateSession(chatID, func(s *Session) { s.Provider = string(p) })
	return "✅ Source set to <b>" + p.Title() + "</b>"
}

func (a *App) usage() string {
	return strings.Join([]string{
		"<b>Crypto price bot</b>",
		"",
		"<code>/price btc eth</code> quotes one or more tickers",
		"<code>/fiat eur</code> changes the quote currency for this chat",
		"<code>/source binance</code> switches between coingecko and binance",
	}, "\n")
}

// session returns a copy of the chat's session, loading stored prefs on first use.
func (a *App) session(ctx context.Context, log *zap.Logger, chatID int64) Session {
	a.sessMu.Lock()
	s, ok := a.sess[chatID]
	a.sessMu.Unlock()
	if ok {
		return *s
	}

	loaded := Session{}
	p, found, err := a.prefs.GetChatPrefs(ctx, chatID)
	switch {
	case err != nil:
		// Not cached, so the next request tries the store again.
		log.Warn("load chat prefs", zap.Error(err))
		return loaded
	case found:
		loaded.Fiat, loaded.Provider = p.Fiat, p.Provider
	}

	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	if s, ok := a.sess[chatID]; ok {
		return *s
	}
	a.sess[chatID] = &loaded
	return loaded
}

func (a *App) updateSession(chatID int64, fn func(*Session)) {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	s, ok := a.sess[chatID]
	if !ok {
		s = &Session{}
		a.sess[chatID] = s
	}
	fn(s)
}

func (a *App) reply(log *zap.Logger, to *tgbotapi.Message, text string) {
	if text == "" {
		return
	}
	msg := tgbotapi.NewMessage(to.Chat.ID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	msg.ReplyToMessageID = to.MessageID
	if _, err := a.sender.Send(msg); err != nil {
		log.Warn("send reply", zap.Error(err))
	}
}
