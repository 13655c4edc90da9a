// Package telegram pushes reminder notifications to one Telegram chat and,
// when a status provider is set, answers /upcoming in that chat.
package telegram

import (
	"context"
	"errors"
	"html"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "homesched/internal/runtime/supervisor"
	"homesched/internal/transport"
	logx "homesched/pkg/logx"
)

type Config struct {
	Token       string
	ChatID      int64
	ThreadID    int
	ParseMode   string
	PollTimeout time.Duration
	// Upcoming renders the reply to /upcoming. Nil disables polling.
	Upcoming func() string
}

// Sink is a transport.Sender backed by telebot.
type Sink struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

var (
	_ transport.Sender  = (*Sink)(nil)
	_ transport.Starter = (*Sink)(nil)
)

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sink{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b}
	if cfg.Upcoming != nil {
		s.registerHandlers()
	}
	return s, nil
}

func (s *Sink) Name() string { return "telegram" }

func (s *Sink) registerHandlers() {
	reply := func(c tele.Context) error {
		if c.Chat() == nil || c.Chat().ID != s.cfg.ChatID {
			return nil
		}
		text := strings.TrimSpace(s.cfg.Upcoming())
		if text == "" {
			text = "No reminders pending."
		}
		return c.Send(text)
	}
	s.bot.Handle("/upcoming", reply)
	s.bot.Handle("/start", reply)
}

// Start runs the long poller when /upcoming is enabled.
func (s *Sink) Start(ctx context.Context) error {
	if s.cfg.Upcoming == nil {
		return nil
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.sup != nil {
		return nil
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		s.bot.Stop()
	})
	// bot.Start can return on its own in some failure modes; restart it.
	s.sup.GoRestart("telebot.poll", func(c context.Context) error {
		s.log.Info("polling started")
		s.bot.Start()
		s.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (s *Sink) Stop(ctx context.Context) error {
	s.runMu.Lock()
	sup := s.sup
	s.sup = nil
	s.runMu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()

	// Long polls can linger; never hold shutdown for more than the grace.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		s.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, m transport.Message) error {
	text := formatMessage(m, s.cfg.ParseMode)
	chat := &tele.Chat{ID: s.cfg.ChatID}
	for _, chunk := range splitText(text, textLimit, s.cfg.ParseMode) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             s.cfg.ParseMode,
			DisableWebPagePreview: true,
			ThreadID:              s.cfg.ThreadID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// formatMessage joins title and text. Message fields are plain text, so in
// HTML mode they are escaped and the title is set in bold.
func formatMessage(m transport.Message, parseMode string) string {
	title, text := strings.TrimSpace(m.Title), m.Text
	if strings.EqualFold(parseMode, "HTML") {
		text = html.EscapeString(text)
		if title != "" {
			title = "<b>" + html.EscapeString(title) + "</b>"
		}
	}
	if title == "" {
		return text
	}
	return title + "\n" + text
}

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries and, for HTML, never cutting inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	var out []string
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
