// Package telegram delivers notifications through the Telegram Bot API.
// The adapter is send-only: it never polls for updates.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "subwatch/internal/transport"
	logx "subwatch/pkg/logx"
)

type Config struct {
	Token   string
	URL     string        // Bot API base; empty means api.telegram.org
	Timeout time.Duration // per HTTP call
	Offline bool          // skip the getMe handshake
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	mu      sync.Mutex
	stopped bool
}

var ErrStopped = errors.New("telegram adapter stopped")

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.URL,
		Client:  &http.Client{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if b.Me != nil && b.Me.Username != "" {
		log.Info("telegram bot ready", logx.String("username", b.Me.Username))
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Name() string { return "telegram" }

// Stop rejects further sends. In-flight sends are bounded by the HTTP timeout.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
	a.log.Debug("telegram adapter stopped")
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()
	if stopped {
		return kit.MessageRef{}, ErrStopped
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range splitMessage(text, textLimit, strings.EqualFold(opt.ParseMode, string(tele.ModeHTML))) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}
