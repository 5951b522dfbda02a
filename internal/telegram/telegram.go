// Package telegram delivers digests to the group chat and handles bot
// updates: new members, admin commands and language preferences.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/deusflow/ottpulse/internal/logger"
	"github.com/deusflow/ottpulse/internal/metrics"
	"github.com/deusflow/ottpulse/internal/movies"
)

// ErrDelivery wraps every failed send.
var ErrDelivery = errors.New("delivery failure")

const DefaultWelcome = "Welcome to OTT Pulse! Every week we post the best new streaming releases across Indian, international and Korean cinema."

// Audience is the part of the persisted state the update handlers touch.
type Audience interface {
	AddMember(id int64, joinedAt time.Time) bool
	SetLanguage(id int64, lang string)
	AdminID() int64
	SetAdminIfUnset(id int64) bool
	Save(ctx context.Context) error
}

type Options struct {
	Token  string
	ChatID string
	// APIEndpoint overrides tgbotapi.APIEndpoint, mainly for tests.
	APIEndpoint string
	Client      *http.Client

	// AdminID from configuration takes precedence over a stored admin.
	AdminID        int64
	WelcomeMessage string
	Audience       Audience
	Metrics        *metrics.Metrics

	// Trigger starts a digest cycle on /digest.
	Trigger func() error
}

type Bot struct {
	api  *tgbotapi.BotAPI
	opts Options
	now  func() time.Time
}

// New authorizes the bot with getMe.
func New(opts Options) (*Bot, error) {
	if opts.Token == "" || opts.ChatID == "" {
		return nil, fmt.Errorf("%w: token and chat id are required", ErrDelivery)
	}
	if opts.APIEndpoint == "" {
		opts.APIEndpoint = tgbotapi.APIEndpoint
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 90 * time.Second}
	}
	if opts.WelcomeMessage == "" {
		opts.WelcomeMessage = DefaultWelcome
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global
	}

	api, err := tgbotapi.NewBotAPIWithClient(opts.Token, opts.APIEndpoint, opts.Client)
	if err != nil {
		return nil, fmt.Errorf("telegram authorization failed: %w", err)
	}
	logger.Info("Authorized on Telegram", "username", api.Self.UserName, "id", api.Self.ID)

	return &Bot{api: api, opts: opts, now: time.Now}, nil
}

// SendDigest posts text to the group as HTML with link previews disabled.
// It does not retry.
func (b *Bot) SendDigest(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	msg := b.groupMessage(text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	sent, err := b.api.Send(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	logger.Info("Digest delivered", "chat", b.opts.ChatID, "message_id", sent.MessageID)
	return nil
}

// groupMessage addresses the configured chat, which is either a numeric id
// or a public channel username.
func (b *Bot) groupMessage(text string) tgbotapi.MessageConfig {
	if id, err := strconv.ParseInt(b.opts.ChatID, 10, 64); err == nil {
		return tgbotapi.NewMessage(id, text)
	}
	username := b.opts.ChatID
	if !strings.HasPrefix(username, "@") {
		username = "@" + username
	}
	return tgbotapi.NewMessageToChannel(username, text)
}

// Listen long-polls for updates until ctx is done.
func (b *Bot) Listen(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	logger.Info("Listening for Telegram updates")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate dispatches one update. Failures are logged, never returned.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}

	if len(msg.NewChatMembers) > 0 {
		b.welcome(ctx, msg)
		return
	}
	if !msg.IsCommand() {
		return
	}

	switch msg.Command() {
	case "start", "help":
		b.reply(msg, helpText)
	case "setadmin":
		b.setAdmin(ctx, msg)
	case "broadcast":
		b.broadcast(msg)
	case "lang":
		b.setLanguage(ctx, msg)
	case "digest":
		b.digest(msg)
	default:
		logger.Debug("Ignoring unknown command", "command", msg.Command(), "chat", msg.Chat.ID)
	}
}

const helpText = `OTT Pulse posts a weekly digest of new streaming releases.

/lang <code> - set your preferred language (hi, ta, te, kn, ml, en, ko)
/setadmin - claim the admin role when none is set
/broadcast <text> - admin: post a message to the group
/digest - admin: run the digest now`

func (b *Bot) welcome(ctx context.Context, msg *tgbotapi.Message) {
	var names []string
	registered := 0
	for _, m := range msg.NewChatMembers {
		if m.IsBot {
			continue
		}
		names = append(names, displayName(m))
		if b.opts.Audience != nil && b.opts.Audience.AddMember(m.ID, b.now()) {
			registered++
			b.opts.Metrics.IncrementMembersRegistered()
		}
	}
	if len(names) == 0 {
		return
	}

	if registered > 0 {
		b.save(ctx)
	}
	logger.Info("New members joined", "count", len(names), "registered", registered, "chat", msg.Chat.ID)
	b.send(tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("Hi %s! %s", strings.Join(names, ", "), b.opts.WelcomeMessage)))
}

func (b *Bot) setAdmin(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if b.opts.AdminID != 0 || b.opts.Audience == nil || !b.opts.Audience.SetAdminIfUnset(msg.From.ID) {
		b.reply(msg, "An admin is already configured.")
		return
	}
	b.save(ctx)
	logger.Info("Admin claimed", "user", msg.From.ID)
	b.reply(msg, "You are now the admin of this bot.")
}

func (b *Bot) broadcast(msg *tgbotapi.Message) {
	if !b.isAdmin(msg) {
		b.reply(msg, "Only the admin can broadcast.")
		return
	}
	text := strings.TrimSpace(msg.CommandArguments())
	if text == "" {
		b.reply(msg, "Usage: /broadcast <text>")
		return
	}
	if _, err := b.api.Send(b.groupMessage(text)); err != nil {
		logger.Error("Broadcast failed", "error", err)
		b.opts.Metrics.IncrementDeliveryFailures()
		b.reply(msg, "Broadcast failed.")
		return
	}
	b.reply(msg, "Broadcast sent.")
}

var languageCodes = map[string]movies.Language{
	"hi": movies.Hindi,
	"ta": movies.Tamil,
	"te": movies.Telugu,
	"kn": movies.Kannada,
	"ml": movies.Malayalam,
	"en": movies.English,
	"ko": movies.Korean,
}

// ParseLanguageCode accepts a two-letter code or a language name.
func ParseLanguageCode(s string) (movies.Language, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if lang, ok := languageCodes[s]; ok {
		return lang, true
	}
	if lang := movies.ParseLanguage(s); lang != movies.Mixed {
		return lang, true
	}
	return "", false
}

func (b *Bot) setLanguage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || b.opts.Audience == nil {
		return
	}
	lang, ok := ParseLanguageCode(msg.CommandArguments())
	if !ok {
		b.reply(msg, "Usage: /lang <code>, one of hi, ta, te, kn, ml, en, ko")
		return
	}
	if b.opts.Audience.AddMember(msg.From.ID, b.now()) {
		b.opts.Metrics.IncrementMembersRegistered()
	}
	b.opts.Audience.SetLanguage(msg.From.ID, string(lang))
	b.save(ctx)
	b.reply(msg, fmt.Sprintf("Preferred language set to %s.", lang))
}

func (b *Bot) digest(msg *tgbotapi.Message) {
	if !b.isAdmin(msg) {
		b.reply(msg, "Only the admin can start a digest.")
		return
	}
	if b.opts.Trigger == nil {
		b.reply(msg, "Digest scheduling is not available.")
		return
	}
	if err := b.opts.Trigger(); err != nil {
		b.reply(msg, "A digest cycle is already running.")
		return
	}
	b.reply(msg, "Digest cycle started.")
}

func (b *Bot) isAdmin(msg *tgbotapi.Message) bool {
	if msg.From == nil {
		return false
	}
	admin := b.opts.AdminID
	if admin == 0 && b.opts.Audience != nil {
		admin = b.opts.Audience.AdminID()
	}
	return admin != 0 && msg.From.ID == admin
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	b.send(out)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		logger.Warn("Telegram send failed", "error", err)
	}
}

func (b *Bot) save(ctx context.Context) {
	if err := b.opts.Audience.Save(ctx); err != nil {
		logger.Warn("Failed to persist bot state", "error", err)
	}
}

func displayName(u tgbotapi.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return "there"
}
