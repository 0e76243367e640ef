package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"licensed/internal/license"
	"licensed/internal/lifecycle"
	"licensed/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Engine is the lifecycle surface the bot drives.
type Engine interface {
	ListLicenses() ([]license.License, error)
	GetLicense(key string) (license.License, error)
	Activate(key, machineID, activatedBy string) (license.License, error)
	Deactivate(key, machineID string) (license.License, error)
	Status(key string) (license.Report, error)
}

// botAPI is the subset of *tgbotapi.BotAPI the bot uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	api         botAPI
	adminChatID int64
	engine      Engine
	st          store.Store
	log         *slog.Logger

	mu     sync.Mutex
	states map[int64]pendingState
}

type pendingState string

const (
	stateNone         pendingState = ""
	stateAskInfo      pendingState = "ask_info"
	stateAskStatus    pendingState = "ask_status"
	stateAskActivate  pendingState = "ask_activate"
	stateAskDeactiv   pendingState = "ask_deactivate"
	stateAskRevoke    pendingState = "ask_revoke"
	stateAskReinstate pendingState = "ask_reinstate"
)

// NewBot connects to Telegram. Revocation is an administrative flag on the
// stored record, so the bot also holds the store next to the engine.
func NewBot(token string, adminChatID int64, engine Engine, st store.Store, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = false
	return newBot(api, adminChatID, engine, st, log), nil
}

func newBot(api botAPI, adminChatID int64, engine Engine, st store.Store, log *slog.Logger) *Bot {
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		api:         api,
		adminChatID: adminChatID,
		engine:      engine,
		st:          st,
		log:         log.With(slog.String("component", "telegram")),
		states:      map[int64]pendingState{},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	upd := tgbotapi.NewUpdate(0)
	upd.Timeout = 30
	updates := b.api.GetUpdatesChan(upd)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.CallbackQuery != nil {
				b.handleCallback(u.CallbackQuery)
				continue
			}
			if u.Message != nil {
				b.handleMessage(u.Message)
				continue
			}
		}
	}
}

func (b *Bot) handleMessage(m *tgbotapi.Message) {
	chatID := m.Chat.ID
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}

	// Only admin can manage
	if chatID != b.adminChatID {
		b.log.Warn("rejected message from non-admin chat", slog.Int64("chat_id", chatID))
		b.reply(chatID, "This bot only serves its administrator.")
		return
	}

	if strings.HasPrefix(text, "/") {
		b.setState(chatID, stateNone)
		b.handleCommand(chatID, text)
		return
	}

	args := strings.Fields(text)
	st := b.getState(chatID)
	switch st {
	case stateAskInfo:
		b.setState(chatID, stateNone)
		b.cmdInfo(chatID, args)
	case stateAskStatus:
		b.setState(chatID, stateNone)
		b.cmdStatus(chatID, args)
	case stateAskActivate:
		b.setState(chatID, stateNone)
		b.cmdActivate(chatID, args)
	case stateAskDeactiv:
		b.setState(chatID, stateNone)
		b.cmdDeactivate(chatID, args)
	case stateAskRevoke:
		b.setState(chatID, stateNone)
		b.cmdRevoke(chatID, args, true)
	case stateAskReinstate:
		b.setState(chatID, stateNone)
		b.cmdRevoke(chatID, args, false)
	default:
		b.sendMenu(chatID, "Use the menu buttons or /help.")
		return
	}
	b.sendMenu(chatID, "")
}

func (b *Bot) handleCommand(chatID int64, text string) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	// Commands may arrive as /info@botname in group chats.
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/start", "/menu":
		b.sendMenu(chatID, "License administration")
	case "/help":
		b.reply(chatID, helpText())
	case "/list":
		b.cmdList(chatID)
	case "/info":
		b.cmdInfo(chatID, args)
	case "/status":
		b.cmdStatus(chatID, args)
	case "/activate":
		b.cmdActivate(chatID, args)
	case "/deactivate":
		b.cmdDeactivate(chatID, args)
	case "/revoke":
		b.cmdRevoke(chatID, args, true)
	case "/reinstate":
		b.cmdRevoke(chatID, args, false)
	default:
		b.reply(chatID, "Unknown command. "+helpText())
	}
}

func (b *Bot) handleCallback(q *tgbotapi.CallbackQuery) {
	if q.Message == nil || q.Message.Chat == nil {
		return
	}
	chatID := q.Message.Chat.ID

	// Only admin can manage
	if chatID != b.adminChatID {
		_ = b.answerCallback(q.ID, "Access denied")
		return
	}

	data := strings.TrimSpace(q.Data)
	_ = b.answerCallback(q.ID, "")

	switch {
	case data == "menu":
		b.setState(chatID, stateNone)
		b.sendMenu(chatID, "License administration")
	case data == "list":
		b.setState(chatID, stateNone)
		b.cmdListWithButtons(chatID)
	case data == "ask_info":
		b.setState(chatID, stateAskInfo)
		b.reply(chatID, "Send the license key:")
	case data == "ask_status":
		b.setState(chatID, stateAskStatus)
		b.reply(chatID, "Send the license key:")
	case data == "ask_activate":
		b.setState(chatID, stateAskActivate)
		b.reply(chatID, "Format: <license> <machine> [activated by]\nExample: OPT-PRO-001 ACME-RIG-03 jane.doe")
	case data == "ask_deactivate":
		b.setState(chatID, stateAskDeactiv)
		b.reply(chatID, "Format: <license> <machine>")
	case data == "ask_revoke":
		b.setState(chatID, stateAskRevoke)
		b.reply(chatID, "Send the license key to revoke:")
	case data == "ask_reinstate":
		b.setState(chatID, stateAskReinstate)
		b.reply(chatID, "Send the license key to reinstate:")
	case strings.HasPrefix(data, "info:"):
		b.setState(chatID, stateNone)
		b.cmdInfo(chatID, []string{strings.TrimPrefix(data, "info:")})
		b.sendMenu(chatID, "")
	default:
		b.sendMenu(chatID, "Invalid action")
	}
}

func (b *Bot) sendMenu(chatID int64, title string) {
	if strings.TrimSpace(title) == "" {
		title = "Menu"
	}
	msg := tgbotapi.NewMessage(chatID, title)
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📋 List", "list"),
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ Info", "ask_info"),
			tgbotapi.NewInlineKeyboardButtonData("⏱ Status", "ask_status"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Activate", "ask_activate"),
			tgbotapi.NewInlineKeyboardButtonData("➖ Deactivate", "ask_deactivate"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⛔ Revoke", "ask_revoke"),
			tgbotapi.NewInlineKeyboardButtonData("♻️ Reinstate", "ask_reinstate"),
		),
	)
	b.send(msg)
}

func (b *Bot) cmdListWithButtons(chatID int64) {
	list, err := b.engine.ListLicenses()
	if err != nil {
		b.replyErr(chatID, err)
		return
	}
	if len(list) == 0 {
		b.reply(chatID, "No licenses")
		return
	}

	lines := []string{"Licenses (tap for details):"}
	max := len(list)
	if max > 20 {
		max = 20
	}
	buttons := make([][]tgbotapi.InlineKeyboardButton, 0, max+1)
	for i := 0; i < max; i++ {
		it := list[i]
		lines = append(lines, summaryLine(it))
		// One button per row (keeps callback data short and UI clean)
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ "+shortKey(it.Key), "info:"+it.Key),
		))
	}
	buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("↩️ Menu", "menu"),
	))

	msg := tgbotapi.NewMessage(chatID, strings.Join(lines, "\n"))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	b.send(msg)
}

func shortKey(k string) string {
	// Keep button label short; full key is in callback data.
	r := []rune(strings.TrimSpace(k))
	if len(r) <= 18 {
		return string(r)
	}
	return string(r[:10]) + "..." + string(r[len(r)-6:])
}

func summaryLine(l license.License) string {
	return fmt.Sprintf("- %s | %s | %d/%d | %s", l.Key, l.Tier, len(l.Activations), l.ActivationLimit, l.Status)
}

func (b *Bot) cmdList(chatID int64) {
	list, err := b.engine.ListLicenses()
	if err != nil {
		b.replyErr(chatID, err)
		return
	}
	if len(list) == 0 {
		b.reply(chatID, "No licenses")
		return
	}
	lines := []string{"Licenses:"}
	max := len(list)
	if max > 50 {
		max = 50
	}
	for i := 0; i < max; i++ {
		lines = append(lines, summaryLine(list[i]))
	}
	if len(list) > max {
		lines = append(lines, fmt.Sprintf("... (%d more)", len(list)-max))
	}
	b.reply(chatID, strings.Join(lines, "\n"))
}

func (b *Bot) cmdInfo(chatID int64, args []string) {
	if len(args) != 1 {
		b.reply(chatID, "Usage: /info <license>")
		return
	}
	lic, err := b.engine.GetLicense(args[0])
	if err != nil {
		b.replyErr(chatID, err)
		return
	}
	lines := []string{
		"License: " + lic.Key,
		"Product: " + lic.ProductName,
		"Owner: " + lic.OwnerName,
		"Tier: " + string(lic.Tier),
		"Status: " + string(lic.Status),
		fmt.Sprintf("Activations: %d/%d", len(lic.Activations), lic.ActivationLimit),
		"Issued: " + lic.IssuedAt.Format(time.RFC3339),
		fmt.Sprintf("Expires: %s (%d days left)", lic.ExpiresAt.Format(time.RFC3339), lic.RemainingDays),
		"Notes: " + safeNote(lic.Notes),
	}
	if len(lic.Activations) > 0 {
		lines = append(lines, "Machines:")
		max := len(lic.Activations)
		if max > 30 {
			max = 30
		}
		for i := 0; i < max; i++ {
			a := lic.Activations[i]
			lines = append(lines, fmt.Sprintf("- %s by %s (since %s)", a.MachineID, a.ActivatedBy, a.ActivatedAt.Format(time.RFC3339)))
		}
		if len(lic.Activations) > max {
			lines = append(lines, fmt.Sprintf("... (%d more)", len(lic.Activations)-max))
		}
	}
	b.reply(chatID, strings.Join(lines, "\n"))
}

func (b *Bot) cmdStatus(chatID int64, args []string) {
	if len(args) != 1 {
		b.reply(chatID, "Usage: /status <license>")
		return
	}
	rep, err := b.engine.Status(args[0])
	if err != nil {
		b.replyErr(chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("%s\nStatus: %s\nRemaining days: %d\nExpired: %v",
		license.NormalizeKey(args[0]), rep.Status, rep.RemainingDays, rep.Expired))
}

func (b *Bot) cmdActivate(chatID int64, args []string) {
	if len(args) < 2 || len(args) > 3 {
		b.reply(chatID, "Usage: /activate <license> <machine> [activated by]")
		return
	}
	by := "telegram-admin"
	if len(args) == 3 {
		by = args[2]
	}
	lic, err := b.engine.Activate(args[0], args[1], by)
	if err != nil {
		b.replyErr(chatID, err)
		return
	}
	b.log.Info("machine activated", slog.String("key", lic.Key), slog.String("machine_id", args[1]))
	b.reply(chatID, fmt.Sprintf("OK\n%s\nActivations: %d/%d\nStatus: %s", lic.Key, len(lic.Activations), lic.ActivationLimit, lic.Status))
}

func (b *Bot) cmdDeactivate(chatID int64, args []string) {
	if len(args) != 2 {
		b.reply(chatID, "Usage: /deactivate <license> <machine>")
		return
	}
	lic, err := b.engine.Deactivate(args[0], args[1])
	if err != nil {
		b.replyErr(chatID, err)
		return
	}
	b.log.Info("machine deactivated", slog.String("key", lic.Key), slog.String("machine_id", args[1]))
	b.reply(chatID, fmt.Sprintf("OK\n%s\nActivations: %d/%d\nStatus: %s", lic.Key, len(lic.Activations), lic.ActivationLimit, lic.Status))
}

// cmdRevoke sets or clears the stored revocation flag. This is an
// administrative edit of the record and bypasses the engine on purpose.
func (b *Bot) cmdRevoke(chatID int64, args []string, revoked bool) {
	if len(args) != 1 {
		if revoked {
			b.reply(chatID, "Usage: /revoke <license>")
		} else {
			b.reply(chatID, "Usage: /reinstate <license>")
		}
		return
	}
	lic, err := b.st.WithLicense(args[0], func(l *license.License) error {
		l.Revoked = revoked
		return nil
	})
	if err != nil {
		b.replyErr(chatID, err)
		return
	}
	b.log.Info("revocation changed", slog.String("key", lic.Key), slog.Bool("revoked", revoked))
	rep, err := b.engine.Status(lic.Key)
	if err != nil {
		b.replyErr(chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("OK\n%s\nRevoked: %v\nStatus: %s", lic.Key, lic.Revoked, rep.Status))
}

func (b *Bot) answerCallback(id string, text string) error {
	cb := tgbotapi.NewCallback(id, text)
	_, err := b.api.Request(cb)
	return err
}

func (b *Bot) setState(chatID int64, st pendingState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st == stateNone {
		delete(b.states, chatID)
		return
	}
	b.states[chatID] = st
}

func (b *Bot) getState(chatID int64) pendingState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[chatID]
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	b.send(msg)
}

func (b *Bot) replyErr(chatID int64, err error) {
	b.reply(chatID, "Error: "+describe(err))
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn("send failed", slog.Int64("chat_id", msg.ChatID), slog.String("error", err.Error()))
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return "license not found"
	case errors.Is(err, lifecycle.ErrRevoked):
		return "license is revoked"
	case errors.Is(err, lifecycle.ErrExpired):
		return "license is expired"
	case errors.Is(err, lifecycle.ErrAlreadyActivated):
		return "machine is already activated"
	case errors.Is(err, lifecycle.ErrSlotsExhausted):
		return "no activation slots left"
	case errors.Is(err, lifecycle.ErrNotActivated):
		return "machine is not activated"
	case errors.Is(err, lifecycle.ErrInvalidMachineID):
		return "invalid machine id"
	default:
		return err.Error()
	}
}

func helpText() string {
	return strings.Join([]string{
		"/list",
		"/info <license>",
		"/status <license>",
		"/activate <license> <machine> [activated by]",
		"/deactivate <license> <machine>",
		"/revoke <license>",
		"/reinstate <license>",
		"/menu",
	}, "\n")
}

func safeNote(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	if r := []rune(s); len(r) > 200 {
		return string(r[:200]) + "..."
	}
	return s
}
