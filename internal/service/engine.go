package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"anonrelay/internal/errors"
	"anonrelay/internal/l10n"
	"anonrelay/internal/models"
	"anonrelay/internal/privacy"
	"anonrelay/pkg/transport"

	"github.com/sirupsen/logrus"
)

// Engine routes gateway events to the services. It owns no state of its own
// beyond the media group aggregator.
type Engine struct {
	registry   Registry
	dispatcher Dispatcher
	allocator  Allocator
	composer   *Composer
	admin      *Admin
	aggregator *Aggregator
	client     transport.Client
	catalog    *l10n.Catalog
	logger     *logrus.Logger

	botUsername string
}

// EngineOptions configures a new engine.
type EngineOptions struct {
	Registry       Registry
	Dispatcher     Dispatcher
	Allocator      Allocator
	Composer       *Composer
	Admin          *Admin
	Client         transport.Client
	Catalog        *l10n.Catalog
	Logger         *logrus.Logger
	BotUsername    string
	AlbumLatencyMs int
}

func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		registry:    opts.Registry,
		dispatcher:  opts.Dispatcher,
		allocator:   opts.Allocator,
		composer:    opts.Composer,
		admin:       opts.Admin,
		client:      opts.Client,
		catalog:     opts.Catalog,
		logger:      opts.Logger,
		botUsername: opts.BotUsername,
	}

	e.aggregator = NewAggregator(opts.AlbumLatencyMs, e.flushAlbum, opts.Logger)
	return e
}

// Aggregator exposes the media group aggregator for shutdown flushing.
func (e *Engine) Aggregator() *Aggregator {
	return e.aggregator
}

// HandleMessage processes one inbound message event.
func (e *Engine) HandleMessage(ctx context.Context, ev transport.MessageEvent) error {
	if ev.Command != "" {
		return e.handleCommand(ctx, ev)
	}

	lang := e.language(ctx, ev.SenderID)

	// Cooldown value input takes priority over compose content.
	if e.composer.Draft(ev.SenderID).Phase == models.PhaseAwaitingCooldown {
		return e.handleCooldownInput(ctx, ev, lang)
	}
	if e.composer.Draft(ev.SenderID).Phase == models.PhaseCustomizingDraw {
		if ev.Text != "" {
			if err := e.composer.UpdateDraw(ev.SenderID, func(d *models.DrawSettings) {
				d.Text = ev.Text
			}); err != nil {
				return err
			}
			return e.composer.RefreshDraw(ctx, ev.SenderID, ev.ChatID)
		}
		if ev.Media != nil && ev.Media.ContentRef != "" {
			ref := ev.Media.ContentRef
			if err := e.composer.UpdateDraw(ev.SenderID, func(d *models.DrawSettings) {
				d.CustomBGPath = ref
				d.UseBG = true
			}); err != nil {
				return err
			}
			return e.composer.RefreshDraw(ctx, ev.SenderID, ev.ChatID)
		}
	}

	// A reply to a relayed copy opens a reply session toward its sender.
	if ev.ReplyToID != nil {
		link, err := e.dispatcher.ResolveReply(ctx, *ev.ReplyToID, ev.ChatID)
		if err != nil {
			return err
		}
		if link != nil {
			if _, err := e.composer.Begin(ctx, ev.SenderID, link.SenderID, link); err != nil {
				return err
			}
			if ev.Text == "" && ev.Media == nil && ev.Poll == nil {
				pseudonym, err := e.dispatcher.RevealPseudonym(ctx, ev.SenderID, *ev.ReplyToID, ev.ChatID)
				if err != nil {
					return err
				}
				_, err = e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "compose.prompt_reply", map[string]string{
					"pseudonym": pseudonym,
				}), nil)
				return err
			}
		}
	}

	if e.composer.Draft(ev.SenderID).Phase != models.PhaseWritingMessage {
		_, err := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "compose.no_target", nil), nil)
		return err
	}

	switch {
	case ev.Media != nil:
		e.aggregator.Observe(ev)
		return nil
	case ev.Poll != nil:
		return e.submitPoll(ctx, ev, lang)
	case ev.Text != "":
		return e.composer.SubmitText(ctx, ev)
	default:
		return nil
	}
}

// HandleCallback processes an inline keyboard press.
func (e *Engine) HandleCallback(ctx context.Context, ev transport.CallbackEvent) error {
	switch {
	case ev.Data == "confirm:send":
		return e.composer.Confirm(ctx, ev)
	case ev.Data == "confirm:cancel":
		return e.composer.Cancel(ctx, ev)
	case ev.Data == "confirm:original":
		return e.composer.SendOriginal(ctx, ev)
	case strings.HasPrefix(ev.Data, "block:"):
		return e.handleBlockCallback(ctx, ev)
	case strings.HasPrefix(ev.Data, "set:"):
		return e.handleSettingsCallback(ctx, ev)
	case strings.HasPrefix(ev.Data, "draw:"):
		return e.handleDrawCallback(ctx, ev)
	default:
		e.logger.WithField("data", ev.Data).Debug("Unknown callback")
		return e.client.AnswerCallback(ctx, ev.CallbackID, "")
	}
}

// HandleReaction mirrors reactions across the relay.
func (e *Engine) HandleReaction(ctx context.Context, ev transport.ReactionEvent) error {
	return e.dispatcher.RelayReaction(ctx, ev)
}

// HandlePollAnswer routes poll votes back to the poll's sender.
func (e *Engine) HandlePollAnswer(ctx context.Context, ev transport.PollAnswerEvent) error {
	return e.dispatcher.RelayPollAnswer(ctx, ev)
}

func (e *Engine) handleCommand(ctx context.Context, ev transport.MessageEvent) error {
	lang := e.language(ctx, ev.SenderID)

	switch ev.Command {
	case "start":
		return e.handleStart(ctx, ev, lang)
	case "cancel":
		target := e.composer.Draft(ev.SenderID).TargetID
		e.composer.Reset(ev.SenderID)
		if target != 0 {
			if err := e.allocator.Release(ctx, ev.SenderID, target); err != nil {
				e.logger.WithError(err).Warn("Failed to release pair session")
			}
		}
		_, err := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "compose.cancelled", nil), nil)
		return err
	case "block":
		return e.handleBlock(ctx, ev, lang)
	case "unblock":
		return e.handleUnblock(ctx, ev, lang)
	case "blocks":
		return e.handleBlockList(ctx, ev, lang)
	case "settings":
		return e.sendSettings(ctx, ev.SenderID, ev.ChatID, lang)
	case "report":
		return e.handleReport(ctx, ev, lang)
	case "draw":
		return e.handleDraw(ctx, ev, lang)
	case "cooldown":
		return e.handleCooldown(ctx, ev, lang)
	case "stats":
		return e.handleStats(ctx, ev, lang)
	case "broadcast":
		return e.handleBroadcast(ctx, ev, lang)
	default:
		e.logger.WithField("command", ev.Command).Debug("Unknown command")
		return nil
	}
}

// handleStart serves the three /start shapes: bare, deep link to a user, and
// deep link revealing a received message's pseudonym.
func (e *Engine) handleStart(ctx context.Context, ev transport.MessageEvent, lang string) error {
	e.adoptLocale(ctx, ev)
	args := strings.TrimSpace(ev.CommandArgs)

	switch {
	case args == "":
		link := fmt.Sprintf("https://t.me/%s?start=%d", e.botUsername, ev.SenderID)
		_, err := e.client.SendText(ctx, ev.ChatID,
			e.catalog.Format(lang, "start.welcome", map[string]string{"link": link}), nil)
		return err

	case strings.HasPrefix(args, "show_"):
		msgID, err := strconv.ParseInt(strings.TrimPrefix(args, "show_"), 10, 64)
		if err != nil {
			return nil
		}
		pseudonym, err := e.dispatcher.RevealPseudonym(ctx, ev.SenderID, msgID, ev.ChatID)
		if err != nil {
			return err
		}
		if pseudonym == "" {
			return nil
		}
		_, err = e.client.SendText(ctx, ev.ChatID,
			e.catalog.Format(lang, "reveal.shown", map[string]string{"pseudonym": pseudonym}),
			&transport.SendOptions{ReplyToID: msgID})
		return err

	default:
		targetID, err := strconv.ParseInt(args, 10, 64)
		if err != nil {
			return nil
		}
		if targetID == ev.SenderID {
			_, err := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "start.self", nil), nil)
			return err
		}
		if _, err := e.composer.Begin(ctx, ev.SenderID, targetID, nil); err != nil {
			return err
		}

		target := privacy.MaskUserID(targetID)
		if info, err := e.client.GetChatInfo(ctx, targetID); err == nil && info.DisplayName != "" {
			e.composer.SetTargetName(ev.SenderID, info.DisplayName)
			target = info.DisplayName
		}

		_, err = e.client.SendText(ctx, ev.ChatID,
			e.catalog.Format(lang, "start.compose", map[string]string{"target": target}), nil)
		return err
	}
}

func (e *Engine) handleBlock(ctx context.Context, ev transport.MessageEvent, lang string) error {
	if ev.ReplyToID == nil {
		_, err := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "report.nothing", nil), nil)
		return err
	}

	link, err := e.dispatcher.ResolveReply(ctx, *ev.ReplyToID, ev.ChatID)
	if err != nil {
		return err
	}
	if link == nil {
		_, err := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "report.nothing", nil), nil)
		return err
	}

	reason := *ev.ReplyToID
	if err := e.registry.Block(ctx, ev.SenderID, link.SenderID, &reason); err != nil {
		return err
	}

	pseudonym, err := e.dispatcher.RevealPseudonym(ctx, ev.SenderID, *ev.ReplyToID, ev.ChatID)
	if err != nil || pseudonym == "" {
		pseudonym = "?"
	}

	_, err = e.client.SendText(ctx, ev.ChatID,
		e.catalog.Format(lang, "blocks.added", map[string]string{"pseudonym": pseudonym}), nil)
	return err
}

func (e *Engine) handleUnblock(ctx context.Context, ev transport.MessageEvent, lang string) error {
	args := strings.TrimSpace(ev.CommandArgs)

	// Bare /unblock in reply to a relayed copy lifts the block on its sender.
	if args == "" && ev.ReplyToID != nil {
		return e.handleUnblockByReply(ctx, ev, lang)
	}

	index, err := strconv.Atoi(args)
	if err != nil {
		_, sendErr := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "blocks.bad_index", nil), nil)
		return sendErr
	}

	entry, err := e.registry.UnblockByIndex(ctx, ev.SenderID, index)
	if err != nil {
		return err
	}
	if entry == nil {
		_, err := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "blocks.bad_index", nil), nil)
		return err
	}

	_, err = e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "blocks.removed", nil), nil)
	return err
}

func (e *Engine) handleUnblockByReply(ctx context.Context, ev transport.MessageEvent, lang string) error {
	link, err := e.dispatcher.ResolveReply(ctx, *ev.ReplyToID, ev.ChatID)
	if err != nil {
		return err
	}
	if link == nil {
		_, err := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "report.nothing", nil), nil)
		return err
	}

	removed, err := e.registry.Unblock(ctx, ev.SenderID, link.SenderID)
	if err != nil {
		return err
	}

	key := "blocks.not_blocked"
	if removed {
		key = "blocks.removed"
	}
	_, err = e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, key, nil), nil)
	return err
}

func (e *Engine) handleBlockList(ctx context.Context, ev transport.MessageEvent, lang string) error {
	entries, err := e.registry.ListBlocks(ctx, ev.SenderID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		_, err := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "blocks.empty", nil), nil)
		return err
	}

	var b strings.Builder
	b.WriteString(e.catalog.Format(lang, "blocks.header", nil))
	for i, entry := range entries {
		pseudonym := e.blockRowToken(ctx, ev.SenderID, entry)
		b.WriteString("\n")
		b.WriteString(e.catalog.Format(lang, "blocks.row", map[string]string{
			"index":     strconv.Itoa(i + 1),
			"pseudonym": pseudonym,
			"date":      entry.BlockedAt.Format("2006-01-02"),
		}))
	}

	_, err = e.client.SendText(ctx, ev.ChatID, b.String(), nil)
	return err
}

func (e *Engine) handleReport(ctx context.Context, ev transport.MessageEvent, lang string) error {
	if ev.ReplyToID == nil {
		_, err := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "report.nothing", nil), nil)
		return err
	}

	if err := e.dispatcher.Report(ctx, ev.SenderID, *ev.ReplyToID, ev.ChatID); err != nil {
		if errors.GetCode(err) == errors.ErrCodeNotFound {
			_, sendErr := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "report.nothing", nil), nil)
			return sendErr
		}
		return err
	}

	_, err := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "report.sent", nil), nil)
	return err
}

func (e *Engine) handleDraw(ctx context.Context, ev transport.MessageEvent, lang string) error {
	text := strings.TrimSpace(ev.CommandArgs)
	if text == "" {
		_, err := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "draw.prompt", nil), nil)
		return err
	}

	if err := e.composer.BeginDraw(ctx, ev.SenderID, text); err != nil {
		if errors.GetCode(err) == errors.ErrCodeInvalidInput {
			_, sendErr := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "compose.no_target", nil), nil)
			return sendErr
		}
		return err
	}

	keyboard := [][]transport.Button{
		{{Text: "▲", CallbackData: "draw:up"}, {Text: "▼", CallbackData: "draw:down"}},
		{{Text: "◻", CallbackData: "draw:color:white"}, {Text: "◼", CallbackData: "draw:color:black"}},
		{{Text: "🖼", CallbackData: "draw:bg"}, {Text: "OK", CallbackData: "draw:done"}},
	}
	_, err := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "draw.customize", nil),
		&transport.SendOptions{Keyboard: keyboard})
	return err
}

func (e *Engine) handleCooldown(ctx context.Context, ev transport.MessageEvent, lang string) error {
	if !e.admin.IsAdmin(ev.SenderID) {
		_, err := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "admin.denied", nil), nil)
		return err
	}

	args := strings.TrimSpace(ev.CommandArgs)
	if args == "" {
		st := e.composer.state(ev.SenderID)
		st.mu.Lock()
		st.draft.Phase = models.PhaseAwaitingCooldown
		st.mu.Unlock()

		_, err := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "cooldown.prompt", nil), nil)
		return err
	}

	return e.applyCooldown(ctx, ev, lang, args)
}

func (e *Engine) handleCooldownInput(ctx context.Context, ev transport.MessageEvent, lang string) error {
	err := e.applyCooldown(ctx, ev, lang, strings.TrimSpace(ev.Text))

	st := e.composer.state(ev.SenderID)
	st.mu.Lock()
	if st.draft.Phase == models.PhaseAwaitingCooldown {
		st.draft.Phase = models.PhaseIdle
	}
	st.mu.Unlock()

	return err
}

func (e *Engine) applyCooldown(ctx context.Context, ev transport.MessageEvent, lang, raw string) error {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		_, sendErr := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "cooldown.invalid", nil), nil)
		return sendErr
	}

	if err := e.admin.SetGlobalCooldown(ctx, ev.SenderID, seconds); err != nil {
		return err
	}

	_, err = e.client.SendText(ctx, ev.ChatID,
		e.catalog.Format(lang, "cooldown.saved", map[string]string{"seconds": strconv.Itoa(seconds)}), nil)
	return err
}

func (e *Engine) handleStats(ctx context.Context, ev transport.MessageEvent, lang string) error {
	text, err := e.admin.Stats(ctx, ev.SenderID, lang)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeAuthorization {
			_, sendErr := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "admin.denied", nil), nil)
			return sendErr
		}
		return err
	}

	_, err = e.client.SendText(ctx, ev.ChatID, text, nil)
	return err
}

func (e *Engine) handleBroadcast(ctx context.Context, ev transport.MessageEvent, lang string) error {
	if ev.ReplyToID == nil {
		_, err := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "report.nothing", nil), nil)
		return err
	}

	count, err := e.admin.Broadcast(ctx, ev.SenderID, ev.ChatID, *ev.ReplyToID)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeAuthorization {
			_, sendErr := e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "admin.denied", nil), nil)
			return sendErr
		}
		return err
	}

	_, err = e.client.SendText(ctx, ev.ChatID,
		e.catalog.Format(lang, "admin.broadcast_done", map[string]string{"count": strconv.Itoa(count)}), nil)
	return err
}

func (e *Engine) handleBlockCallback(ctx context.Context, ev transport.CallbackEvent) error {
	parts := strings.Split(ev.Data, ":")
	if len(parts) != 2 {
		return e.client.AnswerCallback(ctx, ev.CallbackID, "")
	}

	msgID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return e.client.AnswerCallback(ctx, ev.CallbackID, "")
	}

	link, err := e.dispatcher.ResolveReply(ctx, msgID, ev.ChatID)
	if err != nil {
		return err
	}
	if link == nil {
		return e.client.AnswerCallback(ctx, ev.CallbackID, "")
	}

	if err := e.registry.Block(ctx, ev.SenderID, link.SenderID, &msgID); err != nil {
		return err
	}

	lang := e.language(ctx, ev.SenderID)
	return e.client.AnswerCallback(ctx, ev.CallbackID,
		e.catalog.Format(lang, "blocks.added", map[string]string{"pseudonym": ""}))
}

func (e *Engine) handleSettingsCallback(ctx context.Context, ev transport.CallbackEvent) error {
	lang := e.language(ctx, ev.SenderID)

	switch {
	case ev.Data == "set:messages":
		enabled, err := e.registry.ToggleMessages(ctx, ev.SenderID)
		if err != nil {
			return err
		}
		key := "settings.messages_off"
		if enabled {
			key = "settings.messages_on"
		}
		return e.client.AnswerCallback(ctx, ev.CallbackID, e.catalog.Format(lang, key, nil))

	case ev.Data == "set:media":
		enabled, err := e.registry.ToggleMedia(ctx, ev.SenderID)
		if err != nil {
			return err
		}
		key := "settings.media_off"
		if enabled {
			key = "settings.media_on"
		}
		return e.client.AnswerCallback(ctx, ev.CallbackID, e.catalog.Format(lang, key, nil))

	case ev.Data == "set:autovoice":
		prefs, err := e.registry.GetPreferences(ctx, ev.SenderID)
		if err != nil {
			return err
		}
		prefs.AutoVoice = !prefs.AutoVoice
		if err := e.registry.UpdatePreferences(ctx, prefs); err != nil {
			return err
		}
		return e.client.AnswerCallback(ctx, ev.CallbackID, e.catalog.Format(lang, "settings.saved", nil))

	case ev.Data == "set:voice":
		prefs, err := e.registry.GetPreferences(ctx, ev.SenderID)
		if err != nil {
			return err
		}
		if prefs.VoiceProfile == "m" {
			prefs.VoiceProfile = "f"
		} else {
			prefs.VoiceProfile = "m"
		}
		if err := e.registry.UpdatePreferences(ctx, prefs); err != nil {
			return err
		}
		return e.client.AnswerCallback(ctx, ev.CallbackID, e.catalog.Format(lang, "settings.saved", nil))

	case strings.HasPrefix(ev.Data, "set:lang:"):
		code := strings.TrimPrefix(ev.Data, "set:lang:")
		if !e.catalog.HasLocale(code) {
			return e.client.AnswerCallback(ctx, ev.CallbackID, "")
		}
		if err := e.registry.SetLanguage(ctx, ev.SenderID, code); err != nil {
			return err
		}
		return e.client.AnswerCallback(ctx, ev.CallbackID, e.catalog.Format(code, "settings.saved", nil))

	default:
		return e.client.AnswerCallback(ctx, ev.CallbackID, "")
	}
}

func (e *Engine) handleDrawCallback(ctx context.Context, ev transport.CallbackEvent) error {
	var apply func(*models.DrawSettings)

	switch {
	case ev.Data == "draw:up":
		apply = func(d *models.DrawSettings) {
			if d.YPosition > 0 {
				d.YPosition -= 10
			}
		}
	case ev.Data == "draw:down":
		apply = func(d *models.DrawSettings) {
			if d.YPosition < 100 {
				d.YPosition += 10
			}
		}
	case ev.Data == "draw:bg":
		apply = func(d *models.DrawSettings) {
			d.UseBG = !d.UseBG
		}
	case strings.HasPrefix(ev.Data, "draw:color:"):
		color := strings.TrimPrefix(ev.Data, "draw:color:")
		apply = func(d *models.DrawSettings) {
			d.TextColor = color
		}
	case ev.Data == "draw:done":
		if err := e.composer.ConfirmDraw(ctx, ev.SenderID, ev.ChatID); err != nil {
			return err
		}
	}

	if apply != nil {
		if err := e.composer.UpdateDraw(ev.SenderID, apply); err == nil {
			if err := e.composer.RefreshDraw(ctx, ev.SenderID, ev.ChatID); err != nil {
				return err
			}
		}
	}

	return e.client.AnswerCallback(ctx, ev.CallbackID, "")
}

func (e *Engine) sendSettings(ctx context.Context, userID, chatID int64, lang string) error {
	keyboard := [][]transport.Button{
		{{Text: "💬", CallbackData: "set:messages"}, {Text: "📎", CallbackData: "set:media"}},
		{{Text: "🎙", CallbackData: "set:autovoice"}, {Text: "🗣", CallbackData: "set:voice"}},
		{{Text: "EN", CallbackData: "set:lang:en"}, {Text: "UK", CallbackData: "set:lang:uk"}},
	}

	_, err := e.client.SendText(ctx, chatID, e.catalog.Format(lang, "settings.header", nil),
		&transport.SendOptions{Keyboard: keyboard})
	return err
}

func (e *Engine) submitPoll(ctx context.Context, ev transport.MessageEvent, lang string) error {
	draft := e.composer.Draft(ev.SenderID)

	delivery := &Delivery{Poll: ev.Poll}
	err := e.composer.relayAndNotify(ctx, ev, draft.TargetID, draft.ReplyToID, delivery, lang)
	if err != nil {
		return err
	}

	_, err = e.client.SendText(ctx, ev.ChatID, e.catalog.Format(lang, "poll.relayed", nil), nil)
	return err
}

func (e *Engine) flushAlbum(events []transport.MessageEvent) {
	ctx := context.Background()
	if err := e.composer.SubmitMedia(ctx, events); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"chat_id": privacy.MaskChatID(events[0].ChatID),
			"count":   len(events),
		}).Warn("Failed to relay media batch")
	}
}

// adoptLocale persists the gateway-reported locale for users who never picked
// a language themselves. An explicit choice in settings is never overridden.
func (e *Engine) adoptLocale(ctx context.Context, ev transport.MessageEvent) {
	if ev.Locale == "" || !e.catalog.HasLocale(ev.Locale) {
		return
	}

	prefs, err := e.registry.GetPreferences(ctx, ev.SenderID)
	if err != nil {
		return
	}
	if prefs.LanguageChosen || prefs.Language != "en" || prefs.Language == ev.Locale {
		return
	}
	prefs.Language = ev.Locale
	if err := e.registry.UpdatePreferences(ctx, prefs); err != nil {
		e.logger.WithError(err).Debug("Failed to persist locale")
	}
}

func (e *Engine) language(ctx context.Context, userID int64) string {
	prefs, err := e.registry.GetPreferences(ctx, userID)
	if err != nil {
		return "en"
	}
	return prefs.Language
}

// blockRowToken resolves the pseudonym shown in a block list row.
func (e *Engine) blockRowToken(ctx context.Context, blockerID int64, entry models.BlockEntry) string {
	if entry.ReasonMsgID != nil {
		if token, err := e.dispatcher.RevealPseudonym(ctx, blockerID, *entry.ReasonMsgID, blockerID); err == nil && token != "" {
			return token
		}
	}
	return privacy.MaskUserID(entry.BlockedSenderID)
}
