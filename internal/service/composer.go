package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"anonrelay/internal/errors"
	"anonrelay/internal/l10n"
	"anonrelay/internal/models"
	"anonrelay/pkg/mediagen"
	"anonrelay/pkg/transport"

	"github.com/sirupsen/logrus"
)

// Composer drives each user's compose/confirm flow. All transitions for one
// user run under that user's lock, so a confirm and a cancel racing each
// other resolve to exactly one outcome.
type Composer struct {
	registry   Registry
	dispatcher Dispatcher
	generator  mediagen.Generator
	client     transport.Client
	catalog    *l10n.Catalog
	logger     *logrus.Logger

	mu     sync.Mutex
	states map[int64]*userState
}

type userState struct {
	mu    sync.Mutex
	draft *models.Draft
}

func NewComposer(registry Registry, dispatcher Dispatcher, generator mediagen.Generator, client transport.Client, catalog *l10n.Catalog, logger *logrus.Logger) *Composer {
	return &Composer{
		registry:   registry,
		dispatcher: dispatcher,
		generator:  generator,
		client:     client,
		catalog:    catalog,
		logger:     logger,
		states:     make(map[int64]*userState),
	}
}

func (c *Composer) state(userID int64) *userState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[userID]
	if !ok {
		st = &userState{draft: &models.Draft{Phase: models.PhaseIdle}}
		c.states[userID] = st
	}
	return st
}

// Draft returns a copy of the user's current draft.
func (c *Composer) Draft(userID int64) models.Draft {
	st := c.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return *st.draft
}

// Begin opens a compose session toward targetID. A reply carries the link of
// the replied-to copy so the delivery threads back to the original message.
func (c *Composer) Begin(ctx context.Context, userID, targetID int64, replyTo *models.LinkRecord) (models.Draft, error) {
	if userID == targetID {
		return models.Draft{}, errors.New(errors.ErrCodeInvalidInput, "cannot compose to self")
	}

	st := c.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	draft := &models.Draft{
		Phase:      models.PhaseWritingMessage,
		TargetID:   targetID,
		Generation: st.draft.Generation + 1,
	}
	if replyTo != nil {
		replyID := replyTo.DeliveredMsgID
		draft.ReplyToID = &replyID
	}

	st.draft = draft
	return *draft, nil
}

// SetTargetName records the display name known for the dialogue target at the
// time the deep link was opened.
func (c *Composer) SetTargetName(userID int64, name string) {
	st := c.state(userID)
	st.mu.Lock()
	if st.draft.Phase == models.PhaseWritingMessage {
		st.draft.TargetName = name
	}
	st.mu.Unlock()
}

// SubmitText relays the sender's text, detouring through voice generation
// and confirmation when the sender's settings ask for it.
func (c *Composer) SubmitText(ctx context.Context, ev transport.MessageEvent) error {
	st := c.state(ev.SenderID)
	st.mu.Lock()

	if st.draft.Phase != models.PhaseWritingMessage {
		st.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidInput, "no compose session")
	}

	draft := st.draft
	gen := draft.Generation
	targetID := draft.TargetID
	replyTo := draft.ReplyToID
	st.mu.Unlock()

	prefs, err := c.registry.GetPreferences(ctx, ev.SenderID)
	if err != nil {
		return err
	}

	if !prefs.AutoVoice {
		return c.relayAndNotify(ctx, ev, targetID, replyTo, &Delivery{Text: ev.Text}, prefs.Language)
	}

	artifact, err := c.generator.Generate(ctx, mediagen.Request{
		Kind:   mediagen.KindVoice,
		Prompt: ev.Text,
		Params: map[string]string{"voice": prefs.VoiceProfile},
	})
	if err != nil {
		c.logger.WithError(err).Warn("Voice generation failed")
		_, sendErr := c.client.SendText(ctx, ev.ChatID,
			c.catalog.Format(prefs.Language, "generation.failed", nil), nil)
		if sendErr != nil {
			return sendErr
		}
		return errors.NewGenerationError("voice", string(mediagen.KindVoice), err)
	}

	st.mu.Lock()
	if st.draft.Generation != gen || st.draft.Phase != models.PhaseWritingMessage {
		st.mu.Unlock()
		_ = c.generator.Cleanup(artifact)
		return nil
	}

	if prefs.SkipConfirmVoice {
		st.mu.Unlock()
		defer func() { _ = c.generator.Cleanup(artifact) }()
		return c.relayAndNotify(ctx, ev, targetID, replyTo, &Delivery{
			Media: []transport.MediaInput{{Kind: transport.MediaVoice, Path: artifact.Path}},
		}, prefs.Language)
	}

	st.draft.Phase = models.PhaseConfirmingMedia
	st.draft.Committed = false
	st.draft.Artifact = &models.PendingArtifact{
		Kind:       models.ArtifactVoice,
		Path:       artifact.Path,
		Prompt:     ev.Text,
		OriginalID: ev.MessageID,
	}
	st.mu.Unlock()

	return c.sendConfirmation(ctx, st, ev.ChatID, prefs.Language, "confirm.voice", transport.MediaInput{
		Kind: transport.MediaVoice,
		Path: artifact.Path,
	})
}

// SubmitMedia relays a media batch, stopping for confirmation when the
// content carries audio the sender wants anonymized.
func (c *Composer) SubmitMedia(ctx context.Context, events []transport.MessageEvent) error {
	if len(events) == 0 {
		return nil
	}
	first := events[0]

	st := c.state(first.SenderID)
	st.mu.Lock()

	if st.draft.Phase != models.PhaseWritingMessage {
		st.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidInput, "no compose session")
	}

	targetID := st.draft.TargetID
	replyTo := st.draft.ReplyToID
	st.mu.Unlock()

	prefs, err := c.registry.GetPreferences(ctx, first.SenderID)
	if err != nil {
		return err
	}

	media := make([]transport.MediaInput, 0, len(events))
	hasAudio := false
	for _, ev := range events {
		if ev.Media == nil {
			continue
		}
		media = append(media, *ev.Media)
		if ev.Media.Kind == transport.MediaVoice || ev.Media.Kind == transport.MediaAudio {
			hasAudio = true
		}
	}
	if len(media) == 0 {
		return errors.New(errors.ErrCodeInvalidInput, "no media payload")
	}

	needsConfirm := hasAudio && prefs.AnonymizeAudio && !prefs.SkipConfirmMedia
	if !needsConfirm {
		return c.relayAndNotify(ctx, first, targetID, replyTo, &Delivery{Media: media}, prefs.Language)
	}

	st.mu.Lock()
	st.draft.Phase = models.PhaseConfirmingMedia
	st.draft.Committed = false
	st.draft.Artifact = &models.PendingArtifact{
		Kind:        models.ArtifactVoice,
		OriginalRef: media[0].ContentRef,
		OriginalID:  first.MessageID,
	}
	st.mu.Unlock()

	return c.sendConfirmation(ctx, st, first.ChatID, prefs.Language, "confirm.media", media[0])
}

// Confirm delivers the pending artifact. The committed flag makes a second
// confirm for the same draft a no-op.
func (c *Composer) Confirm(ctx context.Context, ev transport.CallbackEvent) error {
	st := c.state(ev.SenderID)
	st.mu.Lock()

	if st.draft.Phase != models.PhaseConfirmingMedia || st.draft.Artifact == nil {
		st.mu.Unlock()
		return c.answerHandled(ctx, ev)
	}
	if st.draft.Committed {
		st.mu.Unlock()
		return c.answerHandled(ctx, ev)
	}
	st.draft.Committed = true

	artifact := st.draft.Artifact
	targetID := st.draft.TargetID
	replyTo := st.draft.ReplyToID
	confMsgID := st.draft.LastConfMsgID
	st.mu.Unlock()

	prefs, err := c.registry.GetPreferences(ctx, ev.SenderID)
	if err != nil {
		return err
	}

	kind := transport.MediaVoice
	if artifact.Kind == models.ArtifactCard || artifact.Kind == models.ArtifactImage {
		kind = transport.MediaPhoto
	}

	var delivery *Delivery
	if artifact.Path != "" {
		delivery = &Delivery{Media: []transport.MediaInput{{Kind: kind, Path: artifact.Path}}}
	} else {
		delivery = &Delivery{Media: []transport.MediaInput{{Kind: kind, ContentRef: artifact.OriginalRef}}}
	}

	msgEv := transport.MessageEvent{SenderID: ev.SenderID, ChatID: ev.ChatID, MessageID: artifact.OriginalID}
	relayErr := c.relayAndNotify(ctx, msgEv, targetID, replyTo, delivery, prefs.Language)

	c.finishConfirmation(ctx, st, ev.ChatID, confMsgID, artifact)

	if relayErr != nil {
		// Leave the draft uncommitted so the user can try again after a
		// transient delivery failure. Policy denials stay committed.
		if errors.GetCode(relayErr) != errors.ErrCodePolicyDenied {
			st.mu.Lock()
			st.draft.Committed = false
			st.mu.Unlock()
		}
		return relayErr
	}

	return c.client.AnswerCallback(ctx, ev.CallbackID, "")
}

// SendOriginal delivers the untouched original content instead of the
// generated artifact.
func (c *Composer) SendOriginal(ctx context.Context, ev transport.CallbackEvent) error {
	st := c.state(ev.SenderID)
	st.mu.Lock()

	if st.draft.Phase != models.PhaseConfirmingMedia || st.draft.Artifact == nil || st.draft.Committed {
		st.mu.Unlock()
		return c.answerHandled(ctx, ev)
	}
	st.draft.Committed = true

	artifact := st.draft.Artifact
	targetID := st.draft.TargetID
	replyTo := st.draft.ReplyToID
	confMsgID := st.draft.LastConfMsgID
	st.mu.Unlock()

	prefs, err := c.registry.GetPreferences(ctx, ev.SenderID)
	if err != nil {
		return err
	}

	var delivery *Delivery
	if artifact.OriginalRef != "" {
		delivery = &Delivery{Media: []transport.MediaInput{{Kind: transport.MediaAudio, ContentRef: artifact.OriginalRef}}}
	} else {
		delivery = &Delivery{Text: artifact.Prompt}
	}

	msgEv := transport.MessageEvent{SenderID: ev.SenderID, ChatID: ev.ChatID, MessageID: artifact.OriginalID}
	relayErr := c.relayAndNotify(ctx, msgEv, targetID, replyTo, delivery, prefs.Language)

	c.finishConfirmation(ctx, st, ev.ChatID, confMsgID, artifact)

	if relayErr != nil {
		return relayErr
	}
	return c.client.AnswerCallback(ctx, ev.CallbackID, "")
}

// Cancel discards the whole draft and closes the compose session. Nothing is
// ever sent for a cancelled draft, and a generation in flight is discarded on
// arrival.
func (c *Composer) Cancel(ctx context.Context, ev transport.CallbackEvent) error {
	st := c.state(ev.SenderID)
	st.mu.Lock()

	artifact := st.draft.Artifact
	confMsgID := st.draft.LastConfMsgID
	st.draft = &models.Draft{Phase: models.PhaseIdle, Generation: st.draft.Generation + 1}
	lang := ""
	st.mu.Unlock()

	if artifact != nil && artifact.Path != "" {
		_ = c.generator.Cleanup(&mediagen.Artifact{Path: artifact.Path})
	}
	if confMsgID != 0 {
		if err := c.client.DeleteMessage(ctx, ev.ChatID, confMsgID); err != nil {
			c.logger.WithError(err).Debug("Failed to delete confirmation message")
		}
	}

	prefs, err := c.registry.GetPreferences(ctx, ev.SenderID)
	if err == nil {
		lang = prefs.Language
	}

	return c.client.AnswerCallback(ctx, ev.CallbackID, c.catalog.Format(lang, "compose.cancelled", nil))
}

// BeginDraw switches the compose session into card customization.
func (c *Composer) BeginDraw(ctx context.Context, userID int64, text string) error {
	st := c.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.draft.Phase != models.PhaseWritingMessage {
		return errors.New(errors.ErrCodeInvalidInput, "no compose session")
	}

	st.draft.Phase = models.PhaseCustomizingDraw
	st.draft.Draw = &models.DrawSettings{
		Text:      text,
		YPosition: 50,
		TextColor: "white",
		UseBG:     true,
	}
	return nil
}

// UpdateDraw applies one customization to the pending card.
func (c *Composer) UpdateDraw(userID int64, apply func(*models.DrawSettings)) error {
	st := c.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.draft.Phase != models.PhaseCustomizingDraw || st.draft.Draw == nil {
		return errors.New(errors.ErrCodeInvalidInput, "no draw session")
	}

	apply(st.draft.Draw)
	return nil
}

// RefreshDraw regenerates the card preview after a settings adjustment,
// discarding the previous preview artifact and message.
func (c *Composer) RefreshDraw(ctx context.Context, userID, chatID int64) error {
	st := c.state(userID)
	st.mu.Lock()
	if st.draft.Phase != models.PhaseCustomizingDraw || st.draft.Draw == nil {
		st.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidInput, "no draw session")
	}
	draw := *st.draft.Draw
	gen := st.draft.Generation
	prev := st.draft.Artifact
	prevMsgID := st.draft.LastConfMsgID
	st.mu.Unlock()

	prefs, err := c.registry.GetPreferences(ctx, userID)
	if err != nil {
		return err
	}

	artifact, err := c.generator.Generate(ctx, cardRequest(draw))
	if err != nil {
		_, sendErr := c.client.SendText(ctx, chatID,
			c.catalog.Format(prefs.Language, "generation.failed", nil), nil)
		if sendErr != nil {
			return sendErr
		}
		return errors.NewGenerationError("card", string(mediagen.KindCard), err)
	}

	st.mu.Lock()
	if st.draft.Generation != gen || st.draft.Phase != models.PhaseCustomizingDraw {
		st.mu.Unlock()
		_ = c.generator.Cleanup(artifact)
		return nil
	}
	st.draft.Artifact = &models.PendingArtifact{
		Kind:   models.ArtifactCard,
		Path:   artifact.Path,
		Prompt: draw.Text,
	}
	st.mu.Unlock()

	if prev != nil && prev.Path != "" {
		_ = c.generator.Cleanup(&mediagen.Artifact{Path: prev.Path})
	}
	if prevMsgID != 0 {
		if err := c.client.DeleteMessage(ctx, chatID, prevMsgID); err != nil {
			c.logger.WithError(err).Debug("Failed to delete draw preview")
		}
	}

	dv, err := c.client.SendMedia(ctx, chatID, transport.MediaInput{
		Kind:    transport.MediaPhoto,
		Path:    artifact.Path,
		Caption: c.catalog.Format(prefs.Language, "draw.customize", nil),
	}, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeTransportFailed, "failed to send draw preview")
	}

	st.mu.Lock()
	st.draft.LastConfMsgID = dv.MessageID
	st.draft.LastConfMedia = true
	st.mu.Unlock()
	return nil
}

func cardRequest(draw models.DrawSettings) mediagen.Request {
	return mediagen.Request{
		Kind:   mediagen.KindCard,
		Prompt: draw.Text,
		Params: map[string]string{
			"background": draw.CustomBGPath,
			"yPosition":  strconv.Itoa(draw.YPosition),
			"color":      draw.TextColor,
			"useBg":      strconv.FormatBool(draw.UseBG),
		},
	}
}

// ConfirmDraw renders the card and moves to media confirmation.
func (c *Composer) ConfirmDraw(ctx context.Context, userID, chatID int64) error {
	st := c.state(userID)
	st.mu.Lock()

	if st.draft.Phase != models.PhaseCustomizingDraw || st.draft.Draw == nil {
		st.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidInput, "no draw session")
	}

	draw := *st.draft.Draw
	gen := st.draft.Generation
	preview := st.draft.Artifact
	previewMsgID := st.draft.LastConfMsgID
	st.mu.Unlock()

	prefs, err := c.registry.GetPreferences(ctx, userID)
	if err != nil {
		return err
	}

	// A preview generated by the last adjustment is reused as-is.
	if preview != nil && preview.Path != "" {
		st.mu.Lock()
		st.draft.Phase = models.PhaseConfirmingMedia
		st.draft.Committed = false
		st.mu.Unlock()

		if previewMsgID != 0 {
			if err := c.client.DeleteMessage(ctx, chatID, previewMsgID); err != nil {
				c.logger.WithError(err).Debug("Failed to delete draw preview")
			}
		}

		return c.sendConfirmation(ctx, st, chatID, prefs.Language, "confirm.media", transport.MediaInput{
			Kind: transport.MediaPhoto,
			Path: preview.Path,
		})
	}

	artifact, err := c.generator.Generate(ctx, cardRequest(draw))
	if err != nil {
		_, sendErr := c.client.SendText(ctx, chatID,
			c.catalog.Format(prefs.Language, "generation.failed", nil), nil)
		if sendErr != nil {
			return sendErr
		}
		return errors.NewGenerationError("card", string(mediagen.KindCard), err)
	}

	st.mu.Lock()
	if st.draft.Generation != gen {
		st.mu.Unlock()
		_ = c.generator.Cleanup(artifact)
		return nil
	}

	st.draft.Phase = models.PhaseConfirmingMedia
	st.draft.Committed = false
	st.draft.Artifact = &models.PendingArtifact{
		Kind:   models.ArtifactCard,
		Path:   artifact.Path,
		Prompt: draw.Text,
	}
	st.mu.Unlock()

	return c.sendConfirmation(ctx, st, chatID, prefs.Language, "confirm.media", transport.MediaInput{
		Kind: transport.MediaPhoto,
		Path: artifact.Path,
	})
}

// Reset drops the user's compose state entirely.
func (c *Composer) Reset(userID int64) {
	st := c.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.draft.Artifact != nil && st.draft.Artifact.Path != "" {
		_ = c.generator.Cleanup(&mediagen.Artifact{Path: st.draft.Artifact.Path})
	}
	st.draft = &models.Draft{Phase: models.PhaseIdle, Generation: st.draft.Generation + 1}
}

func (c *Composer) relayAndNotify(ctx context.Context, ev transport.MessageEvent, targetID int64, replyTo *int64, content *Delivery, lang string) error {
	content.SenderID = ev.SenderID
	content.SenderChatID = ev.ChatID
	content.SenderMsgID = ev.MessageID
	content.ReceiverID = targetID
	content.SenderKnownName = c.knownDisplayName(targetID, ev.SenderID)
	content.ReplyToDeliveredID = c.resolveReplyTarget(ctx, ev.SenderID, replyTo)

	_, err := c.dispatcher.Dispatch(ctx, content)
	if err != nil {
		return c.notifyDenial(ctx, ev.ChatID, lang, err)
	}

	_, err = c.client.SendText(ctx, ev.ChatID, c.catalog.Format(lang, "compose.sent", nil), nil)
	return err
}

// knownDisplayName returns the name the receiver already knows the sender by.
// It is set when the receiver opened their own compose session toward that
// sender through a deep link, so showing it leaks nothing new.
func (c *Composer) knownDisplayName(receiverID, subjectID int64) string {
	st := c.state(receiverID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.draft.TargetID == subjectID && st.draft.TargetName != "" {
		return st.draft.TargetName
	}
	return ""
}

// resolveReplyTarget maps the sender's replied-to copy onto the receiver's
// original message so the delivery threads correctly on the receiver side.
func (c *Composer) resolveReplyTarget(ctx context.Context, senderID int64, replyTo *int64) *int64 {
	if replyTo == nil {
		return nil
	}

	link, err := c.dispatcher.ResolveReply(ctx, *replyTo, senderID)
	if err != nil || link == nil {
		return nil
	}
	return &link.SenderMsgID
}

// notifyDenial tells the sender why the delivery was refused. Errors other
// than policy denials surface unchanged.
func (c *Composer) notifyDenial(ctx context.Context, chatID int64, lang string, err error) error {
	reason := errors.PolicyReasonOf(err)
	if reason == "" {
		switch errors.GetCode(err) {
		case errors.ErrCodeTransportFailed:
			_, _ = c.client.SendText(ctx, chatID, c.catalog.Format(lang, "error.delivery_failed", nil), nil)
		case errors.ErrCodeDatabaseQuery, errors.ErrCodeGenerationFail:
			_, _ = c.client.SendText(ctx, chatID, c.catalog.Format(lang, "error.internal", nil), nil)
		}
		return err
	}

	var text string
	switch reason {
	case errors.PolicyBlocked:
		text = c.catalog.Format(lang, "deny.blocked", nil)
	case errors.PolicyMessagesDisabled:
		text = c.catalog.Format(lang, "deny.messages_disabled", nil)
	case errors.PolicyMediaDisabled:
		text = c.catalog.Format(lang, "deny.media_disabled", nil)
	case errors.PolicyCooldown:
		remaining := 0
		if appErr, ok := err.(*errors.AppError); ok {
			if v, ok := appErr.Context["remaining_sec"].(int); ok {
				remaining = v
			}
		}
		text = c.catalog.Format(lang, "deny.cooldown", map[string]string{"seconds": strconv.Itoa(remaining)})
	}

	if _, sendErr := c.client.SendText(ctx, chatID, text, nil); sendErr != nil {
		return fmt.Errorf("failed to notify denial: %w", sendErr)
	}
	return err
}

func (c *Composer) sendConfirmation(ctx context.Context, st *userState, chatID int64, lang, promptKey string, preview transport.MediaInput) error {
	keyboard := [][]transport.Button{{
		{Text: c.catalog.Format(lang, "confirm.buttons.send", nil), CallbackData: "confirm:send"},
		{Text: c.catalog.Format(lang, "confirm.buttons.cancel", nil), CallbackData: "confirm:cancel"},
	}}
	if preview.ContentRef != "" {
		keyboard = append(keyboard, []transport.Button{
			{Text: c.catalog.Format(lang, "confirm.buttons.original", nil), CallbackData: "confirm:original"},
		})
	}

	preview.Caption = c.catalog.Format(lang, promptKey, nil)
	dv, err := c.client.SendMedia(ctx, chatID, preview, &transport.SendOptions{Keyboard: keyboard})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeTransportFailed, "failed to send confirmation")
	}

	st.mu.Lock()
	st.draft.LastConfMsgID = dv.MessageID
	st.draft.LastConfMedia = true
	st.mu.Unlock()

	return nil
}

// finishConfirmation cleans up after a confirmed draft: the confirmation
// prompt is deleted exactly once and the artifact file removed.
func (c *Composer) finishConfirmation(ctx context.Context, st *userState, chatID, confMsgID int64, artifact *models.PendingArtifact) {
	st.mu.Lock()
	st.draft.Phase = models.PhaseWritingMessage
	st.draft.Artifact = nil
	st.draft.LastConfMsgID = 0
	st.mu.Unlock()

	if confMsgID != 0 {
		if err := c.client.DeleteMessage(ctx, chatID, confMsgID); err != nil {
			// Old messages may be undeletable; strip the buttons instead.
			if stripErr := c.client.EditReplyMarkup(ctx, chatID, confMsgID, nil); stripErr != nil {
				c.logger.WithError(stripErr).Debug("Failed to clear confirmation message")
			}
		}
	}
	if artifact != nil && artifact.Path != "" {
		_ = c.generator.Cleanup(&mediagen.Artifact{Path: artifact.Path})
	}
}

func (c *Composer) answerHandled(ctx context.Context, ev transport.CallbackEvent) error {
	lang := ""
	if prefs, err := c.registry.GetPreferences(ctx, ev.SenderID); err == nil {
		lang = prefs.Language
	}
	return c.client.AnswerCallback(ctx, ev.CallbackID, c.catalog.Format(lang, "confirm.already_handled", nil))
}
