package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"anonrelay/internal/constants"
	"anonrelay/internal/errors"
	"anonrelay/internal/l10n"
	"anonrelay/internal/models"
	"anonrelay/internal/privacy"
	"anonrelay/pkg/transport"

	"github.com/sirupsen/logrus"
)

// Delivery is one relay job: content from a sender bound for a receiver.
type Delivery struct {
	SenderID     int64
	SenderChatID int64
	SenderMsgID  int64
	ReceiverID   int64

	// ReplyToDeliveredID is the receiver-side message the delivery answers,
	// set when the sender replied to a relayed copy.
	ReplyToDeliveredID *int64

	// SenderKnownName is the display name the receiver already knows the
	// sender by, set when the receiver reached the sender through a deep
	// link. Empty for anonymous dialogues.
	SenderKnownName string

	Text  string
	Media []transport.MediaInput
	Poll  *transport.PollInput
}

// HasMedia reports whether the delivery carries any media payload.
func (d *Delivery) HasMedia() bool {
	return len(d.Media) > 0
}

// DispatchResult describes a completed relay.
type DispatchResult struct {
	Pseudonym string
	Delivered []transport.Delivered
}

// Dispatcher relays content between users without ever exposing who is who.
type Dispatcher interface {
	Dispatch(ctx context.Context, d *Delivery) (*DispatchResult, error)
	ResolveReply(ctx context.Context, deliveredMsgID, deliveredChatID int64) (*models.LinkRecord, error)
	RelayReaction(ctx context.Context, ev transport.ReactionEvent) error
	RelayPollAnswer(ctx context.Context, ev transport.PollAnswerEvent) error
	Report(ctx context.Context, reporterID, deliveredMsgID, deliveredChatID int64) error
	RevealPseudonym(ctx context.Context, viewerID, deliveredMsgID, deliveredChatID int64) (string, error)
}

type dispatcher struct {
	store     Store
	registry  Registry
	allocator Allocator
	client    transport.Client
	catalog   *l10n.Catalog
	logger    *logrus.Logger

	defaultCooldownSec int
	effectID           string
	adminChatID        int64
}

// DispatcherOptions configures a new dispatcher.
type DispatcherOptions struct {
	Store              Store
	Registry           Registry
	Allocator          Allocator
	Client             transport.Client
	Catalog            *l10n.Catalog
	Logger             *logrus.Logger
	DefaultCooldownSec int
	EffectID           string
	AdminChatID        int64
}

func NewDispatcher(opts DispatcherOptions) Dispatcher {
	return &dispatcher{
		store:              opts.Store,
		registry:           opts.Registry,
		allocator:          opts.Allocator,
		client:             opts.Client,
		catalog:            opts.Catalog,
		logger:             opts.Logger,
		defaultCooldownSec: opts.DefaultCooldownSec,
		effectID:           opts.EffectID,
		adminChatID:        opts.AdminChatID,
	}
}

// Dispatch runs the full relay pipeline: policy, cooldown reservation,
// pseudonym assignment, delivery, ledger. A policy denial leaves no trace in
// the cooldown table.
func (s *dispatcher) Dispatch(ctx context.Context, d *Delivery) (*DispatchResult, error) {
	if d.SenderID == d.ReceiverID {
		return nil, errors.New(errors.ErrCodeInvalidInput, "cannot relay to self")
	}

	if err := s.registry.CheckDelivery(ctx, d.SenderID, d.ReceiverID, d.HasMedia()); err != nil {
		return nil, err
	}

	cooldown := s.effectiveCooldown(ctx)
	allowed, remaining, err := s.store.CheckAndReserveCooldown(ctx, d.SenderID, d.ReceiverID, cooldown)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve cooldown: %w", err)
	}
	if !allowed {
		return nil, errors.NewCooldownDenied(remaining)
	}

	existing, err := s.store.GetPairToken(ctx, d.SenderID, d.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up pair session: %w", err)
	}
	firstContact := existing == ""

	pseudonym, err := s.allocator.Assign(ctx, d.SenderID, d.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign pseudonym: %w", err)
	}

	receiverPrefs, err := s.registry.GetPreferences(ctx, d.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to load receiver preferences: %w", err)
	}

	delivered, err := s.deliver(ctx, d, pseudonym, receiverPrefs.Language, firstContact)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTransportFailed, "delivery failed")
	}

	for _, dv := range delivered {
		link := &models.LinkRecord{
			DeliveredMsgID:  dv.MessageID,
			DeliveredChatID: d.ReceiverID,
			SenderID:        d.SenderID,
			SenderMsgID:     d.SenderMsgID,
			SenderChatID:    d.SenderChatID,
			CreatedAt:       time.Now().UTC(),
		}
		if dv.PollID != "" {
			pollID := dv.PollID
			link.PollID = &pollID
		}
		if err := s.store.RecordDelivery(ctx, link); err != nil {
			return nil, fmt.Errorf("failed to record delivery: %w", err)
		}
	}

	s.logger.WithFields(logrus.Fields(privacy.MaskSensitiveFields(logrus.Fields{
		"sender_id":   d.SenderID,
		"receiver_id": d.ReceiverID,
		"pseudonym":   privacy.MaskToken(pseudonym),
		"copies":      len(delivered),
	}))).Info("Relayed message")

	return &DispatchResult{Pseudonym: pseudonym, Delivered: delivered}, nil
}

func (s *dispatcher) deliver(ctx context.Context, d *Delivery, pseudonym, lang string, firstContact bool) ([]transport.Delivered, error) {
	shown := pseudonym
	if d.SenderKnownName != "" {
		shown = d.SenderKnownName
	}
	header := s.catalog.Format(lang, "incoming.header", map[string]string{"pseudonym": shown})
	if firstContact {
		header += "\n" + s.catalog.Format(lang, "incoming.reply_hint", nil)
	}

	opts := &transport.SendOptions{EffectID: s.effectID}
	if d.ReplyToDeliveredID != nil {
		opts.ReplyToID = *d.ReplyToDeliveredID
	}

	headerMsg, err := s.sendTextWithEffectFallback(ctx, d.ReceiverID, header, opts)
	if err != nil {
		return nil, err
	}

	delivered := []transport.Delivered{*headerMsg}

	switch {
	case d.Poll != nil:
		// Polls are re-sent rather than copied so the recipient-side poll
		// carries its own poll ID for answer routing.
		dv, err := s.client.SendPoll(ctx, d.ReceiverID, *d.Poll, nil)
		if err != nil {
			return nil, err
		}
		delivered = append(delivered, *dv)

	case len(d.Media) > 1:
		dvs, err := s.client.SendMediaGroup(ctx, d.ReceiverID, d.Media, nil)
		if err != nil {
			return nil, err
		}
		delivered = append(delivered, dvs...)

	case len(d.Media) == 1:
		dv, err := s.client.SendMedia(ctx, d.ReceiverID, d.Media[0], nil)
		if err != nil {
			return nil, err
		}
		delivered = append(delivered, *dv)

	case d.Text != "":
		dv, err := s.client.SendText(ctx, d.ReceiverID, d.Text, nil)
		if err != nil {
			return nil, err
		}
		delivered = append(delivered, *dv)
	}

	return delivered, nil
}

// sendTextWithEffectFallback retries once without the message effect when the
// gateway rejects the effect-decorated send.
func (s *dispatcher) sendTextWithEffectFallback(ctx context.Context, chatID int64, text string, opts *transport.SendOptions) (*transport.Delivered, error) {
	dv, err := s.client.SendText(ctx, chatID, text, opts)
	if err == nil {
		return dv, nil
	}
	if opts == nil || opts.EffectID == "" {
		return nil, err
	}

	s.logger.WithError(err).Debug("Effect send failed, retrying without effect")

	retryOpts := *opts
	retryOpts.EffectID = ""
	return s.client.SendText(ctx, chatID, text, &retryOpts)
}

// ResolveReply maps a reply to a relayed copy back to the original sender.
// Returns nil when the replied-to message is not a relayed copy.
func (s *dispatcher) ResolveReply(ctx context.Context, deliveredMsgID, deliveredChatID int64) (*models.LinkRecord, error) {
	return s.store.GetLinkByDelivered(ctx, deliveredMsgID, deliveredChatID)
}

// RelayReaction mirrors an emoji reaction on a relayed copy onto the
// original message on the sender's side. Reactions on unlinked messages are
// silently ignored.
func (s *dispatcher) RelayReaction(ctx context.Context, ev transport.ReactionEvent) error {
	link, err := s.store.GetLinkByDelivered(ctx, ev.MessageID, ev.ChatID)
	if err != nil {
		return err
	}
	if link == nil {
		return nil
	}

	emoji := ev.Emoji
	if ev.Removed {
		emoji = ""
	}

	if err := s.client.SetReaction(ctx, link.SenderChatID, link.SenderMsgID, emoji); err != nil {
		return errors.Wrap(err, errors.ErrCodeTransportFailed, "failed to mirror reaction")
	}

	return nil
}

// RelayPollAnswer notifies the poll's sender that someone voted, without
// naming the voter.
func (s *dispatcher) RelayPollAnswer(ctx context.Context, ev transport.PollAnswerEvent) error {
	link, err := s.store.GetLinkByPoll(ctx, ev.PollID)
	if err != nil {
		return err
	}
	if link == nil {
		return nil
	}

	prefs, err := s.registry.GetPreferences(ctx, link.SenderID)
	if err != nil {
		return err
	}

	options := make([]string, len(ev.OptionIDs))
	for i, id := range ev.OptionIDs {
		options[i] = strconv.Itoa(id + 1)
	}

	pseudonym, err := s.allocator.Assign(ctx, link.SenderID, ev.VoterID)
	if err != nil {
		return err
	}

	text := s.catalog.Format(prefs.Language, "reveal.shown", map[string]string{"pseudonym": pseudonym}) +
		": " + strings.Join(options, ", ")

	_, err = s.client.SendText(ctx, link.SenderChatID, text, &transport.SendOptions{ReplyToID: link.SenderMsgID})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeTransportFailed, "failed to relay poll answer")
	}

	return nil
}

// Report forwards a relayed copy to the admin chat together with the real
// sender's ID so moderators can act on abuse.
func (s *dispatcher) Report(ctx context.Context, reporterID, deliveredMsgID, deliveredChatID int64) error {
	link, err := s.store.GetLinkByDelivered(ctx, deliveredMsgID, deliveredChatID)
	if err != nil {
		return err
	}
	if link == nil {
		return errors.NewNotFoundError("relayed message", strconv.FormatInt(deliveredMsgID, 10))
	}

	if _, err := s.client.ForwardMessage(ctx, s.adminChatID, deliveredChatID, deliveredMsgID); err != nil {
		return errors.Wrap(err, errors.ErrCodeTransportFailed, "failed to forward report")
	}

	note := fmt.Sprintf("Report from %d about sender %d (msg %d)", reporterID, link.SenderID, link.SenderMsgID)
	if _, err := s.client.SendText(ctx, s.adminChatID, note, nil); err != nil {
		return errors.Wrap(err, errors.ErrCodeTransportFailed, "failed to send report note")
	}

	return nil
}

// RevealPseudonym returns the pseudonym of whoever sent the given relayed
// copy, as seen by the viewer. Returns "" when the message is not a relayed
// copy delivered to the viewer.
func (s *dispatcher) RevealPseudonym(ctx context.Context, viewerID, deliveredMsgID, deliveredChatID int64) (string, error) {
	link, err := s.store.GetLinkByDelivered(ctx, deliveredMsgID, deliveredChatID)
	if err != nil {
		return "", err
	}
	if link == nil || link.DeliveredChatID != viewerID {
		return "", nil
	}

	token, err := s.allocator.PeekToken(ctx, viewerID, link.SenderID)
	if err != nil {
		return "", err
	}
	if token == "" {
		token = constants.PseudonymUnknownToken
	}
	return token, nil
}

func (s *dispatcher) effectiveCooldown(ctx context.Context) time.Duration {
	value, err := s.store.GetGlobalConfig(ctx, constants.GlobalCooldownKey)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read global cooldown, using default")
		return time.Duration(s.defaultCooldownSec) * time.Second
	}
	if value == "" {
		return time.Duration(s.defaultCooldownSec) * time.Second
	}

	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		s.logger.WithField("value", value).Warn("Invalid global cooldown value, using default")
		return time.Duration(s.defaultCooldownSec) * time.Second
	}

	return time.Duration(seconds) * time.Second
}
