package service

import (
	"context"
	"fmt"

	"anonrelay/internal/errors"
	"anonrelay/internal/models"
)

// Registry owns per-user preferences and block state and decides whether a
// delivery may proceed.
type Registry interface {
	GetPreferences(ctx context.Context, userID int64) (*models.UserPreference, error)
	UpdatePreferences(ctx context.Context, p *models.UserPreference) error
	SetLanguage(ctx context.Context, userID int64, language string) error
	ToggleMessages(ctx context.Context, userID int64) (bool, error)
	ToggleMedia(ctx context.Context, userID int64) (bool, error)

	CheckDelivery(ctx context.Context, senderID, receiverID int64, hasMedia bool) error

	Block(ctx context.Context, blockerID, senderID int64, reasonMsgID *int64) error
	Unblock(ctx context.Context, blockerID, senderID int64) (bool, error)
	UnblockByIndex(ctx context.Context, blockerID int64, index int) (*models.BlockEntry, error)
	ListBlocks(ctx context.Context, blockerID int64) ([]models.BlockEntry, error)
}

type registry struct {
	store Store
}

func NewRegistry(store Store) Registry {
	return &registry{store: store}
}

func (r *registry) GetPreferences(ctx context.Context, userID int64) (*models.UserPreference, error) {
	return r.store.GetPreferences(ctx, userID)
}

func (r *registry) UpdatePreferences(ctx context.Context, p *models.UserPreference) error {
	return r.store.UpsertPreferences(ctx, p)
}

func (r *registry) SetLanguage(ctx context.Context, userID int64, language string) error {
	p, err := r.store.GetPreferences(ctx, userID)
	if err != nil {
		return err
	}
	p.Language = language
	p.LanguageChosen = true
	return r.store.UpsertPreferences(ctx, p)
}

func (r *registry) ToggleMessages(ctx context.Context, userID int64) (bool, error) {
	p, err := r.store.GetPreferences(ctx, userID)
	if err != nil {
		return false, err
	}
	p.AcceptsMessages = !p.AcceptsMessages
	if err := r.store.UpsertPreferences(ctx, p); err != nil {
		return false, err
	}
	return p.AcceptsMessages, nil
}

func (r *registry) ToggleMedia(ctx context.Context, userID int64) (bool, error) {
	p, err := r.store.GetPreferences(ctx, userID)
	if err != nil {
		return false, err
	}
	p.AcceptsMedia = !p.AcceptsMedia
	if err := r.store.UpsertPreferences(ctx, p); err != nil {
		return false, err
	}
	return p.AcceptsMedia, nil
}

// CheckDelivery enforces the receiver's policy. Blocks win over preference
// toggles, and the message toggle wins over the media toggle, so the sender
// always learns the strongest applicable denial.
func (r *registry) CheckDelivery(ctx context.Context, senderID, receiverID int64, hasMedia bool) error {
	blocked, err := r.store.IsBlocked(ctx, receiverID, senderID)
	if err != nil {
		return fmt.Errorf("failed to check block state: %w", err)
	}
	if blocked {
		return errors.NewPolicyDenied(errors.PolicyBlocked)
	}

	prefs, err := r.store.GetPreferences(ctx, receiverID)
	if err != nil {
		return fmt.Errorf("failed to load receiver preferences: %w", err)
	}
	if !prefs.AcceptsMessages {
		return errors.NewPolicyDenied(errors.PolicyMessagesDisabled)
	}
	if hasMedia && !prefs.AcceptsMedia {
		return errors.NewPolicyDenied(errors.PolicyMediaDisabled)
	}

	return nil
}

func (r *registry) Block(ctx context.Context, blockerID, senderID int64, reasonMsgID *int64) error {
	return r.store.BlockSender(ctx, blockerID, senderID, reasonMsgID)
}

func (r *registry) Unblock(ctx context.Context, blockerID, senderID int64) (bool, error) {
	return r.store.UnblockSender(ctx, blockerID, senderID)
}

func (r *registry) UnblockByIndex(ctx context.Context, blockerID int64, index int) (*models.BlockEntry, error) {
	return r.store.UnblockByIndex(ctx, blockerID, index)
}

func (r *registry) ListBlocks(ctx context.Context, blockerID int64) ([]models.BlockEntry, error) {
	return r.store.ListBlocks(ctx, blockerID)
}
