package service

import (
	"context"
	"strconv"

	"anonrelay/internal/constants"
	"anonrelay/internal/errors"
	"anonrelay/internal/l10n"
	"anonrelay/internal/models"
	"anonrelay/pkg/transport"

	"github.com/sirupsen/logrus"
)

// Admin exposes the operator surface: stats, broadcast, global cooldown.
type Admin struct {
	store   Store
	client  transport.Client
	catalog *l10n.Catalog
	logger  *logrus.Logger
	userIDs map[int64]bool
}

func NewAdmin(store Store, client transport.Client, catalog *l10n.Catalog, logger *logrus.Logger, adminUserIDs []int64) *Admin {
	ids := make(map[int64]bool, len(adminUserIDs))
	for _, id := range adminUserIDs {
		ids[id] = true
	}

	return &Admin{
		store:   store,
		client:  client,
		catalog: catalog,
		logger:  logger,
		userIDs: ids,
	}
}

// IsAdmin reports whether the user may use operator commands.
func (a *Admin) IsAdmin(userID int64) bool {
	return a.userIDs[userID]
}

// Stats collects and renders the usage summary.
func (a *Admin) Stats(ctx context.Context, userID int64, lang string) (string, error) {
	if !a.IsAdmin(userID) {
		return "", errors.New(errors.ErrCodeAuthorization, "not an admin")
	}

	stats, err := a.store.GetStats(ctx)
	if err != nil {
		return "", err
	}

	return a.catalog.Format(lang, "admin.stats", map[string]string{
		"users":      strconv.FormatInt(stats.TotalUsers, 10),
		"deliveries": strconv.FormatInt(stats.TotalDeliveries, 10),
		"sessions":   strconv.FormatInt(stats.ActiveSessions, 10),
		"blocks":     strconv.FormatInt(stats.TotalBlocks, 10),
		"today":      strconv.FormatInt(stats.DeliveriesToday, 10),
	}), nil
}

// RawStats returns the unrendered summary.
func (a *Admin) RawStats(ctx context.Context, userID int64) (*models.AdminStats, error) {
	if !a.IsAdmin(userID) {
		return nil, errors.New(errors.ErrCodeAuthorization, "not an admin")
	}
	return a.store.GetStats(ctx)
}

// SetGlobalCooldown stores the global per-pair cooldown in seconds.
func (a *Admin) SetGlobalCooldown(ctx context.Context, userID int64, seconds int) error {
	if !a.IsAdmin(userID) {
		return errors.New(errors.ErrCodeAuthorization, "not an admin")
	}
	if seconds < 0 {
		return errors.NewValidationError("cooldown", strconv.Itoa(seconds), "must be non-negative")
	}

	return a.store.SetGlobalConfig(ctx, constants.GlobalCooldownKey, strconv.Itoa(seconds))
}

// Broadcast copies the given message to every known user. Failed copies are
// logged and skipped; the count of successful deliveries is returned.
func (a *Admin) Broadcast(ctx context.Context, userID, fromChatID, messageID int64) (int, error) {
	if !a.IsAdmin(userID) {
		return 0, errors.New(errors.ErrCodeAuthorization, "not an admin")
	}

	ids, err := a.store.ListUserIDs(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, id := range ids {
		if id == userID {
			continue
		}
		if _, err := a.client.CopyMessage(ctx, id, fromChatID, messageID, nil); err != nil {
			a.logger.WithError(err).WithField("user_id", id).Warn("Broadcast copy failed")
			continue
		}
		sent++
	}

	a.logger.WithFields(logrus.Fields{"recipients": sent, "total": len(ids)}).Info("Broadcast completed")
	return sent, nil
}
