package service

import (
	"context"
	"time"

	"anonrelay/internal/models"
)

// Store is the persistence surface the services consume.
type Store interface {
	RecordDelivery(ctx context.Context, link *models.LinkRecord) error
	GetLinkByDelivered(ctx context.Context, deliveredMsgID, deliveredChatID int64) (*models.LinkRecord, error)
	GetLinkByPoll(ctx context.Context, pollID string) (*models.LinkRecord, error)

	AssignPseudonym(ctx context.Context, x, y int64, poolSize int, freshness time.Duration) (string, error)
	GetPairToken(ctx context.Context, x, y int64) (string, error)
	TouchPairSession(ctx context.Context, x, y int64) error
	ReleasePairSession(ctx context.Context, x, y int64) error

	CheckAndReserveCooldown(ctx context.Context, senderID, receiverID int64, cooldown time.Duration) (bool, int, error)

	BlockSender(ctx context.Context, blockerID, senderID int64, reasonMsgID *int64) error
	UnblockSender(ctx context.Context, blockerID, senderID int64) (bool, error)
	UnblockByIndex(ctx context.Context, blockerID int64, index int) (*models.BlockEntry, error)
	IsBlocked(ctx context.Context, blockerID, senderID int64) (bool, error)
	ListBlocks(ctx context.Context, blockerID int64) ([]models.BlockEntry, error)

	GetPreferences(ctx context.Context, userID int64) (*models.UserPreference, error)
	UpsertPreferences(ctx context.Context, p *models.UserPreference) error

	GetGlobalConfig(ctx context.Context, key string) (string, error)
	SetGlobalConfig(ctx context.Context, key, value string) error

	ListUserIDs(ctx context.Context) ([]int64, error)
	GetStats(ctx context.Context) (*models.AdminStats, error)
	CleanupOldRecords(ctx context.Context, retentionDays int) error
}
