package models

import "time"

// BlockEntry records that Blocker refuses delivery from BlockedSender.
// ReasonMsgID points at the blocker's copy of the message that prompted
// the block, when one exists.
type BlockEntry struct {
	BlockerID       int64     `json:"blockerId"`
	BlockedSenderID int64     `json:"blockedSenderId"`
	BlockedAt       time.Time `json:"blockedAt"`
	ReasonMsgID     *int64    `json:"reasonMsgId,omitempty"`
}
