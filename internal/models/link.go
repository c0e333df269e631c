package models

import "time"

// LinkRecord maps one delivered copy of a relayed message back to its true
// sender. Keyed by the recipient's copy (DeliveredMsgID, DeliveredChatID) so
// a reply, reaction, or report against that copy resolves in one lookup.
// Records are append-only: created at successful delivery, never mutated.
type LinkRecord struct {
	DeliveredMsgID  int64     `json:"deliveredMsgId"`
	DeliveredChatID int64     `json:"deliveredChatId"`
	SenderID        int64     `json:"senderId"`
	SenderMsgID     int64     `json:"senderMsgId"`
	SenderChatID    int64     `json:"senderChatId"`
	PollID          *string   `json:"pollId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}
