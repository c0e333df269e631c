package transport

import "context"

// Client is the outbound surface of the bot gateway.
type Client interface {
	SendText(ctx context.Context, chatID int64, text string, opts *SendOptions) (*Delivered, error)
	SendMedia(ctx context.Context, chatID int64, media MediaInput, opts *SendOptions) (*Delivered, error)
	SendMediaGroup(ctx context.Context, chatID int64, media []MediaInput, opts *SendOptions) ([]Delivered, error)
	SendPoll(ctx context.Context, chatID int64, poll PollInput, opts *SendOptions) (*Delivered, error)
	CopyMessage(ctx context.Context, toChatID, fromChatID, messageID int64, opts *SendOptions) (*Delivered, error)
	ForwardMessage(ctx context.Context, toChatID, fromChatID, messageID int64) (*Delivered, error)
	SetReaction(ctx context.Context, chatID, messageID int64, emoji string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	EditReplyMarkup(ctx context.Context, chatID, messageID int64, keyboard [][]Button) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	GetChatInfo(ctx context.Context, chatID int64) (*ChatInfo, error)
}
