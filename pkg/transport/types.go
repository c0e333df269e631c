package transport

// Delivered describes one message accepted by the gateway.
type Delivered struct {
	MessageID int64  `json:"messageId"`
	ChatID    int64  `json:"chatId"`
	PollID    string `json:"pollId,omitempty"`
}

// ChatInfo is the gateway's public view of a chat or user.
type ChatInfo struct {
	ChatID      int64  `json:"chatId"`
	DisplayName string `json:"displayName,omitempty"`
	Username    string `json:"username,omitempty"`
}

// Button is one inline keyboard button.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callbackData"`
}

// SendOptions carries the optional knobs shared by all send calls.
type SendOptions struct {
	ReplyToID int64      `json:"replyToId,omitempty"`
	EffectID  string     `json:"effectId,omitempty"`
	Keyboard  [][]Button `json:"keyboard,omitempty"`
	Silent    bool       `json:"silent,omitempty"`
}

// MediaKind identifies the media payload type.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaVoice     MediaKind = "voice"
	MediaAudio     MediaKind = "audio"
	MediaDocument  MediaKind = "document"
	MediaAnimation MediaKind = "animation"
	MediaSticker   MediaKind = "sticker"
	MediaVideoNote MediaKind = "video_note"
)

// MediaInput references a media payload either by gateway content ref or by
// local file path. Exactly one of ContentRef and Path is set.
type MediaInput struct {
	Kind       MediaKind `json:"kind"`
	ContentRef string    `json:"contentRef,omitempty"`
	Path       string    `json:"path,omitempty"`
	Caption    string    `json:"caption,omitempty"`
}

// PollInput describes a poll to re-send on the recipient side.
type PollInput struct {
	Question        string   `json:"question"`
	Options         []string `json:"options"`
	Anonymous       bool     `json:"anonymous"`
	MultipleAnswers bool     `json:"multipleAnswers"`
}

// MessageEvent is an inbound user message pushed by the gateway webhook.
type MessageEvent struct {
	MessageID   int64       `json:"messageId"`
	ChatID      int64       `json:"chatId"`
	SenderID    int64       `json:"senderId"`
	SenderName  string      `json:"senderName,omitempty"`
	Text        string      `json:"text,omitempty"`
	Command     string      `json:"command,omitempty"`
	CommandArgs string      `json:"commandArgs,omitempty"`
	GroupID     string      `json:"mediaGroupId,omitempty"`
	ReplyToID   *int64      `json:"replyToId,omitempty"`
	Media       *MediaInput `json:"media,omitempty"`
	Poll        *PollInput  `json:"poll,omitempty"`
	Locale      string      `json:"locale,omitempty"`
}

// CallbackEvent is an inline keyboard button press.
type CallbackEvent struct {
	CallbackID string `json:"callbackId"`
	MessageID  int64  `json:"messageId"`
	ChatID     int64  `json:"chatId"`
	SenderID   int64  `json:"senderId"`
	Data       string `json:"data"`
	Locale     string `json:"locale,omitempty"`
}

// ReactionEvent is an emoji reaction set or removed on a message.
type ReactionEvent struct {
	MessageID int64  `json:"messageId"`
	ChatID    int64  `json:"chatId"`
	SenderID  int64  `json:"senderId"`
	Emoji     string `json:"emoji,omitempty"`
	Removed   bool   `json:"removed,omitempty"`
}

// PollAnswerEvent is a vote cast in a relayed poll.
type PollAnswerEvent struct {
	PollID    string `json:"pollId"`
	VoterID   int64  `json:"voterId"`
	OptionIDs []int  `json:"optionIds"`
}
