package models

// DraftPhase is the composition state a user is currently in.
type DraftPhase string

const (
	PhaseIdle             DraftPhase = "idle"
	PhaseWritingMessage   DraftPhase = "writing_message"
	PhaseConfirmingMedia  DraftPhase = "confirming_media"
	PhaseCustomizingDraw  DraftPhase = "customizing_draw"
	PhaseAwaitingCooldown DraftPhase = "setting_cooldown"
)

// ArtifactKind identifies what a pending generated artifact is.
type ArtifactKind string

const (
	ArtifactVoice ArtifactKind = "voice"
	ArtifactImage ArtifactKind = "image"
	ArtifactCard  ArtifactKind = "card"
)

// PendingArtifact is a generated file awaiting the sender's confirmation.
type PendingArtifact struct {
	Kind        ArtifactKind `json:"kind"`
	Path        string       `json:"path"`
	Prompt      string       `json:"prompt"`
	OriginalRef string       `json:"originalRef,omitempty"`
	OriginalID  int64        `json:"originalId,omitempty"`
}

// DrawSettings customizes card rendering before confirmation.
type DrawSettings struct {
	Text         string `json:"text"`
	CustomBGPath string `json:"customBgPath,omitempty"`
	YPosition    int    `json:"yPosition"`
	TextColor    string `json:"textColor"`
	UseBG        bool   `json:"useBg"`
}

// Draft carries everything the compose flow knows about the message a user
// is preparing. Committed guards against double confirmation; Generation
// increments on each cancel so late generator results are discarded.
type Draft struct {
	Phase         DraftPhase       `json:"phase"`
	TargetID      int64            `json:"targetId"`
	TargetName    string           `json:"targetName,omitempty"`
	Pseudonym     string           `json:"pseudonym,omitempty"`
	ReplyToID     *int64           `json:"replyToId,omitempty"`
	Artifact      *PendingArtifact `json:"artifact,omitempty"`
	Draw          *DrawSettings    `json:"draw,omitempty"`
	LastConfMsgID int64            `json:"lastConfMsgId,omitempty"`
	LastConfMedia bool             `json:"lastConfMedia,omitempty"`
	Committed     bool             `json:"committed"`
	Generation    uint64           `json:"generation"`
}
