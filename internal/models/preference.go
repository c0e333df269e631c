package models

// UserPreference holds per-user delivery and composition settings.
// Absent rows are materialized with DefaultPreferences.
type UserPreference struct {
	UserID int64 `json:"userId"`

	// Language is the locale used for texts sent to the user. LanguageChosen
	// marks an explicit pick, which stops client-locale adoption from
	// overriding it later.
	Language       string `json:"language"`
	LanguageChosen bool   `json:"languageChosen"`

	AcceptsMessages  bool   `json:"acceptsMessages"`
	AcceptsMedia     bool   `json:"acceptsMedia"`
	AutoVoice        bool   `json:"autoVoice"`
	VoiceProfile     string `json:"voiceProfile"`
	SkipConfirmVoice bool   `json:"skipConfirmVoice"`
	SkipConfirmMedia bool   `json:"skipConfirmMedia"`
	AnonymizeAudio   bool   `json:"anonymizeAudio"`
}

// DefaultPreferences returns the settings applied to a user with no stored row.
func DefaultPreferences(userID int64) *UserPreference {
	return &UserPreference{
		UserID:          userID,
		Language:        "en",
		AcceptsMessages: true,
		AcceptsMedia:    true,
		VoiceProfile:    "m",
		AnonymizeAudio:  true,
	}
}
