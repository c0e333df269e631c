package privacy

import (
	"strconv"
	"strings"

	"anonrelay/internal/constants"
)

// MaskUserID masks a numeric user identifier showing only the last 4 digits.
// Example: 123456789 -> "*****6789"
func MaskUserID(userID int64) string {
	return maskString(strconv.FormatInt(userID, 10), constants.DefaultIDMaskLength)
}

// MaskChatID masks a chat identifier. Negative group chat IDs keep the sign.
func MaskChatID(chatID int64) string {
	s := strconv.FormatInt(chatID, 10)
	if strings.HasPrefix(s, "-") {
		return "-" + maskString(s[1:], constants.DefaultIDMaskLength)
	}
	return maskString(s, constants.DefaultIDMaskLength)
}

// MaskToken masks a pseudonym or API token keeping the last 3 characters.
func MaskToken(token string) string {
	return maskString(token, 3)
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{})
	for k, v := range fields {
		switch k {
		case "user_id", "userId", "sender_id", "senderId", "receiver_id", "receiverId":
			masked[k] = maskValue(v)
		case "chat_id", "chatId":
			masked[k] = maskValue(v)
		case "token", "api_key", "secret":
			if s, ok := v.(string); ok {
				masked[k] = MaskToken(s)
			} else {
				masked[k] = v
			}
		default:
			masked[k] = v
		}
	}

	return masked
}

func maskValue(v interface{}) interface{} {
	switch n := v.(type) {
	case int64:
		return MaskUserID(n)
	case int:
		return MaskUserID(int64(n))
	case string:
		return maskString(n, constants.DefaultIDMaskLength)
	default:
		return v
	}
}
