package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskUserID(t *testing.T) {
	assert.Equal(t, "*****6789", MaskUserID(123456789))
	assert.Equal(t, "**3456", MaskUserID(123456))
}

func TestMaskUserIDShort(t *testing.T) {
	assert.Equal(t, "****", MaskUserID(1234))
	assert.Equal(t, "**", MaskUserID(42))
	assert.Equal(t, "*", MaskUserID(7))
}

func TestMaskChatID(t *testing.T) {
	assert.Equal(t, "*****6789", MaskChatID(123456789))
	assert.Equal(t, "-*****6789", MaskChatID(-123456789))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "**001", MaskToken("№001"))
	assert.Equal(t, "***", MaskToken("abc"))
	assert.Equal(t, "", MaskToken(""))
}

func TestMaskSensitiveFields(t *testing.T) {
	fields := map[string]interface{}{
		"user_id":   int64(123456789),
		"chat_id":   987654321,
		"token":     "secret-token",
		"plain":     "untouched",
		"remaining": 42,
	}

	masked := MaskSensitiveFields(fields)

	assert.Equal(t, "*****6789", masked["user_id"])
	assert.Equal(t, "*****4321", masked["chat_id"])
	assert.Equal(t, "*********ken", masked["token"])
	assert.Equal(t, "untouched", masked["plain"])
	assert.Equal(t, 42, masked["remaining"])

	assert.Nil(t, MaskSensitiveFields(nil))
}
