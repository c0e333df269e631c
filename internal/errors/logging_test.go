package errors

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger()

	assert.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)

	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok, "Logger should use JSON formatter")
}

func TestLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)

	tests := []struct {
		name             string
		err              error
		message          string
		fields           []logrus.Fields
		expectedInOutput []string
	}{
		{
			name:    "AppError with context",
			err:     NewCooldownDenied(30),
			message: "Delivery denied",
			fields:  []logrus.Fields{{"receiver_id": "456"}},
			expectedInOutput: []string{
				`"level":"error"`,
				`"error_code":"POLICY_DENIED"`,
				`"retryable":false`,
				`"reason":"cooldown"`,
				`"remaining_sec":30`,
				`"receiver_id":"456"`,
				`"msg":"Delivery denied"`,
			},
		},
		{
			name:    "standard error",
			err:     errors.New("something went wrong"),
			message: "Operation failed",
			expectedInOutput: []string{
				`"level":"error"`,
				`"msg":"Operation failed"`,
				`"error":"something went wrong"`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			logger.LogError(tt.err, tt.message, tt.fields...)

			output := buf.String()
			for _, expected := range tt.expectedInOutput {
				assert.Contains(t, output, expected)
			}
		})
	}
}

func TestLogger_LogRetryableError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)

	logger.LogRetryableError(WrapRetryable(errors.New("timeout"), ErrCodeTransportFailed, "send failed"), "Gateway call failed")
	assert.Contains(t, buf.String(), `"level":"warning"`)

	buf.Reset()
	logger.LogRetryableError(New(ErrCodePolicyDenied, "denied"), "Delivery denied")
	assert.Contains(t, buf.String(), `"level":"error"`)
}

func TestLogger_WithError(t *testing.T) {
	logger := NewLogger()

	entry := logger.WithError(New(ErrCodeNotFound, "link not found"))

	assert.Equal(t, ErrCodeNotFound, entry.Data["error_code"])
	assert.Equal(t, false, entry.Data["retryable"])
}
