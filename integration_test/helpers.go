package integration_test

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"anonrelay/pkg/transport"

	"github.com/stretchr/testify/require"
)

var nextEventID int64 = 1

func eventID() int64 {
	nextEventID++
	return nextEventID
}

func startCommand(senderID, targetID int64) transport.MessageEvent {
	return transport.MessageEvent{
		MessageID:   eventID(),
		ChatID:      senderID,
		SenderID:    senderID,
		Command:     "start",
		CommandArgs: strconv.FormatInt(targetID, 10),
	}
}

func textMessage(senderID int64, text string) transport.MessageEvent {
	return transport.MessageEvent{
		MessageID: eventID(),
		ChatID:    senderID,
		SenderID:  senderID,
		Text:      text,
	}
}

func callback(senderID int64, data string) transport.CallbackEvent {
	return transport.CallbackEvent{
		CallbackID: strconv.FormatInt(eventID(), 10),
		MessageID:  eventID(),
		ChatID:     senderID,
		SenderID:   senderID,
		Data:       data,
	}
}

// relayText runs the happy path from sender to receiver and returns the
// message ID of the relayed copy on the receiver side.
func (env *TestEnvironment) relayText(senderID, receiverID int64, text string) int64 {
	env.t.Helper()
	ctx := context.Background()

	require.NoError(env.t, env.Engine.HandleMessage(ctx, startCommand(senderID, receiverID)))
	require.NoError(env.t, env.Engine.HandleMessage(ctx, textMessage(senderID, text)))

	copyID := env.copyIDOf(receiverID, text)
	require.NotZero(env.t, copyID, "relayed copy not delivered")
	return copyID
}

// copyIDOf finds the relayed copy of the given text in the receiver's chat.
func (env *TestEnvironment) copyIDOf(receiverID int64, text string) int64 {
	env.t.Helper()

	env.Gateway.mu.Lock()
	defer env.Gateway.mu.Unlock()

	for i := len(env.Gateway.texts) - 1; i >= 0; i-- {
		s := env.Gateway.texts[i]
		if s.ChatID == receiverID && s.Text == text {
			return s.MessageID
		}
	}
	return 0
}

func requireContainsText(t *testing.T, texts []string, substr string) {
	t.Helper()
	for _, text := range texts {
		if strings.Contains(text, substr) {
			return
		}
	}
	t.Fatalf("no delivered text contains %q, got %v", substr, texts)
}
