package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"anonrelay/internal/errors"
	"anonrelay/internal/models"
	"anonrelay/pkg/transport"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockEventHandler struct {
	mock.Mock
}

func (m *MockEventHandler) HandleMessage(ctx context.Context, ev transport.MessageEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockEventHandler) HandleCallback(ctx context.Context, ev transport.CallbackEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockEventHandler) HandleReaction(ctx context.Context, ev transport.ReactionEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockEventHandler) HandlePollAnswer(ctx context.Context, ev transport.PollAnswerEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func newTestServer(secret string) (*Server, *MockEventHandler) {
	handler := new(MockEventHandler)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &models.Config{}
	cfg.Gateway.WebhookSecret = secret
	cfg.Server.Port = 8080

	return NewServer(cfg, handler, logger), handler
}

func TestServer_HandleHealth(t *testing.T) {
	server, _ := newTestServer("")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestServer_WebhookMessage(t *testing.T) {
	server, handler := newTestServer("")
	handler.On("HandleMessage", mock.Anything, mock.MatchedBy(func(ev transport.MessageEvent) bool {
		return ev.SenderID == 1 && ev.Text == "hello"
	})).Return(nil)

	body := bytes.NewBufferString(`{"messageId": 10, "chatId": 1, "senderId": 1, "text": "hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/message", body)
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	handler.AssertExpectations(t)
}

func TestServer_WebhookRejectsBadSecret(t *testing.T) {
	server, handler := newTestServer("super-secret")

	body := bytes.NewBufferString(`{"messageId": 10, "chatId": 1, "senderId": 1}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/message", body)
	req.Header.Set("X-Webhook-Secret", "wrong")
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	handler.AssertNotCalled(t, "HandleMessage", mock.Anything, mock.Anything)
}

func TestServer_WebhookAcceptsCorrectSecret(t *testing.T) {
	server, handler := newTestServer("super-secret")
	handler.On("HandleMessage", mock.Anything, mock.Anything).Return(nil)

	body := bytes.NewBufferString(`{"messageId": 10, "chatId": 1, "senderId": 1}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/message", body)
	req.Header.Set("X-Webhook-Secret", "super-secret")
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	handler.AssertExpectations(t)
}

func TestServer_WebhookRejectsMalformedJSON(t *testing.T) {
	server, handler := newTestServer("")

	req := httptest.NewRequest(http.MethodPost, "/webhook/message", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	handler.AssertNotCalled(t, "HandleMessage", mock.Anything, mock.Anything)
}

func TestServer_WebhookErrorStatusFromCode(t *testing.T) {
	server, handler := newTestServer("")
	handler.On("HandlePollAnswer", mock.Anything, mock.Anything).
		Return(errors.New(errors.ErrCodeNotFound, "unknown poll"))

	body := bytes.NewBufferString(`{"pollId": "p-1", "voterId": 2, "optionIds": [0]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/poll-answer", body)
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestServer_WebhookCallbackAndReaction(t *testing.T) {
	server, handler := newTestServer("")
	handler.On("HandleCallback", mock.Anything, mock.MatchedBy(func(ev transport.CallbackEvent) bool {
		return ev.Data == "confirm"
	})).Return(nil)
	handler.On("HandleReaction", mock.Anything, mock.MatchedBy(func(ev transport.ReactionEvent) bool {
		return ev.Emoji == "👍"
	})).Return(nil)

	cb := bytes.NewBufferString(`{"callbackId": "cb1", "messageId": 5, "chatId": 1, "senderId": 1, "data": "confirm"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/callback", cb)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	re := bytes.NewBufferString(`{"messageId": 5, "chatId": 1, "senderId": 1, "emoji": "👍"}`)
	req = httptest.NewRequest(http.MethodPost, "/webhook/reaction", re)
	w = httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	handler.AssertExpectations(t)
}

func TestServer_WebhookRejectsWrongMethod(t *testing.T) {
	server, _ := newTestServer("")

	req := httptest.NewRequest(http.MethodGet, "/webhook/message", nil)
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
