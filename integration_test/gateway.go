package integration_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// sentText is one /sendText request captured by the mock gateway.
type sentText struct {
	MessageID int64
	ChatID    int64
	Text      string
	ReplyToID int64
	EffectID  string
}

// mockGateway is an httptest server standing in for the bot gateway and the
// synthesis providers. It answers every endpoint the real clients call and
// keeps per-endpoint counters for assertions.
type mockGateway struct {
	server *httptest.Server

	mu        sync.Mutex
	nextMsgID int64
	requests  map[string]int
	failures  map[string]int
	texts      []sentText
	chatNames  map[int64]string
	lastPollID string
}

func newMockGateway() *mockGateway {
	g := &mockGateway{
		nextMsgID: 1000,
		requests:  make(map[string]int),
		failures:  make(map[string]int),
		chatNames: make(map[int64]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sendText", g.handleSendText)
	mux.HandleFunc("/sendMedia", g.handleDelivered("sendMedia"))
	mux.HandleFunc("/sendMediaGroup", g.handleSendMediaGroup)
	mux.HandleFunc("/sendPoll", g.handleSendPoll)
	mux.HandleFunc("/copyMessage", g.handleDelivered("copyMessage"))
	mux.HandleFunc("/forwardMessage", g.handleDelivered("forwardMessage"))
	mux.HandleFunc("/setReaction", g.handleAck("setReaction"))
	mux.HandleFunc("/deleteMessage", g.handleAck("deleteMessage"))
	mux.HandleFunc("/editReplyMarkup", g.handleAck("editReplyMarkup"))
	mux.HandleFunc("/answerCallback", g.handleAck("answerCallback"))
	mux.HandleFunc("/getChatInfo", g.handleGetChatInfo)
	mux.HandleFunc("/generate/voice", g.handleGenerate("voice", "audio/ogg"))
	mux.HandleFunc("/generate/image", g.handleGenerate("image", "image/png"))
	mux.HandleFunc("/generate/card", g.handleGenerate("card", "image/png"))

	g.server = httptest.NewServer(mux)
	return g
}

func (g *mockGateway) URL() string {
	return g.server.URL
}

func (g *mockGateway) Close() {
	g.server.Close()
}

// Requests returns how many calls reached the given endpoint.
func (g *mockGateway) Requests(endpoint string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[endpoint]
}

// FailNext makes the next n calls to an endpoint answer 500.
func (g *mockGateway) FailNext(endpoint string, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[endpoint] = n
}

// LastPollID returns the poll ID minted for the most recent /sendPoll.
func (g *mockGateway) LastPollID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastPollID
}

// SetChatName registers a display name answered by /getChatInfo.
func (g *mockGateway) SetChatName(chatID int64, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chatNames[chatID] = name
}

// TextsTo returns every text delivered to the given chat, in send order.
func (g *mockGateway) TextsTo(chatID int64) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var texts []string
	for _, s := range g.texts {
		if s.ChatID == chatID {
			texts = append(texts, s.Text)
		}
	}
	return texts
}

// LastTextTo returns the most recent text delivered to the given chat.
func (g *mockGateway) LastTextTo(chatID int64) (sentText, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := len(g.texts) - 1; i >= 0; i-- {
		if g.texts[i].ChatID == chatID {
			return g.texts[i], true
		}
	}
	return sentText{}, false
}

func (g *mockGateway) consumeFailure(endpoint string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failures[endpoint] > 0 {
		g.failures[endpoint]--
		return true
	}
	return false
}

func (g *mockGateway) record(endpoint string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests[endpoint]++
	g.nextMsgID++
	return g.nextMsgID
}

func (g *mockGateway) handleSendText(w http.ResponseWriter, r *http.Request) {
	if g.consumeFailure("sendText") {
		writeFailure(w)
		return
	}

	var payload struct {
		ChatID    int64  `json:"chatId"`
		Text      string `json:"text"`
		ReplyToID int64  `json:"replyToId"`
		EffectID  string `json:"effectId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeFailure(w)
		return
	}

	msgID := g.record("sendText")

	g.mu.Lock()
	g.texts = append(g.texts, sentText{
		MessageID: msgID,
		ChatID:    payload.ChatID,
		Text:      payload.Text,
		ReplyToID: payload.ReplyToID,
		EffectID:  payload.EffectID,
	})
	g.mu.Unlock()

	writeDelivered(w, msgID, payload.ChatID)
}

// handleDelivered covers the endpoints whose answer is a single delivery and
// whose payload the tests only count. Multipart uploads land here too.
func (g *mockGateway) handleDelivered(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.consumeFailure(endpoint) {
			writeFailure(w)
			return
		}

		var chatID int64
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var payload struct {
				ChatID   int64 `json:"chatId"`
				ToChatID int64 `json:"toChatId"`
			}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			chatID = payload.ChatID
			if payload.ToChatID != 0 {
				chatID = payload.ToChatID
			}
		}

		writeDelivered(w, g.record(endpoint), chatID)
	}
}

func (g *mockGateway) handleSendMediaGroup(w http.ResponseWriter, r *http.Request) {
	if g.consumeFailure("sendMediaGroup") {
		writeFailure(w)
		return
	}

	var payload struct {
		ChatID int64             `json:"chatId"`
		Media  []json.RawMessage `json:"media"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeFailure(w)
		return
	}

	parts := make([]string, 0, len(payload.Media))
	for range payload.Media {
		parts = append(parts, fmt.Sprintf(`{"messageId": %d, "chatId": %d}`, g.record("sendMediaGroup"), payload.ChatID))
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok": true, "result": [%s]}`, strings.Join(parts, ","))
}

func (g *mockGateway) handleSendPoll(w http.ResponseWriter, r *http.Request) {
	if g.consumeFailure("sendPoll") {
		writeFailure(w)
		return
	}

	var payload struct {
		ChatID int64 `json:"chatId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)

	msgID := g.record("sendPoll")
	pollID := fmt.Sprintf("poll-%d", msgID)

	g.mu.Lock()
	g.lastPollID = pollID
	g.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok": true, "result": {"messageId": %d, "chatId": %d, "pollId": %q}}`, msgID, payload.ChatID, pollID)
}

func (g *mockGateway) handleGetChatInfo(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ChatID int64 `json:"chatId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)
	g.record("getChatInfo")

	g.mu.Lock()
	name := g.chatNames[payload.ChatID]
	g.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok": true, "result": {"chatId": %d, "displayName": %q}}`, payload.ChatID, name)
}

func (g *mockGateway) handleAck(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.consumeFailure(endpoint) {
			writeFailure(w)
			return
		}

		g.record(endpoint)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok": true, "result": {}}`)
	}
}

// handleGenerate answers like a synthesis provider: raw artifact bytes.
func (g *mockGateway) handleGenerate(kind, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.consumeFailure("generate_" + kind) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "synthesis backend unavailable")
			return
		}

		g.record("generate_" + kind)
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte("artifact-bytes-" + kind))
	}
}

func writeDelivered(w http.ResponseWriter, msgID, chatID int64) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok": true, "result": {"messageId": %d, "chatId": %d}}`, msgID, chatID)
}

func writeFailure(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprint(w, `{"ok": false, "error": "temporary failure"}`)
}
