package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// GatewayClient talks to the bot gateway's HTTP API.
type GatewayClient struct {
	baseURL string
	token   string
	client  *http.Client
}

type apiResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func NewClient(baseURL, token string, httpClient *http.Client) *GatewayClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &GatewayClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  httpClient,
	}
}

func (c *GatewayClient) SendText(ctx context.Context, chatID int64, text string, opts *SendOptions) (*Delivered, error) {
	payload := map[string]interface{}{
		"chatId": chatID,
		"text":   text,
	}
	applyOptions(payload, opts)

	return c.sendExpectDelivered(ctx, "/sendText", payload)
}

func (c *GatewayClient) SendMedia(ctx context.Context, chatID int64, media MediaInput, opts *SendOptions) (*Delivered, error) {
	if media.Path != "" {
		return c.uploadMedia(ctx, chatID, media, opts)
	}

	payload := map[string]interface{}{
		"chatId":     chatID,
		"kind":       media.Kind,
		"contentRef": media.ContentRef,
	}
	if media.Caption != "" {
		payload["caption"] = media.Caption
	}
	applyOptions(payload, opts)

	return c.sendExpectDelivered(ctx, "/sendMedia", payload)
}

func (c *GatewayClient) SendMediaGroup(ctx context.Context, chatID int64, media []MediaInput, opts *SendOptions) ([]Delivered, error) {
	payload := map[string]interface{}{
		"chatId": chatID,
		"media":  media,
	}
	applyOptions(payload, opts)

	raw, err := c.sendRequest(ctx, "/sendMediaGroup", payload)
	if err != nil {
		return nil, err
	}

	var delivered []Delivered
	if err := json.Unmarshal(raw, &delivered); err != nil {
		return nil, fmt.Errorf("failed to decode media group response: %w", err)
	}
	return delivered, nil
}

func (c *GatewayClient) SendPoll(ctx context.Context, chatID int64, poll PollInput, opts *SendOptions) (*Delivered, error) {
	payload := map[string]interface{}{
		"chatId": chatID,
		"poll":   poll,
	}
	applyOptions(payload, opts)

	return c.sendExpectDelivered(ctx, "/sendPoll", payload)
}

func (c *GatewayClient) CopyMessage(ctx context.Context, toChatID, fromChatID, messageID int64, opts *SendOptions) (*Delivered, error) {
	payload := map[string]interface{}{
		"toChatId":   toChatID,
		"fromChatId": fromChatID,
		"messageId":  messageID,
	}
	applyOptions(payload, opts)

	return c.sendExpectDelivered(ctx, "/copyMessage", payload)
}

func (c *GatewayClient) ForwardMessage(ctx context.Context, toChatID, fromChatID, messageID int64) (*Delivered, error) {
	payload := map[string]interface{}{
		"toChatId":   toChatID,
		"fromChatId": fromChatID,
		"messageId":  messageID,
	}

	return c.sendExpectDelivered(ctx, "/forwardMessage", payload)
}

func (c *GatewayClient) SetReaction(ctx context.Context, chatID, messageID int64, emoji string) error {
	payload := map[string]interface{}{
		"chatId":    chatID,
		"messageId": messageID,
		"emoji":     emoji,
	}

	_, err := c.sendRequest(ctx, "/setReaction", payload)
	return err
}

func (c *GatewayClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	payload := map[string]interface{}{
		"chatId":    chatID,
		"messageId": messageID,
	}

	_, err := c.sendRequest(ctx, "/deleteMessage", payload)
	return err
}

func (c *GatewayClient) EditReplyMarkup(ctx context.Context, chatID, messageID int64, keyboard [][]Button) error {
	payload := map[string]interface{}{
		"chatId":    chatID,
		"messageId": messageID,
		"keyboard":  keyboard,
	}

	_, err := c.sendRequest(ctx, "/editReplyMarkup", payload)
	return err
}

func (c *GatewayClient) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]interface{}{
		"callbackId": callbackID,
		"text":       text,
	}

	_, err := c.sendRequest(ctx, "/answerCallback", payload)
	return err
}

func (c *GatewayClient) GetChatInfo(ctx context.Context, chatID int64) (*ChatInfo, error) {
	payload := map[string]interface{}{
		"chatId": chatID,
	}

	raw, err := c.sendRequest(ctx, "/getChatInfo", payload)
	if err != nil {
		return nil, err
	}

	var info ChatInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to decode chat info response: %w", err)
	}
	return &info, nil
}

func (c *GatewayClient) uploadMedia(ctx context.Context, chatID int64, media MediaInput, opts *SendOptions) (*Delivered, error) {
	file, err := os.Open(media.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open media file: %w", err)
	}
	defer func() { _ = file.Close() }()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(media.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy file content: %w", err)
	}

	_ = writer.WriteField("chatId", fmt.Sprintf("%d", chatID))
	_ = writer.WriteField("kind", string(media.Kind))
	if media.Caption != "" {
		_ = writer.WriteField("caption", media.Caption)
	}
	if opts != nil {
		optsJSON, err := json.Marshal(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal send options: %w", err)
		}
		_ = writer.WriteField("options", string(optsJSON))
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/sendMedia", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	return c.doExpectDelivered(req)
}

func (c *GatewayClient) sendExpectDelivered(ctx context.Context, endpoint string, payload interface{}) (*Delivered, error) {
	raw, err := c.sendRequest(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}

	var delivered Delivered
	if err := json.Unmarshal(raw, &delivered); err != nil {
		return nil, fmt.Errorf("failed to decode delivery response: %w", err)
	}
	return &delivered, nil
}

func (c *GatewayClient) sendRequest(ctx context.Context, endpoint string, payload interface{}) (json.RawMessage, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return decodeResponse(resp)
}

func (c *GatewayClient) doExpectDelivered(req *http.Request) (*Delivered, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := decodeResponse(resp)
	if err != nil {
		return nil, err
	}

	var delivered Delivered
	if err := json.Unmarshal(raw, &delivered); err != nil {
		return nil, fmt.Errorf("failed to decode delivery response: %w", err)
	}
	return &delivered, nil
}

func (c *GatewayClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeResponse(resp *http.Response) (json.RawMessage, error) {
	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !result.OK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: result.Error}
	}

	return result.Result, nil
}

func applyOptions(payload map[string]interface{}, opts *SendOptions) {
	if opts == nil {
		return
	}
	if opts.ReplyToID != 0 {
		payload["replyToId"] = opts.ReplyToID
	}
	if opts.EffectID != "" {
		payload["effectId"] = opts.EffectID
	}
	if len(opts.Keyboard) > 0 {
		payload["keyboard"] = opts.Keyboard
	}
	if opts.Silent {
		payload["silent"] = true
	}
}

// APIError is a non-OK answer from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway request failed with status %d: %s", e.StatusCode, e.Message)
}
