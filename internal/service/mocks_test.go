package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"anonrelay/internal/models"
	"anonrelay/pkg/mediagen"
	"anonrelay/pkg/transport"
)

// fakeStore is an in-memory Store for service tests.
type fakeStore struct {
	mu sync.Mutex

	links     map[[2]int64]*models.LinkRecord
	tokens    map[[2]int64]string
	cooldowns map[[2]int64]int64
	blocks    map[int64][]models.BlockEntry
	prefs     map[int64]*models.UserPreference
	global    map[string]string

	nextToken     int
	assignErr     error
	cleanupCalls  int
	lastRetention int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		links:     make(map[[2]int64]*models.LinkRecord),
		tokens:    make(map[[2]int64]string),
		cooldowns: make(map[[2]int64]int64),
		blocks:    make(map[int64][]models.BlockEntry),
		prefs:     make(map[int64]*models.UserPreference),
		global:    make(map[string]string),
	}
}

func (f *fakeStore) RecordDelivery(ctx context.Context, link *models.LinkRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *link
	f.links[[2]int64{link.DeliveredMsgID, link.DeliveredChatID}] = &cp
	return nil
}

func (f *fakeStore) GetLinkByDelivered(ctx context.Context, msgID, chatID int64) (*models.LinkRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[[2]int64{msgID, chatID}]
	if !ok {
		return nil, nil
	}
	cp := *link
	return &cp, nil
}

func (f *fakeStore) GetLinkByPoll(ctx context.Context, pollID string) (*models.LinkRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, link := range f.links {
		if link.PollID != nil && *link.PollID == pollID {
			cp := *link
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) AssignPseudonym(ctx context.Context, x, y int64, poolSize int, freshness time.Duration) (string, error) {
	if f.assignErr != nil {
		return "", f.assignErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, b := models.NormalizePair(x, y)
	if token, ok := f.tokens[[2]int64{a, b}]; ok {
		return token, nil
	}
	f.nextToken++
	token := fmt.Sprintf("№%03d", f.nextToken)
	f.tokens[[2]int64{a, b}] = token
	return token, nil
}

func (f *fakeStore) GetPairToken(ctx context.Context, x, y int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, b := models.NormalizePair(x, y)
	return f.tokens[[2]int64{a, b}], nil
}

func (f *fakeStore) TouchPairSession(ctx context.Context, x, y int64) error {
	return nil
}

func (f *fakeStore) ReleasePairSession(ctx context.Context, x, y int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, b := models.NormalizePair(x, y)
	delete(f.tokens, [2]int64{a, b})
	return nil
}

func (f *fakeStore) CheckAndReserveCooldown(ctx context.Context, senderID, receiverID int64, cooldown time.Duration) (bool, int, error) {
	if cooldown <= 0 {
		return true, 0, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().Unix()
	key := [2]int64{senderID, receiverID}
	if last, ok := f.cooldowns[key]; ok {
		elapsed := now - last
		if elapsed < int64(cooldown.Seconds()) {
			return false, int(int64(cooldown.Seconds()) - elapsed), nil
		}
	}
	f.cooldowns[key] = now
	return true, 0, nil
}

func (f *fakeStore) reservationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cooldowns)
}

func (f *fakeStore) BlockSender(ctx context.Context, blockerID, senderID int64, reasonMsgID *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.blocks[blockerID] {
		if e.BlockedSenderID == senderID {
			return nil
		}
	}
	f.blocks[blockerID] = append(f.blocks[blockerID], models.BlockEntry{
		BlockerID:       blockerID,
		BlockedSenderID: senderID,
		BlockedAt:       time.Now().UTC(),
		ReasonMsgID:     reasonMsgID,
	})
	return nil
}

func (f *fakeStore) UnblockSender(ctx context.Context, blockerID, senderID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.blocks[blockerID]
	for i, e := range entries {
		if e.BlockedSenderID == senderID {
			f.blocks[blockerID] = append(entries[:i], entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) UnblockByIndex(ctx context.Context, blockerID int64, index int) (*models.BlockEntry, error) {
	f.mu.Lock()
	entries := f.blocks[blockerID]
	if index < 1 || index > len(entries) {
		f.mu.Unlock()
		return nil, nil
	}
	entry := entries[index-1]
	f.mu.Unlock()
	if _, err := f.UnblockSender(ctx, blockerID, entry.BlockedSenderID); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (f *fakeStore) IsBlocked(ctx context.Context, blockerID, senderID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.blocks[blockerID] {
		if e.BlockedSenderID == senderID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListBlocks(ctx context.Context, blockerID int64) ([]models.BlockEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.BlockEntry(nil), f.blocks[blockerID]...), nil
}

func (f *fakeStore) GetPreferences(ctx context.Context, userID int64) (*models.UserPreference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.prefs[userID]; ok {
		cp := *p
		return &cp, nil
	}
	return models.DefaultPreferences(userID), nil
}

func (f *fakeStore) UpsertPreferences(ctx context.Context, p *models.UserPreference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.prefs[p.UserID] = &cp
	return nil
}

func (f *fakeStore) GetGlobalConfig(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.global[key], nil
}

func (f *fakeStore) SetGlobalConfig(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.global[key] = value
	return nil
}

func (f *fakeStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, 0, len(f.prefs))
	for id := range f.prefs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) GetStats(ctx context.Context) (*models.AdminStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.AdminStats{
		TotalUsers:      int64(len(f.prefs)),
		TotalDeliveries: int64(len(f.links)),
		TotalBlocks:     int64(len(f.blocks)),
	}, nil
}

func (f *fakeStore) CleanupOldRecords(ctx context.Context, retentionDays int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupCalls++
	f.lastRetention = retentionDays
	return nil
}

// sentMessage records one outbound client call.
type sentMessage struct {
	Kind      string
	ChatID    int64
	Text      string
	Media     []transport.MediaInput
	Poll      *transport.PollInput
	MessageID int64
	Opts      *transport.SendOptions
}

// fakeClient is an in-memory transport.Client that records every send.
type fakeClient struct {
	mu     sync.Mutex
	sent   []sentMessage
	nextID int64

	failEffectSends bool
	failAllSends    bool

	reactions []sentMessage
	deleted   []sentMessage
	callbacks []string

	chatNames map[int64]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{nextID: 1000}
}

func (c *fakeClient) record(msg sentMessage) *transport.Delivered {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	msg.MessageID = c.nextID
	c.sent = append(c.sent, msg)
	return &transport.Delivered{MessageID: c.nextID, ChatID: msg.ChatID}
}

func (c *fakeClient) GetChatInfo(ctx context.Context, chatID int64) (*transport.ChatInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &transport.ChatInfo{ChatID: chatID, DisplayName: c.chatNames[chatID]}, nil
}

func (c *fakeClient) sentMessages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

func (c *fakeClient) SendText(ctx context.Context, chatID int64, text string, opts *transport.SendOptions) (*transport.Delivered, error) {
	if c.failAllSends {
		return nil, fmt.Errorf("send failed")
	}
	if c.failEffectSends && opts != nil && opts.EffectID != "" {
		return nil, fmt.Errorf("effect not supported")
	}
	return c.record(sentMessage{Kind: "text", ChatID: chatID, Text: text, Opts: opts}), nil
}

func (c *fakeClient) SendMedia(ctx context.Context, chatID int64, media transport.MediaInput, opts *transport.SendOptions) (*transport.Delivered, error) {
	if c.failAllSends {
		return nil, fmt.Errorf("send failed")
	}
	return c.record(sentMessage{Kind: "media", ChatID: chatID, Media: []transport.MediaInput{media}, Opts: opts}), nil
}

func (c *fakeClient) SendMediaGroup(ctx context.Context, chatID int64, media []transport.MediaInput, opts *transport.SendOptions) ([]transport.Delivered, error) {
	if c.failAllSends {
		return nil, fmt.Errorf("send failed")
	}
	delivered := make([]transport.Delivered, 0, len(media))
	for _, m := range media {
		dv := c.record(sentMessage{Kind: "media", ChatID: chatID, Media: []transport.MediaInput{m}, Opts: opts})
		delivered = append(delivered, *dv)
	}
	return delivered, nil
}

func (c *fakeClient) SendPoll(ctx context.Context, chatID int64, poll transport.PollInput, opts *transport.SendOptions) (*transport.Delivered, error) {
	if c.failAllSends {
		return nil, fmt.Errorf("send failed")
	}
	dv := c.record(sentMessage{Kind: "poll", ChatID: chatID, Poll: &poll, Opts: opts})
	dv.PollID = fmt.Sprintf("poll-%d", dv.MessageID)
	return dv, nil
}

func (c *fakeClient) CopyMessage(ctx context.Context, toChatID, fromChatID, messageID int64, opts *transport.SendOptions) (*transport.Delivered, error) {
	if c.failAllSends {
		return nil, fmt.Errorf("send failed")
	}
	return c.record(sentMessage{Kind: "copy", ChatID: toChatID, MessageID: messageID, Opts: opts}), nil
}

func (c *fakeClient) ForwardMessage(ctx context.Context, toChatID, fromChatID, messageID int64) (*transport.Delivered, error) {
	if c.failAllSends {
		return nil, fmt.Errorf("send failed")
	}
	return c.record(sentMessage{Kind: "forward", ChatID: toChatID, MessageID: messageID}), nil
}

func (c *fakeClient) SetReaction(ctx context.Context, chatID, messageID int64, emoji string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reactions = append(c.reactions, sentMessage{Kind: "reaction", ChatID: chatID, MessageID: messageID, Text: emoji})
	return nil
}

func (c *fakeClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, sentMessage{Kind: "delete", ChatID: chatID, MessageID: messageID})
	return nil
}

func (c *fakeClient) EditReplyMarkup(ctx context.Context, chatID, messageID int64, keyboard [][]transport.Button) error {
	return nil
}

func (c *fakeClient) AnswerCallback(ctx context.Context, callbackID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, callbackID)
	return nil
}

// fakeGenerator is an in-memory mediagen.Generator. onGenerate, when set,
// runs once after the next artifact is produced, outside the generator lock,
// so tests can interleave work with an in-flight generation.
type fakeGenerator struct {
	mu         sync.Mutex
	genErr     error
	counter    int
	cleaned    []string
	produced   []string
	onGenerate func()
}

func (g *fakeGenerator) Generate(ctx context.Context, req mediagen.Request) (*mediagen.Artifact, error) {
	g.mu.Lock()
	if g.genErr != nil {
		g.mu.Unlock()
		return nil, g.genErr
	}
	g.counter++
	path := fmt.Sprintf("/tmp/fake-%s-%d", req.Kind, g.counter)
	g.produced = append(g.produced, path)
	hook := g.onGenerate
	g.onGenerate = nil
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	return &mediagen.Artifact{Kind: req.Kind, Path: path}, nil
}

func (g *fakeGenerator) Cleanup(artifact *mediagen.Artifact) error {
	if artifact == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleaned = append(g.cleaned, artifact.Path)
	return nil
}

func (g *fakeGenerator) cleanedPaths() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cleaned...)
}
