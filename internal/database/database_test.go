package database

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"anonrelay/internal/migrations"
	"anonrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestMigrations creates the schema file in a temporary directory
func setupTestMigrations(t *testing.T, tmpDir string) {
	migrationsDir := filepath.Join(tmpDir, "migrations")
	require.NoError(t, os.MkdirAll(migrationsDir, 0755))

	schema := `
CREATE TABLE IF NOT EXISTS message_links (
    delivered_msg_id INTEGER NOT NULL,
    delivered_chat_id INTEGER NOT NULL,
    sender_id INTEGER NOT NULL,
    sender_msg_id INTEGER NOT NULL,
    sender_chat_id INTEGER NOT NULL,
    poll_id TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (delivered_msg_id, delivered_chat_id)
);

CREATE INDEX IF NOT EXISTS idx_links_poll_id ON message_links(poll_id);
CREATE INDEX IF NOT EXISTS idx_links_created_at ON message_links(created_at);

CREATE TABLE IF NOT EXISTS pair_sessions (
    user_a INTEGER NOT NULL,
    user_b INTEGER NOT NULL,
    token TEXT NOT NULL,
    last_activity_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (user_a, user_b)
);

CREATE TABLE IF NOT EXISTS cooldowns (
    sender_id INTEGER NOT NULL,
    receiver_id INTEGER NOT NULL,
    last_sent_at INTEGER NOT NULL,
    PRIMARY KEY (sender_id, receiver_id)
);

CREATE TABLE IF NOT EXISTS user_blocks (
    blocker_id INTEGER NOT NULL,
    blocked_sender_id INTEGER NOT NULL,
    blocked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    reason_msg_id INTEGER,
    PRIMARY KEY (blocker_id, blocked_sender_id)
);

CREATE TABLE IF NOT EXISTS user_preferences (
    user_id INTEGER PRIMARY KEY,
    language TEXT NOT NULL DEFAULT 'en',
    language_chosen INTEGER NOT NULL DEFAULT 0,
    accepts_messages INTEGER NOT NULL DEFAULT 1,
    accepts_media INTEGER NOT NULL DEFAULT 1,
    auto_voice INTEGER NOT NULL DEFAULT 0,
    voice_profile TEXT NOT NULL DEFAULT 'm',
    skip_confirm_voice INTEGER NOT NULL DEFAULT 0,
    skip_confirm_media INTEGER NOT NULL DEFAULT 0,
    anonymize_audio INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS global_config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
	require.NoError(t, os.WriteFile(filepath.Join(migrationsDir, "001_initial_schema.sql"), []byte(schema), 0644))

	oldDir := migrations.MigrationsDir
	migrations.MigrationsDir = migrationsDir
	t.Cleanup(func() { migrations.MigrationsDir = oldDir })
}

func setupTestDB(t *testing.T) *Database {
	t.Setenv("ANONRELAY_ENABLE_ENCRYPTION", "true")
	t.Setenv("ANONRELAY_ENCRYPTION_SECRET", "test-secret-key-for-unit-tests-only-32chars")

	tmpDir := t.TempDir()
	setupTestMigrations(t, tmpDir)

	db, err := New(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestNewRejectsTraversal(t *testing.T) {
	_, err := New("../../../etc/anonrelay.db")
	assert.Error(t, err)

	_, err = New("")
	assert.Error(t, err)
}

func TestRecordDeliveryRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	link := &models.LinkRecord{
		DeliveredMsgID:  100,
		DeliveredChatID: 2,
		SenderID:        1,
		SenderMsgID:     10,
		SenderChatID:    1,
	}
	require.NoError(t, db.RecordDelivery(ctx, link))

	got, err := db.GetLinkByDelivered(ctx, 100, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.SenderID)
	assert.Equal(t, int64(10), got.SenderMsgID)
	assert.Equal(t, int64(1), got.SenderChatID)
	assert.Nil(t, got.PollID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetLinkByDeliveredMiss(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.GetLinkByDelivered(context.Background(), 42, 42)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecordDeliveryReplacesExisting(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := &models.LinkRecord{DeliveredMsgID: 100, DeliveredChatID: 2, SenderID: 1, SenderMsgID: 10, SenderChatID: 1}
	require.NoError(t, db.RecordDelivery(ctx, first))

	second := &models.LinkRecord{DeliveredMsgID: 100, DeliveredChatID: 2, SenderID: 3, SenderMsgID: 30, SenderChatID: 3}
	require.NoError(t, db.RecordDelivery(ctx, second))

	got, err := db.GetLinkByDelivered(ctx, 100, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.SenderID)
}

func TestGetLinkByPoll(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	pollID := "poll-abc"
	link := &models.LinkRecord{
		DeliveredMsgID:  200,
		DeliveredChatID: 2,
		SenderID:        1,
		SenderMsgID:     20,
		SenderChatID:    1,
		PollID:          &pollID,
	}
	require.NoError(t, db.RecordDelivery(ctx, link))

	got, err := db.GetLinkByPoll(ctx, "poll-abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(200), got.DeliveredMsgID)
	require.NotNil(t, got.PollID)
	assert.Equal(t, "poll-abc", *got.PollID)

	got, err = db.GetLinkByPoll(ctx, "no-such-poll")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPollIDEncryptedAtRest(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	pollID := "poll-secret"
	require.NoError(t, db.RecordDelivery(ctx, &models.LinkRecord{
		DeliveredMsgID: 1, DeliveredChatID: 1, SenderID: 2, SenderMsgID: 1, SenderChatID: 2,
		PollID: &pollID,
	}))

	var stored string
	err := db.db.QueryRow(`SELECT poll_id FROM message_links WHERE delivered_msg_id = 1`).Scan(&stored)
	require.NoError(t, err)
	assert.NotEqual(t, "poll-secret", stored)
}

func TestAssignPseudonymStable(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	token, err := db.AssignPseudonym(ctx, 1, 2, 456, 24*time.Hour)
	require.NoError(t, err)
	assert.Regexp(t, `^№\d{3}$`, token)

	// Same pair, both directions, same token.
	again, err := db.AssignPseudonym(ctx, 2, 1, 456, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	peek, err := db.GetPairToken(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, token, peek)
}

func TestAssignPseudonymDistinctPerPair(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first, err := db.AssignPseudonym(ctx, 1, 2, 2, 24*time.Hour)
	require.NoError(t, err)
	second, err := db.AssignPseudonym(ctx, 1, 3, 2, 24*time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestAssignPseudonymPoolExhaustion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first, err := db.AssignPseudonym(ctx, 1, 2, 1, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "№001", first)

	// Pool of one and one taken token: the collision is accepted.
	second, err := db.AssignPseudonym(ctx, 1, 3, 1, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "№001", second)
}

func TestAssignPseudonymIgnoresStaleSessions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first, err := db.AssignPseudonym(ctx, 1, 2, 1, 24*time.Hour)
	require.NoError(t, err)

	_, err = db.db.Exec(`UPDATE pair_sessions SET last_activity_at = ?`,
		time.Now().UTC().Add(-48*time.Hour))
	require.NoError(t, err)

	// The stale token is free again, so a pool of one still serves it
	// without falling into the exhaustion path.
	second, err := db.AssignPseudonym(ctx, 1, 3, 1, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPairTokenEncryptedAtRest(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	token, err := db.AssignPseudonym(ctx, 1, 2, 456, 24*time.Hour)
	require.NoError(t, err)

	var stored string
	err = db.db.QueryRow(`SELECT token FROM pair_sessions WHERE user_a = 1 AND user_b = 2`).Scan(&stored)
	require.NoError(t, err)
	assert.NotEqual(t, token, stored)
}

func TestReleasePairSession(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	token, err := db.AssignPseudonym(ctx, 1, 2, 456, 24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// Either side can end the session.
	require.NoError(t, db.ReleasePairSession(ctx, 2, 1))

	got, err := db.GetPairToken(ctx, 1, 2)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Releasing an already released pair is a no-op.
	require.NoError(t, db.ReleasePairSession(ctx, 1, 2))
}

func TestGetPairTokenMiss(t *testing.T) {
	db := setupTestDB(t)

	token, err := db.GetPairToken(context.Background(), 8, 9)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestCheckAndReserveCooldown(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	allowed, remaining, err := db.CheckAndReserveCooldown(ctx, 1, 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, remaining)

	allowed, remaining, err = db.CheckAndReserveCooldown(ctx, 1, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, remaining, 0)
	assert.LessOrEqual(t, remaining, 60)

	// The limit is per directed pair.
	allowed, _, err = db.CheckAndReserveCooldown(ctx, 1, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = db.CheckAndReserveCooldown(ctx, 2, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCheckAndReserveCooldownConcurrent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Racing reservations for the same pair must admit exactly one sender.
	const workers = 8
	for round := 0; round < 5; round++ {
		_, err := db.db.Exec(`DELETE FROM cooldowns`)
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make(chan bool, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				allowed, _, err := db.CheckAndReserveCooldown(ctx, 1, 2, time.Minute)
				assert.NoError(t, err)
				results <- allowed
			}()
		}
		wg.Wait()
		close(results)

		admitted := 0
		for allowed := range results {
			if allowed {
				admitted++
			}
		}
		assert.Equal(t, 1, admitted)
	}
}

func TestCheckAndReserveCooldownDenialWritesNothing(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	allowed, _, err := db.CheckAndReserveCooldown(ctx, 1, 2, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)

	var before int64
	require.NoError(t, db.db.QueryRow(
		`SELECT last_sent_at FROM cooldowns WHERE sender_id = 1 AND receiver_id = 2`).Scan(&before))

	time.Sleep(1100 * time.Millisecond)

	allowed, _, err = db.CheckAndReserveCooldown(ctx, 1, 2, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)

	var after int64
	require.NoError(t, db.db.QueryRow(
		`SELECT last_sent_at FROM cooldowns WHERE sender_id = 1 AND receiver_id = 2`).Scan(&after))
	assert.Equal(t, before, after)
}

func TestCheckAndReserveCooldownDisabled(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, remaining, err := db.CheckAndReserveCooldown(ctx, 1, 2, 0)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Zero(t, remaining)
	}
}

func TestCheckAndReserveCooldownExpiry(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	allowed, _, err := db.CheckAndReserveCooldown(ctx, 1, 2, time.Second)
	require.NoError(t, err)
	require.True(t, allowed)

	time.Sleep(1100 * time.Millisecond)

	allowed, _, err = db.CheckAndReserveCooldown(ctx, 1, 2, time.Second)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestBlocks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	blocked, err := db.IsBlocked(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, blocked)

	reason := int64(500)
	require.NoError(t, db.BlockSender(ctx, 1, 2, &reason))
	// Blocking twice is a no-op.
	require.NoError(t, db.BlockSender(ctx, 1, 2, nil))

	blocked, err = db.IsBlocked(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, blocked)

	// Direction matters.
	blocked, err = db.IsBlocked(ctx, 2, 1)
	require.NoError(t, err)
	assert.False(t, blocked)

	entries, err := db.ListBlocks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].BlockedSenderID)
	require.NotNil(t, entries[0].ReasonMsgID)
	assert.Equal(t, int64(500), *entries[0].ReasonMsgID)

	removed, err := db.UnblockSender(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, removed)

	blocked, err = db.IsBlocked(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, blocked)

	// Unblocking again finds nothing to remove.
	removed, err = db.UnblockSender(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestUnblockByIndex(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.BlockSender(ctx, 1, 2, nil))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, db.BlockSender(ctx, 1, 3, nil))

	entry, err := db.UnblockByIndex(ctx, 1, 0)
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = db.UnblockByIndex(ctx, 1, 3)
	require.NoError(t, err)
	assert.Nil(t, entry)

	// Index 1 is the oldest block.
	entry, err = db.UnblockByIndex(ctx, 1, 1)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(2), entry.BlockedSenderID)

	entries, err := db.ListBlocks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].BlockedSenderID)
}

func TestPreferences(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	prefs, err := db.GetPreferences(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "en", prefs.Language)
	assert.True(t, prefs.AcceptsMessages)
	assert.True(t, prefs.AcceptsMedia)
	assert.False(t, prefs.AutoVoice)
	assert.True(t, prefs.AnonymizeAudio)

	prefs.Language = "uk"
	prefs.LanguageChosen = true
	prefs.AutoVoice = true
	prefs.AcceptsMedia = false
	require.NoError(t, db.UpsertPreferences(ctx, prefs))

	got, err := db.GetPreferences(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "uk", got.Language)
	assert.True(t, got.LanguageChosen)
	assert.True(t, got.AutoVoice)
	assert.False(t, got.AcceptsMedia)
	assert.True(t, got.AcceptsMessages)
}

func TestGlobalConfig(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	value, err := db.GetGlobalConfig(ctx, "message_cooldown")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, db.SetGlobalConfig(ctx, "message_cooldown", "60"))
	require.NoError(t, db.SetGlobalConfig(ctx, "message_cooldown", "30"))

	value, err = db.GetGlobalConfig(ctx, "message_cooldown")
	require.NoError(t, err)
	assert.Equal(t, "30", value)
}

func TestListUserIDs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ids, err := db.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []int64{3, 1, 2} {
		require.NoError(t, db.UpsertPreferences(ctx, models.DefaultPreferences(id)))
	}

	ids, err = db.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestGetStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertPreferences(ctx, models.DefaultPreferences(1)))
	require.NoError(t, db.UpsertPreferences(ctx, models.DefaultPreferences(2)))
	require.NoError(t, db.RecordDelivery(ctx, &models.LinkRecord{
		DeliveredMsgID: 1, DeliveredChatID: 2, SenderID: 1, SenderMsgID: 1, SenderChatID: 1,
	}))
	_, err := db.AssignPseudonym(ctx, 1, 2, 456, 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, db.BlockSender(ctx, 2, 3, nil))

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalUsers)
	assert.Equal(t, int64(1), stats.TotalDeliveries)
	assert.Equal(t, int64(1), stats.ActiveSessions)
	assert.Equal(t, int64(1), stats.TotalBlocks)
}

func TestCleanupOldRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -40)

	require.NoError(t, db.RecordDelivery(ctx, &models.LinkRecord{
		DeliveredMsgID: 1, DeliveredChatID: 2, SenderID: 1, SenderMsgID: 1, SenderChatID: 1,
		CreatedAt: old,
	}))
	require.NoError(t, db.RecordDelivery(ctx, &models.LinkRecord{
		DeliveredMsgID: 2, DeliveredChatID: 2, SenderID: 1, SenderMsgID: 2, SenderChatID: 1,
	}))

	_, err := db.AssignPseudonym(ctx, 1, 2, 456, 24*time.Hour)
	require.NoError(t, err)
	_, err = db.db.Exec(`UPDATE pair_sessions SET last_activity_at = ?`, old)
	require.NoError(t, err)

	_, _, err = db.CheckAndReserveCooldown(ctx, 1, 2, time.Minute)
	require.NoError(t, err)
	_, err = db.db.Exec(`UPDATE cooldowns SET last_sent_at = ?`, old.Unix())
	require.NoError(t, err)

	require.NoError(t, db.CleanupOldRecords(ctx, 30))

	gone, err := db.GetLinkByDelivered(ctx, 1, 2)
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := db.GetLinkByDelivered(ctx, 2, 2)
	require.NoError(t, err)
	assert.NotNil(t, kept)

	token, err := db.GetPairToken(ctx, 1, 2)
	require.NoError(t, err)
	assert.Empty(t, token)

	var n int
	require.NoError(t, db.db.QueryRow(`SELECT COUNT(1) FROM cooldowns`).Scan(&n))
	assert.Zero(t, n)

	assert.Error(t, db.CleanupOldRecords(ctx, 0))
}
