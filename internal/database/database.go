package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"anonrelay/internal/constants"
	"anonrelay/internal/migrations"
	"anonrelay/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	// Reject traversal but allow absolute paths; deployments point the
	// database at a data volume.
	if strings.Contains(filepath.Clean(dbPath), "..") {
		return nil, fmt.Errorf("invalid database path: %s", dbPath)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	// Immediate transactions take the write lock up front, so two concurrent
	// cooldown reservations serialize instead of both reading a clear slate.
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// RecordDelivery stores the link between a delivered copy and the real
// sender. Re-delivery of the same copy replaces the previous row.
func (d *Database) RecordDelivery(ctx context.Context, link *models.LinkRecord) error {
	var pollID *string
	if link.PollID != nil {
		encrypted, err := d.encryptor.EncryptForLookupIfEnabled(*link.PollID)
		if err != nil {
			return fmt.Errorf("failed to encrypt poll ID: %w", err)
		}
		pollID = &encrypted
	}

	createdAt := link.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT OR REPLACE INTO message_links (
			delivered_msg_id, delivered_chat_id, sender_id,
			sender_msg_id, sender_chat_id, poll_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			link.DeliveredMsgID,
			link.DeliveredChatID,
			link.SenderID,
			link.SenderMsgID,
			link.SenderChatID,
			pollID,
			createdAt,
		)
		return err
	}, "record delivery")
}

// GetLinkByDelivered resolves a recipient's copy back to the real sender.
// Returns nil when no link exists; a missing link is an expected outcome.
func (d *Database) GetLinkByDelivered(ctx context.Context, deliveredMsgID, deliveredChatID int64) (*models.LinkRecord, error) {
	query := `
		SELECT delivered_msg_id, delivered_chat_id, sender_id,
		       sender_msg_id, sender_chat_id, poll_id, created_at
		FROM message_links
		WHERE delivered_msg_id = ? AND delivered_chat_id = ?
	`

	return d.scanLink(d.db.QueryRowContext(ctx, query, deliveredMsgID, deliveredChatID))
}

// GetLinkByPoll resolves a poll back to the delivery that carried it.
func (d *Database) GetLinkByPoll(ctx context.Context, pollID string) (*models.LinkRecord, error) {
	encrypted, err := d.encryptor.EncryptForLookupIfEnabled(pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt poll ID: %w", err)
	}

	query := `
		SELECT delivered_msg_id, delivered_chat_id, sender_id,
		       sender_msg_id, sender_chat_id, poll_id, created_at
		FROM message_links
		WHERE poll_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	return d.scanLink(d.db.QueryRowContext(ctx, query, encrypted))
}

func (d *Database) scanLink(row *sql.Row) (*models.LinkRecord, error) {
	link := &models.LinkRecord{}
	var pollID *string

	err := row.Scan(
		&link.DeliveredMsgID,
		&link.DeliveredChatID,
		&link.SenderID,
		&link.SenderMsgID,
		&link.SenderChatID,
		&pollID,
		&link.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message link: %w", err)
	}

	if pollID != nil {
		decrypted, err := d.encryptor.DecryptIfEnabled(*pollID)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt poll ID: %w", err)
		}
		link.PollID = &decrypted
	}

	return link, nil
}

// AssignPseudonym returns the token for the pair, allocating one when the
// pair has no session yet. Allocation avoids tokens used by either user's
// fresh sessions; when the pool is exhausted a uniform pick over the whole
// pool is accepted, collisions included.
func (d *Database) AssignPseudonym(ctx context.Context, x, y int64, poolSize int, freshness time.Duration) (string, error) {
	userA, userB := models.NormalizePair(x, y)
	now := time.Now().UTC()
	cutoff := now.Add(-freshness)

	var token string
	err := retryableDBOperation(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var stored string
		err = tx.QueryRowContext(ctx,
			`SELECT token FROM pair_sessions WHERE user_a = ? AND user_b = ?`,
			userA, userB,
		).Scan(&stored)

		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx,
				`UPDATE pair_sessions SET last_activity_at = ? WHERE user_a = ? AND user_b = ?`,
				now, userA, userB,
			); err != nil {
				return err
			}
			token, err = d.encryptor.DecryptIfEnabled(stored)
			if err != nil {
				return fmt.Errorf("failed to decrypt pseudonym: %w", err)
			}
			return tx.Commit()

		case err != sql.ErrNoRows:
			return err
		}

		taken, err := d.takenTokens(ctx, tx, userA, userB, cutoff)
		if err != nil {
			return err
		}

		token = pickToken(poolSize, taken)

		stored, err = d.encryptor.EncryptIfEnabled(token)
		if err != nil {
			return fmt.Errorf("failed to encrypt pseudonym: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pair_sessions (user_a, user_b, token, last_activity_at) VALUES (?, ?, ?, ?)`,
			userA, userB, stored, now,
		); err != nil {
			return err
		}

		return tx.Commit()
	}, "assign pseudonym")
	if err != nil {
		return "", err
	}

	return token, nil
}

// takenTokens collects tokens held by fresh sessions involving either user.
func (d *Database) takenTokens(ctx context.Context, tx *sql.Tx, userA, userB int64, cutoff time.Time) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT token FROM pair_sessions
		WHERE (user_a IN (?, ?) OR user_b IN (?, ?)) AND last_activity_at >= ?
	`, userA, userB, userA, userB, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	taken := make(map[string]bool)
	for rows.Next() {
		var stored string
		if err := rows.Scan(&stored); err != nil {
			return nil, err
		}
		token, err := d.encryptor.DecryptIfEnabled(stored)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt pseudonym: %w", err)
		}
		taken[token] = true
	}

	return taken, rows.Err()
}

func pickToken(poolSize int, taken map[string]bool) string {
	free := make([]int, 0, poolSize)
	for i := 1; i <= poolSize; i++ {
		if !taken[fmt.Sprintf(constants.PseudonymTokenFormat, i)] {
			free = append(free, i)
		}
	}

	var n int
	if len(free) > 0 {
		n = free[rand.Intn(len(free))]
	} else {
		n = 1 + rand.Intn(poolSize)
	}

	return fmt.Sprintf(constants.PseudonymTokenFormat, n)
}

// GetPairToken returns the pair's current token, or "" when no session exists.
func (d *Database) GetPairToken(ctx context.Context, x, y int64) (string, error) {
	userA, userB := models.NormalizePair(x, y)

	var stored string
	err := d.db.QueryRowContext(ctx,
		`SELECT token FROM pair_sessions WHERE user_a = ? AND user_b = ?`,
		userA, userB,
	).Scan(&stored)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get pair token: %w", err)
	}

	token, err := d.encryptor.DecryptIfEnabled(stored)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt pseudonym: %w", err)
	}
	return token, nil
}

// TouchPairSession refreshes the pair's activity timestamp.
func (d *Database) TouchPairSession(ctx context.Context, x, y int64) error {
	userA, userB := models.NormalizePair(x, y)

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx,
			`UPDATE pair_sessions SET last_activity_at = ? WHERE user_a = ? AND user_b = ?`,
			time.Now().UTC(), userA, userB,
		)
		return err
	}, "touch pair session")
}

// ReleasePairSession ends the pair's session; the token returns to the pool.
// Releasing a pair with no session is a no-op.
func (d *Database) ReleasePairSession(ctx context.Context, x, y int64) error {
	userA, userB := models.NormalizePair(x, y)

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx,
			`DELETE FROM pair_sessions WHERE user_a = ? AND user_b = ?`,
			userA, userB,
		)
		return err
	}, "release pair session")
}

// CheckAndReserveCooldown atomically checks the sender's cooldown toward the
// receiver and, when clear, records the send time. A denied check writes
// nothing and reports the seconds remaining.
func (d *Database) CheckAndReserveCooldown(ctx context.Context, senderID, receiverID int64, cooldown time.Duration) (bool, int, error) {
	if cooldown <= 0 {
		return true, 0, nil
	}

	var allowed bool
	var remaining int

	err := retryableDBOperation(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().UTC().Unix()

		var lastSentAt int64
		err = tx.QueryRowContext(ctx,
			`SELECT last_sent_at FROM cooldowns WHERE sender_id = ? AND receiver_id = ?`,
			senderID, receiverID,
		).Scan(&lastSentAt)
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		if err == nil {
			elapsed := now - lastSentAt
			if elapsed < int64(cooldown.Seconds()) {
				allowed = false
				remaining = int(int64(cooldown.Seconds()) - elapsed)
				return tx.Rollback()
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO cooldowns (sender_id, receiver_id, last_sent_at) VALUES (?, ?, ?)`,
			senderID, receiverID, now,
		); err != nil {
			return err
		}

		allowed = true
		remaining = 0
		return tx.Commit()
	}, "reserve cooldown")
	if err != nil {
		return false, 0, err
	}

	return allowed, remaining, nil
}

// BlockSender records that blocker refuses delivery from sender.
// Blocking an already blocked sender is a no-op.
func (d *Database) BlockSender(ctx context.Context, blockerID, senderID int64, reasonMsgID *int64) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO user_blocks (blocker_id, blocked_sender_id, blocked_at, reason_msg_id)
			VALUES (?, ?, ?, ?)
		`, blockerID, senderID, time.Now().UTC(), reasonMsgID)
		return err
	}, "block sender")
}

// UnblockSender removes a block and reports whether one existed.
func (d *Database) UnblockSender(ctx context.Context, blockerID, senderID int64) (bool, error) {
	var removed bool
	err := retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx,
			`DELETE FROM user_blocks WHERE blocker_id = ? AND blocked_sender_id = ?`,
			blockerID, senderID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = n > 0
		return nil
	}, "unblock sender")
	return removed, err
}

// UnblockByIndex removes the blocker's n-th block (1-based, oldest first)
// and returns the removed entry. Returns nil when the index is out of range.
func (d *Database) UnblockByIndex(ctx context.Context, blockerID int64, index int) (*models.BlockEntry, error) {
	if index < 1 {
		return nil, nil
	}

	entry := &models.BlockEntry{}
	err := d.db.QueryRowContext(ctx, `
		SELECT blocker_id, blocked_sender_id, blocked_at, reason_msg_id
		FROM user_blocks
		WHERE blocker_id = ?
		ORDER BY blocked_at ASC
		LIMIT 1 OFFSET ?
	`, blockerID, index-1).Scan(&entry.BlockerID, &entry.BlockedSenderID, &entry.BlockedAt, &entry.ReasonMsgID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block entry: %w", err)
	}

	if _, err := d.UnblockSender(ctx, entry.BlockerID, entry.BlockedSenderID); err != nil {
		return nil, err
	}

	return entry, nil
}

// IsBlocked reports whether blocker refuses delivery from sender.
func (d *Database) IsBlocked(ctx context.Context, blockerID, senderID int64) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM user_blocks WHERE blocker_id = ? AND blocked_sender_id = ?`,
		blockerID, senderID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check block: %w", err)
	}
	return n > 0, nil
}

// ListBlocks returns the blocker's blocks oldest first, matching the
// numbering shown to the user.
func (d *Database) ListBlocks(ctx context.Context, blockerID int64) ([]models.BlockEntry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT blocker_id, blocked_sender_id, blocked_at, reason_msg_id
		FROM user_blocks
		WHERE blocker_id = ?
		ORDER BY blocked_at ASC
	`, blockerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.BlockEntry
	for rows.Next() {
		var e models.BlockEntry
		if err := rows.Scan(&e.BlockerID, &e.BlockedSenderID, &e.BlockedAt, &e.ReasonMsgID); err != nil {
			return nil, fmt.Errorf("failed to scan block entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetPreferences returns the user's stored settings, materializing defaults
// when the user has no row yet. Never returns nil without an error.
func (d *Database) GetPreferences(ctx context.Context, userID int64) (*models.UserPreference, error) {
	p := &models.UserPreference{}
	err := d.db.QueryRowContext(ctx, `
		SELECT user_id, language, language_chosen, accepts_messages, accepts_media, auto_voice,
		       voice_profile, skip_confirm_voice, skip_confirm_media, anonymize_audio
		FROM user_preferences
		WHERE user_id = ?
	`, userID).Scan(
		&p.UserID, &p.Language, &p.LanguageChosen, &p.AcceptsMessages, &p.AcceptsMedia, &p.AutoVoice,
		&p.VoiceProfile, &p.SkipConfirmVoice, &p.SkipConfirmMedia, &p.AnonymizeAudio,
	)
	if err == sql.ErrNoRows {
		return models.DefaultPreferences(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	return p, nil
}

// UpsertPreferences stores the user's settings, creating the row on first use.
func (d *Database) UpsertPreferences(ctx context.Context, p *models.UserPreference) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO user_preferences (
				user_id, language, language_chosen, accepts_messages, accepts_media, auto_voice,
				voice_profile, skip_confirm_voice, skip_confirm_media, anonymize_audio
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.UserID, p.Language, p.LanguageChosen, p.AcceptsMessages, p.AcceptsMedia, p.AutoVoice,
			p.VoiceProfile, p.SkipConfirmVoice, p.SkipConfirmMedia, p.AnonymizeAudio)
		return err
	}, "upsert preferences")
}

// GetGlobalConfig returns the stored value for key, or "" when unset.
func (d *Database) GetGlobalConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx,
		`SELECT value FROM global_config WHERE key = ?`, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get global config: %w", err)
	}
	return value, nil
}

// SetGlobalConfig stores a global configuration value.
func (d *Database) SetGlobalConfig(ctx context.Context, key, value string) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO global_config (key, value) VALUES (?, ?)`,
			key, value,
		)
		return err
	}, "set global config")
}

// ListUserIDs returns every user known to the preference store.
func (d *Database) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT user_id FROM user_preferences ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// GetStats returns a point-in-time usage summary.
func (d *Database) GetStats(ctx context.Context) (*models.AdminStats, error) {
	stats := &models.AdminStats{}
	now := time.Now().UTC()

	queries := []struct {
		dest  *int64
		query string
		args  []interface{}
	}{
		{&stats.TotalUsers, `SELECT COUNT(1) FROM user_preferences`, nil},
		{&stats.TotalDeliveries, `SELECT COUNT(1) FROM message_links`, nil},
		{&stats.ActiveSessions, `SELECT COUNT(1) FROM pair_sessions WHERE last_activity_at >= ?`,
			[]interface{}{now.Add(-time.Duration(constants.DefaultFreshnessWindowHrs) * time.Hour)}},
		{&stats.TotalBlocks, `SELECT COUNT(1) FROM user_blocks`, nil},
		{&stats.DeliveriesToday, `SELECT COUNT(1) FROM message_links WHERE created_at >= ?`,
			[]interface{}{now.Truncate(24 * time.Hour)}},
	}

	for _, q := range queries {
		if err := d.db.QueryRowContext(ctx, q.query, q.args...).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("failed to collect stats: %w", err)
		}
	}

	return stats, nil
}

// CleanupOldRecords removes links, stale sessions and cooldowns older than
// the retention window.
func (d *Database) CleanupOldRecords(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return fmt.Errorf("retention days must be positive")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	return retryableDBOperation(ctx, func() error {
		if _, err := d.db.ExecContext(ctx,
			`DELETE FROM message_links WHERE created_at < ?`, cutoff,
		); err != nil {
			return err
		}
		if _, err := d.db.ExecContext(ctx,
			`DELETE FROM pair_sessions WHERE last_activity_at < ?`, cutoff,
		); err != nil {
			return err
		}
		_, err := d.db.ExecContext(ctx,
			`DELETE FROM cooldowns WHERE last_sent_at < ?`, cutoff.Unix(),
		)
		return err
	}, "cleanup old records")
}
