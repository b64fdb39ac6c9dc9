// Package journal implements the relational message journal from spec.md
// §4.7 over modernc.org/sqlite (pure-Go, no cgo — matches the pack's
// thrapt-picobot usage and keeps the build as dependency-light as the
// teacher's own cgo-free toolchain). Grounded structurally on the teacher's
// atomic-write discipline (pkg/state/topic_mapping.go) even though the
// storage engine itself differs: every mutating statement here runs inside
// an explicit transaction so a crash mid-batch cannot corrupt the table.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sipeed/ryuuko/pkg/rterr"
	"github.com/sipeed/ryuuko/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	platform TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	username TEXT NOT NULL,
	content TEXT NOT NULL,
	is_mention INTEGER NOT NULL,
	is_bot_response INTEGER NOT NULL,
	reply_to_user TEXT NOT NULL DEFAULT '',
	importance REAL NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_platform_channel ON messages(platform, channel_id);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_importance ON messages(importance DESC);
`

// Journal is the embedded relational store for message history.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite file at path and ensures
// the schema exists.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite journal: %v", rterr.StoreFailure, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", rterr.StoreFailure, err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Insert writes one message. Idempotent by primary key: inserting the same
// id twice leaves message_count unchanged.
func (j *Journal) Insert(ctx context.Context, m types.MemoryMessage) error {
	return j.InsertBatch(ctx, []types.MemoryMessage{m})
}

// InsertBatch writes many messages transactionally. Idempotent by id.
func (j *Journal) InsertBatch(ctx context.Context, msgs []types.MemoryMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", rterr.StoreFailure, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, platform, channel_id, user_id, username, content, is_mention, is_bot_response, reply_to_user, importance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %v", rterr.StoreFailure, err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		_, err := stmt.ExecContext(ctx, m.ID, string(m.Platform), m.ChannelID, m.UserID, m.Username,
			m.Content, boolToInt(m.IsMention), boolToInt(m.IsBotResponse), m.ReplyToUser, m.Importance,
			m.Timestamp.UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("%w: insert message %s: %v", rterr.StoreFailure, m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx: %v", rterr.StoreFailure, err)
	}
	return nil
}

// GetRecent returns up to limit messages for (platform, channel), newest
// first in storage but returned in chronological (ascending) order.
func (j *Journal) GetRecent(ctx context.Context, platform types.Platform, channelID string, limit int) ([]types.MemoryMessage, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, platform, channel_id, user_id, username, content, is_mention, is_bot_response, reply_to_user, importance, created_at
		FROM messages WHERE platform = ? AND channel_id = ?
		ORDER BY created_at DESC LIMIT ?`, string(platform), channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query recent: %v", rterr.StoreFailure, err)
	}
	defer rows.Close()

	msgs, err := scanAll(rows)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// GetRecentAcrossChannels returns up to limit messages across every
// channel, newest first in storage but returned chronologically. Used on
// startup to replenish short-term memory (spec.md §4.7, default 500).
func (j *Journal) GetRecentAcrossChannels(ctx context.Context, limit int) ([]types.MemoryMessage, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, platform, channel_id, user_id, username, content, is_mention, is_bot_response, reply_to_user, importance, created_at
		FROM messages ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query recent across channels: %v", rterr.StoreFailure, err)
	}
	defer rows.Close()

	msgs, err := scanAll(rows)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// MessageCount returns the total row count, used by idempotence tests.
func (j *Journal) MessageCount(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", rterr.StoreFailure, err)
	}
	return n, nil
}

func scanAll(rows *sql.Rows) ([]types.MemoryMessage, error) {
	var out []types.MemoryMessage
	for rows.Next() {
		var m types.MemoryMessage
		var platform, createdAt string
		var isMention, isBotResponse int
		if err := rows.Scan(&m.ID, &platform, &m.ChannelID, &m.UserID, &m.Username, &m.Content,
			&isMention, &isBotResponse, &m.ReplyToUser, &m.Importance, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", rterr.StoreFailure, err)
		}
		m.Platform = types.Platform(platform)
		m.IsMention = isMention != 0
		m.IsBotResponse = isBotResponse != 0
		ts, err := time.Parse(time.RFC3339, createdAt)
		if err == nil {
			m.Timestamp = ts
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func reverse(msgs []types.MemoryMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
