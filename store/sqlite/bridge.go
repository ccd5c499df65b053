package sqlite

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/nevindra/parley"
)

// BridgeDB is the inbound message index for the channel bridge: one row per
// webhook message, status advanced through the task lifecycle. Implements
// parley.BridgeIndex.
type BridgeDB struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ parley.BridgeIndex = (*BridgeDB)(nil)

// BridgeOption configures a BridgeDB.
type BridgeOption func(*BridgeDB)

// WithBridgeLogger sets a structured logger for the bridge index.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *BridgeDB) { b.logger = l }
}

// NewBridge creates a BridgeDB using a local SQLite file at dbPath.
func NewBridge(dbPath string, opts ...BridgeOption) *BridgeDB {
	b := &BridgeDB{db: openDB(dbPath), logger: nopLogger}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Init creates the schema. Safe on every boot.
func (b *BridgeDB) Init(ctx context.Context) error {
	start := time.Now()
	if err := applyPragmas(ctx, b.db); err != nil {
		return err
	}
	_, err := b.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS inbound_messages (
		message_id TEXT PRIMARY KEY,
		channel TEXT NOT NULL DEFAULT 'whatsapp',
		from_phone TEXT,
		to_phone TEXT,
		conversation_id TEXT,
		text TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'received',
		task_id TEXT,
		reply TEXT,
		error TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		return &parley.ErrStore{Op: "bridge_init", Err: err}
	}
	b.logger.Info("sqlite: bridge init completed", "duration", time.Since(start))
	return nil
}

// RecordInbound stores one inbound message. A duplicate message ID refreshes
// the text and updated_at but keeps the original status.
func (b *BridgeDB) RecordInbound(ctx context.Context, rec parley.BridgeRecord) error {
	now := parley.NowUnix()
	if rec.Status == "" {
		rec.Status = "received"
	}
	if rec.Channel == "" {
		rec.Channel = "whatsapp"
	}
	err := retryWrite(ctx, func() error {
		_, execErr := b.db.ExecContext(ctx, `
			INSERT INTO inbound_messages
				(message_id, channel, from_phone, to_phone, conversation_id, text, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_id) DO UPDATE SET
				text = excluded.text,
				updated_at = excluded.updated_at`,
			rec.MessageID, rec.Channel, rec.FromPhone, rec.ToPhone, rec.ConversationID,
			rec.Text, rec.Status, now, now)
		return execErr
	})
	if err != nil {
		return &parley.ErrStore{Op: "record_inbound", Err: err}
	}
	return nil
}

// UpdateStatus advances a message's status. Empty taskID, reply, and errMsg
// leave the stored values untouched.
func (b *BridgeDB) UpdateStatus(ctx context.Context, messageID, status, taskID, reply, errMsg string) error {
	err := retryWrite(ctx, func() error {
		_, execErr := b.db.ExecContext(ctx, `
			UPDATE inbound_messages SET
				status = ?,
				task_id = CASE WHEN ? != '' THEN ? ELSE task_id END,
				reply = CASE WHEN ? != '' THEN ? ELSE reply END,
				error = CASE WHEN ? != '' THEN ? ELSE error END,
				updated_at = ?
			WHERE message_id = ?`,
			status, taskID, taskID, reply, reply, errMsg, errMsg, parley.NowUnix(), messageID)
		return execErr
	})
	if err != nil {
		return &parley.ErrStore{Op: "update_status", Err: err}
	}
	return nil
}

// GetInbound looks up one message by ID.
func (b *BridgeDB) GetInbound(ctx context.Context, messageID string) (parley.BridgeRecord, error) {
	var rec parley.BridgeRecord
	var fromPhone, toPhone, convID, taskID, reply, errMsg sql.NullString
	err := b.db.QueryRowContext(ctx, `
		SELECT message_id, channel, from_phone, to_phone, conversation_id, text, status, task_id, reply, error, created_at, updated_at
		FROM inbound_messages WHERE message_id = ?`, messageID).
		Scan(&rec.MessageID, &rec.Channel, &fromPhone, &toPhone, &convID,
			&rec.Text, &rec.Status, &taskID, &reply, &errMsg, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return parley.BridgeRecord{}, parley.ErrNotFound
	}
	if err != nil {
		return parley.BridgeRecord{}, &parley.ErrStore{Op: "get_inbound", Err: err}
	}
	rec.FromPhone = fromPhone.String
	rec.ToPhone = toPhone.String
	rec.ConversationID = convID.String
	rec.TaskID = taskID.String
	rec.Reply = reply.String
	rec.Error = errMsg.String
	return rec, nil
}

// Close closes the database.
func (b *BridgeDB) Close() error { return b.db.Close() }
