package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"verabot/internal/models"
)

// Messages is the append-only message log. Outbound rows start as
// queued and transition to sent or failed only after the provider call
// returns.
type Messages struct {
	db *sqlx.DB
}

func NewMessages(db *sqlx.DB) *Messages {
	return &Messages{db: db}
}

// Insert appends one message row and returns its id. Outbound rows with
// no status yet are stored as queued; the conversation row's updated_at
// is bumped in the same transaction.
func (m *Messages) Insert(msg *models.Message) (int64, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Direction == models.DirectionOut && msg.WAStatus == "" {
		msg.WAStatus = models.StatusQueued
	}

	tx, err := m.db.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	cols := `(phone, direction, msg_type, text, media_url, media_caption, media_id,
		mime_type, file_name, file_size, duration_sec, featured_image, real_image,
		permalink, extracted_text, ai_meta, wa_status, wa_message_id, wa_error, created_at)`
	vals := `(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []interface{}{msg.Phone, msg.Direction, msg.MsgType, msg.Text,
		msg.MediaURL, msg.MediaCaption, msg.MediaID, msg.MimeType, msg.FileName,
		msg.FileSize, msg.DurationSec, msg.FeaturedImage, msg.RealImage,
		msg.Permalink, msg.ExtractedText, msg.AIMeta, msg.WAStatus,
		msg.WAMessageID, msg.WAError, msg.CreatedAt}

	var id int64
	if m.db.DriverName() == "postgres" {
		q := tx.Rebind(`INSERT INTO messages ` + cols + ` VALUES ` + vals + ` RETURNING id`)
		if err := tx.QueryRow(q, args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert message: %w", err)
		}
	} else {
		q := tx.Rebind(`INSERT INTO messages ` + cols + ` VALUES ` + vals)
		res, err := tx.Exec(q, args...)
		if err != nil {
			return 0, fmt.Errorf("insert message: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	}

	bump := tx.Rebind(`INSERT INTO conversations (phone, updated_at) VALUES (?, ?)
		ON CONFLICT (phone) DO UPDATE SET updated_at = excluded.updated_at`)
	if _, err := tx.Exec(bump, msg.Phone, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("bump conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	msg.ID = id
	return id, nil
}

// SetSendResult finalizes an outbound row after the provider call.
func (m *Messages) SetSendResult(id int64, res models.SendResult) error {
	status := models.StatusFailed
	if res.Sent {
		status = models.StatusSent
	}
	q := m.db.Rebind(`UPDATE messages SET wa_status = ?, wa_message_id = ?, wa_error = ? WHERE id = ?`)
	_, err := m.db.Exec(q, status, res.WAMessageID, res.Error, id)
	return err
}

// SetMediaURL records where a media message's payload ended up, for
// rows whose provider delivery carried no URL of its own.
func (m *Messages) SetMediaURL(id int64, url string) error {
	q := m.db.Rebind(`UPDATE messages SET media_url = ? WHERE id = ?`)
	_, err := m.db.Exec(q, url, id)
	return err
}

// SetExtractedText stores the media-understanding outcome on an inbound
// row. meta is serialized to JSON; a nil meta clears nothing.
func (m *Messages) SetExtractedText(id int64, text string, meta interface{}) error {
	raw := ""
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		raw = string(b)
	}
	q := m.db.Rebind(`UPDATE messages SET extracted_text = ?, ai_meta = ? WHERE id = ?`)
	_, err := m.db.Exec(q, text, raw, id)
	return err
}

// RecentDuplicate reports whether an identical inbound message (same
// type, text and media id) was already logged inside the window.
// Webhook retries from the provider land here.
func (m *Messages) RecentDuplicate(phone, msgType, text, mediaID string, window time.Duration) (bool, error) {
	since := time.Now().UTC().Add(-window)
	var n int
	q := m.db.Rebind(`SELECT COUNT(1) FROM messages
		WHERE phone = ? AND direction = ? AND msg_type = ? AND text = ? AND media_id = ? AND created_at >= ?`)
	if err := m.db.Get(&n, q, phone, models.DirectionIn, msgType, text, mediaID, since); err != nil {
		return false, err
	}
	return n > 0, nil
}

// History returns the most recent rows for a phone, newest first.
func (m *Messages) History(phone string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []models.Message
	q := m.db.Rebind(`SELECT * FROM messages WHERE phone = ? ORDER BY id DESC LIMIT ?`)
	if err := m.db.Select(&out, q, phone, limit); err != nil {
		return nil, err
	}
	return out, nil
}
