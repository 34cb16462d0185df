package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"lingochat/internal/apperr"
	"lingochat/internal/store"
)

type MessageRepo struct {
	db *sql.DB
}

const messageColumns = `id, conversation_id, sender_id, receiver_id, original_text, source_lang,
	translated_text, target_lang, status, delivered_at, read_at, created_at, updated_at`

func scanMessage(row rowScanner) (store.Message, error) {
	var m store.Message
	var translated sql.NullString
	var deliveredAt, readAt sql.NullTime
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.OriginalText, &m.SourceLang,
		&translated, &m.TargetLang, &m.Status, &deliveredAt, &readAt, &m.CreatedAt, &m.UpdatedAt)
	m.TranslatedText = stringPtr(translated)
	m.DeliveredAt = timePtr(deliveredAt)
	m.ReadAt = timePtr(readAt)
	return m, err
}

func (r *MessageRepo) Create(ctx context.Context, m *store.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.ConversationID, m.SenderID, m.ReceiverID, m.OriginalText, m.SourceLang,
		nullString(m.TranslatedText), m.TargetLang, m.Status, m.DeliveredAt, m.ReadAt, m.CreatedAt, m.UpdatedAt)
	return mapErr("insert message", err, "")
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (store.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	return m, mapErr("get message", err, "message not found")
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID string, before *time.Time, limit int) ([]store.Message, error) {
	var cursor sql.NullTime
	if before != nil {
		cursor = sql.NullTime{Time: *before, Valid: true}
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC
		LIMIT $3`, conversationID, cursor, limit)
	if err != nil {
		return nil, mapErr("list messages", err, "")
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapErr("scan message", err, "")
		}
		out = append(out, m)
	}
	return out, mapErr("list messages", rows.Err(), "")
}

func (r *MessageRepo) Latest(ctx context.Context, conversationID string) (store.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, conversationID)
	m, err := scanMessage(row)
	return m, mapErr("latest message", err, "no messages")
}

func (r *MessageRepo) MarkDelivered(ctx context.Context, id string, at time.Time) (store.Message, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE messages SET status = 'delivered', delivered_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'sent'
		RETURNING `+messageColumns, id, at)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		current, err := r.GetByID(ctx, id)
		return current, false, err
	}
	if err != nil {
		return store.Message{}, false, mapErr("mark delivered", err, "")
	}
	return m, true, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, id, receiverID string, at time.Time) (store.Message, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE messages SET status = 'read', read_at = $3, updated_at = $3
		WHERE id = $1 AND receiver_id = $2 AND status <> 'read'
		RETURNING `+messageColumns, id, receiverID, at)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return store.Message{}, false, err
		}
		if current.ReceiverID != receiverID {
			return store.Message{}, false, apperr.NotFound("message not found")
		}
		return current, false, nil
	}
	if err != nil {
		return store.Message{}, false, mapErr("mark read", err, "")
	}
	return m, true, nil
}

func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = 'read', read_at = $3, updated_at = $3
		WHERE conversation_id = $1 AND receiver_id = $2 AND status <> 'read'`,
		conversationID, receiverID, at)
	if err != nil {
		return 0, mapErr("mark conversation read", err, "")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *MessageRepo) UnreadCounts(ctx context.Context, receiverID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.conversation_id, COUNT(*)
		FROM messages m
		JOIN conversation_participants p
		  ON p.conversation_id = m.conversation_id AND p.user_id = $1
		WHERE m.receiver_id = $1 AND m.status <> 'read'
		GROUP BY m.conversation_id`, receiverID)
	if err != nil {
		return nil, mapErr("unread counts", err, "")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var convID string
		var n int
		if err := rows.Scan(&convID, &n); err != nil {
			return nil, mapErr("scan unread count", err, "")
		}
		counts[convID] = n
	}
	return counts, mapErr("unread counts", rows.Err(), "")
}

func (r *MessageRepo) Delete(ctx context.Context, id, senderID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1 AND sender_id = $2`, id, senderID)
	if err != nil {
		return false, mapErr("delete message", err, "")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *MessageRepo) DeleteForParticipant(ctx context.Context, conversationID, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE conversation_id = $1 AND (sender_id = $2 OR receiver_id = $2)`, conversationID, userID)
	if err != nil {
		return 0, mapErr("clear conversation", err, "")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
