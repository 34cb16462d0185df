package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"lingochat/internal/apperr"
	"lingochat/internal/store"
)

type ConversationRepo struct {
	db *sql.DB
}

const conversationSelect = `
	SELECT c.id, c.last_message_id, c.created_at, c.updated_at,
	       (SELECT string_agg(p.user_id, ',' ORDER BY p.position)
	          FROM conversation_participants p
	         WHERE p.conversation_id = c.id)
	FROM conversations c`

func scanConversation(row rowScanner) (store.Conversation, error) {
	var c store.Conversation
	var lastMessageID, participants sql.NullString
	if err := row.Scan(&c.ID, &lastMessageID, &c.CreatedAt, &c.UpdatedAt, &participants); err != nil {
		return c, err
	}
	c.LastMessageID = stringPtr(lastMessageID)
	if participants.Valid && participants.String != "" {
		c.Participants = strings.Split(participants.String, ",")
	}
	return c, nil
}

// FindOrCreate relies on the unique pair_key: a concurrent creator loses the
// insert and reads the winner's row.
func (r *ConversationRepo) FindOrCreate(ctx context.Context, participants []string, now time.Time) (store.Conversation, bool, error) {
	key := store.PairKey(participants...)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Conversation{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	var insertedID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO conversations (id, pair_key, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (pair_key) DO NOTHING
		RETURNING id`, id, key, now).Scan(&insertedID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return store.Conversation{}, false, fmt.Errorf("rollback: %w", err)
		}
		row := r.db.QueryRowContext(ctx, conversationSelect+` WHERE c.pair_key = $1`, key)
		c, err := scanConversation(row)
		return c, false, mapErr("find conversation", err, "conversation not found")
	case err != nil:
		return store.Conversation{}, false, mapErr("insert conversation", err, "")
	}

	for i, userID := range participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, position)
			VALUES ($1, $2, $3)`, insertedID, userID, i); err != nil {
			return store.Conversation{}, false, mapErr("insert participant", err, "")
		}
	}
	if err := tx.Commit(); err != nil {
		return store.Conversation{}, false, fmt.Errorf("commit: %w", err)
	}

	return store.Conversation{
		ID:           insertedID,
		Participants: append([]string(nil), participants...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, true, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (store.Conversation, error) {
	row := r.db.QueryRowContext(ctx, conversationSelect+` WHERE c.id = $1`, id)
	c, err := scanConversation(row)
	return c, mapErr("get conversation", err, "conversation not found")
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]store.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, conversationSelect+`
		WHERE EXISTS (
			SELECT 1 FROM conversation_participants p
			WHERE p.conversation_id = c.id AND p.user_id = $1
		)
		ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, mapErr("list conversations", err, "")
	}
	defer rows.Close()

	var out []store.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, mapErr("scan conversation", err, "")
		}
		out = append(out, c)
	}
	return out, mapErr("list conversations", rows.Err(), "")
}

func (r *ConversationRepo) Touch(ctx context.Context, id, lastMessageID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET last_message_id = $2, updated_at = $3
		WHERE id = $1`, id, lastMessageID, at)
	if err != nil {
		return mapErr("touch conversation", err, "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("conversation not found")
	}
	return nil
}
