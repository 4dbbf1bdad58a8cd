package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const conversationColumns = `id, listing_id, seller_id, buyer_id, created_at, updated_at`

// GetOrCreateConversation returns the conversation for (listing, buyer),
// creating it from c when absent. created reports which happened.
func (s *PostgresStore) GetOrCreateConversation(ctx context.Context, c Conversation) (Conversation, bool, error) {
	var conv Conversation
	err := s.db.GetContext(ctx, &conv, `
		INSERT INTO conversations (id, listing_id, seller_id, buyer_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (listing_id, buyer_id) DO NOTHING
		RETURNING `+conversationColumns, c.ID, c.ListingID, c.SellerID, c.BuyerID)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, false, fmt.Errorf("insert conversation: %w", err)
	}
	err = s.db.GetContext(ctx, &conv, `
		SELECT `+conversationColumns+` FROM conversations WHERE listing_id = $1 AND buyer_id = $2
	`, c.ListingID, c.BuyerID)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("load conversation: %w", err)
	}
	return conv, false, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var conv Conversation
	err := s.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return conv, err
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	out := []ConversationSummary{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT c.id, c.listing_id, c.seller_id, c.buyer_id, c.created_at, c.updated_at,
			l.title AS listing_title, l.status AS listing_status,
			u.display_name AS other_name,
			lm.body AS last_message, lm.created_at AS last_message_at,
			(SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND m.read_at IS NULL) AS unread_count
		FROM conversations c
		JOIN listings l ON l.id = c.listing_id
		JOIN users u ON u.id = CASE WHEN c.seller_id = $1 THEN c.buyer_id ELSE c.seller_id END
		LEFT JOIN LATERAL (
			SELECT body, created_at FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC
			LIMIT 1
		) lm ON TRUE
		WHERE c.seller_id = $1 OR c.buyer_id = $1
		ORDER BY COALESCE(lm.created_at, c.created_at) DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, m Message) (Message, error) {
	var created Message
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &created, `
			INSERT INTO messages (id, conversation_id, sender_id, body)
			VALUES ($1, $2, $3, $4)
			RETURNING id, conversation_id, sender_id, body, read_at, created_at
		`, m.ID, m.ConversationID, m.SenderID, m.Body); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, m.ConversationID); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
	return created, err
}

// ListMessages returns up to limit of the most recent messages, oldest first.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	out := []Message{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM (
			SELECT id, conversation_id, sender_id, body, read_at, created_at
			FROM messages WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent ORDER BY created_at ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// MarkConversationRead marks messages sent to readerID as read.
func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read_at = NOW()
		WHERE conversation_id = $1 AND sender_id <> $2 AND read_at IS NULL
	`, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *PostgresStore) CountUnreadMessages(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.seller_id = $1 OR c.buyer_id = $1) AND m.sender_id <> $1 AND m.read_at IS NULL
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return n, nil
}

// CreateNotification stores n. It reports false when a unique index
// suppressed a duplicate.
func (s *PostgresStore) CreateNotification(ctx context.Context, n Notification) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, body, ref_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
	`, n.ID, n.UserID, n.Type, n.Title, n.Body, n.RefID)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT id, user_id, type, title, body, ref_id, read_at, created_at FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	out := []Notification{}
	if err := s.db.SelectContext(ctx, &out, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, NOW()) WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return requireAffected(res, "mark notification read")
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`, userID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}
