package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/repo"
)

// notificationRepo implements the Notification repository
type notificationRepo struct {
	db *sql.DB
}

// NewNotificationRepo creates a new Notification repository
func NewNotificationRepo(db *sql.DB) repo.NotificationRepo {
	return &notificationRepo{db: db}
}

const notificationColumns = `id, conversation_id, package_name, title, content, timestamp, auto_replied, auto_reply_content`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(s rowScanner) (*domain.Notification, error) {
	var n domain.Notification
	var ts int64
	var autoReplied int
	if err := s.Scan(&n.ID, &n.ConversationID, &n.PackageName, &n.Title, &n.Content, &ts, &autoReplied, &n.AutoReplyContent); err != nil {
		return nil, err
	}
	n.Timestamp = time.UnixMilli(ts)
	n.AutoReplied = autoReplied == 1
	return &n, nil
}

// Save stores a new notification
func (r *notificationRepo) Save(ctx context.Context, n *domain.Notification) (int64, error) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (conversation_id, package_name, title, content, timestamp, auto_replied, auto_reply_content)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n.ConversationID, n.PackageName, n.Title, n.Content, n.Timestamp.UnixMilli(), boolToInt(n.AutoReplied), n.AutoReplyContent)
	if err != nil {
		return 0, fmt.Errorf("failed to save notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get notification id: %w", err)
	}
	n.ID = id
	return id, nil
}

// GetByID gets a notification by id
func (r *notificationRepo) GetByID(ctx context.Context, id int64) (*domain.Notification, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query notification: %w", err)
	}
	return n, nil
}

// AssignConversationID sets the conversation id if it is still empty
func (r *notificationRepo) AssignConversationID(ctx context.Context, id int64, conversationID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET conversation_id = ? WHERE id = ? AND conversation_id = ''
	`, conversationID, id)
	if err != nil {
		return false, fmt.Errorf("failed to assign conversation id: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to assign conversation id: %w", err)
	}
	return n > 0, nil
}

// ListThread lists a thread newest first, up to and including until
func (r *notificationRepo) ListThread(ctx context.Context, conversationID string, until time.Time, limit int) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE conversation_id = ? AND timestamp <= ?
		ORDER BY timestamp DESC, id DESC`
	args := []any{conversationID, until.UnixMilli()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

// ListSince lists a thread oldest first, from since onward
func (r *notificationRepo) ListSince(ctx context.Context, conversationID string, since time.Time) ([]domain.Notification, error) {
	return r.list(ctx, `SELECT `+notificationColumns+` FROM notifications
		WHERE conversation_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC, id ASC`, conversationID, since.UnixMilli())
}

func (r *notificationRepo) list(ctx context.Context, query string, args ...any) ([]domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var result []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		result = append(result, *n)
	}
	return result, rows.Err()
}

// MarkAutoReplied records the reply sent for a notification
func (r *notificationRepo) MarkAutoReplied(ctx context.Context, id int64, reply string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET auto_replied = 1, auto_reply_content = ? WHERE id = ?
	`, reply, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification replied: %w", err)
	}
	return nil
}

// Delete deletes a notification and, by cascade, its history
func (r *notificationRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return nil
}

// DeleteOlderThan removes notifications received before t
func (r *notificationRepo) DeleteOlderThan(ctx context.Context, t time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE timestamp < ?`, t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup notifications: %w", err)
	}
	return result.RowsAffected()
}

// optOutRepo implements the OptOut repository
type optOutRepo struct {
	db *sql.DB
}

// NewOptOutRepo creates a new OptOut repository
func NewOptOutRepo(db *sql.DB) repo.OptOutRepo {
	return &optOutRepo{db: db}
}

func (r *optOutRepo) IsOptedOut(ctx context.Context, conversationID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auto_reply_opt_outs WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query opt-out: %w", err)
	}
	return n > 0, nil
}

func (r *optOutRepo) OptOut(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO auto_reply_opt_outs (conversation_id, created_at) VALUES (?, ?)
	`, conversationID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save opt-out: %w", err)
	}
	return nil
}

func (r *optOutRepo) OptIn(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM auto_reply_opt_outs WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete opt-out: %w", err)
	}
	return nil
}

func (r *optOutRepo) List(ctx context.Context) ([]domain.AutoReplyOptOut, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT conversation_id, created_at FROM auto_reply_opt_outs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list opt-outs: %w", err)
	}
	defer rows.Close()

	var result []domain.AutoReplyOptOut
	for rows.Next() {
		var o domain.AutoReplyOptOut
		var createdAt int64
		if err := rows.Scan(&o.ConversationID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan opt-out: %w", err)
		}
		o.CreatedAt = time.Unix(createdAt, 0)
		result = append(result, o)
	}
	return result, rows.Err()
}
