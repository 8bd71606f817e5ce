package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/repo"
)

// historyRepo implements the History repository
type historyRepo struct {
	db *sql.DB
}

// NewHistoryRepo creates a new History repository
func NewHistoryRepo(db *sql.DB) repo.HistoryRepo {
	return &historyRepo{db: db}
}

const historyColumns = `id, conversation_id, notification_id, message, response, timestamp, modified, analysis, analysis_timestamp`

func scanHistory(s rowScanner) (*domain.HistoryEntry, error) {
	var h domain.HistoryEntry
	var ts int64
	var modified int
	var analysis sql.NullString
	var analysisTS sql.NullInt64
	if err := s.Scan(&h.ID, &h.ConversationID, &h.NotificationID, &h.Message, &h.Response, &ts, &modified, &analysis, &analysisTS); err != nil {
		return nil, err
	}
	h.Timestamp = time.UnixMilli(ts)
	h.Modified = modified == 1
	h.Analysis = analysis.String
	if analysisTS.Valid {
		t := time.UnixMilli(analysisTS.Int64)
		h.AnalysisTimestamp = &t
	}
	return &h, nil
}

// InsertAndPrune inserts an entry and trims the conversation to its newest keep rows
func (r *historyRepo) InsertAndPrune(ctx context.Context, entry *domain.HistoryEntry, keep int) (int64, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_history (conversation_id, notification_id, message, response, timestamp, modified)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ConversationID, entry.NotificationID, entry.Message, entry.Response, entry.Timestamp.UnixMilli(), boolToInt(entry.Modified))
	if err != nil {
		return 0, fmt.Errorf("failed to insert history: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get history id: %w", err)
	}

	if keep > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM conversation_history
			WHERE conversation_id = ? AND id NOT IN (
				SELECT id FROM conversation_history
				WHERE conversation_id = ?
				ORDER BY timestamp DESC, id DESC
				LIMIT ?
			)
		`, entry.ConversationID, entry.ConversationID, keep)
		if err != nil {
			return 0, fmt.Errorf("failed to prune history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit history: %w", err)
	}
	entry.ID = id
	return id, nil
}

// ListByConversation lists entries newest first
func (r *historyRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.HistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM conversation_history
		WHERE conversation_id = ?
		ORDER BY timestamp DESC, id DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var result []domain.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		result = append(result, *h)
	}
	return result, rows.Err()
}

// GetByID gets a history entry
func (r *historyRepo) GetByID(ctx context.Context, id int64) (*domain.HistoryEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM conversation_history WHERE id = ?`, id)
	h, err := scanHistory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return h, nil
}

// UpdateResponse replaces a response and flags the entry as modified
func (r *historyRepo) UpdateResponse(ctx context.Context, id int64, response string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_history SET response = ?, modified = 1 WHERE id = ?
	`, response, id)
	if err != nil {
		return fmt.Errorf("failed to update response: %w", err)
	}
	return nil
}

// UpdateAnalysis stores an analysis on one entry
func (r *historyRepo) UpdateAnalysis(ctx context.Context, id int64, analysis string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE conversation_history SET analysis = ?, analysis_timestamp = ? WHERE id = ?
	`, analysis, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update analysis: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update analysis: history entry %d not found", id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit analysis: %w", err)
	}
	return nil
}

// Count counts the entries of a conversation
func (r *historyRepo) Count(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation_history WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}
