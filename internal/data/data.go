package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/whatsuit/replybridge/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// Repositories contains all repositories
type Repositories struct {
	Notification repo.NotificationRepo
	History      repo.HistoryRepo
	Prompt       repo.PromptRepo
	Config       repo.ConfigRepo
	OptOut       repo.OptOutRepo
}

// NewRepositories creates all repositories on top of one database handle
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Notification: NewNotificationRepo(db),
		History:      NewHistoryRepo(db),
		Prompt:       NewPromptRepo(db),
		Config:       NewConfigRepo(db),
		OptOut:       NewOptOutRepo(db),
	}
}

// OpenDB opens the SQLite database at dbPath and applies migrations.
// Foreign keys are enabled so history rows follow their notification.
func OpenDB(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer; also keeps the pragmas bound to one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL DEFAULT '',
		package_name TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL,
		auto_replied INTEGER NOT NULL DEFAULT 0,
		auto_reply_content TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_thread ON notifications(conversation_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS conversation_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		notification_id INTEGER NOT NULL,
		message TEXT NOT NULL,
		response TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		modified INTEGER NOT NULL DEFAULT 0,
		analysis TEXT,
		analysis_timestamp INTEGER,
		FOREIGN KEY(notification_id) REFERENCES notifications(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_conversation ON conversation_history(conversation_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_history_notification ON conversation_history(notification_id)`,
	`CREATE TABLE IF NOT EXISTS prompt_templates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		template TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_prompts (
		conversation_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		template TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS gemini_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		api_key TEXT NOT NULL DEFAULT '',
		model_name TEXT NOT NULL DEFAULT '',
		max_history_per_thread INTEGER NOT NULL DEFAULT 10,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS auto_reply_opt_outs (
		conversation_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
