package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/repo"
)

// promptRepo implements the Prompt repository
type promptRepo struct {
	db *sql.DB
}

// NewPromptRepo creates a new Prompt repository
func NewPromptRepo(db *sql.DB) repo.PromptRepo {
	return &promptRepo{db: db}
}

func scanTemplate(s rowScanner) (*domain.PromptTemplate, error) {
	var t domain.PromptTemplate
	var active int
	var createdAt int64
	if err := s.Scan(&t.ID, &t.Name, &t.Template, &active, &createdAt); err != nil {
		return nil, err
	}
	t.Active = active == 1
	t.CreatedAt = time.Unix(createdAt, 0)
	return &t, nil
}

// GetActiveTemplate returns the lowest-id active template
func (r *promptRepo) GetActiveTemplate(ctx context.Context) (*domain.PromptTemplate, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, template, is_active, created_at FROM prompt_templates
		WHERE is_active = 1 ORDER BY id ASC LIMIT 1
	`)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active template: %w", err)
	}
	return t, nil
}

// ListTemplates lists all templates
func (r *promptRepo) ListTemplates(ctx context.Context) ([]domain.PromptTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, template, is_active, created_at FROM prompt_templates ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var result []domain.PromptTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

// CreateTemplate creates a template. An active template deactivates the others.
func (r *promptRepo) CreateTemplate(ctx context.Context, t *domain.PromptTemplate) (int64, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if t.Active {
		if _, err := tx.ExecContext(ctx, `UPDATE prompt_templates SET is_active = 0`); err != nil {
			return 0, fmt.Errorf("failed to deactivate templates: %w", err)
		}
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO prompt_templates (name, template, is_active, created_at) VALUES (?, ?, ?, ?)
	`, t.Name, t.Template, boolToInt(t.Active), t.CreatedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to create template: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get template id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit template: %w", err)
	}
	t.ID = id
	return id, nil
}

// DeleteTemplate deletes a template
func (r *promptRepo) DeleteTemplate(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM prompt_templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return nil
}

// SetActiveTemplate deactivates all templates then activates id in one transaction
func (r *promptRepo) SetActiveTemplate(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE prompt_templates SET is_active = 0`); err != nil {
		return fmt.Errorf("failed to deactivate templates: %w", err)
	}
	result, err := tx.ExecContext(ctx, `UPDATE prompt_templates SET is_active = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to activate template: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to activate template: template %d not found", id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit template activation: %w", err)
	}
	return nil
}

// GetConversationPrompt gets the override of a conversation
func (r *promptRepo) GetConversationPrompt(ctx context.Context, conversationID string) (*domain.ConversationPrompt, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT conversation_id, name, template, updated_at FROM conversation_prompts WHERE conversation_id = ?
	`, conversationID)

	var p domain.ConversationPrompt
	var updatedAt int64
	err := row.Scan(&p.ConversationID, &p.Name, &p.Template, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation prompt: %w", err)
	}
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// SaveConversationPrompt creates or replaces the override of a conversation
func (r *promptRepo) SaveConversationPrompt(ctx context.Context, p *domain.ConversationPrompt) error {
	p.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO conversation_prompts (conversation_id, name, template, updated_at)
		VALUES (?, ?, ?, ?)
	`, p.ConversationID, p.Name, p.Template, p.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save conversation prompt: %w", err)
	}
	return nil
}

// DeleteConversationPrompt removes the override of a conversation
func (r *promptRepo) DeleteConversationPrompt(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM conversation_prompts WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation prompt: %w", err)
	}
	return nil
}

// configRepo implements the Config repository
type configRepo struct {
	db *sql.DB
}

// NewConfigRepo creates a new Config repository
func NewConfigRepo(db *sql.DB) repo.ConfigRepo {
	return &configRepo{db: db}
}

// Get returns the singleton configuration
func (r *configRepo) Get(ctx context.Context) (*domain.GeminiConfig, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT api_key, model_name, max_history_per_thread, updated_at FROM gemini_config WHERE id = 1
	`)

	var cfg domain.GeminiConfig
	var updatedAt int64
	err := row.Scan(&cfg.APIKey, &cfg.ModelName, &cfg.MaxHistoryPerThread, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query config: %w", err)
	}
	cfg.UpdatedAt = time.Unix(updatedAt, 0)
	return &cfg, nil
}

// Save writes the singleton configuration
func (r *configRepo) Save(ctx context.Context, cfg *domain.GeminiConfig) error {
	if cfg.ModelName == "" {
		cfg.ModelName = domain.DefaultModelName
	}
	if cfg.MaxHistoryPerThread <= 0 {
		cfg.MaxHistoryPerThread = domain.DefaultMaxHistoryPerThread
	}
	cfg.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO gemini_config (id, api_key, model_name, max_history_per_thread, updated_at)
		VALUES (1, ?, ?, ?, ?)
	`, cfg.APIKey, cfg.ModelName, cfg.MaxHistoryPerThread, cfg.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}
