package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/repo"
)

// Mock implementations

type mockNotificationRepo struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*domain.Notification
	getErr error
}

func newMockNotificationRepo() *mockNotificationRepo {
	return &mockNotificationRepo{items: make(map[int64]*domain.Notification)}
}

func (m *mockNotificationRepo) add(n domain.Notification) int64 {
	id, _ := m.Save(context.Background(), &n)
	return id
}

func (m *mockNotificationRepo) Save(ctx context.Context, n *domain.Notification) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *n
	cp.ID = m.nextID
	m.items[cp.ID] = &cp
	return cp.ID, nil
}

func (m *mockNotificationRepo) GetByID(ctx context.Context, id int64) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	n, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (m *mockNotificationRepo) AssignConversationID(ctx context.Context, id int64, conversationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok || n.ConversationID != "" {
		return false, nil
	}
	n.ConversationID = conversationID
	return true, nil
}

func (m *mockNotificationRepo) ListThread(ctx context.Context, conversationID string, until time.Time, limit int) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for _, n := range m.items {
		if n.ConversationID == conversationID && !n.Timestamp.After(until) {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockNotificationRepo) ListSince(ctx context.Context, conversationID string, since time.Time) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for _, n := range m.items {
		if n.ConversationID == conversationID && !n.Timestamp.Before(since) {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (m *mockNotificationRepo) MarkAutoReplied(ctx context.Context, id int64, reply string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.items[id]; ok {
		n.AutoReplied = true
		n.AutoReplyContent = reply
	}
	return nil
}

func (m *mockNotificationRepo) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *mockNotificationRepo) DeleteOlderThan(ctx context.Context, t time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, item := range m.items {
		if item.Timestamp.Before(t) {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

type mockHistoryRepo struct {
	mu        sync.Mutex
	nextID    int64
	entries   []domain.HistoryEntry
	insertErr error
	lastKeep  int
}

func (m *mockHistoryRepo) seed(conversationID string, n int, start time.Time) {
	for i := 0; i < n; i++ {
		m.nextID++
		m.entries = append(m.entries, domain.HistoryEntry{
			ID:             m.nextID,
			ConversationID: conversationID,
			Message:        fmt.Sprintf("m%d", i),
			Response:       fmt.Sprintf("r%d", i),
			Timestamp:      start.Add(time.Duration(i) * time.Second),
		})
	}
}

func (m *mockHistoryRepo) InsertAndPrune(ctx context.Context, entry *domain.HistoryEntry, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastKeep = keep
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.nextID++
	cp := *entry
	cp.ID = m.nextID
	m.entries = append(m.entries, cp)

	conv := m.sortedLocked(entry.ConversationID)
	if keep > 0 && len(conv) > keep {
		drop := make(map[int64]struct{})
		for _, e := range conv[keep:] {
			drop[e.ID] = struct{}{}
		}
		kept := m.entries[:0]
		for _, e := range m.entries {
			if _, ok := drop[e.ID]; !ok {
				kept = append(kept, e)
			}
		}
		m.entries = kept
	}
	return cp.ID, nil
}

// sortedLocked returns conversation entries newest first
func (m *mockHistoryRepo) sortedLocked(conversationID string) []domain.HistoryEntry {
	var out []domain.HistoryEntry
	for _, e := range m.entries {
		if e.ConversationID == conversationID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func (m *mockHistoryRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sortedLocked(conversationID)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockHistoryRepo) GetByID(ctx context.Context, id int64) (*domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			cp := e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockHistoryRepo) UpdateResponse(ctx context.Context, id int64, response string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].ID == id {
			m.entries[i].Response = response
			m.entries[i].Modified = true
		}
	}
	return nil
}

func (m *mockHistoryRepo) UpdateAnalysis(ctx context.Context, id int64, analysis string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].ID == id {
			m.entries[i].Analysis = analysis
			m.entries[i].AnalysisTimestamp = &at
			return nil
		}
	}
	return errors.New("history entry not found")
}

func (m *mockHistoryRepo) Count(ctx context.Context, conversationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sortedLocked(conversationID)), nil
}

type mockPromptRepo struct {
	mu           sync.Mutex
	templates    []domain.PromptTemplate
	conversation map[string]domain.ConversationPrompt
}

func newMockPromptRepo() *mockPromptRepo {
	return &mockPromptRepo{conversation: make(map[string]domain.ConversationPrompt)}
}

func (m *mockPromptRepo) GetActiveTemplate(ctx context.Context) (*domain.PromptTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.templates {
		if t.Active {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockPromptRepo) ListTemplates(ctx context.Context) ([]domain.PromptTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PromptTemplate(nil), m.templates...), nil
}

func (m *mockPromptRepo) CreateTemplate(ctx context.Context, t *domain.PromptTemplate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Active {
		for i := range m.templates {
			m.templates[i].Active = false
		}
	}
	cp := *t
	cp.ID = int64(len(m.templates) + 1)
	m.templates = append(m.templates, cp)
	return cp.ID, nil
}

func (m *mockPromptRepo) DeleteTemplate(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.templates[:0]
	for _, t := range m.templates {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	m.templates = kept
	return nil
}

func (m *mockPromptRepo) SetActiveTemplate(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, t := range m.templates {
		if t.ID == id {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("template %d not found", id)
	}
	for i := range m.templates {
		m.templates[i].Active = m.templates[i].ID == id
	}
	return nil
}

func (m *mockPromptRepo) GetConversationPrompt(ctx context.Context, conversationID string) (*domain.ConversationPrompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.conversation[conversationID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockPromptRepo) SaveConversationPrompt(ctx context.Context, p *domain.ConversationPrompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversation[p.ConversationID] = *p
	return nil
}

func (m *mockPromptRepo) DeleteConversationPrompt(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversation, conversationID)
	return nil
}

type mockConfigRepo struct {
	mu  sync.Mutex
	cfg *domain.GeminiConfig
	err error
}

func (m *mockConfigRepo) Get(ctx context.Context) (*domain.GeminiConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.cfg == nil {
		return nil, nil
	}
	cp := *m.cfg
	return &cp, nil
}

func (m *mockConfigRepo) Save(ctx context.Context, cfg *domain.GeminiConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.cfg = &cp
	return nil
}

type mockOptOutRepo struct {
	mu  sync.Mutex
	set map[string]time.Time
}

func newMockOptOutRepo() *mockOptOutRepo {
	return &mockOptOutRepo{set: make(map[string]time.Time)}
}

func (m *mockOptOutRepo) IsOptedOut(ctx context.Context, conversationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.set[conversationID]
	return ok, nil
}

func (m *mockOptOutRepo) OptOut(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set[conversationID] = time.Now()
	return nil
}

func (m *mockOptOutRepo) OptIn(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.set, conversationID)
	return nil
}

func (m *mockOptOutRepo) List(ctx context.Context) ([]domain.AutoReplyOptOut, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AutoReplyOptOut
	for id, at := range m.set {
		out = append(out, domain.AutoReplyOptOut{ConversationID: id, CreatedAt: at})
	}
	return out, nil
}

type mockGenerator struct {
	mu      sync.Mutex
	prompts []string
	replies []string
	errs    []error
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.prompts)
	m.prompts = append(m.prompts, prompt)
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if len(m.replies) == 0 {
		return "", nil
	}
	if i < len(m.replies) {
		return m.replies[i], nil
	}
	return m.replies[len(m.replies)-1], nil
}

func (m *mockGenerator) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func (m *mockGenerator) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

func factoryFor(g repo.Generator) repo.GeneratorFactory {
	return func(cfg domain.GeminiConfig) (repo.Generator, error) {
		return g, nil
	}
}

// fakeClock is advanced by fake sleeps
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}
