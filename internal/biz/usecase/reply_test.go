package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsuit/replybridge/internal/biz/domain"
)

type replyFixture struct {
	notifications *mockNotificationRepo
	history       *mockHistoryRepo
	prompts       *mockPromptRepo
	config        *mockConfigRepo
	gen           *mockGenerator
	clock         *fakeClock
	limiter       *RateLimiter
	uc            *ReplyUsecase
}

func testReplyConfig() ReplyConfig {
	cfg := DefaultReplyConfig()
	cfg.ResolveDelay = time.Millisecond
	return cfg
}

func newReplyFixture(t *testing.T, cfg ReplyConfig) *replyFixture {
	t.Helper()
	clock := newFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	f := &replyFixture{
		notifications: newMockNotificationRepo(),
		history:       &mockHistoryRepo{},
		prompts:       newMockPromptRepo(),
		config:        configuredRepo(),
		gen:           &mockGenerator{replies: []string{"Sure, see you soon"}},
		clock:         clock,
	}

	builder := NewContextBuilderUsecase(f.notifications, f.history, DefaultContextConfig())
	builder.now = clock.Now
	prompts := NewPromptUsecase(f.prompts, "default", testDefaultTemplate)
	readiness := NewReadinessUsecase(f.config, factoryFor(f.gen), zerolog.Nop())
	f.limiter = newTestLimiter(clock)
	dedup := NewDeduper(time.Minute)
	dedup.set.now = clock.Now

	f.uc = NewReplyUsecase(f.notifications, f.history, builder, prompts, readiness, f.limiter, dedup, cfg, zerolog.Nop())
	f.uc.now = clock.Now
	f.uc.sleep = clock.Sleep
	return f
}

func (f *replyFixture) addMessage(conv, content string, at time.Time) int64 {
	return f.notifications.add(domain.Notification{
		ConversationID: conv,
		PackageName:    "com.whatsapp",
		Title:          "Bob",
		Content:        content,
		Timestamp:      at,
	})
}

func TestReply_StreamsWordsThenReturnsFullText(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	id := f.addMessage("c1", "are you coming?", f.clock.Now().Add(-10*time.Second))

	var partials []string
	res, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "are you coming?"}, func(s string) {
		partials = append(partials, s)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Sure, ", "see ", "you ", "soon "}, partials)
	assert.Equal(t, "Sure, see you soon", res.Text)
	assert.Equal(t, strings.TrimSpace(strings.Join(partials, "")), res.Text)
	assert.False(t, res.Truncated)
	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, "c1", res.ConversationID)
	assert.Equal(t, domain.TemplateSourceDefault, res.TemplateSource)
	assert.NoError(t, res.PersistErr)

	// 50ms between words, none after the last
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond}, f.clock.Sleeps())

	prompt := f.gen.lastPrompt()
	assert.Contains(t, prompt, "- Thread ID: c1")
	assert.Contains(t, prompt, "Message: are you coming?")

	entries, _ := f.history.ListByConversation(context.Background(), "c1", 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "are you coming?", entries[0].Message)
	assert.Equal(t, "Sure, see you soon", entries[0].Response)
	assert.Equal(t, id, entries[0].NotificationID)
	assert.Equal(t, 10, f.history.lastKeep)
}

func TestReply_TruncatesToMaxWords(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	words := make([]string, 60)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i+1)
	}
	f.gen.replies = []string{strings.Join(words, " ")}
	id := f.addMessage("c1", "tell me a story", f.clock.Now())

	var partials []string
	res, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "tell me a story"}, func(s string) {
		partials = append(partials, s)
	})
	require.NoError(t, err)

	got := strings.Fields(res.Text)
	assert.Len(t, got, 50)
	assert.True(t, res.Truncated)
	assert.True(t, strings.HasSuffix(res.Text, "w50..."))
	assert.Len(t, partials, 50)
	assert.Equal(t, "w50... ", partials[49])
}

func TestLimitWords(t *testing.T) {
	words, truncated := LimitWords("  a  b\tc\n", 5, "...")
	assert.Equal(t, []string{"a  ", "b\t", "c"}, words)
	assert.False(t, truncated)

	words, truncated = LimitWords("a b c d", 3, "...")
	assert.Equal(t, []string{"a ", "b ", "c..."}, words)
	assert.True(t, truncated)

	words, truncated = LimitWords("a b c", 3, "...")
	assert.Equal(t, []string{"a ", "b ", "c"}, words)
	assert.False(t, truncated)

	words, truncated = LimitWords("a\n\nb c", 2, "...")
	assert.Equal(t, []string{"a\n\n", "b..."}, words)
	assert.True(t, truncated)

	words, truncated = LimitWords("", 3, "...")
	assert.Empty(t, words)
	assert.False(t, truncated)
}

func TestReply_KeepsLineBreaks(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	f.gen.replies = []string{"Hi Bob,\n\nSee you at 5.\nThanks"}
	id := f.addMessage("c1", "when?", f.clock.Now())

	var partials []string
	res, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "when?"}, func(s string) {
		partials = append(partials, s)
	})
	require.NoError(t, err)

	assert.Equal(t, "Hi Bob,\n\nSee you at 5.\nThanks", res.Text)
	assert.Equal(t, []string{"Hi ", "Bob,\n\n", "See ", "you ", "at ", "5.\n", "Thanks "}, partials)
	assert.Equal(t, res.Text, strings.TrimSpace(strings.Join(partials, "")))
	assert.False(t, res.Truncated)
}

func TestReply_CoalescesRapidMessages(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	t0 := f.clock.Now()
	first := f.addMessage("c1", "a", t0)
	f.addMessage("c1", "b", t0.Add(500*time.Millisecond))
	f.clock.Advance(600 * time.Millisecond)

	res, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: first, Message: "a"}, nil)
	require.NoError(t, err)

	assert.True(t, res.Coalesced)
	sleeps := f.clock.Sleeps()
	require.NotEmpty(t, sleeps)
	assert.Equal(t, time.Second, sleeps[0])
	assert.Contains(t, f.gen.lastPrompt(), "Message: a\nb")

	entries, _ := f.history.ListByConversation(context.Background(), "c1", 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "a\nb", entries[0].Message)
}

func TestReply_NoCoalescingOutsideWindow(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	t0 := f.clock.Now()
	f.addMessage("c1", "earlier", t0.Add(-5*time.Second))
	id := f.addMessage("c1", "now", t0)

	res, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "now"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Coalesced)
	assert.Contains(t, f.gen.lastPrompt(), "Message: now")
	assert.NotContains(t, f.gen.lastPrompt(), "Message: earlier")
}

func TestReply_DuplicateShortCircuits(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	id := f.addMessage("c1", "hi", f.clock.Now())

	_, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "hi"}, nil)
	require.NoError(t, err)

	var partials []string
	res, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "hi"}, func(s string) {
		partials = append(partials, s)
	})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, DefaultReplyConfig().DuplicateMessage, res.Text)
	assert.Empty(t, partials)
	assert.Equal(t, 1, f.gen.calls())

	f.uc.SetDuplicateMessage("busy")
	res, err = f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id}, nil)
	require.NoError(t, err)
	assert.Equal(t, "busy", res.Text)
}

// With DedupPrecheck off every request is generated, only registration remains.
func TestReply_DedupPrecheckDisabled(t *testing.T) {
	cfg := testReplyConfig()
	cfg.DedupPrecheck = false
	f := newReplyFixture(t, cfg)
	id := f.addMessage("c1", "hi", f.clock.Now())

	for i := 0; i < 2; i++ {
		res, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "hi"}, nil)
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
	}
	assert.Equal(t, 2, f.gen.calls())
}

func TestReply_NotConfigured(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	f.config.cfg.APIKey = ""
	id := f.addMessage("c1", "hi", f.clock.Now())

	var partials []string
	_, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "hi"}, func(s string) {
		partials = append(partials, s)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
	assert.Equal(t, "configuration", domain.ErrorClass(err))
	assert.Zero(t, f.gen.calls())
	assert.Empty(t, partials)
}

func TestReply_NotificationNotFound(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())

	_, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: 404, Message: "hi"}, nil)
	assert.ErrorIs(t, err, domain.ErrNotificationNotFound)
	assert.Zero(t, f.gen.calls())
}

func TestReply_AssignsConversationLazily(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	id := f.notifications.add(domain.Notification{PackageName: "com.whatsapp", Title: "Alice Smith", Content: "hi", Timestamp: f.clock.Now()})

	res, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id}, nil)
	require.NoError(t, err)
	assert.Equal(t, "whatsapp_contact_alice", res.ConversationID)
	assert.Contains(t, f.gen.lastPrompt(), "Message: hi", "stored content is used when no message is given")
}

func TestReply_EmptyResponse(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	f.gen.replies = []string{"   "}
	id := f.addMessage("c1", "hi", f.clock.Now())

	_, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "hi"}, nil)
	assert.ErrorIs(t, err, domain.ErrEmptyResponse)
	assert.Equal(t, "empty_response", domain.ErrorClass(err))
}

func TestReply_RateLimited(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	for i := 0; i < 15; i++ {
		require.True(t, f.limiter.Allow())
	}
	id := f.addMessage("c1", "hi", f.clock.Now())

	_, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "hi"}, nil)
	require.Error(t, err)
	assert.True(t, domain.IsRateLimit(err))
	assert.Zero(t, f.gen.calls())
}

func TestReply_ProviderRateLimitIsRetried(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	f.gen.errs = []error{domain.NewProviderError(domain.ProviderErrorRateLimit, errors.New("429"))}
	f.gen.replies = []string{"", "Fine thanks"}
	id := f.addMessage("c1", "how are you", f.clock.Now())

	res, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "how are you"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Fine thanks", res.Text)
	assert.Equal(t, 2, f.gen.calls())
}

func TestReply_ProviderErrorPropagates(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	f.gen.errs = []error{domain.NewProviderError(domain.ProviderErrorAuth, errors.New("bad key"))}
	id := f.addMessage("c1", "hi", f.clock.Now())

	_, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "hi"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGeneration)
	assert.Equal(t, "provider_auth", domain.ErrorClass(err))
	assert.Equal(t, 1, f.gen.calls())
}

func TestReply_PersistenceFailureIsSwallowed(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	f.history.insertErr = errors.New("disk I/O error")
	id := f.addMessage("c1", "hi", f.clock.Now())

	res, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Sure, see you soon", res.Text)
	assert.ErrorIs(t, res.PersistErr, domain.ErrPersistence)
	assert.Zero(t, res.HistoryID)
}

func TestReply_HistoryBelowCapIsKept(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	f.history.seed("c1", 3, f.clock.Now().Add(-time.Hour))
	id := f.addMessage("c1", "hi", f.clock.Now())

	_, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "hi"}, nil)
	require.NoError(t, err)

	n, _ := f.history.Count(context.Background(), "c1")
	assert.Equal(t, 4, n)
}

func TestReply_HistoryPrunedToCap(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	f.history.seed("c1", 10, f.clock.Now().Add(-time.Hour))
	id := f.addMessage("c1", "hi", f.clock.Now())

	_, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "hi"}, nil)
	require.NoError(t, err)

	entries, _ := f.history.ListByConversation(context.Background(), "c1", 0)
	require.Len(t, entries, 10)
	assert.Equal(t, "hi", entries[0].Message)
	assert.Equal(t, "m1", entries[9].Message, "oldest row was pruned")
}

func TestReply_ConversationTemplateOverride(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	f.prompts.conversation["c1"] = domain.ConversationPrompt{ConversationID: "c1", Name: "bob", Template: "Reply to Bob: {message}"}
	id := f.addMessage("c1", "hi", f.clock.Now())

	res, err := f.uc.Generate(context.Background(), ReplyRequest{NotificationID: id, Message: "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TemplateSourceConversation, res.TemplateSource)
	assert.Equal(t, "Reply to Bob: hi", f.gen.lastPrompt())
}

func TestReply_CancelledWhileStreaming(t *testing.T) {
	f := newReplyFixture(t, testReplyConfig())
	id := f.addMessage("c1", "hi", f.clock.Now())
	ctx, cancel := context.WithCancel(context.Background())

	var partials []string
	_, err := f.uc.Generate(ctx, ReplyRequest{NotificationID: id, Message: "hi"}, func(s string) {
		partials = append(partials, s)
		cancel()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, partials, 1)
	n, _ := f.history.Count(context.Background(), "c1")
	assert.Zero(t, n)
}
