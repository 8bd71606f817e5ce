// Package apptest builds a fully wired App on a temporary database for tests.
package apptest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/whatsuit/replybridge/internal/app"
	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/biz/repo"
	"github.com/whatsuit/replybridge/internal/conf"
)

// Generator is a scripted model client. Replies are consumed in order; the
// last one repeats.
type Generator struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
}

// NewGenerator creates a generator answering with replies
func NewGenerator(replies ...string) *Generator {
	return &Generator{replies: replies}
}

// Fail makes every following call return err
func (g *Generator) Fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "", nil
	}
	r := g.replies[0]
	if len(g.replies) > 1 {
		g.replies = g.replies[1:]
	}
	return r, nil
}

// Prompts returns every prompt received so far
func (g *Generator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

// Config returns a configuration without pacing delays
func Config(t testing.TB) *conf.Config {
	p := conf.DefaultPromptsConfig()
	p.Limits.WordDelay = 0
	p.Limits.ResolveDelay = time.Millisecond
	p.Limits.RateLimit.InitialBackoff = time.Millisecond
	return &conf.Config{
		Storage: conf.StorageConfig{DBPath: filepath.Join(t.TempDir(), "replybridge.db")},
		Gemini:  conf.GeminiConfig{GenerateTimeout: 5 * time.Second},
		Prompts: p,
	}
}

// New builds an App backed by gen. When configured is true a model config
// row is stored so replies can run.
func New(t testing.TB, gen *Generator, configured bool) *app.App {
	t.Helper()
	return NewWithConfig(t, Config(t), gen, configured)
}

// NewWithConfig is New with an explicit configuration
func NewWithConfig(t testing.TB, cfg *conf.Config, gen *Generator, configured bool) *app.App {
	t.Helper()
	factory := func(domain.GeminiConfig) (repo.Generator, error) { return gen, nil }
	a, err := app.New(cfg, zerolog.Nop(), app.WithGeneratorFactory(factory))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	if configured {
		err := a.Repos.Config.Save(context.Background(), &domain.GeminiConfig{APIKey: "test-key", ModelName: "gemini-test"})
		require.NoError(t, err)
	}
	return a
}
