package usecase

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// EchoGuard remembers recently sent replies so that our own messages coming
// back through a notification source are not answered again.
type EchoGuard struct {
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	mu   sync.Mutex
	sent []sentMessage // newest first
}

type sentMessage struct {
	normalized string
	at         time.Time
}

const echoSimilarityThreshold = 0.85

var (
	echoSpaceRe = regexp.MustCompile(`\s+`)
	echoMetric  = &metrics.SorensenDice{CaseSensitive: true, NgramSize: 2}
)

// NewEchoGuard tracks up to maxSize replies for ttl
func NewEchoGuard(ttl time.Duration, maxSize int) *EchoGuard {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 20
	}
	return &EchoGuard{ttl: ttl, maxSize: maxSize, now: time.Now}
}

// Record remembers a sent reply
func (g *EchoGuard) Record(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append([]sentMessage{{normalized: normalizeEcho(text), at: g.now()}}, g.sent...)
	g.pruneLocked()
}

// IsEcho reports whether text matches, or nearly matches, a recent reply
func (g *EchoGuard) IsEcho(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked()

	in := normalizeEcho(text)
	for _, m := range g.sent {
		if in == m.normalized {
			return true
		}
		if len(in) > 10 && diceSimilarity(in, m.normalized) > echoSimilarityThreshold {
			return true
		}
	}
	return false
}

// Prune drops expired replies
func (g *EchoGuard) Prune() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked()
}

func (g *EchoGuard) pruneLocked() {
	cutoff := g.now().Add(-g.ttl)
	for len(g.sent) > 0 && g.sent[len(g.sent)-1].at.Before(cutoff) {
		g.sent = g.sent[:len(g.sent)-1]
	}
	if len(g.sent) > g.maxSize {
		g.sent = g.sent[:g.maxSize]
	}
}

func normalizeEcho(s string) string {
	return strings.ToLower(echoSpaceRe.ReplaceAllString(strings.TrimSpace(s), " "))
}

// diceSimilarity is the Sorensen-Dice coefficient over character bigrams
func diceSimilarity(a, b string) float64 {
	return strutil.Similarity(a, b, echoMetric)
}
