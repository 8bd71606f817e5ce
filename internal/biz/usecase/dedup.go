package usecase

import (
	"sync"
	"time"
)

// ttlSet is a concurrent set whose members expire after a fixed TTL.
// Expired members are dropped lazily on lookup and by Sweep.
type ttlSet[K comparable] struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	until map[K]time.Time
}

func newTTLSet[K comparable](ttl time.Duration) *ttlSet[K] {
	return &ttlSet[K]{
		ttl:   ttl,
		now:   time.Now,
		until: make(map[K]time.Time),
	}
}

// contains reports whether k is present and not expired
func (s *ttlSet[K]) contains(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.until[k]
	if !ok {
		return false
	}
	if !s.now().Before(exp) {
		delete(s.until, k)
		return false
	}
	return true
}

// add inserts k, refreshing its expiry
func (s *ttlSet[K]) add(k K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until[k] = s.now().Add(s.ttl)
}

// addIfAbsent inserts k and returns true, or returns false if k is live
func (s *ttlSet[K]) addIfAbsent(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.until[k]; ok && now.Before(exp) {
		return false
	}
	s.until[k] = now.Add(s.ttl)
	return true
}

func (s *ttlSet[K]) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, exp := range s.until {
		if !now.Before(exp) {
			delete(s.until, k)
			n++
		}
	}
	return n
}

func (s *ttlSet[K]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.until)
}

// Deduper suppresses repeated work on a notification id. Entries expire after
// the TTL regardless of whether the work finished.
type Deduper struct {
	set *ttlSet[int64]
}

// NewDeduper creates a deduper with the given TTL
func NewDeduper(ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Deduper{set: newTTLSet[int64](ttl)}
}

// InFlight reports whether id was registered within the TTL
func (d *Deduper) InFlight(id int64) bool { return d.set.contains(id) }

// Register marks id as in flight for one TTL
func (d *Deduper) Register(id int64) { d.set.add(id) }

// Sweep drops expired entries and returns how many were removed
func (d *Deduper) Sweep() int { return d.set.sweep() }

// Len returns the number of tracked ids, expired ones included until swept
func (d *Deduper) Len() int { return d.set.len() }

// ConversationThrottle limits auto-replies to one per conversation per window
type ConversationThrottle struct {
	set *ttlSet[string]
}

// NewConversationThrottle creates a throttle with the given window
func NewConversationThrottle(window time.Duration) *ConversationThrottle {
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	return &ConversationThrottle{set: newTTLSet[string](window)}
}

// Acquire returns false when the conversation was acquired within the window
func (t *ConversationThrottle) Acquire(conversationID string) bool {
	return t.set.addIfAbsent(conversationID)
}

// Sweep drops expired entries
func (t *ConversationThrottle) Sweep() int { return t.set.sweep() }
