// Package storage persists the seen-link cache, the registered audience and
// bot settings between cycles.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/deusflow/ottpulse/internal/logger"
)

// ErrPersistence wraps backend write and read failures. The in-memory view
// stays authoritative when it is returned.
var ErrPersistence = errors.New("persistence failure")

const DefaultSeenLinksCap = 500

// Member is a registered audience member.
type Member struct {
	PreferredLanguage string    `json:"preferred_language,omitempty"`
	JoinedAt          time.Time `json:"joined_at"`
}

type Stats struct {
	Backend   string    `json:"backend"`
	SeenLinks int       `json:"seen_links"`
	SeenCap   int       `json:"seen_links_cap"`
	Users     int       `json:"registered_users"`
	AdminID   int64     `json:"admin_id"`
	LastRun   time.Time `json:"last_run"`
}

// Store is the bot's persisted state. Mutators update memory immediately;
// Save writes it out.
type Store interface {
	IsProcessed(hash string) bool
	MarkProcessed(hashes ...string)
	SetLastRun(t time.Time)

	// AddMember registers id and reports whether it was new.
	AddMember(id int64, joinedAt time.Time) bool
	SetLanguage(id int64, lang string)
	Member(id int64) (Member, bool)

	AdminID() int64
	// SetAdminIfUnset claims the admin slot and reports success.
	SetAdminIfUnset(id int64) bool

	Save(ctx context.Context) error
	Stats() Stats
	Close() error
}

// Open picks the Postgres backend when databaseURL is set and falls back to
// the JSON file when it is not, or when the database is unreachable.
func Open(ctx context.Context, databaseURL, path string, capacity int) Store {
	if databaseURL != "" {
		pg, err := OpenPostgresStore(ctx, databaseURL, capacity)
		if err == nil {
			return pg
		}
		logger.Warn("PostgreSQL unavailable, falling back to file store", "error", err, "path", path)
	}
	return OpenFileStore(path, capacity)
}

// SeenLinks is a bounded set that evicts the oldest entry first.
type SeenLinks struct {
	capacity int
	order    []string
	set      map[string]struct{}
}

func NewSeenLinks(capacity int) *SeenLinks {
	if capacity < 1 {
		capacity = DefaultSeenLinksCap
	}
	return &SeenLinks{capacity: capacity, set: make(map[string]struct{}, capacity)}
}

func (s *SeenLinks) Contains(hash string) bool {
	_, ok := s.set[hash]
	return ok
}

// Add inserts hash, evicting the oldest entries past capacity. Re-adding a
// present hash does not refresh its position.
func (s *SeenLinks) Add(hash string) bool {
	if hash == "" || s.Contains(hash) {
		return false
	}
	s.set[hash] = struct{}{}
	s.order = append(s.order, hash)
	if over := len(s.order) - s.capacity; over > 0 {
		for _, old := range s.order[:over] {
			delete(s.set, old)
		}
		s.order = append([]string(nil), s.order[over:]...)
	}
	return true
}

func (s *SeenLinks) Len() int { return len(s.order) }

func (s *SeenLinks) Cap() int { return s.capacity }

// Slice returns the hashes oldest first.
func (s *SeenLinks) Slice() []string {
	return append([]string(nil), s.order...)
}

// memState is the in-memory view shared by both backends. One mutex
// serializes every write.
type memState struct {
	mu      sync.Mutex
	seen    *SeenLinks
	users   map[int64]Member
	adminID int64
	lastRun time.Time
}

func newMemState(capacity int) *memState {
	return &memState{seen: NewSeenLinks(capacity), users: make(map[int64]Member)}
}

func (m *memState) IsProcessed(hash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen.Contains(hash)
}

func (m *memState) markProcessed(hashes []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var added []string
	for _, h := range hashes {
		if m.seen.Add(h) {
			added = append(added, h)
		}
	}
	return added
}

func (m *memState) SetLastRun(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRun = t
}

func (m *memState) AddMember(id int64, joinedAt time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; ok {
		return false
	}
	m.users[id] = Member{JoinedAt: joinedAt}
	return true
}

func (m *memState) SetLanguage(id int64, lang string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.users[id]
	if !ok {
		member.JoinedAt = time.Now()
	}
	member.PreferredLanguage = lang
	m.users[id] = member
}

func (m *memState) Member(id int64) (Member, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.users[id]
	return member, ok
}

func (m *memState) AdminID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adminID
}

func (m *memState) SetAdminIfUnset(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.adminID != 0 || id == 0 {
		return false
	}
	m.adminID = id
	return true
}

func (m *memState) stats(backend string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Backend:   backend,
		SeenLinks: m.seen.Len(),
		SeenCap:   m.seen.Cap(),
		Users:     len(m.users),
		AdminID:   m.adminID,
		LastRun:   m.lastRun,
	}
}
