package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dontdude/testgen/internal/domain"
)

// conversation is the in-memory state of one session.
type conversation struct {
	turns     []domain.Turn
	expiresAt time.Time
}

// Memory is a process-local domain.SessionStore.
// Conversations expire ttl after their last append.
type Memory struct {
	mu       sync.Mutex
	convs    map[string]*conversation
	ttl      time.Duration
	maxTurns int
	now      func() time.Time
}

// Ensure Memory satisfies the interface
var _ domain.SessionStore = (*Memory)(nil)

// NewMemory returns an empty store. ttl <= 0 keeps conversations forever,
// maxTurns <= 0 keeps every turn, odd caps are rounded down to whole exchanges.
func NewMemory(ttl time.Duration, maxTurns int) *Memory {
	return &Memory{
		convs:    make(map[string]*conversation),
		ttl:      ttl,
		maxTurns: domain.TurnCap(maxTurns),
		now:      time.Now,
	}
}

func (m *Memory) History(_ context.Context, id string) ([]domain.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.convs[id]
	if !ok {
		return []domain.Turn{}, nil
	}
	if m.expired(c) {
		delete(m.convs, id)
		return []domain.Turn{}, nil
	}

	out := make([]domain.Turn, len(c.turns))
	copy(out, c.turns)
	return out, nil
}

func (m *Memory) Append(_ context.Context, id string, turns ...domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.convs[id]
	if !ok || m.expired(c) {
		c = &conversation{}
		m.convs[id] = c
	}

	c.turns = append(c.turns, turns...)
	if m.maxTurns > 0 && len(c.turns) > m.maxTurns {
		c.turns = append([]domain.Turn(nil), c.turns[len(c.turns)-m.maxTurns:]...)
	}
	if m.ttl > 0 {
		c.expiresAt = m.now().Add(m.ttl)
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.convs, id)
	m.mu.Unlock()
	return nil
}

// Len reports how many conversations are held, expired ones included until the next sweep.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs)
}

// Sweep drops expired conversations and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, c := range m.convs {
		if m.expired(c) {
			delete(m.convs, id)
			n++
		}
	}
	return n
}

// RunJanitor sweeps expired conversations every interval until ctx is done.
func (m *Memory) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				slog.Debug("Expired sessions removed", "count", n)
			}
		}
	}
}

func (m *Memory) expired(c *conversation) bool {
	return m.ttl > 0 && !c.expiresAt.IsZero() && !m.now().Before(c.expiresAt)
}
