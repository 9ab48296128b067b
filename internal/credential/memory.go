package credential

import (
	"context"
	"sync"
	"time"

	"github.com/desurestar/RSOD-project/internal/domain"
)

// Memory keeps tokens for the life of the process.
type Memory struct {
	mu     sync.RWMutex
	tokens domain.Tokens
}

// NewMemory returns a store seeded with initial, which may be empty.
func NewMemory(initial domain.Tokens) *Memory {
	m := &Memory{}
	if initial.Complete() {
		m.tokens = withExpiry(initial, time.Now())
	}
	return m
}

func (m *Memory) Load(_ context.Context) (domain.Tokens, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens, nil
}

func (m *Memory) Save(_ context.Context, tokens domain.Tokens) error {
	if err := validate(tokens); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = withExpiry(tokens, time.Now())
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = domain.Tokens{}
	return nil
}
