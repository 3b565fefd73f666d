package sessiongate

import (
	"context"
	"sync"
)

// Memory keeps entries for the lifetime of the process.
type Memory struct {
	mu       sync.Mutex
	otps     map[int64]string
	approved map[int64]bool
}

func NewMemory() *Memory {
	return &Memory{
		otps:     make(map[int64]string),
		approved: make(map[int64]bool),
	}
}

func (m *Memory) SetOTP(_ context.Context, userID int64, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otps[userID] = code
	return nil
}

func (m *Memory) PeekOTP(_ context.Context, userID int64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.otps[userID]
	return code, ok, nil
}

func (m *Memory) ClearOTP(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.otps, userID)
	return nil
}

func (m *Memory) SetApproved(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approved[userID] = true
	return nil
}

func (m *Memory) IsApproved(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approved[userID], nil
}
