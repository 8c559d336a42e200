package delivery

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// MockSink records sent files in memory. FailNext makes the next Send
// return an error, for exercising the ledger gating paths.
type MockSink struct {
	mu       sync.Mutex
	sent     []string
	failNext bool
}

func NewMockSink() *MockSink {
	return &MockSink{}
}

func (m *MockSink) Send(ctx context.Context, audioPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(audioPath); err != nil {
		return fmt.Errorf("audio file not readable: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return fmt.Errorf("mock sink rejected %s", audioPath)
	}
	m.sent = append(m.sent, audioPath)
	return nil
}

func (m *MockSink) FailNext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = true
}

func (m *MockSink) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}
