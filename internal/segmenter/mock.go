package segmenter

import (
	"context"
	"errors"

	"github.com/fablecast/fablecast/internal/transcript"
)

// MockClient returns canned segments, or fails when Fail is set.
type MockClient struct {
	Segments []transcript.Segment
	Fail     bool
	Calls    int
}

func (m *MockClient) Segment(ctx context.Context, chapterText string) ([]transcript.Segment, error) {
	m.Calls++
	if m.Fail {
		return nil, errors.New("mock segmenter failure")
	}
	return m.Segments, nil
}
