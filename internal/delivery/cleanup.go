package delivery

import (
	"context"
	"fmt"
	"os"
)

// cleanupSink removes the local audio file once the inner sink has
// accepted it, for deployments that treat delivery as the handoff and do
// not keep an audio library.
type cleanupSink struct {
	inner Sink
}

func NewCleanupSink(inner Sink) Sink {
	return &cleanupSink{inner: inner}
}

func (c *cleanupSink) Send(ctx context.Context, audioPath string) error {
	if err := c.inner.Send(ctx, audioPath); err != nil {
		return err
	}
	if err := os.Remove(audioPath); err != nil {
		return fmt.Errorf("remove delivered audio: %w", err)
	}
	return nil
}
