// Package delivery sends assembled audio to its destination. Delivery
// failure must stay distinguishable from success: the ledger transition
// for a unit is gated on it.
package delivery

import "context"

// Sink delivers one assembled audio file.
type Sink interface {
	Send(ctx context.Context, audioPath string) error
}
