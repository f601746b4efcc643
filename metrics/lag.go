package metrics

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LagSetter is an interface for the lag metric to improve unit-testability.
type LagSetter interface {
	SetLag(position primitive.Timestamp)
}

// StartLagMonitor refreshes the lag at each interval until ctx is done,
// so that it keeps growing while no entry is replayed.
func StartLagMonitor(ctx context.Context, s LagSetter, position func() primitive.Timestamp, interval time.Duration) {
	s.SetLag(position())

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.SetLag(position())
		}
	}
}
