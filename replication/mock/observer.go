package mock

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/alpacahq/oplogreplay/oplog"
)

// Observer records notifications. It implements replication.Observer.
type Observer struct {
	mu          sync.Mutex
	Replayed    []*oplog.Entry
	Skipped     []*oplog.Entry
	Failures    []error
	Reconnects  []error
	Checkpoints []primitive.Timestamp
}

func (o *Observer) EntryReplayed(e *oplog.Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Replayed = append(o.Replayed, e)
}

func (o *Observer) EntrySkipped(e *oplog.Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Skipped = append(o.Skipped, e)
}

func (o *Observer) ReplayFailed(_ *oplog.Entry, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Failures = append(o.Failures, err)
}

func (o *Observer) Reconnected(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Reconnects = append(o.Reconnects, err)
}

func (o *Observer) CheckpointSaved(ts primitive.Timestamp) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Checkpoints = append(o.Checkpoints, ts)
}

// ReconnectCount returns the number of Reconnected calls.
func (o *Observer) ReconnectCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Reconnects)
}
