package replication

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/alpacahq/oplogreplay/oplog"
)

// Query selects the oplog entries a Cursor returns.
type Query struct {
	// After excludes every entry with a timestamp lower than or equal to it.
	After primitive.Timestamp
	// Database and Collection narrow the namespace. Both empty means every namespace.
	Database   string
	Collection string
}

// Source is the oplog of a replica set.
type Source interface {
	// ReplicaSetName returns the name of the replica set the oplog belongs to.
	ReplicaSetName(ctx context.Context) (string, error)
	// LatestTimestamp returns the timestamp of the newest entry. ok is false for an empty oplog.
	LatestTimestamp(ctx context.Context) (ts primitive.Timestamp, ok bool, err error)
	// Tail opens a tailable cursor returning entries matching q in oplog order.
	Tail(ctx context.Context, q Query) (Cursor, error)
}

// Cursor iterates a tailable query.
type Cursor interface {
	// TryNext moves to the next entry without waiting for new ones.
	// It returns false when no entry is available right now or on error.
	TryNext(ctx context.Context) bool
	// Entry decodes the current entry.
	Entry() (*oplog.Entry, error)
	// Alive is false once the server has closed the cursor.
	Alive() bool
	Err() error
	Close(ctx context.Context) error
}

// Destination applies writes to the replicated deployment.
type Destination interface {
	// Insert returns an error wrapping ErrDuplicateKey when the document already exists.
	Insert(ctx context.Context, ns oplog.Namespace, doc bson.D) error
	Update(ctx context.Context, ns oplog.Namespace, selector, update bson.D, upsert bool) error
	Replace(ctx context.Context, ns oplog.Namespace, selector, doc bson.D, upsert bool) error
	Delete(ctx context.Context, ns oplog.Namespace, selector bson.D) error
	CreateIndex(ctx context.Context, spec oplog.IndexSpec) error
	// DropIndex drops the named index; "*" drops every index but _id.
	DropIndex(ctx context.Context, ns oplog.Namespace, name string) error
	ListIndexes(ctx context.Context, ns oplog.Namespace) ([]string, error)
	RunCommand(ctx context.Context, database string, cmd bson.D) error
	// ApplyOps applies raw oplog entries server side.
	ApplyOps(ctx context.Context, entries []*oplog.Entry) error
}

// CheckpointStore persists the replay position per replica set.
// A key must be written by a single replayer at a time; concurrent writers are not detected.
type CheckpointStore interface {
	// Load returns the stored checkpoint. ok is false when none exists.
	Load(ctx context.Context, key string) (ts primitive.Timestamp, ok bool, err error)
	// Save upserts the checkpoint.
	Save(ctx context.Context, key string, ts primitive.Timestamp) error
	Delete(ctx context.Context, key string) error
}

// Processor consumes the entries delivered by a Watcher.
type Processor interface {
	// Process handles an entry. An error makes the watcher retry the same entry.
	Process(ctx context.Context, e *oplog.Entry) error
	// Skip is called for entries excluded by the watcher filter, so progress is still recorded.
	Skip(ctx context.Context, e *oplog.Entry) error
}

// Observer is notified of replication progress. Implementations must be safe for concurrent use.
type Observer interface {
	EntryReplayed(e *oplog.Entry)
	EntrySkipped(e *oplog.Entry)
	ReplayFailed(e *oplog.Entry, err error)
	Reconnected(err error)
	CheckpointSaved(ts primitive.Timestamp)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) EntryReplayed(*oplog.Entry)          {}
func (NopObserver) EntrySkipped(*oplog.Entry)           {}
func (NopObserver) ReplayFailed(*oplog.Entry, error)    {}
func (NopObserver) Reconnected(error)                   {}
func (NopObserver) CheckpointSaved(primitive.Timestamp) {}

// CheckpointKey returns the key a replica set checkpoint is stored under.
func CheckpointKey(replicaSet string) string {
	return replicaSet + "-lastts"
}
