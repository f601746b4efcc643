package replication

import "github.com/pkg/errors"

var (
	// ErrRetryable is a custom error to retry the logic when returned.
	ErrRetryable = errors.New("retryable replication error")
	// ErrReplicaSetUnknown is returned when the source replica set name can't be determined.
	ErrReplicaSetUnknown = errors.New("could not determine replica set")
	// ErrDuplicateKey is returned by a Destination when an inserted document already exists.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrRejected wraps an error the destination server returned for an operation.
	// Retrying a rejected operation can't succeed.
	ErrRejected = errors.New("rejected by destination")
	// ErrInvalidOptions is returned by constructors for unusable options.
	ErrInvalidOptions = errors.New("invalid replication options")
	// ErrStopped is returned by Run on a watcher or replayer that has already run.
	ErrStopped = errors.New("replication already stopped")
)
