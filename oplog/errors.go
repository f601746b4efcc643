package oplog

import "github.com/pkg/errors"

var (
	// ErrUnknownKind is returned by Dispatch for an entry whose op code is not recognized.
	ErrUnknownKind = errors.New("unknown oplog operation kind")
	// ErrMalformedNamespace is returned when a namespace can't be split into database and collection.
	ErrMalformedNamespace = errors.New("malformed namespace")
	// ErrInvalidTimestamp is returned when a textual timestamp can't be parsed.
	ErrInvalidTimestamp = errors.New("invalid oplog timestamp")
)
