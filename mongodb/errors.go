package mongodb

import (
	"fmt"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/alpacahq/oplogreplay/replication"
)

// transientCodes are raised while a replica set elects a primary or a node shuts down.
// Commands never carry the RetryableWriteError label, so they are matched by code.
var transientCodes = []int{
	7,     // HostNotFound
	91,    // ShutdownInProgress
	189,   // PrimarySteppedDown
	262,   // ExceededTimeLimit
	10107, // NotWritablePrimary
	11600, // InterruptedAtShutdown
	11602, // InterruptedDueToReplStateChange
	13435, // NotPrimaryNoSecondaryOk
}

// classify maps driver errors onto the replication sentinels.
// Network failures, timeouts, errors labelled retryable and replica set state changes are
// returned untouched so that the entry is replayed again; any other server error is final.
func classify(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	switch {
	case mongo.IsDuplicateKeyError(err):
		return errors.Wrapf(replication.ErrDuplicateKey, "%s: %v", msg, err)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err):
		return errors.Wrap(err, msg)
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		if se.HasErrorLabel("RetryableWriteError") || se.HasErrorLabel("TransientTransactionError") {
			return errors.Wrap(err, msg)
		}
		for _, code := range transientCodes {
			if se.HasErrorCode(code) {
				return errors.Wrap(err, msg)
			}
		}
		return errors.Wrapf(replication.ErrRejected, "%s: %v", msg, err)
	}
	return errors.Wrap(err, msg)
}
