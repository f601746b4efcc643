package oplog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Compare returns -1, 0 or +1 depending on whether a is before, equal to or after b.
func Compare(a, b primitive.Timestamp) int {
	switch pa, pb := Pack(a), Pack(b); {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}

// Pack encodes ts into a single ordered integer, seconds in the high half.
func Pack(ts primitive.Timestamp) uint64 {
	return uint64(ts.T)<<32 | uint64(ts.I)
}

// Unpack is the inverse of Pack.
func Unpack(v uint64) primitive.Timestamp {
	return primitive.Timestamp{T: uint32(v >> 32), I: uint32(v)}
}

// Time returns the wall clock second encoded in ts.
func Time(ts primitive.Timestamp) time.Time {
	return time.Unix(int64(ts.T), 0).UTC()
}

// FormatTimestamp renders ts as "<seconds>:<increment>".
func FormatTimestamp(ts primitive.Timestamp) string {
	return fmt.Sprintf("%d:%d", ts.T, ts.I)
}

// ParseTimestamp parses "<seconds>:<increment>" or "<seconds>" (increment 0).
func ParseTimestamp(s string) (primitive.Timestamp, error) {
	sec, inc, hasInc := strings.Cut(strings.TrimSpace(s), ":")
	t, err := strconv.ParseUint(sec, 10, 32)
	if err != nil {
		return primitive.Timestamp{}, errors.Wrapf(ErrInvalidTimestamp, "%q", s)
	}
	var i uint64
	if hasInc {
		i, err = strconv.ParseUint(inc, 10, 32)
		if err != nil {
			return primitive.Timestamp{}, errors.Wrapf(ErrInvalidTimestamp, "%q", s)
		}
	}
	return primitive.Timestamp{T: uint32(t), I: uint32(i)}, nil
}
