package mongodb

import (
	"context"
	"regexp"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/alpacahq/oplogreplay/oplog"
	"github.com/alpacahq/oplogreplay/replication"
)

const (
	oplogDatabase   = "local"
	oplogCollection = "oplog.rs"
)

// Source reads the oplog of a replica set. It implements replication.Source.
type Source struct {
	client *mongo.Client
	oplog  *mongo.Collection
}

func NewSource(client *mongo.Client) *Source {
	return &Source{
		client: client,
		oplog:  client.Database(oplogDatabase).Collection(oplogCollection),
	}
}

func (s *Source) ReplicaSetName(ctx context.Context) (string, error) {
	return replicaSetName(ctx, s.client)
}

func (s *Source) LatestTimestamp(ctx context.Context) (primitive.Timestamp, bool, error) {
	var last struct {
		Timestamp primitive.Timestamp `bson:"ts"`
	}
	err := s.oplog.FindOne(ctx, bson.D{},
		options.FindOne().SetSort(bson.D{{Key: "$natural", Value: -1}}).SetProjection(bson.D{{Key: "ts", Value: 1}}),
	).Decode(&last)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return primitive.Timestamp{}, false, nil
	}
	if err != nil {
		return primitive.Timestamp{}, false, errors.Wrap(err, "failed to read the newest oplog entry")
	}
	return last.Timestamp, true, nil
}

func (s *Source) Tail(ctx context.Context, q replication.Query) (replication.Cursor, error) {
	opts := options.Find().
		SetCursorType(options.TailableAwait).
		SetOplogReplay(true).
		SetNoCursorTimeout(true)
	cur, err := s.oplog.Find(ctx, tailFilter(q), opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query the oplog")
	}
	return &Cursor{cur: cur}, nil
}

// tailFilter builds {ts: {$gt: after}} narrowed to the namespace scope of q.
func tailFilter(q replication.Query) bson.D {
	filter := bson.D{{Key: "ts", Value: bson.D{{Key: "$gt", Value: q.After}}}}
	switch {
	case q.Collection != "":
		filter = append(filter, bson.E{Key: "ns", Value: q.Database + "." + q.Collection})
	case q.Database != "":
		filter = append(filter, bson.E{Key: "ns", Value: primitive.Regex{Pattern: "^" + regexp.QuoteMeta(q.Database) + `\.`}})
	}
	return filter
}

// Cursor wraps a tailable driver cursor. It implements replication.Cursor.
type Cursor struct {
	cur *mongo.Cursor
}

func (c *Cursor) TryNext(ctx context.Context) bool {
	return c.cur.TryNext(ctx)
}

func (c *Cursor) Entry() (*oplog.Entry, error) {
	var e oplog.Entry
	if err := c.cur.Decode(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Alive is false once the server reported a zero cursor id.
func (c *Cursor) Alive() bool {
	return c.cur.ID() != 0
}

func (c *Cursor) Err() error {
	return c.cur.Err()
}

func (c *Cursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}
