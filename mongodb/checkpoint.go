package mongodb

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	SettingsDatabase   = "oplogreplay"
	SettingsCollection = "settings"

	checkpointSuffix = "-lastts"
)

// CheckpointStore keeps checkpoints in oplogreplay.settings as {_id: key, value: ts}.
// It implements replication.CheckpointStore.
type CheckpointStore struct {
	settings *mongo.Collection
}

func NewCheckpointStore(client *mongo.Client) *CheckpointStore {
	return &CheckpointStore{settings: client.Database(SettingsDatabase).Collection(SettingsCollection)}
}

type setting struct {
	Key   string              `bson:"_id"`
	Value primitive.Timestamp `bson:"value"`
}

func (s *CheckpointStore) Load(ctx context.Context, key string) (primitive.Timestamp, bool, error) {
	var doc setting
	err := s.settings.FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return primitive.Timestamp{}, false, nil
	}
	if err != nil {
		return primitive.Timestamp{}, false, errors.Wrapf(err, "failed to read setting %s", key)
	}
	return doc.Value, true, nil
}

func (s *CheckpointStore) Save(ctx context.Context, key string, ts primitive.Timestamp) error {
	_, err := s.settings.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: key}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "value", Value: ts}}}},
		options.Update().SetUpsert(true),
	)
	return errors.Wrapf(err, "failed to save setting %s", key)
}

func (s *CheckpointStore) Delete(ctx context.Context, key string) error {
	_, err := s.settings.DeleteOne(ctx, bson.D{{Key: "_id", Value: key}})
	return errors.Wrapf(err, "failed to delete setting %s", key)
}

// Checkpoint is a stored replay position.
type Checkpoint struct {
	ReplicaSet string
	Timestamp  primitive.Timestamp
}

// List returns every checkpoint of the settings collection, ordered by key.
func (s *CheckpointStore) List(ctx context.Context) ([]Checkpoint, error) {
	cur, err := s.settings.Find(ctx,
		bson.D{{Key: "_id", Value: primitive.Regex{Pattern: checkpointSuffix + "$"}}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list settings")
	}
	var docs []setting
	if err = cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to read settings")
	}
	out := make([]Checkpoint, 0, len(docs))
	for _, d := range docs {
		out = append(out, Checkpoint{ReplicaSet: strings.TrimSuffix(d.Key, checkpointSuffix), Timestamp: d.Value})
	}
	return out, nil
}
