package mongodb

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/alpacahq/oplogreplay/oplog"
)

func TestCreateIndexesCommand(t *testing.T) {
	t.Parallel()
	// --- given ---
	spec := oplog.IndexSpec{
		Namespace: oplog.Namespace{Database: "testdb", Collection: "people"},
		Name:      "email_1",
		Keys:      bson.D{{Key: "email", Value: 1}},
		Options:   bson.D{{Key: "unique", Value: true}, {Key: "sparse", Value: true}},
	}

	// --- when ---
	got := createIndexesCommand(spec)

	// --- then ---
	want := bson.D{
		{Key: "createIndexes", Value: "people"},
		{Key: "indexes", Value: bson.A{bson.D{
			{Key: "key", Value: bson.D{{Key: "email", Value: 1}}},
			{Key: "name", Value: "email_1"},
			{Key: "unique", Value: true},
			{Key: "sparse", Value: true},
		}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("createIndexesCommand() mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyOpsCommand(t *testing.T) {
	t.Parallel()
	// --- given ---
	diff := bson.D{{Key: "$v", Value: int32(2)}, {Key: "diff", Value: bson.D{{Key: "u", Value: bson.D{{Key: "a", Value: 1}}}}}}
	entries := []*oplog.Entry{
		{
			Timestamp: primitive.Timestamp{T: 1, I: 1}, Kind: oplog.Update, Namespace: "testdb.people",
			Object: diff, Selector: bson.D{{Key: "_id", Value: 1}},
		},
		{
			Timestamp: primitive.Timestamp{T: 1, I: 2}, Kind: oplog.Insert, Namespace: "testdb.people",
			Object: bson.D{{Key: "_id", Value: 2}},
		},
	}

	// --- when ---
	got := applyOpsCommand(entries)

	// --- then ---
	want := bson.D{{Key: "applyOps", Value: bson.A{
		bson.D{
			{Key: "op", Value: "u"}, {Key: "ns", Value: "testdb.people"},
			{Key: "o", Value: diff}, {Key: "o2", Value: bson.D{{Key: "_id", Value: 1}}},
		},
		bson.D{{Key: "op", Value: "i"}, {Key: "ns", Value: "testdb.people"}, {Key: "o", Value: bson.D{{Key: "_id", Value: 2}}}},
	}}}
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("applyOpsCommand() mismatch (-want +got):\n%s", d)
	}
}
