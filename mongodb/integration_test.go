package mongodb_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	. "gopkg.in/check.v1"

	"github.com/alpacahq/oplogreplay/mongodb"
	"github.com/alpacahq/oplogreplay/oplog"
	"github.com/alpacahq/oplogreplay/replication"
)

// The suite needs a replica set member and an independent server, e.g.
//
//	OPLOGREPLAY_TEST_SOURCE=localhost:27017 OPLOGREPLAY_TEST_DEST=localhost:27018 go test ./mongodb/
func TestIntegration(t *testing.T) { TestingT(t) }

var _ = Suite(&IntegrationSuite{})

type IntegrationSuite struct {
	ctx        context.Context
	srcURI     string
	dstURI     string
	replicaSet string
	src        *mongo.Client
	dst        *mongo.Client
	db         string
}

func (s *IntegrationSuite) SetUpSuite(c *C) {
	s.srcURI = os.Getenv("OPLOGREPLAY_TEST_SOURCE")
	s.dstURI = os.Getenv("OPLOGREPLAY_TEST_DEST")
	if s.srcURI == "" || s.dstURI == "" {
		c.Skip("OPLOGREPLAY_TEST_SOURCE and OPLOGREPLAY_TEST_DEST are not set")
	}
	s.ctx = context.Background()

	var err error
	s.replicaSet, err = mongodb.DiscoverReplicaSet(s.ctx, s.srcURI)
	c.Assert(err, IsNil)
	s.src, err = mongodb.Connect(s.ctx, s.srcURI, mongodb.ClientOptions{ReplicaSet: s.replicaSet})
	c.Assert(err, IsNil)
	s.dst, err = mongodb.Connect(s.ctx, s.dstURI, mongodb.ClientOptions{})
	c.Assert(err, IsNil)
}

func (s *IntegrationSuite) TearDownSuite(c *C) {
	if s.src != nil {
		c.Check(s.src.Disconnect(s.ctx), IsNil)
	}
	if s.dst != nil {
		c.Check(s.dst.Disconnect(s.ctx), IsNil)
	}
}

func (s *IntegrationSuite) SetUpTest(c *C) {
	s.db = fmt.Sprintf("oplogreplay_test_%d", time.Now().UnixNano())
}

func (s *IntegrationSuite) TearDownTest(c *C) {
	c.Check(s.src.Database(s.db).Drop(s.ctx), IsNil)
	c.Check(s.dst.Database(s.db).Drop(s.ctx), IsNil)
	c.Check(mongodb.NewCheckpointStore(s.dst).Delete(s.ctx, replication.CheckpointKey(s.replicaSet)), IsNil)
}

// replay runs a replayer limited to the test database until it reaches the newest oplog entry.
func (s *IntegrationSuite) replay(c *C, start primitive.Timestamp, skipIndexes bool) {
	src := mongodb.NewSource(s.src)
	store := mongodb.NewCheckpointStore(s.dst)
	r, err := replication.NewReplayer(s.ctx, src, mongodb.NewDestination(s.dst), store, replication.ReplayerOptions{
		StartPosition: &start,
		SkipIndexes:   skipIndexes,
		Watcher: replication.WatcherOptions{
			PollInterval: 100 * time.Millisecond,
			Databases:    []string{s.db},
		},
	})
	c.Assert(err, IsNil)
	c.Assert(r.ReplicaSet(), Equals, s.replicaSet)

	latest, ok, err := src.LatestTimestamp(s.ctx)
	c.Assert(err, IsNil)
	c.Assert(ok, Equals, true)

	done := make(chan error, 1)
	go func() { done <- r.Run(s.ctx) }()
	defer func() {
		r.Stop()
		c.Check(<-done, IsNil)
	}()

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if oplog.Compare(r.Position(), latest) >= 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	c.Fatalf("replay did not reach %s", oplog.FormatTimestamp(latest))
}

func (s *IntegrationSuite) now(c *C) primitive.Timestamp {
	ts, ok, err := mongodb.NewSource(s.src).LatestTimestamp(s.ctx)
	c.Assert(err, IsNil)
	c.Assert(ok, Equals, true)
	return ts
}

func (s *IntegrationSuite) docs(c *C, client *mongo.Client, coll string) []bson.M {
	cur, err := client.Database(s.db).Collection(coll).Find(s.ctx, bson.D{})
	c.Assert(err, IsNil)
	var out []bson.M
	c.Assert(cur.All(s.ctx, &out), IsNil)
	return out
}

func (s *IntegrationSuite) TestWrites(c *C) {
	start := s.now(c)
	coll := s.src.Database(s.db).Collection("tweets")
	for i := 1; i <= 3; i++ {
		_, err := coll.InsertOne(s.ctx, bson.D{{Key: "_id", Value: i}, {Key: "content", Value: "Lorem ipsum"}, {Key: "nr", Value: i}})
		c.Assert(err, IsNil)
	}
	_, err := coll.UpdateOne(s.ctx, bson.D{{Key: "_id", Value: 1}}, bson.D{{Key: "$set", Value: bson.D{{Key: "content", Value: "dolor"}}}})
	c.Assert(err, IsNil)
	_, err = coll.ReplaceOne(s.ctx, bson.D{{Key: "_id", Value: 2}}, bson.D{{Key: "replaced", Value: true}})
	c.Assert(err, IsNil)
	_, err = coll.DeleteOne(s.ctx, bson.D{{Key: "_id", Value: 3}})
	c.Assert(err, IsNil)

	s.replay(c, start, false)

	c.Assert(s.docs(c, s.dst, "tweets"), DeepEquals, s.docs(c, s.src, "tweets"))
}

func (s *IntegrationSuite) TestIndexes(c *C) {
	start := s.now(c)
	coll := s.src.Database(s.db).Collection("testidx")
	_, err := coll.InsertOne(s.ctx, bson.D{{Key: "idxfield", Value: 1}})
	c.Assert(err, IsNil)
	_, err = coll.Indexes().CreateOne(s.ctx, mongo.IndexModel{Keys: bson.D{{Key: "idxfield", Value: 1}}})
	c.Assert(err, IsNil)

	s.replay(c, start, false)

	names, err := mongodb.NewDestination(s.dst).ListIndexes(s.ctx, oplog.Namespace{Database: s.db, Collection: "testidx"})
	c.Assert(err, IsNil)
	c.Assert(names, DeepEquals, []string{"_id_", "idxfield_1"})

	start = s.now(c)
	_, err = coll.Indexes().DropOne(s.ctx, "idxfield_1")
	c.Assert(err, IsNil)

	s.replay(c, start, false)

	names, err = mongodb.NewDestination(s.dst).ListIndexes(s.ctx, oplog.Namespace{Database: s.db, Collection: "testidx"})
	c.Assert(err, IsNil)
	c.Assert(names, DeepEquals, []string{"_id_"})
}

func (s *IntegrationSuite) TestCheckpointStore(c *C) {
	store := mongodb.NewCheckpointStore(s.dst)
	key := s.db + "-lastts"
	defer func() { c.Check(store.Delete(s.ctx, key), IsNil) }()

	_, ok, err := store.Load(s.ctx, key)
	c.Assert(err, IsNil)
	c.Assert(ok, Equals, false)

	want := primitive.Timestamp{T: 1700000000, I: 3}
	c.Assert(store.Save(s.ctx, key, primitive.Timestamp{T: 1700000000, I: 1}), IsNil)
	c.Assert(store.Save(s.ctx, key, want), IsNil)

	got, ok, err := store.Load(s.ctx, key)
	c.Assert(err, IsNil)
	c.Assert(ok, Equals, true)
	c.Assert(got, Equals, want)
}
