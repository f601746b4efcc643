package replication_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/alpacahq/oplogreplay/oplog"
	"github.com/alpacahq/oplogreplay/replication"
	"github.com/alpacahq/oplogreplay/replication/mock"
)

var checkpointKey = replication.CheckpointKey(testReplicaSet)

type harness struct {
	src   *mock.Oplog
	dst   *mock.Store
	store *mock.CheckpointStore
	obs   *mock.Observer
}

func newHarness() *harness {
	return &harness{
		src:   mock.NewOplog(testReplicaSet, testSeconds),
		dst:   mock.NewStore(),
		store: mock.NewCheckpointStore(),
		obs:   &mock.Observer{},
	}
}

func (h *harness) replayer(t *testing.T, opts replication.ReplayerOptions) *replication.Replayer {
	t.Helper()
	opts.Observer = h.obs
	if opts.Watcher.PollInterval == 0 {
		opts.Watcher.PollInterval = 5 * time.Millisecond
	}
	r, err := replication.NewReplayer(context.Background(), h.src, h.dst, h.store, opts)
	require.NoError(t, err)
	return r
}

// replayUntil runs r until the checkpoint reaches ts.
func (h *harness) replayUntil(t *testing.T, r *replication.Replayer, ts primitive.Timestamp) {
	t.Helper()
	done := runner(context.Background(), r.Run)
	require.Eventually(t, func() bool {
		got, ok := h.store.Get(checkpointKey)
		return ok && got == ts
	}, waitFor, tick)
	r.Stop()
	require.NoError(t, waitDone(t, done))
}

func (h *harness) assertSameCollection(t *testing.T, ns string) {
	t.Helper()
	if diff := cmp.Diff(h.src.Data.Find(ns), h.dst.Find(ns)); diff != "" {
		t.Errorf("%s differs between source and destination (-source +destination):\n%s", ns, diff)
	}
}

func must(t *testing.T) func(ts primitive.Timestamp, err error) primitive.Timestamp {
	return func(ts primitive.Timestamp, err error) primitive.Timestamp {
		t.Helper()
		require.NoError(t, err)
		return ts
	}
}

func TestNewReplayer_ReplicaSet(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		nameErr  error
		override string
		want     string
		wantErr  error
	}{
		{name: "discovered", want: testReplicaSet},
		{name: "override wins", override: "manual", nameErr: errors.New("not running with --replSet"), want: "manual"},
		{name: "discovery failure is fatal", nameErr: errors.New("not running with --replSet"), wantErr: replication.ErrReplicaSetUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			// --- given ---
			h := newHarness()
			h.src.NameErr = tt.nameErr

			// --- when ---
			r, err := replication.NewReplayer(context.Background(), h.src, h.dst, h.store,
				replication.ReplayerOptions{ReplicaSet: tt.override})

			// --- then ---
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.ReplicaSet())
		})
	}
}

func TestNewReplayer_EmptyReplicaSetName(t *testing.T) {
	t.Parallel()

	_, err := replication.NewReplayer(context.Background(), mock.NewOplog("", testSeconds), mock.NewStore(),
		mock.NewCheckpointStore(), replication.ReplayerOptions{})

	assert.ErrorIs(t, err, replication.ErrReplicaSetUnknown)
}

func TestNewReplayer_CheckpointLoadFailure(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	h.store.LoadErr = errors.New("not authorized on oplogreplay")

	// --- when ---
	_, err := replication.NewReplayer(context.Background(), h.src, h.dst, h.store, replication.ReplayerOptions{})

	// --- then ---
	assert.Error(t, err)
}

func TestNewReplayer_StartPosition(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	stored := primitive.Timestamp{T: testSeconds, I: 7}
	require.NoError(t, h.store.Save(context.Background(), checkpointKey, stored))
	explicit := primitive.Timestamp{T: testSeconds, I: 3}

	// --- when ---
	resumed := h.replayer(t, replication.ReplayerOptions{})
	overridden := h.replayer(t, replication.ReplayerOptions{StartPosition: &explicit})

	// --- then ---
	assert.Equal(t, stored, resumed.Position())
	assert.Equal(t, stored, resumed.Stats().LastTimestamp)
	assert.Equal(t, explicit, overridden.Position())
}

func TestReplayer_Writes(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	ok := must(t)
	const ns = "testdb.tweets"
	ids := []interface{}{1, 2, 3}
	for _, id := range ids {
		ok(h.src.Insert(ns, bson.D{{Key: "_id", Value: id}, {Key: "content", Value: "Lorem ipsum"}, {Key: "nr", Value: 16}}))
	}
	ok(h.src.Update(ns, 1, bson.D{{Key: "$set", Value: bson.D{{Key: "content", Value: "dolor sit amet"}}}}))
	ok(h.src.Update(ns, 2, bson.D{{Key: "$inc", Value: bson.D{{Key: "nr", Value: 1}}}}))
	last := ok(h.src.Delete(ns, 3))
	r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart()})

	// --- when ---
	h.replayUntil(t, r, last)

	// --- then ---
	h.assertSameCollection(t, ns)
	assert.Len(t, h.dst.Find(ns), 2)
	stats := r.Stats()
	assert.Equal(t, uint64(6), stats.Replayed)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, last, stats.LastTimestamp)
	assert.Len(t, h.obs.Replayed, 6)
}

func TestReplayer_Commands(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	ok := must(t)
	ok(h.src.Command("testdb", bson.D{{Key: "create", Value: "kept"}}))
	ok(h.src.Command("testdb", bson.D{{Key: "create", Value: "fs.files"}}))
	ok(h.src.Insert("testdb.fs.files", bson.D{{Key: "_id", Value: "a"}}))
	last := ok(h.src.Command("testdb", bson.D{{Key: "drop", Value: "fs.files"}}))
	r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart()})

	// --- when ---
	h.replayUntil(t, r, last)

	// --- then ---
	assert.ElementsMatch(t, h.src.Data.Collections(), h.dst.Collections())
	assert.Len(t, h.dst.Commands(), 3)
}

func TestReplayer_RejectedCommandIsNotFatal(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	h.src.Append(&oplog.Entry{
		Kind: oplog.Command, Namespace: "testdb.$cmd",
		Object: bson.D{{Key: "drop", Value: "missing"}},
	})
	last := must(t)(h.src.Insert("testdb.tweets", bson.D{{Key: "_id", Value: 1}}))
	r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart()})

	// --- when ---
	h.replayUntil(t, r, last)

	// --- then ---
	assert.Equal(t, uint64(2), r.Stats().Replayed)
	assert.Zero(t, r.Stats().Failed)
	assert.Equal(t, 1, h.dst.Count("testdb.tweets"))
}

func TestReplayer_Indexes(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	ok := must(t)
	const ns = "testdb.testidx"
	ok(h.src.Insert(ns, bson.D{{Key: "idxfield", Value: 1}}))
	created := ok(h.src.CreateIndex(ns, "idxfield_1", bson.D{{Key: "idxfield", Value: 1}}))
	r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart()})

	// --- when ---
	h.replayUntil(t, r, created)

	// --- then ---
	assert.Equal(t, []string{"_id_", "idxfield_1"}, h.dst.IndexNames(ns))

	// --- when ---
	dropped := ok(h.src.DropIndex(ns, "idxfield_1"))
	r = h.replayer(t, replication.ReplayerOptions{})
	h.replayUntil(t, r, dropped)

	// --- then ---
	assert.Equal(t, h.src.Data.IndexNames(ns), h.dst.IndexNames(ns))
	assert.Equal(t, []string{"_id_"}, h.dst.IndexNames(ns))
}

func TestReplayer_CreateIndexesCommand(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	last := h.src.Append(&oplog.Entry{
		Kind: oplog.Command, Namespace: "testdb.$cmd",
		Object: bson.D{
			{Key: "createIndexes", Value: "people"},
			{Key: "v", Value: int32(2)},
			{Key: "key", Value: bson.D{{Key: "email", Value: 1}}},
			{Key: "name", Value: "email_1"},
			{Key: "unique", Value: true},
		},
	})
	r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart()})

	// --- when ---
	h.replayUntil(t, r, last)

	// --- then ---
	assert.Equal(t, []string{"_id_", "email_1"}, h.dst.IndexNames("testdb.people"))
	assert.Empty(t, h.dst.Commands())
}

func twoPhaseIndexBuild(o *mock.Oplog, coll string, indexes bson.A) primitive.Timestamp {
	uuid := primitive.Binary{Subtype: 4, Data: []byte("0123456789abcdef")}
	o.Append(&oplog.Entry{
		Kind: oplog.Command, Namespace: "testdb.$cmd",
		Object: bson.D{
			{Key: "startIndexBuild", Value: coll},
			{Key: "indexBuildUUID", Value: uuid},
			{Key: "indexes", Value: indexes},
		},
	})
	return o.Append(&oplog.Entry{
		Kind: oplog.Command, Namespace: "testdb.$cmd",
		Object: bson.D{
			{Key: "commitIndexBuild", Value: coll},
			{Key: "indexBuildUUID", Value: uuid},
			{Key: "indexes", Value: indexes},
		},
	})
}

func TestReplayer_TwoPhaseIndexBuild(t *testing.T) {
	t.Parallel()
	indexes := bson.A{
		bson.D{{Key: "v", Value: int32(2)}, {Key: "key", Value: bson.D{{Key: "email", Value: 1}}}, {Key: "name", Value: "email_1"}},
		bson.D{{Key: "v", Value: int32(2)}, {Key: "key", Value: bson.D{{Key: "age", Value: -1}}}, {Key: "name", Value: "age_-1"}},
	}
	tests := []struct {
		name        string
		skipIndexes bool
		wantIndexes []string
	}{
		{name: "replayed", wantIndexes: []string{"_id_", "age_-1", "email_1"}},
		{name: "skipped", skipIndexes: true, wantIndexes: []string{"_id_"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			// --- given ---
			h := newHarness()
			must(t)(h.src.Insert("testdb.people", bson.D{{Key: "_id", Value: 1}, {Key: "email", Value: "a@b.c"}}))
			last := twoPhaseIndexBuild(h.src, "people", indexes)
			r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart(), SkipIndexes: tt.skipIndexes})

			// --- when ---
			h.replayUntil(t, r, last)

			// --- then ---
			assert.ElementsMatch(t, tt.wantIndexes, h.dst.IndexNames("testdb.people"))
			assert.Empty(t, h.dst.Commands())
			assert.Empty(t, h.obs.Failures)
			assert.Equal(t, uint64(3), r.Stats().Replayed)
		})
	}
}

func TestReplayer_SkipIndexes(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	ok := must(t)
	const ns = "testdb.testidx"
	ok(h.src.Insert(ns, bson.D{{Key: "_id", Value: 1}}))
	ok(h.src.CreateIndex(ns, "idxfield_1", bson.D{{Key: "idxfield", Value: 1}}))
	ok(h.src.CreateIndex(ns, "other_1", bson.D{{Key: "other", Value: 1}}))
	last := ok(h.src.DropIndex(ns, "other_1"))
	r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart(), SkipIndexes: true})

	// --- when ---
	h.replayUntil(t, r, last)

	// --- then ---
	assert.Equal(t, []string{"_id_"}, h.dst.IndexNames(ns))
	assert.Equal(t, 1, h.dst.Count(ns))
	assert.Equal(t, uint64(4), r.Stats().Replayed)
}

func TestReplayer_DropMissingIndex(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	last := h.src.Append(&oplog.Entry{
		Kind: oplog.Command, Namespace: "testdb.$cmd",
		Object: bson.D{{Key: "dropIndexes", Value: "testidx"}, {Key: "index", Value: "nuie_1"}},
	})
	r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart()})

	// --- when ---
	h.replayUntil(t, r, last)

	// --- then ---
	assert.Zero(t, r.Stats().Failed)
	assert.Empty(t, h.obs.Failures)
}

func TestReplayer_DatabaseFilter(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	ok := must(t)
	ok(h.src.Insert("app.people", bson.D{{Key: "_id", Value: 1}}))
	last := ok(h.src.Insert("scratch.people", bson.D{{Key: "_id", Value: 1}}))
	r := h.replayer(t, replication.ReplayerOptions{
		StartPosition: fromStart(),
		Watcher:       replication.WatcherOptions{Databases: []string{"app"}},
	})

	// --- when ---
	h.replayUntil(t, r, last)

	// --- then ---
	assert.Equal(t, 1, h.dst.Count("app.people"))
	assert.Zero(t, h.dst.Count("scratch.people"))
	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Replayed)
	assert.Equal(t, uint64(1), stats.Skipped)
	assert.Equal(t, last, stats.LastTimestamp)
	assert.Len(t, h.obs.Skipped, 1)
}

func TestReplayer_DuplicateInsert(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	const ns = "testdb.tweets"
	doc := bson.D{{Key: "_id", Value: 1}, {Key: "content", Value: "Lorem ipsum"}}
	last := must(t)(h.src.Insert(ns, doc))
	require.NoError(t, h.dst.Insert(context.Background(), oplog.Namespace{Database: "testdb", Collection: "tweets"}, doc))
	r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart()})

	// --- when ---
	h.replayUntil(t, r, last)

	// --- then ---
	h.assertSameCollection(t, ns)
	assert.Equal(t, uint64(1), r.Stats().Replayed)
	assert.Zero(t, r.Stats().Failed)
}

func TestReplayer_ResumesWithoutDoubleCounting(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	const ns = "testdb.tweets"
	first := insertN(t, h.src, ns, 3)
	r1 := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart()})
	h.replayUntil(t, r1, first[2])
	second := insertN(t, h.src, ns, 2)

	// --- when ---
	r2 := h.replayer(t, replication.ReplayerOptions{})
	h.replayUntil(t, r2, second[1])

	// --- then ---
	assert.Equal(t, uint64(3), r1.Stats().Replayed)
	assert.Equal(t, uint64(2), r2.Stats().Replayed)
	assert.Len(t, h.obs.Replayed, 5)
	h.assertSameCollection(t, ns)
}

func TestReplayer_ThousandInserts(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	const ns = "testdb.bulk"
	ts := insertN(t, h.src, ns, 1000)
	r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart(), ReportEvery: 100, InfoReportEvery: 500})

	// --- when ---
	h.replayUntil(t, r, ts[len(ts)-1])

	// --- then ---
	assert.Equal(t, 1000, h.dst.Count(ns))
	assert.Equal(t, uint64(1000), r.Stats().Replayed)
	assert.Equal(t, ts, h.obs.Checkpoints)
}

func TestReplayer_UpdateShapes(t *testing.T) {
	t.Parallel()
	const ns = "testdb.people"
	tests := []struct {
		name        string
		update      bson.D
		wantDoc     bson.D
		wantApplied int
	}{
		{
			name:    "modifier",
			update:  bson.D{{Key: "$v", Value: int32(1)}, {Key: "$set", Value: bson.D{{Key: "name", Value: "b"}}}},
			wantDoc: bson.D{{Key: "_id", Value: 1}, {Key: "name", Value: "b"}, {Key: "age", Value: 30}},
		},
		{
			name:    "replacement",
			update:  bson.D{{Key: "_id", Value: 1}, {Key: "name", Value: "c"}},
			wantDoc: bson.D{{Key: "_id", Value: 1}, {Key: "name", Value: "c"}},
		},
		{
			name:        "delta",
			update:      bson.D{{Key: "$v", Value: int32(2)}, {Key: "diff", Value: bson.D{{Key: "u", Value: bson.D{{Key: "name", Value: "d"}}}}}},
			wantDoc:     bson.D{{Key: "_id", Value: 1}, {Key: "name", Value: "a"}, {Key: "age", Value: 30}},
			wantApplied: 1,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			// --- given ---
			h := newHarness()
			must(t)(h.src.Insert(ns, bson.D{{Key: "_id", Value: 1}, {Key: "name", Value: "a"}, {Key: "age", Value: 30}}))
			last := h.src.Append(&oplog.Entry{
				Kind: oplog.Update, Namespace: ns,
				Object: tt.update, Selector: bson.D{{Key: "_id", Value: 1}},
			})
			r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart()})

			// --- when ---
			h.replayUntil(t, r, last)

			// --- then ---
			assert.Equal(t, []bson.D{tt.wantDoc}, h.dst.Find(ns))
			assert.Len(t, h.dst.Applied(), tt.wantApplied)
			assert.Zero(t, r.Stats().Failed)
		})
	}
}

func TestReplayer_UpdateUpserts(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	const ns = "testdb.people"
	last := h.src.Append(&oplog.Entry{
		Kind: oplog.Update, Namespace: ns,
		Object:   bson.D{{Key: "$set", Value: bson.D{{Key: "name", Value: "a"}}}},
		Selector: bson.D{{Key: "_id", Value: 9}},
	})
	r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart()})

	// --- when ---
	h.replayUntil(t, r, last)

	// --- then ---
	assert.Equal(t, []bson.D{{{Key: "_id", Value: 9}, {Key: "name", Value: "a"}}}, h.dst.Find(ns))
}

func TestReplayer_DroppedEntries(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		entry   *oplog.Entry
		wantErr error
	}{
		{
			name:    "unknown kind",
			entry:   &oplog.Entry{Kind: "x", Namespace: "testdb.tweets", Object: bson.D{{Key: "_id", Value: 1}}},
			wantErr: oplog.ErrUnknownKind,
		},
		{
			name:    "malformed namespace",
			entry:   &oplog.Entry{Kind: oplog.Insert, Namespace: "testdb", Object: bson.D{{Key: "_id", Value: 1}}},
			wantErr: oplog.ErrMalformedNamespace,
		},
		{
			name:    "update without selector",
			entry:   &oplog.Entry{Kind: oplog.Update, Namespace: "testdb.tweets", Object: bson.D{{Key: "$set", Value: bson.D{}}}},
			wantErr: nil,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			// --- given ---
			h := newHarness()
			h.src.Append(tt.entry)
			last := must(t)(h.src.Insert("testdb.tweets", bson.D{{Key: "_id", Value: 2}}))
			r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart()})

			// --- when ---
			h.replayUntil(t, r, last)

			// --- then ---
			// dropped entries are still processed and checkpointed
			assert.Equal(t, uint64(1), r.Stats().Failed)
			assert.Equal(t, uint64(2), r.Stats().Replayed)
			require.Len(t, h.obs.Failures, 1)
			if tt.wantErr != nil {
				assert.ErrorIs(t, h.obs.Failures[0], tt.wantErr)
			}
			assert.Equal(t, 1, h.dst.Count("testdb.tweets"))
		})
	}
}

func TestReplayer_RejectedWriteIsDropped(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	h.dst.Err = func(op string, ns oplog.Namespace) error {
		if op == "insert" && ns.Collection == "capped" {
			return pkgerrors.Wrap(replication.ErrRejected, "document too large")
		}
		return nil
	}
	must(t)(h.src.Insert("testdb.capped", bson.D{{Key: "_id", Value: 1}}))
	last := must(t)(h.src.Insert("testdb.tweets", bson.D{{Key: "_id", Value: 1}}))
	r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart()})

	// --- when ---
	h.replayUntil(t, r, last)

	// --- then ---
	assert.Equal(t, uint64(1), r.Stats().Failed)
	assert.Zero(t, h.dst.Count("testdb.capped"))
	assert.Equal(t, 1, h.dst.Count("testdb.tweets"))
}

func TestReplayer_TransientFailuresAreRetried(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	var mu sync.Mutex
	writeFailures, saveFailures := 2, 1
	h.dst.Err = func(op string, _ oplog.Namespace) error {
		mu.Lock()
		defer mu.Unlock()
		if op == "insert" && writeFailures > 0 {
			writeFailures--
			return errors.New("connection refused")
		}
		return nil
	}
	h.store.SaveErr = func(string, primitive.Timestamp) error {
		mu.Lock()
		defer mu.Unlock()
		if saveFailures > 0 {
			saveFailures--
			return errors.New("connection refused")
		}
		return nil
	}
	const ns = "testdb.tweets"
	want := insertN(t, h.src, ns, 2)
	r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart()})

	// --- when ---
	h.replayUntil(t, r, want[1])

	// --- then ---
	h.assertSameCollection(t, ns)
	assert.Equal(t, uint64(2), r.Stats().Replayed)
	assert.Zero(t, r.Stats().Failed)
	assert.Equal(t, 3, h.obs.ReconnectCount())
}

func TestReplayer_IgnoresNoopAndDeclarations(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	h.src.Noop()
	last := h.src.Append(&oplog.Entry{Kind: oplog.DatabaseDeclared, Namespace: "testdb"})
	r := h.replayer(t, replication.ReplayerOptions{StartPosition: fromStart()})

	// --- when ---
	h.replayUntil(t, r, last)

	// --- then ---
	assert.Equal(t, uint64(2), r.Stats().Replayed)
	assert.Zero(t, r.Stats().Failed)
	assert.Zero(t, h.dst.Calls())
}

func TestReplayer_ReportsWithInjectedClock(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	var mu sync.Mutex
	now := time.Unix(testSeconds, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	ts := insertN(t, h.src, "testdb.tweets", 4)
	r := h.replayer(t, replication.ReplayerOptions{
		StartPosition: fromStart(), ReportEvery: 1, InfoReportEvery: 2, Now: clock,
	})

	// --- when ---
	h.replayUntil(t, r, ts[3])

	// --- then ---
	stats := r.Stats()
	assert.Equal(t, uint64(4), stats.Replayed)
	assert.Equal(t, time.Unix(testSeconds+1, 0), stats.StartedAt)
}

func TestReplayer_ReportsSkippedEntries(t *testing.T) {
	t.Parallel()
	// --- given ---
	h := newHarness()
	var (
		mu    sync.Mutex
		calls int
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return time.Unix(testSeconds, 0)
	}
	ts := insertN(t, h.src, "scratch.people", 4)
	r := h.replayer(t, replication.ReplayerOptions{
		StartPosition: fromStart(), ReportEvery: 2, InfoReportEvery: 4, Now: clock,
		Watcher: replication.WatcherOptions{Databases: []string{"app"}},
	})

	// --- when ---
	h.replayUntil(t, r, ts[3])

	// --- then ---
	assert.Equal(t, uint64(4), r.Stats().Skipped)
	mu.Lock()
	defer mu.Unlock()
	// once at construction, then at the 2nd and the 4th entry
	assert.Equal(t, 3, calls)
}
