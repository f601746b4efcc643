package replication

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/atomic"

	"github.com/alpacahq/oplogreplay/oplog"
	"github.com/alpacahq/oplogreplay/utils/log"
)

const (
	defaultReportEvery     = 500
	defaultInfoReportEvery = 5000
)

var errMalformedEntry = errors.New("malformed oplog entry")

// ReplayerOptions configures a Replayer.
type ReplayerOptions struct {
	// ReplicaSet overrides the replica set name reported by the source.
	ReplicaSet string
	// StartPosition overrides the stored checkpoint.
	StartPosition *primitive.Timestamp
	// SkipIndexes disables the replay of index creations and drops.
	SkipIndexes bool
	// Watcher configures tailing. Its StartPosition and Observer are set by the replayer.
	Watcher  WatcherOptions
	Observer Observer
	// ReportEvery is the number of replayed or skipped entries between two debug progress
	// reports, InfoReportEvery between two info reports.
	ReportEvery     uint64
	InfoReportEvery uint64
	// Now is the clock used for lag and throughput. Defaults to time.Now.
	Now func() time.Time
}

// Stats is a snapshot of the replayer counters.
type Stats struct {
	// Replayed counts entries processed, including index operations skipped by SkipIndexes.
	Replayed uint64
	// Skipped counts entries excluded by the database allow-list.
	Skipped uint64
	// Failed counts entries whose side effects were dropped after an unrecoverable error.
	Failed        uint64
	LastTimestamp primitive.Timestamp
	StartedAt     time.Time
}

// Replayer applies the oplog of a source replica set to a destination and
// checkpoints its position in the destination after every entry.
type Replayer struct {
	oplog.NopHandler

	dst        Destination
	store      CheckpointStore
	watcher    *Watcher
	observer   Observer
	replicaSet string
	key        string
	opts       ReplayerOptions

	replayed *atomic.Uint64
	skipped  *atomic.Uint64
	failed   *atomic.Uint64
	lastTS   *atomic.Uint64

	startedAt       time.Time
	lastReportAt    time.Time
	lastReportCount uint64
}

// NewReplayer resolves the replica set of src and the start position, and builds the watcher.
// Failing to identify the replica set is fatal because checkpoints are keyed by it.
func NewReplayer(ctx context.Context, src Source, dst Destination, store CheckpointStore, opts ReplayerOptions,
) (*Replayer, error) {
	replicaSet := opts.ReplicaSet
	if replicaSet == "" {
		name, err := src.ReplicaSetName(ctx)
		if err != nil {
			return nil, errors.Wrapf(ErrReplicaSetUnknown, "%v", err)
		}
		if name == "" {
			return nil, errors.Wrap(ErrReplicaSetUnknown, "source reported an empty replica set name")
		}
		replicaSet = name
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.ReportEvery == 0 {
		opts.ReportEvery = defaultReportEvery
	}
	if opts.InfoReportEvery == 0 {
		opts.InfoReportEvery = defaultInfoReportEvery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Replayer{
		dst:        dst,
		store:      store,
		observer:   opts.Observer,
		replicaSet: replicaSet,
		key:        CheckpointKey(replicaSet),
		opts:       opts,
		replayed:   atomic.NewUint64(0),
		skipped:    atomic.NewUint64(0),
		failed:     atomic.NewUint64(0),
		lastTS:     atomic.NewUint64(0),
		startedAt:  opts.Now(),
	}
	r.lastReportAt = r.startedAt

	start := opts.StartPosition
	if start == nil {
		ts, ok, err := store.Load(ctx, r.key)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load the checkpoint %s", r.key)
		}
		if ok {
			start = &ts
			log.Info("resuming replica set %s from checkpoint %s", replicaSet, oplog.FormatTimestamp(ts))
		}
	}
	if start != nil {
		r.lastTS.Store(oplog.Pack(*start))
	}

	wopts := opts.Watcher
	wopts.StartPosition = start
	wopts.Observer = opts.Observer
	w, err := NewWatcher(src, r, wopts)
	if err != nil {
		return nil, err
	}
	r.watcher = w
	return r, nil
}

// Run replays the oplog until Stop is called or ctx is done. A Replayer runs once.
func (r *Replayer) Run(ctx context.Context) error {
	log.Info("replaying oplogs of replica set %s", r.replicaSet)
	return r.watcher.Run(ctx)
}

// Stop asks Run to return after the entry being applied, if any.
func (r *Replayer) Stop() {
	r.watcher.Stop()
}

// ReplicaSet returns the name checkpoints are keyed by.
func (r *Replayer) ReplicaSet() string {
	return r.replicaSet
}

// Position returns the timestamp of the last entry handled.
func (r *Replayer) Position() primitive.Timestamp {
	return r.watcher.Position()
}

// Stats returns a snapshot of the counters. It is safe to call while Run is in progress.
func (r *Replayer) Stats() Stats {
	return Stats{
		Replayed:      r.replayed.Load(),
		Skipped:       r.skipped.Load(),
		Failed:        r.failed.Load(),
		LastTimestamp: oplog.Unpack(r.lastTS.Load()),
		StartedAt:     r.startedAt,
	}
}

// Process applies e to the destination, then saves e's timestamp as the checkpoint.
// Errors that replaying again might fix are returned so that the watcher retries e.
func (r *Replayer) Process(ctx context.Context, e *oplog.Entry) error {
	if err := r.settle(e, r.apply(ctx, e)); err != nil {
		return err
	}
	if err := r.checkpoint(ctx, e.Timestamp); err != nil {
		return err
	}

	r.replayed.Inc()
	r.observer.EntryReplayed(e)
	r.report()
	return nil
}

// Skip saves e's timestamp as the checkpoint without applying it.
func (r *Replayer) Skip(ctx context.Context, e *oplog.Entry) error {
	if err := r.checkpoint(ctx, e.Timestamp); err != nil {
		return err
	}
	r.skipped.Inc()
	r.observer.EntrySkipped(e)
	r.report()
	return nil
}

func (r *Replayer) apply(ctx context.Context, e *oplog.Entry) error {
	switch {
	case r.opts.SkipIndexes && e.IsIndexOperation():
		// do not replay index operations
		log.Debug("skipping index operation ts=%s ns=%s", oplog.FormatTimestamp(e.Timestamp), e.Namespace)
		return nil
	case e.IsIndexBuildMarker():
		log.Debug("ignoring %s ts=%s ns=%s", e.Object[0].Key, oplog.FormatTimestamp(e.Timestamp), e.Namespace)
		return nil
	case e.IsDropIndex():
		return r.dropIndex(ctx, e)
	case e.IsCreateIndex():
		return r.createIndex(ctx, e)
	default:
		return oplog.Dispatch(ctx, r, e)
	}
}

// settle decides whether an apply error is retried (returned) or logged and dropped.
func (r *Replayer) settle(e *oplog.Entry, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicateKey):
		// already applied by a run that stopped before checkpointing
		log.Warn("duplicate key while replaying ts=%s ns=%s: %v", oplog.FormatTimestamp(e.Timestamp), e.Namespace, err)
		return nil
	case errors.Is(err, ErrRejected),
		errors.Is(err, errMalformedEntry),
		errors.Is(err, oplog.ErrMalformedNamespace),
		errors.Is(err, oplog.ErrUnknownKind):
		log.Error("dropping oplog entry ts=%s op=%s ns=%s: %v",
			oplog.FormatTimestamp(e.Timestamp), string(e.Kind), e.Namespace, err)
		r.failed.Inc()
		r.observer.ReplayFailed(e, err)
		return nil
	default:
		return err
	}
}

func (r *Replayer) checkpoint(ctx context.Context, ts primitive.Timestamp) error {
	if err := r.store.Save(ctx, r.key, ts); err != nil {
		return errors.Wrapf(err, "failed to save the checkpoint %s", r.key)
	}
	r.lastTS.Store(oplog.Pack(ts))
	r.observer.CheckpointSaved(ts)
	return nil
}

// report logs the replication status every ReportEvery entries, replayed or skipped.
func (r *Replayer) report() {
	n := r.replayed.Load() + r.skipped.Load()
	var lprint func(format string, args ...interface{})
	switch {
	case n%r.opts.InfoReportEvery == 0:
		lprint = log.Info
	case n%r.opts.ReportEvery == 0:
		lprint = log.Debug
	default:
		return
	}

	now := r.opts.Now()

	delay := now.Sub(oplog.Time(oplog.Unpack(r.lastTS.Load())))
	lprint("synced = %dsecs ago (%.2fhrs)", int64(delay.Seconds()), delay.Hours())

	velocity := 0.0
	if elapsed := now.Sub(r.lastReportAt).Seconds(); elapsed > 0 {
		velocity = float64(n-r.lastReportCount) / elapsed
	}
	r.lastReportCount = n
	r.lastReportAt = now
	lprint("current replay speed: %.2fops/sec", velocity)

	lprint("processed %d ops (%d skipped) in %s", n, r.skipped.Load(), now.Sub(r.startedAt).Truncate(time.Second))
}

// Insert replays
//
//	{ "op" : "i", "ns" : "mydb.tweets",
//	  "o" : { "_id" : ObjectId("4e95ae77a20e6164850761cd"), "content" : "Lorem ipsum", "nr" : 16 } }
func (r *Replayer) Insert(ctx context.Context, e *oplog.Entry) error {
	ns, err := e.ParseNamespace()
	if err != nil {
		return err
	}
	return r.dst.Insert(ctx, ns, e.Object)
}

// Update replays
//
//	{ "op" : "u", "ns" : "mydb.tweets",
//	  "o" : { "$set" : { "content" : "Lorem ipsum" } },
//	  "o2" : { "_id" : ObjectId("4e95ae3616692111bb000001") } }
//
// with upsert, so that a row missing on the destination is created.
func (r *Replayer) Update(ctx context.Context, e *oplog.Entry) error {
	ns, err := e.ParseNamespace()
	if err != nil {
		return err
	}
	if len(e.Selector) == 0 {
		return errors.Wrap(errMalformedEntry, "update without o2")
	}
	switch {
	case isDiffUpdate(e.Object):
		// $v:2 delta updates can't be expressed as an update document
		return r.dst.ApplyOps(ctx, []*oplog.Entry{e})
	case isModifier(e.Object):
		return r.dst.Update(ctx, ns, e.Selector, withoutVersion(e.Object), true)
	default:
		return r.dst.Replace(ctx, ns, e.Selector, e.Object, true)
	}
}

// Delete replays
//
//	{ "op" : "d", "ns" : "mydb.tweets", "b" : true,
//	  "o" : { "_id" : ObjectId("4e959ea11669210edc002902") } }
func (r *Replayer) Delete(ctx context.Context, e *oplog.Entry) error {
	ns, err := e.ParseNamespace()
	if err != nil {
		return err
	}
	return r.dst.Delete(ctx, ns, e.Object)
}

// Command replays
//
//	{ "op" : "c", "ns" : "testdb.$cmd", "o" : { "drop" : "fs.files" } }
//
// A command the destination refuses is logged and skipped: it may have been applied already.
func (r *Replayer) Command(ctx context.Context, e *oplog.Entry) error {
	ns, err := e.ParseNamespace()
	if err != nil {
		return err
	}
	err = r.dst.RunCommand(ctx, ns.Database, e.Object)
	if errors.Is(err, ErrRejected) {
		log.Warn("command failed on destination ts=%s ns=%s: %v", oplog.FormatTimestamp(e.Timestamp), e.Namespace, err)
		return nil
	}
	return err
}

func (r *Replayer) createIndex(ctx context.Context, e *oplog.Entry) error {
	specs, err := e.CreateIndexSpecs()
	if err != nil {
		return errors.Wrap(errMalformedEntry, err.Error())
	}
	for _, spec := range specs {
		if err = r.dst.CreateIndex(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

// dropIndex replays
//
//	{ "op" : "c", "ns" : "testdb.$cmd", "o" : { "dropIndexes" : "testcoll", "index" : "nuie_1" } }
//
// An index already missing on the destination is not an error.
func (r *Replayer) dropIndex(ctx context.Context, e *oplog.Entry) error {
	ns, name, err := e.DropIndexTarget()
	if err != nil {
		return errors.Wrap(errMalformedEntry, err.Error())
	}
	if name != "*" {
		names, err := r.dst.ListIndexes(ctx, ns)
		if err != nil {
			return errors.Wrapf(err, "failed to list indexes of %s", ns)
		}
		if !contains(names, name) {
			log.Debug("index %s is already absent from %s", name, ns)
			return nil
		}
	}
	return r.dst.DropIndex(ctx, ns, name)
}

func isModifier(d bson.D) bool {
	return len(d) > 0 && strings.HasPrefix(d[0].Key, "$")
}

func isDiffUpdate(d bson.D) bool {
	v, ok := oplog.Lookup(d, "$v")
	if !ok {
		return false
	}
	_, hasDiff := oplog.Lookup(d, "diff")
	switch n := v.(type) {
	case int32:
		return n == 2 && hasDiff
	case int64:
		return n == 2 && hasDiff
	case int:
		return n == 2 && hasDiff
	case float64:
		return n == 2 && hasDiff
	default:
		return false
	}
}

// withoutVersion drops the "$v" marker servers add to logged modifiers.
func withoutVersion(d bson.D) bson.D {
	out := make(bson.D, 0, len(d))
	for _, elem := range d {
		if elem.Key != "$v" {
			out = append(out, elem)
		}
	}
	return out
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
