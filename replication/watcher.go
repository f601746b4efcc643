package replication

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/atomic"

	"github.com/alpacahq/oplogreplay/oplog"
	"github.com/alpacahq/oplogreplay/utils/log"
)

const (
	defaultPollInterval      = time.Second
	defaultRetryBackoffCoeff = 1
)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// StartPosition is the timestamp after which entries are delivered.
	// nil means the newest entry of the oplog when Run starts.
	StartPosition *primitive.Timestamp
	// PollInterval is the wait between two polls of an exhausted cursor,
	// and the base interval before reopening a cursor after an error.
	PollInterval time.Duration
	// Database and Collection restrict the query to one database or one collection.
	Database   string
	Collection string
	// Databases is an allow-list of database patterns applied to the databases each entry
	// writes to. Commands logged on admin (renameCollection, applyOps) are matched on their targets.
	Databases []string
	// RetryBackoffCoeff multiplies the retry interval after each consecutive failure.
	RetryBackoffCoeff int
	// MaxRetryInterval caps the retry interval.
	MaxRetryInterval time.Duration
	Observer         Observer
}

func (o *WatcherOptions) setDefaults() error {
	if o.Collection != "" && o.Database == "" {
		return errors.Wrap(ErrInvalidOptions, "must specify a database if you specify a collection")
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.RetryBackoffCoeff < 1 {
		o.RetryBackoffCoeff = defaultRetryBackoffCoeff
	}
	if o.MaxRetryInterval <= 0 {
		o.MaxRetryInterval = defaultMaxRetryInterval
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	return nil
}

// Watcher tails the oplog of a Source and hands every entry to a Processor, in oplog order.
type Watcher struct {
	src    Source
	proc   Processor
	opts   WatcherOptions
	filter *DatabaseFilter

	running  *atomic.Bool
	started  *atomic.Bool
	position *atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewWatcher(src Source, proc Processor, opts WatcherOptions) (*Watcher, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	filter, err := NewDatabaseFilter(opts.Databases)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		src:      src,
		proc:     proc,
		opts:     opts,
		filter:   filter,
		running:  atomic.NewBool(true),
		started:  atomic.NewBool(false),
		position: atomic.NewUint64(0),
		stopCh:   make(chan struct{}),
	}
	if opts.StartPosition != nil {
		w.position.Store(oplog.Pack(*opts.StartPosition))
	}
	return w, nil
}

// Position returns the timestamp of the last entry handed off successfully.
func (w *Watcher) Position() primitive.Timestamp {
	return oplog.Unpack(w.position.Load())
}

// Running is false once Stop has been called.
func (w *Watcher) Running() bool {
	return w.running.Load()
}

// Stop asks Run to return. It does not interrupt an entry being processed.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.running.Store(false)
		close(w.stopCh)
	})
}

// Run tails the oplog until Stop is called or ctx is done.
// Connection and cursor failures are retried forever; the only errors returned are
// ctx.Err() and a failure to run twice.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrStopped
	}
	defer w.Stop()

	if err := w.resolvePosition(ctx); err != nil {
		if !w.Running() {
			return nil
		}
		return err
	}

	failures := 0
	for w.Running() {
		err := w.tail(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			failures = 0
			continue
		}

		w.opts.Observer.Reconnected(err)
		interval := retryInterval(w.opts.PollInterval, w.opts.RetryBackoffCoeff, failures, w.opts.MaxRetryInterval)
		failures++
		log.Warn("failed to tail the oplog. It will be retried after %v, failures=%d, err=%v",
			interval, failures, err)
		sleep(ctx, w.stopCh, interval)
	}
	return ctx.Err()
}

// resolvePosition reads the newest oplog timestamp when no start position was given.
func (w *Watcher) resolvePosition(ctx context.Context) error {
	if w.opts.StartPosition != nil {
		log.Info("watching oplogs with timestamp greater than %s", oplog.FormatTimestamp(w.Position()))
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	r := NewRetryer(func(ctx context.Context) error {
		ts, ok, err := w.src.LatestTimestamp(ctx)
		if err != nil {
			return errors.Wrapf(ErrRetryable, "failed to read the latest oplog timestamp: %v", err)
		}
		if !ok {
			log.Info("watching all oplogs")
			return nil
		}
		w.position.Store(oplog.Pack(ts))
		log.Info("watching oplogs with timestamp greater than %s", oplog.FormatTimestamp(ts))
		return nil
	}, w.opts.PollInterval, w.opts.RetryBackoffCoeff).WithMaxInterval(w.opts.MaxRetryInterval)
	return r.Run(ctx)
}

func (w *Watcher) query() Query {
	return Query{
		After:      w.Position(),
		Database:   w.opts.Database,
		Collection: w.opts.Collection,
	}
}

// tail opens a cursor from the current position and drains it until it dies or the watcher stops.
// A nil error means the cursor should simply be reopened.
func (w *Watcher) tail(ctx context.Context) error {
	q := w.query()
	log.Debug("tailing over %+v...", q)
	cur, err := w.src.Tail(ctx, q)
	if err != nil {
		return errors.Wrap(err, "failed to open a tailable cursor")
	}
	defer func() {
		if err2 := cur.Close(ctx); err2 != nil {
			log.Debug("failed to close the tailable cursor: %v", err2)
		}
	}()

	for w.Running() {
		for w.Running() && cur.TryNext(ctx) {
			e, err2 := cur.Entry()
			if err2 != nil {
				return errors.Wrap(err2, "failed to decode an oplog entry")
			}
			if err2 = w.handle(ctx, e); err2 != nil {
				return err2
			}
		}
		if err2 := cur.Err(); err2 != nil {
			return errors.Wrap(err2, "tailable cursor failed")
		}
		if !w.Running() || !sleep(ctx, w.stopCh, w.opts.PollInterval) {
			return nil
		}
		if !cur.Alive() {
			log.Debug("tailable cursor is dead, reopening from %s", oplog.FormatTimestamp(w.Position()))
			return nil
		}
	}
	return nil
}

// handle hands e to the processor and advances the position once it succeeded.
func (w *Watcher) handle(ctx context.Context, e *oplog.Entry) error {
	if oplog.Compare(e.Timestamp, w.Position()) <= 0 {
		log.Warn("ignoring an oplog entry at or before the current position: ts=%s position=%s",
			oplog.FormatTimestamp(e.Timestamp), oplog.FormatTimestamp(w.Position()))
		return nil
	}

	if w.filter.MatchAny(e.TargetDatabases()) {
		if err := w.proc.Process(ctx, e); err != nil {
			return errors.Wrapf(err, "failed to process oplog entry ts=%s", oplog.FormatTimestamp(e.Timestamp))
		}
	} else if err := w.proc.Skip(ctx, e); err != nil {
		return errors.Wrapf(err, "failed to skip oplog entry ts=%s", oplog.FormatTimestamp(e.Timestamp))
	}

	w.position.Store(oplog.Pack(e.Timestamp))
	return nil
}
