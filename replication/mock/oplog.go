// Package mock provides in-memory implementations of the replication interfaces for tests.
package mock

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/alpacahq/oplogreplay/oplog"
	"github.com/alpacahq/oplogreplay/replication"
)

// Oplog is an in-memory replica set. Writes made through its helpers are applied to Data
// and logged as oplog entries. It implements replication.Source.
type Oplog struct {
	mu      sync.Mutex
	name    string
	seconds uint32
	inc     uint32
	entries []*oplog.Entry
	cursors []*Cursor
	tails   int
	failErr error

	// Data holds the documents as the source sees them.
	Data *Store
	// NameErr is returned by ReplicaSetName.
	NameErr error
	// LatestErr is returned by LatestTimestamp.
	LatestErr error
	// TailErr, when set, is called on every Tail. A non-nil result fails the call.
	TailErr func(q replication.Query) error
}

// NewOplog returns an empty oplog whose timestamps start at seconds:1.
func NewOplog(replicaSet string, seconds uint32) *Oplog {
	return &Oplog{
		name:    replicaSet,
		seconds: seconds,
		Data:    NewStore(),
	}
}

func (o *Oplog) ReplicaSetName(context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.NameErr != nil {
		return "", o.NameErr
	}
	return o.name, nil
}

func (o *Oplog) LatestTimestamp(context.Context) (primitive.Timestamp, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.LatestErr != nil {
		return primitive.Timestamp{}, false, o.LatestErr
	}
	if len(o.entries) == 0 {
		return primitive.Timestamp{}, false, nil
	}
	return o.entries[len(o.entries)-1].Timestamp, true, nil
}

func (o *Oplog) Tail(_ context.Context, q replication.Query) (replication.Cursor, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tails++
	if o.TailErr != nil {
		if err := o.TailErr(q); err != nil {
			return nil, err
		}
	}
	next := len(o.entries)
	for i, e := range o.entries {
		if oplog.Compare(e.Timestamp, q.After) > 0 {
			next = i
			break
		}
	}
	c := &Cursor{oplog: o, query: q, next: next}
	o.cursors = append(o.cursors, c)
	return c, nil
}

// Tails returns the number of cursors opened.
func (o *Oplog) Tails() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tails
}

// KillCursors makes every open cursor dead, as a server does when a cursor falls off the oplog.
func (o *Oplog) KillCursors() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.cursors {
		c.dead = true
	}
}

// FailCursors makes the next TryNext of every open cursor fail with err.
func (o *Oplog) FailCursors(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.cursors {
		c.err = err
	}
}

// Entries returns a copy of the logged entries.
func (o *Oplog) Entries() []*oplog.Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*oplog.Entry, len(o.entries))
	for i, e := range o.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

// Append logs e with the next timestamp and returns it. e is not applied to Data.
func (o *Oplog) Append(e *oplog.Entry) primitive.Timestamp {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.append(e)
}

func (o *Oplog) append(e *oplog.Entry) primitive.Timestamp {
	o.inc++
	e.Timestamp = primitive.Timestamp{T: o.seconds, I: o.inc}
	if e.Version == 0 {
		e.Version = 2
	}
	o.entries = append(o.entries, e)
	return e.Timestamp
}

// Insert writes doc into ns. An _id is generated when doc has none.
func (o *Oplog) Insert(ns string, doc bson.D) (primitive.Timestamp, error) {
	n, err := oplog.ParseNamespace(ns)
	if err != nil {
		return primitive.Timestamp{}, err
	}
	if _, ok := oplog.Lookup(doc, "_id"); !ok {
		doc = append(bson.D{{Key: "_id", Value: primitive.NewObjectID()}}, doc...)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.Data.Insert(context.Background(), n, doc); err != nil {
		return primitive.Timestamp{}, err
	}
	return o.append(&oplog.Entry{Kind: oplog.Insert, Namespace: ns, Object: clone(doc)}), nil
}

// Update applies a modifier document to the document of ns whose _id is id.
func (o *Oplog) Update(ns string, id interface{}, update bson.D) (primitive.Timestamp, error) {
	n, err := oplog.ParseNamespace(ns)
	if err != nil {
		return primitive.Timestamp{}, err
	}
	selector := bson.D{{Key: "_id", Value: id}}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.Data.Update(context.Background(), n, selector, update, false); err != nil {
		return primitive.Timestamp{}, err
	}
	return o.append(&oplog.Entry{Kind: oplog.Update, Namespace: ns, Object: clone(update), Selector: selector}), nil
}

// Delete removes the document of ns whose _id is id.
func (o *Oplog) Delete(ns string, id interface{}) (primitive.Timestamp, error) {
	n, err := oplog.ParseNamespace(ns)
	if err != nil {
		return primitive.Timestamp{}, err
	}
	selector := bson.D{{Key: "_id", Value: id}}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.Data.Delete(context.Background(), n, selector); err != nil {
		return primitive.Timestamp{}, err
	}
	return o.append(&oplog.Entry{Kind: oplog.Delete, Namespace: ns, Object: selector}), nil
}

// CreateIndex builds an index and logs it the pre 4.2 way, as an insert into system.indexes.
func (o *Oplog) CreateIndex(ns, name string, keys bson.D) (primitive.Timestamp, error) {
	n, err := oplog.ParseNamespace(ns)
	if err != nil {
		return primitive.Timestamp{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.Data.CreateIndex(context.Background(), oplog.IndexSpec{Namespace: n, Name: name, Keys: keys}); err != nil {
		return primitive.Timestamp{}, err
	}
	return o.append(&oplog.Entry{
		Kind:      oplog.Insert,
		Namespace: n.Database + "." + oplog.IndexesCollection,
		Object:    bson.D{{Key: "v", Value: int32(2)}, {Key: "key", Value: keys}, {Key: "name", Value: name}, {Key: "ns", Value: ns}},
	}), nil
}

// DropIndex drops an index and logs the dropIndexes command.
func (o *Oplog) DropIndex(ns, name string) (primitive.Timestamp, error) {
	n, err := oplog.ParseNamespace(ns)
	if err != nil {
		return primitive.Timestamp{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.Data.DropIndex(context.Background(), n, name); err != nil {
		return primitive.Timestamp{}, err
	}
	return o.append(&oplog.Entry{
		Kind:      oplog.Command,
		Namespace: n.Database + "." + oplog.CommandCollection,
		Object:    bson.D{{Key: "dropIndexes", Value: n.Collection}, {Key: "index", Value: name}},
	}), nil
}

// Command runs cmd against database and logs it.
func (o *Oplog) Command(database string, cmd bson.D) (primitive.Timestamp, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.Data.RunCommand(context.Background(), database, cmd); err != nil {
		return primitive.Timestamp{}, err
	}
	return o.append(&oplog.Entry{Kind: oplog.Command, Namespace: database + "." + oplog.CommandCollection, Object: clone(cmd)}), nil
}

// Noop logs a periodic noop.
func (o *Oplog) Noop() primitive.Timestamp {
	return o.Append(&oplog.Entry{Kind: oplog.Noop, Object: bson.D{{Key: "msg", Value: "periodic noop"}}})
}

// Cursor is a tailable cursor over an Oplog. It sees entries appended after it was opened.
type Cursor struct {
	oplog   *Oplog
	query   replication.Query
	next    int
	current *oplog.Entry
	dead    bool
	closed  bool
	err     error
}

func (c *Cursor) TryNext(context.Context) bool {
	c.oplog.mu.Lock()
	defer c.oplog.mu.Unlock()
	if c.err != nil || c.closed {
		return false
	}
	for c.next < len(c.oplog.entries) {
		e := c.oplog.entries[c.next]
		c.next++
		if c.match(e) {
			cp := *e
			c.current = &cp
			return true
		}
	}
	return false
}

func (c *Cursor) match(e *oplog.Entry) bool {
	switch {
	case c.query.Collection != "":
		return e.Namespace == c.query.Database+"."+c.query.Collection
	case c.query.Database != "":
		return oplog.DatabaseOf(e.Namespace) == c.query.Database
	default:
		return true
	}
}

func (c *Cursor) Entry() (*oplog.Entry, error) {
	c.oplog.mu.Lock()
	defer c.oplog.mu.Unlock()
	if c.current == nil {
		return nil, errors.New("no current entry")
	}
	return c.current, nil
}

func (c *Cursor) Alive() bool {
	c.oplog.mu.Lock()
	defer c.oplog.mu.Unlock()
	return !c.dead && !c.closed
}

func (c *Cursor) Err() error {
	c.oplog.mu.Lock()
	defer c.oplog.mu.Unlock()
	return c.err
}

func (c *Cursor) Close(context.Context) error {
	c.oplog.mu.Lock()
	defer c.oplog.mu.Unlock()
	c.closed = true
	for i, open := range c.oplog.cursors {
		if open == c {
			c.oplog.cursors = append(c.oplog.cursors[:i], c.oplog.cursors[i+1:]...)
			break
		}
	}
	return nil
}
