// Package oplog models entries of the MongoDB replication oplog (local.oplog.rs)
// and routes them to per-kind handlers.
package oplog

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Entry represents one document in the oplog collection.
// Fields that are not listed here are ignored when decoding.
type Entry struct {
	Timestamp primitive.Timestamp `bson:"ts"`             // position of the operation in the oplog
	Term      *int64              `bson:"t,omitempty"`    // election term (3.2+)
	Hash      int64               `bson:"h,omitempty"`    // a unique ID for this operation (pre 4.2)
	Version   int                 `bson:"v,omitempty"`    // oplog protocol version
	Kind      Kind                `bson:"op"`             // see Kind
	Namespace string              `bson:"ns"`             // database.collection affected by the operation
	Object    bson.D              `bson:"o"`              // document, modifier or command, depending on Kind
	Selector  bson.D              `bson:"o2,omitempty"`   // update criteria, present for updates
	Wall      time.Time           `bson:"wall,omitempty"` // wall clock time on the primary
}

// ParseNamespace parses the namespace of the entry.
func (e *Entry) ParseNamespace() (Namespace, error) {
	return ParseNamespace(e.Namespace)
}

// Database returns the database segment of the entry's namespace.
func (e *Entry) Database() string {
	return DatabaseOf(e.Namespace)
}

// TargetDatabases returns the databases the entry writes to. It is the namespace's
// database, except for commands run against admin that name their targets:
//
//	{ "op" : "c", "ns" : "admin.$cmd",
//	  "o" : { "renameCollection" : "app.tmp", "to" : "app.people", "dropTarget" : false } }
//	{ "op" : "c", "ns" : "admin.$cmd",
//	  "o" : { "applyOps" : [ { "op" : "i", "ns" : "app.people", "o" : { ... } }, ... ] } }
func (e *Entry) TargetDatabases() []string {
	db := e.Database()
	if e.Kind != Command || db != adminDatabase || len(e.Object) == 0 {
		return []string{db}
	}

	var targets []string
	add := func(ns string) {
		t := DatabaseOf(ns)
		if t == "" {
			return
		}
		for _, seen := range targets {
			if seen == t {
				return
			}
		}
		targets = append(targets, t)
	}
	switch e.Object[0].Key {
	case renameCollectionCmd:
		from, _ := LookupString(e.Object, renameCollectionCmd)
		to, _ := LookupString(e.Object, "to")
		add(from)
		add(to)
	case applyOpsCmd:
		v, _ := Lookup(e.Object, applyOpsCmd)
		ops, _ := documents(v)
		for _, op := range ops {
			ns, _ := LookupString(op, "ns")
			add(ns)
		}
	}
	if len(targets) == 0 {
		return []string{db}
	}
	return targets
}

// DocumentID returns the _id of the document altered by the entry.
// The selector wins over the object so that updates report the target document.
// ok is false for commands, declarations, noops and unknown kinds.
func (e *Entry) DocumentID() (id interface{}, ok bool) {
	switch e.Kind {
	case Insert, Update, Delete:
	default:
		return nil, false
	}
	if id, ok = Lookup(e.Selector, "_id"); ok {
		return id, true
	}
	return Lookup(e.Object, "_id")
}

// Lookup returns the value stored under key in d.
func Lookup(d bson.D, key string) (interface{}, bool) {
	for _, elem := range d {
		if elem.Key == key {
			return elem.Value, true
		}
	}
	return nil, false
}

// LookupString returns the string stored under key in d.
func LookupString(d bson.D, key string) (string, bool) {
	v, ok := Lookup(d, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// documents converts a BSON array of documents. ok is false if any element is not a document.
func documents(v interface{}) ([]bson.D, bool) {
	var items []interface{}
	switch a := v.(type) {
	case bson.A:
		items = a
	case []interface{}:
		items = a
	case []bson.D:
		return a, true
	default:
		return nil, false
	}
	docs := make([]bson.D, 0, len(items))
	for _, item := range items {
		doc, ok := item.(bson.D)
		if !ok {
			return nil, false
		}
		docs = append(docs, doc)
	}
	return docs, true
}
