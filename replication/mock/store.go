package mock

import (
	"context"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/alpacahq/oplogreplay/oplog"
	"github.com/alpacahq/oplogreplay/replication"
)

const idIndex = "_id_"

// Store is an in-memory document store. It implements replication.Destination.
// Only the $set, $unset and $inc modifiers are understood.
type Store struct {
	mu       sync.Mutex
	colls    map[string][]bson.D
	indexes  map[string][]oplog.IndexSpec
	commands []bson.D
	applied  []*oplog.Entry
	calls    int

	// Err, when set, is called before every operation. A non-nil result is returned as is.
	Err func(op string, ns oplog.Namespace) error
}

func NewStore() *Store {
	return &Store{
		colls:   map[string][]bson.D{},
		indexes: map[string][]oplog.IndexSpec{},
	}
}

func (s *Store) before(op string, ns oplog.Namespace) error {
	s.calls++
	if s.Err != nil {
		return s.Err(op, ns)
	}
	return nil
}

func (s *Store) Insert(_ context.Context, ns oplog.Namespace, doc bson.D) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.before("insert", ns); err != nil {
		return err
	}
	return s.insert(ns, doc)
}

func (s *Store) insert(ns oplog.Namespace, doc bson.D) error {
	id, ok := oplog.Lookup(doc, "_id")
	if !ok {
		id = primitive.NewObjectID()
		doc = append(bson.D{{Key: "_id", Value: id}}, doc...)
	}
	key := ns.String()
	for _, d := range s.colls[key] {
		if existing, _ := oplog.Lookup(d, "_id"); reflect.DeepEqual(existing, id) {
			return errors.Wrapf(replication.ErrDuplicateKey, "E11000 duplicate key error collection: %s _id: %v", key, id)
		}
	}
	s.colls[key] = append(s.colls[key], clone(doc))
	return nil
}

func (s *Store) Update(_ context.Context, ns oplog.Namespace, selector, update bson.D, upsert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.before("update", ns); err != nil {
		return err
	}
	return s.update(ns, selector, update, upsert)
}

func (s *Store) update(ns oplog.Namespace, selector, update bson.D, upsert bool) error {
	key := ns.String()
	for i, d := range s.colls[key] {
		if matches(d, selector) {
			updated, err := applyModifiers(d, update)
			if err != nil {
				return err
			}
			s.colls[key][i] = updated
			return nil
		}
	}
	if !upsert {
		return nil
	}
	doc, err := applyModifiers(clone(selector), update)
	if err != nil {
		return err
	}
	return s.insert(ns, doc)
}

func (s *Store) Replace(_ context.Context, ns oplog.Namespace, selector, doc bson.D, upsert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.before("replace", ns); err != nil {
		return err
	}
	key := ns.String()
	for i, d := range s.colls[key] {
		if matches(d, selector) {
			if _, ok := oplog.Lookup(doc, "_id"); !ok {
				id, _ := oplog.Lookup(d, "_id")
				doc = append(bson.D{{Key: "_id", Value: id}}, doc...)
			}
			s.colls[key][i] = clone(doc)
			return nil
		}
	}
	if !upsert {
		return nil
	}
	return s.insert(ns, doc)
}

func (s *Store) Delete(_ context.Context, ns oplog.Namespace, selector bson.D) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.before("delete", ns); err != nil {
		return err
	}
	s.delete(ns, selector)
	return nil
}

func (s *Store) delete(ns oplog.Namespace, selector bson.D) {
	key := ns.String()
	for i, d := range s.colls[key] {
		if matches(d, selector) {
			s.colls[key] = append(s.colls[key][:i], s.colls[key][i+1:]...)
			return
		}
	}
}

func (s *Store) CreateIndex(_ context.Context, spec oplog.IndexSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.before("createIndex", spec.Namespace); err != nil {
		return err
	}
	s.createIndex(spec)
	return nil
}

func (s *Store) createIndex(spec oplog.IndexSpec) {
	key := spec.Namespace.String()
	for _, idx := range s.indexes[key] {
		if idx.Name == spec.Name {
			return
		}
	}
	s.indexes[key] = append(s.indexes[key], spec)
	if _, ok := s.colls[key]; !ok {
		s.colls[key] = nil
	}
}

func (s *Store) DropIndex(_ context.Context, ns oplog.Namespace, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.before("dropIndex", ns); err != nil {
		return err
	}
	return s.dropIndex(ns, name)
}

func (s *Store) dropIndex(ns oplog.Namespace, name string) error {
	key := ns.String()
	if name == "*" {
		delete(s.indexes, key)
		return nil
	}
	for i, idx := range s.indexes[key] {
		if idx.Name == name {
			s.indexes[key] = append(s.indexes[key][:i], s.indexes[key][i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(replication.ErrRejected, "index not found with name [%s]", name)
}

func (s *Store) ListIndexes(_ context.Context, ns oplog.Namespace) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.before("listIndexes", ns); err != nil {
		return nil, err
	}
	return s.indexNames(ns), nil
}

func (s *Store) indexNames(ns oplog.Namespace) []string {
	names := []string{idIndex}
	for _, idx := range s.indexes[ns.String()] {
		names = append(names, idx.Name)
	}
	return names
}

// RunCommand understands drop, dropDatabase and create. Other commands are only recorded.
func (s *Store) RunCommand(_ context.Context, database string, cmd bson.D) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.before("command", oplog.Namespace{Database: database, Collection: oplog.CommandCollection}); err != nil {
		return err
	}
	s.commands = append(s.commands, clone(cmd))
	if len(cmd) == 0 {
		return errors.Wrap(replication.ErrRejected, "empty command")
	}
	switch cmd[0].Key {
	case "drop":
		coll, _ := cmd[0].Value.(string)
		key := database + "." + coll
		if _, ok := s.colls[key]; !ok {
			return errors.Wrapf(replication.ErrRejected, "ns not found: %s", key)
		}
		delete(s.colls, key)
		delete(s.indexes, key)
	case "dropDatabase":
		for key := range s.colls {
			if oplog.DatabaseOf(key) == database {
				delete(s.colls, key)
				delete(s.indexes, key)
			}
		}
	case "create":
		coll, _ := cmd[0].Value.(string)
		key := database + "." + coll
		if _, ok := s.colls[key]; ok {
			return errors.Wrapf(replication.ErrRejected, "collection already exists: %s", key)
		}
		s.colls[key] = nil
	}
	return nil
}

// ApplyOps records the entries.
func (s *Store) ApplyOps(_ context.Context, entries []*oplog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.before("applyOps", oplog.Namespace{Database: "admin", Collection: oplog.CommandCollection}); err != nil {
		return err
	}
	s.applied = append(s.applied, entries...)
	return nil
}

// Find returns a copy of the documents of ns, in insertion order.
func (s *Store) Find(ns string) []bson.D {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bson.D, 0, len(s.colls[ns]))
	for _, d := range s.colls[ns] {
		out = append(out, clone(d))
	}
	return out
}

// Count returns the number of documents of ns.
func (s *Store) Count(ns string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.colls[ns])
}

// Collections returns the namespaces that exist, in no particular order.
func (s *Store) Collections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.colls))
	for ns := range s.colls {
		out = append(out, ns)
	}
	return out
}

// IndexNames returns the index names of ns, _id_ first.
func (s *Store) IndexNames(ns string) []string {
	parsed, err := oplog.ParseNamespace(ns)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexNames(parsed)
}

// Commands returns the commands received by RunCommand.
func (s *Store) Commands() []bson.D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bson.D(nil), s.commands...)
}

// Applied returns the entries received by ApplyOps.
func (s *Store) Applied() []*oplog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*oplog.Entry(nil), s.applied...)
}

// Calls returns the number of operations attempted.
func (s *Store) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func matches(doc, selector bson.D) bool {
	for _, elem := range selector {
		v, ok := oplog.Lookup(doc, elem.Key)
		if !ok || !reflect.DeepEqual(v, elem.Value) {
			return false
		}
	}
	return true
}

func applyModifiers(doc, update bson.D) (bson.D, error) {
	out := clone(doc)
	for _, mod := range update {
		fields, ok := mod.Value.(bson.D)
		if !ok {
			return nil, errors.Wrapf(replication.ErrRejected, "modifier %s needs a document", mod.Key)
		}
		for _, f := range fields {
			switch mod.Key {
			case "$set":
				out = set(out, f.Key, f.Value)
			case "$unset":
				out = unset(out, f.Key)
			case "$inc":
				cur, _ := oplog.Lookup(out, f.Key)
				sum, err := add(cur, f.Value)
				if err != nil {
					return nil, err
				}
				out = set(out, f.Key, sum)
			default:
				return nil, errors.Wrapf(replication.ErrRejected, "Unknown modifier: %s", mod.Key)
			}
		}
	}
	return out, nil
}

func set(d bson.D, key string, value interface{}) bson.D {
	for i := range d {
		if d[i].Key == key {
			d[i].Value = value
			return d
		}
	}
	return append(d, bson.E{Key: key, Value: value})
}

func unset(d bson.D, key string) bson.D {
	for i := range d {
		if d[i].Key == key {
			return append(d[:i], d[i+1:]...)
		}
	}
	return d
}

func add(cur, inc interface{}) (interface{}, error) {
	if cur == nil {
		return inc, nil
	}
	switch c := cur.(type) {
	case int:
		if i, ok := inc.(int); ok {
			return c + i, nil
		}
	case int32:
		if i, ok := inc.(int32); ok {
			return c + i, nil
		}
	case int64:
		if i, ok := inc.(int64); ok {
			return c + i, nil
		}
	case float64:
		if i, ok := inc.(float64); ok {
			return c + i, nil
		}
	}
	return nil, errors.Wrapf(replication.ErrRejected, "cannot $inc %T by %T", cur, inc)
}

func clone(d bson.D) bson.D {
	return append(bson.D(nil), d...)
}
