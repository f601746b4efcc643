package oplog

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	createIndexesCmd    = "createIndexes"
	dropIndexesCmd      = "dropIndexes"
	startIndexBuildCmd  = "startIndexBuild"
	commitIndexBuildCmd = "commitIndexBuild"
	abortIndexBuildCmd  = "abortIndexBuild"
)

// IndexSpec describes an index to be built on the destination.
type IndexSpec struct {
	Namespace Namespace
	Name      string
	Keys      bson.D
	// Options holds every other field of the index document (unique, sparse, ...).
	Options bson.D
}

// IsCreateIndex reports whether e creates an index.
//
// Before 4.2 an index build is logged as an insert into "<db>.system.indexes":
//
//	{ "op" : "i", "ns" : "testdb.system.indexes",
//	  "o" : { "key" : { "idxfield" : 1 }, "name" : "idxfield_1", "ns" : "testdb.testidx" } }
//
// Later versions log a createIndexes command instead, and from 4.4 a build on a
// non-empty collection is logged as a startIndexBuild/commitIndexBuild pair. The
// commit carries every index of the build:
//
//	{ "op" : "c", "ns" : "testdb.$cmd",
//	  "o" : { "commitIndexBuild" : "testidx", "indexBuildUUID" : UUID("..."),
//	          "indexes" : [ { "v" : 2, "key" : { "idxfield" : 1 }, "name" : "idxfield_1" } ] } }
func (e *Entry) IsCreateIndex() bool {
	switch e.Kind {
	case Insert:
		ns, err := e.ParseNamespace()
		return err == nil && ns.IsSystemIndexes()
	case Command:
		return e.commandName() == createIndexesCmd || e.commandName() == commitIndexBuildCmd
	default:
		return false
	}
}

// IsIndexBuildMarker reports whether e starts or aborts a two-phase index build.
// Such entries have no effect of their own: the index appears with its commitIndexBuild.
func (e *Entry) IsIndexBuildMarker() bool {
	if e.Kind != Command {
		return false
	}
	name := e.commandName()
	return name == startIndexBuildCmd || name == abortIndexBuildCmd
}

func (e *Entry) commandName() string {
	if len(e.Object) == 0 {
		return ""
	}
	return e.Object[0].Key
}

// IsDropIndex reports whether e is a "drop index" command:
//
//	{ "op" : "c", "ns" : "testdb.$cmd",
//	  "o" : { "dropIndexes" : "testcoll", "index" : "nuie_1" } }
func (e *Entry) IsDropIndex() bool {
	if e.Kind != Command {
		return false
	}
	_, ok := Lookup(e.Object, dropIndexesCmd)
	return ok
}

// IsIndexOperation reports whether e creates or drops an index, or is part of an index build.
func (e *Entry) IsIndexOperation() bool {
	return e.IsCreateIndex() || e.IsDropIndex() || e.IsIndexBuildMarker()
}

// CreateIndexSpecs extracts the indexes built by a create index entry.
// Every entry shape holds one index except commitIndexBuild, which may hold several.
func (e *Entry) CreateIndexSpecs() ([]IndexSpec, error) {
	if !e.IsCreateIndex() {
		return nil, errors.Errorf("not a create index entry: op=%s ns=%s", e.Kind, e.Namespace)
	}

	if e.Kind == Insert {
		ns, ok := LookupString(e.Object, "ns")
		if !ok {
			return nil, errors.Wrap(ErrMalformedNamespace, "index document has no ns")
		}
		target, err := ParseNamespace(ns)
		if err != nil {
			return nil, err
		}
		spec, err := indexSpec(target, e.Object)
		if err != nil {
			return nil, err
		}
		return []IndexSpec{spec}, nil
	}

	name := e.commandName()
	coll, _ := LookupString(e.Object, name)
	target, err := ParseNamespace(e.Database() + "." + coll)
	if err != nil {
		return nil, err
	}
	if name == createIndexesCmd {
		spec, err := indexSpec(target, e.Object)
		if err != nil {
			return nil, err
		}
		return []IndexSpec{spec}, nil
	}

	v, _ := Lookup(e.Object, "indexes")
	docs, ok := documents(v)
	if !ok || len(docs) == 0 {
		return nil, errors.Errorf("%s on %s has no indexes", name, target)
	}
	specs := make([]IndexSpec, 0, len(docs))
	for _, doc := range docs {
		spec, err := indexSpec(target, doc)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// indexSpec reads an index document: key, name and any other field as an option.
func indexSpec(target Namespace, doc bson.D) (IndexSpec, error) {
	spec := IndexSpec{Namespace: target}
	for _, elem := range doc {
		switch elem.Key {
		case createIndexesCmd, "ns", "v":
		case "name":
			spec.Name, _ = elem.Value.(string)
		case "key":
			spec.Keys, _ = elem.Value.(bson.D)
		default:
			spec.Options = append(spec.Options, elem)
		}
	}
	if len(spec.Keys) == 0 {
		return IndexSpec{}, errors.Errorf("index %q on %s has no key", spec.Name, target)
	}
	return spec, nil
}
