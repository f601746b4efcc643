package oplog

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	// CommandCollection is the pseudo collection used by command entries, e.g. "testdb.$cmd".
	CommandCollection = "$cmd"
	// IndexesCollection is the legacy collection index creations are logged into.
	IndexesCollection = "system.indexes"

	adminDatabase       = "admin"
	renameCollectionCmd = "renameCollection"
	applyOpsCmd         = "applyOps"
)

// Namespace identifies a database and a collection, e.g. "mydb.tweets".
type Namespace struct {
	Database   string
	Collection string
}

// ParseNamespace splits "db.collection" on the first dot.
// The collection part may itself contain dots ("db.fs.files").
func ParseNamespace(ns string) (Namespace, error) {
	db, coll, ok := strings.Cut(ns, ".")
	if !ok || db == "" || coll == "" {
		return Namespace{}, errors.Wrapf(ErrMalformedNamespace, "ns=%q", ns)
	}
	return Namespace{Database: db, Collection: coll}, nil
}

// DatabaseOf returns the database segment of ns, or ns itself when it has no dot.
func DatabaseOf(ns string) string {
	db, _, _ := strings.Cut(ns, ".")
	return db
}

func (n Namespace) String() string {
	return n.Database + "." + n.Collection
}

// IsCommand reports whether n is the per-database command namespace.
func (n Namespace) IsCommand() bool {
	return n.Collection == CommandCollection
}

// IsSystemIndexes reports whether n is the legacy index catalog of its database.
func (n Namespace) IsSystemIndexes() bool {
	return n.Collection == IndexesCollection
}
