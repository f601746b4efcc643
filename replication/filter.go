package replication

import (
	"fmt"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
)

// DatabaseFilter is an allow-list of databases. Each pattern is a glob ("app_*").
type DatabaseFilter struct {
	patterns []string
	globs    []glob.Glob
}

// NewDatabaseFilter compiles the patterns. It returns nil for an empty list, which allows everything.
func NewDatabaseFilter(patterns []string) (*DatabaseFilter, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	f := &DatabaseFilter{patterns: patterns}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidOptions, "database pattern %q: %v", p, err)
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

// Match reports whether db is allowed. A nil filter allows every database.
func (f *DatabaseFilter) Match(db string) bool {
	if f == nil {
		return true
	}
	for _, g := range f.globs {
		if g.Match(db) {
			return true
		}
	}
	return false
}

// MatchAny reports whether any of dbs is allowed. An admin command that writes to several
// databases, such as a transaction's applyOps, is replayed whole when one of them is allowed.
func (f *DatabaseFilter) MatchAny(dbs []string) bool {
	for _, db := range dbs {
		if f.Match(db) {
			return true
		}
	}
	return f == nil
}

func (f *DatabaseFilter) String() string {
	if f == nil {
		return "*"
	}
	return fmt.Sprint(f.patterns)
}
