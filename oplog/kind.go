package oplog

// Kind is the operation code stored in the "op" field of an oplog entry.
type Kind string

// Contains the oplog operation kinds.
const (
	Insert           Kind = "i"
	Update           Kind = "u"
	Delete           Kind = "d"
	Command          Kind = "c"
	DatabaseDeclared Kind = "db"
	Noop             Kind = "n"
)

// AllKinds lists every kind Dispatch knows how to route.
var AllKinds = []Kind{
	Insert,
	Update,
	Delete,
	Command,
	DatabaseDeclared,
	Noop,
}

// Valid reports whether k is one of the known oplog kinds.
func (k Kind) Valid() bool {
	switch k {
	case Insert, Update, Delete, Command, DatabaseDeclared, Noop:
		return true
	default:
		return false
	}
}

// String returns a human readable name, used for logs and metric labels.
func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case Command:
		return "command"
	case DatabaseDeclared:
		return "database-declared"
	case Noop:
		return "noop"
	default:
		return "unknown"
	}
}
