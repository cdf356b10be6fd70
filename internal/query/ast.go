// Package query provides the out-of-scope query parser's interface
// only: an AST over {Define, Insert, Get, Delete, Aggregate} and a
// Parser that produces it, plus a minimal hand-written recognizer
// sufficient to drive the end-to-end scenarios in SPEC_FULL.md §8. It is
// explicitly not a general query language implementation — internal/txn
// is the only consumer, and only of the shapes this recognizer accepts.
package query

// Kind is the statement variety a parsed query represents.
type Kind uint8

const (
	Define Kind = iota
	Insert
	Get
	Delete
	Aggregate
)

func (k Kind) String() string {
	switch k {
	case Define:
		return "define"
	case Insert:
		return "insert"
	case Get:
		return "get"
	case Delete:
		return "delete"
	case Aggregate:
		return "aggregate"
	default:
		return "unknown"
	}
}

// PlaysClause is one `plays <role>` clause of a type definition.
type PlaysClause struct {
	Role     string
	Required bool
}

// TypeDef is one `<label> sub <target>(, clause)*` statement inside a
// define query.
type TypeDef struct {
	Label string
	// Sub is the target of `sub`: one of "entity", "relation",
	// "attribute", "role", "rule", or another type's label.
	Sub string

	Plays    []PlaysClause
	Relates  []string
	DataType string
	Keys     []string

	// When/Then hold a rule's pattern bodies verbatim (braces and all);
	// internal/schema's rule well-formedness check parses them further.
	When, Then string
}

// RoleRef is one `<role>:$<var>` pair inside a relation pattern's
// parentheses, e.g. the `friend:$x` in `$r (friend:$x, friend:$y) isa
// friendship`.
type RoleRef struct {
	Role string
	Var  string
}

// Pattern is one statement inside a match/insert body. Only the fields
// relevant to what the statement actually said are populated.
type Pattern struct {
	Var string // the bound $-variable, if any

	Isa string // `isa <label>` target type label

	IDRef    uint64 // `id <N>` literal concept ID reference
	HasIDRef bool

	HasLabel string // `has <label>` attribute label
	HasVar   string // `has <label> $var`: value comes from a bound var
	HasValue any    // `has <label> <literal>`: value is this literal

	RoleRefs []RoleRef // relation role:player pairs, if this is a relation pattern
}

// AST is the parsed form of one query statement.
type AST struct {
	Kind Kind

	// Define
	TypeDefs []TypeDef

	// Insert/Get/Delete/Aggregate: the match/insert patterns.
	Patterns []Pattern

	// Delete: the variables to remove.
	DeleteVars []string

	// Aggregate: which aggregate function ("count" is the only one this
	// recognizer supports).
	AggregateFunc string

	// Get/Aggregate: whether inference is enabled for this query.
	Infer bool
}

// Parser consumes a query-language string and emits an AST. Concrete
// storage/execution concerns (evaluating patterns against live data)
// live in internal/txn; this interface only describes parsing.
type Parser interface {
	Parse(text string) (AST, error)
}
