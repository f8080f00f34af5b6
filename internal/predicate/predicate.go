// Package predicate implements a small store-neutral filter language. The infraction query and
// search compilers produce predicates, and each repository backend renders them into its own
// query dialect: squirrel SQL for postgres, BSON filter documents for mongo, or direct
// evaluation for the in-memory store.
package predicate

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownField     = errors.New("unknown predicate field")
	ErrUnknownPredicate = errors.New("unsupported predicate type")
)

// Field is the logical name of a record attribute. Backends map it onto a column or document key.
type Field string

// Op is a comparison operator used by Compare and Span.
type Op int

const (
	OpEq Op = iota
	OpLt
	OpLte
	OpGt
	OpGte
)

func (o Op) String() string {
	switch o {
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	default:
		return "="
	}
}

// ParseOp converts the user facing comparison names into an Op. An empty string is treated as equality.
func ParseOp(value string) (Op, error) {
	switch value {
	case "", "eq":
		return OpEq, nil
	case "lt":
		return OpLt, nil
	case "lte":
		return OpLte, nil
	case "gt":
		return OpGt, nil
	case "gte":
		return OpGte, nil
	default:
		return OpEq, fmt.Errorf("invalid comparison mode: %s", value)
	}
}

// Predicate is any node of the filter tree.
type Predicate interface {
	predicate()
}

// All matches every record.
type All struct{}

// None matches nothing.
type None struct{}

// Eq matches records whose field equals Value. A nil Value matches null or absent fields.
type Eq struct {
	Field Field
	Value any
}

// Ne matches records whose field is not equal to Value.
type Ne struct {
	Field Field
	Value any
}

// Contains is a case-insensitive substring match.
type Contains struct {
	Field Field
	Text  string
}

// Compare matches records where `field Op Value`.
type Compare struct {
	Field Field
	Op    Op
	Value any
}

// In matches records whose field is equal to any of Values. An empty set matches nothing.
type In struct {
	Field  Field
	Values []any
}

type IsNull struct {
	Field Field
}

type NotNull struct {
	Field Field
}

// BitsAllSet matches when every bit of Mask is set in the integer field.
type BitsAllSet struct {
	Field Field
	Mask  uint64
}

// BitsAllClear matches when every bit of Mask is clear in the integer field.
type BitsAllClear struct {
	Field Field
	Mask  uint64
}

// BitsAnySet matches when at least one bit of Mask is set in the integer field.
type BitsAnySet struct {
	Field Field
	Mask  uint64
}

// Span compares the number of seconds between two timestamp fields, `(End - Start) Op Seconds`.
// Callers must guard against null timestamps themselves.
type Span struct {
	End     Field
	Start   Field
	Op      Op
	Seconds int64
}

type And []Predicate

type Or []Predicate

type Not struct {
	Predicate Predicate
}

func (All) predicate()          {}
func (None) predicate()         {}
func (Eq) predicate()           {}
func (Ne) predicate()           {}
func (Contains) predicate()     {}
func (Compare) predicate()      {}
func (In) predicate()           {}
func (IsNull) predicate()       {}
func (NotNull) predicate()      {}
func (BitsAllSet) predicate()   {}
func (BitsAllClear) predicate() {}
func (BitsAnySet) predicate()   {}
func (Span) predicate()         {}
func (And) predicate()          {}
func (Or) predicate()           {}
func (Not) predicate()          {}

// AllOf combines the predicates with AND, dropping All nodes and flattening nested And nodes.
func AllOf(preds ...Predicate) Predicate {
	var out And

	for _, pred := range preds {
		switch value := pred.(type) {
		case nil, All:
			continue
		case None:
			return None{}
		case And:
			for _, child := range value {
				if _, isAll := child.(All); !isAll {
					out = append(out, child)
				}
			}
		default:
			out = append(out, pred)
		}
	}

	switch len(out) {
	case 0:
		return All{}
	case 1:
		return out[0]
	default:
		return out
	}
}

// AnyOf combines the predicates with OR. A single All member makes the whole expression All.
func AnyOf(preds ...Predicate) Predicate {
	var out Or

	for _, pred := range preds {
		switch value := pred.(type) {
		case nil, None:
			continue
		case All:
			return All{}
		case Or:
			out = append(out, value...)
		default:
			out = append(out, pred)
		}
	}

	switch len(out) {
	case 0:
		return None{}
	case 1:
		return out[0]
	default:
		return out
	}
}
