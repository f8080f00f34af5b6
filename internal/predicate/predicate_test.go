package predicate_test

import (
	"testing"
	"time"

	"github.com/gflze/gflbans/internal/predicate"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type row map[predicate.Field]any

func (r row) Get(field predicate.Field) any {
	return r[field]
}

var cols = predicate.Columns{ //nolint:gochecknoglobals
	"ip":      "ip",
	"flags":   "flags",
	"name":    "name",
	"expires": "expires",
	"created": "created",
}

func TestAllOfFlattens(t *testing.T) {
	t.Parallel()

	require.Equal(t, predicate.All{}, predicate.AllOf())
	require.Equal(t, predicate.All{}, predicate.AllOf(predicate.All{}, nil))
	require.Equal(t, predicate.None{}, predicate.AllOf(predicate.Eq{Field: "ip", Value: "1"}, predicate.None{}))

	single := predicate.Eq{Field: "ip", Value: "1"}
	require.Equal(t, single, predicate.AllOf(predicate.All{}, single))

	nested := predicate.AllOf(predicate.And{single, single}, single)
	require.Len(t, nested, 3)
}

func TestAnyOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, predicate.None{}, predicate.AnyOf())
	require.Equal(t, predicate.All{}, predicate.AnyOf(predicate.Eq{Field: "ip", Value: "1"}, predicate.All{}))
}

func TestToSQL(t *testing.T) {
	t.Parallel()

	expr, err := predicate.ToSQL(predicate.AllOf(
		predicate.Eq{Field: "ip", Value: "1.2.3.4"},
		predicate.BitsAllClear{Field: "flags", Mask: 64},
	), cols)
	require.NoError(t, err)

	query, args, errSQL := expr.ToSql()
	require.NoError(t, errSQL)
	require.Equal(t, "(ip = ? AND (flags & ?) = 0)", query)
	require.Equal(t, []any{"1.2.3.4", int64(64)}, args)

	orExpr, errOr := predicate.ToSQL(predicate.Or{
		predicate.IsNull{Field: "expires"},
		predicate.Contains{Field: "name", Text: "50%_off"},
	}, cols)
	require.NoError(t, errOr)

	orQuery, orArgs, _ := orExpr.ToSql()
	require.Equal(t, "(expires IS NULL OR name ILIKE ?)", orQuery)
	require.Equal(t, []any{`%50\%\_off%`}, orArgs)

	notExpr, errNot := predicate.ToSQL(predicate.Not{Predicate: predicate.BitsAnySet{Field: "flags", Mask: 3}}, cols)
	require.NoError(t, errNot)

	notQuery, _, _ := notExpr.ToSql()
	require.Equal(t, "NOT ((flags & ?) <> 0)", notQuery)

	_, errUnknown := predicate.ToSQL(predicate.Eq{Field: "nope", Value: 1}, cols)
	require.ErrorIs(t, errUnknown, predicate.ErrUnknownField)

	emptyIn, _ := predicate.ToSQL(predicate.In{Field: "ip"}, cols)
	emptyQuery, _, _ := emptyIn.ToSql()
	require.Equal(t, "1=0", emptyQuery)
}

func TestToBSON(t *testing.T) {
	t.Parallel()

	keys := predicate.Keys{"ip": "ip", "flags": "flags", "expires": "expires", "created": "created"}
	now := time.Unix(1700000000, 0)

	doc, err := predicate.ToBSON(predicate.AllOf(
		predicate.Compare{Field: "expires", Op: predicate.OpGt, Value: now},
		predicate.BitsAllSet{Field: "flags", Mask: 8},
	), keys)
	require.NoError(t, err)
	require.Equal(t, bson.M{"$and": bson.A{
		bson.M{"expires": bson.M{"$gt": int64(1700000000)}},
		bson.M{"flags": bson.M{"$bitsAllSet": int64(8)}},
	}}, doc)

	span, errSpan := predicate.ToBSON(predicate.Span{End: "expires", Start: "created", Op: predicate.OpLt, Seconds: 60}, keys)
	require.NoError(t, errSpan)
	require.Equal(t, bson.M{"$expr": bson.M{
		"$lt": bson.A{bson.M{"$subtract": bson.A{"$expires", "$created"}}, int64(60)},
	}}, span)

	all, _ := predicate.ToBSON(predicate.All{}, keys)
	require.Empty(t, all)
}

func TestEval(t *testing.T) {
	t.Parallel()

	now := time.Now()
	record := row{
		"ip":      "10.0.0.1",
		"flags":   uint64(1<<3 | 1<<9),
		"name":    "Some Player",
		"created": now.Add(-time.Hour),
		"expires": now.Add(time.Hour),
	}

	testCases := []struct {
		name string
		pred predicate.Predicate
		want bool
	}{
		{"eq", predicate.Eq{Field: "ip", Value: "10.0.0.1"}, true},
		{"eq null", predicate.Eq{Field: "missing", Value: nil}, true},
		{"ne", predicate.Ne{Field: "ip", Value: "10.0.0.1"}, false},
		{"contains", predicate.Contains{Field: "name", Text: "PLAYER"}, true},
		{"compare time", predicate.Compare{Field: "expires", Op: predicate.OpGt, Value: now}, true},
		{"compare time lt", predicate.Compare{Field: "expires", Op: predicate.OpLt, Value: now}, false},
		{"in", predicate.In{Field: "ip", Values: []any{"1.1.1.1", "10.0.0.1"}}, true},
		{"in empty", predicate.In{Field: "ip"}, false},
		{"all set", predicate.BitsAllSet{Field: "flags", Mask: 1<<3 | 1<<9}, true},
		{"all clear", predicate.BitsAllClear{Field: "flags", Mask: 1 << 6}, true},
		{"any set", predicate.BitsAnySet{Field: "flags", Mask: 1<<6 | 1<<9}, true},
		{"span", predicate.Span{End: "expires", Start: "created", Op: predicate.OpEq, Seconds: 7200}, true},
		{"span missing", predicate.Span{End: "missing", Start: "created", Op: predicate.OpGte, Seconds: 0}, false},
		{"not", predicate.Not{Predicate: predicate.IsNull{Field: "ip"}}, true},
		{"or", predicate.Or{predicate.None{}, predicate.All{}}, true},
		{"and", predicate.And{predicate.All{}, predicate.None{}}, false},
	}

	for _, testCase := range testCases {
		require.Equal(t, testCase.want, predicate.Eval(testCase.pred, record), testCase.name)
	}
}

func TestParseOp(t *testing.T) {
	t.Parallel()

	op, err := predicate.ParseOp("gte")
	require.NoError(t, err)
	require.Equal(t, predicate.OpGte, op)

	_, errInvalid := predicate.ParseOp("between")
	require.Error(t, errInvalid)
}
