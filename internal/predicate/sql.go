package predicate

import (
	"database/sql/driver"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Columns maps logical fields onto (optionally table qualified) SQL column names.
type Columns map[Field]string

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`) //nolint:gochecknoglobals

// ToSQL renders the predicate as a squirrel expression suitable for a Where() clause.
func ToSQL(pred Predicate, cols Columns) (sq.Sqlizer, error) { //nolint:cyclop,ireturn
	column := func(field Field) (string, error) {
		col, found := cols[field]
		if !found {
			return "", fmt.Errorf("%w: %s", ErrUnknownField, field)
		}

		return col, nil
	}

	switch value := pred.(type) {
	case nil, All:
		return sq.Expr("1=1"), nil
	case None:
		return sq.Expr("1=0"), nil
	case Eq:
		col, err := column(value.Field)
		if err != nil {
			return nil, err
		}

		return sq.Eq{col: sqlValue(value.Value)}, nil
	case Ne:
		col, err := column(value.Field)
		if err != nil {
			return nil, err
		}

		return sq.NotEq{col: sqlValue(value.Value)}, nil
	case Contains:
		col, err := column(value.Field)
		if err != nil {
			return nil, err
		}

		return sq.ILike{col: "%" + likeEscaper.Replace(value.Text) + "%"}, nil
	case Compare:
		col, err := column(value.Field)
		if err != nil {
			return nil, err
		}

		return compareSQL(col, value.Op, sqlValue(value.Value)), nil
	case In:
		col, err := column(value.Field)
		if err != nil {
			return nil, err
		}

		if len(value.Values) == 0 {
			return sq.Expr("1=0"), nil
		}

		values := make([]any, len(value.Values))
		for idx, val := range value.Values {
			values[idx] = sqlValue(val)
		}

		return sq.Eq{col: values}, nil
	case IsNull:
		col, err := column(value.Field)
		if err != nil {
			return nil, err
		}

		return sq.Eq{col: nil}, nil
	case NotNull:
		col, err := column(value.Field)
		if err != nil {
			return nil, err
		}

		return sq.NotEq{col: nil}, nil
	case BitsAllSet:
		col, err := column(value.Field)
		if err != nil {
			return nil, err
		}

		return sq.Expr(fmt.Sprintf("(%s & ?) = ?", col), int64(value.Mask), int64(value.Mask)), nil //nolint:gosec
	case BitsAllClear:
		col, err := column(value.Field)
		if err != nil {
			return nil, err
		}

		return sq.Expr(fmt.Sprintf("(%s & ?) = 0", col), int64(value.Mask)), nil //nolint:gosec
	case BitsAnySet:
		col, err := column(value.Field)
		if err != nil {
			return nil, err
		}

		return sq.Expr(fmt.Sprintf("(%s & ?) <> 0", col), int64(value.Mask)), nil //nolint:gosec
	case Span:
		end, errEnd := column(value.End)
		if errEnd != nil {
			return nil, errEnd
		}

		start, errStart := column(value.Start)
		if errStart != nil {
			return nil, errStart
		}

		return sq.Expr(fmt.Sprintf("EXTRACT(EPOCH FROM (%s - %s)) %s ?", end, start, value.Op), value.Seconds), nil
	case And:
		out := sq.And{}
		for _, child := range value {
			expr, err := ToSQL(child, cols)
			if err != nil {
				return nil, err
			}
			out = append(out, expr)
		}

		return out, nil
	case Or:
		if len(value) == 0 {
			return sq.Expr("1=0"), nil
		}

		out := sq.Or{}
		for _, child := range value {
			expr, err := ToSQL(child, cols)
			if err != nil {
				return nil, err
			}
			out = append(out, expr)
		}

		return out, nil
	case Not:
		inner, err := ToSQL(value.Predicate, cols)
		if err != nil {
			return nil, err
		}

		query, args, errSQL := inner.ToSql()
		if errSQL != nil {
			return nil, errSQL
		}

		return sq.Expr("NOT ("+query+")", args...), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownPredicate, pred)
	}
}

func compareSQL(col string, op Op, value any) sq.Sqlizer { //nolint:ireturn
	switch op {
	case OpLt:
		return sq.Lt{col: value}
	case OpLte:
		return sq.LtOrEq{col: value}
	case OpGt:
		return sq.Gt{col: value}
	case OpGte:
		return sq.GtOrEq{col: value}
	default:
		return sq.Eq{col: value}
	}
}

// sqlValue unwraps driver.Valuer types such as uuid.UUID. Squirrel would otherwise expand fixed size
// byte arrays into an IN list.
func sqlValue(value any) any {
	if valuer, ok := value.(driver.Valuer); ok {
		if out, err := valuer.Value(); err == nil {
			return out
		}
	}

	return value
}
