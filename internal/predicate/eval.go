package predicate

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Getter exposes record attributes by logical field name. Absent or null values must be returned as nil.
type Getter interface {
	Get(field Field) any
}

// Eval evaluates the predicate directly against a single record.
func Eval(pred Predicate, rec Getter) bool { //nolint:cyclop
	switch value := pred.(type) {
	case nil, All:
		return true
	case None:
		return false
	case Eq:
		return equal(rec.Get(value.Field), value.Value)
	case Ne:
		return !equal(rec.Get(value.Field), value.Value)
	case Contains:
		text, ok := rec.Get(value.Field).(string)

		return ok && strings.Contains(strings.ToLower(text), strings.ToLower(value.Text))
	case Compare:
		cmp, ok := compare(rec.Get(value.Field), value.Value)
		if !ok {
			return false
		}

		return matchOp(value.Op, cmp)
	case In:
		current := rec.Get(value.Field)
		for _, candidate := range value.Values {
			if equal(current, candidate) {
				return true
			}
		}

		return false
	case IsNull:
		return rec.Get(value.Field) == nil
	case NotNull:
		return rec.Get(value.Field) != nil
	case BitsAllSet:
		bits, ok := toBits(rec.Get(value.Field))

		return ok && bits&value.Mask == value.Mask
	case BitsAllClear:
		bits, ok := toBits(rec.Get(value.Field))

		return ok && bits&value.Mask == 0
	case BitsAnySet:
		bits, ok := toBits(rec.Get(value.Field))

		return ok && bits&value.Mask != 0
	case Span:
		end, okEnd := rec.Get(value.End).(time.Time)
		start, okStart := rec.Get(value.Start).(time.Time)
		if !okEnd || !okStart {
			return false
		}

		seconds := int64(end.Sub(start).Seconds())
		switch {
		case seconds < value.Seconds:
			return matchOp(value.Op, -1)
		case seconds > value.Seconds:
			return matchOp(value.Op, 1)
		default:
			return matchOp(value.Op, 0)
		}
	case And:
		for _, child := range value {
			if !Eval(child, rec) {
				return false
			}
		}

		return true
	case Or:
		for _, child := range value {
			if Eval(child, rec) {
				return true
			}
		}

		return false
	case Not:
		return !Eval(value.Predicate, rec)
	default:
		return false
	}
}

func matchOp(op Op, cmp int) bool {
	switch op {
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	default:
		return cmp == 0
	}
}

func normalize(value any) any {
	switch val := value.(type) {
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val) //nolint:gosec
	case time.Time:
		return val.UnixNano()
	case uuid.UUID:
		return val.String()
	default:
		return value
	}
}

func equal(left any, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}

	if cmp, ok := compare(left, right); ok {
		return cmp == 0
	}

	return normalize(left) == normalize(right)
}

func compare(left any, right any) (int, bool) {
	switch leftVal := normalize(left).(type) {
	case int64:
		rightVal, ok := normalize(right).(int64)
		if !ok {
			return 0, false
		}

		switch {
		case leftVal < rightVal:
			return -1, true
		case leftVal > rightVal:
			return 1, true
		default:
			return 0, true
		}
	case string:
		rightVal, ok := normalize(right).(string)
		if !ok {
			return 0, false
		}

		return strings.Compare(leftVal, rightVal), true
	default:
		return 0, false
	}
}

func toBits(value any) (uint64, bool) {
	switch val := normalize(value).(type) {
	case int64:
		return uint64(val), true //nolint:gosec
	default:
		return 0, false
	}
}
