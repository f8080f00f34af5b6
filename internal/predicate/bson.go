package predicate

import (
	"fmt"
	"regexp"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.mongodb.org/mongo-driver/bson"
)

// Keys maps logical fields onto mongo document keys.
type Keys map[Field]string

var bsonOps = map[Op]string{ //nolint:gochecknoglobals
	OpEq:  "$eq",
	OpLt:  "$lt",
	OpLte: "$lte",
	OpGt:  "$gt",
	OpGte: "$gte",
}

// ToBSON renders the predicate as a mongo filter document. Timestamps are stored as unix seconds
// and uuids as their canonical string form, so values are converted to match.
func ToBSON(pred Predicate, keys Keys) (bson.M, error) { //nolint:cyclop
	key := func(field Field) (string, error) {
		name, found := keys[field]
		if !found {
			return "", fmt.Errorf("%w: %s", ErrUnknownField, field)
		}

		return name, nil
	}

	switch value := pred.(type) {
	case nil, All:
		return bson.M{}, nil
	case None:
		return bson.M{"_id": bson.M{"$exists": false}}, nil
	case Eq:
		name, err := key(value.Field)
		if err != nil {
			return nil, err
		}

		return bson.M{name: bsonValue(value.Value)}, nil
	case Ne:
		name, err := key(value.Field)
		if err != nil {
			return nil, err
		}

		return bson.M{name: bson.M{"$ne": bsonValue(value.Value)}}, nil
	case Contains:
		name, err := key(value.Field)
		if err != nil {
			return nil, err
		}

		return bson.M{name: bson.M{"$regex": regexp.QuoteMeta(value.Text), "$options": "i"}}, nil
	case Compare:
		name, err := key(value.Field)
		if err != nil {
			return nil, err
		}

		return bson.M{name: bson.M{bsonOps[value.Op]: bsonValue(value.Value)}}, nil
	case In:
		name, err := key(value.Field)
		if err != nil {
			return nil, err
		}

		values := make(bson.A, len(value.Values))
		for idx, val := range value.Values {
			values[idx] = bsonValue(val)
		}

		return bson.M{name: bson.M{"$in": values}}, nil
	case IsNull:
		name, err := key(value.Field)
		if err != nil {
			return nil, err
		}

		return bson.M{name: nil}, nil
	case NotNull:
		name, err := key(value.Field)
		if err != nil {
			return nil, err
		}

		return bson.M{name: bson.M{"$ne": nil}}, nil
	case BitsAllSet:
		name, err := key(value.Field)
		if err != nil {
			return nil, err
		}

		return bson.M{name: bson.M{"$bitsAllSet": int64(value.Mask)}}, nil //nolint:gosec
	case BitsAllClear:
		name, err := key(value.Field)
		if err != nil {
			return nil, err
		}

		return bson.M{name: bson.M{"$bitsAllClear": int64(value.Mask)}}, nil //nolint:gosec
	case BitsAnySet:
		name, err := key(value.Field)
		if err != nil {
			return nil, err
		}

		return bson.M{name: bson.M{"$bitsAnySet": int64(value.Mask)}}, nil //nolint:gosec
	case Span:
		end, errEnd := key(value.End)
		if errEnd != nil {
			return nil, errEnd
		}

		start, errStart := key(value.Start)
		if errStart != nil {
			return nil, errStart
		}

		return bson.M{"$expr": bson.M{
			bsonOps[value.Op]: bson.A{bson.M{"$subtract": bson.A{"$" + end, "$" + start}}, value.Seconds},
		}}, nil
	case And:
		if len(value) == 0 {
			return bson.M{}, nil
		}

		children, err := bsonChildren(value, keys)
		if err != nil {
			return nil, err
		}

		return bson.M{"$and": children}, nil
	case Or:
		if len(value) == 0 {
			return ToBSON(None{}, keys)
		}

		children, err := bsonChildren(value, keys)
		if err != nil {
			return nil, err
		}

		return bson.M{"$or": children}, nil
	case Not:
		inner, err := ToBSON(value.Predicate, keys)
		if err != nil {
			return nil, err
		}

		return bson.M{"$nor": bson.A{inner}}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownPredicate, pred)
	}
}

func bsonChildren(preds []Predicate, keys Keys) (bson.A, error) {
	children := make(bson.A, 0, len(preds))

	for _, child := range preds {
		doc, err := ToBSON(child, keys)
		if err != nil {
			return nil, err
		}

		children = append(children, doc)
	}

	return children, nil
}

func bsonValue(value any) any {
	switch val := value.(type) {
	case time.Time:
		return val.Unix()
	case uuid.UUID:
		return val.String()
	case uint64:
		return int64(val) //nolint:gosec
	default:
		return value
	}
}
