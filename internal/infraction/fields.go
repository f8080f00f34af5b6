package infraction

import (
	"time"

	"github.com/gflze/gflbans/internal/predicate"
)

// Logical field names understood by every Repository implementation.
const (
	FieldID            predicate.Field = "infraction_id"
	FieldService       predicate.Field = "gs_service"
	FieldUserID        predicate.Field = "gs_id"
	FieldName          predicate.Field = "gs_name"
	FieldIP            predicate.Field = "ip"
	FieldFlags         predicate.Field = "flags"
	FieldCreated       predicate.Field = "created"
	FieldExpires       predicate.Field = "expires"
	FieldTimeLeft      predicate.Field = "time_left"
	FieldOriginalTime  predicate.Field = "original_time"
	FieldServer        predicate.Field = "server_id"
	FieldAdminID       predicate.Field = "admin_id"
	FieldReason        predicate.Field = "reason"
	FieldRemovalReason predicate.Field = "removal_reason"
	FieldPolicyID      predicate.Field = "policy_id"
)

// Get exposes the persisted view of the record so predicates can be evaluated in memory. Empty
// strings and absent values read as null, matching how the stores persist them.
func (inf Infraction) Get(field predicate.Field) any { //nolint:cyclop
	stored := Store(inf)

	switch field {
	case FieldID:
		return inf.InfractionID
	case FieldService:
		return nullString(inf.Target.Service)
	case FieldUserID:
		return nullString(inf.Target.UserID)
	case FieldName:
		return nullString(inf.Target.Name)
	case FieldIP:
		return nullString(inf.Target.IP)
	case FieldFlags:
		return uint64(stored.Flags)
	case FieldCreated:
		return inf.Created
	case FieldExpires:
		return nullTime(stored.Expires)
	case FieldTimeLeft:
		if stored.TimeLeft == nil {
			return nil
		}

		return *stored.TimeLeft
	case FieldOriginalTime:
		if stored.OriginalTime == nil {
			return nil
		}

		return *stored.OriginalTime
	case FieldServer:
		if inf.ServerID == nil {
			return nil
		}

		return *inf.ServerID
	case FieldAdminID:
		if inf.Admin == nil {
			return nil
		}

		return inf.Admin.SteamID.Int64()
	case FieldReason:
		return inf.Reason
	case FieldPolicyID:
		if inf.PolicyID == nil {
			return nil
		}

		return *inf.PolicyID
	case FieldRemovalReason:
		if inf.Removal == nil {
			return nil
		}

		return nullString(inf.Removal.Reason)
	default:
		return nil
	}
}

func nullString(value string) any {
	if value == "" {
		return nil
	}

	return value
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}

	return *value
}
