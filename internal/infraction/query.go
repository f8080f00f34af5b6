package infraction

import (
	"fmt"
	"time"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/predicate"
)

// QueryOpts selects the infractions that apply to a player or ip from the point of view of Actor.
type QueryOpts struct {
	Actor   auth.Actor
	Service string
	UserID  string
	IP      string
	// IgnoreOthers limits results to infractions owned by the calling server.
	IgnoreOthers   bool
	ActiveOnly     bool
	ExcludeRemoved bool
	OnlineOnly     bool
	Now            time.Time
}

func hasFlags(mask Flag) predicate.Predicate {
	return predicate.BitsAllSet{Field: FieldFlags, Mask: uint64(mask)}
}

func lacksFlags(mask Flag) predicate.Predicate {
	return predicate.BitsAllClear{Field: FieldFlags, Mask: uint64(mask)}
}

func notRemoved() predicate.Predicate {
	return lacksFlags(FlagRemoved)
}

// inForce matches records whose duration still applies at now.
func inForce(now time.Time) predicate.Predicate {
	return predicate.AnyOf(
		predicate.And{
			predicate.NotNull{Field: FieldExpires},
			predicate.Compare{Field: FieldExpires, Op: predicate.OpGt, Value: now},
		},
		predicate.And{hasFlags(FlagPermanent), lacksFlags(FlagSession)},
		predicate.And{
			hasFlags(FlagPlaytime),
			predicate.NotNull{Field: FieldTimeLeft},
			predicate.Compare{Field: FieldTimeLeft, Op: predicate.OpGt, Value: int64(0)},
		},
	)
}

// vpnExclusion drops ip-only records that were flagged as a vpn address.
func vpnExclusion() predicate.Predicate {
	return predicate.AnyOf(
		predicate.And{
			lacksFlags(FlagVPN),
			predicate.IsNull{Field: FieldService},
			predicate.IsNull{Field: FieldUserID},
		},
		predicate.And{
			predicate.NotNull{Field: FieldService},
			predicate.NotNull{Field: FieldUserID},
		},
	)
}

// activeClause is the full definition of an active infraction.
func activeClause(now time.Time) predicate.Predicate {
	return predicate.AllOf(notRemoved(), inForce(now), vpnExclusion())
}

func targetClause(service string, userID string, ip string) (predicate.Predicate, error) {
	if (service == "") != (userID == "") {
		return nil, fmt.Errorf("%w: gs_service and gs_id must be provided together", ErrInvalidArgument)
	}

	var identity predicate.Predicate
	if service != "" {
		identity = predicate.And{
			predicate.Eq{Field: FieldService, Value: service},
			predicate.Eq{Field: FieldUserID, Value: userID},
		}
	}

	switch {
	case identity != nil && ip != "":
		return predicate.Or{predicate.Eq{Field: FieldIP, Value: ip}, identity}, nil
	case identity != nil:
		return identity, nil
	case ip != "":
		return predicate.Eq{Field: FieldIP, Value: ip}, nil
	default:
		return nil, fmt.Errorf("%w: either a player or an ip is required", ErrInvalidArgument)
	}
}

// CompileQuery builds the predicate selecting the infractions that apply to a target.
func CompileQuery(opts QueryOpts) (predicate.Predicate, error) {
	target, errTarget := targetClause(opts.Service, opts.UserID, opts.IP)
	if errTarget != nil {
		return nil, errTarget
	}

	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	clauses := []predicate.Predicate{target}

	switch {
	case opts.IgnoreOthers:
		if !opts.Actor.IsServer() {
			return nil, fmt.Errorf("%w: ignoring other servers requires a server caller", ErrInvalidArgument)
		}

		clauses = append(clauses, predicate.Eq{Field: FieldServer, Value: opts.Actor.ServerID})
	case opts.Actor.IsServer():
		own := predicate.Eq{Field: FieldServer, Value: opts.Actor.ServerID}
		if opts.Actor.IgnoreGlobals {
			clauses = append(clauses, own)
		} else {
			clauses = append(clauses, predicate.Or{hasFlags(FlagGlobal), own})
		}
	}

	switch {
	case opts.ActiveOnly:
		clauses = append(clauses, activeClause(opts.Now))
	case opts.ExcludeRemoved:
		clauses = append(clauses, notRemoved())
	}

	if opts.OnlineOnly {
		clauses = append(clauses, hasFlags(FlagPlaytime))
	}

	return predicate.AllOf(clauses...), nil
}
