package infraction

import (
	"fmt"
	"time"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gofrs/uuid/v5"
)

// Opts describes a new infraction. A nil Duration with neither Session nor Playtime set is permanent.
type Opts struct {
	Target      Target           `json:"player"`
	Reason      string           `json:"reason"`
	Scope       Scope            `json:"scope"`
	Punishments []PunishmentKind `json:"punishments"`
	// Duration is the length in seconds. For playtime infractions it is the amount of online time.
	Duration *int64     `json:"duration,omitempty"`
	Session  bool       `json:"session"`
	Playtime bool       `json:"playtime_based"`
	VPN      bool       `json:"vpn"`
	Admin    *Author    `json:"admin,omitempty"`
	ServerID *uuid.UUID `json:"server_id,omitempty"`
}

// New builds and validates a new record without persisting it.
func New(opts Opts, actor auth.Actor, now time.Time) (Infraction, error) { //nolint:cyclop
	if err := opts.Target.Validate(); err != nil {
		return Infraction{}, err
	}

	if !actor.Has(auth.PermCreateInfraction) {
		return Infraction{}, fmt.Errorf("%w: creating infractions", ErrPermissionDenied)
	}

	reason := cleanReason(opts.Reason)
	if reason == "" || len(reason) > MaxReasonLength {
		return Infraction{}, fmt.Errorf("%w: reason must be between 1 and %d characters", ErrInvalidArgument, MaxReasonLength)
	}

	punishments, errPunishments := NewPunishments(opts.Punishments...)
	if errPunishments != nil {
		return Infraction{}, errPunishments
	}

	for _, kind := range punishments {
		if !actor.Has(kind.Permission()) {
			return Infraction{}, fmt.Errorf("%w: issuing %s", ErrPermissionDenied, kind.Label())
		}
	}

	if opts.Scope == ScopeGlobal && !actor.Has(auth.PermScopeGlobal) {
		return Infraction{}, fmt.Errorf("%w: issuing global infractions", ErrPermissionDenied)
	}

	if opts.Session && opts.Playtime {
		return Infraction{}, fmt.Errorf("%w: an infraction cannot be both session and playtime based", ErrInvalidArgument)
	}

	if punishments.Has(Ban) && opts.Playtime {
		return Infraction{}, fmt.Errorf("%w: a ban cannot be playtime based", ErrInvalidTransition)
	}

	if punishments.Has(Ban) && opts.Session {
		return Infraction{}, fmt.Errorf("%w: a ban cannot be session based", ErrInvalidTransition)
	}

	if opts.Duration != nil && *opts.Duration <= 0 {
		return Infraction{}, fmt.Errorf("%w: duration must be positive", ErrInvalidArgument)
	}

	var duration Duration

	switch {
	case opts.Session:
		duration = Session()
	case opts.Duration == nil:
		if opts.Playtime {
			return Infraction{}, fmt.Errorf("%w: playtime infractions require a duration", ErrInvalidArgument)
		}

		duration = Permanent()
	case opts.Playtime:
		duration = Playtime(*opts.Duration)
	default:
		duration = Fixed(now.Add(time.Duration(*opts.Duration) * time.Second))
	}

	infractionID, errID := uuid.NewV7()
	if errID != nil {
		return Infraction{}, fmt.Errorf("failed to generate infraction id: %w", errID)
	}

	inf := Infraction{
		InfractionID: infractionID,
		Target:       opts.Target,
		Punishments:  punishments,
		Duration:     duration,
		Scope:        opts.Scope,
		System:       opts.Admin == nil,
		Web:          opts.ServerID == nil,
		VPN:          opts.VPN,
		Created:      now,
		ServerID:     opts.ServerID,
		Admin:        opts.Admin,
		Reason:       reason,
		Comments:     []Comment{},
		Files:        []File{},
		UpdatedOn:    now,
	}

	if err := inf.Validate(); err != nil {
		return Infraction{}, err
	}

	return inf, nil
}
