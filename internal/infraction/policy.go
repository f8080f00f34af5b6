package infraction

import (
	"context"
	"fmt"
	"time"

	"github.com/gflze/gflbans/internal/predicate"
	"github.com/gofrs/uuid/v5"
)

const maxPolicyNameLength = 120

// Tier is one step of a tiering policy. A zero Duration is permanent.
type Tier struct {
	Punishments []PunishmentKind `json:"punishments"`
	Duration    int64            `json:"duration"`
	Playtime    bool             `json:"dec_online"`
}

// Policy escalates repeat offences. Each prior auto tiered record created under the considered policies
// within TierTTL moves the player one tier up.
type Policy struct {
	PolicyID            uuid.UUID  `json:"policy_id"`
	Name                string     `json:"name"`
	ServerID            *uuid.UUID `json:"server,omitempty"`
	Tiers               []Tier     `json:"tiers"`
	IncludeOtherServers bool       `json:"include_other_servers"`
	// TierTTL is in seconds.
	TierTTL int64     `json:"tier_ttl"`
	Reason  string    `json:"default_reason"`
	Created time.Time `json:"created"`
}

// PolicyRepository persists tiering policies.
type PolicyRepository interface {
	SavePolicy(ctx context.Context, policy Policy) error
	Policy(ctx context.Context, policyID uuid.UUID) (Policy, error)
	Policies(ctx context.Context, serverID uuid.UUID) ([]Policy, error)
}

type PolicyRequest struct {
	Name                string     `json:"name"`
	ServerID            *uuid.UUID `json:"server,omitempty"`
	Tiers               []Tier     `json:"tiers"`
	IncludeOtherServers *bool      `json:"include_other_servers,omitempty"`
	TierTTL             int64      `json:"tier_ttl"`
	Reason              string     `json:"default_reason"`
}

// PolicyOpts creates a record from the tier the target has reached.
type PolicyOpts struct {
	Target   Target    `json:"player"`
	Scope    Scope     `json:"scope"`
	PolicyID uuid.UUID `json:"policy_id"`
	Admin    *Author   `json:"admin,omitempty"`
	// Reason overrides the policy's default reason when set.
	Reason string `json:"reason,omitempty"`
	// ConsiderPolicies are the policies whose records count towards the tier. The applied policy
	// always counts.
	ConsiderPolicies []uuid.UUID `json:"consider_other_policies,omitempty"`
	ServerID         *uuid.UUID  `json:"server,omitempty"`
}

type PolicyRef struct {
	PolicyID uuid.UUID `json:"policy_id"`
}

type PolicySummary struct {
	PolicyID uuid.UUID  `json:"pol_id"`
	Name     string     `json:"name"`
	ServerID *uuid.UUID `json:"server,omitempty"`
}

func (t Tier) validate() error {
	punishments, errPunishments := NewPunishments(t.Punishments...)
	if errPunishments != nil {
		return errPunishments
	}

	if t.Duration < 0 {
		return fmt.Errorf("%w: tier duration cannot be negative", ErrInvalidArgument)
	}

	if t.Playtime && t.Duration == 0 {
		return fmt.Errorf("%w: playtime tiers require a duration", ErrInvalidArgument)
	}

	if t.Playtime && punishments.Has(Ban) {
		return fmt.Errorf("%w: a ban cannot be playtime based", ErrInvalidTransition)
	}

	return nil
}

// opts converts the tier into creation options.
func (t Tier) opts() Opts {
	opts := Opts{Punishments: t.Punishments, Playtime: t.Playtime}

	if t.Duration > 0 {
		duration := t.Duration
		opts.Duration = &duration
	}

	return opts
}

// NewPolicy validates a request and builds an unsaved policy.
func NewPolicy(req PolicyRequest, now time.Time) (Policy, error) {
	if req.Name == "" || len(req.Name) > maxPolicyNameLength {
		return Policy{}, fmt.Errorf("%w: name must be between 1 and %d characters", ErrInvalidArgument, maxPolicyNameLength)
	}

	reason := cleanReason(req.Reason)
	if reason == "" || len(reason) > MaxReasonLength {
		return Policy{}, fmt.Errorf("%w: reason must be between 1 and %d characters", ErrInvalidArgument, MaxReasonLength)
	}

	if req.TierTTL <= 0 {
		return Policy{}, fmt.Errorf("%w: tier_ttl must be positive", ErrInvalidArgument)
	}

	if len(req.Tiers) == 0 {
		return Policy{}, fmt.Errorf("%w: at least one tier is required", ErrInvalidArgument)
	}

	for idx, tier := range req.Tiers {
		if err := tier.validate(); err != nil {
			return Policy{}, fmt.Errorf("tier %d: %w", idx, err)
		}
	}

	policyID, errID := uuid.NewV7()
	if errID != nil {
		return Policy{}, fmt.Errorf("failed to generate policy id: %w", errID)
	}

	includeOthers := true
	if req.IncludeOtherServers != nil {
		includeOthers = *req.IncludeOtherServers
	}

	return Policy{
		PolicyID:            policyID,
		Name:                req.Name,
		ServerID:            req.ServerID,
		Tiers:               req.Tiers,
		IncludeOtherServers: includeOthers,
		TierTTL:             req.TierTTL,
		Reason:              reason,
		Created:             now,
	}, nil
}

// TierFor picks the tier reached after count prior offences. Offences past the last tier stay on it.
func (p Policy) TierFor(count int64) Tier {
	if count >= int64(len(p.Tiers)) {
		return p.Tiers[len(p.Tiers)-1]
	}

	return p.Tiers[count]
}

func punishmentMask() Flag {
	var mask Flag
	for _, kind := range PunishmentKinds {
		mask |= kind.Flag()
	}

	return mask
}

// tierClause selects the prior auto tiered records counting towards a policy. Expired warnings do not
// count, expired punishments do.
func tierClause(policyIDs []uuid.UUID, ttl int64, now time.Time) predicate.Predicate {
	values := make([]any, len(policyIDs))
	for idx, policyID := range policyIDs {
		values[idx] = policyID
	}

	return predicate.AllOf(
		hasFlags(FlagAutoTier),
		lacksFlags(FlagSession|FlagRemoved),
		predicate.In{Field: FieldPolicyID, Values: values},
		predicate.Compare{Field: FieldCreated, Op: predicate.OpGte, Value: now.Add(-time.Duration(ttl) * time.Second)},
		predicate.AnyOf(
			predicate.BitsAnySet{Field: FieldFlags, Mask: uint64(punishmentMask())},
			inForce(now),
		),
	)
}
