package infraction

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/gflze/gflbans/internal/audit"
	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/predicate"
	"github.com/gflze/gflbans/pkg/log"
	"github.com/gofrs/uuid/v5"
)

func requirePolicyManager(actor auth.Actor) error {
	if !actor.Has(auth.PermManagePolicy) {
		return fmt.Errorf("%w: managing tiering policies", ErrPermissionDenied)
	}

	return nil
}

func (u Infractions) recordPolicy(ctx context.Context, kind audit.Kind, actor auth.Actor, policy Policy, verb string) {
	if u.auditor == nil {
		return
	}

	entry := audit.NewEntry(kind, actor, fmt.Sprintf("%s %s tiering policy %s", audit.ActorName(actor), verb, policy.Name))
	entry.Target = policy.PolicyID.String()
	entry.Detail["tiers"] = strconv.Itoa(len(policy.Tiers))

	if err := u.auditor.Record(ctx, entry); err != nil {
		slog.Error("Failed to record policy audit entry", log.ErrAttr(err))
	}
}

// RegisterPolicy stores a new tiering policy. Servers may only register policies for themselves.
func (u Infractions) RegisterPolicy(ctx context.Context, actor auth.Actor, req PolicyRequest) (Policy, error) {
	if err := requirePolicyManager(actor); err != nil {
		return Policy{}, err
	}

	if actor.IsServer() {
		req.ServerID = &actor.ServerID
	}

	policy, errPolicy := NewPolicy(req, u.config.Clock())
	if errPolicy != nil {
		return Policy{}, errPolicy
	}

	if err := u.policies.SavePolicy(ctx, policy); err != nil {
		return Policy{}, err
	}

	slog.Info("Registered tiering policy", slog.String("policy_id", policy.PolicyID.String()),
		slog.String("name", policy.Name), slog.String("actor", actor.Name))

	u.recordPolicy(ctx, audit.KindNewPolicy, actor, policy, "registered")

	return policy, nil
}

// UnlinkPolicy detaches a policy from its server. Records created from it keep counting towards tiers.
func (u Infractions) UnlinkPolicy(ctx context.Context, actor auth.Actor, policyID uuid.UUID) error {
	if err := requirePolicyManager(actor); err != nil {
		return err
	}

	policy, errPolicy := u.policies.Policy(ctx, policyID)
	if errPolicy != nil {
		return errPolicy
	}

	if actor.IsServer() && (policy.ServerID == nil || *policy.ServerID != actor.ServerID) {
		return fmt.Errorf("%w: unlinking another server's policy", ErrPermissionDenied)
	}

	policy.ServerID = nil

	if err := u.policies.SavePolicy(ctx, policy); err != nil {
		return err
	}

	slog.Info("Unlinked tiering policy", slog.String("policy_id", policy.PolicyID.String()),
		slog.String("actor", actor.Name))

	u.recordPolicy(ctx, audit.KindUnlinkPolicy, actor, policy, "unlinked")

	return nil
}

func (u Infractions) Policies(ctx context.Context, serverID uuid.UUID) ([]PolicySummary, error) {
	policies, errPolicies := u.policies.Policies(ctx, serverID)
	if errPolicies != nil {
		return nil, errPolicies
	}

	summaries := make([]PolicySummary, len(policies))
	for idx, policy := range policies {
		summaries[idx] = PolicySummary{PolicyID: policy.PolicyID, Name: policy.Name, ServerID: policy.ServerID}
	}

	return summaries, nil
}

// tierCount counts the prior offences of the target under the considered policies, as seen by the server
// the new record will belong to.
func (u Infractions) tierCount(ctx context.Context, actor auth.Actor, policy Policy, opts Opts,
	consider []uuid.UUID,
) (int64, error) {
	viewer := actor
	if opts.ServerID != nil {
		viewer = auth.Actor{
			Kind:          auth.ActorServer,
			ServerID:      *opts.ServerID,
			IgnoreGlobals: actor.IsServer() && actor.ServerID == *opts.ServerID && actor.IgnoreGlobals,
			Name:          actor.Name,
			Permissions:   actor.Permissions,
		}
	}

	now := u.config.Clock()

	base, errBase := CompileQuery(QueryOpts{
		Actor:        viewer,
		Service:      opts.Target.Service,
		UserID:       opts.Target.UserID,
		IP:           opts.Target.IP,
		IgnoreOthers: viewer.IsServer() && !policy.IncludeOtherServers,
		Now:          now,
	})
	if errBase != nil {
		return 0, errBase
	}

	policyIDs := []uuid.UUID{policy.PolicyID}
	for _, policyID := range consider {
		if !slices.Contains(policyIDs, policyID) {
			policyIDs = append(policyIDs, policyID)
		}
	}

	return u.repository.Count(ctx, predicate.AllOf(base, tierClause(policyIDs, policy.TierTTL, now)))
}

// CreateUsingPolicy creates a record from the tier the target has reached under a policy.
func (u Infractions) CreateUsingPolicy(ctx context.Context, actor auth.Actor, req PolicyOpts) (Infraction, error) {
	policy, errPolicy := u.policies.Policy(ctx, req.PolicyID)
	if errPolicy != nil {
		return Infraction{}, errPolicy
	}

	if len(policy.Tiers) == 0 {
		return Infraction{}, fmt.Errorf("%w: policy has no tiers", ErrInvalidArgument)
	}

	opts := Opts{Target: req.Target, Scope: req.Scope, Admin: req.Admin, ServerID: req.ServerID}
	if err := u.prepare(ctx, actor, &opts); err != nil {
		return Infraction{}, err
	}

	count, errCount := u.tierCount(ctx, actor, policy, opts, req.ConsiderPolicies)
	if errCount != nil {
		return Infraction{}, errCount
	}

	tier := policy.TierFor(count)
	tierOpts := tier.opts()
	opts.Punishments = tierOpts.Punishments
	opts.Duration = tierOpts.Duration
	opts.Playtime = tierOpts.Playtime

	opts.Reason = policy.Reason
	if req.Reason != "" {
		opts.Reason = req.Reason
	}

	inf, errNew := New(opts, actor, u.config.Clock())
	if errNew != nil {
		return Infraction{}, errNew
	}

	inf.AutoTier = true
	inf.PolicyID = &policy.PolicyID

	if err := inf.Validate(); err != nil {
		return Infraction{}, err
	}

	slog.Debug("Selected policy tier", slog.String("policy_id", policy.PolicyID.String()),
		slog.Int64("prior", count), slog.String("target", inf.Target.String()))

	if err := u.insert(ctx, actor, inf); err != nil {
		return Infraction{}, err
	}

	return inf, nil
}
