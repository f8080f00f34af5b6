package infraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gflze/gflbans/internal/identity"
	"github.com/gflze/gflbans/internal/predicate"
	"github.com/gflze/gflbans/pkg/log"
	"github.com/gofrs/uuid/v5"
	"github.com/leighmacdonald/steamid/v4/steamid"
)

const (
	MaxSearchLength = 2048
	MaxSearchLimit  = 50

	// Equality comparisons of derived and timestamp values match within this window.
	equalityTolerance = 60
)

// AdminResolver maps a display name to the ids of every admin who used it.
type AdminResolver interface {
	AdminIDs(ctx context.Context, name string) ([]int64, error)
}

// ServerResolver maps an ip:port address or a server name to server ids.
type ServerResolver interface {
	ResolveServers(ctx context.Context, query string) ([]uuid.UUID, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, hint string) (identity.Identity, error)
}

// Criteria is a structured search. Every set field narrows the results.
type Criteria struct {
	Service       string `json:"gs_service,omitempty"`
	UserID        string `json:"gs_id,omitempty"`
	IP            string `json:"ip,omitempty"`
	Name          string `json:"gs_name,omitempty"`
	Reason        string `json:"reason,omitempty"`
	RemovalReason string `json:"removal_reason,omitempty"`
	AdminID       string `json:"admin_id,omitempty"`
	Admin         string `json:"admin,omitempty"`
	Server        string `json:"server,omitempty"`
	Search        string `json:"search,omitempty"`

	IsActive    *bool `json:"is_active,omitempty"`
	IsExpired   *bool `json:"is_expired,omitempty"`
	IsSystem    *bool `json:"is_system,omitempty"`
	IsGlobal    *bool `json:"is_global,omitempty"`
	IsPermanent *bool `json:"is_permanent,omitempty"`
	IsPlaytime  *bool `json:"is_playtime,omitempty"`
	IsVPN       *bool `json:"is_vpn,omitempty"`
	IsWeb       *bool `json:"is_web,omitempty"`
	IsRemoved   *bool `json:"is_removed,omitempty"`
	IsVoice     *bool `json:"is_voice,omitempty"`
	IsText      *bool `json:"is_text,omitempty"`
	IsBan       *bool `json:"is_ban,omitempty"`
	IsAdminChat *bool `json:"is_admin_chat,omitempty"`
	IsCallAdmin *bool `json:"is_call_admin,omitempty"`
	IsItem      *bool `json:"is_item,omitempty"`
	IsSession   *bool `json:"is_session,omitempty"`

	// Created and Expires are unix timestamps, TimeLeft and Duration are seconds.
	Created            *int64 `json:"created,omitempty"`
	CreatedComparison  string `json:"created_comparison_mode,omitempty"`
	Expires            *int64 `json:"expires,omitempty"`
	ExpiresComparison  string `json:"expires_comparison_mode,omitempty"`
	TimeLeft           *int64 `json:"time_left,omitempty"`
	TimeLeftComparison string `json:"time_left_comparison_mode,omitempty"`
	Duration           *int64 `json:"duration,omitempty"`
	DurationComparison string `json:"duration_comparison_mode,omitempty"`

	Limit  uint64 `json:"limit,omitempty"`
	Offset uint64 `json:"skip,omitempty"`

	Now time.Time `json:"-"`
}

// UnresolvedError is returned alongside a usable predicate when a computed field could not be
// resolved. The listed fields were left out and every other criterion still applies.
type UnresolvedError struct {
	Fields []string
	Err    error
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved search fields %s: %v", strings.Join(e.Fields, ", "), e.Err)
}

func (e *UnresolvedError) Unwrap() error {
	return e.Err
}

func (e *UnresolvedError) add(field string, err error) {
	slog.Warn("Search field could not be resolved, ignoring it", log.ErrAttr(err), slog.String("field", field))

	e.Fields = append(e.Fields, field)
	e.Err = errors.Join(e.Err, fmt.Errorf("%s: %w", field, err))
}

type SearchEngine struct {
	admins     AdminResolver
	servers    ServerResolver
	identities IdentityResolver
}

func NewSearchEngine(admins AdminResolver, servers ServerResolver, identities IdentityResolver) SearchEngine {
	return SearchEngine{admins: admins, servers: servers, identities: identities}
}

// Compile turns the criteria into a single predicate. Empty criteria match everything. When only the
// admin or server lookups fail the predicate is still returned, with an *UnresolvedError.
func (e SearchEngine) Compile(ctx context.Context, criteria Criteria) (predicate.Predicate, error) { //nolint:cyclop
	if len(criteria.Search) > MaxSearchLength {
		return nil, fmt.Errorf("%w: search text exceeds %d characters", ErrInvalidArgument, MaxSearchLength)
	}

	if criteria.Limit > MaxSearchLimit {
		return nil, fmt.Errorf("%w: limit cannot exceed %d", ErrInvalidArgument, MaxSearchLimit)
	}

	now := criteria.Now
	if now.IsZero() {
		now = time.Now()
	}

	var clauses []predicate.Predicate

	for _, entry := range []struct {
		field predicate.Field
		value string
		exact bool
	}{
		{FieldService, criteria.Service, true},
		{FieldUserID, criteria.UserID, true},
		{FieldIP, criteria.IP, true},
		{FieldName, criteria.Name, false},
		{FieldReason, criteria.Reason, false},
		{FieldRemovalReason, criteria.RemovalReason, false},
	} {
		switch {
		case entry.value == "":
		case entry.exact:
			clauses = append(clauses, predicate.Eq{Field: entry.field, Value: entry.value})
		default:
			clauses = append(clauses, predicate.Contains{Field: entry.field, Text: entry.value})
		}
	}

	if criteria.AdminID != "" {
		sid := steamid.New(criteria.AdminID)
		if !sid.Valid() {
			return nil, fmt.Errorf("%w: invalid admin_id", ErrInvalidArgument)
		}

		clauses = append(clauses, predicate.Eq{Field: FieldAdminID, Value: sid.Int64()})
	}

	var unresolved UnresolvedError

	if criteria.Admin != "" {
		adminIDs, errAdmins := e.admins.AdminIDs(ctx, criteria.Admin)
		if errAdmins != nil {
			unresolved.add("admin", errAdmins)
		} else {
			values := make([]any, len(adminIDs))
			for idx, adminID := range adminIDs {
				values[idx] = adminID
			}

			clauses = append(clauses, predicate.In{Field: FieldAdminID, Values: values})
		}
	}

	if criteria.Server != "" {
		serverIDs, errServers := e.servers.ResolveServers(ctx, criteria.Server)
		if errServers != nil {
			unresolved.add("server", errServers)
		} else {
			values := make([]any, len(serverIDs))
			for idx, serverID := range serverIDs {
				values[idx] = serverID
			}

			clauses = append(clauses, predicate.In{Field: FieldServer, Values: values})
		}
	}

	if criteria.Search != "" {
		clauses = append(clauses, e.freeText(ctx, criteria.Search))
	}

	flagClauses, errFlags := compileFlags(criteria, now)
	if errFlags != nil {
		return nil, errFlags
	}

	clauses = append(clauses, flagClauses...)

	numeric, errNumeric := compileNumeric(criteria)
	if errNumeric != nil {
		return nil, errNumeric
	}

	clauses = append(clauses, numeric...)

	if len(unresolved.Fields) > 0 {
		return predicate.AllOf(clauses...), &unresolved
	}

	return predicate.AllOf(clauses...), nil
}

// freeText matches a resolved steam identity, or falls back to substring matching when the text does
// not resolve.
func (e SearchEngine) freeText(ctx context.Context, text string) predicate.Predicate {
	fallback := predicate.AnyOf(
		predicate.Contains{Field: FieldUserID, Text: text},
		predicate.Contains{Field: FieldName, Text: text},
		predicate.Contains{Field: FieldReason, Text: text},
		predicate.Contains{Field: FieldRemovalReason, Text: text},
	)

	if e.identities == nil {
		return fallback
	}

	ident, errResolve := e.identities.Resolve(ctx, text)
	if errResolve != nil {
		if !errors.Is(errResolve, identity.ErrNotFound) {
			slog.Warn("Identity lookup failed, using text search", log.ErrAttr(errResolve), slog.String("search", text))
		}

		return fallback
	}

	return predicate.And{
		predicate.Eq{Field: FieldService, Value: ident.Service},
		predicate.Eq{Field: FieldUserID, Value: ident.UserID},
	}
}

func compileFlags(criteria Criteria, now time.Time) ([]predicate.Predicate, error) {
	var (
		set, unset Flag
		clauses    []predicate.Predicate
	)

	for _, entry := range []struct {
		value *bool
		flag  Flag
	}{
		{criteria.IsSystem, FlagSystem},
		{criteria.IsGlobal, FlagGlobal},
		{criteria.IsPermanent, FlagPermanent},
		{criteria.IsPlaytime, FlagPlaytime},
		{criteria.IsVPN, FlagVPN},
		{criteria.IsWeb, FlagWeb},
		{criteria.IsRemoved, FlagRemoved},
		{criteria.IsVoice, FlagVoiceBlock},
		{criteria.IsText, FlagChatBlock},
		{criteria.IsBan, FlagBan},
		{criteria.IsAdminChat, FlagAdminChatBlock},
		{criteria.IsCallAdmin, FlagCallAdminBlock},
		{criteria.IsItem, FlagItemBlock},
		{criteria.IsSession, FlagSession},
	} {
		switch {
		case entry.value == nil:
		case *entry.value:
			set |= entry.flag
		default:
			unset |= entry.flag
		}
	}

	if set&unset != 0 {
		return nil, fmt.Errorf("%w: contradictory flag criteria", ErrInvalidArgument)
	}

	if set != 0 {
		clauses = append(clauses, hasFlags(set))
	}

	if unset != 0 {
		clauses = append(clauses, lacksFlags(unset))
	}

	if criteria.IsActive != nil {
		if *criteria.IsActive {
			clauses = append(clauses, activeClause(now))
		} else {
			clauses = append(clauses, predicate.Not{Predicate: activeClause(now)})
		}
	}

	if criteria.IsExpired != nil {
		if *criteria.IsExpired {
			clauses = append(clauses, predicate.Not{Predicate: activeClause(now)})
		} else {
			clauses = append(clauses, activeClause(now))
		}
	}

	return clauses, nil
}

func parseComparison(mode string) (predicate.Op, error) {
	if mode == "" {
		return predicate.OpEq, nil
	}

	op, err := predicate.ParseOp(mode)
	if err != nil {
		return op, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return op, nil
}

// compareValue compares a nullable field, widening equality into the tolerance window.
func compareValue(field predicate.Field, op predicate.Op, value any, lower any, upper any) predicate.Predicate {
	guard := predicate.NotNull{Field: field}

	if op == predicate.OpEq {
		return predicate.And{
			guard,
			predicate.Compare{Field: field, Op: predicate.OpGte, Value: lower},
			predicate.Compare{Field: field, Op: predicate.OpLte, Value: upper},
		}
	}

	return predicate.And{guard, predicate.Compare{Field: field, Op: op, Value: value}}
}

func compileNumeric(criteria Criteria) ([]predicate.Predicate, error) {
	var clauses []predicate.Predicate

	if criteria.Created != nil {
		op, err := parseComparison(criteria.CreatedComparison)
		if err != nil {
			return nil, err
		}

		clauses = append(clauses, compareValue(FieldCreated, op, time.Unix(*criteria.Created, 0),
			time.Unix(*criteria.Created-equalityTolerance, 0), time.Unix(*criteria.Created+equalityTolerance, 0)))
	}

	if criteria.Expires != nil {
		op, err := parseComparison(criteria.ExpiresComparison)
		if err != nil {
			return nil, err
		}

		clauses = append(clauses, compareValue(FieldExpires, op, time.Unix(*criteria.Expires, 0),
			time.Unix(*criteria.Expires-equalityTolerance, 0), time.Unix(*criteria.Expires+equalityTolerance, 0)))
	}

	if criteria.TimeLeft != nil {
		op, err := parseComparison(criteria.TimeLeftComparison)
		if err != nil {
			return nil, err
		}

		clauses = append(clauses, predicate.AllOf(hasFlags(FlagPlaytime), compareValue(FieldTimeLeft, op, *criteria.TimeLeft,
			*criteria.TimeLeft-equalityTolerance, *criteria.TimeLeft+equalityTolerance)))
	}

	if criteria.Duration != nil {
		op, err := parseComparison(criteria.DurationComparison)
		if err != nil {
			return nil, err
		}

		clauses = append(clauses, durationClause(op, *criteria.Duration))
	}

	return clauses, nil
}

// durationClause compares the derived length of a record. Fixed records derive it from expires - created
// and playtime records from original_time. Permanent records satisfy every greater-than comparison and
// session records every less-than comparison.
func durationClause(op predicate.Op, seconds int64) predicate.Predicate {
	var fixedSpan predicate.Predicate

	if op == predicate.OpEq {
		fixedSpan = predicate.And{
			predicate.Span{End: FieldExpires, Start: FieldCreated, Op: predicate.OpGte, Seconds: seconds - equalityTolerance},
			predicate.Span{End: FieldExpires, Start: FieldCreated, Op: predicate.OpLte, Seconds: seconds + equalityTolerance},
		}
	} else {
		fixedSpan = predicate.Span{End: FieldExpires, Start: FieldCreated, Op: op, Seconds: seconds}
	}

	arms := []predicate.Predicate{
		predicate.AllOf(
			lacksFlags(FlagPermanent|FlagSession|FlagPlaytime),
			predicate.NotNull{Field: FieldExpires},
			fixedSpan,
		),
		predicate.AllOf(
			hasFlags(FlagPlaytime),
			compareValue(FieldOriginalTime, op, seconds, seconds-equalityTolerance, seconds+equalityTolerance),
		),
	}

	switch op {
	case predicate.OpGt, predicate.OpGte:
		arms = append(arms, hasFlags(FlagPermanent))
	case predicate.OpLt, predicate.OpLte:
		arms = append(arms, hasFlags(FlagSession))
	case predicate.OpEq:
	}

	return predicate.AnyOf(arms...)
}
