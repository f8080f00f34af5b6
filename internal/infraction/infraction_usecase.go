package infraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/gflze/gflbans/internal/audit"
	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/database/query"
	"github.com/gflze/gflbans/internal/predicate"
	"github.com/gflze/gflbans/internal/vpn"
	"github.com/gflze/gflbans/pkg/log"
	"github.com/gofrs/uuid/v5"
	"github.com/leighmacdonald/steamid/v4/steamid"
)

const (
	defaultSearchLimit = 30
	defaultSyncTimeout = 30 * time.Second
)

type EventKind string

const (
	EventCreated EventKind = "created"
	EventEdited  EventKind = "edited"
	EventRemoved EventKind = "removed"
	EventComment EventKind = "comment"
	EventFile    EventKind = "file"
)

// Event describes a change made to a record, for delivery to staff facing notification channels.
type Event struct {
	Kind       EventKind
	Actor      string
	Infraction Infraction
	Diff       Diff
}

type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// SyncNotifier is told about every change that can alter what a game server enforces.
type SyncNotifier interface {
	OnRecordChanged(ctx context.Context, inf Infraction)
}

// AdminDirectory resolves the permissions of staff members, used for immunity checks.
type AdminDirectory interface {
	Permissions(sid steamid.SteamID) (auth.Permission, bool)
}

type VPNChecker interface {
	Check(ctx context.Context, ip string) (vpn.CheckResult, error)
}

type Auditor interface {
	Record(ctx context.Context, entry audit.Entry) error
}

type Config struct {
	HeartbeatGap   time.Duration
	AltConcurrency int
	// SyncTimeout bounds each background sync triggered by a change.
	SyncTimeout time.Duration
	Clock       func() time.Time
}

// EditOpts mirrors the editable attributes of a record. Unset fields are left unchanged. At most one of
// MakeSession, MakePermanent, Expiration and TimeLeft may be set.
type EditOpts struct {
	// Admin is the staff member making the change.
	Admin      *Author `json:"admin,omitempty"`
	Author     *Author `json:"author,omitempty"`
	MakeSystem bool    `json:"make_system"`

	MakeSession   bool `json:"make_session"`
	MakePermanent bool `json:"make_permanent"`
	// Expiration is the new length in seconds, counted from creation.
	Expiration *int64 `json:"expiration,omitempty"`
	TimeLeft   *int64 `json:"time_left,omitempty"`

	MakeWeb  bool       `json:"make_web"`
	ServerID *uuid.UUID `json:"server,omitempty"`
	Reason   *string    `json:"reason,omitempty"`

	SetRemovalState *bool  `json:"set_removal_state,omitempty"`
	RemovalReason   string `json:"removal_reason,omitempty"`

	Punishments []PunishmentKind `json:"punishments,omitempty"`
	Scope       *Scope           `json:"scope,omitempty"`
	VPN         *bool            `json:"vpn,omitempty"`
}

// Lookup identifies a player and/or ip.
type Lookup struct {
	Service string `json:"gs_service,omitempty" schema:"gs_service" url:"gs_service,omitempty"`
	UserID  string `json:"gs_id,omitempty" schema:"gs_id" url:"gs_id,omitempty"`
	IP      string `json:"ip,omitempty" schema:"ip" url:"ip,omitempty"`
	// IncludeOtherServers is only meaningful for server callers.
	IncludeOtherServers *bool `json:"include_other_servers,omitempty" schema:"include_other_servers" url:"include_other_servers,omitempty"`
}

func (l Lookup) ignoreOthers(actor auth.Actor) bool {
	return actor.IsServer() && l.IncludeOtherServers != nil && !*l.IncludeOtherServers
}

type RemoveOpts struct {
	Player        Lookup           `json:"player"`
	Reason        string           `json:"remove_reason"`
	Admin         *Author          `json:"admin,omitempty"`
	RestrictTypes []PunishmentKind `json:"restrict_types,omitempty"`
}

type RemoveResult struct {
	Removed    int `json:"num_removed"`
	Considered int `json:"num_considered"`
	Skipped    int `json:"num_not_removed"`
}

type CommentOpts struct {
	Admin   *Author `json:"admin,omitempty"`
	Content string  `json:"content"`
	Private bool    `json:"set_private"`
}

type AltQuery struct {
	Seeds  []Seed `json:"seeds"`
	Depth  int    `json:"depth,omitempty"`
	Offset uint64 `json:"skip,omitempty"`
	Limit  uint64 `json:"limit,omitempty"`
}

// SearchResult is a page of matches along with the total match count.
type SearchResult struct {
	Results []Infraction `json:"results"`
	Total   int64        `json:"total_matched"`
	// Unresolved lists computed criteria that were ignored because their lookup failed.
	Unresolved []string `json:"unresolved,omitempty"`
}

type Infractions struct {
	repository Repository
	policies   PolicyRepository
	search     SearchEngine
	admins     AdminDirectory
	vpns       VPNChecker
	auditor    Auditor
	notifier   Notifier
	sync       SyncNotifier
	config     Config
}

// NewInfractions builds the usecase. admins, vpns and auditor are optional.
func NewInfractions(repository Repository, policies PolicyRepository, servers ServerResolver,
	identities IdentityResolver, admins AdminDirectory, vpns VPNChecker, auditor Auditor,
	notifier Notifier, syncNotifier SyncNotifier, config Config,
) Infractions {
	if config.HeartbeatGap <= 0 {
		config.HeartbeatGap = DefaultHeartbeatGap
	}

	if config.AltConcurrency <= 0 {
		config.AltConcurrency = defaultConcurrency
	}

	if config.SyncTimeout <= 0 {
		config.SyncTimeout = defaultSyncTimeout
	}

	if config.Clock == nil {
		config.Clock = time.Now
	}

	return Infractions{
		repository: repository,
		policies:   policies,
		search:     NewSearchEngine(repository, servers, identities),
		admins:     admins,
		vpns:       vpns,
		auditor:    auditor,
		notifier:   notifier,
		sync:       syncNotifier,
		config:     config,
	}
}

// NormalizeIdentity converts steam ids of any format to steam64.
func NormalizeIdentity(service string, userID string) (string, error) {
	if service != ServiceSteam || userID == "" {
		return userID, nil
	}

	sid := steamid.New(userID)
	if !sid.Valid() {
		return "", fmt.Errorf("%w: invalid steam id %q", ErrInvalidArgument, userID)
	}

	return sid.String(), nil
}

func (u Infractions) notify(ctx context.Context, kind EventKind, actor auth.Actor, inf Infraction, diff Diff) {
	if u.notifier != nil {
		u.notifier.Notify(ctx, Event{Kind: kind, Actor: actor.Name, Infraction: inf, Diff: diff})
	}
}

// record writes an audit entry. Audit failures never fail the change itself.
func (u Infractions) record(ctx context.Context, kind audit.Kind, actor auth.Actor, admin *Author, inf Infraction,
	message string, detail map[string]string,
) {
	if u.auditor == nil {
		return
	}

	entry := audit.NewEntry(kind, actor, audit.ActorName(actor)+" "+message)
	entry.Target = inf.InfractionID.String()
	entry.Detail["player"] = inf.Target.String()

	if admin != nil {
		entry = entry.WithAdmin(admin.SteamID, admin.Name)
		entry.Message = admin.String() + " " + message
	}

	for key, value := range detail {
		entry.Detail[key] = value
	}

	if err := u.auditor.Record(ctx, entry); err != nil {
		slog.Error("Failed to record audit entry", log.ErrAttr(err), slog.String("kind", string(kind)))
	}
}

// checkImmunity rejects changes against immune staff unless the acting admin may override immunity.
// Changes made without an acting admin are never blocked.
func (u Infractions) checkImmunity(target Target, admin *Author) error {
	if u.admins == nil || admin == nil || target.Service != ServiceSteam || target.UserID == "" {
		return nil
	}

	targetSID := steamid.New(target.UserID)
	if !targetSID.Valid() {
		return nil
	}

	targetPerms, found := u.admins.Permissions(targetSID)
	if !found || !targetPerms.Has(auth.PermImmune) {
		return nil
	}

	adminPerms, _ := u.admins.Permissions(admin.SteamID)
	if adminPerms.Has(auth.PermSkipImmunity) {
		return nil
	}

	return fmt.Errorf("%w: target is immune", ErrPermissionDenied)
}

// flagVPN marks the new record as a vpn address when the target ip matches a vpn rule. Lookup
// failures are logged and the record is created unflagged.
func (u Infractions) flagVPN(ctx context.Context, opts *Opts) {
	if u.vpns == nil || opts.VPN || opts.Target.IP == "" {
		return
	}

	result, errCheck := u.vpns.Check(ctx, opts.Target.IP)
	if errCheck != nil {
		slog.Warn("Failed to check target ip for vpn", log.ErrAttr(errCheck))

		return
	}

	opts.VPN = result.Flagged()
}

// pushSync runs the sync in the background. It is detached from the request so a client disconnect
// does not cancel it.
func (u Infractions) pushSync(inf Infraction) {
	if u.sync == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), u.config.SyncTimeout)
		defer cancel()

		u.sync.OnRecordChanged(ctx, inf)
	}()
}

// canEdit checks whether the actor, acting as editor, may change a record. Editors may always change
// their own records.
func canEdit(actor auth.Actor, editor *Author, inf Infraction) bool {
	if actor.Has(auth.PermEditAllInfractions) {
		return true
	}

	return actor.Has(auth.PermCreateInfraction) && editor != nil && inf.Admin != nil &&
		editor.SteamID.Int64() == inf.Admin.SteamID.Int64()
}

// prepare normalises the target, resolves the owning server and runs the immunity and vpn checks shared
// by every way of creating a record.
func (u Infractions) prepare(ctx context.Context, actor auth.Actor, opts *Opts) error {
	userID, errID := NormalizeIdentity(opts.Target.Service, opts.Target.UserID)
	if errID != nil {
		return errID
	}

	opts.Target.UserID = userID

	switch {
	case opts.ServerID == nil && actor.IsServer():
		opts.ServerID = &actor.ServerID
	case opts.ServerID != nil && (!actor.IsServer() || *opts.ServerID != actor.ServerID):
		if !actor.Has(auth.PermAssignToServer) {
			return fmt.Errorf("%w: assigning infractions to a server", ErrPermissionDenied)
		}
	}

	if err := u.checkImmunity(opts.Target, opts.Admin); err != nil {
		return err
	}

	u.flagVPN(ctx, opts)

	return nil
}

func (u Infractions) insert(ctx context.Context, actor auth.Actor, inf Infraction) error {
	if err := u.repository.Insert(ctx, inf); err != nil {
		return err
	}

	slog.Info("Created infraction", slog.String("infraction_id", inf.InfractionID.String()),
		slog.String("target", inf.Target.String()), slog.String("actor", actor.Name),
		slog.String("punishments", inf.Punishments.String()))

	detail := map[string]string{"punishments": inf.Punishments.String(), "duration": inf.DurationText()}
	if inf.PolicyID != nil {
		detail["policy_id"] = inf.PolicyID.String()
	}

	u.record(ctx, audit.KindNewInfraction, actor, inf.Admin, inf, "created an infraction against "+inf.Target.String(), detail)
	u.notify(ctx, EventCreated, actor, inf, Diff{})
	u.pushSync(inf)

	return nil
}

func (u Infractions) Create(ctx context.Context, actor auth.Actor, opts Opts) (Infraction, error) {
	if err := u.prepare(ctx, actor, &opts); err != nil {
		return Infraction{}, err
	}

	inf, errNew := New(opts, actor, u.config.Clock())
	if errNew != nil {
		return Infraction{}, errNew
	}

	if err := u.insert(ctx, actor, inf); err != nil {
		return Infraction{}, err
	}

	return inf, nil
}

func (u Infractions) Get(ctx context.Context, actor auth.Actor, infractionID uuid.UUID) (Infraction, error) {
	inf, errGet := u.repository.Get(ctx, infractionID)
	if errGet != nil {
		return Infraction{}, errGet
	}

	return inf.Redacted(actor), nil
}

// apply runs the transitions against a stored record and persists the result as a single write.
func (u Infractions) apply(ctx context.Context, actor auth.Actor, kind EventKind, inf Infraction,
	transitions ...Transition,
) (Infraction, Diff, error) {
	updated, diff, errApply := Apply(inf, actor, transitions...)
	if errApply != nil {
		return Infraction{}, nil, errApply
	}

	if len(diff) == 0 {
		return updated, diff, nil
	}

	updated.UpdatedOn = u.config.Clock()

	if err := u.repository.Update(ctx, updated); err != nil {
		return Infraction{}, nil, err
	}

	u.notify(ctx, kind, actor, updated, diff)

	if diff.AffectsStatus() {
		u.pushSync(updated)
	}

	return updated, diff, nil
}

func durationTransition(inf Infraction, opts EditOpts) (Transition, error) {
	var transitions []Transition

	if opts.MakeSession {
		transitions = append(transitions, SetDurationSession())
	}

	if opts.MakePermanent {
		transitions = append(transitions, SetDurationPermanent())
	}

	if opts.Expiration != nil {
		if *opts.Expiration <= 0 {
			return nil, fmt.Errorf("%w: expiration must be positive", ErrInvalidArgument)
		}

		transitions = append(transitions, SetDurationFixed(inf.Created.Add(time.Duration(*opts.Expiration)*time.Second)))
	}

	if opts.TimeLeft != nil {
		transitions = append(transitions, SetDurationPlaytime(*opts.TimeLeft))
	}

	switch len(transitions) {
	case 0:
		return nil, nil
	case 1:
		return transitions[0], nil
	default:
		return nil, fmt.Errorf("%w: only one duration change is allowed", ErrInvalidArgument)
	}
}

// Edit applies every requested change as a single transition.
func (u Infractions) Edit(ctx context.Context, actor auth.Actor, infractionID uuid.UUID, opts EditOpts) (Infraction, error) { //nolint:cyclop
	inf, errGet := u.repository.Get(ctx, infractionID)
	if errGet != nil {
		return Infraction{}, errGet
	}

	if !canEdit(actor, opts.Admin, inf) {
		return Infraction{}, fmt.Errorf("%w: editing this infraction", ErrPermissionDenied)
	}

	if err := u.checkImmunity(inf.Target, opts.Admin); err != nil {
		return Infraction{}, err
	}

	var transitions []Transition

	switch {
	case opts.MakeSystem:
		transitions = append(transitions, SetAuthor(nil))
	case opts.Author != nil:
		transitions = append(transitions, SetAuthor(opts.Author))
	}

	duration, errDuration := durationTransition(inf, opts)
	if errDuration != nil {
		return Infraction{}, errDuration
	}

	// Punishments are changed first when switching to playtime so a ban can be dropped in the same edit,
	// and last otherwise so a ban can be added while leaving playtime.
	if duration != nil && opts.TimeLeft == nil {
		transitions = append(transitions, duration)
	}

	if opts.Punishments != nil {
		transitions = append(transitions, SetPunishments(opts.Punishments...))
	}

	if duration != nil && opts.TimeLeft != nil {
		transitions = append(transitions, duration)
	}

	switch {
	case opts.MakeWeb:
		transitions = append(transitions, SetServer(nil))
	case opts.ServerID != nil:
		if !actor.Has(auth.PermAssignToServer) {
			return Infraction{}, fmt.Errorf("%w: assigning infractions to a server", ErrPermissionDenied)
		}

		transitions = append(transitions, SetServer(opts.ServerID))
	}

	if opts.Reason != nil {
		transitions = append(transitions, SetReason(*opts.Reason))
	}

	if opts.SetRemovalState != nil {
		if *opts.SetRemovalState {
			transitions = append(transitions, SetRemoved(opts.Admin, opts.RemovalReason, u.config.Clock()))
		} else {
			transitions = append(transitions, Reinstate())
		}
	}

	if opts.Scope != nil {
		transitions = append(transitions, SetScope(*opts.Scope))
	}

	if opts.VPN != nil {
		transitions = append(transitions, SetVPN(*opts.VPN))
	}

	if len(transitions) == 0 {
		return Infraction{}, fmt.Errorf("%w: no changes requested", ErrInvalidArgument)
	}

	updated, diff, errApply := u.apply(ctx, actor, EventEdited, inf, transitions...)
	if errApply != nil {
		return Infraction{}, errApply
	}

	if len(diff) > 0 {
		slog.Info("Edited infraction", slog.String("infraction_id", inf.InfractionID.String()),
			slog.String("actor", actor.Name), slog.String("changes", diff.String()))

		u.record(ctx, audit.KindEditInfraction, actor, opts.Admin, updated, "edited an infraction against "+updated.Target.String(),
			map[string]string{"changes": diff.String()})
	}

	return updated.Redacted(actor), nil
}

// active loads the active records for a player as seen by actor.
func (u Infractions) active(ctx context.Context, actor auth.Actor, lookup Lookup, now time.Time) ([]Infraction, error) {
	userID, errID := NormalizeIdentity(lookup.Service, lookup.UserID)
	if errID != nil {
		return nil, errID
	}

	pred, errPred := CompileQuery(QueryOpts{
		Actor:        actor,
		Service:      lookup.Service,
		UserID:       userID,
		IP:           lookup.IP,
		IgnoreOthers: lookup.ignoreOthers(actor),
		ActiveOnly:   true,
		Now:          now,
	})
	if errPred != nil {
		return nil, errPred
	}

	return u.repository.Find(ctx, pred, query.Filter{})
}

// RemoveByTarget removes every active infraction of a player that the actor may edit. With RestrictTypes,
// only those punishments are lifted and records keeping other punishments stay in force.
func (u Infractions) RemoveByTarget(ctx context.Context, actor auth.Actor, opts RemoveOpts) (RemoveResult, error) {
	if !actor.Has(auth.PermCreateInfraction) && !actor.Has(auth.PermEditAllInfractions) {
		return RemoveResult{}, fmt.Errorf("%w: removing infractions", ErrPermissionDenied)
	}

	restrict, errRestrict := NewPunishments(opts.RestrictTypes...)
	if errRestrict != nil {
		return RemoveResult{}, errRestrict
	}

	now := u.config.Clock()

	records, errFind := u.active(ctx, actor, opts.Player, now)
	if errFind != nil {
		return RemoveResult{}, errFind
	}

	var result RemoveResult

	for _, inf := range records {
		result.Considered++

		if !canEdit(actor, opts.Admin, inf) {
			result.Skipped++

			continue
		}

		transition := SetRemoved(opts.Admin, opts.Reason, now)

		if len(restrict) > 0 {
			var matched Punishments

			for _, kind := range restrict {
				if inf.Punishments.Has(kind) {
					matched = append(matched, kind)
				}
			}

			if len(matched) == 0 {
				result.Skipped++

				continue
			}

			if len(matched) < len(inf.Punishments) {
				remaining := slices.DeleteFunc(slices.Clone(inf.Punishments), matched.Has)
				transition = SetPunishments(remaining...)
			}
		}

		updated, diff, errApply := u.apply(ctx, actor, EventRemoved, inf, transition)
		if errApply != nil {
			slog.Error("Failed to remove infraction", log.ErrAttr(errApply),
				slog.String("infraction_id", inf.InfractionID.String()))

			result.Skipped++

			continue
		}

		// Kinds the actor may not lift are left untouched by SetPunishments.
		if len(diff) == 0 {
			result.Skipped++

			continue
		}

		result.Removed++

		u.record(ctx, audit.KindRemoveInfraction, actor, opts.Admin, updated, "removed an infraction against "+updated.Target.String(),
			map[string]string{"reason": opts.Reason, "changes": diff.String()})
	}

	slog.Info("Removed infractions of player", slog.String("actor", actor.Name),
		slog.Int("removed", result.Removed), slog.Int("skipped", result.Skipped))

	return result, nil
}

func (u Infractions) AddComment(ctx context.Context, actor auth.Actor, infractionID uuid.UUID, opts CommentOpts) (Infraction, error) {
	if !actor.Has(auth.PermComment) {
		return Infraction{}, fmt.Errorf("%w: commenting", ErrPermissionDenied)
	}

	inf, errGet := u.repository.Get(ctx, infractionID)
	if errGet != nil {
		return Infraction{}, errGet
	}

	updated, _, errApply := u.apply(ctx, actor, EventComment, inf, AddComment(Comment{
		Author:  opts.Admin,
		Content: opts.Content,
		Private: opts.Private,
		Created: u.config.Clock(),
	}))
	if errApply != nil {
		return Infraction{}, errApply
	}

	u.record(ctx, audit.KindNewComment, actor, opts.Admin, updated, "commented on an infraction", nil)

	return updated.Redacted(actor), nil
}

// canModerateComment allows moderators to change any comment and authors their own.
func canModerateComment(actor auth.Actor, editor *Author, inf Infraction, index int) bool {
	if actor.Has(auth.PermWebModerator) {
		return true
	}

	if !actor.Has(auth.PermComment) || editor == nil || index < 0 || index >= len(inf.Comments) {
		return false
	}

	author := inf.Comments[index].Author

	return author != nil && author.SteamID.Int64() == editor.SteamID.Int64()
}

func (u Infractions) EditComment(ctx context.Context, actor auth.Actor, infractionID uuid.UUID, index int,
	opts CommentOpts,
) (Infraction, error) {
	inf, errGet := u.repository.Get(ctx, infractionID)
	if errGet != nil {
		return Infraction{}, errGet
	}

	if !canModerateComment(actor, opts.Admin, inf, index) {
		return Infraction{}, fmt.Errorf("%w: editing this comment", ErrPermissionDenied)
	}

	updated, _, errApply := u.apply(ctx, actor, EventComment, inf, EditComment(index, opts.Content, opts.Admin, u.config.Clock()))
	if errApply != nil {
		return Infraction{}, errApply
	}

	u.record(ctx, audit.KindEditComment, actor, opts.Admin, updated, "edited a comment on an infraction",
		map[string]string{"comment": strconv.Itoa(index)})

	return updated.Redacted(actor), nil
}

func (u Infractions) DeleteComment(ctx context.Context, actor auth.Actor, infractionID uuid.UUID, index int,
	editor *Author,
) (Infraction, error) {
	inf, errGet := u.repository.Get(ctx, infractionID)
	if errGet != nil {
		return Infraction{}, errGet
	}

	if !canModerateComment(actor, editor, inf, index) {
		return Infraction{}, fmt.Errorf("%w: deleting this comment", ErrPermissionDenied)
	}

	updated, _, errApply := u.apply(ctx, actor, EventComment, inf, DeleteComment(index))
	if errApply != nil {
		return Infraction{}, errApply
	}

	u.record(ctx, audit.KindDeleteComment, actor, editor, updated, "deleted a comment on an infraction",
		map[string]string{"comment": strconv.Itoa(index)})

	return updated.Redacted(actor), nil
}

// AttachFile records the metadata of a file already written to external storage.
func (u Infractions) AttachFile(ctx context.Context, actor auth.Actor, infractionID uuid.UUID, file File) (Infraction, error) {
	if !actor.Has(auth.PermAttachFile) {
		return Infraction{}, fmt.Errorf("%w: attaching files", ErrPermissionDenied)
	}

	inf, errGet := u.repository.Get(ctx, infractionID)
	if errGet != nil {
		return Infraction{}, errGet
	}

	file.Created = u.config.Clock()

	updated, _, errApply := u.apply(ctx, actor, EventFile, inf, AddFile(file))
	if errApply != nil {
		return Infraction{}, errApply
	}

	u.record(ctx, audit.KindUploadFile, actor, file.Uploader, updated, "attached "+file.Name+" to an infraction", nil)

	return updated.Redacted(actor), nil
}

func (u Infractions) DeleteFile(ctx context.Context, actor auth.Actor, infractionID uuid.UUID, index int) (Infraction, error) {
	if !actor.Has(auth.PermWebModerator) {
		return Infraction{}, fmt.Errorf("%w: deleting files", ErrPermissionDenied)
	}

	inf, errGet := u.repository.Get(ctx, infractionID)
	if errGet != nil {
		return Infraction{}, errGet
	}

	updated, _, errApply := u.apply(ctx, actor, EventFile, inf, DeleteFile(index))
	if errApply != nil {
		return Infraction{}, errApply
	}

	u.record(ctx, audit.KindDeleteFile, actor, nil, updated, "deleted "+inf.Files[index].Name+" from an infraction", nil)

	return updated.Redacted(actor), nil
}

// Check summarises the restrictions currently in force for a player.
func (u Infractions) Check(ctx context.Context, actor auth.Actor, lookup Lookup) (CheckSummary, error) {
	if !actor.Has(auth.PermViewIPAddr) {
		lookup.IP = ""
	}

	records, errFind := u.active(ctx, actor, lookup, u.config.Clock())
	if errFind != nil {
		return CheckSummary{}, errFind
	}

	return Summarize(records, u.config.Clock()), nil
}

func (u Infractions) Stats(ctx context.Context, actor auth.Actor, lookup Lookup) (Stats, error) {
	if !actor.Has(auth.PermViewIPAddr) {
		lookup.IP = ""
	}

	records, errFind := u.active(ctx, actor, lookup, u.config.Clock())
	if errFind != nil {
		return Stats{}, errFind
	}

	return Tally(records), nil
}

func (u Infractions) Search(ctx context.Context, actor auth.Actor, criteria Criteria) (SearchResult, error) {
	if criteria.IP != "" && !actor.Has(auth.PermViewIPAddr) {
		return SearchResult{}, fmt.Errorf("%w: searching by ip", ErrPermissionDenied)
	}

	if criteria.Limit == 0 {
		criteria.Limit = defaultSearchLimit
	}

	criteria.Now = u.config.Clock()

	var result SearchResult

	pred, errCompile := u.search.Compile(ctx, criteria)
	if errCompile != nil {
		var unresolved *UnresolvedError
		if !errors.As(errCompile, &unresolved) {
			return SearchResult{}, errCompile
		}

		result.Unresolved = unresolved.Fields
	}

	total, errCount := u.repository.Count(ctx, pred)
	if errCount != nil {
		return SearchResult{}, errCount
	}

	records, errFind := u.repository.Find(ctx, pred, query.Filter{Offset: criteria.Offset, Limit: criteria.Limit})
	if errFind != nil {
		return SearchResult{}, errFind
	}

	for idx := range records {
		records[idx] = records[idx].Redacted(actor)
	}

	result.Results = records
	result.Total = total

	return result, nil
}

// Alts finds every infraction linked to the seeds through shared identities or addresses.
func (u Infractions) Alts(ctx context.Context, actor auth.Actor, req AltQuery) ([]Infraction, error) {
	if len(req.Seeds) == 0 {
		return nil, fmt.Errorf("%w: at least one ip or identity is required", ErrInvalidArgument)
	}

	if req.Limit > MaxSearchLimit {
		return nil, fmt.Errorf("%w: limit cannot exceed %d", ErrInvalidArgument, MaxSearchLimit)
	}

	seeds := make([]Seed, len(req.Seeds))

	for idx, seed := range req.Seeds {
		if seed.IP != "" && !actor.Has(auth.PermViewIPAddr) {
			return nil, fmt.Errorf("%w: searching by ip", ErrPermissionDenied)
		}

		userID, errID := NormalizeIdentity(seed.Service, seed.UserID)
		if errID != nil {
			return nil, errID
		}

		seed.UserID = userID
		seeds[idx] = seed
	}

	if req.Limit == 0 {
		req.Limit = defaultSearchLimit
	}

	records, errAlts := FindAlts(ctx, u.repository, seeds, AltOpts{
		Depth:       req.Depth,
		Concurrency: u.config.AltConcurrency,
		Offset:      req.Offset,
		Limit:       req.Limit,
	})
	if errAlts != nil {
		return nil, errAlts
	}

	for idx := range records {
		records[idx] = records[idx].Redacted(actor)
	}

	return records, nil
}

// Heartbeat consumes playtime for every online player and returns their current restrictions. Only game
// servers send heartbeats.
func (u Infractions) Heartbeat(ctx context.Context, actor auth.Actor, players []OnlinePlayer) ([]PlayerCheck, error) {
	if !actor.IsServer() {
		return nil, fmt.Errorf("%w: heartbeats are only accepted from servers", ErrPermissionDenied)
	}

	now := u.config.Clock()
	checks := make([]PlayerCheck, 0, len(players))

	for _, player := range players {
		records, errFind := u.active(ctx, actor, Lookup{Service: player.Service, UserID: player.UserID, IP: player.IP}, now)
		if errFind != nil {
			if errors.Is(errFind, ErrInvalidArgument) {
				slog.Warn("Skipping invalid heartbeat player", log.ErrAttr(errFind))

				continue
			}

			return nil, errFind
		}

		var inForce []Infraction

		for _, inf := range records {
			if inf.Duration.Mode == DurationPlaytime && inf.Duration.TimeLeft > 0 {
				updated, _, errApply := Apply(inf, actor, ConsumePlaytime(now, u.config.HeartbeatGap))
				if errApply != nil {
					return nil, errApply
				}

				updated.UpdatedOn = now

				if err := u.repository.Update(ctx, updated); err != nil {
					return nil, err
				}

				if updated.Duration.TimeLeft == 0 {
					u.pushSync(updated)
				}

				inf = updated
			}

			if inf.Active(now) {
				inForce = append(inForce, inf)
			}
		}

		checks = append(checks, PlayerCheck{Player: player, Check: Summarize(inForce, now)})
	}

	return checks, nil
}

// Find exposes predicate queries for collaborators that compile their own.
func (u Infractions) Find(ctx context.Context, pred predicate.Predicate, filter query.Filter) ([]Infraction, error) {
	return u.repository.Find(ctx, pred, filter)
}
