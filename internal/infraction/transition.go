package infraction

import (
	"fmt"
	"strings"
	"time"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gofrs/uuid/v5"
)

const (
	AttrOwner        = "Owner"
	AttrDuration     = "Duration"
	AttrServer       = "Server"
	AttrReason       = "Reason"
	AttrRemoved      = "Removed"
	AttrRestrictions = "Restrictions"
	AttrScope        = "Scope"
	AttrVPN          = "Is VPN?"
	AttrComment      = "Comment"
	AttrFile         = "File"
)

// Change is a single human readable attribute change.
type Change struct {
	Attribute string `json:"attribute"`
	Old       string `json:"old"`
	New       string `json:"new"`
}

type Diff []Change

// AffectsStatus reports whether any change can alter what a game server enforces.
func (d Diff) AffectsStatus() bool {
	for _, change := range d {
		if change.Attribute != AttrComment && change.Attribute != AttrFile {
			return true
		}
	}

	return false
}

func (d Diff) String() string {
	lines := make([]string, len(d))
	for idx, change := range d {
		lines[idx] = fmt.Sprintf("%s: %s -> %s", change.Attribute, change.Old, change.New)
	}

	return strings.Join(lines, "\n")
}

type transitionState struct {
	rec   *Infraction
	actor auth.Actor
	diff  Diff
}

func (s *transitionState) record(attribute string, old string, updated string) {
	s.diff = append(s.diff, Change{Attribute: attribute, Old: old, New: updated})
}

// Transition is a single validated mutation. Transitions are only constructed by this package.
type Transition func(state *transitionState) error

// Apply runs the transitions in order against a copy of rec and re-validates the result. On failure the
// original record is returned untouched along with an empty diff.
func Apply(rec Infraction, actor auth.Actor, transitions ...Transition) (Infraction, Diff, error) {
	working := rec.Clone()
	state := &transitionState{rec: &working, actor: actor}

	for _, transition := range transitions {
		if err := transition(state); err != nil {
			return rec, Diff{}, err
		}
	}

	if err := working.Validate(); err != nil {
		return rec, Diff{}, err
	}

	if state.diff == nil {
		state.diff = Diff{}
	}

	return working, state.diff, nil
}

func setDuration(state *transitionState, duration Duration) {
	old := state.rec.Duration.describe(state.rec.Created)
	updated := duration.describe(state.rec.Created)

	state.rec.Duration = duration

	if old != updated {
		state.record(AttrDuration, old, updated)
	}
}

func SetDurationPermanent() Transition {
	return func(state *transitionState) error {
		setDuration(state, Permanent())

		return nil
	}
}

func SetDurationSession() Transition {
	return func(state *transitionState) error {
		setDuration(state, Session())

		return nil
	}
}

func SetDurationFixed(expires time.Time) Transition {
	return func(state *transitionState) error {
		if !expires.After(state.rec.Created) {
			return fmt.Errorf("%w: expiration must be after the creation time", ErrInvalidArgument)
		}

		setDuration(state, Fixed(expires))

		return nil
	}
}

// SetDurationPlaytime switches to playtime accounting. Playtime already served carries over when the
// record was playtime based before.
func SetDurationPlaytime(seconds int64) Transition {
	return func(state *transitionState) error {
		if seconds <= 0 {
			return fmt.Errorf("%w: playtime duration must be positive", ErrInvalidArgument)
		}

		if state.rec.Punishments.Has(Ban) {
			return fmt.Errorf("%w: a ban cannot be playtime based", ErrInvalidTransition)
		}

		duration := Playtime(seconds)

		current := state.rec.Duration
		if current.Mode == DurationPlaytime && current.OriginalTime > 0 {
			used := current.OriginalTime - current.TimeLeft
			duration.TimeLeft = max(0, seconds-used)
			duration.LastHeartbeat = current.LastHeartbeat
		}

		setDuration(state, duration)

		return nil
	}
}

// SetPunishments replaces the punishment set. Kinds the actor has no permission for keep their current
// state whichever direction was requested.
func SetPunishments(kinds ...PunishmentKind) Transition {
	return func(state *transitionState) error {
		desired, errKinds := NewPunishments(kinds...)
		if errKinds != nil {
			return errKinds
		}

		current := state.rec.Punishments
		result := Punishments{}

		for _, kind := range PunishmentKinds {
			want, have := desired.Has(kind), current.Has(kind)
			if want != have && !state.actor.Has(kind.Permission()) {
				want = have
			}

			if !want {
				continue
			}

			if !have && kind == Ban && state.rec.Duration.Mode == DurationPlaytime {
				return fmt.Errorf("%w: a ban cannot be playtime based", ErrInvalidTransition)
			}

			result = append(result, kind)
		}

		if !result.Equal(current) {
			state.record(AttrRestrictions, current.String(), result.String())
		}

		state.rec.Punishments = result

		return nil
	}
}

func SetRemoved(remover *Author, reason string, removedAt time.Time) Transition {
	return func(state *transitionState) error {
		if state.rec.Removed() {
			return fmt.Errorf("%w: infraction is already removed", ErrInvalidTransition)
		}

		reason = cleanReason(reason)
		if reason == "" || len(reason) > MaxReasonLength {
			return fmt.Errorf("%w: removal reason must be between 1 and %d characters", ErrInvalidArgument, MaxReasonLength)
		}

		state.rec.Removal = &Removal{RemovedAt: removedAt, Remover: remover, Reason: reason}
		state.record(AttrRemoved, "No", "Yes: "+reason)

		return nil
	}
}

func Reinstate() Transition {
	return func(state *transitionState) error {
		if !state.rec.Removed() {
			return fmt.Errorf("%w: infraction is not removed", ErrInvalidTransition)
		}

		state.record(AttrRemoved, "Yes: "+state.rec.Removal.Reason, "No")
		state.rec.Removal = nil

		return nil
	}
}

// SetAuthor changes the owning admin. A nil author marks the record as system issued.
func SetAuthor(author *Author) Transition {
	return func(state *transitionState) error {
		old := state.rec.Admin
		if !sameAuthor(old, author) {
			state.record(AttrOwner, old.String(), author.String())
		}

		state.rec.Admin = author
		state.rec.System = author == nil

		return nil
	}
}

func sameAuthor(left *Author, right *Author) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}

	return left.SteamID.Int64() == right.SteamID.Int64()
}

func SetScope(scope Scope) Transition {
	return func(state *transitionState) error {
		if scope == state.rec.Scope {
			return nil
		}

		if !state.actor.Has(auth.PermScopeGlobal) {
			return fmt.Errorf("%w: changing global scope", ErrPermissionDenied)
		}

		state.record(AttrScope, state.rec.Scope.String(), scope.String())
		state.rec.Scope = scope

		return nil
	}
}

// SetServer changes the owning server. A nil server makes the record a web infraction.
func SetServer(serverID *uuid.UUID) Transition {
	return func(state *transitionState) error {
		old := state.rec.ServerID

		switch {
		case old == nil && serverID == nil:
		case old != nil && serverID != nil && *old == *serverID:
		default:
			state.record(AttrServer, serverLabel(old), serverLabel(serverID))
		}

		state.rec.ServerID = serverID
		state.rec.Web = serverID == nil

		return nil
	}
}

func serverLabel(serverID *uuid.UUID) string {
	if serverID == nil {
		return "Web"
	}

	return serverID.String()
}

func SetReason(reason string) Transition {
	return func(state *transitionState) error {
		reason = cleanReason(reason)
		if reason == "" || len(reason) > MaxReasonLength {
			return fmt.Errorf("%w: reason must be between 1 and %d characters", ErrInvalidArgument, MaxReasonLength)
		}

		if reason != state.rec.Reason {
			state.record(AttrReason, state.rec.Reason, reason)
		}

		state.rec.Reason = reason

		return nil
	}
}

func SetVPN(vpn bool) Transition {
	return func(state *transitionState) error {
		if vpn != state.rec.VPN {
			state.record(AttrVPN, yesNo(state.rec.VPN), yesNo(vpn))
		}

		state.rec.VPN = vpn

		return nil
	}
}

func yesNo(value bool) string {
	if value {
		return "Yes"
	}

	return "No"
}

func validComment(content string) error {
	if content == "" || len(content) > MaxCommentLength {
		return fmt.Errorf("%w: comment must be between 1 and %d characters", ErrInvalidArgument, MaxCommentLength)
	}

	return nil
}

func AddComment(comment Comment) Transition {
	return func(state *transitionState) error {
		comment.Content = strings.TrimSpace(comment.Content)
		if err := validComment(comment.Content); err != nil {
			return err
		}

		if len(state.rec.Comments) >= MaxComments {
			return fmt.Errorf("%w: comment limit of %d reached", ErrInvalidArgument, MaxComments)
		}

		state.rec.Comments = append(state.rec.Comments, comment)
		state.record(AttrComment, "", comment.Content)

		return nil
	}
}

func EditComment(index int, content string, editor *Author, editedAt time.Time) Transition {
	return func(state *transitionState) error {
		if index < 0 || index >= len(state.rec.Comments) {
			return fmt.Errorf("%w: no comment at index %d", ErrInvalidArgument, index)
		}

		content = strings.TrimSpace(content)
		if err := validComment(content); err != nil {
			return err
		}

		comment := &state.rec.Comments[index]
		state.record(AttrComment, comment.Content, content)

		comment.Content = content
		comment.EditData = &EditData{Time: editedAt, Author: editor}

		return nil
	}
}

func DeleteComment(index int) Transition {
	return func(state *transitionState) error {
		if index < 0 || index >= len(state.rec.Comments) {
			return fmt.Errorf("%w: no comment at index %d", ErrInvalidArgument, index)
		}

		state.record(AttrComment, state.rec.Comments[index].Content, "")
		state.rec.Comments = append(state.rec.Comments[:index], state.rec.Comments[index+1:]...)

		return nil
	}
}

func AddFile(file File) Transition {
	return func(state *transitionState) error {
		if file.Name == "" || file.StorageKey == "" {
			return fmt.Errorf("%w: file requires a name and storage key", ErrInvalidArgument)
		}

		if len(state.rec.Files) >= MaxFiles {
			return fmt.Errorf("%w: file limit of %d reached", ErrInvalidArgument, MaxFiles)
		}

		state.rec.Files = append(state.rec.Files, file)
		state.record(AttrFile, "", file.Name)

		return nil
	}
}

func DeleteFile(index int) Transition {
	return func(state *transitionState) error {
		if index < 0 || index >= len(state.rec.Files) {
			return fmt.Errorf("%w: no file at index %d", ErrInvalidArgument, index)
		}

		state.record(AttrFile, state.rec.Files[index].Name, "")
		state.rec.Files = append(state.rec.Files[:index], state.rec.Files[index+1:]...)

		return nil
	}
}
