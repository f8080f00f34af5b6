// Package infraction implements the infraction record, its validated transitions, and the query, search
// and alt-account compilers used to find records in a Repository.
package infraction

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gflze/gflbans/internal/auth"
	"github.com/gofrs/uuid/v5"
	"github.com/leighmacdonald/steamid/v4/steamid"
)

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrPermissionDenied  = errors.New("permission denied")
)

const (
	MaxReasonLength  = 280
	MaxCommentLength = 280
	MaxComments      = 255
	MaxFiles         = 255

	// ServiceSteam is the only service with a built-in identity resolver.
	ServiceSteam = "steam"

	// Expirations further away than this are displayed as permanent.
	maxExpiration = time.Hour * 24 * 365 * 100
)

type PunishmentKind string

const (
	VoiceBlock     PunishmentKind = "voice_block"
	ChatBlock      PunishmentKind = "chat_block"
	Ban            PunishmentKind = "ban"
	AdminChatBlock PunishmentKind = "admin_chat_block"
	CallAdminBlock PunishmentKind = "call_admin_block"
	ItemBlock      PunishmentKind = "item_block"
)

// PunishmentKinds lists every kind in canonical order.
var PunishmentKinds = []PunishmentKind{VoiceBlock, ChatBlock, Ban, AdminChatBlock, CallAdminBlock, ItemBlock} //nolint:gochecknoglobals

func (k PunishmentKind) Valid() bool {
	return slices.Contains(PunishmentKinds, k)
}

// Permission is what an actor requires to add or remove this kind.
func (k PunishmentKind) Permission() auth.Permission {
	switch k {
	case VoiceBlock:
		return auth.PermBlockVoice
	case ChatBlock:
		return auth.PermBlockChat
	case Ban:
		return auth.PermBan
	case AdminChatBlock:
		return auth.PermAdminChatBlock
	case CallAdminBlock:
		return auth.PermCallAdminBlock
	case ItemBlock:
		return auth.PermBlockItems
	default:
		return auth.PermAll
	}
}

func (k PunishmentKind) Label() string {
	switch k {
	case VoiceBlock:
		return "Voice Block"
	case ChatBlock:
		return "Chat Block"
	case Ban:
		return "Ban"
	case AdminChatBlock:
		return "Admin Chat Block"
	case CallAdminBlock:
		return "Call Admin Block"
	case ItemBlock:
		return "Item Block"
	default:
		return string(k)
	}
}

// Punishments is a de-duplicated set of kinds kept in canonical order. An empty set is a warning.
type Punishments []PunishmentKind

// NewPunishments validates and normalises the kinds.
func NewPunishments(kinds ...PunishmentKind) (Punishments, error) {
	out := Punishments{}

	for _, kind := range kinds {
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: unknown punishment %q", ErrInvalidArgument, kind)
		}

		out = out.With(kind)
	}

	return out, nil
}

func (p Punishments) Has(kind PunishmentKind) bool {
	return slices.Contains(p, kind)
}

// With returns a new set including kind.
func (p Punishments) With(kind PunishmentKind) Punishments {
	if p.Has(kind) {
		return slices.Clone(p)
	}

	out := Punishments{}
	for _, known := range PunishmentKinds {
		if known == kind || p.Has(known) {
			out = append(out, known)
		}
	}

	return out
}

// Without returns a new set excluding kind.
func (p Punishments) Without(kind PunishmentKind) Punishments {
	out := Punishments{}
	for _, known := range p {
		if known != kind {
			out = append(out, known)
		}
	}

	return out
}

func (p Punishments) IsWarning() bool {
	return len(p) == 0
}

func (p Punishments) Equal(other Punishments) bool {
	if len(p) != len(other) {
		return false
	}

	for _, kind := range p {
		if !other.Has(kind) {
			return false
		}
	}

	return true
}

func (p Punishments) String() string {
	if p.IsWarning() {
		return "Warning"
	}

	labels := make([]string, len(p))
	for idx, kind := range p {
		labels[idx] = kind.Label()
	}

	return strings.Join(labels, ", ")
}

type DurationMode int

const (
	DurationPermanent DurationMode = iota
	DurationSession
	DurationFixed
	DurationPlaytime
)

func (m DurationMode) String() string {
	switch m {
	case DurationSession:
		return "session"
	case DurationFixed:
		return "fixed"
	case DurationPlaytime:
		return "playtime"
	default:
		return "permanent"
	}
}

func (m DurationMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *DurationMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "permanent":
		*m = DurationPermanent
	case "session":
		*m = DurationSession
	case "fixed":
		*m = DurationFixed
	case "playtime":
		*m = DurationPlaytime
	default:
		return fmt.Errorf("%w: unknown duration mode %q", ErrInvalidArgument, string(text))
	}

	return nil
}

// Duration is a tagged union over the four duration modes. Only the fields belonging to Mode may be set.
type Duration struct {
	Mode DurationMode `json:"mode"`
	// Expires is used by DurationFixed.
	Expires *time.Time `json:"expires,omitempty"`
	// TimeLeft and OriginalTime are seconds, used by DurationPlaytime.
	TimeLeft      int64      `json:"time_left,omitempty"`
	OriginalTime  int64      `json:"original_time,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

func Permanent() Duration {
	return Duration{Mode: DurationPermanent}
}

func Session() Duration {
	return Duration{Mode: DurationSession}
}

func Fixed(expires time.Time) Duration {
	return Duration{Mode: DurationFixed, Expires: &expires}
}

func Playtime(seconds int64) Duration {
	return Duration{Mode: DurationPlaytime, TimeLeft: seconds, OriginalTime: seconds}
}

func (d Duration) Validate() error {
	switch d.Mode {
	case DurationPermanent, DurationSession:
		if d.Expires != nil || d.TimeLeft != 0 || d.OriginalTime != 0 || d.LastHeartbeat != nil {
			return fmt.Errorf("%w: %s duration carries fields of another mode", ErrInvalidTransition, d.Mode)
		}
	case DurationFixed:
		if d.Expires == nil {
			return fmt.Errorf("%w: fixed duration requires an expiration", ErrInvalidTransition)
		}

		if d.TimeLeft != 0 || d.OriginalTime != 0 || d.LastHeartbeat != nil {
			return fmt.Errorf("%w: fixed duration carries playtime fields", ErrInvalidTransition)
		}
	case DurationPlaytime:
		if d.Expires != nil {
			return fmt.Errorf("%w: playtime duration carries an expiration", ErrInvalidTransition)
		}

		if d.TimeLeft < 0 || d.OriginalTime < 0 || d.TimeLeft > d.OriginalTime {
			return fmt.Errorf("%w: playtime requires 0 <= time_left <= original_time", ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("%w: unknown duration mode", ErrInvalidTransition)
	}

	return nil
}

// InForce reports whether the duration still applies. Session infractions are only enforced by the
// server that issued them and are never in force from the point of view of the record store.
func (d Duration) InForce(now time.Time) bool {
	switch d.Mode {
	case DurationPermanent:
		return true
	case DurationFixed:
		return d.Expires != nil && d.Expires.After(now)
	case DurationPlaytime:
		return d.TimeLeft > 0
	default:
		return false
	}
}

// Length is the total configured length in seconds for fixed and playtime durations.
func (d Duration) Length(created time.Time) (int64, bool) {
	switch d.Mode {
	case DurationFixed:
		if d.Expires == nil {
			return 0, false
		}

		return int64(d.Expires.Sub(created).Seconds()), true
	case DurationPlaytime:
		return d.OriginalTime, true
	default:
		return 0, false
	}
}

func (d Duration) describe(created time.Time) string {
	switch d.Mode {
	case DurationPermanent:
		return "Permanent"
	case DurationSession:
		return "Session"
	case DurationPlaytime:
		return fmt.Sprintf("%s (playtime, %s left)", humanSeconds(d.OriginalTime), humanSeconds(d.TimeLeft))
	default:
		if d.Expires == nil {
			return "Unknown"
		}

		length, _ := d.Length(created)

		return fmt.Sprintf("%s (until %s)", humanSeconds(length), d.Expires.UTC().Format(time.RFC3339))
	}
}

func humanSeconds(seconds int64) string {
	if seconds <= 0 {
		return "0 seconds"
	}

	base := time.Unix(0, 0)

	return strings.TrimSpace(humanize.RelTime(base, base.Add(time.Duration(seconds)*time.Second), "", ""))
}

type Scope int

const (
	ScopeServer Scope = iota
	ScopeGlobal
)

func (s Scope) String() string {
	if s == ScopeGlobal {
		return "global"
	}

	return "server"
}

func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Scope) UnmarshalText(text []byte) error {
	scope, err := ParseScope(string(text))
	if err != nil {
		return err
	}

	*s = scope

	return nil
}

func ParseScope(value string) (Scope, error) {
	switch value {
	case "server":
		return ScopeServer, nil
	case "global":
		return ScopeGlobal, nil
	default:
		return ScopeServer, fmt.Errorf("%w: unknown scope %q", ErrInvalidArgument, value)
	}
}

// Target is who an infraction applies to: a game service identity, an IP address, or both.
type Target struct {
	Service string `json:"gs_service,omitempty"`
	UserID  string `json:"gs_id,omitempty"`
	Name    string `json:"gs_name,omitempty"`
	IP      string `json:"ip,omitempty"`
}

func (t Target) HasIdentity() bool {
	return t.Service != "" && t.UserID != ""
}

func (t Target) HasIP() bool {
	return t.IP != ""
}

func (t Target) Validate() error {
	if (t.Service == "") != (t.UserID == "") {
		return fmt.Errorf("%w: gs_service and gs_id must be provided together", ErrInvalidArgument)
	}

	if !t.HasIdentity() && !t.HasIP() {
		return fmt.Errorf("%w: a target requires an identity, an ip or both", ErrInvalidArgument)
	}

	return nil
}

func (t Target) String() string {
	switch {
	case t.HasIdentity() && t.Name != "":
		return fmt.Sprintf("%s (%s/%s)", t.Name, t.Service, t.UserID)
	case t.HasIdentity():
		return t.Service + "/" + t.UserID
	default:
		return t.IP
	}
}

// Author references a staff member. Staff accounts are owned by an external directory so only the
// identifying fields are kept.
type Author struct {
	SteamID steamid.SteamID `json:"steam_id"`
	Name    string          `json:"name"`
}

func (a *Author) String() string {
	if a == nil {
		return "SYSTEM"
	}

	if a.Name != "" {
		return a.Name
	}

	return a.SteamID.String()
}

func (a *Author) clone() *Author {
	if a == nil {
		return nil
	}

	author := *a

	return &author
}

type Removal struct {
	RemovedAt time.Time `json:"removed_at"`
	Remover   *Author   `json:"remover,omitempty"`
	Reason    string    `json:"reason"`
}

type EditData struct {
	Time   time.Time `json:"time"`
	Author *Author   `json:"author,omitempty"`
}

type Comment struct {
	Author   *Author   `json:"author,omitempty"`
	Content  string    `json:"content"`
	Private  bool      `json:"private"`
	Created  time.Time `json:"created"`
	EditData *EditData `json:"edit_data,omitempty"`
}

func (c Comment) clone() Comment {
	c.Author = c.Author.clone()

	if c.EditData != nil {
		edit := *c.EditData
		edit.Author = c.EditData.Author.clone()
		c.EditData = &edit
	}

	return c
}

// File is attachment metadata. File contents live in external storage under StorageKey.
type File struct {
	Name       string    `json:"name"`
	StorageKey string    `json:"storage_key"`
	Uploader   *Author   `json:"uploader,omitempty"`
	Private    bool      `json:"private"`
	Created    time.Time `json:"created"`
}

func (f File) clone() File {
	f.Uploader = f.Uploader.clone()

	return f
}

type Infraction struct {
	InfractionID uuid.UUID   `json:"infraction_id"`
	Target       Target      `json:"player"`
	Punishments  Punishments `json:"punishments"`
	Duration     Duration    `json:"duration"`
	Scope        Scope       `json:"scope"`
	System       bool        `json:"system"`
	Web          bool        `json:"web"`
	VPN          bool        `json:"vpn"`
	AutoTier     bool        `json:"auto_tier"`
	PolicyID     *uuid.UUID  `json:"policy_id,omitempty"`
	Removal      *Removal    `json:"removal,omitempty"`
	Created      time.Time   `json:"created"`
	ServerID     *uuid.UUID  `json:"server_id,omitempty"`
	Admin        *Author     `json:"admin,omitempty"`
	Reason       string      `json:"reason"`
	Comments     []Comment   `json:"comments"`
	Files        []File      `json:"files"`
	UpdatedOn    time.Time   `json:"updated_on"`
}

func (inf Infraction) Removed() bool {
	return inf.Removal != nil
}

// Active mirrors the ActiveOnly clause of CompileQuery for a single record.
func (inf Infraction) Active(now time.Time) bool {
	if inf.Removed() || !inf.Duration.InForce(now) {
		return false
	}

	if inf.VPN && !inf.Target.HasIdentity() {
		return false
	}

	return true
}

// Validate checks every record invariant.
func (inf Infraction) Validate() error {
	if err := inf.Target.Validate(); err != nil {
		return err
	}

	if err := inf.Duration.Validate(); err != nil {
		return err
	}

	if inf.Punishments.Has(Ban) && inf.Duration.Mode == DurationPlaytime {
		return fmt.Errorf("%w: a ban cannot be playtime based", ErrInvalidTransition)
	}

	if inf.Reason == "" || len(inf.Reason) > MaxReasonLength {
		return fmt.Errorf("%w: reason must be between 1 and %d characters", ErrInvalidArgument, MaxReasonLength)
	}

	if len(inf.Comments) > MaxComments {
		return fmt.Errorf("%w: too many comments", ErrInvalidArgument)
	}

	if len(inf.Files) > MaxFiles {
		return fmt.Errorf("%w: too many files", ErrInvalidArgument)
	}

	if inf.System != (inf.Admin == nil) {
		return fmt.Errorf("%w: system flag must match the absence of an admin", ErrInvalidTransition)
	}

	if inf.Web != (inf.ServerID == nil) {
		return fmt.Errorf("%w: web flag must match the absence of a server", ErrInvalidTransition)
	}

	if inf.PolicyID != nil && !inf.AutoTier {
		return fmt.Errorf("%w: a policy record must be auto tiered", ErrInvalidTransition)
	}

	return nil
}

// Clone returns a deep copy so transitions never alias the caller's record.
func (inf Infraction) Clone() Infraction {
	out := inf
	out.Punishments = slices.Clone(inf.Punishments)
	out.Comments = cloneSlice(inf.Comments, Comment.clone)
	out.Files = cloneSlice(inf.Files, File.clone)

	if inf.Duration.Expires != nil {
		expires := *inf.Duration.Expires
		out.Duration.Expires = &expires
	}

	if inf.Duration.LastHeartbeat != nil {
		beat := *inf.Duration.LastHeartbeat
		out.Duration.LastHeartbeat = &beat
	}

	if inf.Removal != nil {
		removal := *inf.Removal
		removal.Remover = inf.Removal.Remover.clone()
		out.Removal = &removal
	}

	if inf.ServerID != nil {
		serverID := *inf.ServerID
		out.ServerID = &serverID
	}

	if inf.PolicyID != nil {
		policyID := *inf.PolicyID
		out.PolicyID = &policyID
	}

	out.Admin = inf.Admin.clone()

	return out
}

func cloneSlice[T any](values []T, clone func(T) T) []T {
	if values == nil {
		return nil
	}

	out := make([]T, len(values))
	for idx, value := range values {
		out[idx] = clone(value)
	}

	return out
}

// Redacted strips data the actor may not see.
func (inf Infraction) Redacted(actor auth.Actor) Infraction {
	if actor.Has(auth.PermViewIPAddr) {
		return inf
	}

	out := inf.Clone()
	out.Target.IP = ""

	return out
}

// Expiration is the unix time the infraction stops applying, as reported to game servers. Nil means
// it never expires, and 0 marks a session infraction.
func (inf Infraction) Expiration(now time.Time) *int64 {
	var expires int64

	switch inf.Duration.Mode {
	case DurationPermanent:
		return nil
	case DurationSession:
		return &expires
	case DurationPlaytime:
		expires = now.Unix() + inf.Duration.TimeLeft
	case DurationFixed:
		if inf.Duration.Expires == nil {
			return nil
		}

		expires = inf.Duration.Expires.Unix()
	}

	if time.Unix(expires, 0).After(now.Add(maxExpiration)) {
		return nil
	}

	return &expires
}

func cleanReason(reason string) string {
	return strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(reason))
}

// DurationText renders the duration for humans, relative to the creation time.
func (inf Infraction) DurationText() string {
	return inf.Duration.describe(inf.Created)
}
