// Package audit keeps the staff facing record of every change made through the api.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/database/query"
	"github.com/gofrs/uuid/v5"
	"github.com/leighmacdonald/steamid/v4/steamid"
)

const (
	DefaultRetention = 30 * 24 * time.Hour
	maxListResults   = 100
)

var ErrPermissionDenied = errors.New("permission denied")

type Kind string

const (
	KindNewInfraction    Kind = "new_infraction"
	KindEditInfraction   Kind = "edit_infraction"
	KindRemoveInfraction Kind = "remove_infraction"
	KindNewComment       Kind = "new_comment"
	KindEditComment      Kind = "edit_comment"
	KindDeleteComment    Kind = "delete_comment"
	KindUploadFile       Kind = "upload_file"
	KindDeleteFile       Kind = "delete_file"
	KindNewPolicy        Kind = "new_policy"
	KindUnlinkPolicy     Kind = "unlink_policy"
	KindNewVPN           Kind = "new_vpn"
	KindEditVPN          Kind = "edit_vpn"
	KindDeleteVPN        Kind = "delete_vpn"
	KindRPCKick          Kind = "rpc_kick"
)

// Entry is a single logged change.
type Entry struct {
	EntryID uuid.UUID `json:"entry_id"`
	Time    time.Time `json:"time"`
	Kind    Kind      `json:"event_type"`
	// Actor is the authenticated caller as kind/name.
	Actor string `json:"actor"`
	// AdminID and AdminName identify the staff member the caller acted for, when one was given.
	AdminID   *int64            `json:"admin_id,omitempty"`
	AdminName string            `json:"admin_name,omitempty"`
	Target    string            `json:"target,omitempty"`
	Message   string            `json:"message"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// NewEntry builds an entry for a change made by actor.
func NewEntry(kind Kind, actor auth.Actor, message string) Entry {
	return Entry{Kind: kind, Actor: ActorName(actor), Message: message, Detail: map[string]string{}}
}

// WithAdmin attributes the entry to a staff member.
func (e Entry) WithAdmin(sid steamid.SteamID, name string) Entry {
	adminID := sid.Int64()
	e.AdminID = &adminID
	e.AdminName = name

	return e
}

func ActorName(actor auth.Actor) string {
	if actor.IsServer() {
		return actor.Kind.String() + "/" + actor.ServerID.String()
	}

	return actor.Kind.String() + "/" + actor.Name
}

// Query selects entries, newest first.
type Query struct {
	query.Filter

	Kinds   []Kind     `json:"event_types,omitempty"`
	AdminID *int64     `json:"admin_id,omitempty"`
	Since   *time.Time `json:"since,omitempty"`
}

type Result struct {
	Entries []Entry `json:"results"`
	Total   int64   `json:"total"`
}

type Repository interface {
	Insert(ctx context.Context, entry Entry) error
	Find(ctx context.Context, q Query) ([]Entry, error)
	Count(ctx context.Context, q Query) (int64, error)
	// Purge removes entries logged before olderThan.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

type Audits struct {
	repository Repository
	retention  time.Duration
	clock      func() time.Time
}

func NewAudits(repository Repository, retention time.Duration, clock func() time.Time) Audits {
	if retention <= 0 {
		retention = DefaultRetention
	}

	if clock == nil {
		clock = time.Now
	}

	return Audits{repository: repository, retention: retention, clock: clock}
}

// Record stores entry, assigning its id and time.
func (a Audits) Record(ctx context.Context, entry Entry) error {
	entryID, errID := uuid.NewV7()
	if errID != nil {
		return fmt.Errorf("failed to generate audit entry id: %w", errID)
	}

	entry.EntryID = entryID

	if entry.Time.IsZero() {
		entry.Time = a.clock()
	}

	if entry.Detail == nil {
		entry.Detail = map[string]string{}
	}

	if err := a.repository.Insert(ctx, entry); err != nil {
		return err
	}

	slog.Debug("Recorded audit entry", slog.String("kind", string(entry.Kind)), slog.String("actor", entry.Actor))

	return nil
}

func (a Audits) List(ctx context.Context, actor auth.Actor, q Query) (Result, error) {
	if !actor.Has(auth.PermViewAuditLog) {
		return Result{}, fmt.Errorf("%w: viewing the audit log", ErrPermissionDenied)
	}

	if q.Limit == 0 || q.Limit > maxListResults {
		q.Limit = maxListResults
	}

	total, errCount := a.repository.Count(ctx, q)
	if errCount != nil {
		return Result{}, errCount
	}

	entries, errFind := a.repository.Find(ctx, q)
	if errFind != nil {
		return Result{}, errFind
	}

	return Result{Entries: entries, Total: total}, nil
}

// Purge removes entries older than the retention period.
func (a Audits) Purge(ctx context.Context, now time.Time) (int64, error) {
	count, errPurge := a.repository.Purge(ctx, now.Add(-a.retention))
	if errPurge != nil {
		return 0, errPurge
	}

	if count > 0 {
		slog.Debug("Purged audit entries", slog.Int64("count", count))
	}

	return count, nil
}
