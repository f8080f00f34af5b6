// Package vpn maintains the blocklist of vpn and cloud gaming networks and checks addresses against it.
package vpn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/gflze/gflbans/internal/audit"
	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/database/query"
	"github.com/gflze/gflbans/pkg/log"
	"github.com/gofrs/uuid/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	maxCommentLength = 120
	defaultCacheSize = 4096
	defaultCacheTTL  = 10 * time.Minute
)

var (
	ErrInvalidRule      = errors.New("invalid vpn rule")
	ErrInvalidAddress   = errors.New("invalid ip address")
	ErrNoChanges        = errors.New("request changes nothing")
	ErrPermissionDenied = errors.New("permission denied")
)

type Kind string

const (
	KindCIDR Kind = "cidr"
	KindASN  Kind = "asn"
)

// Rule marks a network as a vpn or cloud gaming provider. Payload is a normalised cidr for KindCIDR and
// the decimal AS number for KindASN.
type Rule struct {
	RuleID uuid.UUID `json:"id"`
	Kind   Kind      `json:"vpn_type"`
	// Payload is the masked prefix or the AS number.
	Payload string `json:"payload"`
	// Dubious rules are prone to false positives and are only reported, never used to flag records.
	Dubious bool      `json:"is_dubious"`
	Cloud   bool      `json:"is_cloud"`
	Comment string    `json:"comment"`
	AddedOn time.Time `json:"added_on"`
}

// NormalizePayload validates a payload for kind and returns its canonical form.
func NormalizePayload(kind Kind, payload string) (string, error) {
	payload = strings.TrimSpace(payload)

	switch kind {
	case KindCIDR:
		if !strings.Contains(payload, "/") {
			addr, errAddr := netip.ParseAddr(payload)
			if errAddr != nil {
				return "", fmt.Errorf("%w: %w", ErrInvalidRule, errAddr)
			}

			return netip.PrefixFrom(addr, addr.BitLen()).String(), nil
		}

		prefix, errPrefix := netip.ParsePrefix(payload)
		if errPrefix != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidRule, errPrefix)
		}

		return prefix.Masked().String(), nil
	case KindASN:
		asNum, errASN := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(payload), "AS"), 10, 32)
		if errASN != nil || asNum == 0 {
			return "", fmt.Errorf("%w: invalid as number %q", ErrInvalidRule, payload)
		}

		return strconv.FormatUint(asNum, 10), nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidRule, kind)
	}
}

// guessKind treats anything that looks like an address as a cidr.
func guessKind(payload string) Kind {
	if strings.ContainsAny(payload, "./:") {
		return KindCIDR
	}

	return KindASN
}

type RuleCreate struct {
	Kind    Kind   `json:"vpn_type" binding:"required,oneof=cidr asn"`
	Payload string `json:"payload" binding:"required"`
	Dubious bool   `json:"is_dubious"`
	Cloud   bool   `json:"is_cloud"`
	Comment string `json:"comment" binding:"max=120"`
}

// RuleUpdate holds the editable fields. Nil fields are left unchanged.
type RuleUpdate struct {
	Kind    *Kind   `json:"vpn_type,omitempty"`
	Payload *string `json:"payload,omitempty"`
	Dubious *bool   `json:"is_dubious,omitempty"`
	Cloud   *bool   `json:"is_cloud,omitempty"`
	Comment *string `json:"comment,omitempty"`
}

type ListQuery struct {
	query.Filter

	// Search matches payloads and comments containing the value, ignoring case.
	Search string `json:"filter,omitempty" schema:"filter" url:"filter,omitempty"`
}

type ListResult struct {
	Results []Rule `json:"results"`
	Total   int64  `json:"total_blocks"`
}

// CheckResult is the verdict for a single address.
type CheckResult struct {
	VPN     bool       `json:"is_vpn"`
	Dubious bool       `json:"is_dubious"`
	Cloud   bool       `json:"is_cloud_gaming"`
	RuleID  *uuid.UUID `json:"rule_id,omitempty"`
}

// Flagged reports whether records created for the address should carry the vpn flag.
func (r CheckResult) Flagged() bool {
	return r.VPN || r.Cloud
}

func resultOf(rule Rule) CheckResult {
	ruleID := rule.RuleID
	result := CheckResult{RuleID: &ruleID}

	switch {
	case rule.Cloud:
		result.Cloud = true
	case rule.Dubious:
		result.Dubious = true
	default:
		result.VPN = true
	}

	return result
}

// ASNResolver maps an address to the autonomous system announcing it.
type ASNResolver interface {
	ASN(ctx context.Context, addr netip.Addr) (uint32, error)
}

type Auditor interface {
	Record(ctx context.Context, entry audit.Entry) error
}

type Config struct {
	CacheSize int
	CacheTTL  time.Duration
	Clock     func() time.Time
}

type VPNs struct {
	repository Repository
	asn        ASNResolver
	auditor    Auditor
	cache      *expirable.LRU[netip.Addr, CheckResult]
	clock      func() time.Time
}

// NewVPNs creates the blocklist usecase. asn and auditor may be nil, in which case as number rules are
// never matched and changes are not audited.
func NewVPNs(repository Repository, asn ASNResolver, auditor Auditor, config Config) VPNs {
	if config.CacheSize <= 0 {
		config.CacheSize = defaultCacheSize
	}

	if config.CacheTTL <= 0 {
		config.CacheTTL = defaultCacheTTL
	}

	if config.Clock == nil {
		config.Clock = time.Now
	}

	return VPNs{
		repository: repository,
		asn:        asn,
		auditor:    auditor,
		cache:      expirable.NewLRU[netip.Addr, CheckResult](config.CacheSize, nil, config.CacheTTL),
		clock:      config.Clock,
	}
}

func (v VPNs) record(ctx context.Context, kind audit.Kind, verb string, actor auth.Actor, rule Rule,
	detail map[string]string,
) {
	if v.auditor == nil {
		return
	}

	entry := audit.NewEntry(kind, actor, fmt.Sprintf("%s %s vpn rule %s", audit.ActorName(actor), verb, rule.Payload))
	entry.Target = rule.Payload

	for key, value := range detail {
		entry.Detail[key] = value
	}

	if err := v.auditor.Record(ctx, entry); err != nil {
		slog.Error("Failed to record vpn audit entry", log.ErrAttr(err))
	}
}

func requireManage(actor auth.Actor) error {
	if !actor.Has(auth.PermManageVPNs) {
		return fmt.Errorf("%w: managing vpns", ErrPermissionDenied)
	}

	return nil
}

func (v VPNs) Create(ctx context.Context, actor auth.Actor, req RuleCreate) (Rule, error) {
	if err := requireManage(actor); err != nil {
		return Rule{}, err
	}

	payload, errPayload := NormalizePayload(req.Kind, req.Payload)
	if errPayload != nil {
		return Rule{}, errPayload
	}

	if len(req.Comment) > maxCommentLength {
		return Rule{}, fmt.Errorf("%w: comment is too long", ErrInvalidRule)
	}

	ruleID, errID := uuid.NewV7()
	if errID != nil {
		return Rule{}, fmt.Errorf("failed to generate rule id: %w", errID)
	}

	rule := Rule{
		RuleID:  ruleID,
		Kind:    req.Kind,
		Payload: payload,
		Dubious: req.Dubious,
		Cloud:   req.Cloud,
		Comment: strings.TrimSpace(req.Comment),
		AddedOn: v.clock(),
	}

	if err := v.repository.Insert(ctx, rule); err != nil {
		return Rule{}, err
	}

	v.cache.Purge()

	slog.Info("Created vpn rule", slog.String("payload", rule.Payload), slog.String("actor", actor.Name))
	v.record(ctx, audit.KindNewVPN, "created", actor, rule, nil)

	return rule, nil
}

func (v VPNs) Edit(ctx context.Context, actor auth.Actor, ruleID uuid.UUID, req RuleUpdate) (Rule, error) { //nolint:cyclop
	if err := requireManage(actor); err != nil {
		return Rule{}, err
	}

	rule, errGet := v.repository.Get(ctx, ruleID)
	if errGet != nil {
		return Rule{}, errGet
	}

	changes := map[string]string{}

	if req.Kind != nil && *req.Kind != rule.Kind {
		rule.Kind = *req.Kind
		changes["vpn_type"] = string(rule.Kind)
	}

	payload := rule.Payload
	if req.Payload != nil {
		payload = *req.Payload
	}

	normalized, errPayload := NormalizePayload(rule.Kind, payload)
	if errPayload != nil {
		return Rule{}, errPayload
	}

	if normalized != rule.Payload {
		rule.Payload = normalized
		changes["payload"] = normalized
	}

	if req.Dubious != nil && *req.Dubious != rule.Dubious {
		rule.Dubious = *req.Dubious
		changes["is_dubious"] = strconv.FormatBool(rule.Dubious)
	}

	if req.Cloud != nil && *req.Cloud != rule.Cloud {
		rule.Cloud = *req.Cloud
		changes["is_cloud"] = strconv.FormatBool(rule.Cloud)
	}

	if req.Comment != nil && strings.TrimSpace(*req.Comment) != rule.Comment {
		if len(*req.Comment) > maxCommentLength {
			return Rule{}, fmt.Errorf("%w: comment is too long", ErrInvalidRule)
		}

		rule.Comment = strings.TrimSpace(*req.Comment)
		changes["comment"] = rule.Comment
	}

	if len(changes) == 0 {
		return Rule{}, ErrNoChanges
	}

	if err := v.repository.Update(ctx, rule); err != nil {
		return Rule{}, err
	}

	v.cache.Purge()

	slog.Info("Edited vpn rule", slog.String("rule_id", rule.RuleID.String()), slog.String("actor", actor.Name))
	v.record(ctx, audit.KindEditVPN, "edited", actor, rule, changes)

	return rule, nil
}

// Delete removes the rule matching payload, either a cidr or an as number.
func (v VPNs) Delete(ctx context.Context, actor auth.Actor, payload string) error {
	if err := requireManage(actor); err != nil {
		return err
	}

	kind := guessKind(payload)

	normalized, errPayload := NormalizePayload(kind, payload)
	if errPayload != nil {
		return errPayload
	}

	if err := v.repository.Delete(ctx, kind, normalized); err != nil {
		return err
	}

	v.cache.Purge()

	slog.Info("Deleted vpn rule", slog.String("payload", normalized), slog.String("actor", actor.Name))
	v.record(ctx, audit.KindDeleteVPN, "deleted", actor, Rule{Kind: kind, Payload: normalized}, nil)

	return nil
}

func (v VPNs) List(ctx context.Context, actor auth.Actor, q ListQuery) (ListResult, error) {
	if err := requireManage(actor); err != nil {
		return ListResult{}, err
	}

	total, errCount := v.repository.Count(ctx, q.Search)
	if errCount != nil {
		return ListResult{}, errCount
	}

	rules, errFind := v.repository.Find(ctx, q)
	if errFind != nil {
		return ListResult{}, errFind
	}

	return ListResult{Results: rules, Total: total}, nil
}

// Check reports whether ip belongs to a blocklisted network. As number rules take precedence over cidr
// rules. Verdicts are cached until the blocklist changes.
func (v VPNs) Check(ctx context.Context, ip string) (CheckResult, error) {
	addr, errAddr := netip.ParseAddr(strings.TrimSpace(ip))
	if errAddr != nil {
		return CheckResult{}, fmt.Errorf("%w: %w", ErrInvalidAddress, errAddr)
	}

	addr = addr.Unmap()

	if cached, found := v.cache.Get(addr); found {
		return cached, nil
	}

	result, errCheck := v.check(ctx, addr)
	if errCheck != nil {
		return CheckResult{}, errCheck
	}

	v.cache.Add(addr, result)

	return result, nil
}

func (v VPNs) check(ctx context.Context, addr netip.Addr) (CheckResult, error) {
	if v.asn != nil {
		asNum, errASN := v.asn.ASN(ctx, addr)
		if errASN != nil {
			return CheckResult{}, errASN
		}

		if asNum > 0 {
			rule, found, errRule := v.repository.ByPayload(ctx, KindASN, strconv.FormatUint(uint64(asNum), 10))
			if errRule != nil {
				return CheckResult{}, errRule
			}

			if found {
				return resultOf(rule), nil
			}
		}
	}

	rules, errRules := v.repository.CIDRRules(ctx)
	if errRules != nil {
		return CheckResult{}, errRules
	}

	for _, rule := range rules {
		prefix, errPrefix := netip.ParsePrefix(rule.Payload)
		if errPrefix != nil {
			slog.Warn("Skipping malformed vpn rule", slog.String("payload", rule.Payload))

			continue
		}

		if prefix.Contains(addr) {
			return resultOf(rule), nil
		}
	}

	return CheckResult{}, nil
}
