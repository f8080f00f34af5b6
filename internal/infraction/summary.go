package infraction

import (
	"time"
)

// Restriction is the strongest active infraction of one kind.
type Restriction struct {
	Reason    string `json:"reason"`
	AdminName string `json:"admin_name"`
	// Expiration is a unix timestamp. Nil means permanent and 0 means the current session.
	Expiration *int64 `json:"expiration,omitempty"`
}

// outlasts reports whether r should be kept over other.
func (r Restriction) outlasts(other Restriction) bool {
	if r.Expiration == nil {
		return true
	}

	if other.Expiration == nil {
		return false
	}

	return *r.Expiration >= *other.Expiration
}

// CheckSummary is what a game server enforces for a player.
type CheckSummary struct {
	VoiceBlock     *Restriction `json:"voice_block,omitempty"`
	ChatBlock      *Restriction `json:"chat_block,omitempty"`
	Ban            *Restriction `json:"ban,omitempty"`
	AdminChatBlock *Restriction `json:"admin_chat_block,omitempty"`
	CallAdminBlock *Restriction `json:"call_admin_block,omitempty"`
	ItemBlock      *Restriction `json:"item_block,omitempty"`
}

func (c *CheckSummary) slot(kind PunishmentKind) **Restriction {
	switch kind {
	case VoiceBlock:
		return &c.VoiceBlock
	case ChatBlock:
		return &c.ChatBlock
	case Ban:
		return &c.Ban
	case AdminChatBlock:
		return &c.AdminChatBlock
	case CallAdminBlock:
		return &c.CallAdminBlock
	case ItemBlock:
		return &c.ItemBlock
	default:
		return nil
	}
}

// Get returns the restriction for kind, if any.
func (c CheckSummary) Get(kind PunishmentKind) *Restriction {
	slot := c.slot(kind)
	if slot == nil {
		return nil
	}

	return *slot
}

func (c CheckSummary) Empty() bool {
	for _, kind := range PunishmentKinds {
		if c.Get(kind) != nil {
			return false
		}
	}

	return true
}

// Add folds a single record into the summary.
func (c *CheckSummary) Add(inf Infraction, now time.Time) {
	restriction := Restriction{
		Reason:     inf.Reason,
		AdminName:  inf.Admin.String(),
		Expiration: inf.Expiration(now),
	}

	for _, kind := range inf.Punishments {
		slot := c.slot(kind)
		if slot == nil {
			continue
		}

		if *slot == nil || restriction.outlasts(**slot) {
			kept := restriction
			*slot = &kept
		}
	}
}

// Summarize reduces a set of records to a CheckSummary.
func Summarize(records []Infraction, now time.Time) CheckSummary {
	var summary CheckSummary

	for _, inf := range records {
		summary.Add(inf, now)
	}

	return summary
}

// KindStats counts the infractions of a kind. Longest is in seconds and nil when one of them never ends.
type KindStats struct {
	Count   int    `json:"count"`
	Longest *int64 `json:"longest,omitempty"`
}

type Stats struct {
	VoiceBlock     KindStats `json:"voice_block"`
	ChatBlock      KindStats `json:"chat_block"`
	Ban            KindStats `json:"ban"`
	AdminChatBlock KindStats `json:"admin_chat_block"`
	CallAdminBlock KindStats `json:"call_admin_block"`
	ItemBlock      KindStats `json:"item_block"`
	Warning        KindStats `json:"warning"`
}

func (s *Stats) bucket(kind PunishmentKind) *KindStats {
	switch kind {
	case VoiceBlock:
		return &s.VoiceBlock
	case ChatBlock:
		return &s.ChatBlock
	case Ban:
		return &s.Ban
	case AdminChatBlock:
		return &s.AdminChatBlock
	case CallAdminBlock:
		return &s.CallAdminBlock
	case ItemBlock:
		return &s.ItemBlock
	default:
		return &s.Warning
	}
}

func (k *KindStats) add(inf Infraction) {
	unbounded := k.Count > 0 && k.Longest == nil
	k.Count++

	if unbounded {
		return
	}

	length, bounded := inf.Duration.Length(inf.Created)
	if !bounded {
		if inf.Duration.Mode == DurationSession {
			length = 0
		} else {
			k.Longest = nil

			return
		}
	}

	if k.Longest == nil || length > *k.Longest {
		k.Longest = &length
	}
}

// Tally counts records per kind. Records without punishments count as warnings.
func Tally(records []Infraction) Stats {
	var stats Stats

	for _, inf := range records {
		if inf.Punishments.IsWarning() {
			stats.Warning.add(inf)

			continue
		}

		for _, kind := range inf.Punishments {
			stats.bucket(kind).add(inf)
		}
	}

	return stats
}
