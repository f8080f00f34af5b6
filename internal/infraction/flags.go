package infraction

import (
	"fmt"
	"time"
)

// Flag bits are the persisted representation of the boolean record state. The positions are shared with
// existing data and game server plugins and must not change.
type Flag uint64

const (
	FlagSystem         Flag = 1 << 0
	FlagGlobal         Flag = 1 << 1
	flagSuperGlobal    Flag = 1 << 2
	FlagPermanent      Flag = 1 << 3
	FlagVPN            Flag = 1 << 4
	FlagWeb            Flag = 1 << 5
	FlagRemoved        Flag = 1 << 6
	FlagVoiceBlock     Flag = 1 << 7
	FlagChatBlock      Flag = 1 << 8
	FlagBan            Flag = 1 << 9
	FlagAdminChatBlock Flag = 1 << 10
	FlagCallAdminBlock Flag = 1 << 11
	FlagSession        Flag = 1 << 12
	FlagPlaytime       Flag = 1 << 13
	FlagItemBlock      Flag = 1 << 14
	FlagAutoTier       Flag = 1 << 16
)

func (f Flag) Has(mask Flag) bool {
	return f&mask == mask
}

// Flag returns the bit used to persist the kind.
func (k PunishmentKind) Flag() Flag {
	switch k {
	case VoiceBlock:
		return FlagVoiceBlock
	case ChatBlock:
		return FlagChatBlock
	case Ban:
		return FlagBan
	case AdminChatBlock:
		return FlagAdminChatBlock
	case CallAdminBlock:
		return FlagCallAdminBlock
	case ItemBlock:
		return FlagItemBlock
	default:
		return 0
	}
}

// EncodeFlags packs the boolean state of a record. Fixed durations have no bit of their own.
func EncodeFlags(inf Infraction) Flag {
	var flags Flag

	if inf.System {
		flags |= FlagSystem
	}

	if inf.Scope == ScopeGlobal {
		flags |= FlagGlobal
	}

	if inf.VPN {
		flags |= FlagVPN
	}

	if inf.Web {
		flags |= FlagWeb
	}

	if inf.Removed() {
		flags |= FlagRemoved
	}

	if inf.AutoTier {
		flags |= FlagAutoTier
	}

	switch inf.Duration.Mode {
	case DurationPermanent:
		flags |= FlagPermanent
	case DurationSession:
		flags |= FlagSession
	case DurationPlaytime:
		flags |= FlagPlaytime
	case DurationFixed:
	}

	for _, kind := range inf.Punishments {
		flags |= kind.Flag()
	}

	return flags
}

// Stored is the flat, store-agnostic shape of the columns that are packed into flags.
type Stored struct {
	Flags         Flag
	Expires       *time.Time
	TimeLeft      *int64
	OriginalTime  *int64
	LastHeartbeat *time.Time
}

// DecodeFlags applies the persisted bits to inf. The removal details are not part of the bit set and
// must be populated by the caller when FlagRemoved is set.
func DecodeFlags(inf *Infraction, stored Stored) error {
	flags := stored.Flags

	inf.System = flags.Has(FlagSystem)
	inf.VPN = flags.Has(FlagVPN)
	inf.Web = flags.Has(FlagWeb)
	inf.AutoTier = flags.Has(FlagAutoTier)

	inf.Scope = ScopeServer
	if flags.Has(FlagGlobal) || flags.Has(flagSuperGlobal) {
		inf.Scope = ScopeGlobal
	}

	inf.Punishments = Punishments{}

	for _, kind := range PunishmentKinds {
		if flags.Has(kind.Flag()) {
			inf.Punishments = append(inf.Punishments, kind)
		}
	}

	modes := 0

	for _, flag := range []Flag{FlagPermanent, FlagSession, FlagPlaytime} {
		if flags.Has(flag) {
			modes++
		}
	}

	if modes > 1 {
		return fmt.Errorf("%w: multiple duration flags set (%d)", ErrInvalidTransition, flags)
	}

	switch {
	case flags.Has(FlagPermanent):
		inf.Duration = Permanent()
	case flags.Has(FlagSession):
		inf.Duration = Session()
	case flags.Has(FlagPlaytime):
		duration := Duration{Mode: DurationPlaytime, LastHeartbeat: stored.LastHeartbeat}
		if stored.TimeLeft != nil {
			duration.TimeLeft = *stored.TimeLeft
		}

		if stored.OriginalTime != nil {
			duration.OriginalTime = *stored.OriginalTime
		}

		inf.Duration = duration
	case stored.Expires != nil:
		inf.Duration = Fixed(*stored.Expires)
	default:
		// Older records carry neither a mode bit nor an expiration.
		inf.Duration = Permanent()
	}

	return nil
}

// Store flattens the duration into nullable columns, the inverse of DecodeFlags.
func Store(inf Infraction) Stored {
	stored := Stored{Flags: EncodeFlags(inf)}

	switch inf.Duration.Mode {
	case DurationFixed:
		stored.Expires = inf.Duration.Expires
	case DurationPlaytime:
		timeLeft, original := inf.Duration.TimeLeft, inf.Duration.OriginalTime
		stored.TimeLeft = &timeLeft
		stored.OriginalTime = &original
		stored.LastHeartbeat = inf.Duration.LastHeartbeat
	case DurationPermanent, DurationSession:
	}

	return stored
}
