package infraction

import (
	"fmt"
	"time"
)

// DefaultHeartbeatGap caps how much playtime a single heartbeat can consume. Gaps longer than this
// mean the player or server was offline in between.
const DefaultHeartbeatGap = 5 * time.Minute

// OnlinePlayer is a player reported by a game server heartbeat.
type OnlinePlayer struct {
	Service string `json:"gs_service"`
	UserID  string `json:"gs_id"`
	IP      string `json:"ip,omitempty"`
}

// PlayerCheck pairs a heartbeat player with their current restrictions.
type PlayerCheck struct {
	Player OnlinePlayer `json:"player"`
	Check  CheckSummary `json:"check"`
}

// ConsumePlaytime decrements the remaining playtime by the time elapsed since the previous beat. The
// first beat only records its time.
func ConsumePlaytime(now time.Time, maxGap time.Duration) Transition {
	return func(state *transitionState) error {
		duration := state.rec.Duration
		if duration.Mode != DurationPlaytime {
			return fmt.Errorf("%w: infraction is not playtime based", ErrInvalidTransition)
		}

		if duration.LastHeartbeat != nil && duration.TimeLeft > 0 {
			elapsed := min(max(now.Sub(*duration.LastHeartbeat), 0), maxGap)
			remaining := max(0, duration.TimeLeft-int64(elapsed.Seconds()))

			if remaining == 0 {
				state.record(AttrDuration, duration.describe(state.rec.Created), "Served")
			}

			duration.TimeLeft = remaining
		}

		duration.LastHeartbeat = &now
		state.rec.Duration = duration

		return nil
	}
}
