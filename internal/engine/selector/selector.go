package selector

import (
	"fmt"
	"time"

	"PacketPilot/internal/config"
	"PacketPilot/internal/engine/flowtable"
	"PacketPilot/internal/model"

	"github.com/google/uuid"
)

// Switch reasons recorded on routing decisions.
const (
	ReasonInitial     = "initial"
	ReasonFailover    = "failover"
	ReasonImprovement = "improvement"
)

// Selector chooses the tunnel for each game-classified flow. Switching
// is damped twice: a candidate must beat the current tunnel's score by
// the hysteresis margin, and the flow must have dwelt on its current
// tunnel for the minimum time. Failover away from an unusable tunnel is
// exempt from both.
type Selector struct {
	hysteresisMargin float64
	minDwell         time.Duration
	reevalInterval   time.Duration
}

// New builds a selector from config.
func New(cfg config.SelectorConfig) (*Selector, error) {
	minDwell, err := time.ParseDuration(cfg.MinDwell)
	if err != nil {
		return nil, fmt.Errorf("invalid selector min_dwell: %w", err)
	}
	reevalInterval, err := time.ParseDuration(cfg.ReevalInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid selector reeval_interval: %w", err)
	}
	return &Selector{
		hysteresisMargin: cfg.HysteresisMargin,
		minDwell:         minDwell,
		reevalInterval:   reevalInterval,
	}, nil
}

// ReevalInterval returns the periodic re-evaluation cadence.
func (s *Selector) ReevalInterval() time.Duration { return s.reevalInterval }

// Change describes one applied selection outcome for event emission.
type Change struct {
	Flow     *flowtable.Flow
	From     string
	Decision *model.RoutingDecision // nil when the flow became unassigned
	Reason   string
}

// candidates returns the selectable tunnels: all in state up, falling
// back to degraded only when no tunnel is up. Down is never selectable.
func candidates(tunnels []model.TunnelHealth) []model.TunnelHealth {
	var up, degraded []model.TunnelHealth
	for _, t := range tunnels {
		switch t.State {
		case model.TunnelUp:
			up = append(up, t)
		case model.TunnelDegraded:
			degraded = append(degraded, t)
		}
	}
	if len(up) > 0 {
		return up
	}
	return degraded
}

// best picks the lowest-score candidate, breaking ties by the lowest
// assigned-flow count to spread load.
func best(cands []model.TunnelHealth, counts map[string]int) model.TunnelHealth {
	chosen := cands[0]
	for _, c := range cands[1:] {
		if c.Score < chosen.Score ||
			(c.Score == chosen.Score && counts[c.ID] < counts[chosen.ID]) {
			chosen = c
		}
	}
	return chosen
}

// Apply selects a tunnel for one flow and commits the outcome. It
// returns nil when the assignment is unchanged.
func (s *Selector) Apply(f *flowtable.Flow, tunnels []model.TunnelHealth, counts map[string]int, now time.Time) *Change {
	current, assignedAt := f.Assignment()
	cands := candidates(tunnels)

	// No usable tunnel: fail open. Packets pass through unmodified
	// rather than being blocked.
	if len(cands) == 0 {
		if current == "" {
			return nil
		}
		f.Unassign()
		return &Change{Flow: f, From: current, Reason: ReasonFailover}
	}

	var currentHealth *model.TunnelHealth
	for i := range cands {
		if cands[i].ID == current {
			currentHealth = &cands[i]
			break
		}
	}
	chosen := best(cands, counts)

	switch {
	case current == "":
		// Fresh assignment for a newly classified game flow.
		return s.commit(f, current, chosen.ID, ReasonInitial, now)

	case currentHealth == nil:
		// Current tunnel is down or gone; move without dwell gating.
		return s.commit(f, current, chosen.ID, ReasonFailover, now)

	case chosen.ID == current:
		return nil

	default:
		// A switch between live tunnels needs a real improvement and a
		// completed dwell period; otherwise path flapping would add the
		// very jitter this engine exists to remove.
		if now.Sub(assignedAt) < s.minDwell {
			return nil
		}
		if chosen.Score >= currentHealth.Score*(1-s.hysteresisMargin) {
			return nil
		}
		return s.commit(f, current, chosen.ID, ReasonImprovement, now)
	}
}

func (s *Selector) commit(f *flowtable.Flow, from, to, reason string, now time.Time) *Change {
	decision := model.RoutingDecision{
		ID:       uuid.NewString(),
		FlowKey:  f.Key,
		TunnelID: to,
		At:       now,
		Reason:   reason,
	}
	f.Assign(decision)
	return &Change{Flow: f, From: from, Decision: &decision, Reason: reason}
}

// Reevaluate runs selection across every game-classified flow, returning
// the applied changes. Invoked periodically and on health transitions.
func (s *Selector) Reevaluate(table *flowtable.Table, tunnels []model.TunnelHealth, now time.Time) []Change {
	counts := AssignedCounts(table)

	var changes []Change
	table.Range(func(f *flowtable.Flow) bool {
		label, _ := f.Label()
		if label != model.LabelGame {
			return true
		}
		if change := s.Apply(f, tunnels, counts, now); change != nil {
			// Keep the tie-break counts coherent while walking.
			if change.From != "" {
				counts[change.From]--
			}
			if change.Decision != nil {
				counts[change.Decision.TunnelID]++
			}
			changes = append(changes, *change)
		}
		return true
	})
	return changes
}

// AssignedCounts tallies flows per assigned tunnel for load spreading.
func AssignedCounts(table *flowtable.Table) map[string]int {
	counts := make(map[string]int)
	table.Range(func(f *flowtable.Flow) bool {
		if id, _ := f.Assignment(); id != "" {
			counts[id]++
		}
		return true
	})
	return counts
}
