package classify

import (
	"fmt"
	"net/netip"
	"time"

	"PacketPilot/internal/config"
	"PacketPilot/internal/model"
)

// Protocol numbers for profile matching.
const (
	protoTCP uint8 = 6
	protoUDP uint8 = 17
)

// Profile is a GameProfile with its destination hints parsed. Compiled
// once per configuration snapshot so the per-packet path never parses.
type Profile struct {
	Name     string
	Protocol string
	Ports    []model.PortRange
	DstNets  []netip.Prefix
}

// CompileProfiles parses profile destination hints. Profiles must have
// been validated already; a bad prefix here is a programming error and
// the hint is skipped.
func CompileProfiles(profiles []model.GameProfile) []Profile {
	compiled := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		cp := Profile{
			Name:     p.Name,
			Protocol: p.Protocol,
			Ports:    p.Ports,
		}
		for _, hint := range p.DstHints {
			prefix, err := netip.ParsePrefix(hint)
			if err != nil {
				continue
			}
			cp.DstNets = append(cp.DstNets, prefix)
		}
		compiled = append(compiled, cp)
	}
	return compiled
}

// Result is one classification outcome.
type Result struct {
	Label      model.Label
	Confidence float64
	Rule       string // matched profile name, or "signature"
}

// Classifier assigns flows to {game, bulk, unknown} from static profile
// rules and a lightweight packet-signature test. It is a pure function
// over a flow's bounded sample window and holds no per-flow state, which
// keeps it testable without live capture.
type Classifier struct {
	minSamples          int
	smallPayload        float64
	bulkPayload         float64
	maxInterarrival     time.Duration
	maxJitter           time.Duration
	confidenceThreshold float64
}

// New builds a classifier from config thresholds.
func New(cfg config.ClassifierConfig) (*Classifier, error) {
	maxInterarrival, err := time.ParseDuration(cfg.MaxInterarrival)
	if err != nil {
		return nil, fmt.Errorf("invalid classifier max_interarrival: %w", err)
	}
	maxJitter, err := time.ParseDuration(cfg.MaxJitter)
	if err != nil {
		return nil, fmt.Errorf("invalid classifier max_jitter: %w", err)
	}
	return &Classifier{
		minSamples:          cfg.MinSamples,
		smallPayload:        float64(cfg.SmallPayloadBytes),
		bulkPayload:         float64(cfg.BulkPayloadBytes),
		maxInterarrival:     maxInterarrival,
		maxJitter:           maxJitter,
		confidenceThreshold: cfg.ConfidenceThreshold,
	}, nil
}

// Sticky reports whether a classification has crossed the confidence
// threshold and must not be revisited until flow restart.
func (c *Classifier) Sticky(confidence float64) bool {
	return confidence >= c.confidenceThreshold
}

// Classify evaluates a flow against the active profiles and, failing a
// static match, against the packet-signature heuristics. A static rule
// always outranks the heuristics: explicit configuration wins even when
// the signature looks bulk-like.
func (c *Classifier) Classify(stats model.FlowStats, profiles []Profile) Result {
	for i := range profiles {
		if profileMatches(&profiles[i], stats) {
			return Result{Label: model.LabelGame, Confidence: 1.0, Rule: profiles[i].Name}
		}
	}

	// Too few samples to trust the signature yet; re-evaluate later.
	if stats.Samples < c.minSamples {
		return Result{Label: model.LabelUnknown, Confidence: 0}
	}

	confidence := sampleConfidence(stats.Samples)

	// Small, highly periodic packets: the game signature.
	if stats.AvgPayload < c.smallPayload &&
		stats.JitterStddev < c.maxJitter &&
		stats.AvgInterval < c.maxInterarrival {
		return Result{Label: model.LabelGame, Confidence: confidence, Rule: "signature"}
	}

	// Large sustained transfers: bulk.
	if stats.AvgPayload >= c.bulkPayload {
		return Result{Label: model.LabelBulk, Confidence: confidence, Rule: "signature"}
	}

	return Result{Label: model.LabelUnknown, Confidence: 0}
}

// profileMatches checks protocol, destination port and optional
// destination prefix hints.
func profileMatches(p *Profile, stats model.FlowStats) bool {
	switch p.Protocol {
	case "tcp":
		if stats.Protocol != protoTCP {
			return false
		}
	case "udp":
		if stats.Protocol != protoUDP {
			return false
		}
	}

	matched := false
	for _, r := range p.Ports {
		if r.Contains(stats.DstPort) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	if len(p.DstNets) == 0 {
		return true
	}
	addr, ok := netip.AddrFromSlice(stats.DstIP)
	if !ok {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p.DstNets {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// sampleConfidence grows with the observed sample count, saturating at
// the full flow sample window.
func sampleConfidence(samples int) float64 {
	const fullWindow = 32.0
	conf := 0.6 + 0.4*float64(samples)/fullWindow
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}
