package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"PacketPilot/internal/model"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds flow-table housekeeping settings.
type EngineConfig struct {
	EvictInterval string `yaml:"evict_interval"`
	IdleTimeout   string `yaml:"idle_timeout"`
	NumShards     uint32 `yaml:"num_shards"`
}

// CaptureConfig describes the NATS transport bridging the capture driver.
type CaptureConfig struct {
	NATSURL        string `yaml:"nats_url"`
	CaptureSubject string `yaml:"capture_subject"`
	InjectSubject  string `yaml:"inject_subject"`
}

// ClassifierConfig holds the heuristic signature thresholds. These are
// tuning parameters, deliberately configuration rather than engine logic.
type ClassifierConfig struct {
	MinSamples          int     `yaml:"min_samples"`
	SmallPayloadBytes   int     `yaml:"small_payload_bytes"`
	BulkPayloadBytes    int     `yaml:"bulk_payload_bytes"`
	MaxInterarrival     string  `yaml:"max_interarrival"`
	MaxJitter           string  `yaml:"max_jitter"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// HealthConfig drives the tunnel health monitor.
type HealthConfig struct {
	ProbeInterval    string  `yaml:"probe_interval"`
	ProbeTimeout     string  `yaml:"probe_timeout"`
	WindowSize       int     `yaml:"window_size"`
	LatencyThreshold string  `yaml:"latency_threshold"`
	LossThreshold    float64 `yaml:"loss_threshold"`
	DegradedAfter    int     `yaml:"degraded_after"` // consecutive bad probes
	DownAfter        int     `yaml:"down_after"`     // consecutive failed probes
	RecoverAfter     int     `yaml:"recover_after"`  // consecutive clean probes
}

// SelectorConfig drives path selection and switching policy.
type SelectorConfig struct {
	HysteresisMargin float64 `yaml:"hysteresis_margin"`
	MinDwell         string  `yaml:"min_dwell"`
	ReevalInterval   string  `yaml:"reeval_interval"`
}

// EventsConfig configures the NATS observability event bus.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// GobConfig configures the on-disk snapshot writer.
type GobConfig struct {
	RootPath string `yaml:"root_path"`
}

// ClickHouseConfig configures the ClickHouse metrics writer.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WriterDef defines a single metrics writer instance.
type WriterDef struct {
	Type             string           `yaml:"type"` // "gob" or "clickhouse"
	Enabled          bool             `yaml:"enabled"`
	SnapshotInterval string           `yaml:"snapshot_interval"`
	Gob              GobConfig        `yaml:"gob"`
	ClickHouse       ClickHouseConfig `yaml:"clickhouse"`
}

// MetricsConfig holds all configured writers.
type MetricsConfig struct {
	Writers []WriterDef `yaml:"writers"`
}

// APIConfig configures the control/status HTTP server.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Engine     EngineConfig         `yaml:"engine"`
	Capture    CaptureConfig        `yaml:"capture"`
	Classifier ClassifierConfig     `yaml:"classifier"`
	Health     HealthConfig         `yaml:"health"`
	Selector   SelectorConfig       `yaml:"selector"`
	Events     EventsConfig         `yaml:"events"`
	Metrics    MetricsConfig        `yaml:"metrics"`
	API        APIConfig            `yaml:"api"`
	Profiles   []model.GameProfile  `yaml:"profiles"`
	Tunnels    []model.TunnelConfig `yaml:"tunnels"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := ValidateProfiles(cfg.Profiles); err != nil {
		return nil, err
	}
	if err := ValidateTunnels(cfg.Tunnels); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills zero values with the engine's tuning defaults.
func (c *Config) applyDefaults() {
	if c.Engine.EvictInterval == "" {
		c.Engine.EvictInterval = "5s"
	}
	if c.Engine.IdleTimeout == "" {
		c.Engine.IdleTimeout = "120s"
	}
	if c.Engine.NumShards == 0 {
		c.Engine.NumShards = 64
	}
	if c.Classifier.MinSamples == 0 {
		c.Classifier.MinSamples = 10
	}
	if c.Classifier.SmallPayloadBytes == 0 {
		c.Classifier.SmallPayloadBytes = 300
	}
	if c.Classifier.BulkPayloadBytes == 0 {
		c.Classifier.BulkPayloadBytes = 1200
	}
	if c.Classifier.MaxInterarrival == "" {
		c.Classifier.MaxInterarrival = "100ms"
	}
	if c.Classifier.MaxJitter == "" {
		c.Classifier.MaxJitter = "20ms"
	}
	if c.Classifier.ConfidenceThreshold == 0 {
		c.Classifier.ConfidenceThreshold = 0.8
	}
	if c.Health.ProbeInterval == "" {
		c.Health.ProbeInterval = "2s"
	}
	if c.Health.ProbeTimeout == "" {
		c.Health.ProbeTimeout = "3s"
	}
	if c.Health.WindowSize == 0 {
		c.Health.WindowSize = 20
	}
	if c.Health.LatencyThreshold == "" {
		c.Health.LatencyThreshold = "150ms"
	}
	if c.Health.LossThreshold == 0 {
		c.Health.LossThreshold = 0.2
	}
	if c.Health.DegradedAfter == 0 {
		c.Health.DegradedAfter = 3
	}
	if c.Health.DownAfter == 0 {
		c.Health.DownAfter = 10
	}
	if c.Health.RecoverAfter == 0 {
		c.Health.RecoverAfter = 5
	}
	if c.Selector.HysteresisMargin == 0 {
		c.Selector.HysteresisMargin = 0.2
	}
	if c.Selector.MinDwell == "" {
		c.Selector.MinDwell = "30s"
	}
	if c.Selector.ReevalInterval == "" {
		c.Selector.ReevalInterval = "3s"
	}
}

// ValidationError reports an invalid GameProfile or tunnel descriptor.
// Updates carrying one are rejected and the prior configuration retained.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// ValidateProfiles checks a set of game profiles for use by the classifier.
func ValidateProfiles(profiles []model.GameProfile) error {
	seen := make(map[string]struct{}, len(profiles))
	for _, p := range profiles {
		if p.Name == "" {
			return &ValidationError{Field: "profile.name", Reason: "must not be empty"}
		}
		if _, dup := seen[p.Name]; dup {
			return &ValidationError{Field: "profile.name", Reason: fmt.Sprintf("duplicate profile '%s'", p.Name)}
		}
		seen[p.Name] = struct{}{}

		switch p.Protocol {
		case "tcp", "udp", "any", "":
		default:
			return &ValidationError{Field: "profile.protocol", Reason: fmt.Sprintf("unknown protocol '%s' in profile '%s'", p.Protocol, p.Name)}
		}

		if len(p.Ports) == 0 {
			return &ValidationError{Field: "profile.ports", Reason: fmt.Sprintf("profile '%s' has no port ranges", p.Name)}
		}
		for _, r := range p.Ports {
			if r.From == 0 || r.To < r.From {
				return &ValidationError{Field: "profile.ports", Reason: fmt.Sprintf("bad range %d-%d in profile '%s'", r.From, r.To, p.Name)}
			}
		}
		for _, hint := range p.DstHints {
			if _, err := netip.ParsePrefix(hint); err != nil {
				return &ValidationError{Field: "profile.dst_hints", Reason: fmt.Sprintf("bad prefix '%s' in profile '%s'", hint, p.Name)}
			}
		}
	}
	return nil
}

// ValidateTunnels checks a tunnel set for use by the health monitor.
func ValidateTunnels(tunnels []model.TunnelConfig) error {
	seen := make(map[string]struct{}, len(tunnels))
	for _, t := range tunnels {
		if t.ID == "" {
			return &ValidationError{Field: "tunnel.id", Reason: "must not be empty"}
		}
		if _, dup := seen[t.ID]; dup {
			return &ValidationError{Field: "tunnel.id", Reason: fmt.Sprintf("duplicate tunnel '%s'", t.ID)}
		}
		seen[t.ID] = struct{}{}

		if t.Endpoint == "" {
			return &ValidationError{Field: "tunnel.endpoint", Reason: fmt.Sprintf("tunnel '%s' has no endpoint", t.ID)}
		}
		if _, _, err := net.SplitHostPort(t.Endpoint); err != nil {
			return &ValidationError{Field: "tunnel.endpoint", Reason: fmt.Sprintf("tunnel '%s' endpoint '%s' is not host:port", t.ID, t.Endpoint)}
		}
	}
	return nil
}
