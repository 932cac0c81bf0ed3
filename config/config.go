// Package config loads the bridge's on-disk configuration: a YAML file
// plus BRIDGE_-prefixed environment overrides, decoded with
// github.com/spf13/viper into the option map spec.md §6 recognizes.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ConfigError reports a missing or invalid configuration field. It is
// fatal at startup per spec.md §7's error taxonomy.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// InitCommand is a post-connect initialization command: either a static
// hex payload or free text. Templated hex strings like "AA-55-{level:02X}"
// are not rendered here; they belong in AMGConfig.Commands, which
// session.RenderHexTemplate renders.
type InitCommand struct {
	Hex     string  `mapstructure:"hex"`
	Text    string  `mapstructure:"text"`
	DelayMs float64 `mapstructure:"delay_ms"`
}

// AMGConfig configures the timer's Transport Session.
type AMGConfig struct {
	Adapter   string            `mapstructure:"adapter"`
	MAC       string            `mapstructure:"mac"`
	Name      string            `mapstructure:"name"`
	StartUUID string            `mapstructure:"start_uuid"`
	WriteUUID string            `mapstructure:"write_uuid"`
	InitCmds  []InitCommand     `mapstructure:"init_cmds"`
	Commands  map[string]string `mapstructure:"commands"`

	ReconnectInitialSec float64 `mapstructure:"reconnect_initial_sec"`
	ReconnectMaxSec     float64 `mapstructure:"reconnect_max_sec"`
	ReconnectJitterSec  float64 `mapstructure:"reconnect_jitter_sec"`
}

// SensorConfig configures one vibration sensor's Transport Session.
type SensorConfig struct {
	Plate      string `mapstructure:"plate"`
	Adapter    string `mapstructure:"adapter"`
	MAC        string `mapstructure:"mac"`
	NotifyUUID string `mapstructure:"notify_uuid"`
	ConfigUUID string `mapstructure:"config_uuid"`

	IdleReconnectSec    float64 `mapstructure:"idle_reconnect_sec"`
	KeepaliveBattSec    float64 `mapstructure:"keepalive_batt_sec"`
	ReconnectInitialSec float64 `mapstructure:"reconnect_initial_sec"`
	ReconnectMaxSec     float64 `mapstructure:"reconnect_max_sec"`
	ReconnectJitterSec  float64 `mapstructure:"reconnect_jitter_sec"`
}

// DetectorConfig configures the hit detector's envelope/hysteresis state
// machine, mirroring detector.Params.
type DetectorConfig struct {
	TriggerHigh float64 `mapstructure:"triggerHigh"`
	TriggerLow  float64 `mapstructure:"triggerLow"`
	RingMinMs   float64 `mapstructure:"ring_min_ms"`
	DeadTimeMs  float64 `mapstructure:"dead_time_ms"`
	WarmupMs    float64 `mapstructure:"warmup_ms"`
	BaselineMin float64 `mapstructure:"baseline_min"`
	MinAmp      float64 `mapstructure:"min_amp"`
}

// LoggingConfig configures the event logger.
type LoggingConfig struct {
	Dir              string   `mapstructure:"dir"`
	FilePrefix       string   `mapstructure:"file_prefix"`
	Mode             string   `mapstructure:"mode"`
	VerboseWhitelist []string `mapstructure:"verbose_whitelist"`
	DualFile         bool     `mapstructure:"dual_file"`
	DebugSubdir      string   `mapstructure:"debug_subdir"`
}

// CorrelatorConfig configures the offline correlation engine.
type CorrelatorConfig struct {
	MaxLagMs float64 `mapstructure:"max_lag_ms"`
	DBPath   string  `mapstructure:"db_path"`
	OutPath  string  `mapstructure:"out_path"`
}

// Config is the root configuration object.
type Config struct {
	AMG        AMGConfig        `mapstructure:"amg"`
	Sensors    []SensorConfig   `mapstructure:"sensors"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Correlator CorrelatorConfig `mapstructure:"correlator"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("amg.reconnect_initial_sec", 1.0)
	v.SetDefault("amg.reconnect_max_sec", 30.0)
	v.SetDefault("amg.reconnect_jitter_sec", 0.5)
	v.SetDefault("detector.triggerHigh", 8.0)
	v.SetDefault("detector.triggerLow", 2.0)
	v.SetDefault("detector.ring_min_ms", 30.0)
	v.SetDefault("detector.dead_time_ms", 150.0)
	v.SetDefault("detector.warmup_ms", 300.0)
	v.SetDefault("detector.baseline_min", 1e-4)
	v.SetDefault("detector.min_amp", 1.0)
	v.SetDefault("logging.dir", "logs")
	v.SetDefault("logging.file_prefix", "bridge")
	v.SetDefault("logging.mode", "regular")
	v.SetDefault("logging.debug_subdir", "debug")
	v.SetDefault("correlator.max_lag_ms", 500.0)
	v.SetDefault("correlator.db_path", "logs/bridge.db")
	v.SetDefault("correlator.out_path", "reports/timing_correlation.csv")
}

// Load reads path (a YAML file) plus BRIDGE_-prefixed environment
// overrides into a validated Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{Field: "file", Reason: err.Error()}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Field: "decode", Reason: err.Error()}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the required-field set spec.md §6 demands:
// amg.adapter, amg.start_uuid, and at least one of amg.mac/amg.name.
func Validate(cfg *Config) error {
	if cfg.AMG.Adapter == "" {
		return &ConfigError{Field: "amg.adapter", Reason: "required"}
	}
	if cfg.AMG.StartUUID == "" {
		return &ConfigError{Field: "amg.start_uuid", Reason: "required"}
	}
	if cfg.AMG.MAC == "" && cfg.AMG.Name == "" {
		return &ConfigError{Field: "amg.mac/amg.name", Reason: "at least one is required"}
	}
	return nil
}

// IsConfigError reports whether err is a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
