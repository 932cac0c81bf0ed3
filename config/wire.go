package config

import (
	"steelcitybridge.dev/bridge"
	"steelcitybridge.dev/detector"
	"steelcitybridge.dev/eventlog"
	"steelcitybridge.dev/session"
)

// DetectorParams converts the configured detector tunables into
// detector.Params.
func (c *Config) DetectorParams() detector.Params {
	return detector.Params{
		TriggerHigh: c.Detector.TriggerHigh,
		TriggerLow:  c.Detector.TriggerLow,
		RingMinMs:   c.Detector.RingMinMs,
		DeadTimeMs:  c.Detector.DeadTimeMs,
		WarmupMs:    c.Detector.WarmupMs,
		BaselineMin: c.Detector.BaselineMin,
		MinAmp:      c.Detector.MinAmp,
	}
}

func toSessionInitCommands(cmds []InitCommand) []session.InitCommand {
	out := make([]session.InitCommand, len(cmds))
	for i, c := range cmds {
		out[i] = session.InitCommand{Hex: c.Hex, Text: c.Text, DelayMs: int(c.DelayMs)}
	}
	return out
}

// TimerSession converts the AMG block into the timer's session.Config.
func (c *Config) TimerSession() session.Config {
	return session.Config{
		Adapter:             c.AMG.Adapter,
		MAC:                 c.AMG.MAC,
		Name:                c.AMG.Name,
		NotifyUUID:          c.AMG.StartUUID,
		WriteUUID:           c.AMG.WriteUUID,
		InitCommands:        toSessionInitCommands(c.AMG.InitCmds),
		ReconnectInitialSec: c.AMG.ReconnectInitialSec,
		ReconnectMaxSec:     c.AMG.ReconnectMaxSec,
		ReconnectJitterSec:  c.AMG.ReconnectJitterSec,
	}
}

// SensorSessions converts each configured sensor into a bridge.SensorConfig
// pairing its plate label with its session.Config.
func (c *Config) SensorSessions() []bridge.SensorConfig {
	out := make([]bridge.SensorConfig, len(c.Sensors))
	for i, s := range c.Sensors {
		out[i] = bridge.SensorConfig{
			Plate: s.Plate,
			Session: session.Config{
				Adapter:             s.Adapter,
				MAC:                 s.MAC,
				NotifyUUID:          s.NotifyUUID,
				IdleReconnectSec:    s.IdleReconnectSec,
				KeepaliveBattSec:    s.KeepaliveBattSec,
				ReconnectInitialSec: s.ReconnectInitialSec,
				ReconnectMaxSec:     s.ReconnectMaxSec,
				ReconnectJitterSec:  s.ReconnectJitterSec,
			},
		}
	}
	return out
}

// BridgeConfig assembles the full bridge.Config the orchestrator runs
// with.
func (c *Config) BridgeConfig() bridge.Config {
	return bridge.Config{
		Timer:    c.TimerSession(),
		Sensors:  c.SensorSessions(),
		Detector: c.DetectorParams(),
	}
}

// EventLogConfig converts the logging block into eventlog.Config.
func (c *Config) EventLogConfig() eventlog.Config {
	return eventlog.Config{
		Dir:              c.Logging.Dir,
		FilePrefix:       c.Logging.FilePrefix,
		Mode:             eventlog.Mode(c.Logging.Mode),
		VerboseWhitelist: c.Logging.VerboseWhitelist,
		DualFile:         c.Logging.DualFile,
		DebugSubdir:      c.Logging.DebugSubdir,
	}
}
