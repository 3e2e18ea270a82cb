package config

import (
	"context"
	"errors"

	"bmscore-go/bus"
	"bmscore-go/types"
)

const (
	serviceName   = "config"
	CtxProfileKey = "profile" // context key used for the embedded profile name
)

// EmbeddedConfigLookup allows overriding how profiles are resolved.
var EmbeddedConfigLookup = func(profile string) ([]byte, bool) {
	b, ok := embeddedConfigs[profile]
	return b, ok
}

// Embedded returns the parsed embedded profile.
func Embedded(profile string) (*Config, error) {
	raw, ok := EmbeddedConfigLookup(profile)
	if !ok || len(raw) == 0 {
		return nil, errors.New("no embedded config for profile: " + profile)
	}
	return Parse(raw)
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

// ConfigService publishes each configuration section as a retained message
// on config/<section> so services can pick up their settings (and later
// changes) from the bus.
type ConfigService struct {
	Name string
	cfg  *Config
}

func NewConfigService(cfg *Config) *ConfigService {
	return &ConfigService{Name: serviceName, cfg: cfg}
}

func (s *ConfigService) sections() map[string]any {
	m := map[string]any{
		"log":      s.cfg.Log,
		"can":      s.cfg.CAN,
		"store":    s.cfg.Store,
		"frontend": s.cfg.FrontEnd,
		"bms":      s.cfg.BMS,
		"monitor":  s.cfg.Monitor,
	}
	if s.cfg.Mirror != nil {
		m["mirror"] = *s.cfg.Mirror
	}
	if s.cfg.Recorder != nil {
		m["recorder"] = *s.cfg.Recorder
	}
	if s.cfg.Telemetry != nil {
		m["telemetry"] = *s.cfg.Telemetry
	}
	return m
}

// Publish resolves the configuration and publishes every section retained.
// Without a configuration the profile named in ctx is used.
func (s *ConfigService) Publish(ctx context.Context, conn *bus.Connection) error {
	if s.cfg == nil {
		profile, _ := ctx.Value(CtxProfileKey).(string)
		if profile == "" {
			return errors.New("missing profile in context")
		}
		cfg, err := Embedded(profile)
		if err != nil {
			return err
		}
		s.cfg = cfg
	}
	for k, v := range s.sections() {
		conn.Publish(conn.NewMessage(types.TopicConfig(k), v, true))
	}
	return nil
}

// UpdateMonitor replaces the monitor section and republishes it.
func (s *ConfigService) UpdateMonitor(conn *bus.Connection, m MonitorConfig) {
	s.cfg.Monitor = m
	conn.Publish(conn.NewMessage(types.TopicConfig("monitor"), m, true))
}
