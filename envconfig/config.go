package envconfig

import (
	"strconv"
	"time"
)

// ConfigSetter mutates an EngineConfig; EnvConfigSetter additionally takes
// the raw string value read from an Environment. Both aliases mirror the
// teacher's ConfigSetter/EnvConfigSetter types in config.go.
type ConfigSetter func(c *EngineConfig)
type EnvConfigSetter func(c *EngineConfig, value string)

// EngineConfig holds every tunable the engine needs at startup. Defaults
// match the intervals named in the cleanup & quotas component.
type EngineConfig struct {
	L1Path              string
	L2Path              string
	L3Path              string
	LeakageSweepInterval time.Duration
	ExpirySweepInterval  time.Duration
	RetentionSweep       time.Duration
	PersistDebounce      time.Duration
	NoopenerInheritWindow time.Duration
	FreeTierSessionLimit int
	FreeTierRetention    time.Duration
	StartupTimeout       time.Duration
}

// NewConfig returns an EngineConfig with the defaults from the spec,
// mirroring the convenience-constructor pattern of the teacher's
// NewConfig.
func NewConfig() *EngineConfig {
	return &EngineConfig{
		L1Path:                "tabsession-l1",
		L2Path:                "tabsession-l2",
		L3Path:                "tabsession-l3.db",
		LeakageSweepInterval:  2 * time.Second,
		ExpirySweepInterval:   60 * time.Second,
		RetentionSweep:        6 * time.Hour,
		PersistDebounce:       1 * time.Second,
		NoopenerInheritWindow: 30 * time.Second,
		FreeTierSessionLimit:  3,
		FreeTierRetention:     7 * 24 * time.Hour,
		StartupTimeout:        30 * time.Second,
	}
}

// EnvMap wires env-var names to setters, the same dispatch table shape as
// the teacher's package-level EnvMap in config.go.
var EnvMap = map[string]EnvConfigSetter{
	"TABSESSION_L1_PATH": func(c *EngineConfig, v string) { c.L1Path = v },
	"TABSESSION_L2_PATH": func(c *EngineConfig, v string) { c.L2Path = v },
	"TABSESSION_L3_PATH": func(c *EngineConfig, v string) { c.L3Path = v },
	"TABSESSION_FREE_TIER_LIMIT": func(c *EngineConfig, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			c.FreeTierSessionLimit = n
		}
	},
	"TABSESSION_NOOPENER_WINDOW_SECONDS": func(c *EngineConfig, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			c.NoopenerInheritWindow = time.Duration(n) * time.Second
		}
	},
}

// ProcessEnv applies every setter in envMap whose key is present in env,
// in the style of the teacher's ProcessEnv(env, EnvMap).
func ProcessEnv(env Environment, envMap map[string]EnvConfigSetter) *EngineConfig {
	c := NewConfig()
	for key, value := range env.Values() {
		if setter, ok := envMap[key]; ok {
			setter(c, value)
		}
	}
	return c
}
