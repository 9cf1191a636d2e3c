// Package pricing implements the fare engine and its hot-reloadable
// configuration store.
package pricing

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/shiva/dgdo/internal/errs"
)

// AllowedDenominations is the set of cash denominations a config may round
// fares to.
var AllowedDenominations = []float64{0.5, 1, 3, 5}

// ─── Config file schema ─────────────────────────────────────

// Rates is one rate card. The default card must be complete; zone
// overrides and A/B variants override individual fields.
type Rates struct {
	BaseFare              float64   `yaml:"base_fare" json:"base_fare"`
	PerKmRate             float64   `yaml:"per_km_rate" json:"per_km_rate"`
	PerMinRate            float64   `yaml:"per_min_rate" json:"per_min_rate"`
	MinimumFare           float64   `yaml:"minimum_fare" json:"minimum_fare"`
	CommissionPercent     float64   `yaml:"commission_percent" json:"commission_percent"`
	RoundingDenominations []float64 `yaml:"rounding_denominations" json:"rounding_denominations"`
}

// RatesOverride is a partial rate card; nil fields inherit from default.
type RatesOverride struct {
	BaseFare              *float64  `yaml:"base_fare"`
	PerKmRate             *float64  `yaml:"per_km_rate"`
	PerMinRate            *float64  `yaml:"per_min_rate"`
	MinimumFare           *float64  `yaml:"minimum_fare"`
	CommissionPercent     *float64  `yaml:"commission_percent"`
	RoundingDenominations []float64 `yaml:"rounding_denominations"`
}

// TimeMultiplier applies a surge multiplier during [StartHour, EndHour).
// EndHour itself is outside the window; ranges do not wrap past midnight,
// so an overnight window is written as two entries (23-24 and 0-5).
// EndHour 24 covers the last hour of the day.
type TimeMultiplier struct {
	StartHour       int     `yaml:"start_hour"`
	EndHour         int     `yaml:"end_hour"`
	SurgeMultiplier float64 `yaml:"surge_multiplier"`
}

// ABTest is one experiment variant; its overrides apply on top of the
// zone-resolved card when the variant is selected.
type ABTest struct {
	ExperimentName string        `yaml:"experiment_name"`
	Variant        string        `yaml:"variant"`
	Overrides      RatesOverride `yaml:"overrides"`
}

// EconomicConstraints bound the per-km rate and set the operational cost
// floor used by the unit-economics guardrail.
type EconomicConstraints struct {
	MinDriverRate        float64 `yaml:"min_driver_rate"`
	MaxDriverRate        float64 `yaml:"max_driver_rate"`
	OperationalCostFloor float64 `yaml:"operational_cost_floor"`
}

// Config is one immutable snapshot of the pricing configuration. Readers
// receive a pointer to a snapshot that is never mutated after load.
type Config struct {
	Version              string                   `yaml:"version"`
	Default              Rates                    `yaml:"default"`
	ZoneOverrides        map[string]RatesOverride `yaml:"zone_overrides"`
	TimeBasedMultipliers []TimeMultiplier         `yaml:"time_based_multipliers"`
	ABTests              []ABTest                 `yaml:"ab_tests"`
	Economic             EconomicConstraints      `yaml:"economic_constraints"`
}

// ─── Validation ─────────────────────────────────────────────

func validDenomination(d float64) bool {
	for _, allowed := range AllowedDenominations {
		if d == allowed {
			return true
		}
	}
	return false
}

// Validate checks economic constraints, the rounding set and time ranges.
// An invalid config is never installed.
func (c *Config) Validate() error {
	ec := c.Economic
	if ec.MinDriverRate > ec.MaxDriverRate {
		return fmt.Errorf("economic_constraints: min_driver_rate %.2f > max_driver_rate %.2f",
			ec.MinDriverRate, ec.MaxDriverRate)
	}

	checkRate := func(where string, rate float64) error {
		if rate < ec.MinDriverRate || rate > ec.MaxDriverRate {
			return fmt.Errorf("%s: per_km_rate %.2f violates constraints (%.2f-%.2f)",
				where, rate, ec.MinDriverRate, ec.MaxDriverRate)
		}
		return nil
	}
	if err := checkRate("default", c.Default.PerKmRate); err != nil {
		return err
	}
	for zone, ov := range c.ZoneOverrides {
		if ov.PerKmRate != nil {
			if err := checkRate("zone_overrides."+zone, *ov.PerKmRate); err != nil {
				return err
			}
		}
		for _, d := range ov.RoundingDenominations {
			if !validDenomination(d) {
				return fmt.Errorf("zone_overrides.%s: invalid rounding denomination %v", zone, d)
			}
		}
	}

	if len(c.Default.RoundingDenominations) == 0 {
		return fmt.Errorf("default: rounding_denominations must not be empty")
	}
	for _, d := range c.Default.RoundingDenominations {
		if !validDenomination(d) {
			return fmt.Errorf("default: invalid rounding denomination %v (allowed: %v)",
				d, AllowedDenominations)
		}
	}

	if c.Default.CommissionPercent < 0 || c.Default.CommissionPercent >= 100 {
		return fmt.Errorf("default: commission_percent %.2f out of range [0,100)", c.Default.CommissionPercent)
	}

	for i, tm := range c.TimeBasedMultipliers {
		if tm.StartHour < 0 || tm.StartHour > 23 || tm.EndHour < 1 || tm.EndHour > 24 {
			return fmt.Errorf("time_based_multipliers[%d]: invalid time range %d-%d",
				i, tm.StartHour, tm.EndHour)
		}
		if tm.StartHour >= tm.EndHour {
			return fmt.Errorf("time_based_multipliers[%d]: empty window %d-%d (end_hour is exclusive; split overnight windows into two entries)",
				i, tm.StartHour, tm.EndHour)
		}
		if tm.SurgeMultiplier <= 0 {
			return fmt.Errorf("time_based_multipliers[%d]: surge_multiplier must be positive", i)
		}
	}

	return nil
}

// ─── Store ──────────────────────────────────────────────────

// Store holds the active pricing configuration and hot-reloads it from a
// YAML file. Single writer (the watcher or UpdateDefault), many readers;
// the mutex is held only long enough to swap or copy out the snapshot
// pointer. An invalid reload keeps the previous valid snapshot.
type Store struct {
	path     string
	interval time.Duration
	log      *logrus.Entry

	mu       sync.Mutex
	snapshot *Config
	lastMod  time.Time
}

// NewStore loads the initial configuration from path. The initial load
// must succeed: a process without a valid rate card cannot price anything.
func NewStore(path string, interval time.Duration, log *logrus.Entry) (*Store, error) {
	s := &Store{path: path, interval: interval, log: log}
	if err := s.reload(); err != nil {
		return nil, fmt.Errorf("pricing config: initial load: %w", err)
	}
	return s, nil
}

// NewStaticStore wraps a fixed config, for tests and embedded use.
func NewStaticStore(cfg *Config, log *logrus.Entry) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{snapshot: cfg, log: log}, nil
}

// Snapshot returns the current immutable config snapshot.
func (s *Store) Snapshot() (*Config, error) {
	s.mu.Lock()
	snap := s.snapshot
	s.mu.Unlock()

	if snap == nil {
		return nil, errs.ConfigUnavailable("no valid pricing config loaded")
	}
	return snap, nil
}

// Watch polls the file's mtime every reload interval until ctx is done.
// Reload failures are logged and the prior snapshot is retained.
func (s *Store) Watch(done <-chan struct{}) {
	if s.path == "" || s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.reload(); err != nil {
				s.log.WithError(err).Warn("pricing config reload failed; keeping previous config")
			}
		}
	}
}

// reload parses and validates the file, swapping the snapshot only when
// the file changed and the new config is valid.
func (s *Store) reload() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}
	if info.ModTime().Equal(s.lastMod) {
		return nil // no changes
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.snapshot = cfg
	s.lastMod = info.ModTime()
	s.mu.Unlock()

	s.log.WithField("version", cfg.Version).Info("pricing config loaded")
	return nil
}

// FallbackConfig is the mutable default rate card exposed over RPC, kept
// for operators to adjust rates without touching the config file.
type FallbackConfig struct {
	Rates
	OperationalCostFloor float64 `json:"operational_cost_floor"`
	ConfigVersion        string  `json:"config_version"`
}

// Fallback returns the current default rate card and version.
func (s *Store) Fallback() (*FallbackConfig, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return &FallbackConfig{
		Rates:                snap.Default,
		OperationalCostFloor: snap.Economic.OperationalCostFloor,
		ConfigVersion:        snap.Version,
	}, nil
}

// UpdateFallback replaces the default rate card under the same validation
// as a file reload. The rest of the snapshot (zones, time multipliers,
// experiments, constraints) is carried over unchanged.
func (s *Store) UpdateFallback(fb *FallbackConfig) (*FallbackConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot == nil {
		return nil, errs.ConfigUnavailable("no valid pricing config loaded")
	}

	next := *s.snapshot
	next.Default = fb.Rates
	if fb.ConfigVersion != "" {
		next.Version = fb.ConfigVersion
	}
	if err := next.Validate(); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "fallback config rejected", err)
	}

	s.snapshot = &next
	s.log.WithField("version", next.Version).Info("fallback pricing config updated")
	return &FallbackConfig{
		Rates:                next.Default,
		OperationalCostFloor: next.Economic.OperationalCostFloor,
		ConfigVersion:        next.Version,
	}, nil
}
