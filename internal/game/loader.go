package game

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrMissingFamily is returned when a listed family has no config file.
var ErrMissingFamily = errors.New("family config file not found")

// Paths helper for default/family files.
type Paths struct {
	BaseDir string // base directory, e.g., /opt/app/configs
}

func (p Paths) DefaultPath() string {
	return filepath.Join(p.BaseDir, "games", "default.yaml")
}
func (p Paths) FamilyPath(family string) string {
	return filepath.Join(p.BaseDir, "games", family+".yaml")
}

// Loader reads YAML configs and merges default → family.
type Loader struct {
	paths Paths

	mu    sync.RWMutex
	cache map[string]RawConfig // key: family name or "$default"
}

// NewLoader creates a config loader with the given base directory.
func NewLoader(baseDir string) *Loader {
	return &Loader{
		paths: Paths{BaseDir: baseDir},
		cache: make(map[string]RawConfig),
	}
}

func (l *Loader) Paths() Paths { return l.paths }

// LoadDefault loads default.yaml. It must exist.
func (l *Loader) LoadDefault() (RawConfig, error) {
	l.mu.RLock()
	if cfg, ok := l.cache["$default"]; ok {
		l.mu.RUnlock()
		return cfg, nil
	}
	l.mu.RUnlock()

	cfg, found, err := readYAML(l.paths.DefaultPath())
	if err != nil {
		return RawConfig{}, fmt.Errorf("read default: %w", err)
	}
	if !found {
		return RawConfig{}, fmt.Errorf("read default: %s: %w", l.paths.DefaultPath(), os.ErrNotExist)
	}

	l.mu.Lock()
	l.cache["$default"] = cfg
	l.mu.Unlock()
	return cfg, nil
}

// LoadMerged loads and merges default → family. Unlike default.yaml
// entries, a family file is required.
func (l *Loader) LoadMerged(family string) (RawConfig, error) {
	l.mu.RLock()
	if cfg, ok := l.cache[family]; ok {
		l.mu.RUnlock()
		return cfg, nil
	}
	l.mu.RUnlock()

	defCfg, err := l.LoadDefault()
	if err != nil {
		return RawConfig{}, err
	}
	famCfg, found, err := readYAML(l.paths.FamilyPath(family))
	if err != nil {
		return RawConfig{}, fmt.Errorf("read %s: %w", family, err)
	}
	if !found {
		return RawConfig{}, fmt.Errorf("%w: %s", ErrMissingFamily, l.paths.FamilyPath(family))
	}

	merged := mergeRaw(defCfg, famCfg)
	// the family list and tiers belong to default.yaml only
	merged.Families = nil
	merged.Tiers = nil

	l.mu.Lock()
	l.cache[family] = merged
	l.mu.Unlock()
	return merged, nil
}

// Invalidate clears loader's cache. Call after hot-reload detects changes.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]RawConfig)
}

// readYAML loads a YAML file into RawConfig. found is false for a missing file.
func readYAML(path string) (cfg RawConfig, found bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RawConfig{}, false, nil
		}
		return RawConfig{}, false, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return RawConfig{}, true, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, true, nil
}

// mergeRaw overlays b on a: scalars and pointers set in b win, sections
// present in b replace a's.
func mergeRaw(a, b RawConfig) RawConfig {
	out := a

	if b.Version != "" {
		out.Version = b.Version
	}
	if b.Notes != "" {
		out.Notes = b.Notes
	}
	if len(b.Families) > 0 {
		out.Families = append([]string(nil), b.Families...)
	}
	if len(b.Tiers) > 0 {
		out.Tiers = append([]TierConfig(nil), b.Tiers...)
	}
	if b.Kind != "" {
		out.Kind = b.Kind
	}
	if b.Mode != "" {
		out.Mode = b.Mode
	}
	if b.Seed != "" {
		out.Seed = b.Seed
	}

	// round
	switch {
	case out.Round == nil && b.Round != nil:
		c := *b.Round
		out.Round = &c
	case out.Round != nil && b.Round != nil:
		c := *out.Round
		if b.Round.EpochMs != nil {
			c.EpochMs = b.Round.EpochMs
		}
		if b.Round.LockMs != nil {
			c.LockMs = b.Round.LockMs
		}
		out.Round = &c
	}

	// stake
	switch {
	case out.Stake == nil && b.Stake != nil:
		c := *b.Stake
		out.Stake = &c
	case out.Stake != nil && b.Stake != nil:
		c := *out.Stake
		if b.Stake.Min != nil {
			c.Min = b.Stake.Min
		}
		if b.Stake.Max != nil {
			c.Max = b.Stake.Max
		}
		out.Stake = &c
	}

	// session
	if b.Session != nil && b.Session.TTLSeconds != nil {
		c := *b.Session
		out.Session = &c
	}

	// payout sections are taken whole
	if b.Coin != nil {
		out.Coin = b.Coin
	}
	if b.Wheel != nil {
		out.Wheel = b.Wheel
	}
	if b.Race != nil {
		out.Race = b.Race
	}
	if b.Gate != nil {
		out.Gate = b.Gate
	}
	if b.Reels != nil {
		out.Reels = b.Reels
	}
	if b.Cards != nil {
		out.Cards = b.Cards
	}

	return out
}
