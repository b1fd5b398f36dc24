package game

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// ValidateDefault checks the shared default.yaml.
func ValidateDefault(cfg RawConfig) error {
	var errs []string

	if len(cfg.Families) == 0 {
		errs = append(errs, "families must list at least one family")
	}
	seen := map[string]bool{}
	for _, f := range cfg.Families {
		if f == "" || strings.ContainsAny(f, `/\.`) {
			errs = append(errs, fmt.Sprintf("families: invalid name %q", f))
		}
		if seen[f] {
			errs = append(errs, fmt.Sprintf("families: %q listed twice", f))
		}
		seen[f] = true
	}
	for i, t := range cfg.Tiers {
		if t.Name == "" {
			errs = append(errs, fmt.Sprintf("tiers[%d].name is required", i))
		}
		if t.Threshold.IsNegative() {
			errs = append(errs, fmt.Sprintf("tiers[%d].threshold must be >= 0", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateRaw checks semantic constraints of a merged family RawConfig.
func ValidateRaw(cfg RawConfig) error {
	var errs []string
	// gross multipliers below 1 would pay a "win" less than the stake
	gross := func(name string, v *decimal.Decimal) {
		if v == nil {
			errs = append(errs, name+" is required")
		} else if v.LessThan(one) {
			errs = append(errs, name+" must be >= 1")
		}
	}

	// mode
	switch cfg.Mode {
	case ModeRound:
		if cfg.Round == nil || cfg.Round.EpochMs == nil {
			errs = append(errs, "round.epoch_ms is required for mode=round")
		} else if *cfg.Round.EpochMs <= 0 {
			errs = append(errs, "round.epoch_ms must be >= 1")
		}
		if cfg.Round != nil && cfg.Round.LockMs != nil {
			if *cfg.Round.LockMs < 0 {
				errs = append(errs, "round.lock_ms must be >= 0")
			} else if cfg.Round.EpochMs != nil && *cfg.Round.LockMs >= *cfg.Round.EpochMs {
				errs = append(errs, "round.lock_ms must be < round.epoch_ms")
			}
		}
	case ModeInstant:
	case ModeSession:
		if cfg.Session != nil && cfg.Session.TTLSeconds != nil && *cfg.Session.TTLSeconds <= 0 {
			errs = append(errs, "session.ttl_seconds must be >= 1")
		}
	default:
		errs = append(errs, "mode must be one of: round, instant, session")
	}

	// stake
	if cfg.Stake != nil {
		if cfg.Stake.Min != nil && !cfg.Stake.Min.IsPositive() {
			errs = append(errs, "stake.min must be > 0")
		}
		if cfg.Stake.Max != nil && !cfg.Stake.Max.IsPositive() {
			errs = append(errs, "stake.max must be > 0")
		}
		if cfg.Stake.Min != nil && cfg.Stake.Max != nil && cfg.Stake.Max.LessThan(*cfg.Stake.Min) {
			errs = append(errs, "stake.max must be >= stake.min")
		}
	}

	// kind and its section
	switch cfg.Kind {
	case "coin":
		if cfg.Coin == nil {
			errs = append(errs, "coin section is required for kind=coin")
			break
		}
		gross("coin.multiplier", cfg.Coin.Multiplier)
	case "wheel":
		if cfg.Wheel == nil {
			errs = append(errs, "wheel section is required for kind=wheel")
			break
		}
		gross("wheel.color", cfg.Wheel.Color)
		gross("wheel.parity", cfg.Wheel.Parity)
		gross("wheel.range", cfg.Wheel.Range)
		gross("wheel.dozen", cfg.Wheel.Dozen)
		gross("wheel.number", cfg.Wheel.Number)
	case "race":
		if cfg.Race == nil {
			errs = append(errs, "race section is required for kind=race")
			break
		}
		if len(cfg.Race.Entrants) < 2 {
			errs = append(errs, "race.entrants needs at least two entrants")
		}
		ids := map[int]bool{}
		for i, e := range cfg.Race.Entrants {
			if ids[e.ID] {
				errs = append(errs, fmt.Sprintf("race.entrants[%d].id %d is duplicated", i, e.ID))
			}
			ids[e.ID] = true
			m := e.Multiplier
			gross(fmt.Sprintf("race.entrants[%d].multiplier", i), &m)
		}
		for i, t := range cfg.Race.Tracks {
			switch t.Attribute {
			case "speed", "stamina", "burst":
			default:
				errs = append(errs, fmt.Sprintf("race.tracks[%d].attribute must be speed, stamina or burst", i))
			}
		}
		if cfg.Race.Volatility != nil && *cfg.Race.Volatility < 0 {
			errs = append(errs, "race.volatility must be >= 0")
		}
	case "gate":
		if cfg.Gate == nil {
			errs = append(errs, "gate section is required for kind=gate")
			break
		}
		last := 0
		for i, b := range cfg.Gate.Buckets {
			if b.MaxGap <= last {
				errs = append(errs, fmt.Sprintf("gate.buckets[%d].max_gap must be ascending and >= 1", i))
			}
			last = b.MaxGap
			m := b.Multiplier
			gross(fmt.Sprintf("gate.buckets[%d].multiplier", i), &m)
		}
		gross("gate.otherwise", cfg.Gate.Otherwise)
		if cfg.Gate.PillarForfeit != nil && cfg.Gate.PillarForfeit.LessThan(one) {
			errs = append(errs, "gate.pillar_forfeit must be >= 1")
		}
	case "reels":
		if cfg.Reels == nil {
			errs = append(errs, "reels section is required for kind=reels")
			break
		}
		if len(cfg.Reels.Symbols) == 0 {
			errs = append(errs, "reels.symbols must not be empty")
		}
		names := map[string]bool{}
		for i, s := range cfg.Reels.Symbols {
			if s.Name == "" || names[s.Name] {
				errs = append(errs, fmt.Sprintf("reels.symbols[%d].name must be unique and non-empty", i))
			}
			names[s.Name] = true
			if !(s.Weight > 0) {
				errs = append(errs, fmt.Sprintf("reels.symbols[%d].weight must be > 0", i))
			}
			m := s.Multiplier
			gross(fmt.Sprintf("reels.symbols[%d].multiplier", i), &m)
		}
		if pr := cfg.Reels.PairReturn; pr != nil && (pr.IsNegative() || pr.GreaterThan(one)) {
			errs = append(errs, "reels.pair_return must be in [0,1]")
		}
	case "cards":
		if cfg.Cards == nil {
			errs = append(errs, "cards section is required for kind=cards")
			break
		}
		gross("cards.win", cfg.Cards.Win)
		gross("cards.premium", cfg.Cards.Premium)
		if ds := cfg.Cards.DealerStand; ds != nil && (*ds < 12 || *ds > 21) {
			errs = append(errs, "cards.dealer_stand must be in [12,21]")
		}
	default:
		errs = append(errs, "kind must be one of: coin, wheel, race, gate, reels, cards")
	}

	// kind/mode pairing
	if ok := modeSupports(cfg.Kind, cfg.Mode); !ok && cfg.Kind != "" && cfg.Mode != "" {
		errs = append(errs, fmt.Sprintf("kind=%s cannot run in mode=%s", cfg.Kind, cfg.Mode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func modeSupports(kind, mode string) bool {
	switch mode {
	case ModeRound:
		return kind == "coin" || kind == "wheel" || kind == "race"
	case ModeInstant:
		return kind == "coin" || kind == "wheel" || kind == "gate" || kind == "reels"
	case ModeSession:
		return kind == "gate" || kind == "cards"
	}
	return false
}
