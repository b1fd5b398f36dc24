// types.go
package game

import "github.com/shopspring/decimal"

// Modes a family can settle in.
const (
	ModeRound   = "round"   // shared outcome per scheduled round
	ModeInstant = "instant" // fresh draw per wager
	ModeSession = "session" // multi-step, persisted between requests
)

// Raw config loaded from YAML; mirrors configs/games/*.yaml.
// default.yaml carries the family list, tiers and shared defaults.
type RawConfig struct {
	Version  string         `yaml:"version"`
	Notes    string         `yaml:"notes,omitempty"`
	Families []string       `yaml:"families,omitempty"`
	Tiers    []TierConfig   `yaml:"tiers,omitempty"`
	Kind     string         `yaml:"kind,omitempty"`
	Mode     string         `yaml:"mode,omitempty"`
	Seed     string         `yaml:"seed,omitempty"`
	Round    *RoundConfig   `yaml:"round,omitempty"`
	Stake    *StakeConfig   `yaml:"stake,omitempty"`
	Session  *SessionConfig `yaml:"session,omitempty"`

	Coin  *CoinConfig  `yaml:"coin,omitempty"`
	Wheel *WheelConfig `yaml:"wheel,omitempty"`
	Race  *RaceConfig  `yaml:"race,omitempty"`
	Gate  *GateConfig  `yaml:"gate,omitempty"`
	Reels *ReelsConfig `yaml:"reels,omitempty"`
	Cards *CardsConfig `yaml:"cards,omitempty"`
}

type TierConfig struct {
	Name      string          `yaml:"name"`
	Threshold decimal.Decimal `yaml:"threshold"`
}

type RoundConfig struct {
	EpochMs *int64 `yaml:"epoch_ms"`
	LockMs  *int64 `yaml:"lock_ms"`
}

type StakeConfig struct {
	Min *decimal.Decimal `yaml:"min,omitempty"`
	Max *decimal.Decimal `yaml:"max,omitempty"` // absent means unbounded
}

type SessionConfig struct {
	TTLSeconds *int `yaml:"ttl_seconds"`
}

type CoinConfig struct {
	Multiplier *decimal.Decimal `yaml:"multiplier"`
}

// WheelConfig holds gross multipliers per selector kind.
type WheelConfig struct {
	Color  *decimal.Decimal `yaml:"color"`
	Parity *decimal.Decimal `yaml:"parity"`
	Range  *decimal.Decimal `yaml:"range"`
	Dozen  *decimal.Decimal `yaml:"dozen"`
	Number *decimal.Decimal `yaml:"number"`
}

type RaceConfig struct {
	Volatility *float64        `yaml:"volatility,omitempty"`
	Entrants   []EntrantConfig `yaml:"entrants"`
	Tracks     []TrackConfig   `yaml:"tracks"`
}

type EntrantConfig struct {
	ID         int             `yaml:"id"`
	Name       string          `yaml:"name"`
	Weight     float64         `yaml:"weight"`
	Speed      float64         `yaml:"speed"`
	Stamina    float64         `yaml:"stamina"`
	Burst      float64         `yaml:"burst"`
	Multiplier decimal.Decimal `yaml:"multiplier"`
}

type TrackConfig struct {
	Name      string  `yaml:"name"`
	Attribute string  `yaml:"attribute"` // speed | stamina | burst
	Factor    float64 `yaml:"factor"`
}

type GateConfig struct {
	Buckets       []GateBucketConfig `yaml:"buckets"`
	Otherwise     *decimal.Decimal   `yaml:"otherwise"`
	PillarForfeit *decimal.Decimal   `yaml:"pillar_forfeit,omitempty"`
}

type GateBucketConfig struct {
	MaxGap     int             `yaml:"max_gap"`
	Multiplier decimal.Decimal `yaml:"multiplier"`
}

type ReelsConfig struct {
	Symbols    []SymbolConfig   `yaml:"symbols"`
	PairReturn *decimal.Decimal `yaml:"pair_return,omitempty"`
}

type SymbolConfig struct {
	Name       string          `yaml:"name"`
	Weight     float64         `yaml:"weight"`
	Multiplier decimal.Decimal `yaml:"multiplier"`
}

type CardsConfig struct {
	Win         *decimal.Decimal `yaml:"win"`
	Premium     *decimal.Decimal `yaml:"premium"`
	DealerStand *int             `yaml:"dealer_stand,omitempty"`
}
