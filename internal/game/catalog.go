package game

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtding233/wager-backend/internal/accrual"
	"github.com/xtding233/wager-backend/internal/bet"
	"github.com/xtding233/wager-backend/internal/round"
)

const (
	defaultSessionTTL    = 300 * time.Second
	defaultVolatility    = 40.0
	defaultDealerStand   = 17
	defaultPillarForfeit = "2"
	defaultPairReturn    = "0.5"
)

var ErrIncompatibleReload = errors.New("incompatible config reload")

// Family is one playable game family built from its merged config.
type Family struct {
	Name       string
	Kind       string
	Mode       string
	Version    string
	Game       bet.Game
	Schedule   *round.Schedule // mode=round only
	StakeMin   decimal.Decimal
	StakeMax   decimal.Decimal // zero: unbounded
	SessionTTL time.Duration
}

func (f *Family) RoundGame() (bet.RoundGame, bool) {
	g, ok := f.Game.(bet.RoundGame)
	return g, ok && f.Mode == ModeRound
}

func (f *Family) InstantGame() (bet.InstantGame, bool) {
	g, ok := f.Game.(bet.InstantGame)
	return g, ok && f.Mode == ModeInstant
}

func (f *Family) SessionGame() (bet.SessionGame, bool) {
	g, ok := f.Game.(bet.SessionGame)
	return g, ok && f.Mode == ModeSession
}

// Catalog is an immutable snapshot of every enabled family.
type Catalog struct {
	Version   string
	Families  map[string]*Family
	Tiers     accrual.Tiers
	Scheduler *round.Scheduler
}

func (c *Catalog) Family(name string) (*Family, bool) {
	f, ok := c.Families[name]
	return f, ok
}

// Names lists family names in order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.Families))
	for n := range c.Families {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// LoadCatalog reads default.yaml and every family it lists. Any missing or
// invalid family fails the whole load.
func LoadCatalog(l *Loader) (*Catalog, error) {
	def, err := l.LoadDefault()
	if err != nil {
		return nil, err
	}
	if err := ValidateDefault(def); err != nil {
		return nil, fmt.Errorf("default: %w", err)
	}

	cat := &Catalog{Version: def.Version, Families: make(map[string]*Family, len(def.Families))}
	var schedules []round.Schedule
	for _, name := range def.Families {
		raw, err := l.LoadMerged(name)
		if err != nil {
			return nil, err
		}
		if err := ValidateRaw(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		fam, err := BuildFamily(name, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		cat.Families[name] = fam
		if fam.Schedule != nil {
			schedules = append(schedules, *fam.Schedule)
		}
	}
	if cat.Scheduler, err = round.NewScheduler(schedules...); err != nil {
		return nil, err
	}

	if len(def.Tiers) == 0 {
		cat.Tiers = accrual.DefaultTiers()
	} else {
		tiers := make([]accrual.Tier, len(def.Tiers))
		for i, t := range def.Tiers {
			tiers[i] = accrual.Tier{Name: t.Name, Threshold: t.Threshold}
		}
		cat.Tiers = accrual.NewTiers(tiers...)
	}
	return cat, nil
}

// BuildFamily turns a validated merged config into a Family.
func BuildFamily(name string, raw RawConfig) (*Family, error) {
	fam := &Family{
		Name:       name,
		Kind:       raw.Kind,
		Mode:       raw.Mode,
		Version:    raw.Version,
		SessionTTL: defaultSessionTTL,
	}
	seed := raw.Seed
	if seed == "" {
		seed = name
	}
	if raw.Stake != nil {
		if raw.Stake.Min != nil {
			fam.StakeMin = *raw.Stake.Min
		}
		if raw.Stake.Max != nil {
			fam.StakeMax = *raw.Stake.Max
		}
	}
	if raw.Session != nil && raw.Session.TTLSeconds != nil {
		fam.SessionTTL = time.Duration(*raw.Session.TTLSeconds) * time.Second
	}
	if raw.Mode == ModeRound {
		s := round.Schedule{Family: name, Epoch: time.Duration(*raw.Round.EpochMs) * time.Millisecond}
		if raw.Round.LockMs != nil {
			s.Lock = time.Duration(*raw.Round.LockMs) * time.Millisecond
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		fam.Schedule = &s
	}

	switch raw.Kind {
	case bet.KindCoin:
		fam.Game = &bet.Coin{Seed: seed, Multiplier: *raw.Coin.Multiplier}
	case bet.KindWheel:
		w := raw.Wheel
		fam.Game = &bet.Wheel{Seed: seed, Payouts: bet.WheelPayouts{
			Color: *w.Color, Parity: *w.Parity, Range: *w.Range, Dozen: *w.Dozen, Number: *w.Number,
		}}
	case bet.KindRace:
		r := &bet.Race{Seed: seed, Volatility: defaultVolatility}
		if raw.Race.Volatility != nil {
			r.Volatility = *raw.Race.Volatility
		}
		for _, e := range raw.Race.Entrants {
			r.Entrants = append(r.Entrants, bet.Entrant{
				ID: e.ID, Name: e.Name, Weight: e.Weight, Speed: e.Speed,
				Stamina: e.Stamina, Burst: e.Burst, Multiplier: e.Multiplier,
			})
		}
		for _, t := range raw.Race.Tracks {
			r.Tracks = append(r.Tracks, bet.Track{Name: t.Name, Attribute: t.Attribute, Factor: t.Factor})
		}
		fam.Game = r
	case bet.KindGate:
		g := &bet.Gate{Otherwise: *raw.Gate.Otherwise, PillarForfeit: decimal.RequireFromString(defaultPillarForfeit)}
		if raw.Gate.PillarForfeit != nil {
			g.PillarForfeit = *raw.Gate.PillarForfeit
		}
		for _, b := range raw.Gate.Buckets {
			g.Buckets = append(g.Buckets, bet.GateBucket{MaxGap: b.MaxGap, Multiplier: b.Multiplier})
		}
		fam.Game = g
	case bet.KindReels:
		r := &bet.Reels{PairReturn: decimal.RequireFromString(defaultPairReturn)}
		if raw.Reels.PairReturn != nil {
			r.PairReturn = *raw.Reels.PairReturn
		}
		for _, s := range raw.Reels.Symbols {
			r.Symbols = append(r.Symbols, bet.Symbol{Name: s.Name, Weight: s.Weight, Multiplier: s.Multiplier})
		}
		fam.Game = r
	case bet.KindCards:
		c := &bet.Blackjack{Win: *raw.Cards.Win, Premium: *raw.Cards.Premium, DealerStand: defaultDealerStand}
		if raw.Cards.DealerStand != nil {
			c.DealerStand = *raw.Cards.DealerStand
		}
		fam.Game = c
	default:
		return nil, fmt.Errorf("unknown kind %q", raw.Kind)
	}

	var ok bool
	switch fam.Mode {
	case ModeRound:
		_, ok = fam.RoundGame()
	case ModeInstant:
		_, ok = fam.InstantGame()
	case ModeSession:
		_, ok = fam.SessionGame()
	}
	if !ok {
		return nil, fmt.Errorf("kind=%s cannot run in mode=%s", fam.Kind, fam.Mode)
	}
	return fam, nil
}

// Compatible reports whether next may replace cur at runtime. Families may
// change payouts but not appear, vanish, or change kind, mode or schedule:
// a changed schedule would move round boundaries under open wagers.
func Compatible(cur, next *Catalog) error {
	var errs []error
	for name, f := range cur.Families {
		n, ok := next.Families[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%s removed", name))
			continue
		}
		if n.Kind != f.Kind || n.Mode != f.Mode {
			errs = append(errs, fmt.Errorf("%s changed kind/mode", name))
		}
		if (f.Schedule == nil) != (n.Schedule == nil) || (f.Schedule != nil && *f.Schedule != *n.Schedule) {
			errs = append(errs, fmt.Errorf("%s changed round schedule", name))
		}
	}
	for name := range next.Families {
		if _, ok := cur.Families[name]; !ok {
			errs = append(errs, fmt.Errorf("%s added", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrIncompatibleReload, errors.Join(errs...))
	}
	return nil
}
