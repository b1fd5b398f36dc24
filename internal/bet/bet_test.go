package bet

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtding233/wager-backend/internal/outcome"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// deck forces the given ranks out of drawCard, in order, all spades.
func deck(ranks ...int) *outcome.Sequence {
	vals := make([]float64, 0, len(ranks)*2)
	for _, r := range ranks {
		vals = append(vals, (float64(r-1)+0.5)/13, 0)
	}
	return outcome.NewSequence(vals...)
}

func TestClassText(t *testing.T) {
	for _, c := range []Class{Win, Loss, Push, Pillar} {
		b, err := json.Marshal(c)
		require.NoError(t, err)
		var back Class
		require.NoError(t, json.Unmarshal(b, &back))
		assert.Equal(t, c, back)
	}
	assert.Equal(t, `"pillar"`, mustJSON(t, Pillar))
	_, err := ParseClass("jackpot")
	assert.Error(t, err)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestResultDelta(t *testing.T) {
	stake := d("10")
	assert.True(t, winAt(d("1.8"), "").Delta(stake).Equal(d("8")))
	assert.True(t, lose("").Delta(stake).Equal(d("-10")))
	assert.True(t, Result{Class: Pillar, Forfeit: d("2")}.Delta(stake).Equal(d("-20")))
	assert.True(t, Result{Class: Loss, Forfeit: d("0.5")}.Delta(stake).Equal(d("-5")))
	assert.True(t, push("").Delta(stake).IsZero())
}

func TestCoin(t *testing.T) {
	c := &Coin{Seed: "coinflip", Multiplier: d("1.8")}
	require.NoError(t, c.Validate(Selector{Kind: "side", Value: "heads"}))
	assert.ErrorIs(t, c.Validate(Selector{Kind: "side", Value: "edge"}), ErrInvalidSelector)
	assert.ErrorIs(t, c.Validate(Selector{Kind: "color", Value: "red"}), ErrInvalidSelector)

	o := c.Resolve(12345).(CoinOutcome)
	assert.Equal(t, o, c.Resolve(12345))
	assert.Equal(t, coinSides[outcome.Hash("coinflip:12345")%2], o.Side)

	res, err := c.Evaluate(o, Selector{Kind: "side", Value: o.Side})
	require.NoError(t, err)
	assert.Equal(t, Win, res.Class)
	assert.True(t, res.Multiplier.Equal(d("1.8")))

	other := "heads"
	if o.Side == "heads" {
		other = "tails"
	}
	res, err = c.Evaluate(o, Selector{Kind: "side", Value: other})
	require.NoError(t, err)
	assert.Equal(t, Loss, res.Class)

	_, err = c.Evaluate(WheelOutcome{}, Selector{Kind: "side", Value: "heads"})
	assert.ErrorIs(t, err, ErrOutcomeMismatch)
}

func testWheel() *Wheel {
	return &Wheel{Seed: "roulette", Payouts: WheelPayouts{
		Color: d("2"), Parity: d("2"), Range: d("2"), Dozen: d("3"), Number: d("36"),
	}}
}

func TestWheelPockets(t *testing.T) {
	assert.Equal(t, WheelOutcome{Number: 0, Color: "green"}, pocket(0))
	p := pocket(19)
	assert.Equal(t, "red", p.Color)
	assert.Equal(t, "odd", p.Parity)
	assert.Equal(t, "high", p.Range)
	assert.Equal(t, 2, p.Dozen)
	assert.Equal(t, 1, pocket(12).Dozen)
	assert.Equal(t, 2, pocket(13).Dozen)
	assert.Equal(t, 3, pocket(36).Dozen)
	assert.Equal(t, "low", pocket(18).Range)
	assert.Equal(t, "black", pocket(2).Color)

	w := testWheel()
	o := w.Resolve(777).(WheelOutcome)
	assert.Equal(t, int(outcome.Hash("roulette:777")%37), o.Number)
}

func TestWheelEvaluate(t *testing.T) {
	w := testWheel()
	cases := []struct {
		number int
		sel    Selector
		class  Class
		mult   string
	}{
		{19, Selector{"color", "red"}, Win, "2"},
		{19, Selector{"color", "black"}, Loss, "0"},
		{20, Selector{"parity", "even"}, Win, "2"},
		{20, Selector{"range", "high"}, Win, "2"},
		{25, Selector{"dozen", "3"}, Win, "3"},
		{24, Selector{"dozen", "3"}, Loss, "0"},
		{7, Selector{"number", "7"}, Win, "36"},
		{0, Selector{"number", "0"}, Win, "36"},
		{0, Selector{"color", "red"}, Loss, "0"},
		{0, Selector{"parity", "even"}, Loss, "0"},
		{0, Selector{"range", "low"}, Loss, "0"},
		{0, Selector{"dozen", "1"}, Loss, "0"},
	}
	for _, tc := range cases {
		res, err := w.Evaluate(pocket(tc.number), tc.sel)
		require.NoError(t, err)
		assert.Equalf(t, tc.class, res.Class, "%d %s", tc.number, tc.sel)
		assert.Truef(t, res.Multiplier.Equal(d(tc.mult)), "%d %s: %s", tc.number, tc.sel, res.Multiplier)
	}
}

func TestWheelValidate(t *testing.T) {
	w := testWheel()
	for _, sel := range []Selector{
		{"color", "green"}, {"parity", "zero"}, {"range", "mid"},
		{"dozen", "0"}, {"dozen", "4"}, {"number", "37"}, {"number", "-1"},
		{"number", "x"}, {"corner", "1"},
	} {
		assert.ErrorIsf(t, w.Validate(sel), ErrInvalidSelector, "%s", sel)
	}
}

func testRace(vol float64) *Race {
	return &Race{
		Seed: "horse",
		Entrants: []Entrant{
			{ID: 1, Name: "Blaze", Weight: 30, Speed: 92, Stamina: 88, Burst: 86, Multiplier: d("2.6")},
			{ID: 2, Name: "Thunder", Weight: 28, Speed: 89, Stamina: 90, Burst: 84, Multiplier: d("3")},
			{ID: 3, Name: "Phantom", Weight: 24, Speed: 86, Stamina: 84, Burst: 91, Multiplier: d("3.5")},
			{ID: 4, Name: "Nightblade", Weight: 18, Speed: 82, Stamina: 80, Burst: 94, Multiplier: d("4.5")},
		},
		Tracks: []Track{
			{Name: "dry", Attribute: "speed", Factor: 0.05},
			{Name: "wet", Attribute: "stamina", Factor: 0.06},
			{Name: "night", Attribute: "burst", Factor: 0.07},
		},
		Volatility: vol,
	}
}

func TestRaceDeterministic(t *testing.T) {
	r := testRace(40)
	for id := int64(100); id < 120; id++ {
		a := r.Resolve(id).(RaceOutcome)
		b := r.Resolve(id).(RaceOutcome)
		require.Equal(t, mustJSON(t, a), mustJSON(t, b))
		require.Len(t, a.Placings, 4)
		for i, p := range a.Placings {
			assert.Equal(t, i+1, p.Rank)
			if i > 0 {
				assert.LessOrEqual(t, a.Placings[i-1].FinishTime, p.FinishTime)
			}
		}
		assert.Contains(t, []string{"dry", "wet", "night"}, a.Track)
	}
}

func TestRaceWithoutLuckFavouriteWins(t *testing.T) {
	r := testRace(0)
	o := r.Resolve(42).(RaceOutcome)
	assert.Equal(t, 1, o.Winner().EntrantID)

	res, err := r.Evaluate(o, Selector{"entrant", "1"})
	require.NoError(t, err)
	assert.Equal(t, Win, res.Class)
	assert.True(t, res.Multiplier.Equal(d("2.6")))

	res, err = r.Evaluate(o, Selector{"entrant", "4"})
	require.NoError(t, err)
	assert.Equal(t, Loss, res.Class)

	assert.ErrorIs(t, r.Validate(Selector{"entrant", "9"}), ErrInvalidSelector)
}

func TestRaceFinishTime(t *testing.T) {
	r := testRace(0)
	r.Tracks = []Track{{Name: "flat"}}
	o := r.Resolve(1).(RaceOutcome)
	// entrant 1 base score 219.4
	assert.Equal(t, 1, o.Placings[0].EntrantID)
	assert.InDelta(t, 53.81, o.Placings[0].FinishTime, 1e-9)
	assert.InDelta(t, 72.3, o.Placings[0].TopSpeed, 1e-9)
}

func testGate() *Gate {
	return &Gate{
		Buckets:       []GateBucket{{MaxGap: 3, Multiplier: d("3")}, {MaxGap: 5, Multiplier: d("2")}},
		Otherwise:     d("1.2"),
		PillarForfeit: d("2"),
	}
}

func gateAt(low, high, shot int) GateOutcome {
	s := Card{Rank: shot, Suit: "hearts"}
	return GateOutcome{Low: Card{Rank: low, Suit: "spades"}, High: Card{Rank: high, Suit: "clubs"}, Shot: &s}
}

func TestGateBuckets(t *testing.T) {
	g := testGate()
	cases := []struct {
		low, high, shot int
		class           Class
		mult            string
	}{
		{3, 6, 4, Win, "3"},   // gap 3
		{3, 8, 4, Win, "2"},   // gap 5
		{3, 9, 6, Win, "1.2"}, // gap 6
		{3, 9, 3, Pillar, "0"},
		{3, 9, 9, Pillar, "0"},
		{3, 9, 10, Loss, "0"},
		{3, 4, 4, Pillar, "0"},
	}
	for _, tc := range cases {
		res, err := g.Evaluate(gateAt(tc.low, tc.high, tc.shot), Selector{})
		require.NoError(t, err)
		assert.Equalf(t, tc.class, res.Class, "%d-%d shot %d", tc.low, tc.high, tc.shot)
		assert.Truef(t, res.Multiplier.Equal(d(tc.mult)), "%d-%d shot %d", tc.low, tc.high, tc.shot)
	}
	res, _ := g.Evaluate(gateAt(3, 9, 3), Selector{})
	assert.True(t, res.Delta(d("10")).Equal(d("-20")))
	assert.True(t, g.MaxForfeit(Selector{}).Equal(d("2")))
}

func TestGateClassicFlow(t *testing.T) {
	g := testGate()
	// second card repeats the first rank and is redrawn
	st, err := g.Deal(deck(9, 9, 3), Selector{})
	require.NoError(t, err)
	gate := st.(GateOutcome)
	assert.Equal(t, 3, gate.Low.Rank)
	assert.Equal(t, 9, gate.High.Rank)
	assert.False(t, st.Done())
	assert.Equal(t, []string{ActionShot}, st.Actions())

	_, err = g.Evaluate(st, Selector{})
	assert.ErrorIs(t, err, ErrNotFinished)
	_, err = g.Act(st, "peek", deck(5))
	assert.ErrorIs(t, err, ErrInvalidAction)

	raw, err := json.Marshal(st)
	require.NoError(t, err)
	st, err = g.DecodeState(raw)
	require.NoError(t, err)

	st, err = g.Act(st, ActionShot, deck(5))
	require.NoError(t, err)
	assert.True(t, st.Done())
	res, err := g.Evaluate(st, Selector{})
	require.NoError(t, err)
	assert.Equal(t, Win, res.Class)
	assert.True(t, res.Multiplier.Equal(d("1.2")))

	_, err = g.Act(st, ActionShot, deck(5))
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestGateQuickDraw(t *testing.T) {
	g := testGate()
	o, err := g.Draw(deck(8, 5, 6))
	require.NoError(t, err)
	gate := o.(GateOutcome)
	assert.Equal(t, 5, gate.Low.Rank)
	assert.Equal(t, 8, gate.High.Rank)
	require.NotNil(t, gate.Shot)
	res, err := g.Evaluate(o, Selector{})
	require.NoError(t, err)
	assert.Equal(t, Win, res.Class)
	assert.True(t, res.Multiplier.Equal(d("3")))
}

func testReels() *Reels {
	return &Reels{
		Symbols: []Symbol{
			{Name: "cherry", Weight: 30, Multiplier: d("3")},
			{Name: "lemon", Weight: 25, Multiplier: d("4")},
			{Name: "bell", Weight: 20, Multiplier: d("6")},
			{Name: "star", Weight: 15, Multiplier: d("9")},
			{Name: "diamond", Weight: 8, Multiplier: d("16")},
			{Name: "seven", Weight: 2, Multiplier: d("51")},
		},
		PairReturn: d("0.5"),
	}
}

func TestReels(t *testing.T) {
	r := testReels()
	o, err := r.Draw(outcome.NewSequence(0.1))
	require.NoError(t, err)
	assert.Equal(t, []string{"cherry", "cherry", "cherry"}, o.(ReelsOutcome).Symbols)

	res, err := r.Evaluate(o, Selector{})
	require.NoError(t, err)
	assert.Equal(t, Win, res.Class)
	assert.True(t, res.Delta(d("10")).Equal(d("20")))

	res, err = r.Evaluate(ReelsOutcome{Symbols: []string{"seven", "bell", "seven"}}, Selector{})
	require.NoError(t, err)
	assert.Equal(t, Loss, res.Class)
	assert.True(t, res.Delta(d("10")).Equal(d("-5")))

	res, err = r.Evaluate(ReelsOutcome{Symbols: []string{"seven", "bell", "star"}}, Selector{})
	require.NoError(t, err)
	assert.True(t, res.Delta(d("10")).Equal(d("-10")))

	o, err = r.Draw(outcome.NewSequence(0.995))
	require.NoError(t, err)
	assert.Equal(t, []string{"seven", "seven", "seven"}, o.(ReelsOutcome).Symbols)

	_, err = r.Evaluate(ReelsOutcome{Symbols: []string{"seven"}}, Selector{})
	assert.ErrorIs(t, err, ErrOutcomeMismatch)
}

func hand(ranks ...int) []Card {
	out := make([]Card, len(ranks))
	for i, r := range ranks {
		out[i] = Card{Rank: r, Suit: "spades"}
	}
	return out
}

func TestHandTotal(t *testing.T) {
	total, soft := HandTotal(hand(1, 13))
	assert.Equal(t, 21, total)
	assert.True(t, soft)
	assert.True(t, IsNatural(hand(1, 13)))

	total, _ = HandTotal(hand(13, 12, 5))
	assert.Equal(t, 25, total)

	total, soft = HandTotal(hand(1, 1, 9))
	assert.Equal(t, 21, total)
	assert.True(t, soft)

	total, soft = HandTotal(hand(1, 9, 5))
	assert.Equal(t, 15, total)
	assert.False(t, soft)
}

func testBlackjack() *Blackjack {
	return &Blackjack{Win: d("2"), Premium: d("2.5"), DealerStand: 17}
}

func TestBlackjackEvaluate(t *testing.T) {
	b := testBlackjack()
	cases := []struct {
		name           string
		player, dealer []Card
		class          Class
		mult           string
	}{
		{"premium", hand(1, 13), hand(10, 8), Win, "2.5"},
		{"bust", hand(13, 12, 5), hand(10, 8), Loss, "0"},
		{"both natural", hand(1, 13), hand(1, 12), Push, "0"},
		{"dealer natural", hand(10, 9), hand(1, 11), Loss, "0"},
		{"dealer bust", hand(10, 6), hand(10, 6, 9), Win, "2"},
		{"higher", hand(10, 9), hand(10, 8), Win, "2"},
		{"equal", hand(10, 8), hand(9, 9), Push, "0"},
		{"lower", hand(10, 7), hand(10, 8), Loss, "0"},
		{"late 21 is not premium", hand(5, 6, 13), hand(10, 8), Win, "2"},
	}
	for _, tc := range cases {
		res, err := b.Evaluate(CardsState{Player: tc.player, Dealer: tc.dealer, Finished: true}, Selector{})
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.class, res.Class, tc.name)
		assert.True(t, res.Multiplier.Equal(d(tc.mult)), tc.name)
	}
	_, err := b.Evaluate(CardsState{Player: hand(10, 2), Dealer: hand(10, 8)}, Selector{})
	assert.ErrorIs(t, err, ErrNotFinished)
}

func TestBlackjackNaturalFinishesOnDeal(t *testing.T) {
	b := testBlackjack()
	st, err := b.Deal(deck(1, 13, 10, 8), Selector{})
	require.NoError(t, err)
	assert.True(t, st.Done())
	assert.Empty(t, st.Actions())
}

func TestBlackjackStandDealerDraws(t *testing.T) {
	b := testBlackjack()
	st, err := b.Deal(deck(10, 7, 10, 6, 5), Selector{})
	require.NoError(t, err)
	require.False(t, st.Done())

	view := st.View().(CardsView)
	assert.Len(t, view.Dealer, 1)
	assert.Equal(t, 1, view.Hidden)
	assert.Equal(t, 17, view.PlayerTotal)

	st, err = b.Act(st, ActionStand, deck(5))
	require.NoError(t, err)
	cs := st.(CardsState)
	assert.True(t, cs.Finished)
	assert.Len(t, cs.Dealer, 3)

	res, err := b.Evaluate(st, Selector{})
	require.NoError(t, err)
	assert.Equal(t, Loss, res.Class)

	_, err = b.Act(st, ActionHit, deck(2))
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestBlackjackHitBustAndAutoStand(t *testing.T) {
	b := testBlackjack()
	st, err := b.Deal(deck(10, 6, 10, 8), Selector{})
	require.NoError(t, err)
	before := st.(CardsState)

	busted, err := b.Act(st, ActionHit, deck(13))
	require.NoError(t, err)
	assert.True(t, busted.Done())
	assert.Len(t, busted.(CardsState).Dealer, 2)
	// the input state is not mutated
	assert.Len(t, before.Player, 2)

	st, err = b.Deal(deck(10, 6, 10, 7), Selector{})
	require.NoError(t, err)
	st, err = b.Act(st, ActionHit, deck(5))
	require.NoError(t, err)
	assert.True(t, st.Done())
	res, err := b.Evaluate(st, Selector{})
	require.NoError(t, err)
	assert.Equal(t, Win, res.Class)
	assert.True(t, res.Multiplier.Equal(d("2")))

	_, err = b.Act(before, "double", deck(2))
	assert.ErrorIs(t, err, ErrInvalidAction)

	raw, err := json.Marshal(before)
	require.NoError(t, err)
	back, err := b.DecodeState(raw)
	require.NoError(t, err)
	assert.Equal(t, before, back)
}
