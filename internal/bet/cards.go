package bet

import (
	"strconv"

	"github.com/xtding233/wager-backend/internal/outcome"
)

var suits = [4]string{"spades", "hearts", "diamonds", "clubs"}

// Card is a playing card. Rank runs 1 (ace) to 13 (king).
type Card struct {
	Rank int    `json:"rank"`
	Suit string `json:"suit"`
}

// Label is the face label: A, 2..10, J, Q, K.
func (c Card) Label() string {
	switch c.Rank {
	case 1:
		return "A"
	case 11:
		return "J"
	case 12:
		return "Q"
	case 13:
		return "K"
	}
	return strconv.Itoa(c.Rank)
}

func (c Card) String() string { return c.Label() + " of " + c.Suit }

func drawCard(rng outcome.RandomSource) Card {
	return Card{Rank: outcome.IntN(rng, 13) + 1, Suit: suits[outcome.IntN(rng, len(suits))]}
}

// points is the blackjack value with aces counted high.
func (c Card) points() int {
	switch {
	case c.Rank == 1:
		return 11
	case c.Rank >= 10:
		return 10
	}
	return c.Rank
}

// HandTotal sums a blackjack hand, re-valuing aces from 11 to 1 while the
// total would bust. soft reports whether an ace still counts 11.
func HandTotal(cards []Card) (total int, soft bool) {
	aces := 0
	for _, c := range cards {
		total += c.points()
		if c.Rank == 1 {
			aces++
		}
	}
	for total > 21 && aces > 0 {
		total -= 10
		aces--
	}
	return total, aces > 0
}

// IsNatural reports a two-card 21.
func IsNatural(cards []Card) bool {
	t, _ := HandTotal(cards)
	return len(cards) == 2 && t == 21
}
