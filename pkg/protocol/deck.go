package protocol

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Abstain is the card a participant plays when they will not estimate.
const Abstain = "?"

var DefaultCards = []string{"0", "1", "2", "3", "5", "8", "13", "21", "34", "55", "89", Abstain}

var ErrEmptyDeck = errors.New("deck has no cards")

// Deck is the fixed set of tokens a vote may carry.
type Deck struct {
	cards []string
}

func NewDeck(cards []string) (Deck, error) {
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if slices.Contains(out, c) {
			return Deck{}, fmt.Errorf("duplicate card %q", c)
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return Deck{}, ErrEmptyDeck
	}
	return Deck{cards: out}, nil
}

func DefaultDeck() Deck {
	return Deck{cards: slices.Clone(DefaultCards)}
}

func (d Deck) Contains(token string) bool {
	return slices.Contains(d.cards, token)
}

func (d Deck) Cards() []string {
	return slices.Clone(d.cards)
}
