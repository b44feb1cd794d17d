package tree

import "math/rand/v2"

// Coin supplies the uniform coin flip spec.md §4.3 uses to pick a
// neighbour when an inserted key falls between two child ranges. It is
// injectable so tests can script a deterministic sequence instead of
// depending on real randomness, the way sokv's btree_test.go seeds its
// own gocode/random generator for reproducible key sequences.
type Coin interface {
	Bool() bool
}

// randCoin is the default Coin, backed by math/rand/v2.
type randCoin struct {
	r *rand.Rand
}

// NewCoin returns a Coin seeded deterministically from seed. Pass two
// different processes the same seed to get the same neighbour-selection
// sequence.
func NewCoin(seed uint64) Coin {
	return &randCoin{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (c *randCoin) Bool() bool {
	return c.r.IntN(2) == 0
}

// ScriptedCoin replays a fixed sequence of answers, then repeats the
// last one. Useful for tests that need a specific left/right choice at
// a specific insert.
type ScriptedCoin struct {
	answers []bool
	pos     int
}

// NewScriptedCoin builds a Coin that returns answers in order, then
// keeps returning the final answer once the script is exhausted.
func NewScriptedCoin(answers ...bool) *ScriptedCoin {
	return &ScriptedCoin{answers: answers}
}

func (c *ScriptedCoin) Bool() bool {
	if len(c.answers) == 0 {
		return true
	}
	if c.pos >= len(c.answers) {
		return c.answers[len(c.answers)-1]
	}
	v := c.answers[c.pos]
	c.pos++
	return v
}
