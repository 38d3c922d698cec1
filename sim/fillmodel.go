package sim

import (
	"fmt"
	"math/rand"
)

// DefaultSeed is used when a run configuration leaves the seed unset.
// A missing seed still yields a fully reproducible sequence; there is
// no path to true nondeterminism.
const DefaultSeed int64 = 42

// FillModel decides whether a conditional order fills when price
// touches its level, and whether a fill slips one price increment.
// It owns its pseudorandom stream: given the same seed and the same
// sequence of decision requests, the answers are bit-for-bit identical.
type FillModel struct {
	probFillAtLimit float64
	probFillAtStop  float64
	probSlippage    float64
	rng             *rand.Rand
}

// NewFillModel validates the three probabilities and seeds the stream.
// Pass seed 0 for the default seed.
func NewFillModel(probFillAtLimit, probFillAtStop, probSlippage float64, seed int64) (*FillModel, error) {
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"prob_fill_at_limit", probFillAtLimit},
		{"prob_fill_at_stop", probFillAtStop},
		{"prob_slippage", probSlippage},
	} {
		if p.v < 0 || p.v > 1 {
			return nil, fmt.Errorf("%s must be in [0, 1], got %v", p.name, p.v)
		}
	}
	if seed == 0 {
		seed = DefaultSeed
	}
	return &FillModel{
		probFillAtLimit: probFillAtLimit,
		probFillAtStop:  probFillAtStop,
		probSlippage:    probSlippage,
		rng:             rand.New(rand.NewSource(seed)),
	}, nil
}

// PerfectFillModel always fills on touch and never slips.
func PerfectFillModel() *FillModel {
	m, _ := NewFillModel(1, 1, 0, DefaultSeed)
	return m
}

// LimitFilled draws whether a resting limit order fills on an exact
// touch of its level.
func (m *FillModel) LimitFilled() bool { return m.draw(m.probFillAtLimit) }

// StopFilled draws whether a stop order triggers on an exact touch.
func (m *FillModel) StopFilled() bool { return m.draw(m.probFillAtStop) }

// Slipped draws whether one increment of adverse slippage applies.
func (m *FillModel) Slipped() bool { return m.draw(m.probSlippage) }

func (m *FillModel) draw(p float64) bool {
	// Always consume exactly one value so the stream position depends
	// only on the request sequence, not on the probabilities.
	v := m.rng.Float64()
	return v < p
}
