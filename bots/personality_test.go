package bots

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeneratePersonalityRanges(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		p := GeneratePersonality(r)
		assert.GreaterOrEqual(t, p.Aptitude, 50.0)
		assert.LessOrEqual(t, p.Aptitude, 150.0)
		assert.GreaterOrEqual(t, p.ReactionSpeed, 1)
		assert.LessOrEqual(t, p.ReactionSpeed, 10)
		assert.GreaterOrEqual(t, p.Fidgetiness, 0.0)
		assert.LessOrEqual(t, p.Fidgetiness, 1.0)
	}
}

func TestGeneratePersonalityDeterministic(t *testing.T) {
	a := GeneratePersonality(rand.New(rand.NewSource(42)))
	b := GeneratePersonality(rand.New(rand.NewSource(42)))
	assert.Equal(t, a, b)
}

func TestAccuracyMonotonicAndBounded(t *testing.T) {
	prev := 0.0
	for apt := 50.0; apt <= 150.0; apt += 0.5 {
		acc := Accuracy(apt)
		assert.GreaterOrEqual(t, acc, 0.30, "accuracy below floor at aptitude %v", apt)
		assert.LessOrEqual(t, acc, 0.95, "accuracy above ceiling at aptitude %v", apt)
		assert.GreaterOrEqual(t, acc, prev, "accuracy decreased at aptitude %v", apt)
		prev = acc
	}
}

func TestAccuracyBands(t *testing.T) {
	tests := []struct {
		aptitude float64
		min, max float64
	}{
		{50, 0.30, 0.40},
		{70, 0.30, 0.40},
		{80, 0.42, 0.55},
		{100, 0.57, 0.70},
		{120, 0.72, 0.85},
		{140, 0.87, 0.95},
		{150, 0.87, 0.95},
	}
	for _, tt := range tests {
		acc := Accuracy(tt.aptitude)
		assert.GreaterOrEqual(t, acc, tt.min, "aptitude %v", tt.aptitude)
		assert.LessOrEqual(t, acc, tt.max, "aptitude %v", tt.aptitude)
	}
}

func TestThinkDelayMonotonicNonIncreasing(t *testing.T) {
	prev := ThinkDelay(1)
	for speed := 2; speed <= 10; speed++ {
		d := ThinkDelay(speed)
		assert.LessOrEqual(t, d.Min, prev.Min, "min delay increased at speed %d", speed)
		assert.LessOrEqual(t, d.Max, prev.Max, "max delay increased at speed %d", speed)
		assert.Less(t, d.Min, d.Max, "degenerate range at speed %d", speed)
		prev = d
	}
}

func TestThinkDelayDrawWithinBounds(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for speed := 1; speed <= 10; speed++ {
		rng := ThinkDelay(speed)
		for i := 0; i < 100; i++ {
			d := rng.Draw(r)
			assert.GreaterOrEqual(t, d, rng.Min)
			assert.Less(t, d, rng.Max)
		}
	}
}

func TestFidgetInterval(t *testing.T) {
	assert.Equal(t, int64(8000), FidgetInterval(0).Milliseconds())
	assert.Equal(t, int64(2000), FidgetInterval(1).Milliseconds())
	assert.Equal(t, int64(5000), FidgetInterval(0.5).Milliseconds())
	// Out-of-range inputs clamp instead of exploding.
	assert.Equal(t, int64(8000), FidgetInterval(-1).Milliseconds())
	assert.Equal(t, int64(2000), FidgetInterval(2).Milliseconds())
}
