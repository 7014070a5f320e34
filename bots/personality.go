package bots

import (
	"math/rand"
	"time"
)

// Personality is the fixed trait set one bot plays with. Generated once,
// owned by its agent, never persisted.
type Personality struct {
	Aptitude      float64 // [50, 150], normal around 100
	ReactionSpeed int     // [1, 10], uniform
	Fidgetiness   float64 // [0, 1], uniform
}

// GeneratePersonality draws a trait set from r. Aptitude is normally
// distributed (mean 100, sigma 20) and clamped to [50, 150].
func GeneratePersonality(r *rand.Rand) Personality {
	aptitude := r.NormFloat64()*20 + 100
	if aptitude < 50 {
		aptitude = 50
	}
	if aptitude > 150 {
		aptitude = 150
	}
	return Personality{
		Aptitude:      aptitude,
		ReactionSpeed: r.Intn(10) + 1,
		Fidgetiness:   r.Float64(),
	}
}

// Accuracy maps aptitude to the probability of answering correctly.
// Five bands, non-overlapping, increasing from 0.30 to 0.95.
func Accuracy(aptitude float64) float64 {
	switch {
	case aptitude <= 70:
		return lerpBand(aptitude, 50, 70, 0.30, 0.40)
	case aptitude <= 90:
		return lerpBand(aptitude, 70, 90, 0.42, 0.55)
	case aptitude <= 110:
		return lerpBand(aptitude, 90, 110, 0.57, 0.70)
	case aptitude <= 130:
		return lerpBand(aptitude, 110, 130, 0.72, 0.85)
	default:
		return lerpBand(aptitude, 130, 150, 0.87, 0.95)
	}
}

func lerpBand(v, lo, hi, outLo, outHi float64) float64 {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return outLo + (v-lo)/(hi-lo)*(outHi-outLo)
}

// DelayRange bounds one randomized think delay.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// ThinkDelay maps reaction speed to a think-time range. Faster reaction
// means shorter delays; bounds never increase as speed goes up.
func ThinkDelay(reactionSpeed int) DelayRange {
	switch {
	case reactionSpeed <= 2:
		return DelayRange{8000 * time.Millisecond, 15000 * time.Millisecond}
	case reactionSpeed <= 4:
		return DelayRange{5000 * time.Millisecond, 10000 * time.Millisecond}
	case reactionSpeed <= 6:
		return DelayRange{3000 * time.Millisecond, 7000 * time.Millisecond}
	case reactionSpeed <= 8:
		return DelayRange{2000 * time.Millisecond, 5000 * time.Millisecond}
	default:
		return DelayRange{1000 * time.Millisecond, 3000 * time.Millisecond}
	}
}

// Draw picks a delay uniformly inside the range.
func (d DelayRange) Draw(r *rand.Rand) time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	return d.Min + time.Duration(r.Int63n(int64(d.Max-d.Min)))
}

// FidgetInterval is how long a bot sits still in the lobby before
// considering a character swap: 2s for a maximally fidgety bot, 8s for a
// perfectly calm one.
func FidgetInterval(fidgetiness float64) time.Duration {
	if fidgetiness < 0 {
		fidgetiness = 0
	}
	if fidgetiness > 1 {
		fidgetiness = 1
	}
	ms := 2000 + (1-fidgetiness)*6000
	return time.Duration(ms) * time.Millisecond
}
