// Package frametime converts between playback time in seconds and frame
// indices at a given frame rate.
//
// Fractional broadcast rates (23.976, 29.97, 59.94) are treated as
// integer_rate * 1000/1001, so one frame lasts 1.001/ceil(fps) seconds.
// All intermediate arithmetic is done on exact rationals; float64 is only
// used at the function boundary.
//
// None of the functions validate their input. Degenerate rates (zero,
// negative integral, NaN, Inf) produce a zero frame duration, and frame
// arithmetic may yield negative times. Callers clamp results to the
// playable range of the media.
package frametime

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
)

var (
	// dropFrameFactor is the 1000/1001 NTSC correction applied to a frame duration.
	dropFrameFactor = big.NewRat(1001, 1000)

	// defaultVideoNudge is the forward bias applied when no frame rate is known.
	defaultVideoNudge = big.NewRat(1, 1000)

	// frameNudge is the fraction of one frame added to a seek target.
	frameNudge = big.NewRat(1, 1000)

	millisPerSecond = big.NewRat(1000, 1)
)

// IsFractionalRate reports whether rate is a non-integral (drop-frame derived) rate.
func IsFractionalRate(rate float64) bool {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return false
	}
	return rate != math.Trunc(rate)
}

// FrameDuration returns the length of one frame in seconds.
func FrameDuration(rate float64) float64 {
	f, _ := frameDuration(rate).Float64()
	return f
}

// TimeToFrame returns the index of the frame nearest to t. Halfway points
// round away from zero. Indices beyond the int64 range saturate.
func TimeToFrame(t, rate float64) int64 {
	d := frameDuration(rate)
	if d.Sign() == 0 {
		return 0
	}
	q := new(big.Rat).Quo(decimalRat(t), d)
	n := roundHalfAway(q)
	if !n.IsInt64() {
		if n.Sign() > 0 {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return n.Int64()
}

// FrameToTime returns the start time of frame at rate.
func FrameToTime(frame int64, rate float64) float64 {
	f, _ := frameToTime(frame, rate).Float64()
	return f
}

// MoveFrame snaps t to its frame boundary and moves delta frames from there.
// A negative result is possible and left to the caller.
func MoveFrame(t, rate float64, delta int64) float64 {
	return FrameToTime(addFrames(TimeToFrame(t, rate), delta), rate)
}

// addFrames adds delta to frame, saturating at the int64 bounds.
func addFrames(frame, delta int64) int64 {
	switch {
	case delta > 0 && frame > math.MaxInt64-delta:
		return math.MaxInt64
	case delta < 0 && frame < math.MinInt64-delta:
		return math.MinInt64
	}
	return frame + delta
}

// TimeForVideo returns a seek target slightly after t, so that a playback
// element lands on the intended frame. Times at or before zero are returned
// unchanged.
func TimeForVideo(t float64) float64 {
	return nudge(t, defaultVideoNudge)
}

// TimeForVideoAtRate is TimeForVideo with the bias set to a thousandth of one
// frame at rate.
func TimeForVideoAtRate(t, rate float64) float64 {
	return nudge(t, new(big.Rat).Mul(frameDuration(rate), frameNudge))
}

// TimeToFileName formats t as whole milliseconds, zero-padded to at least
// eight digits. 24 hours is 86,400,000 ms; longer values simply grow.
func TimeToFileName(t float64) string {
	ms := roundHalfAway(new(big.Rat).Mul(decimalRat(t), millisPerSecond))
	if ms.IsInt64() {
		return fmt.Sprintf("%08d", ms.Int64())
	}
	return ms.String()
}

func nudge(t float64, by *big.Rat) float64 {
	if !(t > 0) || math.IsInf(t, 1) {
		return t
	}
	f, _ := new(big.Rat).Add(decimalRat(t), by).Float64()
	return f
}

func frameDuration(rate float64) *big.Rat {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return new(big.Rat)
	}
	if IsFractionalRate(rate) {
		base := math.Ceil(rate)
		if base == 0 {
			return new(big.Rat)
		}
		return new(big.Rat).Quo(dropFrameFactor, new(big.Rat).SetFloat64(base))
	}
	if rate > 0 {
		return new(big.Rat).Inv(new(big.Rat).SetFloat64(rate))
	}
	return new(big.Rat)
}

func frameToTime(frame int64, rate float64) *big.Rat {
	return new(big.Rat).Mul(new(big.Rat).SetInt64(frame), frameDuration(rate))
}

// decimalRat reads f as the shortest decimal that round-trips to it, so
// 0.1 is one tenth rather than the nearest binary fraction.
func decimalRat(f float64) *big.Rat {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return new(big.Rat)
	}
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(f, 'g', -1, 64))
	if !ok {
		return new(big.Rat).SetFloat64(f)
	}
	return r
}

// roundHalfAway rounds r to the nearest integer, ties away from zero.
func roundHalfAway(r *big.Rat) *big.Int {
	num := new(big.Int).Abs(r.Num())
	den := r.Denom()

	// floor((2|n| + d) / 2d) == floor(|r| + 1/2)
	twoDen := new(big.Int).Lsh(den, 1)
	q := new(big.Int).Lsh(num, 1)
	q.Add(q, den)
	q.Quo(q, twoDen)

	if r.Sign() < 0 {
		q.Neg(q)
	}
	return q
}
