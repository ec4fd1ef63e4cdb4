package frametime

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Rational represents a frame rate as numerator/denominator, the way
// containers report it (30000/1001).
type Rational struct {
	Num int64 // Numerator
	Den int64 // Denominator
}

// Float64 returns the floating point representation
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// IsNTSC reports whether r is an integer rate scaled by 1000/1001.
func (r Rational) IsNTSC() bool {
	return r.Den == 1001 && r.Num > 0 && r.Num%1000 == 0
}

// Nominal returns the rate in the form callers store it. NTSC rates become
// the familiar rounded value (29.97, 23.976, 59.94); everything else is the
// plain quotient.
func (r Rational) Nominal() float64 {
	if r.Den == 0 {
		return 0
	}
	if r.Num%r.Den == 0 {
		return float64(r.Num / r.Den)
	}
	if r.IsNTSC() {
		// three decimals is enough to keep ceil() on the integer base
		return math.Round(r.Float64()*1000) / 1000
	}
	return r.Float64()
}

// FrameDuration returns the frame length in seconds for the nominal rate.
func (r Rational) FrameDuration() float64 {
	return FrameDuration(r.Nominal())
}

func (r Rational) String() string {
	if r.Den == 1 {
		return strconv.FormatInt(r.Num, 10)
	}
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// NTSC frame rates
var (
	FrameRate23_976 = Rational{Num: 24000, Den: 1001} // 23.976 fps
	FrameRate29_97  = Rational{Num: 30000, Den: 1001} // 29.97 fps
	FrameRate59_94  = Rational{Num: 60000, Den: 1001} // 59.94 fps
)

// ntscNominals maps the rounded values people type to their exact rates.
var ntscNominals = map[string]Rational{
	"23.976": FrameRate23_976,
	"23.98":  FrameRate23_976,
	"29.97":  FrameRate29_97,
	"59.94":  FrameRate59_94,
}

const maxFrameRate = 1 << 20

// ParseFrameRate parses "30", "29.97" or "30000/1001". Only strictly positive
// rates are accepted.
func ParseFrameRate(s string) (Rational, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rational{}, fmt.Errorf("empty frame rate")
	}

	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
		if err != nil {
			return Rational{}, fmt.Errorf("invalid frame rate numerator %q: %w", num, err)
		}
		d, err := strconv.ParseInt(strings.TrimSpace(den), 10, 64)
		if err != nil {
			return Rational{}, fmt.Errorf("invalid frame rate denominator %q: %w", den, err)
		}
		if n <= 0 || d <= 0 {
			return Rational{}, fmt.Errorf("frame rate must be positive: %s", s)
		}
		return Rational{Num: n, Den: d}, nil
	}

	if r, ok := ntscNominals[s]; ok {
		return r, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Rational{}, fmt.Errorf("invalid frame rate %q: %w", s, err)
	}
	if !(f > 0) || math.IsInf(f, 0) {
		return Rational{}, fmt.Errorf("frame rate must be positive: %s", s)
	}
	if f > maxFrameRate {
		return Rational{}, fmt.Errorf("frame rate too large: %s", s)
	}
	if f == math.Trunc(f) {
		return Rational{Num: int64(f), Den: 1}, nil
	}

	// other decimals are kept exactly as written: 12.5 is 25/2
	exact, ok := new(big.Rat).SetString(s)
	if !ok || !exact.Num().IsInt64() || !exact.Denom().IsInt64() {
		return Rational{}, fmt.Errorf("frame rate has too many digits: %s", s)
	}
	return Rational{Num: exact.Num().Int64(), Den: exact.Denom().Int64()}, nil
}
