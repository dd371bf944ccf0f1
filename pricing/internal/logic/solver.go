package logic

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrBracketNotFound means the price bracket could not be widened enough
	// to reach the target margin within Solver.MaxExpansions doublings.
	ErrBracketNotFound = errors.New("target margin not bracketed")

	// ErrNoConvergence means bisection did not settle within Solver.MaxBisections steps.
	ErrNoConvergence = errors.New("price search did not converge")
)

// MarginLevel selects which level of the cascade the solver targets.
type MarginLevel int

const (
	LevelCM2 MarginLevel = iota
	LevelCM1
	LevelCM0
)

// ParseMarginLevel maps "cm0" and "cm1" to their levels. Anything else,
// including typos and the empty string, is treated as cm2.
func ParseMarginLevel(s string) MarginLevel {
	switch s {
	case "cm0":
		return LevelCM0
	case "cm1":
		return LevelCM1
	default:
		return LevelCM2
	}
}

func (l MarginLevel) String() string {
	switch l {
	case LevelCM0:
		return "cm0"
	case LevelCM1:
		return "cm1"
	default:
		return "cm2"
	}
}

// Relative returns the relative margin of v at level l.
func (l MarginLevel) Relative(v Cm2Values) float64 {
	switch l {
	case LevelCM0:
		return CM0(v.Cm0Values).Relative
	case LevelCM1:
		return CM1(v.Cm1Values).Relative
	default:
		return CM2(v).Relative
	}
}

// Solver searches for the retail price that yields a target relative margin.
// A zero cap means the corresponding loop runs until it terminates on its own.
type Solver struct {
	MaxExpansions int
	MaxBisections int
}

// LowestPossiblePrice runs an unbounded search. It never returns an error; an
// unreachable target makes it loop forever.
func LowestPossiblePrice(values Cm2Values, targetMargin float64, level MarginLevel) float64 {
	price, _ := Solver{}.LowestPossiblePrice(values, targetMargin, level)
	return price
}

// LowestPossiblePrice finds the retail price p such that the margin at level,
// with RetailPrice = p and NetRetail rescaled by the record's retail/net ratio,
// equals targetMargin to two decimals.
//
// When the margin at a zero price already exceeds the target the upper bound
// starts at -1 and the search walks into negative prices.
func (s Solver) LowestPossiblePrice(values Cm2Values, targetMargin float64, level MarginLevel) (float64, error) {
	taxRate := values.RetailPrice / values.NetRetail
	probe := func(price float64) float64 {
		return probeMargin(values, level, price, taxRate)
	}

	lower := 0.0
	upper := values.RetailPrice * 2

	if probe(lower) > targetMargin {
		upper = -1
	}
	for expansions := 0; probe(upper) < targetMargin; expansions++ {
		if s.MaxExpansions > 0 && expansions >= s.MaxExpansions {
			return upper, fmt.Errorf("%w: upper=%g after %d doublings", ErrBracketNotFound, upper, expansions)
		}
		upper *= 2
	}

	mid := (upper + lower) / 2
	for steps := 0; mid != upper && mid != lower; steps++ {
		if s.MaxBisections > 0 && steps >= s.MaxBisections {
			return mid, fmt.Errorf("%w: bracket [%g, %g] after %d steps", ErrNoConvergence, lower, upper, steps)
		}

		margin := probe(mid)
		switch {
		case margin > targetMargin:
			upper = mid
		case margin < targetMargin:
			lower = mid
		default:
			return mid, nil
		}
		mid = (upper + lower) / 2
	}
	return mid, nil
}

// probeMargin evaluates a copy of values at the given retail price.
func probeMargin(values Cm2Values, level MarginLevel, price, taxRate float64) float64 {
	values.RetailPrice = price
	values.NetRetail = price / taxRate
	return math.Round(level.Relative(values)*100) / 100
}
