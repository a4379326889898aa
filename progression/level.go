// Package progression accumulates experience and levels for players and NFTs
// from finalized results.
package progression

import (
	"fmt"
	"math"

	"github.com/tolelom/tolsettle/core"
)

// ExpPerLevelUnit is the divisor k in level = floor(sqrt(exp / k)).
const ExpPerLevelUnit = 100

// CalculateLevel maps cumulative experience to a level. It is pure and
// monotonic non-decreasing in exp.
func CalculateLevel(exp uint64) uint64 {
	return isqrt(exp / ExpPerLevelUnit)
}

// isqrt returns floor(sqrt(n)) using the bitwise digit-by-digit method.
func isqrt(n uint64) uint64 {
	var root uint64
	bit := uint64(1) << 62
	for bit > n {
		bit >>= 2
	}
	for bit != 0 {
		if n >= root+bit {
			n -= root + bit
			root = root>>1 + bit
		} else {
			root >>= 1
		}
		bit >>= 2
	}
	return root
}

// Record applies one finalized game to p.
func Record(p *core.Progress, score, exp uint64) error {
	if p.TotalGamesPlayed == math.MaxUint64 {
		return fmt.Errorf("games played overflow: %w", core.ErrInvalidParams)
	}
	totalScore, err := add(p.TotalScore, score, "total score")
	if err != nil {
		return err
	}
	experience, err := add(p.Experience, exp, "experience")
	if err != nil {
		return err
	}
	p.TotalGamesPlayed++
	p.TotalScore = totalScore
	p.Experience = experience
	p.Level = CalculateLevel(experience)
	return nil
}

// AddExperience grants exp without counting a game.
func AddExperience(p *core.Progress, exp uint64) error {
	experience, err := add(p.Experience, exp, "experience")
	if err != nil {
		return err
	}
	p.Experience = experience
	p.Level = CalculateLevel(experience)
	return nil
}

func add(a, b uint64, what string) (uint64, error) {
	if b > math.MaxUint64-a {
		return 0, fmt.Errorf("%s overflow: %w", what, core.ErrInvalidParams)
	}
	return a + b, nil
}
