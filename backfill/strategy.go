/*
strategy.go - Collection strategy selection

PURPOSE:
  Chooses how a period's records are fetched: one bulk all-districts pull, a
  per-district fetch loop, or a targeted multi-district loop. The caller can
  force a strategy; otherwise target-count heuristics decide.
*/
package backfill

type Strategy string

const (
	// StrategySystemWide fetches every district in one bulk pull.
	StrategySystemWide Strategy = "system-wide"
	// StrategyPerDistrict fetches a single district.
	StrategyPerDistrict Strategy = "per-district"
	// StrategyTargetedMulti loops a per-district fetch over a small target set.
	StrategyTargetedMulti Strategy = "targeted-multi"
)

// defaultTargetedMax is the largest target set still cheaper to fetch
// district-by-district than with a bulk pull.
const defaultTargetedMax = 8

// SelectStrategy picks the collection strategy for a validated scope.
// A non-empty forced strategy always wins.
func SelectStrategy(scope *Scope, forced Strategy, targetedMax int) Strategy {
	if forced != "" {
		return forced
	}
	if targetedMax <= 0 {
		targetedMax = defaultTargetedMax
	}
	if scope.Type == ScopeSystemWide {
		return StrategySystemWide
	}
	switch n := len(scope.ValidDistricts); {
	case n == 1:
		return StrategyPerDistrict
	case n <= targetedMax:
		return StrategyTargetedMulti
	default:
		return StrategySystemWide
	}
}
