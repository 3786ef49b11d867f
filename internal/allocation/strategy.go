package allocation

import (
	"math/big"
	"sort"
	"strings"
)

// Strategy is the closed, tenant-selectable distribution set.
type Strategy string

const (
	StrategyImpactGroups Strategy = "IMPACT_GROUPS"
	StrategyTopToBottom  Strategy = "TOP_TO_BOTTOM"
	StrategyTopWeighted  Strategy = "TOP_WEIGHTED"
	StrategyEqualSplit   Strategy = "EQUAL_SPLIT"
	StrategyManual       Strategy = "MANUAL"
)

// ParseStrategy resolves a raw strategy name; unknown names are a
// validation error, not a fallthrough.
func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(strings.ToUpper(strings.TrimSpace(raw))) {
	case StrategyImpactGroups:
		return StrategyImpactGroups, nil
	case StrategyTopToBottom:
		return StrategyTopToBottom, nil
	case StrategyTopWeighted:
		return StrategyTopWeighted, nil
	case StrategyEqualSplit:
		return StrategyEqualSplit, nil
	case StrategyManual:
		return StrategyManual, nil
	default:
		return "", invalid("strategy", "unknown strategy %q", raw)
	}
}

// topWeightedScale sizes the integer weight domain for rank-decay
// weights so the division keeps enough significant digits.
const topWeightedScale = 1_000_000_000

// Distribute redistributes the unlocked remainder of a ballot according
// to the strategy. Locked allocations are fixed inputs; when the OS-only
// filter is set, non-OS categories are removed from the distributable
// set before the strategy runs (their unlocked allocations drop to
// zero). The result always sums to exactly 100%: leftover basis points
// from integer division are round-robined across the distributable set.
//
// With every category locked there is nothing to redistribute and every
// strategy is a no-op.
func Distribute(b Ballot, s Strategy) (Ballot, error) {
	out := b.clone()
	if s == StrategyManual {
		return out, nil
	}

	lockedSum := out.LockedBps()
	if lockedSum > TotalBps {
		return Ballot{}, invalid("categories", "locked allocations exceed 100%%")
	}
	remainder := TotalBps - lockedSum

	// Indexes into out.Categories that a strategy may assign to.
	var eligible []int
	for i, c := range out.Categories {
		if c.Locked {
			continue
		}
		if out.OSOnly && !c.IsOS {
			out.Categories[i].Allocation = 0
			continue
		}
		eligible = append(eligible, i)
	}

	if len(eligible) == 0 {
		if remainder != 0 {
			return Ballot{}, invalid("categories", "%d bps unlocked but no distributable category", remainder)
		}
		return out, nil
	}

	weights, err := strategyWeights(out, s, eligible)
	if err != nil {
		return Ballot{}, err
	}

	assignShares(out.Categories, eligible, weights, remainder)
	return out, nil
}

// strategyWeights returns one relative weight per eligible index.
// Weights only need to be proportional; assignShares normalizes them
// onto the remainder exactly.
func strategyWeights(b Ballot, s Strategy, eligible []int) ([]*big.Int, error) {
	n := len(eligible)
	weights := make([]*big.Int, n)

	switch s {
	case StrategyEqualSplit:
		for i := range weights {
			weights[i] = big.NewInt(1)
		}

	case StrategyImpactGroups:
		// Proportional to the category's impact score; unevaluated
		// categories (impact 0) receive nothing.
		total := 0
		for i, idx := range eligible {
			impact := b.Categories[idx].Impact
			weights[i] = big.NewInt(int64(impact))
			total += impact
		}
		if total == 0 {
			return nil, invalid("categories", "impact-groups strategy requires at least one evaluated category")
		}

	case StrategyTopToBottom:
		// Linear ramp by rank: the top-ranked category receives the
		// largest share, decreasing by a constant step to the bottom.
		order := ranked(b, eligible)
		for pos, i := range order {
			weights[i] = big.NewInt(int64(2 * (n - pos)))
		}

	case StrategyTopWeighted:
		// Rank-decay weights 1/(rank position + 1), widened to an
		// integer domain so division stays exact.
		order := ranked(b, eligible)
		for pos, i := range order {
			weights[i] = big.NewInt(int64(topWeightedScale / (pos + 1)))
		}

	default:
		return nil, invalid("strategy", "unknown strategy %q", s)
	}

	return weights, nil
}

// ranked returns positions 0..n-1 of the eligible slice ordered by
// category rank ascending (rank 1 first), ties by id for determinism.
func ranked(b Ballot, eligible []int) []int {
	order := make([]int, len(eligible))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		cx, cy := b.Categories[eligible[order[x]]], b.Categories[eligible[order[y]]]
		if cx.Rank != cy.Rank {
			return cx.Rank < cy.Rank
		}
		return cx.ID < cy.ID
	})
	return order
}

// assignShares splits remainder across the eligible categories in
// proportion to weights, exactly. Integer division rounds down; the
// leftover basis points are spread one at a time in eligible order
// until the sum matches the remainder.
func assignShares(cats []Category, eligible []int, weights []*big.Int, remainder int64) {
	totalWeight := new(big.Int)
	for _, w := range weights {
		totalWeight.Add(totalWeight, w)
	}

	assigned := int64(0)
	rem := big.NewInt(remainder)
	for i, idx := range eligible {
		share := int64(0)
		if totalWeight.Sign() > 0 {
			v := new(big.Int).Mul(rem, weights[i])
			v.Quo(v, totalWeight)
			share = v.Int64()
		}
		cats[idx].Allocation = share
		assigned += share
	}

	leftover := remainder - assigned
	for i := int64(0); i < leftover; i++ {
		cats[eligible[int(i)%len(eligible)]].Allocation++
	}
}

// ApplyOSMultiplier rescales the unlocked categories so open-source
// ones carry multiplier times their previous weight, keeping the
// unlocked share total unchanged. A ballot with no unlocked weight is
// returned as-is.
func ApplyOSMultiplier(b Ballot) Ballot {
	out := b.clone()
	if out.OSMultiplier <= 1 {
		return out
	}

	var eligible []int
	var remainder int64
	for i, c := range out.Categories {
		if c.Locked {
			continue
		}
		eligible = append(eligible, i)
		remainder += c.Allocation
	}
	if len(eligible) == 0 || remainder == 0 {
		return out
	}

	weights := make([]*big.Int, len(eligible))
	anyWeight := false
	for i, idx := range eligible {
		c := out.Categories[idx]
		w := big.NewInt(c.Allocation)
		if c.IsOS {
			w.Mul(w, big.NewInt(out.OSMultiplier))
		}
		weights[i] = w
		if w.Sign() > 0 {
			anyWeight = true
		}
	}
	if !anyWeight {
		return out
	}

	assignShares(out.Categories, eligible, weights, remainder)
	return out
}
