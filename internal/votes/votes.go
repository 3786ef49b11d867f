// Package votes merges raw vote records from N independent sources into
// canonical per-voter, per-proposal tallies. Aggregation is read-only and
// idempotent: unchanged inputs always produce byte-identical totals and
// record ordering, regardless of which source answered first.
package votes

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// Support is a vote's choice. The integer values match the on-chain
// support column: against=0, for=1, abstain=2.
type Support int

const (
	Against Support = 0
	For     Support = 1
	Abstain Support = 2
)

func (s Support) String() string {
	switch s {
	case Against:
		return "against"
	case For:
		return "for"
	case Abstain:
		return "abstain"
	default:
		return fmt.Sprintf("support(%d)", int(s))
	}
}

// Kind separates on-chain event records from off-chain snapshot
// ballots. Sources set it explicitly at normalization; the timeline
// ordering never infers it from block or timestamp values.
type Kind int

const (
	KindOnChain Kind = iota
	KindSnapshot
)

// Record is one canonical vote record after source normalization.
// Snapshot records order by Timestamp, on-chain records by Block.
type Record struct {
	Voter      string
	ProposalID string
	Support    Support
	Weight     *big.Int
	Kind       Kind
	Block      int64
	Timestamp  int64
	Source     string
	Reason     string
	Params     []byte
}

func (r Record) snapshot() bool {
	return r.Kind == KindSnapshot
}

// Tally is the aggregate of all records for one proposal.
type Tally struct {
	For     *big.Int
	Against *big.Int
	Abstain *big.Int

	// VoterCount is the number of distinct voter addresses.
	VoterCount int

	// Records is every contributing record in canonical order.
	Records []Record

	// PartialSources names sources that were unavailable and excluded.
	// Sorted; empty means the tally is complete.
	PartialSources []string
}

// Total returns for+against+abstain.
func (t Tally) Total() *big.Int {
	total := new(big.Int).Add(t.For, t.Against)
	return total.Add(total, t.Abstain)
}

// WeightFor returns the summed weight a voter contributed to one support
// option, or nil if the voter cast no such vote.
func (t Tally) WeightFor(voter string, s Support) *big.Int {
	var sum *big.Int
	for _, r := range t.Records {
		if r.Support == s && strings.EqualFold(r.Voter, voter) {
			if sum == nil {
				sum = new(big.Int)
			}
			sum.Add(sum, r.Weight)
		}
	}
	return sum
}

// HasVoted reports whether an address contributed any record.
func (t Tally) HasVoted(voter string) bool {
	for _, r := range t.Records {
		if strings.EqualFold(r.Voter, voter) {
			return true
		}
	}
	return false
}

// Merge reduces records from any number of sources into a Tally. It is
// the single synchronization point after source fan-out: records are
// sorted into canonical order first, then summed, so the result does not
// depend on completion order.
//
// Weight is summed per support option across all sources. A voter split
// across call types contributes full weight from every source that
// recorded it; each source is assumed to be internally unique per event,
// and cross-source summation (not dedup) is the intended behavior.
func Merge(records []Record) Tally {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	SortRecords(sorted)

	t := Tally{
		For:     new(big.Int),
		Against: new(big.Int),
		Abstain: new(big.Int),
	}
	voters := map[string]struct{}{}
	for _, r := range sorted {
		if r.Weight == nil {
			continue
		}
		switch r.Support {
		case For:
			t.For.Add(t.For, r.Weight)
		case Against:
			t.Against.Add(t.Against, r.Weight)
		case Abstain:
			t.Abstain.Add(t.Abstain, r.Weight)
		}
		voters[strings.ToLower(r.Voter)] = struct{}{}
	}
	t.VoterCount = len(voters)
	t.Records = sorted
	return t
}

// SortRecords orders records into the global vote timeline: on-chain
// records by block number ascending, snapshot records after them by
// recorded timestamp, ties broken by voter address then source name.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.snapshot() != b.snapshot() {
			return !a.snapshot()
		}
		if a.snapshot() {
			if a.Timestamp != b.Timestamp {
				return a.Timestamp < b.Timestamp
			}
		} else if a.Block != b.Block {
			return a.Block < b.Block
		}
		av, bv := strings.ToLower(a.Voter), strings.ToLower(b.Voter)
		if av != bv {
			return av < bv
		}
		return a.Source < b.Source
	})
}

// parseWeight parses a numeric column rendered as text into an integer
// weight. Fractional digits beyond scale are dropped; on-chain weights
// use scale 0, snapshot voting power is scaled to 18 decimals so both
// kinds sum in the same integer domain.
func parseWeight(text string, scale int) (*big.Int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty weight")
	}
	whole, frac, _ := strings.Cut(text, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > scale {
		frac = frac[:scale]
	}
	for len(frac) < scale {
		frac += "0"
	}
	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("malformed weight %q", text)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative weight %q", text)
	}
	return v, nil
}
