package proposal

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// OptionTally is the recorded vote weight for one named approval option.
type OptionTally struct {
	Option string
	Votes  *big.Int
}

// StandardSlots are the stored aggregate weights in support order:
// against, for, abstain.
type StandardSlots struct {
	Against *big.Int
	For     *big.Int
	Abstain *big.Int
}

// Results is the decoded results hint stored alongside a proposal row.
// Aggregate for/against/abstain totals normally come from the vote
// aggregator; Standard is non-nil only when the indexer recorded its
// own aggregate slots, and those then take precedence on the result
// surface. The approval entries contribute the per-option weights that
// raw vote rows do not carry.
type Results struct {
	Options  []OptionTally
	Standard *StandardSlots
}

type rawResults struct {
	Standard []string `json:"standard"`
	Approval []struct {
		Param string `json:"param"`
		Votes string `json:"votes"`
	} `json:"approval"`
}

// ParseResults decodes the stored results JSON for an approval proposal.
// The approval array indexes options by their position in the payload
// (`param` is the stringified option index); absent entries read as zero
// weight. Approval proposals indexed before the governor upgrade stored
// the first two standard slots in reversed order; legacySwap restores
// the canonical against/for/abstain layout for those rows.
func ParseResults(raw []byte, data ApprovalData, legacySwap bool) (Results, error) {
	var r Results
	trimmed := strings.TrimSpace(string(raw))
	parsed := rawResults{}
	if trimmed != "" && trimmed != "{}" {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return Results{}, fmt.Errorf("parse proposal results: %w", err)
		}
	}

	if len(parsed.Standard) > 0 {
		if len(parsed.Standard) < 3 {
			return Results{}, fmt.Errorf("standard results carry %d slots, want 3", len(parsed.Standard))
		}
		slots := make([]*big.Int, 3)
		for i := 0; i < 3; i++ {
			v, ok := new(big.Int).SetString(strings.TrimSpace(parsed.Standard[i]), 10)
			if !ok {
				return Results{}, fmt.Errorf("malformed standard slot %q", parsed.Standard[i])
			}
			slots[i] = v
		}
		if legacySwap {
			slots[0], slots[1] = slots[1], slots[0]
		}
		r.Standard = &StandardSlots{Against: slots[0], For: slots[1], Abstain: slots[2]}
	}

	votesByParam := make(map[string]*big.Int, len(parsed.Approval))
	for _, entry := range parsed.Approval {
		v, ok := new(big.Int).SetString(strings.TrimSpace(entry.Votes), 10)
		if !ok {
			return Results{}, fmt.Errorf("malformed option votes %q for param %q", entry.Votes, entry.Param)
		}
		votesByParam[entry.Param] = v
	}

	for idx, opt := range data.Options {
		votes := votesByParam[fmt.Sprintf("%d", idx)]
		if votes == nil {
			votes = new(big.Int)
		}
		name := opt.Description
		if name == "" {
			name = fmt.Sprintf("option %d", idx)
		}
		r.Options = append(r.Options, OptionTally{Option: name, Votes: votes})
	}
	return r, nil
}
