package proposal

import (
	"math/big"
	"sort"
	"strings"

	"daoboard/api/internal/ratio"
	"daoboard/api/internal/votes"
)

// Status is a proposal's derived lifecycle state. It is re-computed on
// every read and never persisted; the on-chain reported facts
// (cancelled, executed, queued) take precedence over derivation.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusSucceeded Status = "SUCCEEDED"
	StatusDefeated  Status = "DEFEATED"
	StatusQueued    Status = "QUEUED"
	StatusExecuted  Status = "EXECUTED"
	StatusCancelled Status = "CANCELLED"
	StatusUnknown   Status = "UNKNOWN"
)

// Clock is the chain's current position, in both units so either marker
// mode can compare against it.
type Clock struct {
	Block     int64
	Timestamp int64
}

// StatusInput gathers everything status derivation depends on. Marker
// pointers are nil when the indexer has no value; a proposal missing the
// marker its tenant mode requires derives StatusUnknown.
type StatusInput struct {
	Type          Type
	Undecodable   bool
	TimestampMode bool

	StartBlock *int64
	EndBlock   *int64
	StartTime  *int64
	EndTime    *int64

	// Reported on-chain facts; authoritative and irreversible.
	Cancelled bool
	Executed  bool
	Queued    bool

	// SnapshotState is the off-chain system's own recorded state, used
	// verbatim for snapshot proposals.
	SnapshotState string

	Quorum                  *big.Int
	ApprovalThresholdBps    uint64
	DisapprovalThresholdBps uint64

	Tally         votes.Tally
	Options       []OptionTally
	Criteria      ApprovalCriteria
	CriteriaValue *big.Int

	Clock         Clock
	VotableSupply *big.Int
}

// ComputeStatus derives the current lifecycle state. Pure: equal inputs
// always produce equal output, and no input is mutated.
func ComputeStatus(in StatusInput) Status {
	if in.Type == TypeSnapshot {
		if s := strings.TrimSpace(in.SnapshotState); s != "" {
			return Status(strings.ToUpper(s))
		}
		return StatusUnknown
	}

	// Contract-reported terminal facts win over any derivation.
	if in.Cancelled {
		return StatusCancelled
	}
	if in.Executed {
		return StatusExecuted
	}
	if in.Queued {
		return StatusQueued
	}

	if in.Type == TypeUnknown || in.Undecodable {
		return StatusUnknown
	}

	start, end, now := in.markers()
	if start == nil || end == nil {
		return StatusUnknown
	}
	if now < *start {
		return StatusPending
	}
	if now < *end {
		return StatusActive
	}

	switch in.Type {
	case TypeStandard:
		return standardOutcome(in)
	case TypeOptimistic:
		return optimisticOutcome(in)
	case TypeApproval:
		return approvalOutcome(in)
	default:
		return StatusUnknown
	}
}

func (in StatusInput) markers() (start, end *int64, now int64) {
	if in.TimestampMode {
		return in.StartTime, in.EndTime, in.Clock.Timestamp
	}
	return in.StartBlock, in.EndBlock, in.Clock.Block
}

// standardOutcome: succeeded iff total weight meets quorum and the
// for-vs-against ratio meets the approval threshold. Boundary equality
// counts as met for both.
func standardOutcome(in StatusInput) Status {
	if !quorumMet(in.Tally.Total(), in.Quorum) {
		return StatusDefeated
	}
	contested := new(big.Int).Add(in.Tally.For, in.Tally.Against)
	if !ratio.Meets(in.Tally.For, contested, in.ApprovalThresholdBps) {
		return StatusDefeated
	}
	return StatusSucceeded
}

// optimisticOutcome: passes by default; defeated only when the against
// weight reaches the disapproval share of votable supply. Quorum does
// not apply. A zero threshold means the tenant configures no objection
// threshold for the type, so nothing can defeat the proposal. A zero
// votable supply never defeats either (safe-division contract: the
// ratio reads as zero).
func optimisticOutcome(in StatusInput) Status {
	if in.DisapprovalThresholdBps == 0 {
		return StatusSucceeded
	}
	if ratio.Meets(in.Tally.Against, in.VotableSupply, in.DisapprovalThresholdBps) {
		return StatusDefeated
	}
	return StatusSucceeded
}

// approvalOutcome: quorum counts for+abstain weight. THRESHOLD criteria
// succeeds when any option's weight strictly exceeds the criteria value;
// TOP_CHOICES succeeds when at least one option individually clears
// quorum.
func approvalOutcome(in StatusInput) Status {
	quorumWeight := new(big.Int).Add(in.Tally.For, in.Tally.Abstain)
	if !quorumMet(quorumWeight, in.Quorum) {
		return StatusDefeated
	}

	if in.Criteria == CriteriaThreshold {
		threshold := in.CriteriaValue
		if threshold == nil {
			threshold = new(big.Int)
		}
		for _, opt := range in.Options {
			if opt.Votes != nil && opt.Votes.Cmp(threshold) > 0 {
				return StatusSucceeded
			}
		}
		return StatusDefeated
	}

	if len(SucceededOptions(in)) > 0 {
		return StatusSucceeded
	}
	return StatusDefeated
}

// SucceededOptions returns, for top-N selection, the N highest-weighted
// options that individually clear quorum, ordered by weight descending
// (ties by option name for determinism). N is the criteria value, or all
// clearing options when no value is set.
func SucceededOptions(in StatusInput) []OptionTally {
	var cleared []OptionTally
	for _, opt := range in.Options {
		if opt.Votes != nil && quorumMet(opt.Votes, in.Quorum) {
			cleared = append(cleared, opt)
		}
	}
	sort.SliceStable(cleared, func(i, j int) bool {
		if c := cleared[i].Votes.Cmp(cleared[j].Votes); c != 0 {
			return c > 0
		}
		return cleared[i].Option < cleared[j].Option
	})

	if in.CriteriaValue != nil && in.CriteriaValue.Sign() > 0 && in.CriteriaValue.IsInt64() {
		if n := int(in.CriteriaValue.Int64()); len(cleared) > n {
			cleared = cleared[:n]
		}
	}
	return cleared
}

// quorumMet: boundary equality counts as met. A nil quorum means the
// proposal has no quorum requirement.
func quorumMet(weight, quorum *big.Int) bool {
	if quorum == nil || quorum.Sign() == 0 {
		return true
	}
	if weight == nil {
		return false
	}
	return weight.Cmp(quorum) >= 0
}
