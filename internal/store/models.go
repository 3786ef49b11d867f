package store

import "database/sql"

// ProposalRow mirrors one row of a tenant's proposals table. Numeric
// columns that can exceed int64 (quorum, weights) are scanned as text and
// parsed by the caller.
type ProposalRow struct {
	ProposalID      string
	Proposer        string
	Description     string
	ProposalType    string
	ProposalData    []byte
	ProposalResults []byte
	Quorum          sql.NullString
	CreatedBlock    sql.NullInt64
	StartBlock      sql.NullInt64
	EndBlock        sql.NullInt64
	StartTimestamp  sql.NullInt64
	EndTimestamp    sql.NullInt64
	CancelledBlock  sql.NullInt64
	ExecutedBlock   sql.NullInt64
	QueuedBlock     sql.NullInt64
}

// VoteRow is one raw on-chain vote event. A voter may appear in several
// event tables for the same proposal when weight is split across call
// types; rows are summed downstream, never deduplicated.
type VoteRow struct {
	TransactionHash string
	ProposalID      string
	Voter           string
	Support         int
	Weight          string
	Reason          sql.NullString
	BlockNumber     int64
	Params          []byte
}

// SnapshotVoteRow is one off-chain ballot. Voting power is a decimal
// snapshot, not an on-chain token amount.
type SnapshotVoteRow struct {
	Voter       string
	ProposalID  string
	Choice      string
	VotingPower string
	CreatedAt   int64
	Reason      sql.NullString
}

// RoundRow configures one allocation round's budget bounds.
type RoundRow struct {
	RoundID   int64
	BudgetMin int64
	BudgetMax int64
}

// BallotRow is the ballot header; category rows hang off it.
type BallotRow struct {
	Address      string
	RoundID      int64
	Budget       int64
	OSOnly       bool
	OSMultiplier int64
}

// BallotCategoryRow is one category allocation on a ballot. Allocation is
// in basis points of the full budget (10000 == 100%).
type BallotCategoryRow struct {
	Address       string
	RoundID       int64
	CategoryID    string
	AllocationBps int64
	Locked        bool
	IsOS          bool
	Impact        int
	Rank          int
}
