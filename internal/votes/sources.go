package votes

import (
	"context"

	"daoboard/api/internal/store"
	"daoboard/api/internal/tenant"
)

// Source is one independent supplier of vote records for a proposal.
// Fetch must honor ctx cancellation and perform no writes.
type Source interface {
	Name() string
	Required() bool
	Fetch(ctx context.Context, t tenant.Tenant, proposalID string) ([]Record, error)
}

// VoteStore is the read-only slice of the relational store the sources
// need.
type VoteStore interface {
	VoteRows(ctx context.Context, namespace, table, governor, proposalID string) ([]store.VoteRow, error)
	SnapshotVoteRows(ctx context.Context, space, proposalID string) ([]store.SnapshotVoteRow, error)
}

// eventTableSource reads one on-chain event table in the tenant's schema.
type eventTableSource struct {
	st    VoteStore
	table string
}

func (s *eventTableSource) Name() string   { return s.table }
func (s *eventTableSource) Required() bool { return false }

func (s *eventTableSource) Fetch(ctx context.Context, t tenant.Tenant, proposalID string) ([]Record, error) {
	rows, err := s.st.VoteRows(ctx, t.Namespace, s.table, addrLower(t.Contracts.Governor), proposalID)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		weight, err := parseWeight(row.Weight, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{
			Voter:      row.Voter,
			ProposalID: row.ProposalID,
			Support:    Support(row.Support),
			Weight:     weight,
			Block:      row.BlockNumber,
			Source:     s.table,
			Reason:     row.Reason.String,
			Params:     row.Params,
		})
	}
	return out, nil
}

// snapshotWeightScale widens off-chain decimal voting power to the token
// wei scale so snapshot and on-chain weights sum in one domain.
const snapshotWeightScale = 18

// snapshotSource normalizes off-chain ballots into the canonical record
// shape. Support is a synthetic affirmative: snapshot ballots here are
// single-choice ranked inputs, not for/against.
type snapshotSource struct {
	st VoteStore
}

func (s *snapshotSource) Name() string   { return "snapshot" }
func (s *snapshotSource) Required() bool { return false }

func (s *snapshotSource) Fetch(ctx context.Context, t tenant.Tenant, proposalID string) ([]Record, error) {
	rows, err := s.st.SnapshotVoteRows(ctx, t.SnapshotSpace, proposalID)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		weight, err := parseWeight(row.VotingPower, snapshotWeightScale)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{
			Voter:      row.Voter,
			ProposalID: row.ProposalID,
			Support:    For,
			Weight:     weight,
			Kind:       KindSnapshot,
			Timestamp:  row.CreatedAt,
			Source:     "snapshot",
			Reason:     row.Reason.String,
			Params:     []byte(row.Choice),
		})
	}
	return out, nil
}
