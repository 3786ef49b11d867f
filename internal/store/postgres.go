package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const proposalColumns = `
	proposal_id,
	COALESCE(proposer, ''),
	COALESCE(description, ''),
	COALESCE(proposal_type, ''),
	COALESCE(proposal_data, '{}'),
	COALESCE(proposal_results, '{}'),
	quorum::text,
	created_block,
	start_block,
	end_block,
	start_timestamp,
	end_timestamp,
	cancelled_block,
	executed_block,
	queued_block
`

func scanProposal(row interface{ Scan(...any) error }) (ProposalRow, error) {
	var p ProposalRow
	err := row.Scan(
		&p.ProposalID,
		&p.Proposer,
		&p.Description,
		&p.ProposalType,
		&p.ProposalData,
		&p.ProposalResults,
		&p.Quorum,
		&p.CreatedBlock,
		&p.StartBlock,
		&p.EndBlock,
		&p.StartTimestamp,
		&p.EndTimestamp,
		&p.CancelledBlock,
		&p.ExecutedBlock,
		&p.QueuedBlock,
	)
	return p, err
}

// GetProposal reads one proposal from the tenant's schema. The namespace
// comes from the tenant catalog, never from request input, so it is safe
// to interpolate into the table identifier.
func (s *PostgresStore) GetProposal(ctx context.Context, namespace, governor, proposalID string) (ProposalRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s.proposals_v2 WHERE proposal_id = $1 AND contract = $2`, proposalColumns, namespace)
	p, err := scanProposal(s.db.QueryRowContext(ctx, query, proposalID, governor))
	if errors.Is(err, sql.ErrNoRows) {
		return ProposalRow{}, fmt.Errorf("proposal %s: %w", proposalID, ErrNotFound)
	}
	if err != nil {
		return ProposalRow{}, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

// ListProposals returns proposals newest-first by creation block.
func (s *PostgresStore) ListProposals(ctx context.Context, namespace, governor string, limit, offset int) ([]ProposalRow, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s.proposals_v2
		WHERE contract = $1
		ORDER BY created_block DESC NULLS LAST, proposal_id DESC
		LIMIT $2 OFFSET $3
	`, proposalColumns, namespace)
	rows, err := s.db.QueryContext(ctx, query, governor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []ProposalRow
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// VoteRows reads every vote event for a proposal from one tenant event
// table. The engine never writes these tables.
func (s *PostgresStore) VoteRows(ctx context.Context, namespace, table, governor, proposalID string) ([]VoteRow, error) {
	query := fmt.Sprintf(`
		SELECT
			transaction_hash,
			proposal_id,
			voter,
			support,
			weight::text,
			reason,
			block_number,
			COALESCE(params, '')
		FROM %s.%s
		WHERE proposal_id = $1 AND contract = $2
		ORDER BY block_number ASC, voter ASC
	`, namespace, table)
	rows, err := s.db.QueryContext(ctx, query, proposalID, governor)
	if err != nil {
		return nil, fmt.Errorf("query %s.%s: %w", namespace, table, err)
	}
	defer rows.Close()

	var out []VoteRow
	for rows.Next() {
		var v VoteRow
		if err := rows.Scan(
			&v.TransactionHash,
			&v.ProposalID,
			&v.Voter,
			&v.Support,
			&v.Weight,
			&v.Reason,
			&v.BlockNumber,
			&v.Params,
		); err != nil {
			return nil, fmt.Errorf("scan %s.%s: %w", namespace, table, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SnapshotVoteRows reads the off-chain ballots recorded for a proposal in
// a snapshot space.
func (s *PostgresStore) SnapshotVoteRows(ctx context.Context, space, proposalID string) ([]SnapshotVoteRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT voter, proposal_id, COALESCE(choice, ''), voting_power::text, created, reason
		FROM snapshot.votes
		WHERE space = $1 AND proposal_id = $2
		ORDER BY created ASC, voter ASC
	`, space, proposalID)
	if err != nil {
		return nil, fmt.Errorf("query snapshot votes: %w", err)
	}
	defer rows.Close()

	var out []SnapshotVoteRow
	for rows.Next() {
		var v SnapshotVoteRow
		if err := rows.Scan(&v.Voter, &v.ProposalID, &v.Choice, &v.VotingPower, &v.CreatedAt, &v.Reason); err != nil {
			return nil, fmt.Errorf("scan snapshot vote: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetRound(ctx context.Context, roundID int64) (RoundRow, error) {
	var r RoundRow
	err := s.db.QueryRowContext(ctx, `
		SELECT round_id, budget_min, budget_max FROM rounds WHERE round_id = $1
	`, roundID).Scan(&r.RoundID, &r.BudgetMin, &r.BudgetMax)
	if errors.Is(err, sql.ErrNoRows) {
		return RoundRow{}, fmt.Errorf("round %d: %w", roundID, ErrNotFound)
	}
	if err != nil {
		return RoundRow{}, fmt.Errorf("get round: %w", err)
	}
	return r, nil
}

// GetBallot reads a ballot header and its category rows. Missing ballots
// return ErrNotFound; first write creates them.
func (s *PostgresStore) GetBallot(ctx context.Context, roundID int64, address string) (BallotRow, []BallotCategoryRow, error) {
	var b BallotRow
	err := s.db.QueryRowContext(ctx, `
		SELECT address, round_id, budget, os_only, os_multiplier
		FROM ballots WHERE round_id = $1 AND address = $2
	`, roundID, address).Scan(&b.Address, &b.RoundID, &b.Budget, &b.OSOnly, &b.OSMultiplier)
	if errors.Is(err, sql.ErrNoRows) {
		return BallotRow{}, nil, fmt.Errorf("ballot %d/%s: %w", roundID, address, ErrNotFound)
	}
	if err != nil {
		return BallotRow{}, nil, fmt.Errorf("get ballot: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT address, round_id, category_id, allocation_bps, locked, is_os, impact, rank
		FROM ballot_allocations
		WHERE round_id = $1 AND address = $2
		ORDER BY rank ASC, category_id ASC
	`, roundID, address)
	if err != nil {
		return BallotRow{}, nil, fmt.Errorf("get ballot allocations: %w", err)
	}
	defer rows.Close()

	var cats []BallotCategoryRow
	for rows.Next() {
		var c BallotCategoryRow
		if err := rows.Scan(&c.Address, &c.RoundID, &c.CategoryID, &c.AllocationBps, &c.Locked, &c.IsOS, &c.Impact, &c.Rank); err != nil {
			return BallotRow{}, nil, fmt.Errorf("scan ballot allocation: %w", err)
		}
		cats = append(cats, c)
	}
	return b, cats, rows.Err()
}

// SaveBallot persists a full validated ballot snapshot in one
// transaction. Mutations are whole-ballot snapshots, not deltas, so a
// concurrent writer on the same field group resolves last-writer-wins
// without partial state.
func (s *PostgresStore) SaveBallot(ctx context.Context, b BallotRow, cats []BallotCategoryRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ballot tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ballots (address, round_id, budget, os_only, os_multiplier, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (address, round_id) DO UPDATE SET
			budget = EXCLUDED.budget,
			os_only = EXCLUDED.os_only,
			os_multiplier = EXCLUDED.os_multiplier,
			updated_at = NOW()
	`, b.Address, b.RoundID, b.Budget, b.OSOnly, b.OSMultiplier); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert ballot: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM ballot_allocations WHERE round_id = $1 AND address = $2
	`, b.RoundID, b.Address); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear ballot allocations: %w", err)
	}

	for _, c := range cats {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ballot_allocations (address, round_id, category_id, allocation_bps, locked, is_os, impact, rank, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		`, b.Address, b.RoundID, c.CategoryID, c.AllocationBps, c.Locked, c.IsOS, c.Impact, c.Rank); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert ballot allocation %s: %w", c.CategoryID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ballot: %w", err)
	}
	return nil
}
