package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"daoboard/api/internal/allocation"
	"daoboard/api/internal/chain"
	"daoboard/api/internal/config"
	"daoboard/api/internal/proposal"
	"daoboard/api/internal/ratio"
	"daoboard/api/internal/store"
	"daoboard/api/internal/tenant"
	"daoboard/api/internal/votes"
)

type CategoryInput struct {
	ID         string `json:"id" validate:"required"`
	Allocation int64  `json:"allocation" validate:"gte=0"`
	Locked     bool   `json:"locked"`
	IsOS       bool   `json:"isOs"`
	Impact     int    `json:"impact" validate:"gte=0,lte=5"`
	Rank       int    `json:"rank" validate:"gte=0"`
}

type UpdateBudgetInput struct {
	Budget int64 `json:"budget" validate:"gte=0"`
}

type UpdateCategoriesInput struct {
	Categories []CategoryInput `json:"categories" validate:"required,min=1,dive"`
}

type UpdateOSOnlyInput struct {
	Enabled bool `json:"enabled"`
}

type UpdateOSMultiplierInput struct {
	Multiplier int64 `json:"multiplier" validate:"gte=1"`
}

type DistributeInput struct {
	Strategy string `json:"strategy" validate:"required"`
}

type dataStore interface {
	Ping(context.Context) error
	GetProposal(ctx context.Context, namespace, governor, proposalID string) (store.ProposalRow, error)
	ListProposals(ctx context.Context, namespace, governor string, limit, offset int) ([]store.ProposalRow, error)
	GetRound(ctx context.Context, roundID int64) (store.RoundRow, error)
	GetBallot(ctx context.Context, roundID int64, address string) (store.BallotRow, []store.BallotCategoryRow, error)
	SaveBallot(ctx context.Context, b store.BallotRow, cats []store.BallotCategoryRow) error
}

type voteAggregator interface {
	Aggregate(ctx context.Context, t tenant.Tenant, proposalID string) (votes.Tally, error)
	Timeline(ctx context.Context, t tenant.Tenant, proposalID string) ([]votes.Record, error)
}

type Service struct {
	cfg      config.Config
	registry *tenant.Registry
	store    dataStore
	agg      voteAggregator
	chain    chain.Client
	validate *validator.Validate
}

func New(cfg config.Config, registry *tenant.Registry, dataStore *store.PostgresStore, agg *votes.Aggregator, chainClient chain.Client) *Service {
	return &Service{
		cfg:      cfg,
		registry: registry,
		store:    dataStore,
		agg:      agg,
		chain:    chainClient,
		validate: validator.New(),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Tenants() []string {
	return s.registry.Slugs()
}

func (s *Service) resolveTenant(slug string) (tenant.Tenant, error) {
	return s.registry.Resolve(slug)
}

func governorAddr(t tenant.Tenant) string {
	return strings.ToLower(t.Contracts.Governor.Hex())
}

func (s *Service) ListProposals(ctx context.Context, slug string, limit, offset int) (map[string]any, error) {
	t, err := s.resolveTenant(slug)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.store.ListProposals(ctx, t.Namespace, governorAddr(t), limit, offset)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		item, err := s.proposalPayload(ctx, t, row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return map[string]any{
		"tenant": t.Slug,
		"items":  items,
		"limit":  limit,
		"offset": offset,
	}, nil
}

func (s *Service) GetProposal(ctx context.Context, slug, proposalID string) (map[string]any, error) {
	t, err := s.resolveTenant(slug)
	if err != nil {
		return nil, err
	}
	row, err := s.store.GetProposal(ctx, t.Namespace, governorAddr(t), proposalID)
	if err != nil {
		return nil, err
	}
	return s.proposalPayload(ctx, t, row)
}

func (s *Service) ProposalVotes(ctx context.Context, slug, proposalID string) (map[string]any, error) {
	t, err := s.resolveTenant(slug)
	if err != nil {
		return nil, err
	}
	tally, err := s.aggregate(ctx, t, proposalID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(tally.Records))
	for _, r := range tally.Records {
		items = append(items, recordPayload(r))
	}
	return map[string]any{
		"tenant":         t.Slug,
		"proposalId":     proposalID,
		"votes":          items,
		"voterCount":     tally.VoterCount,
		"partialSources": tally.PartialSources,
	}, nil
}

// ExportTally returns the raw tally for download encoding; the transport
// layer picks the format.
func (s *Service) ExportTally(ctx context.Context, slug, proposalID string) (votes.Tally, error) {
	t, err := s.resolveTenant(slug)
	if err != nil {
		return votes.Tally{}, err
	}
	return s.aggregate(ctx, t, proposalID)
}

func (s *Service) Timeline(ctx context.Context, slug, proposalID string) (map[string]any, error) {
	t, err := s.resolveTenant(slug)
	if err != nil {
		return nil, err
	}
	records, err := s.agg.Timeline(ctx, t, proposalID)
	if err != nil {
		var cf *votes.ComputationFailedError
		if errors.As(err, &cf) {
			return nil, computationFailed(cf.Error())
		}
		return nil, err
	}

	// Running totals per support option, in canonical vote order.
	runFor, runAgainst, runAbstain := new(big.Int), new(big.Int), new(big.Int)
	points := make([]map[string]any, 0, len(records))
	for _, r := range records {
		switch r.Support {
		case votes.For:
			runFor.Add(runFor, r.Weight)
		case votes.Against:
			runAgainst.Add(runAgainst, r.Weight)
		case votes.Abstain:
			runAbstain.Add(runAbstain, r.Weight)
		}
		points = append(points, map[string]any{
			"voter":     r.Voter,
			"weight":    r.Weight.String(),
			"choice":    r.Support.String(),
			"block":     r.Block,
			"timestamp": r.Timestamp,
			"for":       runFor.String(),
			"against":   runAgainst.String(),
			"abstain":   runAbstain.String(),
		})
	}
	return map[string]any{
		"tenant":     t.Slug,
		"proposalId": proposalID,
		"points":     points,
	}, nil
}

func (s *Service) aggregate(ctx context.Context, t tenant.Tenant, proposalID string) (votes.Tally, error) {
	tally, err := s.agg.Aggregate(ctx, t, proposalID)
	if err != nil {
		var cf *votes.ComputationFailedError
		if errors.As(err, &cf) {
			return votes.Tally{}, computationFailed(cf.Error())
		}
		return votes.Tally{}, err
	}
	return tally, nil
}

// proposalPayload derives one proposal's full read model: decoded type,
// merged tally, and the lifecycle status recomputed for this request.
func (s *Service) proposalPayload(ctx context.Context, t tenant.Tenant, row store.ProposalRow) (map[string]any, error) {
	typ := proposal.ParseType(row.ProposalType, t)
	data, decErr := proposal.Decode(row.ProposalData, typ)
	undecodable := decErr != nil
	if undecodable {
		log.Printf("tenant %s proposal %s: %v", t.Slug, row.ProposalID, decErr)
	}

	tally, err := s.aggregate(ctx, t, row.ProposalID)
	if err != nil {
		return nil, err
	}

	clock, err := s.chain.LatestClock(ctx)
	if err != nil {
		return nil, computationFailed("chain clock unavailable")
	}

	cfg := t.TypeConfig(string(typ))
	in := proposal.StatusInput{
		Type:                    typ,
		Undecodable:             undecodable,
		TimestampMode:           t.TimestampMode,
		StartBlock:              nullableInt64(row.StartBlock),
		EndBlock:                nullableInt64(row.EndBlock),
		StartTime:               nullableInt64(row.StartTimestamp),
		EndTime:                 nullableInt64(row.EndTimestamp),
		Cancelled:               row.CancelledBlock.Valid,
		Executed:                row.ExecutedBlock.Valid,
		Queued:                  row.QueuedBlock.Valid,
		Quorum:                  parseQuorum(row.Quorum),
		ApprovalThresholdBps:    cfg.ApprovalThresholdBps,
		DisapprovalThresholdBps: cfg.DisapprovalThresholdBps,
		Tally:                   tally,
		Clock:                   proposal.Clock{Block: clock.Block, Timestamp: clock.Timestamp},
	}

	if typ == proposal.TypeOptimistic && !undecodable {
		supply, err := s.chain.VotableSupply(ctx, t)
		if err != nil {
			return nil, computationFailed("votable supply unavailable")
		}
		in.VotableSupply = supply
	}

	var approvalData proposal.ApprovalData
	var storedStandard *proposal.StandardSlots
	if ad, ok := data.(proposal.ApprovalData); ok {
		approvalData = ad
		in.Criteria = ad.Criteria
		in.CriteriaValue = ad.CriteriaValue
		results, err := proposal.ParseResults(row.ProposalResults, ad, t.Toggle("approval-v5-results"))
		if err != nil {
			log.Printf("tenant %s proposal %s: %v", t.Slug, row.ProposalID, err)
			in.Undecodable = true
		} else {
			in.Options = results.Options
			storedStandard = results.Standard
		}
	}
	if sd, ok := data.(proposal.SnapshotData); ok {
		in.SnapshotState = sd.State
	}

	// The indexer can lag the contract on terminal transitions; when no
	// terminal marker is recorded yet, the contract's own state fills the
	// gap. Best effort: an RPC failure here leaves derivation alone.
	if !in.Cancelled && !in.Executed && !in.Queued &&
		typ != proposal.TypeSnapshot && typ != proposal.TypeUnknown && !in.Undecodable {
		if state, err := s.chain.ProposalState(ctx, t, row.ProposalID); err == nil && state.Terminal() {
			switch state {
			case chain.StateCanceled:
				in.Cancelled = true
			case chain.StateExecuted:
				in.Executed = true
			case chain.StateQueued:
				in.Queued = true
			}
		} else if err != nil {
			log.Printf("tenant %s proposal %s state read: %v", t.Slug, row.ProposalID, err)
		}
	}

	status := proposal.ComputeStatus(in)

	total := tally.Total()
	payload := map[string]any{
		"id":          row.ProposalID,
		"proposer":    row.Proposer,
		"description": row.Description,
		"type":        string(typ),
		"status":      string(status),
		"quorum":      nilIfEmpty(row.Quorum.String),
		"markers": map[string]any{
			"createdBlock":   nullableJSON(row.CreatedBlock),
			"startBlock":     nullableJSON(row.StartBlock),
			"endBlock":       nullableJSON(row.EndBlock),
			"startTimestamp": nullableJSON(row.StartTimestamp),
			"endTimestamp":   nullableJSON(row.EndTimestamp),
		},
		"tally": map[string]any{
			"for":            tally.For.String(),
			"against":        tally.Against.String(),
			"abstain":        tally.Abstain.String(),
			"total":          total.String(),
			"forPercent":     ratio.Percent(tally.For, total),
			"againstPercent": ratio.Percent(tally.Against, total),
			"abstainPercent": ratio.Percent(tally.Abstain, total),
			"voterCount":     tally.VoterCount,
		},
		"results": map[string]any{
			"standard": []string{tally.Against.String(), tally.For.String(), tally.Abstain.String()},
		},
		"partialSources": tally.PartialSources,
	}

	// Indexer-recorded aggregate slots win over the recomputed tally on
	// the result surface; ParseResults already normalized legacy rows.
	if storedStandard != nil {
		payload["results"].(map[string]any)["standard"] = []string{
			storedStandard.Against.String(),
			storedStandard.For.String(),
			storedStandard.Abstain.String(),
		}
	}

	if typ == proposal.TypeApproval && !in.Undecodable {
		options := make([]map[string]any, 0, len(in.Options))
		for _, opt := range in.Options {
			options = append(options, map[string]any{
				"param": opt.Option,
				"votes": opt.Votes.String(),
			})
		}
		payload["results"].(map[string]any)["approval"] = options

		succeeded := make([]string, 0)
		if approvalData.Criteria == proposal.CriteriaThreshold {
			threshold := approvalData.CriteriaValue
			if threshold == nil {
				threshold = new(big.Int)
			}
			for _, opt := range in.Options {
				if opt.Votes != nil && opt.Votes.Cmp(threshold) > 0 {
					succeeded = append(succeeded, opt.Option)
				}
			}
		} else {
			for _, opt := range proposal.SucceededOptions(in) {
				succeeded = append(succeeded, opt.Option)
			}
		}
		payload["succeededOptions"] = succeeded
		payload["criteria"] = string(approvalData.Criteria)
		if approvalData.MaxApprovals > 0 {
			payload["maxApprovals"] = approvalData.MaxApprovals
		}
	}
	return payload, nil
}

func recordPayload(r votes.Record) map[string]any {
	return map[string]any{
		"voter":     r.Voter,
		"weight":    r.Weight.String(),
		"choice":    r.Support.String(),
		"block":     r.Block,
		"timestamp": r.Timestamp,
		"source":    r.Source,
		"reason":    r.Reason,
	}
}

// Ballot operations. The allocation track shares the tenant-scoping
// discipline of the read side: the slug is resolved before any round or
// ballot access. Every mutation replaces a whole field group,
// re-validates the full ballot against the round bounds, and persists a
// complete snapshot.

func (s *Service) GetBallot(ctx context.Context, slug string, roundID int64, address string) (map[string]any, error) {
	t, err := s.resolveTenant(slug)
	if err != nil {
		return nil, err
	}
	round, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	ballot, err := s.loadBallot(ctx, round, address)
	if err != nil {
		return nil, err
	}
	return ballotPayload(t, ballot, round), nil
}

func (s *Service) UpdateBallotBudget(ctx context.Context, slug string, roundID int64, address string, input UpdateBudgetInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, validationFailed(err)
	}
	return s.mutateBallot(ctx, slug, roundID, address, func(b *allocation.Ballot) {
		b.Budget = input.Budget
	})
}

func (s *Service) UpdateBallotCategories(ctx context.Context, slug string, roundID int64, address string, input UpdateCategoriesInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, validationFailed(err)
	}
	cats := make([]allocation.Category, 0, len(input.Categories))
	for _, c := range input.Categories {
		cats = append(cats, allocation.Category{
			ID:         c.ID,
			Allocation: c.Allocation,
			Locked:     c.Locked,
			IsOS:       c.IsOS,
			Impact:     c.Impact,
			Rank:       c.Rank,
		})
	}
	return s.mutateBallot(ctx, slug, roundID, address, func(b *allocation.Ballot) {
		b.Categories = cats
	})
}

func (s *Service) UpdateBallotOSOnly(ctx context.Context, slug string, roundID int64, address string, input UpdateOSOnlyInput) (map[string]any, error) {
	return s.mutateBallot(ctx, slug, roundID, address, func(b *allocation.Ballot) {
		b.OSOnly = input.Enabled
	})
}

func (s *Service) UpdateBallotOSMultiplier(ctx context.Context, slug string, roundID int64, address string, input UpdateOSMultiplierInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, validationFailed(err)
	}
	return s.mutateBallot(ctx, slug, roundID, address, func(b *allocation.Ballot) {
		b.OSMultiplier = input.Multiplier
	})
}

func (s *Service) DistributeBallot(ctx context.Context, slug string, roundID int64, address string, input DistributeInput) (map[string]any, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, validationFailed(err)
	}
	strategy, err := allocation.ParseStrategy(input.Strategy)
	if err != nil {
		return nil, err
	}

	t, err := s.resolveTenant(slug)
	if err != nil {
		return nil, err
	}
	round, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	ballot, err := s.loadBallot(ctx, round, address)
	if err != nil {
		return nil, err
	}

	distributed, err := allocation.Distribute(ballot, strategy)
	if err != nil {
		return nil, err
	}
	if distributed.OSMultiplier > 1 {
		distributed = allocation.ApplyOSMultiplier(distributed)
	}
	if err := allocation.Validate(distributed, allocRound(round)); err != nil {
		return nil, err
	}
	if err := s.saveBallot(ctx, distributed); err != nil {
		return nil, err
	}
	return ballotPayload(t, distributed, round), nil
}

func (s *Service) mutateBallot(ctx context.Context, slug string, roundID int64, address string, apply func(*allocation.Ballot)) (map[string]any, error) {
	t, err := s.resolveTenant(slug)
	if err != nil {
		return nil, err
	}
	round, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	ballot, err := s.loadBallot(ctx, round, address)
	if err != nil {
		return nil, err
	}
	apply(&ballot)
	if err := allocation.Validate(ballot, allocRound(round)); err != nil {
		return nil, err
	}
	if err := s.saveBallot(ctx, ballot); err != nil {
		return nil, err
	}
	return ballotPayload(t, ballot, round), nil
}

// loadBallot reads the stored ballot, or initializes a fresh one at the
// round's maximum budget when the address has not voted yet.
func (s *Service) loadBallot(ctx context.Context, round store.RoundRow, address string) (allocation.Ballot, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	row, catRows, err := s.store.GetBallot(ctx, round.RoundID, address)
	if errors.Is(err, store.ErrNotFound) {
		return allocation.Ballot{
			Address:      address,
			RoundID:      round.RoundID,
			Budget:       round.BudgetMax,
			OSMultiplier: 1,
		}, nil
	}
	if err != nil {
		return allocation.Ballot{}, err
	}

	b := allocation.Ballot{
		Address:      row.Address,
		RoundID:      row.RoundID,
		Budget:       row.Budget,
		OSOnly:       row.OSOnly,
		OSMultiplier: row.OSMultiplier,
	}
	for _, c := range catRows {
		b.Categories = append(b.Categories, allocation.Category{
			ID:         c.CategoryID,
			Allocation: c.AllocationBps,
			Locked:     c.Locked,
			IsOS:       c.IsOS,
			Impact:     c.Impact,
			Rank:       c.Rank,
		})
	}
	return b, nil
}

func (s *Service) saveBallot(ctx context.Context, b allocation.Ballot) error {
	row := store.BallotRow{
		Address:      b.Address,
		RoundID:      b.RoundID,
		Budget:       b.Budget,
		OSOnly:       b.OSOnly,
		OSMultiplier: b.OSMultiplier,
	}
	cats := make([]store.BallotCategoryRow, 0, len(b.Categories))
	for _, c := range b.Categories {
		cats = append(cats, store.BallotCategoryRow{
			Address:       b.Address,
			RoundID:       b.RoundID,
			CategoryID:    c.ID,
			AllocationBps: c.Allocation,
			Locked:        c.Locked,
			IsOS:          c.IsOS,
			Impact:        c.Impact,
			Rank:          c.Rank,
		})
	}
	return s.store.SaveBallot(ctx, row, cats)
}

func allocRound(r store.RoundRow) allocation.Round {
	return allocation.Round{BudgetMin: r.BudgetMin, BudgetMax: r.BudgetMax}
}

func ballotPayload(t tenant.Tenant, b allocation.Ballot, round store.RoundRow) map[string]any {
	cats := make([]map[string]any, 0, len(b.Categories))
	for _, c := range b.Categories {
		cats = append(cats, map[string]any{
			"id":         c.ID,
			"allocation": c.Allocation,
			"locked":     c.Locked,
			"isOs":       c.IsOS,
			"impact":     c.Impact,
			"rank":       c.Rank,
		})
	}
	return map[string]any{
		"tenant":       t.Slug,
		"address":      b.Address,
		"roundId":      b.RoundID,
		"budget":       b.Budget,
		"budgetMin":    round.BudgetMin,
		"budgetMax":    round.BudgetMax,
		"osOnly":       b.OSOnly,
		"osMultiplier": b.OSMultiplier,
		"categories":   cats,
	}
}

func nullableInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	value := v.Int64
	return &value
}

func nullableJSON(v sql.NullInt64) any {
	if !v.Valid {
		return nil
	}
	return v.Int64
}

func parseQuorum(v sql.NullString) *big.Int {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	q, ok := new(big.Int).SetString(strings.TrimSpace(v.String), 10)
	if !ok {
		return nil
	}
	return q
}

func nilIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func validationFailed(err error) *DomainError {
	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		details := make([]string, 0, len(fields))
		for _, f := range fields {
			details = append(details, f.Namespace()+" failed "+f.Tag())
		}
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", details)
	}
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
}
