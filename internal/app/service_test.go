package app

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"testing"

	"github.com/go-playground/validator/v10"

	"daoboard/api/internal/chain"
	"daoboard/api/internal/store"
	"daoboard/api/internal/tenant"
	"daoboard/api/internal/votes"
)

const testCatalog = `[
	{
		"slug": "opcollective",
		"namespace": "optimism",
		"contracts": {"governor": "0xcDF27F107725988f2261Ce2256bDfCdE8B382B10"},
		"types": {
			"STANDARD": {"approvalThresholdBps": 5100},
			"OPTIMISTIC": {"disapprovalThresholdBps": 1000},
			"APPROVAL": {"approvalThresholdBps": 5100}
		}
	},
	{
		"slug": "uniswap",
		"namespace": "uniswap",
		"contracts": {"governor": "0x408ED6354d4973f66138C91495F2f2FCbd8724C3"},
		"types": {
			"STANDARD": {"approvalThresholdBps": 5000}
		}
	},
	{
		"slug": "legacydao",
		"namespace": "legacy",
		"contracts": {"governor": "0x0000000000000000000000000000000000000001"},
		"toggles": {"approval-v5-results": true},
		"types": {
			"APPROVAL": {"approvalThresholdBps": 5100}
		}
	}
]`

type fakeStore struct {
	proposals map[string]store.ProposalRow
	round     store.RoundRow
	ballot    *store.BallotRow
	cats      []store.BallotCategoryRow
	saved     int
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetProposal(ctx context.Context, namespace, governor, proposalID string) (store.ProposalRow, error) {
	row, ok := f.proposals[proposalID]
	if !ok {
		return store.ProposalRow{}, store.ErrNotFound
	}
	return row, nil
}

func (f *fakeStore) ListProposals(ctx context.Context, namespace, governor string, limit, offset int) ([]store.ProposalRow, error) {
	var out []store.ProposalRow
	for _, row := range f.proposals {
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeStore) GetRound(ctx context.Context, roundID int64) (store.RoundRow, error) {
	if roundID != f.round.RoundID {
		return store.RoundRow{}, store.ErrNotFound
	}
	return f.round, nil
}

func (f *fakeStore) GetBallot(ctx context.Context, roundID int64, address string) (store.BallotRow, []store.BallotCategoryRow, error) {
	if f.ballot == nil {
		return store.BallotRow{}, nil, store.ErrNotFound
	}
	return *f.ballot, f.cats, nil
}

func (f *fakeStore) SaveBallot(ctx context.Context, b store.BallotRow, cats []store.BallotCategoryRow) error {
	f.ballot = &b
	f.cats = cats
	f.saved++
	return nil
}

type fakeAgg struct {
	tally votes.Tally
	err   error
}

func (f *fakeAgg) Aggregate(ctx context.Context, t tenant.Tenant, proposalID string) (votes.Tally, error) {
	if f.err != nil {
		return votes.Tally{}, f.err
	}
	return f.tally, nil
}

func (f *fakeAgg) Timeline(ctx context.Context, t tenant.Tenant, proposalID string) ([]votes.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tally.Records, nil
}

type fakeChain struct {
	clock     chain.Clock
	supply    *big.Int
	state     chain.State
	supplyErr error
	clockErr  error
	stateErr  error
}

func (f *fakeChain) LatestClock(ctx context.Context) (chain.Clock, error) {
	if f.clockErr != nil {
		return chain.Clock{}, f.clockErr
	}
	return f.clock, nil
}

func (f *fakeChain) VotableSupply(ctx context.Context, t tenant.Tenant) (*big.Int, error) {
	if f.supplyErr != nil {
		return nil, f.supplyErr
	}
	return new(big.Int).Set(f.supply), nil
}

func (f *fakeChain) ProposalState(ctx context.Context, t tenant.Tenant, proposalID string) (chain.State, error) {
	if f.stateErr != nil {
		return 0, f.stateErr
	}
	return f.state, nil
}

func newTestService(t *testing.T, st *fakeStore, agg *fakeAgg, ch *fakeChain) *Service {
	t.Helper()
	registry, err := tenant.ParseRegistry([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return &Service{
		registry: registry,
		store:    st,
		agg:      agg,
		chain:    ch,
		validate: validator.New(),
	}
}

func tallyOf(forW, againstW, abstainW int64) votes.Tally {
	records := []votes.Record{
		{Voter: "0xa1", Support: votes.For, Weight: big.NewInt(forW), Block: 10, Source: "vote_cast_events"},
		{Voter: "0xa2", Support: votes.Against, Weight: big.NewInt(againstW), Block: 11, Source: "vote_cast_events"},
		{Voter: "0xa3", Support: votes.Abstain, Weight: big.NewInt(abstainW), Block: 12, Source: "vote_cast_events"},
	}
	return votes.Merge(records)
}

func standardRow(id string) store.ProposalRow {
	return store.ProposalRow{
		ProposalID:   id,
		Proposer:     "0xdead",
		Description:  "Upgrade treasury module",
		ProposalType: "STANDARD",
		Quorum:       nullString("30"),
		StartBlock:   nullInt64(100),
		EndBlock:     nullInt64(200),
	}
}

func TestGetProposalStandardSucceeded(t *testing.T) {
	st := &fakeStore{proposals: map[string]store.ProposalRow{"7": standardRow("7")}}
	agg := &fakeAgg{tally: tallyOf(27, 4, 0)}
	ch := &fakeChain{clock: chain.Clock{Block: 300}, state: chain.StateSucceeded}
	svc := newTestService(t, st, agg, ch)

	payload, err := svc.GetProposal(context.Background(), "opcollective", "7")
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if payload["status"] != "SUCCEEDED" {
		t.Fatalf("status = %v", payload["status"])
	}
	tally := payload["tally"].(map[string]any)
	if tally["for"] != "27" || tally["against"] != "4" || tally["total"] != "31" {
		t.Fatalf("tally = %v", tally)
	}
	if tally["forPercent"] != "87.09" {
		t.Fatalf("forPercent = %v", tally["forPercent"])
	}
	standard := payload["results"].(map[string]any)["standard"].([]string)
	if standard[0] != "4" || standard[1] != "27" || standard[2] != "0" {
		t.Fatalf("standard results = %v", standard)
	}
}

func TestGetProposalQuorumMiss(t *testing.T) {
	st := &fakeStore{proposals: map[string]store.ProposalRow{"7": standardRow("7")}}
	agg := &fakeAgg{tally: tallyOf(20, 4, 5)} // total 29 < quorum 30
	ch := &fakeChain{clock: chain.Clock{Block: 300}, state: chain.StateDefeated}
	svc := newTestService(t, st, agg, ch)

	payload, err := svc.GetProposal(context.Background(), "opcollective", "7")
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if payload["status"] != "DEFEATED" {
		t.Fatalf("status = %v", payload["status"])
	}
}

func TestGetProposalOptimisticConsultsSupply(t *testing.T) {
	row := standardRow("8")
	row.ProposalType = "OPTIMISTIC"
	row.Quorum = nullString("")
	st := &fakeStore{proposals: map[string]store.ProposalRow{"8": row}}
	// Against is 12% of supply, disapproval threshold is 10%.
	agg := &fakeAgg{tally: tallyOf(0, 12, 0)}
	ch := &fakeChain{clock: chain.Clock{Block: 300}, supply: big.NewInt(100), state: chain.StateActive}
	svc := newTestService(t, st, agg, ch)

	payload, err := svc.GetProposal(context.Background(), "opcollective", "8")
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if payload["status"] != "DEFEATED" {
		t.Fatalf("status = %v, want DEFEATED at 12%% disapproval", payload["status"])
	}

	// Below the threshold the proposal passes by default.
	agg.tally = tallyOf(0, 9, 0)
	payload, err = svc.GetProposal(context.Background(), "opcollective", "8")
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if payload["status"] != "SUCCEEDED" {
		t.Fatalf("status = %v, want SUCCEEDED at 9%% disapproval", payload["status"])
	}
}

func TestGetProposalOptimisticUnconfiguredThreshold(t *testing.T) {
	// uniswap configures no OPTIMISTIC entry, so the disapproval
	// threshold reads zero. An ended optimistic proposal with no against
	// weight must still pass by default.
	row := standardRow("8")
	row.ProposalType = "OPTIMISTIC"
	row.Quorum = nullString("")
	st := &fakeStore{proposals: map[string]store.ProposalRow{"8": row}}
	agg := &fakeAgg{tally: tallyOf(0, 0, 0)}
	ch := &fakeChain{clock: chain.Clock{Block: 300}, supply: big.NewInt(100_000_000), state: chain.StateActive}
	svc := newTestService(t, st, agg, ch)

	payload, err := svc.GetProposal(context.Background(), "uniswap", "8")
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if payload["status"] != "SUCCEEDED" {
		t.Fatalf("status = %v, want SUCCEEDED with no configured threshold", payload["status"])
	}
}

func TestGetProposalOptimisticSupplyFailureFailsClosed(t *testing.T) {
	row := standardRow("8")
	row.ProposalType = "OPTIMISTIC"
	st := &fakeStore{proposals: map[string]store.ProposalRow{"8": row}}
	agg := &fakeAgg{tally: tallyOf(0, 9, 0)}
	ch := &fakeChain{clock: chain.Clock{Block: 300}, supplyErr: errors.New("rpc down")}
	svc := newTestService(t, st, agg, ch)

	_, err := svc.GetProposal(context.Background(), "opcollective", "8")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "COMPUTATION_FAILED" {
		t.Fatalf("err = %v, want COMPUTATION_FAILED", err)
	}
}

func TestGetProposalUndecodableIsUnknown(t *testing.T) {
	row := standardRow("9")
	row.ProposalType = "APPROVAL"
	row.ProposalData = []byte(`{"options": not json`)
	st := &fakeStore{proposals: map[string]store.ProposalRow{"9": row}}
	agg := &fakeAgg{tally: tallyOf(27, 4, 0)}
	ch := &fakeChain{clock: chain.Clock{Block: 300}}
	svc := newTestService(t, st, agg, ch)

	payload, err := svc.GetProposal(context.Background(), "opcollective", "9")
	if err != nil {
		t.Fatalf("undecodable payload should degrade, not fail: %v", err)
	}
	if payload["status"] != "UNKNOWN" {
		t.Fatalf("status = %v, want UNKNOWN", payload["status"])
	}
}

func TestGetProposalApprovalOptions(t *testing.T) {
	row := standardRow("10")
	row.ProposalType = "APPROVAL"
	row.ProposalData = []byte(`{
		"options": [
			{"description": "Fund audits", "budgetTokensSpent": "0"},
			{"description": "Fund grants", "budgetTokensSpent": "0"}
		],
		"proposalSettings": {"criteria": "THRESHOLD", "criteriaValue": "10"}
	}`)
	row.ProposalResults = []byte(`{"standard": ["2", "25", "3"], "approval": [{"param": "0", "votes": "25"}, {"param": "1", "votes": "5"}]}`)
	st := &fakeStore{proposals: map[string]store.ProposalRow{"10": row}}
	agg := &fakeAgg{tally: tallyOf(28, 0, 2)}
	ch := &fakeChain{clock: chain.Clock{Block: 300}}
	svc := newTestService(t, st, agg, ch)

	payload, err := svc.GetProposal(context.Background(), "opcollective", "10")
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	// for+abstain = 30 meets quorum 30; option 0 exceeds threshold 10.
	if payload["status"] != "SUCCEEDED" {
		t.Fatalf("status = %v", payload["status"])
	}
	results := payload["results"].(map[string]any)
	approval := results["approval"].([]map[string]any)
	if len(approval) != 2 || approval[0]["param"] != "Fund audits" || approval[0]["votes"] != "25" {
		t.Fatalf("approval results = %v", approval)
	}
	// Indexer-recorded standard slots surface verbatim for this tenant.
	standard := results["standard"].([]string)
	if standard[0] != "2" || standard[1] != "25" || standard[2] != "3" {
		t.Fatalf("standard results = %v", standard)
	}
}

func TestGetProposalApprovalLegacyStandardSwap(t *testing.T) {
	row := standardRow("11")
	row.ProposalType = "APPROVAL"
	row.ProposalData = []byte(`{
		"options": [{"description": "Fund audits"}],
		"proposalSettings": {"criteria": "THRESHOLD", "criteriaValue": "10"}
	}`)
	// Indexed before the governor upgrade: the first two slots are
	// stored in for/against order and must come back swapped.
	row.ProposalResults = []byte(`{"standard": ["25", "3", "2"], "approval": [{"param": "0", "votes": "25"}]}`)
	st := &fakeStore{proposals: map[string]store.ProposalRow{"11": row}}
	agg := &fakeAgg{tally: tallyOf(25, 3, 2)}
	ch := &fakeChain{clock: chain.Clock{Block: 300}}
	svc := newTestService(t, st, agg, ch)

	payload, err := svc.GetProposal(context.Background(), "legacydao", "11")
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	standard := payload["results"].(map[string]any)["standard"].([]string)
	if standard[0] != "3" || standard[1] != "25" || standard[2] != "2" {
		t.Fatalf("legacy standard results = %v, want [3 25 2]", standard)
	}
}

func TestGetProposalChainStateGapFill(t *testing.T) {
	st := &fakeStore{proposals: map[string]store.ProposalRow{"7": standardRow("7")}}
	agg := &fakeAgg{tally: tallyOf(27, 4, 0)}
	ch := &fakeChain{clock: chain.Clock{Block: 300}, state: chain.StateCanceled}
	svc := newTestService(t, st, agg, ch)

	payload, err := svc.GetProposal(context.Background(), "opcollective", "7")
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if payload["status"] != "CANCELLED" {
		t.Fatalf("status = %v, want contract-reported CANCELLED", payload["status"])
	}
}

func TestGetProposalAggregationFailure(t *testing.T) {
	st := &fakeStore{proposals: map[string]store.ProposalRow{"7": standardRow("7")}}
	agg := &fakeAgg{err: &votes.ComputationFailedError{Source: "vote_cast_events", Err: errors.New("db down")}}
	ch := &fakeChain{clock: chain.Clock{Block: 300}}
	svc := newTestService(t, st, agg, ch)

	_, err := svc.GetProposal(context.Background(), "opcollective", "7")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 503 {
		t.Fatalf("err = %v, want 503 domain error", err)
	}
}

func TestGetProposalUnknownTenant(t *testing.T) {
	svc := newTestService(t, &fakeStore{}, &fakeAgg{}, &fakeChain{})
	_, err := svc.GetProposal(context.Background(), "nope", "7")
	if !errors.Is(err, tenant.ErrUnknownTenant) {
		t.Fatalf("err = %v, want ErrUnknownTenant", err)
	}
}

func TestGetBallotDefaultsToRoundMaximum(t *testing.T) {
	st := &fakeStore{round: store.RoundRow{RoundID: 4, BudgetMin: 2_000_000, BudgetMax: 8_000_000}}
	svc := newTestService(t, st, &fakeAgg{}, &fakeChain{})

	payload, err := svc.GetBallot(context.Background(), "opcollective", 4, "0xABCD")
	if err != nil {
		t.Fatalf("GetBallot: %v", err)
	}
	if payload["budget"] != int64(8_000_000) {
		t.Fatalf("budget = %v, want round maximum", payload["budget"])
	}
	if payload["osMultiplier"] != int64(1) {
		t.Fatalf("osMultiplier = %v", payload["osMultiplier"])
	}
	if st.saved != 0 {
		t.Fatalf("reads must not write; saved %d times", st.saved)
	}
}

func TestUpdateBallotBudgetRejectsOutOfRange(t *testing.T) {
	st := &fakeStore{round: store.RoundRow{RoundID: 4, BudgetMin: 2_000_000, BudgetMax: 8_000_000}}
	svc := newTestService(t, st, &fakeAgg{}, &fakeChain{})

	_, err := svc.UpdateBallotBudget(context.Background(), "opcollective", 4, "0xabcd", UpdateBudgetInput{Budget: 1})
	if err == nil {
		t.Fatalf("out-of-range budget accepted")
	}
	if st.saved != 0 {
		t.Fatalf("rejected mutation must not persist")
	}
}

func TestUpdateBallotCategoriesPersistsSnapshot(t *testing.T) {
	st := &fakeStore{round: store.RoundRow{RoundID: 4, BudgetMin: 2_000_000, BudgetMax: 8_000_000}}
	svc := newTestService(t, st, &fakeAgg{}, &fakeChain{})

	input := UpdateCategoriesInput{Categories: []CategoryInput{
		{ID: "gas_fees", Allocation: 6000, Rank: 1},
		{ID: "dev_tooling", Allocation: 4000, Rank: 2},
	}}
	payload, err := svc.UpdateBallotCategories(context.Background(), "opcollective", 4, "0xABCD", input)
	if err != nil {
		t.Fatalf("UpdateBallotCategories: %v", err)
	}
	if st.saved != 1 {
		t.Fatalf("saved %d times, want 1", st.saved)
	}
	if st.ballot.Address != "0xabcd" {
		t.Fatalf("address not normalized: %q", st.ballot.Address)
	}
	if len(st.cats) != 2 || st.cats[0].AllocationBps != 6000 {
		t.Fatalf("persisted categories = %+v", st.cats)
	}
	cats := payload["categories"].([]map[string]any)
	if len(cats) != 2 {
		t.Fatalf("payload categories = %v", cats)
	}
}

func TestUpdateBallotCategoriesRejectsBadSum(t *testing.T) {
	st := &fakeStore{round: store.RoundRow{RoundID: 4, BudgetMin: 2_000_000, BudgetMax: 8_000_000}}
	svc := newTestService(t, st, &fakeAgg{}, &fakeChain{})

	input := UpdateCategoriesInput{Categories: []CategoryInput{
		{ID: "gas_fees", Allocation: 6000},
		{ID: "dev_tooling", Allocation: 3999},
	}}
	if _, err := svc.UpdateBallotCategories(context.Background(), "opcollective", 4, "0xabcd", input); err == nil {
		t.Fatalf("sum != 100%% accepted")
	}
}

func TestDistributeBallot(t *testing.T) {
	st := &fakeStore{
		round: store.RoundRow{RoundID: 4, BudgetMin: 2_000_000, BudgetMax: 8_000_000},
		ballot: &store.BallotRow{
			Address: "0xabcd", RoundID: 4, Budget: 4_000_000, OSMultiplier: 1,
		},
		cats: []store.BallotCategoryRow{
			{CategoryID: "a", AllocationBps: 5000, Locked: true, Rank: 1},
			{CategoryID: "b", AllocationBps: 3000, Rank: 2},
			{CategoryID: "c", AllocationBps: 2000, Rank: 3},
		},
	}
	svc := newTestService(t, st, &fakeAgg{}, &fakeChain{})

	payload, err := svc.DistributeBallot(context.Background(), "opcollective", 4, "0xabcd", DistributeInput{Strategy: "EQUAL_SPLIT"})
	if err != nil {
		t.Fatalf("DistributeBallot: %v", err)
	}
	var sum int64
	for _, c := range st.cats {
		sum += c.AllocationBps
	}
	if sum != 10_000 {
		t.Fatalf("persisted allocations sum to %d bps", sum)
	}
	for _, c := range st.cats {
		if c.CategoryID == "a" && c.AllocationBps != 5000 {
			t.Fatalf("locked category moved: %+v", c)
		}
		if (c.CategoryID == "b" || c.CategoryID == "c") && c.AllocationBps != 2500 {
			t.Fatalf("equal split gave %+v", c)
		}
	}
	if payload["budget"] != int64(4_000_000) {
		t.Fatalf("budget = %v", payload["budget"])
	}
}

func TestDistributeBallotUnknownStrategy(t *testing.T) {
	st := &fakeStore{round: store.RoundRow{RoundID: 4, BudgetMin: 0, BudgetMax: 8_000_000}}
	svc := newTestService(t, st, &fakeAgg{}, &fakeChain{})

	if _, err := svc.DistributeBallot(context.Background(), "opcollective", 4, "0xabcd", DistributeInput{Strategy: "RANDOM"}); err == nil {
		t.Fatalf("unknown strategy accepted")
	}
}

func TestBallotOperationsRequireKnownTenant(t *testing.T) {
	st := &fakeStore{round: store.RoundRow{RoundID: 4, BudgetMin: 2_000_000, BudgetMax: 8_000_000}}
	svc := newTestService(t, st, &fakeAgg{}, &fakeChain{})

	if _, err := svc.GetBallot(context.Background(), "ghostdao", 4, "0xabcd"); !errors.Is(err, tenant.ErrUnknownTenant) {
		t.Fatalf("GetBallot err = %v, want ErrUnknownTenant", err)
	}
	_, err := svc.UpdateBallotBudget(context.Background(), "ghostdao", 4, "0xabcd", UpdateBudgetInput{Budget: 3_000_000})
	if !errors.Is(err, tenant.ErrUnknownTenant) {
		t.Fatalf("UpdateBallotBudget err = %v, want ErrUnknownTenant", err)
	}
	if st.saved != 0 {
		t.Fatalf("unknown tenant must not persist")
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}
