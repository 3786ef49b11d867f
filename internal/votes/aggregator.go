package votes

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ethereum/go-ethereum/common"

	"daoboard/api/internal/tenant"
)

// DefaultFetchLimit bounds concurrent source reads per aggregation.
const DefaultFetchLimit = 4

// Aggregator fans reads out across a tenant's vote sources and merges
// them deterministically. It holds no per-request state and is safe for
// concurrent use.
type Aggregator struct {
	st    VoteStore
	limit int
}

func NewAggregator(st VoteStore, limit int) *Aggregator {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	return &Aggregator{st: st, limit: limit}
}

// sourcesFor builds the tenant's source list: the event tables resolved
// from the namespace config, plus the snapshot source when the tenant
// has an off-chain space.
func (a *Aggregator) sourcesFor(t tenant.Tenant) []Source {
	var sources []Source
	for _, table := range t.EventTables() {
		sources = append(sources, &eventTableSource{st: a.st, table: table})
	}
	if t.SnapshotSpace != "" {
		sources = append(sources, &snapshotSource{st: a.st})
	}
	return sources
}

// Aggregate computes the canonical tally for one proposal.
func (a *Aggregator) Aggregate(ctx context.Context, t tenant.Tenant, proposalID string) (Tally, error) {
	return AggregateSources(ctx, t, proposalID, a.sourcesFor(t), a.limit)
}

// Timeline returns every record in global vote order, for charting.
func (a *Aggregator) Timeline(ctx context.Context, t tenant.Tenant, proposalID string) ([]Record, error) {
	tally, err := a.Aggregate(ctx, t, proposalID)
	if err != nil {
		return nil, err
	}
	return tally.Records, nil
}

// AggregateSources fetches all sources concurrently (bounded by limit)
// and merges the results. A failed optional source is excluded from the
// aggregate and recorded in Tally.PartialSources. A failed required
// source, or failure of every source, fails the whole computation closed.
//
// Fetches run under the caller's ctx; per-source timeouts are the
// caller's responsibility via the ctx deadline.
func AggregateSources(ctx context.Context, t tenant.Tenant, proposalID string, sources []Source, limit int) (Tally, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	var (
		mu      sync.Mutex
		records []Record
		partial []string
		failed  int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, src := range sources {
		g.Go(func() error {
			recs, err := src.Fetch(gctx, t, proposalID)
			if err != nil {
				if src.Required() {
					return &ComputationFailedError{Source: src.Name(), Err: err}
				}
				log.Printf("excluding vote source: %v", &SourceUnavailableError{Source: src.Name(), Err: err})
				mu.Lock()
				partial = append(partial, src.Name())
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			records = append(records, recs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Tally{}, err
	}

	if len(sources) > 0 && failed == len(sources) {
		return Tally{}, &ComputationFailedError{
			Source: strings.Join(partial, ","),
			Err:    fmt.Errorf("all %d sources unavailable", len(sources)),
		}
	}

	tally := Merge(records)
	sort.Strings(partial)
	tally.PartialSources = partial
	return tally, nil
}

func addrLower(a common.Address) string {
	return strings.ToLower(a.Hex())
}
