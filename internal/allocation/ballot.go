// Package allocation computes normalized, budget-respecting
// distributions of a ballot's weighted preferences across funding
// categories. It shares the tenant-scoping discipline and the exact
// integer percentage math of the tally engine.
package allocation

import "fmt"

// TotalBps is the whole ballot: allocations are basis points of 100%.
const TotalBps int64 = 10_000

// Category is one funding category (or project) on a ballot.
type Category struct {
	ID         string
	Allocation int64 // basis points
	Locked     bool
	IsOS       bool
	Impact     int // 0 = not evaluated, 1..5
	Rank       int // 1 = top ranked
}

// Ballot is one owner's weighted preference submission for a round.
// Mutations replace whole field groups and are re-validated wholesale;
// there are no partial writes.
type Ballot struct {
	Address      string
	RoundID      int64
	Budget       int64
	OSOnly       bool
	OSMultiplier int64
	Categories   []Category
}

// Round carries the configured budget bounds for one allocation round.
type Round struct {
	BudgetMin int64
	BudgetMax int64
}

// ValidationError reports a ballot invariant violation. It is surfaced
// to the caller immediately and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid ballot %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the full ballot invariant set: budget inside the
// round's bounds (inclusive, never silently clamped), every allocation
// non-negative, and allocations summing to exactly 100%.
func Validate(b Ballot, r Round) error {
	if b.Budget < r.BudgetMin || b.Budget > r.BudgetMax {
		return invalid("budget", "%d outside [%d, %d]", b.Budget, r.BudgetMin, r.BudgetMax)
	}
	if b.OSMultiplier < 1 {
		return invalid("os_multiplier", "%d must be at least 1", b.OSMultiplier)
	}

	var sum int64
	seen := make(map[string]struct{}, len(b.Categories))
	for _, c := range b.Categories {
		if c.ID == "" {
			return invalid("categories", "category with empty id")
		}
		if _, dup := seen[c.ID]; dup {
			return invalid("categories", "duplicate category %q", c.ID)
		}
		seen[c.ID] = struct{}{}
		if c.Allocation < 0 {
			return invalid("categories", "category %q has negative allocation", c.ID)
		}
		if c.Impact < 0 || c.Impact > 5 {
			return invalid("categories", "category %q impact %d outside 0..5", c.ID, c.Impact)
		}
		sum += c.Allocation
	}
	if len(b.Categories) > 0 && sum != TotalBps {
		return invalid("categories", "allocations sum to %d bps, want %d", sum, TotalBps)
	}
	return nil
}

// LockedBps returns the basis points held by locked categories.
func (b Ballot) LockedBps() int64 {
	var sum int64
	for _, c := range b.Categories {
		if c.Locked {
			sum += c.Allocation
		}
	}
	return sum
}

func (b Ballot) clone() Ballot {
	out := b
	out.Categories = make([]Category, len(b.Categories))
	copy(out.Categories, b.Categories)
	return out
}
