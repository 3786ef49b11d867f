// Package tenant holds the per-organization governance configuration.
// A Tenant is resolved once at the start of a request and passed
// explicitly through every call in the engine; nothing in this module
// reads tenant state from a global.
package tenant

import (
	"github.com/ethereum/go-ethereum/common"
)

// Contracts are the chain addresses one organization governs with.
// Treasury and Staking are zero when the tenant has no such contract.
type Contracts struct {
	Token    common.Address
	Governor common.Address
	Treasury common.Address
	Staking  common.Address
}

// TypeConfig carries the tenant-and-type-scoped thresholds. Quorum is not
// here: it is an absolute weight stored per proposal. Thresholds are in
// basis points (1% == 100).
type TypeConfig struct {
	ApprovalThresholdBps    uint64
	DisapprovalThresholdBps uint64
}

// Tenant is one organization's governance instance. The value is
// immutable for the duration of a request.
type Tenant struct {
	Slug          string
	Namespace     string
	Contracts     Contracts
	TimestampMode bool
	SnapshotSpace string
	Toggles       map[string]bool
	Types         map[string]TypeConfig
	ModuleTypes   map[string]string
}

// Toggle reports whether the named feature flag is enabled.
func (t Tenant) Toggle(name string) bool {
	return t.Toggles[name]
}

// TypeConfig returns the threshold set for a proposal type name, falling
// back to the zero value when the tenant does not configure the type.
func (t Tenant) TypeConfig(typeName string) TypeConfig {
	return t.Types[typeName]
}

// EventTables returns the ordered on-chain vote source tables for the
// tenant. Older tables remain in the list after a schema migration so
// historical proposals stay tallyable; the params-v2 toggle marks tenants
// that moved to the newer parameterized-vote event view.
func (t Tenant) EventTables() []string {
	tables := []string{"vote_cast_events"}
	if t.Toggle("params-v2") {
		tables = append(tables, "vote_cast_with_params_events_v2")
	} else {
		tables = append(tables, "vote_cast_with_params_events")
	}
	return tables
}
