package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownTenant is returned by Resolve for slugs outside the catalog.
var ErrUnknownTenant = errors.New("unknown tenant")

// Registry is the immutable tenant catalog, loaded once at startup.
type Registry struct {
	tenants map[string]Tenant
}

type tenantJSON struct {
	Slug      string `json:"slug"`
	Namespace string `json:"namespace"`
	Contracts struct {
		Token    string `json:"token"`
		Governor string `json:"governor"`
		Treasury string `json:"treasury"`
		Staking  string `json:"staking"`
	} `json:"contracts"`
	TimestampMode bool              `json:"timestampMode"`
	SnapshotSpace string            `json:"snapshotSpace"`
	Toggles       map[string]bool   `json:"toggles"`
	ModuleTypes   map[string]string `json:"moduleTypes"`
	Types         map[string]struct {
		ApprovalThresholdBps    uint64 `json:"approvalThresholdBps"`
		DisapprovalThresholdBps uint64 `json:"disapprovalThresholdBps"`
	} `json:"types"`
}

// LoadRegistry reads the tenant catalog from a JSON file.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	return ParseRegistry(raw)
}

// ParseRegistry builds a Registry from raw catalog JSON.
func ParseRegistry(raw []byte) (*Registry, error) {
	var entries []tenantJSON
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse tenants: %w", err)
	}

	tenants := make(map[string]Tenant, len(entries))
	for _, e := range entries {
		if e.Slug == "" || e.Namespace == "" {
			return nil, fmt.Errorf("tenant entry missing slug or namespace: %+v", e)
		}
		if _, dup := tenants[e.Slug]; dup {
			return nil, fmt.Errorf("duplicate tenant slug %q", e.Slug)
		}

		t := Tenant{
			Slug:      e.Slug,
			Namespace: e.Namespace,
			Contracts: Contracts{
				Token:    common.HexToAddress(e.Contracts.Token),
				Governor: common.HexToAddress(e.Contracts.Governor),
				Treasury: common.HexToAddress(e.Contracts.Treasury),
				Staking:  common.HexToAddress(e.Contracts.Staking),
			},
			TimestampMode: e.TimestampMode,
			SnapshotSpace: e.SnapshotSpace,
			Toggles:       e.Toggles,
			ModuleTypes:   e.ModuleTypes,
			Types:         make(map[string]TypeConfig, len(e.Types)),
		}
		if t.Toggles == nil {
			t.Toggles = map[string]bool{}
		}
		for name, cfg := range e.Types {
			t.Types[name] = TypeConfig{
				ApprovalThresholdBps:    cfg.ApprovalThresholdBps,
				DisapprovalThresholdBps: cfg.DisapprovalThresholdBps,
			}
		}
		tenants[e.Slug] = t
	}

	return &Registry{tenants: tenants}, nil
}

// Resolve returns the tenant for a slug. The returned value is a copy;
// callers thread it through the request and never mutate it.
func (r *Registry) Resolve(slug string) (Tenant, error) {
	t, ok := r.tenants[slug]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: %q", ErrUnknownTenant, slug)
	}
	return t, nil
}

// Slugs lists the catalog's tenant slugs. Order is unspecified.
func (r *Registry) Slugs() []string {
	out := make([]string, 0, len(r.tenants))
	for slug := range r.tenants {
		out = append(out, slug)
	}
	return out
}
