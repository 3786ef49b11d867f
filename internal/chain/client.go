// Package chain provides the read-only chain RPC boundary: latest
// block/timestamp, votable supply, and the contract-reported proposal
// state. All reads honor the caller's context deadline.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/ethclient"

	"daoboard/api/internal/tenant"
)

// Clock is the chain's current position in both units, so block-based
// and timestamp-based tenants compare against the same read.
type Clock struct {
	Block     int64 `json:"block"`
	Timestamp int64 `json:"timestamp"`
}

// State is the governor contract's own proposal state enum.
type State uint8

const (
	StatePending State = iota
	StateActive
	StateCanceled
	StateDefeated
	StateSucceeded
	StateQueued
	StateExpired
	StateExecuted
)

// Terminal reports whether the contract state is irreversible (or
// near-terminal) and therefore authoritative over any derivation.
func (s State) Terminal() bool {
	switch s {
	case StateCanceled, StateQueued, StateExpired, StateExecuted:
		return true
	default:
		return false
	}
}

// Client is the chain read surface the engine consumes.
type Client interface {
	LatestClock(ctx context.Context) (Clock, error)
	VotableSupply(ctx context.Context, t tenant.Tenant) (*big.Int, error)
	ProposalState(ctx context.Context, t tenant.Tenant, proposalID string) (State, error)
}

const governorABI = `[
	{"name":"votableSupply","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"state","type":"function","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"","type":"uint8"}]}
]`

// RPC implements Client over an ethclient connection.
type RPC struct {
	ec  *ethclient.Client
	abi abi.ABI
}

func DialRPC(ctx context.Context, url string) (*RPC, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return NewRPC(ec)
}

func NewRPC(ec *ethclient.Client) (*RPC, error) {
	parsed, err := abi.JSON(strings.NewReader(governorABI))
	if err != nil {
		return nil, fmt.Errorf("parse governor abi: %w", err)
	}
	return &RPC{ec: ec, abi: parsed}, nil
}

func (r *RPC) Close() {
	r.ec.Close()
}

func (r *RPC) LatestClock(ctx context.Context) (Clock, error) {
	header, err := r.ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return Clock{}, fmt.Errorf("latest header: %w", err)
	}
	return Clock{
		Block:     header.Number.Int64(),
		Timestamp: int64(header.Time),
	}, nil
}

func (r *RPC) VotableSupply(ctx context.Context, t tenant.Tenant) (*big.Int, error) {
	data, err := r.abi.Pack("votableSupply")
	if err != nil {
		return nil, fmt.Errorf("pack votableSupply: %w", err)
	}
	governor := t.Contracts.Governor
	res, err := r.ec.CallContract(ctx, ethereum.CallMsg{To: &governor, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call votableSupply: %w", err)
	}
	out, err := r.abi.Unpack("votableSupply", res)
	if err != nil {
		return nil, fmt.Errorf("unpack votableSupply: %w", err)
	}
	supply, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("votableSupply returned %T", out[0])
	}
	return supply, nil
}

func (r *RPC) ProposalState(ctx context.Context, t tenant.Tenant, proposalID string) (State, error) {
	id, ok := new(big.Int).SetString(proposalID, 10)
	if !ok {
		return 0, fmt.Errorf("malformed proposal id %q", proposalID)
	}
	data, err := r.abi.Pack("state", id)
	if err != nil {
		return 0, fmt.Errorf("pack state: %w", err)
	}
	governor := t.Contracts.Governor
	res, err := r.ec.CallContract(ctx, ethereum.CallMsg{To: &governor, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("call state: %w", err)
	}
	out, err := r.abi.Unpack("state", res)
	if err != nil {
		return 0, fmt.Errorf("unpack state: %w", err)
	}
	raw, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("state returned %T", out[0])
	}
	return State(raw), nil
}
