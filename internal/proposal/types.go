// Package proposal resolves proposal types, decodes their opaque
// payloads, and derives lifecycle status from vote tallies. Status is a
// pure function of inputs; nothing here writes state.
package proposal

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"daoboard/api/internal/tenant"
)

// Type is the closed proposal-kind set. Unrecognized discriminators map
// to TypeUnknown, never an error.
type Type string

const (
	TypeStandard   Type = "STANDARD"
	TypeOptimistic Type = "OPTIMISTIC"
	TypeApproval   Type = "APPROVAL"
	TypeSnapshot   Type = "SNAPSHOT"
	TypeUnknown    Type = "UNKNOWN"
)

// ParseType resolves a raw discriminator as stored on-chain (name, small
// integer, or tenant module alias) to a canonical type.
func ParseType(raw string, t tenant.Tenant) Type {
	s := strings.ToUpper(strings.TrimSpace(raw))

	for alias, canonical := range t.ModuleTypes {
		if strings.EqualFold(alias, s) {
			s = strings.ToUpper(canonical)
			break
		}
	}

	switch s {
	case "STANDARD", "0":
		return TypeStandard
	case "OPTIMISTIC", "1":
		return TypeOptimistic
	case "APPROVAL", "2":
		return TypeApproval
	case "SNAPSHOT":
		return TypeSnapshot
	default:
		return TypeUnknown
	}
}

// ApprovalCriteria selects how approval-type options win.
type ApprovalCriteria string

const (
	CriteriaTopChoices ApprovalCriteria = "TOP_CHOICES"
	CriteriaThreshold  ApprovalCriteria = "THRESHOLD"
)

// Data is the decoded payload of one proposal, a tagged union over the
// closed type set.
type Data interface {
	Kind() Type
}

// TxOption is one executable target/value/calldata triple set.
type TxOption struct {
	Targets     []string `json:"targets"`
	Values      []string `json:"values"`
	Calldatas   []string `json:"calldatas"`
	Description string   `json:"description"`
}

type StandardData struct {
	Options []TxOption `json:"options"`
}

func (StandardData) Kind() Type { return TypeStandard }

// OptimisticData carries nothing: an optimistic proposal passes unless
// enough weight votes against it, so for/abstain are not meaningful.
type OptimisticData struct{}

func (OptimisticData) Kind() Type { return TypeOptimistic }

type ApprovalOption struct {
	TxOption
	Budget string `json:"budgetTokensSpent"`
}

type ApprovalData struct {
	Options       []ApprovalOption
	Criteria      ApprovalCriteria
	CriteriaValue *big.Int
	MaxApprovals  int
}

func (ApprovalData) Kind() Type { return TypeApproval }

type SnapshotData struct {
	Choices []string `json:"choices"`
	State   string   `json:"state"`
}

func (SnapshotData) Kind() Type { return TypeSnapshot }

// DecodeError is returned when a payload cannot be decoded. It carries
// the raw payload for diagnostics; callers degrade the proposal to
// STATUS UNKNOWN rather than failing the batch.
type DecodeError struct {
	Type Type
	Raw  []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type approvalPayload struct {
	Options          []ApprovalOption `json:"options"`
	ProposalSettings struct {
		Criteria      string `json:"criteria"`
		CriteriaValue string `json:"criteriaValue"`
		MaxApprovals  int    `json:"maxApprovals"`
	} `json:"proposalSettings"`
}

// Decode parses a raw payload for the given type. An empty payload is
// valid for every type and decodes to the type's zero data.
func Decode(raw []byte, typ Type) (Data, *DecodeError) {
	fail := func(err error) (Data, *DecodeError) {
		return nil, &DecodeError{Type: typ, Raw: raw, Err: err}
	}
	empty := len(strings.TrimSpace(string(raw))) == 0 || strings.TrimSpace(string(raw)) == "{}"

	switch typ {
	case TypeStandard:
		var d StandardData
		if !empty {
			if err := json.Unmarshal(raw, &d); err != nil {
				return fail(err)
			}
		}
		return d, nil

	case TypeOptimistic:
		return OptimisticData{}, nil

	case TypeApproval:
		if empty {
			return fail(fmt.Errorf("approval proposal requires options"))
		}
		var p approvalPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fail(err)
		}
		if len(p.Options) == 0 {
			return fail(fmt.Errorf("approval proposal has no options"))
		}
		d := ApprovalData{
			Options:      p.Options,
			MaxApprovals: p.ProposalSettings.MaxApprovals,
		}
		switch strings.ToUpper(p.ProposalSettings.Criteria) {
		case string(CriteriaThreshold):
			d.Criteria = CriteriaThreshold
		case string(CriteriaTopChoices), "":
			d.Criteria = CriteriaTopChoices
		default:
			return fail(fmt.Errorf("unknown approval criteria %q", p.ProposalSettings.Criteria))
		}
		d.CriteriaValue = new(big.Int)
		if v := strings.TrimSpace(p.ProposalSettings.CriteriaValue); v != "" {
			parsed, ok := new(big.Int).SetString(v, 10)
			if !ok {
				return fail(fmt.Errorf("malformed criteria value %q", v))
			}
			d.CriteriaValue = parsed
		}
		return d, nil

	case TypeSnapshot:
		var d SnapshotData
		if !empty {
			if err := json.Unmarshal(raw, &d); err != nil {
				return fail(err)
			}
		}
		return d, nil

	default:
		return fail(fmt.Errorf("unrecognized proposal type"))
	}
}
