package proposal

import (
	"testing"

	"daoboard/api/internal/tenant"
)

func TestParseType(t *testing.T) {
	tn := tenant.Tenant{
		ModuleTypes: map[string]string{"approval_voting_module": "APPROVAL"},
	}

	cases := []struct {
		raw  string
		want Type
	}{
		{raw: "STANDARD", want: TypeStandard},
		{raw: "standard", want: TypeStandard},
		{raw: "0", want: TypeStandard},
		{raw: "OPTIMISTIC", want: TypeOptimistic},
		{raw: "1", want: TypeOptimistic},
		{raw: "APPROVAL", want: TypeApproval},
		{raw: "2", want: TypeApproval},
		{raw: "SNAPSHOT", want: TypeSnapshot},
		{raw: "approval_voting_module", want: TypeApproval},
		{raw: "something_else", want: TypeUnknown},
		{raw: "", want: TypeUnknown},
	}
	for _, tc := range cases {
		if got := ParseType(tc.raw, tn); got != tc.want {
			t.Fatalf("ParseType(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestDecodeStandard(t *testing.T) {
	raw := []byte(`{"options":[{"targets":["0xabc"],"values":["0"],"calldatas":["0x1234"]}]}`)
	data, derr := Decode(raw, TypeStandard)
	if derr != nil {
		t.Fatalf("Decode: %v", derr)
	}
	std, ok := data.(StandardData)
	if !ok {
		t.Fatalf("data is %T, want StandardData", data)
	}
	if len(std.Options) != 1 || std.Options[0].Targets[0] != "0xabc" {
		t.Fatalf("decoded options = %+v", std.Options)
	}

	// Empty payloads are valid standard proposals (no executable action).
	if _, derr := Decode([]byte(`{}`), TypeStandard); derr != nil {
		t.Fatalf("empty payload should decode: %v", derr)
	}
	if _, derr := Decode(nil, TypeStandard); derr != nil {
		t.Fatalf("nil payload should decode: %v", derr)
	}
}

func TestDecodeApproval(t *testing.T) {
	raw := []byte(`{
		"options": [
			{"description": "Fund alpha", "budgetTokensSpent": "1000"},
			{"description": "Fund beta"}
		],
		"proposalSettings": {"criteria": "THRESHOLD", "criteriaValue": "500", "maxApprovals": 2}
	}`)
	data, derr := Decode(raw, TypeApproval)
	if derr != nil {
		t.Fatalf("Decode: %v", derr)
	}
	appr := data.(ApprovalData)
	if len(appr.Options) != 2 || appr.Options[0].Description != "Fund alpha" {
		t.Fatalf("options = %+v", appr.Options)
	}
	if appr.Criteria != CriteriaThreshold || appr.CriteriaValue.String() != "500" {
		t.Fatalf("criteria = %s / %s", appr.Criteria, appr.CriteriaValue)
	}
	if appr.MaxApprovals != 2 {
		t.Fatalf("max approvals = %d, want 2", appr.MaxApprovals)
	}
}

func TestDecodeFailuresAreTyped(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		typ  Type
	}{
		{name: "malformed json", raw: `{"options": [`, typ: TypeStandard},
		{name: "approval without options", raw: `{"options": []}`, typ: TypeApproval},
		{name: "approval empty payload", raw: ``, typ: TypeApproval},
		{name: "approval bad criteria", raw: `{"options":[{"description":"x"}],"proposalSettings":{"criteria":"MAJORITY"}}`, typ: TypeApproval},
		{name: "approval bad criteria value", raw: `{"options":[{"description":"x"}],"proposalSettings":{"criteria":"THRESHOLD","criteriaValue":"abc"}}`, typ: TypeApproval},
		{name: "unknown type", raw: `{}`, typ: TypeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, derr := Decode([]byte(tc.raw), tc.typ)
			if derr == nil {
				t.Fatalf("expected DecodeError, got data %+v", data)
			}
			if string(derr.Raw) != tc.raw {
				t.Fatalf("DecodeError should carry the raw payload")
			}
			if derr.Error() == "" {
				t.Fatalf("DecodeError should describe the failure")
			}
		})
	}
}

func TestDecodeOptimisticIgnoresPayload(t *testing.T) {
	data, derr := Decode([]byte(`{"whatever": true}`), TypeOptimistic)
	if derr != nil {
		t.Fatalf("Decode: %v", derr)
	}
	if _, ok := data.(OptimisticData); !ok {
		t.Fatalf("data is %T, want OptimisticData", data)
	}
}

func TestParseResults(t *testing.T) {
	appr := ApprovalData{Options: []ApprovalOption{
		{TxOption: TxOption{Description: "alpha"}},
		{TxOption: TxOption{Description: "beta"}},
		{TxOption: TxOption{Description: "gamma"}},
	}}

	raw := []byte(`{"approval": [
		{"param": "0", "votes": "120"},
		{"param": "2", "votes": "200"}
	]}`)
	res, err := ParseResults(raw, appr, false)
	if err != nil {
		t.Fatalf("ParseResults: %v", err)
	}
	if len(res.Options) != 3 {
		t.Fatalf("options = %d, want 3", len(res.Options))
	}
	if res.Options[0].Votes.String() != "120" || res.Options[2].Votes.String() != "200" {
		t.Fatalf("votes = %+v", res.Options)
	}
	// Absent entry reads as zero, not missing.
	if res.Options[1].Option != "beta" || res.Options[1].Votes.Sign() != 0 {
		t.Fatalf("beta should read zero votes, got %+v", res.Options[1])
	}

	if _, err := ParseResults([]byte(`{"approval":[{"param":"0","votes":"x"}]}`), appr, false); err == nil {
		t.Fatalf("malformed votes should error")
	}

	// Empty stored results: every option zero.
	res, err = ParseResults([]byte(`{}`), appr, false)
	if err != nil {
		t.Fatalf("ParseResults empty: %v", err)
	}
	for _, opt := range res.Options {
		if opt.Votes.Sign() != 0 {
			t.Fatalf("expected zero votes, got %+v", opt)
		}
	}
}

func TestParseResultsStandardSlots(t *testing.T) {
	appr := ApprovalData{Options: []ApprovalOption{
		{TxOption: TxOption{Description: "alpha"}},
	}}
	raw := []byte(`{"standard": ["4", "27", "2"], "approval": [{"param": "0", "votes": "27"}]}`)

	res, err := ParseResults(raw, appr, false)
	if err != nil {
		t.Fatalf("ParseResults: %v", err)
	}
	if res.Standard == nil {
		t.Fatalf("stored standard slots should decode")
	}
	if res.Standard.Against.String() != "4" || res.Standard.For.String() != "27" || res.Standard.Abstain.String() != "2" {
		t.Fatalf("standard = %+v", res.Standard)
	}

	// Rows indexed before the governor upgrade stored [for, against,
	// abstain]; the legacy swap restores canonical order.
	res, err = ParseResults(raw, appr, true)
	if err != nil {
		t.Fatalf("ParseResults legacy: %v", err)
	}
	if res.Standard.Against.String() != "27" || res.Standard.For.String() != "4" || res.Standard.Abstain.String() != "2" {
		t.Fatalf("legacy standard = %+v", res.Standard)
	}

	// No standard key at all: Standard stays nil.
	res, err = ParseResults([]byte(`{"approval":[]}`), appr, true)
	if err != nil {
		t.Fatalf("ParseResults without standard: %v", err)
	}
	if res.Standard != nil {
		t.Fatalf("absent standard should stay nil, got %+v", res.Standard)
	}

	if _, err := ParseResults([]byte(`{"standard": ["1", "2"]}`), appr, false); err == nil {
		t.Fatalf("short standard array should error")
	}
	if _, err := ParseResults([]byte(`{"standard": ["1", "x", "3"]}`), appr, false); err == nil {
		t.Fatalf("malformed standard slot should error")
	}
}
