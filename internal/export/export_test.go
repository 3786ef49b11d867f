package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"daoboard/api/internal/votes"
)

func sampleTally() votes.Tally {
	records := []votes.Record{
		{
			Voter:      "0xAaAa000000000000000000000000000000000001",
			ProposalID: "42",
			Support:    votes.For,
			Weight:     big.NewInt(100),
			Block:      900,
			Source:     "vote_cast_events",
			Reason:     "ship it",
		},
		{
			Voter:      "0xBbBb000000000000000000000000000000000002",
			ProposalID: "42",
			Support:    votes.Against,
			Weight:     big.NewInt(40),
			Block:      950,
			Source:     "vote_cast_events",
		},
		{
			Voter:      "0xCcCc000000000000000000000000000000000003",
			ProposalID: "42",
			Support:    votes.For,
			Weight:     big.NewInt(7),
			Kind:       votes.KindSnapshot,
			Timestamp:  1700000000,
			Source:     "snapshot",
		},
	}
	return votes.Merge(records)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleTally()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	r := csv.NewReader(&buf)
	lines, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header + 3 rows", len(lines))
	}
	if lines[0][0] != "voter" || lines[0][2] != "choice" {
		t.Fatalf("unexpected header: %v", lines[0])
	}
	// Canonical order puts on-chain records first, by block.
	if !strings.HasPrefix(lines[1][0], "0xAaAa") {
		t.Fatalf("first row voter = %q", lines[1][0])
	}
	if lines[1][1] != "100" || lines[1][2] != "for" {
		t.Fatalf("first row = %v", lines[1])
	}
	if lines[2][2] != "against" {
		t.Fatalf("second row = %v", lines[2])
	}
	if lines[3][4] != "1700000000" || lines[3][5] != "snapshot" {
		t.Fatalf("snapshot row = %v", lines[3])
	}
}

func TestWriteCSVDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	if err := WriteCSV(&a, sampleTally()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if err := WriteCSV(&b, sampleTally()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("repeated exports differ")
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleTally()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var doc struct {
		For        string `json:"for"`
		Against    string `json:"against"`
		Abstain    string `json:"abstain"`
		VoterCount int    `json:"voterCount"`
		Votes      []Row  `json:"votes"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if doc.For != "107" || doc.Against != "40" || doc.Abstain != "0" {
		t.Fatalf("totals = %s/%s/%s", doc.For, doc.Against, doc.Abstain)
	}
	if doc.VoterCount != 3 {
		t.Fatalf("voterCount = %d", doc.VoterCount)
	}
	if len(doc.Votes) != 3 {
		t.Fatalf("votes = %d rows", len(doc.Votes))
	}
	if doc.Votes[0].Reason != "ship it" {
		t.Fatalf("reason missing: %+v", doc.Votes[0])
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		raw     string
		want    Format
		wantErr bool
	}{
		{raw: "", want: FormatCSV},
		{raw: "csv", want: FormatCSV},
		{raw: "json", want: FormatJSON},
		{raw: "xlsx", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseFormat(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseFormat(%q): expected error", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseFormat(%q) = %v, %v", tc.raw, got, err)
		}
	}
}

func TestFilename(t *testing.T) {
	got := Filename("opcollective", "42", FormatCSV)
	if got != "opcollective-proposal-42-votes.csv" {
		t.Fatalf("Filename = %q", got)
	}
}
