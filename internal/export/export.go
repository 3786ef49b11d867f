// Package export renders a proposal's aggregated vote records as flat
// per-voter files for download. Rows come out in the aggregator's
// canonical order, so repeated exports of an unchanged proposal are
// byte-identical.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"daoboard/api/internal/votes"
)

// Format selects the download encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat resolves a raw format name, defaulting to CSV when empty.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// Row is one vote record flattened for export. Weight stays a decimal
// string; the raw token amounts overflow every fixed-width numeric type
// a spreadsheet understands.
type Row struct {
	Voter     string `json:"voter"`
	Weight    string `json:"weight"`
	Choice    string `json:"choice"`
	Block     int64  `json:"block,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Source    string `json:"source"`
	Reason    string `json:"reason,omitempty"`
}

// Rows flattens a tally's records.
func Rows(t votes.Tally) []Row {
	rows := make([]Row, 0, len(t.Records))
	for _, r := range t.Records {
		rows = append(rows, Row{
			Voter:     r.Voter,
			Weight:    r.Weight.String(),
			Choice:    r.Support.String(),
			Block:     r.Block,
			Timestamp: r.Timestamp,
			Source:    r.Source,
			Reason:    r.Reason,
		})
	}
	return rows
}

// WriteCSV writes a header line followed by one line per vote record.
func WriteCSV(w io.Writer, t votes.Tally) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"voter", "weight", "choice", "block", "timestamp", "source", "reason"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range Rows(t) {
		record := []string{
			row.Voter,
			row.Weight,
			row.Choice,
			strconv.FormatInt(row.Block, 10),
			strconv.FormatInt(row.Timestamp, 10),
			row.Source,
			row.Reason,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the rows plus the tally totals as a single object.
func WriteJSON(w io.Writer, t votes.Tally) error {
	doc := struct {
		For            string   `json:"for"`
		Against        string   `json:"against"`
		Abstain        string   `json:"abstain"`
		VoterCount     int      `json:"voterCount"`
		PartialSources []string `json:"partialSources,omitempty"`
		Votes          []Row    `json:"votes"`
	}{
		For:            t.For.String(),
		Against:        t.Against.String(),
		Abstain:        t.Abstain.String(),
		VoterCount:     t.VoterCount,
		PartialSources: t.PartialSources,
		Votes:          Rows(t),
	}
	enc := json.NewEncoder(w)
	return enc.Encode(doc)
}

// Filename builds the download name for one proposal export.
func Filename(tenantSlug, proposalID string, f Format) string {
	return fmt.Sprintf("%s-proposal-%s-votes.%s", tenantSlug, proposalID, f)
}

// ContentType returns the MIME type for a format.
func ContentType(f Format) string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}
