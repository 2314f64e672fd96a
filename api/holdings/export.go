package holdings

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"
)

// Sheet and named-cell layout of the export workbook. The Positions sheet is
// the long-format row table; the Summary sheet recomputes the reconciliation
// with live formulas against the two named range cells, so a user can edit
// the range inside the file and get the same numbers this engine computes.
const (
	positionsSheet = "Positions"
	summarySheet   = "Summary"

	rangeStartName = "RangeStart"
	rangeEndName   = "RangeEnd"
)

// exportPosition is one Positions-sheet row. LookupKey is identity|rank; a
// single-column exact match on it recovers "the snapshot at rank R for this
// identity", which is how the formulas replay the reconciler's start lookup.
type exportPosition struct {
	identityKey string
	dpid        string
	clientID    string
	name        string
	serial      int64
	position    int
	groupOrder  int
	value       int64
	bought      int64
	sold        int64
}

// rank orders snapshots the way the reconciler walks file groups:
// chronological group order first, position inside the file second. It is
// unique per identity, which the composite lookup key depends on.
func (p exportPosition) rank() int64 { return int64(p.groupOrder)*10 + int64(p.position) }

// longFormatRows flattens consolidated records into the export table, ordered
// by identity then rank so the sheet reads in period order per holder.
// orderOf maps file index to chronological group order (per GroupOrder).
func longFormatRows(records []*HoldingRecord, orderOf map[int]int) []exportPosition {
	var out []exportPosition
	for _, rec := range records {
		keys := make([]SnapshotColumnKey, 0, len(rec.Snapshots))
		for k := range rec.Snapshots {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if orderOf[keys[i].FileIndex] != orderOf[keys[j].FileIndex] {
				return orderOf[keys[i].FileIndex] < orderOf[keys[j].FileIndex]
			}
			return keys[i].Position < keys[j].Position
		})
		for _, k := range keys {
			sv := rec.Snapshots[k]
			out = append(out, exportPosition{
				identityKey: rec.Identity.Key(),
				dpid:        rec.DPID,
				clientID:    rec.ClientID,
				name:        rec.Name,
				serial:      DateSerial(k.BaseDate),
				position:    k.Position,
				groupOrder:  orderOf[k.FileIndex],
				value:       sv.Value,
				bought:      sv.Bought,
				sold:        sv.Sold,
			})
		}
	}
	return out
}

// BuildRangeWorkbook emits the formula-mirror workbook: the long-format
// Positions sheet plus a Summary sheet whose initial/bought/sold/net/still
// columns are formulas over the named RangeStart/RangeEnd cells. Opening
// applications recompute the summaries when those cells change (some require
// an explicit recalculation trigger; the formulas themselves carry the whole
// algorithm).
func BuildRangeWorkbook(records []*HoldingRecord, keys []SnapshotColumnKey, rng DateRange) (*excelize.File, error) {
	if rng.From.IsZero() && rng.To.IsZero() {
		rng = FullSpan(keys)
	}
	rng = rng.Normalized()
	f := excelize.NewFile()
	f.SetSheetName(f.GetSheetName(0), positionsSheet)
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	// Positions sheet: header + one row per identity x snapshot column.
	posHeader := []interface{}{"IdentityKey", "DPID", "ClientID", "Name", "DateSerial", "Position", "GroupOrder", "Value", "Bought", "Sold", "Rank", "LookupKey"}
	if err := f.SetSheetRow(positionsSheet, "A1", &posHeader); err != nil {
		return nil, err
	}
	positions := longFormatRows(records, GroupOrder(keys))
	for i, p := range positions {
		rowRef := fmt.Sprintf("A%d", i+2)
		row := []interface{}{
			p.identityKey, p.dpid, p.clientID, p.name,
			p.serial, p.position, p.groupOrder, p.value, p.bought, p.sold,
			p.rank(), fmt.Sprintf("%s|%d", p.identityKey, p.rank()),
		}
		if err := f.SetSheetRow(positionsSheet, rowRef, &row); err != nil {
			return nil, err
		}
	}

	// Range-control cells, exposed as workbook names so the formulas read
	// like the algorithm.
	f.SetCellValue(summarySheet, "A1", "Range start (serial)")
	f.SetCellValue(summarySheet, "B1", DateSerial(rng.From))
	f.SetCellValue(summarySheet, "A2", "Range end (serial)")
	f.SetCellValue(summarySheet, "B2", DateSerial(rng.To))
	for _, dn := range []excelize.DefinedName{
		{Name: rangeStartName, RefersTo: summarySheet + "!$B$1"},
		{Name: rangeEndName, RefersTo: summarySheet + "!$B$2"},
	} {
		if err := f.SetDefinedName(&dn); err != nil {
			return nil, err
		}
	}

	sumHeader := []interface{}{"IdentityKey", "DPID", "ClientID", "Name", "Initial", "Bought", "Sold", "Net", "StillHolding",
		"", "StartRank", "StartPos", "StartValue", "StartBought", "StartSold", "InRangeCount"}
	if err := f.SetSheetRow(summarySheet, "A4", &sumHeader); err != nil {
		return nil, err
	}

	// One summary row per distinct identity, in record order.
	seen := make(map[string]bool)
	rowNum := 4
	for _, rec := range records {
		idKey := rec.Identity.Key()
		if seen[idKey] {
			continue
		}
		seen[idKey] = true
		rowNum++
		r := rowNum
		f.SetCellValue(summarySheet, fmt.Sprintf("A%d", r), idKey)
		f.SetCellValue(summarySheet, fmt.Sprintf("B%d", r), rec.DPID)
		f.SetCellValue(summarySheet, fmt.Sprintf("C%d", r), rec.ClientID)
		f.SetCellValue(summarySheet, fmt.Sprintf("D%d", r), rec.Name)
		for cell, formula := range summaryFormulas(r) {
			if err := f.SetCellFormula(summarySheet, cell, formula); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

// summaryFormulas returns the formula set for one summary row. These are the
// reconciler's steps 2-5 transcribed to the formula language:
//
//   - InRangeCount guards the zero row (no in-range snapshot => all zeros);
//   - StartRank is the min rank among the identity's in-range rows, and the
//     composite LookupKey match recovers that snapshot's position, value and
//     deltas;
//   - Initial is the start value as-is for a position-1 start, or the
//     reconstructed baseline value-(bought-sold) for a delta-only start;
//   - Bought/Sold sum position-2 rows whose date falls inside the range,
//     which is also what keeps an out-of-range end delta excluded;
//   - Net and StillHolding are arithmetic over the other cells, so the
//     invariant holds in the sheet by construction too.
func summaryFormulas(r int) map[string]string {
	pos := func(col string) string { return positionsSheet + "!$" + col + ":$" + col }
	inRange := fmt.Sprintf(`%s,$A%d,%s,">="&%s,%s,"<="&%s`,
		pos("A"), r, pos("E"), rangeStartName, pos("E"), rangeEndName)
	lookup := func(valueCol string) string {
		return fmt.Sprintf(`IF($P%d=0,0,INDEX(%s,MATCH($A%d&"|"&$K%d,%s,0)))`,
			r, pos(valueCol), r, r, pos("L"))
	}
	deltaSum := func(deltaCol string) string {
		return fmt.Sprintf(`SUMIFS(%s,%s,$A%d,%s,2,%s,">="&%s,%s,"<="&%s)`,
			pos(deltaCol), pos("A"), r, pos("F"), pos("E"), rangeStartName, pos("E"), rangeEndName)
	}
	return map[string]string{
		fmt.Sprintf("P%d", r): fmt.Sprintf(`COUNTIFS(%s)`, inRange),
		fmt.Sprintf("K%d", r): fmt.Sprintf(`IF($P%d=0,0,MINIFS(%s,%s))`, r, pos("K"), inRange),
		fmt.Sprintf("L%d", r): lookup("F"),
		fmt.Sprintf("M%d", r): lookup("H"),
		fmt.Sprintf("N%d", r): lookup("I"),
		fmt.Sprintf("O%d", r): lookup("J"),
		fmt.Sprintf("E%d", r): fmt.Sprintf(`IF($P%d=0,0,IF($L%d=1,$M%d,$M%d-($N%d-$O%d)))`, r, r, r, r, r, r),
		fmt.Sprintf("F%d", r): deltaSum("I"),
		fmt.Sprintf("G%d", r): deltaSum("J"),
		fmt.Sprintf("H%d", r): fmt.Sprintf(`$F%d-$G%d`, r, r),
		fmt.Sprintf("I%d", r): fmt.Sprintf(`$E%d+$H%d`, r, r),
	}
}
