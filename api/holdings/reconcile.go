package holdings

import "time"

// DateRange is an inclusive calendar-date window.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Normalized returns the range with swapped bounds if From > To and both
// dates truncated to midnight UTC. The reconciler assumes normalized input.
func (r DateRange) Normalized() DateRange {
	from, to := DateOnly(r.From), DateOnly(r.To)
	if from.After(to) {
		from, to = to, from
	}
	return DateRange{From: from, To: to}
}

// FullSpan returns the range covering every key in the batch, the default
// when a caller supplies no range.
func FullSpan(keys []SnapshotColumnKey) DateRange {
	var r DateRange
	for _, k := range keys {
		d := DateOnly(k.BaseDate)
		if r.From.IsZero() || d.Before(r.From) {
			r.From = d
		}
		if r.To.IsZero() || d.After(r.To) {
			r.To = d
		}
	}
	return r
}

// SummaryRow is the reconciled per-identity aggregate for one date range.
// Net and StillHolding are produced by construction, never read back from an
// observed snapshot, so stillHolding == initialHolding + bought - sold holds
// definitionally.
type SummaryRow struct {
	Identity       Identity `json:"-"`
	DPID           string   `json:"dp_id"`
	ClientID       string   `json:"client_id"`
	Name           string   `json:"name"`
	Category       string   `json:"category,omitempty"`
	InitialHolding int64    `json:"initial_holding"`
	Bought         int64    `json:"bought"`
	Sold           int64    `json:"sold"`
	Net            int64    `json:"net"`
	StillHolding   int64    `json:"still_holding"`
}

const (
	endModePos1 = 1
	endModePos2 = 2
)

// groupView is one FileGroup restricted to the range and to one identity:
// which of its keys are in range and whether the record has data there.
type groupView struct {
	firstOK  bool // first key in range with data
	secondOK bool // second key in range with data
	first    SnapshotValue
	second   SnapshotValue
}

func viewGroup(rec *HoldingRecord, g FileGroup, rng DateRange) groupView {
	var v groupView
	if g.FirstKey != nil && g.FirstKey.InRange(rng.From, rng.To) {
		if sv, ok := rec.Snapshots[*g.FirstKey]; ok {
			v.firstOK = true
			v.first = sv
		}
	}
	if g.SecondKey != nil && g.SecondKey.InRange(rng.From, rng.To) {
		if sv, ok := rec.Snapshots[*g.SecondKey]; ok {
			v.secondOK = true
			v.second = sv
		}
	}
	return v
}

// Reconcile computes one identity's summary for an inclusive date range over
// the chronological FileGroup sequence. Pure function of its arguments.
//
// The walk: find the first in-range group with data (the start), taking its
// first-key value as the initial holding, or reconstructing the baseline
// value - (bought - sold) when only its second key is visible; find the last
// in-range group with data (the end), preferring its second key; then sum
// bought/sold across the start..end groups, skipping the end group's deltas
// when its second key was not the chosen end value (they would attribute
// movement past the chosen end snapshot).
func Reconcile(rec *HoldingRecord, groups []FileGroup, rng DateRange) SummaryRow {
	rng = rng.Normalized()
	row := SummaryRow{
		Identity: rec.Identity,
		DPID:     rec.DPID,
		ClientID: rec.ClientID,
		Name:     rec.Name,
		Category: rec.Category,
	}

	views := make([]groupView, len(groups))
	for i, g := range groups {
		views[i] = viewGroup(rec, g, rng)
	}

	// start: first in-range group with any data for this identity
	start := -1
	for i, v := range views {
		if v.firstOK {
			start = i
			row.InitialHolding = v.first.Value
			break
		}
		if v.secondOK {
			// delta-only start: reconstruct the baseline the second
			// snapshot moved away from
			start = i
			row.InitialHolding = v.second.Value - (v.second.Bought - v.second.Sold)
			break
		}
	}
	if start == -1 {
		return row // no data in range: the zero row
	}

	// end: last in-range group with data, preferring its second key
	end := start
	endMode := endModePos1
	for i := len(views) - 1; i >= start; i-- {
		v := views[i]
		if v.secondOK {
			end = i
			endMode = endModePos2
			break
		}
		if v.firstOK {
			end = i
			endMode = endModePos1
			break
		}
	}

	for i := start; i <= end; i++ {
		if i == end && endMode == endModePos1 {
			// the end value came from a first key; this group's second-key
			// deltas lie past the chosen end snapshot
			continue
		}
		if views[i].secondOK {
			row.Bought += views[i].second.Bought
			row.Sold += views[i].second.Sold
		}
	}

	row.Net = row.Bought - row.Sold
	row.StillHolding = row.InitialHolding + row.Net
	return row
}

// ReconcileAll runs Reconcile for every record. Identities entirely outside
// the range still emit their zero row; hiding those is the caller's call.
func ReconcileAll(records []*HoldingRecord, groups []FileGroup, rng DateRange) []SummaryRow {
	rows := make([]SummaryRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, Reconcile(rec, groups, rng))
	}
	return rows
}
