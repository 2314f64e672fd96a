package holdings

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PositionRow is one persisted long-format row: one identity at one snapshot
// column. This is the shape staged by the upload handler and consumed by the
// streaming reconciler and the export table.
type PositionRow struct {
	DPID       string
	ClientID   string
	Name       string
	Category   string
	BaseDate   time.Time
	FileIndex  int
	GroupOrder int
	Position   int
	Value      int64
	Bought     int64
	Sold       int64
}

// groupRank orders rows the way the in-memory walk orders file groups:
// chronological group order (per GroupOrder, persisted at staging time)
// first, position inside the file second. File index alone would diverge
// from the walk for overlapping file periods. Comparing the rank explicitly
// on every row makes the aggregation independent of arrival order.
func (r PositionRow) groupRank() int64 {
	return int64(r.GroupOrder)*10 + int64(r.Position)
}

// streamAgg is the running per-identity state. Only aggregates live here;
// the row set itself is never buffered.
type streamAgg struct {
	category string

	inRange bool
	minRank int64
	maxRank int64

	// the min-rank snapshot's fields; ties accumulate, mirroring the
	// consolidation merge of duplicate rows at the same key
	startPos    int
	startValue  int64
	startBought int64
	startSold   int64

	bought int64
	sold   int64
}

// StreamReconciler computes the same per-identity summaries as Reconcile in
// a single pass over unbuffered rows, updating running aggregates as each row
// streams past and finalizing once the stream ends.
type StreamReconciler struct {
	rng   DateRange
	aggs  map[Identity]*streamAgg
	order []Identity
}

func NewStreamReconciler(rng DateRange) *StreamReconciler {
	return &StreamReconciler{
		rng:  rng.Normalized(),
		aggs: make(map[Identity]*streamAgg),
	}
}

// Observe folds one row into the running aggregates. Rows outside the range
// still register the identity so it finalizes to a zero row instead of
// disappearing.
func (s *StreamReconciler) Observe(row PositionRow) {
	id := NewIdentity(row.DPID, row.ClientID, row.Name)
	agg, ok := s.aggs[id]
	if !ok {
		agg = &streamAgg{}
		s.aggs[id] = agg
		s.order = append(s.order, id)
	}
	if agg.category == "" && row.Category != "" {
		agg.category = row.Category
	}

	key := SnapshotColumnKey{BaseDate: row.BaseDate, Position: row.Position}
	if !key.InRange(s.rng.From, s.rng.To) {
		return
	}
	rank := row.groupRank()

	switch {
	case !agg.inRange || rank < agg.minRank:
		agg.minRank = rank
		agg.startPos = row.Position
		agg.startValue = row.Value
		agg.startBought = row.Bought
		agg.startSold = row.Sold
	case rank == agg.minRank:
		// duplicate staged rows for the same identity at the same key sum,
		// exactly like the consolidation merge rule
		agg.startValue += row.Value
		agg.startBought += row.Bought
		agg.startSold += row.Sold
	}
	if !agg.inRange || rank > agg.maxRank {
		agg.maxRank = rank
	}
	agg.inRange = true

	// Position-2 rows inside the range carry the period deltas. A group whose
	// second snapshot lies past the range end contributes no such row, which
	// is exactly the walk's end-group delta exclusion.
	if row.Position == 2 {
		agg.bought += row.Bought
		agg.sold += row.Sold
	}
}

// Finalize closes the stream and emits one reconciled row per identity seen,
// sorted by identity key for deterministic output.
func (s *StreamReconciler) Finalize() []SummaryRow {
	ids := make([]Identity, len(s.order))
	copy(ids, s.order)
	sort.Slice(ids, func(i, j int) bool { return ids[i].Key() < ids[j].Key() })

	rows := make([]SummaryRow, 0, len(ids))
	for _, id := range ids {
		agg := s.aggs[id]
		row := SummaryRow{
			Identity: id,
			DPID:     id.DPID,
			ClientID: id.ClientID,
			Name:     id.Name,
			Category: agg.category,
		}
		if agg.inRange {
			if agg.startPos == 1 {
				row.InitialHolding = agg.startValue
			} else {
				// delta-only start: rebuild the baseline the second snapshot
				// moved away from
				row.InitialHolding = agg.startValue - (agg.startBought - agg.startSold)
			}
			row.Bought = agg.bought
			row.Sold = agg.sold
		}
		row.Net = row.Bought - row.Sold
		row.StillHolding = row.InitialHolding + row.Net
		rows = append(rows, row)
	}
	return rows
}

// SummarizeFromDB streams every persisted row of a batch through a
// StreamReconciler. Rows arrive from the cursor one at a time; memory stays
// flat in the row count.
func SummarizeFromDB(ctx context.Context, pool *pgxpool.Pool, batchID string, rng DateRange) ([]SummaryRow, error) {
	rows, err := pool.Query(ctx, `
		SELECT dp_id, client_id, holder_name, COALESCE(category, ''),
		       base_date, file_index, group_order, position, value, bought, sold
		FROM holding_position_rows
		WHERE upload_batch_id = $1
		ORDER BY group_order, position`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query position rows: %w", err)
	}
	defer rows.Close()

	sr := NewStreamReconciler(rng)
	for rows.Next() {
		var r PositionRow
		if err := rows.Scan(&r.DPID, &r.ClientID, &r.Name, &r.Category,
			&r.BaseDate, &r.FileIndex, &r.GroupOrder, &r.Position, &r.Value, &r.Bought, &r.Sold); err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		sr.Observe(r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stream position rows: %w", err)
	}
	return sr.Finalize(), nil
}
