package holdings

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// positionRowsOf flattens consolidated ingests into the long-format rows the
// staging table would hold, ordered the way the streaming query orders them.
func positionRowsOf(ingests []*IngestResult) []PositionRow {
	var keys []SnapshotColumnKey
	for _, ing := range ingests {
		keys = append(keys, ing.FirstKey(), ing.SecondKey())
	}
	orderOf := GroupOrder(keys)

	var out []PositionRow
	for _, ing := range ingests {
		for _, r := range ing.Rows {
			id := NewIdentity(r.DPID, r.ClientID, r.Name)
			out = append(out,
				PositionRow{DPID: id.DPID, ClientID: id.ClientID, Name: id.Name, Category: r.Category,
					BaseDate: ing.FirstDate, FileIndex: ing.FileIndex, GroupOrder: orderOf[ing.FileIndex],
					Position: 1, Value: r.FirstValue},
				PositionRow{DPID: id.DPID, ClientID: id.ClientID, Name: id.Name, Category: r.Category,
					BaseDate: ing.SecondDate, FileIndex: ing.FileIndex, GroupOrder: orderOf[ing.FileIndex],
					Position: 2, Value: r.SecondValue, Bought: r.Bought, Sold: r.Sold},
			)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].GroupOrder != out[j].GroupOrder {
			return out[i].GroupOrder < out[j].GroupOrder
		}
		return out[i].Position < out[j].Position
	})
	return out
}

func streamSummaries(ingests []*IngestResult, rng DateRange) []SummaryRow {
	sr := NewStreamReconciler(rng)
	for _, r := range positionRowsOf(ingests) {
		sr.Observe(r)
	}
	return sr.Finalize()
}

func fixtureIngests() []*IngestResult {
	return []*IngestResult{
		ingestOf("w1.xlsx", d(2025, 12, 1), d(2025, 12, 8),
			row("IN1", "C1", "ACME", 500, 600, 150, 50),
			row("IN2", "C2", "SHAH", 80, 60, 0, 20)),
		ingestOf("w2.xlsx", d(2025, 12, 8), d(2025, 12, 15),
			row("IN1", "C1", "ACME", 600, 700, 100, 0),
			row("IN3", "C3", "LATE JOINER", 0, 40, 40, 0)),
	}
}

func TestStreamMatchesInMemoryReconciler(t *testing.T) {
	ingests := fixtureIngests()
	records, keys := Consolidate(ingests)
	groups := GroupByFile(keys)

	start := d(2025, 11, 28)
	for fromOff := 0; fromOff < 22; fromOff++ {
		for toOff := fromOff; toOff < 22; toOff++ {
			rng := DateRange{From: start.AddDate(0, 0, fromOff), To: start.AddDate(0, 0, toOff)}
			want := ReconcileAll(records, groups, rng)
			got := streamSummaries(ingests, rng)
			require.Equal(t, want, got, "range %s..%s",
				rng.From.Format("2006-01-02"), rng.To.Format("2006-01-02"))
		}
	}
}

// overlapIngests is a batch whose file periods overlap: the short file gets
// the lower file index (earlier second date) while the long file's group
// comes first chronologically.
func overlapIngests() []*IngestResult {
	return []*IngestResult{
		ingestOf("long.xlsx", d(2025, 1, 1), d(2025, 3, 1), row("IN1", "C1", "ACME", 100, 200, 100, 0)),
		ingestOf("short.xlsx", d(2025, 2, 1), d(2025, 2, 15), row("IN1", "C1", "ACME", 500, 550, 50, 0)),
	}
}

func TestStreamMatchesInMemoryWithOverlappingPeriods(t *testing.T) {
	ingests := overlapIngests()
	records, keys := Consolidate(ingests)
	groups := GroupByFile(keys)
	require.Equal(t, 0, ingests[1].FileIndex)
	require.Equal(t, 1, ingests[0].FileIndex)

	full := DateRange{From: d(2025, 1, 1), To: d(2025, 3, 1)}
	want := ReconcileAll(records, groups, full)
	require.Len(t, want, 1)
	assert.Equal(t, int64(100), want[0].InitialHolding)
	assert.Equal(t, int64(250), want[0].StillHolding)
	require.Equal(t, want, streamSummaries(ingests, full))

	start := d(2024, 12, 28)
	for fromOff := 0; fromOff <= 70; fromOff++ {
		for toOff := fromOff; toOff <= 70; toOff++ {
			rng := DateRange{From: start.AddDate(0, 0, fromOff), To: start.AddDate(0, 0, toOff)}
			require.Equal(t, ReconcileAll(records, groups, rng), streamSummaries(ingests, rng),
				"range %s..%s", rng.From.Format("2006-01-02"), rng.To.Format("2006-01-02"))
		}
	}
}

func TestStreamDeltaOnlyStart(t *testing.T) {
	ingests := []*IngestResult{
		ingestOf("w.xlsx", d(2025, 12, 1), d(2025, 12, 8), row("IN1", "C1", "ACME", 900, 1000, 200, 50)),
	}
	Consolidate(ingests)
	rows := streamSummaries(ingests, DateRange{From: d(2025, 12, 8), To: d(2025, 12, 8)})
	require.Len(t, rows, 1)
	assert.Equal(t, int64(850), rows[0].InitialHolding)
	assert.Equal(t, int64(1000), rows[0].StillHolding)
}

func TestStreamEmitsZeroRowForOutOfRangeIdentity(t *testing.T) {
	ingests := fixtureIngests()
	Consolidate(ingests)
	rows := streamSummaries(ingests, DateRange{From: d(2026, 1, 1), To: d(2026, 1, 31)})
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Zero(t, r.InitialHolding, r.Name)
		assert.Zero(t, r.Bought, r.Name)
		assert.Zero(t, r.Sold, r.Name)
		assert.Zero(t, r.StillHolding, r.Name)
	}
}

func TestStreamIsArrivalOrderIndependent(t *testing.T) {
	ingests := fixtureIngests()
	Consolidate(ingests)
	rows := positionRowsOf(ingests)
	rng := DateRange{From: d(2025, 12, 1), To: d(2025, 12, 15)}

	forward := NewStreamReconciler(rng)
	for _, r := range rows {
		forward.Observe(r)
	}
	backward := NewStreamReconciler(rng)
	for i := len(rows) - 1; i >= 0; i-- {
		backward.Observe(rows[i])
	}
	assert.Equal(t, forward.Finalize(), backward.Finalize())
}

func TestStreamInvariantEveryRange(t *testing.T) {
	ingests := fixtureIngests()
	Consolidate(ingests)
	start := d(2025, 11, 28)
	for fromOff := 0; fromOff < 22; fromOff++ {
		for toOff := fromOff; toOff < 22; toOff++ {
			rng := DateRange{From: start.AddDate(0, 0, fromOff), To: start.AddDate(0, 0, toOff)}
			assertInvariant(t, streamSummaries(ingests, rng))
		}
	}
}
