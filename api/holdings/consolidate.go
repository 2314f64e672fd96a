package holdings

import (
	"sort"
	"time"
)

// HoldingRecord is one identity's consolidated view across every ingested
// file. It lives for one consolidation pass; the next upload rebuilds it from
// scratch.
type HoldingRecord struct {
	Identity  Identity
	DPID      string
	ClientID  string
	Name      string
	Category  string
	Snapshots map[SnapshotColumnKey]SnapshotValue
}

// mergeSnapshot unions one observation into the record. A key collision
// models multiple raw rows for the same identity in the same file: numeric
// fields are summed, never overwritten.
func (hr *HoldingRecord) mergeSnapshot(key SnapshotColumnKey, v SnapshotValue) {
	if prev, ok := hr.Snapshots[key]; ok {
		v.Value += prev.Value
		v.Bought += prev.Bought
		v.Sold += prev.Sold
	}
	hr.Snapshots[key] = v
}

// Consolidate merges a batch of per-file ingests into one HoldingRecord per
// identity and returns the records plus every column key in the batch.
//
// File indices are reassigned 0..n-1 after sorting the batch by each file's
// second-column date (ties: first date, then source filename), so the same
// batch always yields the same key set regardless of upload order.
func Consolidate(ingests []*IngestResult) ([]*HoldingRecord, []SnapshotColumnKey) {
	batch := make([]*IngestResult, len(ingests))
	copy(batch, ingests)
	sort.SliceStable(batch, func(i, j int) bool {
		if !batch[i].SecondDate.Equal(batch[j].SecondDate) {
			return batch[i].SecondDate.Before(batch[j].SecondDate)
		}
		if !batch[i].FirstDate.Equal(batch[j].FirstDate) {
			return batch[i].FirstDate.Before(batch[j].FirstDate)
		}
		return batch[i].SourceFile < batch[j].SourceFile
	})
	for i, ing := range batch {
		ing.FileIndex = i
	}

	byIdentity := make(map[Identity]*HoldingRecord)
	var order []Identity
	keys := make([]SnapshotColumnKey, 0, len(batch)*2)
	for _, ing := range batch {
		firstKey := ing.FirstKey()
		secondKey := ing.SecondKey()
		keys = append(keys, firstKey, secondKey)
		for _, row := range ing.Rows {
			id := NewIdentity(row.DPID, row.ClientID, row.Name)
			rec, ok := byIdentity[id]
			if !ok {
				rec = &HoldingRecord{
					Identity:  id,
					DPID:      id.DPID,
					ClientID:  id.ClientID,
					Name:      id.Name,
					Snapshots: make(map[SnapshotColumnKey]SnapshotValue),
				}
				byIdentity[id] = rec
				order = append(order, id)
			}
			if rec.Category == "" && row.Category != "" {
				rec.Category = row.Category
			}
			rec.mergeSnapshot(firstKey, SnapshotValue{Value: row.FirstValue})
			rec.mergeSnapshot(secondKey, SnapshotValue{Value: row.SecondValue, Bought: row.Bought, Sold: row.Sold})
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Key() < order[j].Key() })
	records := make([]*HoldingRecord, 0, len(order))
	for _, id := range order {
		records = append(records, byIdentity[id])
	}
	return records, keys
}

// FileGroup pairs one file's two column keys. Either key may be absent for
// keys recovered without full metadata.
type FileGroup struct {
	FileIndex int
	FirstKey  *SnapshotColumnKey
	SecondKey *SnapshotColumnKey
}

// earliestDate is the chronological anchor used to order groups: whichever of
// the two keys exists, preferring the earlier one.
func (g FileGroup) earliestDate() time.Time {
	switch {
	case g.FirstKey != nil && g.SecondKey != nil:
		if g.SecondKey.BaseDate.Before(g.FirstKey.BaseDate) {
			return g.SecondKey.BaseDate
		}
		return g.FirstKey.BaseDate
	case g.FirstKey != nil:
		return g.FirstKey.BaseDate
	case g.SecondKey != nil:
		return g.SecondKey.BaseDate
	}
	return time.Time{}
}

// GroupOrder maps each file index to its position in the chronological group
// sequence. File indices follow second-column dates while groups are ordered
// by earliest key date, so the two orderings differ when file periods overlap.
func GroupOrder(keys []SnapshotColumnKey) map[int]int {
	order := make(map[int]int)
	for i, g := range GroupByFile(keys) {
		order[g.FileIndex] = i
	}
	return order
}

// GroupByFile derives one FileGroup per distinct file index present in the
// key set, ordered chronologically. This ordering is the authoritative period
// sequence the reconciler walks; presentation layers may reverse their copy
// but never this one. Keys without file/position metadata are left ungrouped.
func GroupByFile(keys []SnapshotColumnKey) []FileGroup {
	byFile := make(map[int]*FileGroup)
	for _, k := range keys {
		if k.FileIndex == UnknownFileIndex || k.Position == UnknownPosition {
			continue
		}
		g, ok := byFile[k.FileIndex]
		if !ok {
			g = &FileGroup{FileIndex: k.FileIndex}
			byFile[k.FileIndex] = g
		}
		key := k
		switch k.Position {
		case 1:
			g.FirstKey = &key
		case 2:
			g.SecondKey = &key
		}
	}
	groups := make([]FileGroup, 0, len(byFile))
	for _, g := range byFile {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		di, dj := groups[i].earliestDate(), groups[j].earliestDate()
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return groups[i].FileIndex < groups[j].FileIndex
	})
	return groups
}
