package holdings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestColumnKeyRoundTrip(t *testing.T) {
	k := SnapshotColumnKey{BaseDate: d(2025, 12, 3), FileIndex: 4, Position: 2}
	enc := EncodeColumnKey(k)
	assert.Equal(t, "2025-12-03#f4p2", enc)
	assert.Equal(t, k, DecodeColumnKey(enc))
}

func TestDecodeColumnKeyMalformedMeta(t *testing.T) {
	cases := []string{
		"2025-12-03",
		"2025-12-03#",
		"2025-12-03#garbage",
		"2025-12-03#f1p9",
		"2025-12-03#p1f1",
	}
	for _, s := range cases {
		k := DecodeColumnKey(s)
		assert.Equal(t, UnknownFileIndex, k.FileIndex, s)
		assert.Equal(t, UnknownPosition, k.Position, s)
		assert.Equal(t, d(2025, 12, 3), k.BaseDate, s)
	}
}

func TestDecodeColumnKeyBadDate(t *testing.T) {
	k := DecodeColumnKey("not-a-date#f1p1")
	assert.True(t, k.BaseDate.IsZero())
	assert.Equal(t, 1, k.FileIndex)
	assert.Equal(t, 1, k.Position)
}

func TestDuplicateDateKeysStayDistinct(t *testing.T) {
	a := SnapshotColumnKey{BaseDate: d(2025, 12, 3), FileIndex: 0, Position: 2}
	b := SnapshotColumnKey{BaseDate: d(2025, 12, 3), FileIndex: 1, Position: 1}
	require.NotEqual(t, a, b)
	require.NotEqual(t, EncodeColumnKey(a), EncodeColumnKey(b))

	m := map[SnapshotColumnKey]SnapshotValue{}
	m[a] = SnapshotValue{Value: 600}
	m[b] = SnapshotValue{Value: 600}
	assert.Len(t, m, 2)
}

func TestDateSerialRoundTrip(t *testing.T) {
	dates := []time.Time{
		d(2024, 2, 29),
		d(2025, 1, 1),
		d(2025, 12, 3),
		d(2030, 6, 15),
	}
	for _, dt := range dates {
		assert.Equal(t, dt, SerialDate(DateSerial(dt)), dt.String())
	}
	// known anchor: 2025-01-01 is Excel serial 45658
	assert.Equal(t, int64(45658), DateSerial(d(2025, 1, 1)))
}

func TestInRangeInclusive(t *testing.T) {
	k := SnapshotColumnKey{BaseDate: d(2025, 12, 3), Position: 1}
	assert.True(t, k.InRange(d(2025, 12, 3), d(2025, 12, 3)))
	assert.True(t, k.InRange(d(2025, 12, 1), d(2025, 12, 31)))
	assert.False(t, k.InRange(d(2025, 12, 4), d(2025, 12, 31)))
	assert.False(t, k.InRange(d(2025, 11, 1), d(2025, 12, 2)))
}
