package holdings

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Sentinels for keys whose file/position metadata could not be recovered.
// Callers must treat UnknownPosition as "ungrouped / not part of a
// first-second pair".
const (
	UnknownFileIndex = -1
	UnknownPosition  = 0
)

// SnapshotColumnKey identifies one "AS ON" column instance: the calendar date
// it reports, which ingested file produced it, and whether it was that file's
// first or second snapshot column. Two files both reporting the same calendar
// date yield two distinct keys.
type SnapshotColumnKey struct {
	BaseDate  time.Time // midnight UTC, date only
	FileIndex int
	Position  int // 1 or 2
}

// SnapshotValue is one identity's observation at one column key. Bought/Sold
// carry the delta between a file's first and second snapshot and are only
// meaningful at position-2 keys.
type SnapshotValue struct {
	Value  int64 `json:"value"`
	Bought int64 `json:"bought"`
	Sold   int64 `json:"sold"`
}

var columnKeyMetaRe = regexp.MustCompile(`^f(\d+)p([12])$`)

// EncodeColumnKey renders a key as "2006-01-02#f<idx>p<pos>". A key without
// recoverable metadata encodes as the bare date.
func EncodeColumnKey(k SnapshotColumnKey) string {
	if k.FileIndex == UnknownFileIndex || k.Position == UnknownPosition {
		return k.BaseDate.Format("2006-01-02")
	}
	return fmt.Sprintf("%s#f%dp%d", k.BaseDate.Format("2006-01-02"), k.FileIndex, k.Position)
}

// DecodeColumnKey is the inverse of EncodeColumnKey. Malformed or missing
// file/position metadata decodes to the Unknown sentinels rather than an
// error; an unparseable date yields a zero BaseDate.
func DecodeColumnKey(s string) SnapshotColumnKey {
	k := SnapshotColumnKey{FileIndex: UnknownFileIndex, Position: UnknownPosition}
	datePart := s
	if i := strings.IndexByte(s, '#'); i >= 0 {
		datePart = s[:i]
		if m := columnKeyMetaRe.FindStringSubmatch(s[i+1:]); m != nil {
			idx, _ := strconv.Atoi(m[1])
			pos, _ := strconv.Atoi(m[2])
			k.FileIndex = idx
			k.Position = pos
		}
	}
	if t, err := time.Parse("2006-01-02", strings.TrimSpace(datePart)); err == nil {
		k.BaseDate = t.UTC()
	}
	return k
}

// DateOnly truncates t to midnight UTC so map keys built from different
// sources compare equal on the calendar date alone.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// DateSerial converts a calendar date to an Excel serial day number. The
// 1899-12-30 epoch already absorbs Excel's phantom 1900-02-29 for every date
// this system handles.
func DateSerial(t time.Time) int64 {
	return int64(DateOnly(t).Sub(excelEpoch).Hours() / 24)
}

// SerialDate converts an Excel serial day number back to a calendar date.
func SerialDate(serial int64) time.Time {
	return excelEpoch.AddDate(0, 0, int(serial))
}

// InRange reports whether the key's base date falls inside [from, to]
// inclusive.
func (k SnapshotColumnKey) InRange(from, to time.Time) bool {
	d := DateOnly(k.BaseDate)
	return !d.Before(DateOnly(from)) && !d.After(DateOnly(to))
}
