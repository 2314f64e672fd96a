package holdings

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/extrame/xls"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// IngestedRow is one data row of one file after column mapping and numeric
// cleanup. FirstValue/SecondValue are the two AS ON holdings; Bought/Sold the
// delta attributed to the second snapshot.
type IngestedRow struct {
	DPID        string
	ClientID    string
	Name        string
	Category    string
	FirstValue  int64
	SecondValue int64
	Bought      int64
	Sold        int64
}

// IngestResult is one file's contribution to a consolidation batch.
// FileIndex is assigned by Consolidate after the batch is sorted by
// second-column date; it is UnknownFileIndex until then.
type IngestResult struct {
	SourceFile string
	FileIndex  int
	FirstDate  time.Time
	SecondDate time.Time
	Rows       []IngestedRow
}

// FirstKey returns the position-1 column key for this file.
func (ir *IngestResult) FirstKey() SnapshotColumnKey {
	return SnapshotColumnKey{BaseDate: ir.FirstDate, FileIndex: ir.FileIndex, Position: 1}
}

// SecondKey returns the position-2 column key for this file.
func (ir *IngestResult) SecondKey() SnapshotColumnKey {
	return SnapshotColumnKey{BaseDate: ir.SecondDate, FileIndex: ir.FileIndex, Position: 2}
}

// getFileExt returns the lowercased extension of an uploaded filename.
func getFileExt(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// parseHoldingsFile turns an uploaded CSV/XLSX/XLS payload into [][]string.
// XLSX goes through excelize, legacy XLS through extrame/xls, anything else
// is treated as CSV with a variable field count.
func parseHoldingsFile(data []byte, ext string) ([][]string, error) {
	switch ext {
	case ".xlsx":
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer f.Close()
		sheet := f.GetSheetName(0)
		return f.GetRows(sheet)
	case ".xls":
		wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, err
		}
		rows := wb.ReadAllCells(65536)
		if len(rows) == 0 {
			return nil, errors.New("xls sheet is empty")
		}
		return rows, nil
	default:
		r := csv.NewReader(bytes.NewReader(data))
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true
		return r.ReadAll()
	}
}

var asOnHeaderRe = regexp.MustCompile(`(?i)\bAS\s*ON\b`)

// headerDateLayouts covers the date renderings seen in DP holding statements.
// dd/mm variants come before mm/dd; Indian statements are day-first.
var headerDateLayouts = []string{
	"02/01/2006", "2/1/2006", "02-01-2006", "2-1-2006",
	"02-Jan-2006", "2-Jan-2006", "02-Jan-06", "02 Jan 2006", "2 Jan 2006",
	"02/Jan/2006", "Jan 2, 2006", "January 2, 2006",
	"2006-01-02", "2006/01/02",
}

// date-bearing substrings inside a header cell: numeric (03/12/2025,
// 2025-12-03) and named-month (03-Dec-2025, 3 Dec 2025) renderings.
var headerDateRes = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}[-/]\d{1,2}[-/]\d{1,2}`),
	regexp.MustCompile(`\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4}`),
	regexp.MustCompile(`(?i)\d{1,2}[ \-/]*[A-Za-z]{3,9}[ \-/,]*\d{2,4}`),
	regexp.MustCompile(`(?i)[A-Za-z]{3,9}[ \-/,]+\d{1,2}[ ,]+\d{2,4}`),
}

// parseHeaderDate pulls the calendar date out of an AS ON header cell, e.g.
// "HOLDING AS ON 03/12/2025" or "AS ON 03-Dec-2025". Falls back to an Excel
// serial when the whole remainder is numeric.
func parseHeaderDate(header string) (time.Time, bool) {
	loc := asOnHeaderRe.FindStringIndex(header)
	rest := header
	if loc != nil {
		rest = header[loc[1]:]
	}
	rest = strings.Trim(rest, " :-()\t")
	for _, re := range headerDateRes {
		m := re.FindString(rest)
		if m == "" {
			continue
		}
		m = strings.Trim(m, " ,")
		for _, layout := range headerDateLayouts {
			if t, err := time.Parse(layout, m); err == nil {
				return DateOnly(t), true
			}
		}
	}
	// Excel may have rendered the header date as a bare serial number.
	if n, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64); err == nil && n > 0 && n < 200000 {
		return DateOnly(SerialDate(n)), true
	}
	return time.Time{}, false
}

// parseQuantity converts noisy spreadsheet numerics to int64: thousands
// separators, accounting-style parentheses for negatives and a leading '+'
// are tolerated, fractions truncate toward zero, garbage fails soft to 0.
func parseQuantity(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimPrefix(s, "+")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	n := d.IntPart()
	if neg {
		n = -n
	}
	return n
}

// column roles matched against normalized headers, first hit wins.
var (
	dpidHeaders     = []string{"dp id", "dpid", "depository id", "dp_id"}
	clientHeaders   = []string{"client id", "clientid", "client_id", "beneficiary id", "bo id"}
	nameHeaders     = []string{"name", "holder name", "client name", "security name", "name of the company"}
	categoryHeaders = []string{"category", "type", "client type"}
	boughtHeaders   = []string{"bought", "purchase", "purchased", "buy qty", "credit"}
	soldHeaders     = []string{"sold", "sale", "sell qty", "debit"}
)

func normalizeHeaderCell(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.TrimSpace(s)), " "))
}

func matchHeader(norm string, candidates []string) bool {
	for _, c := range candidates {
		if norm == c || strings.Contains(norm, c) {
			return true
		}
	}
	return false
}

type columnLayout struct {
	dpid, client, name, category int
	bought, sold                 int
	first, second                int // AS ON columns, chronological
	firstDate, secondDate        time.Time
}

// locateColumns scans for the header row and maps every role to a column
// index. The header row is the first row carrying at least two AS ON columns
// with recoverable dates. Returns the layout plus the index of the header row.
func locateColumns(records [][]string) (*columnLayout, int, error) {
	for rowIdx, row := range records {
		type asOn struct {
			col  int
			date time.Time
		}
		var dated []asOn
		for col, cell := range row {
			if asOnHeaderRe.MatchString(cell) {
				if d, ok := parseHeaderDate(cell); ok {
					dated = append(dated, asOn{col: col, date: d})
				}
			}
		}
		if len(dated) < 2 {
			continue
		}
		// First two AS ON columns found, ordered so position 1 is the
		// chronologically earlier of the pair.
		a, b := dated[0], dated[1]
		if b.date.Before(a.date) {
			a, b = b, a
		}
		lay := &columnLayout{
			dpid: -1, client: -1, name: -1, category: -1, bought: -1, sold: -1,
			first: a.col, second: b.col, firstDate: a.date, secondDate: b.date,
		}
		for col, cell := range row {
			if col == lay.first || col == lay.second {
				continue
			}
			norm := normalizeHeaderCell(cell)
			switch {
			case lay.dpid == -1 && matchHeader(norm, dpidHeaders):
				lay.dpid = col
			case lay.client == -1 && matchHeader(norm, clientHeaders):
				lay.client = col
			case lay.bought == -1 && matchHeader(norm, boughtHeaders):
				lay.bought = col
			case lay.sold == -1 && matchHeader(norm, soldHeaders):
				lay.sold = col
			case lay.category == -1 && matchHeader(norm, categoryHeaders):
				lay.category = col
			case lay.name == -1 && matchHeader(norm, nameHeaders):
				lay.name = col
			}
		}
		if lay.name == -1 {
			return nil, 0, errors.New("no name column found alongside AS ON columns")
		}
		return lay, rowIdx, nil
	}
	return nil, 0, errors.New("fewer than two AS ON columns found")
}

func cellAt(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// IngestSnapshotFile turns one uploaded file's tabular rows into per-identity
// snapshot rows keyed by the file's two AS ON columns. A file with fewer than
// two recoverable AS ON columns is rejected whole; a single bad cell only
// zeroes that cell's contribution.
func IngestSnapshotFile(filename string, records [][]string) (*IngestResult, error) {
	if len(records) < 2 {
		return nil, fmt.Errorf("%s: file has no data rows", filename)
	}
	lay, headerRow, err := locateColumns(records)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	res := &IngestResult{
		SourceFile: filename,
		FileIndex:  UnknownFileIndex,
		FirstDate:  lay.firstDate,
		SecondDate: lay.secondDate,
	}
	for _, row := range records[headerRow+1:] {
		name := cellAt(row, lay.name)
		dpid := cellAt(row, lay.dpid)
		client := cellAt(row, lay.client)
		if name == "" && dpid == "" && client == "" {
			continue // blank or spacer row
		}
		res.Rows = append(res.Rows, IngestedRow{
			DPID:        dpid,
			ClientID:    client,
			Name:        name,
			Category:    cellAt(row, lay.category),
			FirstValue:  parseQuantity(cellAt(row, lay.first)),
			SecondValue: parseQuantity(cellAt(row, lay.second)),
			Bought:      parseQuantity(cellAt(row, lay.bought)),
			Sold:        parseQuantity(cellAt(row, lay.sold)),
		})
	}
	if len(res.Rows) == 0 {
		return nil, fmt.Errorf("%s: no usable data rows under header", filename)
	}
	return res, nil
}
