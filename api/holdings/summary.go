package holdings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"HoldingsRecon/api"
	"HoldingsRecon/internal/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var errNoBatch = errors.New("no uploaded batch available")

// latestBatchID returns the staged batch's id; replace-all staging keeps at
// most one.
func latestBatchID(ctx context.Context, pool *pgxpool.Pool) (string, error) {
	var id string
	err := pool.QueryRow(ctx,
		`SELECT upload_batch_id FROM holding_upload_batches ORDER BY uploaded_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errNoBatch
	}
	return id, err
}

// loadPositionRows materializes a staged batch; only the small-dataset path
// uses it, the streaming path never buffers rows.
func loadPositionRows(ctx context.Context, pool *pgxpool.Pool, batchID string) ([]PositionRow, error) {
	rows, err := pool.Query(ctx, `
		SELECT dp_id, client_id, holder_name, COALESCE(category, ''),
		       base_date, file_index, group_order, position, value, bought, sold
		FROM holding_position_rows
		WHERE upload_batch_id = $1
		ORDER BY group_order, position`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionRow
	for rows.Next() {
		var r PositionRow
		if err := rows.Scan(&r.DPID, &r.ClientID, &r.Name, &r.Category,
			&r.BaseDate, &r.FileIndex, &r.GroupOrder, &r.Position, &r.Value, &r.Bought, &r.Sold); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// recordsFromRows rebuilds the consolidated records and key set from
// persisted long-format rows, applying the same merge rule as Consolidate.
func recordsFromRows(rows []PositionRow) ([]*HoldingRecord, []SnapshotColumnKey) {
	byIdentity := make(map[Identity]*HoldingRecord)
	var order []Identity
	keySet := make(map[SnapshotColumnKey]bool)
	var keys []SnapshotColumnKey
	for _, pr := range rows {
		key := SnapshotColumnKey{BaseDate: DateOnly(pr.BaseDate), FileIndex: pr.FileIndex, Position: pr.Position}
		if !keySet[key] {
			keySet[key] = true
			keys = append(keys, key)
		}
		id := NewIdentity(pr.DPID, pr.ClientID, pr.Name)
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
		if rec.Category == "" && pr.Category != "" {
			rec.Category = pr.Category
		}
		rec.mergeSnapshot(key, SnapshotValue{Value: pr.Value, Bought: pr.Bought, Sold: pr.Sold})
	}
	records := make([]*HoldingRecord, 0, len(order))
	for _, id := range order {
		records = append(records, byIdentity[id])
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Identity.Key() < records[j].Identity.Key()
	})
	return records, keys
}

type rangeRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// parseRange resolves a caller-supplied range, defaulting unset bounds to the
// batch's full span. Inverted bounds are swapped, not rejected.
func parseRange(req rangeRequest, keys []SnapshotColumnKey) (DateRange, error) {
	rng := FullSpan(keys)
	if req.From != "" {
		t, err := time.Parse("2006-01-02", req.From)
		if err != nil {
			return rng, fmt.Errorf("invalid from date %q", req.From)
		}
		rng.From = DateOnly(t)
	}
	if req.To != "" {
		t, err := time.Parse("2006-01-02", req.To)
		if err != nil {
			return rng, fmt.Errorf("invalid to date %q", req.To)
		}
		rng.To = DateOnly(t)
	}
	return rng.Normalized(), nil
}

// matrixRecord is the JSON shape of one consolidated record: snapshots keyed
// by encoded column key so the caller can decode date/file/position back out.
type matrixRecord struct {
	DPID      string                   `json:"dp_id"`
	ClientID  string                   `json:"client_id"`
	Name      string                   `json:"name"`
	Category  string                   `json:"category,omitempty"`
	Snapshots map[string]SnapshotValue `json:"snapshots"`
}

// GetHoldingsMatrix handles POST /holdings/matrix: the consolidated
// per-identity snapshot matrix plus the chronological file groups. Rendering,
// sorting and filtering are the caller's business.
func GetHoldingsMatrix(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		batchID, err := latestBatchID(ctx, pool)
		if err != nil {
			if errors.Is(err, errNoBatch) {
				api.RespondWithPayload(w, true, "", []matrixRecord{})
				return
			}
			api.RespondWithError(w, http.StatusInternalServerError, err.Error())
			return
		}
		rows, err := loadPositionRows(ctx, pool, batchID)
		if err != nil {
			api.RespondWithError(w, http.StatusInternalServerError, err.Error())
			return
		}
		records, keys := recordsFromRows(rows)
		groups := GroupByFile(keys)

		out := make([]matrixRecord, 0, len(records))
		for _, rec := range records {
			mr := matrixRecord{
				DPID:      rec.DPID,
				ClientID:  rec.ClientID,
				Name:      rec.Name,
				Category:  rec.Category,
				Snapshots: make(map[string]SnapshotValue, len(rec.Snapshots)),
			}
			for k, v := range rec.Snapshots {
				mr.Snapshots[EncodeColumnKey(k)] = v
			}
			out = append(out, mr)
		}

		groupKeys := make([][]string, 0, len(groups))
		for _, g := range groups {
			pair := make([]string, 0, 2)
			if g.FirstKey != nil {
				pair = append(pair, EncodeColumnKey(*g.FirstKey))
			}
			if g.SecondKey != nil {
				pair = append(pair, EncodeColumnKey(*g.SecondKey))
			}
			groupKeys = append(groupKeys, pair)
		}
		api.RespondWithPayload(w, true, "", map[string]interface{}{
			"batch_id": batchID,
			"records":  out,
			"groups":   groupKeys,
		})
	}
}

// GetHoldingsSummary handles POST /holdings/summary with an optional
// {from,to} body. Small batches reconcile in memory; past the row threshold
// the same figures come from the single-pass streaming aggregation.
func GetHoldingsSummary(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req rangeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		batchID, err := latestBatchID(ctx, pool)
		if err != nil {
			if errors.Is(err, errNoBatch) {
				api.RespondWithPayload(w, true, "", []SummaryRow{})
				return
			}
			api.RespondWithError(w, http.StatusInternalServerError, err.Error())
			return
		}

		var rowCount int64
		if err := pool.QueryRow(ctx,
			`SELECT count(*) FROM holding_position_rows WHERE upload_batch_id = $1`, batchID).Scan(&rowCount); err != nil {
			api.RespondWithError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if rowCount == 0 {
			// a batch header without position rows would NULL the span scan below
			api.RespondWithPayload(w, true, "", map[string]interface{}{
				"batch_id": batchID,
				"rows":     []SummaryRow{},
			})
			return
		}

		var span DateRange
		if err := pool.QueryRow(ctx,
			`SELECT min(base_date), max(base_date) FROM holding_position_rows WHERE upload_batch_id = $1`,
			batchID).Scan(&span.From, &span.To); err != nil {
			api.RespondWithError(w, http.StatusInternalServerError, err.Error())
			return
		}
		rng := span.Normalized()
		if req.From != "" || req.To != "" {
			var perr error
			rng, perr = parseRange(req, []SnapshotColumnKey{{BaseDate: span.From}, {BaseDate: span.To}})
			if perr != nil {
				api.RespondWithError(w, http.StatusBadRequest, perr.Error())
				return
			}
		}

		var summary []SummaryRow
		if rowCount > config.StreamThresholdRows {
			summary, err = SummarizeFromDB(ctx, pool, batchID, rng)
		} else {
			var rows []PositionRow
			rows, err = loadPositionRows(ctx, pool, batchID)
			if err == nil {
				records, keys := recordsFromRows(rows)
				summary = ReconcileAll(records, GroupByFile(keys), rng)
			}
		}
		if err != nil {
			api.RespondWithError(w, http.StatusInternalServerError, err.Error())
			return
		}
		api.RespondWithPayload(w, true, "", map[string]interface{}{
			"batch_id": batchID,
			"from":     rng.From.Format("2006-01-02"),
			"to":       rng.To.Format("2006-01-02"),
			"rows":     summary,
		})
	}
}

// DownloadHoldingsExport handles GET /holdings/export?from=...&to=...: the
// formula-mirror workbook, recomputable inside the spreadsheet application.
func DownloadHoldingsExport(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		batchID, err := latestBatchID(ctx, pool)
		if err != nil {
			api.RespondWithError(w, http.StatusNotFound, "nothing to export: "+err.Error())
			return
		}
		rows, err := loadPositionRows(ctx, pool, batchID)
		if err != nil {
			api.RespondWithError(w, http.StatusInternalServerError, err.Error())
			return
		}
		records, keys := recordsFromRows(rows)

		req := rangeRequest{From: r.URL.Query().Get("from"), To: r.URL.Query().Get("to")}
		rng, err := parseRange(req, keys)
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}

		f, err := BuildRangeWorkbook(records, keys, rng)
		if err != nil {
			api.RespondWithError(w, http.StatusInternalServerError, "Failed to build workbook: "+err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="holdings_reconciliation.xlsx"`)
		if err := f.Write(w); err != nil {
			api.LogError("export write failed: %v", err)
		}
	}
}
