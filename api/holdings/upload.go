package holdings

import (
	"io"
	"net/http"

	"HoldingsRecon/api"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FileReport is the per-file outcome of one upload batch. One bad file never
// fails the batch; it just shows up here with its error.
type FileReport struct {
	FileName string `json:"file_name"`
	Success  bool   `json:"success"`
	Rows     int    `json:"rows,omitempty"`
	Error    string `json:"error,omitempty"`
}

// UploadResponse summarizes one upload batch for the caller.
type UploadResponse struct {
	Success    bool         `json:"success"`
	BatchID    string       `json:"batch_id,omitempty"`
	Files      []FileReport `json:"files"`
	Identities int          `json:"identities"`
	Snapshots  int          `json:"snapshots"`
	Message    string       `json:"message,omitempty"`
}

// Reference DDL for the staging tables (migration is owned by the deployment
// pipeline, not this service):
//
//	CREATE TABLE holding_upload_batches (
//	    upload_batch_id uuid PRIMARY KEY,
//	    uploaded_at     timestamptz NOT NULL DEFAULT now(),
//	    file_count      int NOT NULL
//	);
//	CREATE TABLE holding_position_rows (
//	    upload_batch_id uuid NOT NULL,
//	    file_index      int NOT NULL,
//	    group_order     int NOT NULL,
//	    source_file     text NOT NULL,
//	    position        int NOT NULL,
//	    base_date       date NOT NULL,
//	    dp_id           text NOT NULL,
//	    client_id       text NOT NULL,
//	    holder_name     text NOT NULL,
//	    category        text,
//	    value           bigint NOT NULL,
//	    bought          bigint NOT NULL,
//	    sold            bigint NOT NULL
//	);

// stagePositionRows replaces the previous staged batch with this one inside a
// single transaction, bulk-loading the long-format rows via COPY. Each row
// carries its file's chronological group order so the streaming reconciler
// can rank rows without re-deriving the period sequence.
func stagePositionRows(r *http.Request, pool *pgxpool.Pool, batchID string, ingests []*IngestResult, orderOf map[int]int) (int, error) {
	ctx := r.Context()
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// Replace-all staging: matrix/summary reads always see one complete batch.
	if _, err := tx.Exec(ctx, `DELETE FROM holding_position_rows`); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM holding_upload_batches`); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO holding_upload_batches (upload_batch_id, file_count) VALUES ($1, $2)`,
		batchID, len(ingests)); err != nil {
		return 0, err
	}

	var copyRows [][]interface{}
	for _, ing := range ingests {
		groupOrder := orderOf[ing.FileIndex]
		for _, row := range ing.Rows {
			id := NewIdentity(row.DPID, row.ClientID, row.Name)
			copyRows = append(copyRows,
				[]interface{}{batchID, ing.FileIndex, groupOrder, ing.SourceFile, 1, ing.FirstDate,
					id.DPID, id.ClientID, id.Name, row.Category, row.FirstValue, int64(0), int64(0)},
				[]interface{}{batchID, ing.FileIndex, groupOrder, ing.SourceFile, 2, ing.SecondDate,
					id.DPID, id.ClientID, id.Name, row.Category, row.SecondValue, row.Bought, row.Sold},
			)
		}
	}
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"holding_position_rows"},
		[]string{"upload_batch_id", "file_index", "group_order", "source_file", "position", "base_date",
			"dp_id", "client_id", "holder_name", "category", "value", "bought", "sold"},
		pgx.CopyFromRows(copyRows),
	)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(n), nil
}

// UploadHoldings handles POST /holdings/upload: N spreadsheet files in one
// multipart request. Unusable files are reported per file while the rest of
// the batch proceeds; a malformed cell never surfaces as an error at all.
func UploadHoldings(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(64 << 20); err != nil {
			api.RespondWithError(w, http.StatusBadRequest, "Failed to parse multipart form: "+err.Error())
			return
		}
		files := r.MultipartForm.File["file"]
		if len(files) == 0 {
			api.RespondWithError(w, http.StatusBadRequest, "No files uploaded")
			return
		}

		resp := UploadResponse{Files: make([]FileReport, 0, len(files))}
		var ingests []*IngestResult
		for _, fh := range files {
			report := FileReport{FileName: fh.Filename}
			src, err := fh.Open()
			if err != nil {
				report.Error = "failed to open: " + err.Error()
				resp.Files = append(resp.Files, report)
				continue
			}
			data, err := io.ReadAll(src)
			src.Close()
			if err != nil {
				report.Error = "failed to read: " + err.Error()
				resp.Files = append(resp.Files, report)
				continue
			}
			records, err := parseHoldingsFile(data, getFileExt(fh.Filename))
			if err != nil {
				report.Error = "unreadable file: " + err.Error()
				resp.Files = append(resp.Files, report)
				continue
			}
			ing, err := IngestSnapshotFile(fh.Filename, records)
			if err != nil {
				report.Error = err.Error()
				resp.Files = append(resp.Files, report)
				continue
			}
			report.Success = true
			report.Rows = len(ing.Rows)
			resp.Files = append(resp.Files, report)
			ingests = append(ingests, ing)
		}

		if len(ingests) == 0 {
			resp.Message = "no usable files in batch"
			api.RespondWithError(w, http.StatusBadRequest, resp.Message)
			return
		}

		records, keys := Consolidate(ingests)
		resp.Identities = len(records)
		resp.Snapshots = len(keys)

		batchID := uuid.New().String()
		staged, err := stagePositionRows(r, pool, batchID, ingests, GroupOrder(keys))
		if err != nil {
			api.RespondWithError(w, http.StatusInternalServerError, "Failed to stage batch: "+err.Error())
			return
		}
		api.LogInfo("holdings upload: batch %s staged %d rows from %d files", batchID, staged, len(ingests))

		resp.Success = true
		resp.BatchID = batchID
		api.RespondWithPayload(w, true, "", resp)
	}
}
