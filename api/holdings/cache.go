package holdings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Reference DDL (migration owned by the deployment pipeline):
//
//	CREATE TABLE holding_summary_cache (
//	    upload_batch_id uuid NOT NULL,
//	    dp_id           text NOT NULL,
//	    client_id       text NOT NULL,
//	    holder_name     text NOT NULL,
//	    category        text,
//	    initial_holding bigint NOT NULL,
//	    bought          bigint NOT NULL,
//	    sold            bigint NOT NULL,
//	    net             bigint NOT NULL,
//	    still_holding   bigint NOT NULL,
//	    refreshed_at    timestamptz NOT NULL DEFAULT now()
//	);

// RefreshSummaryCache recomputes the full-span summary for the staged batch
// through the streaming reconciler and rewrites the cache table dashboards
// read from. Returns the number of cached rows.
func RefreshSummaryCache(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	batchID, err := latestBatchID(ctx, pool)
	if errors.Is(err, errNoBatch) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var rowCount int64
	if err := pool.QueryRow(ctx,
		`SELECT count(*) FROM holding_position_rows WHERE upload_batch_id = $1`,
		batchID).Scan(&rowCount); err != nil {
		return 0, err
	}
	if rowCount == 0 {
		// a batch header without position rows would NULL the span scan below
		return 0, nil
	}

	var span DateRange
	if err := pool.QueryRow(ctx,
		`SELECT min(base_date), max(base_date) FROM holding_position_rows WHERE upload_batch_id = $1`,
		batchID).Scan(&span.From, &span.To); err != nil {
		return 0, err
	}

	summary, err := SummarizeFromDB(ctx, pool, batchID, span.Normalized())
	if err != nil {
		return 0, fmt.Errorf("summarize batch %s: %w", batchID, err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM holding_summary_cache`); err != nil {
		return 0, err
	}
	copyRows := make([][]interface{}, 0, len(summary))
	for _, row := range summary {
		copyRows = append(copyRows, []interface{}{
			batchID, row.DPID, row.ClientID, row.Name, row.Category,
			row.InitialHolding, row.Bought, row.Sold, row.Net, row.StillHolding,
		})
	}
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"holding_summary_cache"},
		[]string{"upload_batch_id", "dp_id", "client_id", "holder_name", "category",
			"initial_holding", "bought", "sold", "net", "still_holding"},
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
