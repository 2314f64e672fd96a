package holdings

import (
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StartHoldingsService runs the holdings endpoints on their own port behind
// the gateway.
func StartHoldingsService(pool *pgxpool.Pool) {
	mux := http.NewServeMux()

	mux.HandleFunc("/holdings/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Holdings Service is active"))
	})

	mux.Handle("/holdings/upload", UploadHoldings(pool))
	mux.Handle("/holdings/matrix", GetHoldingsMatrix(pool))
	mux.Handle("/holdings/summary", GetHoldingsSummary(pool))
	mux.Handle("/holdings/export", DownloadHoldingsExport(pool))

	log.Println("Holdings Service started on :7201")
	err := http.ListenAndServe(":7201", mux)
	if err != nil {
		log.Fatalf("Holdings service failed: %v", err)
	}
}
