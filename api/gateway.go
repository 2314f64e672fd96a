package api

import (
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gorilla/mux"
)

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}

// createReverseProxy returns a reverse proxy handler for the given target URL.
func createReverseProxy(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[INFO] gateway %s %s from %s", r.Method, r.URL.Path, extractClientIP(r))
		u, err := url.Parse(target)
		if err != nil {
			RespondWithError(w, http.StatusInternalServerError, "bad proxy target: "+err.Error())
			return
		}
		proxy := httputil.NewSingleHostReverseProxy(u)
		proxy.ServeHTTP(w, r)
	}
}

// NewRouter wires every public route through the gateway. Authentication and
// session handling are owned by an upstream collaborator; the gateway only
// routes and logs.
func NewRouter() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	router.PathPrefix("/holdings/").Handler(createReverseProxy("http://localhost:7201"))

	return router
}

// StartGateway serves the public port.
func StartGateway() {
	log.Println("Gateway started on :7200")
	if err := http.ListenAndServe(":7200", NewRouter()); err != nil {
		log.Fatalf("Gateway failed: %v", err)
	}
}
