// Package httpapi serves the public HTTP surface: versioned sync feeds,
// the JSON-RPC endpoint, and Prometheus metrics.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/untoldecay/btcmap/internal/conf"
	"github.com/untoldecay/btcmap/internal/rpc"
	"github.com/untoldecay/btcmap/internal/store"
)

// API bundles everything the HTTP handlers need. Build one with New and
// mount Handler on a server.
type API struct {
	store      *store.Store
	reqLog     *store.RequestLog
	log        *slog.Logger
	dispatcher *rpc.Dispatcher
	limiter    *ipLimiter
	metrics    *metrics
}

// New assembles the API. reqLog may be nil, in which case request
// auditing is disabled.
func New(s *store.Store, reqLog *store.RequestLog, log *slog.Logger, dispatcher *rpc.Dispatcher) *API {
	return &API{
		store:      s,
		reqLog:     reqLog,
		log:        log,
		dispatcher: dispatcher,
		limiter:    newIPLimiter(conf.GetInt("rate.rps"), conf.GetInt("rate.burst")),
		metrics:    newMetrics(),
	}
}

// Handler returns the fully wired router. Middleware runs outermost
// first: client IP resolution, ban check, per-IP rate limit, CORS,
// then request auditing.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()

	v3 := r.PathPrefix("/v3").Subrouter()
	v3.HandleFunc("/elements", a.v3Elements).Methods("GET")
	v3.HandleFunc("/elements/{id}", a.v3ElementByID).Methods("GET")
	v3.HandleFunc("/areas", a.v3Areas).Methods("GET")
	v3.HandleFunc("/areas/{id}", a.v3AreaByID).Methods("GET")
	v3.HandleFunc("/area-elements", a.v3AreaElements).Methods("GET")
	v3.HandleFunc("/area-elements/{id}", a.v3AreaElementByID).Methods("GET")
	v3.HandleFunc("/element-comments", a.v3ElementComments).Methods("GET")
	v3.HandleFunc("/element-comments/{id}", a.v3ElementCommentByID).Methods("GET")
	v3.HandleFunc("/element-issues", a.v3ElementIssues).Methods("GET")
	v3.HandleFunc("/element-issues/{id}", a.v3ElementIssueByID).Methods("GET")
	v3.HandleFunc("/events", a.v3Events).Methods("GET")
	v3.HandleFunc("/events/{id}", a.v3EventByID).Methods("GET")
	v3.HandleFunc("/reports", a.v3Reports).Methods("GET")
	v3.HandleFunc("/reports/{id}", a.v3ReportByID).Methods("GET")
	v3.HandleFunc("/users", a.v3Users).Methods("GET")
	v3.HandleFunc("/users/{id}", a.v3UserByID).Methods("GET")

	v2 := r.PathPrefix("/v2").Subrouter()
	v2.HandleFunc("/elements", a.v2Elements).Methods("GET")
	v2.HandleFunc("/elements/{id}", a.v2ElementByID).Methods("GET")
	v2.HandleFunc("/areas", a.v2Areas).Methods("GET")
	v2.HandleFunc("/areas/{id}", a.v2AreaByID).Methods("GET")
	v2.HandleFunc("/events", a.v2Events).Methods("GET")
	v2.HandleFunc("/reports", a.v2Reports).Methods("GET")
	v2.HandleFunc("/users", a.v2Users).Methods("GET")

	r.HandleFunc("/rpc", a.serveRPC).Methods("POST")
	r.Handle("/metrics", promhttp.HandlerFor(a.metrics.registry, promhttp.HandlerOpts{})).Methods("GET")

	var h http.Handler = r
	h = a.audit(h)
	h = cors.AllowAll().Handler(h)
	h = a.rateLimit(h)
	h = a.banCheck(h)
	h = realIP(h)
	return h
}

func (a *API) serveRPC(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusOK, &rpc.Response{
			JSONRPC: rpc.Version,
			Error:   rpc.Errorf(rpc.CodeInvalidRequest, "failed to read request body"),
		})
		return
	}
	resp := a.dispatcher.Dispatch(r.Context(), clientIP(r), bearerToken(r), body)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

type apiError struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}
