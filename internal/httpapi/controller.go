// Package httpapi exposes ingestion, aggregation and chart suggestions over
// HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"powerdash/internal/catalog"
	"powerdash/internal/ingest"
	"powerdash/internal/logging"
	"powerdash/internal/query"
	"powerdash/internal/schema"
	"powerdash/internal/sheet"
	"powerdash/internal/suggest"
)

// DefaultMaxUploadBytes bounds a single upload.
const DefaultMaxUploadBytes = 64 << 20

type Controller struct {
	Pipeline *ingest.Pipeline
	Query    *query.Service
	Suggest  *suggest.Service
	Catalog  catalog.Store
	Logger   *zap.Logger

	MaxUploadBytes int64
	// MaxSheetRows caps decoded rows per upload; 0 means no cap.
	MaxSheetRows int
}

// NewRouter registers every route.
func (c *Controller) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(c.withAccessLog)

	r.HandleFunc("/healthz", c.HandleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/datasources", c.HandleList).Methods(http.MethodGet)
	api.HandleFunc("/datasources", c.HandleUpload).Methods(http.MethodPost)
	api.HandleFunc("/datasources/{id}", c.HandleDetail).Methods(http.MethodGet)
	api.HandleFunc("/datasources/{id}", c.HandleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/datasources/{id}/ingest", c.HandleReingest).Methods(http.MethodPut)
	api.HandleFunc("/datasources/{id}/query", c.HandleQuery).Methods(http.MethodPost)
	api.HandleFunc("/datasources/{id}/suggestions", c.HandleSuggestions).Methods(http.MethodGet)
	return r
}

func (c *Controller) log() *zap.Logger { return logging.OrNop(c.Logger) }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (c *Controller) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		c.log().Debug("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

func (c *Controller) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// detail is the record plus its schema.
type detail struct {
	catalog.DataSource
	Columns []schema.ColumnDescriptor `json:"columns"`
}

func (c *Controller) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := c.Catalog.List(r.Context())
	if err != nil {
		c.writeError(w, err)
		return
	}
	if list == nil {
		list = make([]catalog.DataSource, 0)
	}
	writeJSON(w, http.StatusOK, list)
}

func (c *Controller) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ds, err := c.Catalog.Get(r.Context(), id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	cols, err := c.Catalog.Columns(r.Context(), id)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		c.writeError(w, err)
		return
	}
	if cols == nil {
		cols = make([]schema.ColumnDescriptor, 0)
	}
	writeJSON(w, http.StatusOK, detail{DataSource: ds, Columns: cols})
}

func (c *Controller) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := c.Pipeline.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		c.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad json"})
		return
	}
	req.DataSourceID = mux.Vars(r)["id"]

	rows, err := c.Query.Aggregate(r.Context(), req)
	if err != nil {
		c.writeError(w, err)
		return
	}
	if rows == nil {
		rows = make([]query.Row, 0)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (c *Controller) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	out, err := c.Suggest.Suggest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": out})
}

type errorBody struct {
	Error  string `json:"error"`
	Column string `json:"column,omitempty"`
	Rows   string `json:"rows,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schema.ErrEmptySheet):
		return http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, sheet.ErrSheetNotFound):
		return http.StatusNotFound
	case errors.Is(err, query.ErrNotReady), errors.Is(err, ingest.ErrTableInUse):
		return http.StatusConflict
	case errors.Is(err, query.ErrUnknownColumn),
		errors.Is(err, query.ErrUnknownAggregation),
		errors.Is(err, ingest.ErrTooManyColumns),
		errors.Is(err, sheet.ErrUnsupportedFormat):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (c *Controller) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var uce *query.UnknownColumnError
	if errors.As(err, &uce) {
		body.Column = uce.Column
	}
	var le *ingest.LoadError
	if errors.As(err, &le) {
		body.Rows = rowRange(le)
	}
	if status >= http.StatusInternalServerError {
		c.log().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
