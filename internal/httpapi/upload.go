package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"powerdash/internal/catalog"
	"powerdash/internal/ingest"
	"powerdash/internal/sheet"
)

// upload is a file read from a request.
type upload struct {
	name string
	data []byte
}

// HandleUpload creates a data source from the request body and ingests it.
//
// The body is either multipart form data with a "file" part or the raw file.
// Query parameters: name, format (csv, tsv, json, xlsx, html), sheet.
//
// The record is created before decoding so a bad sheet can be retried
// with PUT /api/datasources/{id}/ingest.
func (c *Controller) HandleUpload(w http.ResponseWriter, r *http.Request) {
	up, err := c.readUpload(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = up.name
	}
	now := time.Now().UTC()
	ds := catalog.DataSource{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    catalog.StatusDisconnected,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ds.Name == "" {
		ds.Name = ds.ID
	}
	if err := c.Catalog.Put(r.Context(), ds); err != nil {
		c.writeError(w, err)
		return
	}

	res, err := c.ingest(r.Context(), ds.ID, ds.Name, up, r)
	if err != nil {
		c.writeErrorFor(w, ds.ID, err)
		return
	}
	c.writeIngested(w, r, http.StatusCreated, ds.ID, res)
}

// HandleReingest replaces the table of an existing data source, typically
// with another sheet of the same workbook.
func (c *Controller) HandleReingest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ds, err := c.Catalog.Get(r.Context(), id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	up, err := c.readUpload(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = ds.Name
	}
	res, err := c.ingest(r.Context(), id, name, up, r)
	if err != nil {
		c.writeErrorFor(w, id, err)
		return
	}
	c.writeIngested(w, r, http.StatusOK, id, res)
}

func (c *Controller) ingest(ctx context.Context, id, name string, up upload, r *http.Request) (ingest.Result, error) {
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = sheet.DetectFormat(up.name, up.data[:min(len(up.data), 512)])
	}
	if format == "" {
		return ingest.Result{}, fmt.Errorf("%w: cannot detect format of %q", sheet.ErrUnsupportedFormat, up.name)
	}

	s, err := sheet.Decode(ctx, format, bytes.NewReader(up.data), sheet.Options{
		Sheet:   q.Get("sheet"),
		MaxRows: c.MaxSheetRows,
	})
	if err != nil {
		return ingest.Result{}, err
	}

	return c.Pipeline.Ingest(ctx, ingest.Request{
		DataSourceID: id,
		Name:         name,
		Sheet:        s.Name,
		Format:       format,
		Headers:      s.Headers,
		Rows:         s.Rows,
	})
}

func (c *Controller) readUpload(w http.ResponseWriter, r *http.Request) (upload, error) {
	limit := c.MaxUploadBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return upload{}, fmt.Errorf("read file part: %w", err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return upload{}, fmt.Errorf("read file part: %w", err)
		}
		return upload{name: hdr.Filename, data: data}, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return upload{}, fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return upload{}, errors.New("empty upload")
	}
	return upload{name: r.URL.Query().Get("filename"), data: data}, nil
}

type ingested struct {
	detail
	Table      string `json:"table"`
	Statements int    `json:"statements"`
}

func (c *Controller) writeIngested(w http.ResponseWriter, r *http.Request, status int, id string, res ingest.Result) {
	ds, err := c.Catalog.Get(r.Context(), id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, status, ingested{
		detail:     detail{DataSource: ds, Columns: res.Columns},
		Table:      res.Table,
		Statements: res.Statements,
	})
}

// writeErrorFor reports an ingestion failure and includes the id so the
// client can retry against the record that was kept.
func (c *Controller) writeErrorFor(w http.ResponseWriter, id string, err error) {
	w.Header().Set("X-Datasource-Id", id)
	c.writeError(w, err)
}

func rowRange(le *ingest.LoadError) string {
	return strconv.Itoa(le.FirstRow) + "-" + strconv.Itoa(le.LastRow)
}
