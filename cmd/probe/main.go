// Command probe decodes a spreadsheet-like file offline and prints what the
// server would make of it: the inferred column schema and the chart
// suggestions, as JSON.
//
// Sources may be a local path, a file:// URL or an http(s):// URL. The format
// is detected from the name and the first bytes unless -format is given.
//
// Output modes
//
//   - Default mode: prints {name, format, sheet, rows, columns, suggestions}.
//   - Report mode (-report): prints a plain-text column summary instead.
//   - Load mode (-load): also ingests the sheet into a real store and adds the
//     table name and statement count to the JSON output.
//
// # DSN resolution for -load
//
//  1. -dsn flag
//  2. DSN env var
//  3. DSN_HOST / DSN_PORT / DSN_USER / DSN_PASSWORD / DSN_DB plus
//     DSN_SSLMODE (postgres), DSN_ENCRYPT (mssql), DSN_SQLITE (sqlite) and
//     optional DSN_PARAMS
//  4. the backend default
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"powerdash/internal/catalog"
	"powerdash/internal/ingest"
	"powerdash/internal/keylock"
	"powerdash/internal/logging"
	"powerdash/internal/schema"
	"powerdash/internal/sheet"
	"powerdash/internal/storage"
	_ "powerdash/internal/storage/all"
	"powerdash/internal/suggest"
)

// output is the JSON document printed in default and load mode.
type output struct {
	Name        string                    `json:"name"`
	Format      string                    `json:"format"`
	Sheet       string                    `json:"sheet"`
	Rows        int                       `json:"rows"`
	Columns     []schema.ColumnDescriptor `json:"columns"`
	Suggestions []suggest.Suggestion      `json:"suggestions"`

	Table      string `json:"table,omitempty"`
	Statements int    `json:"statements,omitempty"`
}

func main() {
	var (
		flagURL           = flag.String("url", "", "URL or path of the source file")
		flagFormat        = flag.String("format", "", "csv|tsv|json|xlsx|html (detected when empty)")
		flagSheet         = flag.String("sheet", "", "worksheet name (xlsx) or table index/id (html)")
		flagBytes         = flag.Int64("bytes", 64<<20, "maximum number of bytes read from the source")
		flagSampleRows    = flag.Int("sample-rows", schema.DefaultSampleRows, "rows sampled for type inference")
		flagPretty        = flag.Bool("pretty", true, "Pretty-print JSON output")
		flagAllowInsecure = flag.Bool("allow-insecure", false, "Skip TLS verification for https sources")
		flagReport        = flag.Bool("report", false, "Print a column report (suppresses JSON output)")
		flagLoad          = flag.Bool("load", false, "Ingest into -backend as data source -name")
		flagBackend       = flag.String("backend", "sqlite", "Storage backend for -load: postgres|mssql|sqlite")
		flagDSN           = flag.String("dsn", "", "Storage DSN for -load (highest priority)")
		flagName          = flag.String("name", "", "Data source id for -load; defaults to the file name")
	)
	flag.Parse()

	if strings.TrimSpace(*flagURL) == "" {
		fmt.Fprintln(os.Stderr, "missing -url")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	data, err := fetch(ctx, *flagURL, *flagBytes, *flagAllowInsecure)
	if err != nil {
		log.Fatalf("fetch: %v", err)
	}

	name := sourceName(*flagURL)
	format := strings.ToLower(strings.TrimSpace(*flagFormat))
	if format == "" {
		format = sheet.DetectFormat(name, data[:min(len(data), 512)])
	}
	if format == "" {
		log.Fatalf("cannot detect format of %s; pass -format", *flagURL)
	}

	s, err := sheet.Decode(ctx, format, bytes.NewReader(data), sheet.Options{Sheet: *flagSheet})
	if err != nil {
		log.Fatalf("decode: %v", err)
	}
	cols, err := schema.Build(s.Headers, s.Rows, schema.BuildOptions{SampleRows: *flagSampleRows})
	if err != nil {
		log.Fatalf("schema: %v", err)
	}

	if *flagReport {
		fmt.Fprint(os.Stdout, formatReport(s, cols))
		return
	}

	out := output{
		Name:        name,
		Format:      format,
		Sheet:       s.Name,
		Rows:        len(s.Rows),
		Columns:     cols,
		Suggestions: suggest.Suggest(cols, suggest.Options{}),
	}

	if *flagLoad {
		id := *flagName
		if id == "" {
			id = strings.TrimSuffix(name, path.Ext(name))
		}
		backend := normalizeBackend(*flagBackend)
		dsn, err := resolveDSN(backend, strings.TrimSpace(*flagDSN))
		if err != nil {
			log.Fatalf("dsn: %v", err)
		}
		res, err := load(ctx, backend, dsn, id, s, format, *flagSampleRows)
		if err != nil {
			log.Fatalf("load: %v", err)
		}
		out.Columns = res.Columns
		out.Table = res.Table
		out.Statements = res.Statements
	}

	enc := json.NewEncoder(os.Stdout)
	if *flagPretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode output: %v", err)
	}
}

// fetch reads at most n bytes from a local path, file:// URL or http(s) URL.
func fetch(ctx context.Context, src string, n int64, insecure bool) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("fetch: byte limit must be > 0")
	}

	var rc io.ReadCloser
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, err
		}
		client := &http.Client{Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure}, //nolint:gosec // opt-in flag
		}}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode/100 != 2 {
			resp.Body.Close()
			return nil, fmt.Errorf("GET %s: %s", src, resp.Status)
		}
		rc = resp.Body
	default:
		f, err := os.Open(strings.TrimPrefix(src, "file://"))
		if err != nil {
			return nil, err
		}
		rc = f
	}
	defer rc.Close()

	return io.ReadAll(io.LimitReader(rc, n))
}

// sourceName is the last path element of src, without query strings.
func sourceName(src string) string {
	if u, err := url.Parse(src); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return path.Base(u.Path)
	}
	return path.Base(strings.ReplaceAll(src, `\`, "/"))
}

func load(ctx context.Context, backend, dsn, id string, s *sheet.Sheet, format string, sampleRows int) (ingest.Result, error) {
	logger, err := logging.NewStderr("", "console")
	if err != nil {
		return ingest.Result{}, err
	}
	defer func() { _ = logger.Sync() }()

	st, err := storage.Open(ctx, storage.Config{Kind: backend, DSN: dsn})
	if err != nil {
		return ingest.Result{}, err
	}
	defer st.Close()

	p := &ingest.Pipeline{
		Store:   st,
		Catalog: catalog.NewMemory(),
		Locker:  keylock.NewLocal(),
		Logger:  logger.Named("probe"),

		SampleRows: sampleRows,
	}
	res, err := p.Ingest(ctx, ingest.Request{
		DataSourceID: id,
		Sheet:        s.Name,
		Format:       format,
		Headers:      s.Headers,
		Rows:         s.Rows,
	})
	if err != nil {
		return ingest.Result{}, err
	}
	logger.Info("loaded", zap.String("table", res.Table), zap.Int64("rows", res.Rows))
	return res, nil
}

// formatReport renders one line per column.
func formatReport(s *sheet.Sheet, cols []schema.ColumnDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema report: sheet=%s rows=%d columns=%d\n", s.Name, len(s.Rows), len(cols))
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HEADER\tNAME\tTYPE\tFILTER\tSAMPLES")
	for _, c := range cols {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", c.Header, c.Name, c.Type, c.Filterable, strings.Join(c.Samples, ", "))
	}
	_ = tw.Flush()
	return b.String()
}
