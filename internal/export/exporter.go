// Package export streams every table of a SQLite database into CSV files.
package export

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/klauspost/compress/gzip"
	_ "modernc.org/sqlite"
)

// ErrNoTables is returned when the database catalog lists no user tables.
// An empty database is a misconfiguration, not an empty result set.
var ErrNoTables = errors.New("no tables found in database")

// hashBlockSize is the read block size for whole-file checksums.
const hashBlockSize = 1 << 20

// Result records one table's successful export.
type Result struct {
	Table    string
	Filename string // base name of the output file
	Path     string
	Rows     int64 // data rows written, header excluded
	MD5      string
}

// Options configures an Exporter.
type Options struct {
	Separator rune
	ChunkSize int  // rows per write batch
	Compress  bool // gzip the output files
}

// Exporter writes one delimited file per table.
type Exporter struct {
	opts   Options
	logger *slog.Logger
}

// New creates an exporter.
func New(opts Options, logger *slog.Logger) *Exporter {
	if opts.Separator == 0 {
		opts.Separator = ';'
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 250000
	}
	return &Exporter{opts: opts, logger: logger}
}

// ExportAll opens the database at dbPath, enumerates all user tables in name
// order, and exports each into outDir. A failing table is logged and
// skipped; the remaining tables still export. The returned results contain
// only the tables that succeeded.
func (e *Exporter) ExportAll(ctx context.Context, dbPath, outDir string) ([]Result, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	tables, err := listTables(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, ErrNoTables
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	e.logger.Info("exporting tables", "count", len(tables))

	var results []Result
	for _, table := range tables {
		res, err := e.exportTable(ctx, db, table, outDir)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			e.logger.Error("table export failed, skipping", "table", table, "error", err)
			continue
		}
		e.logger.Info("table exported", "table", table, "file", res.Filename, "rows", res.Rows)
		results = append(results, *res)
	}
	return results, nil
}

// listTables queries the catalog for user tables, ordered by name so the
// export order is deterministic.
func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	const query = `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalog: %w", err)
	}
	return tables, nil
}

// exportTable streams one table into its output file. A partial file left by
// a failed export is removed.
func (e *Exporter) exportTable(ctx context.Context, db *sql.DB, table, outDir string) (res *Result, err error) {
	filename := SafeName(table) + ".csv"
	if e.opts.Compress {
		filename += ".gz"
	}
	outPath := filepath.Join(outDir, filename)

	defer func() {
		if err != nil {
			_ = os.Remove(outPath)
		}
	}()

	query := fmt.Sprintf(`SELECT * FROM "%s"`, strings.ReplaceAll(table, `"`, `""`))
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query table: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	file, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if file != nil {
			_ = file.Close()
		}
	}()

	var out io.Writer = file
	var gz *gzip.Writer
	if e.opts.Compress {
		gz = gzip.NewWriter(file)
		out = gz
	}

	w := csv.NewWriter(out)
	w.Comma = e.opts.Separator

	if err := w.Write(cols); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	record := make([]string, len(cols))
	var total int64

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row %d: %w", total+1, err)
		}
		for i, v := range values {
			record[i] = renderValue(v)
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", total+1, err)
		}
		total++

		// Bounded buffering: push each chunk to the file before reading on.
		if total%int64(e.opts.ChunkSize) == 0 {
			w.Flush()
			if err := w.Error(); err != nil {
				return nil, fmt.Errorf("failed to flush chunk: %w", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading table: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush output: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("failed to close gzip stream: %w", err)
		}
	}
	if err := file.Close(); err != nil {
		file = nil
		return nil, fmt.Errorf("failed to close output file: %w", err)
	}
	file = nil

	// Checksum covers the fully written, closed file.
	sum, err := hashFileMD5(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash output file: %w", err)
	}

	return &Result{
		Table:    table,
		Filename: filename,
		Path:     outPath,
		Rows:     total,
		MD5:      sum,
	}, nil
}

// renderValue converts a scanned SQLite value to its CSV cell text.
// NULL becomes the empty field.
func renderValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		// Columns declared DATE/DATETIME/TIMESTAMP scan as time.Time;
		// write the SQL text form, not Go's default format.
		return x.Format("2006-01-02 15:04:05")
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// SafeName derives an output file name from a table name: every character
// that is not a letter, digit, '-', '.' or '_' becomes '_'.
func SafeName(table string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' || r == '_' {
			return r
		}
		return '_'
	}, table)
}

// hashFileMD5 streams a file through MD5 in fixed-size blocks.
func hashFileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, hashBlockSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
