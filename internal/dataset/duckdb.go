package dataset

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/utss-engine/internal/logger"
	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/rxtech-lab/utss-engine/pkg/errors"
	"go.uber.org/zap"
)

// requiredColumns must be present in every bar file. vwap is optional.
var requiredColumns = []string{"time", "open", "high", "low", "close", "volume"}

// Loader reads bar files (CSV or Parquet) through an in-memory DuckDB
// instance, which handles type inference and timestamp parsing.
type Loader struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewLoader opens an in-memory DuckDB connection.
func NewLoader(logger *logger.Logger) (*Loader, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to open duckdb", err)
	}

	return &Loader{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// Close releases the database handle.
func (l *Loader) Close() error {
	return l.db.Close()
}

// readerFor picks the DuckDB table function by file extension.
func readerFor(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".parquet") {
		return fmt.Sprintf("read_parquet('%s')", path)
	}

	return fmt.Sprintf("read_csv_auto('%s')", path)
}

// LoadBars reads an ordered bar series from a file. Missing required
// columns and non-monotonic timestamps are fatal.
func (l *Loader) LoadBars(path string) ([]types.Bar, error) {
	l.logger.Debug("loading bars", zap.String("path", path))

	columns, err := l.columnsOf(path)
	if err != nil {
		return nil, err
	}

	for _, required := range requiredColumns {
		if !columns[required] {
			return nil, errors.Newf(errors.ErrCodeMissingColumn, "%s: missing column %q", path, required)
		}
	}

	selected := append([]string{}, requiredColumns...)

	hasVWAP := columns["vwap"]
	if hasVWAP {
		selected = append(selected, "vwap")
	}

	query, args, err := l.sq.
		Select(selected...).
		From(readerFor(path)).
		OrderBy("time ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to read %s", path)
	}
	defer rows.Close()

	var bars []types.Bar

	for rows.Next() {
		var (
			timestamp                      time.Time
			open, high, low, close, volume float64
			vwap                           sql.NullFloat64
		)

		dest := []any{&timestamp, &open, &high, &low, &close, &volume}
		if hasVWAP {
			dest = append(dest, &vwap)
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to scan row from %s", path)
		}

		bar := types.Bar{
			Time:   timestamp,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  close,
			Volume: volume,
			VWAP:   optional.None[float64](),
		}
		if vwap.Valid {
			bar.VWAP = optional.Some(vwap.Float64)
		}

		bars = append(bars, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to iterate rows from %s", path)
	}

	if len(bars) == 0 {
		return nil, errors.Newf(errors.ErrCodeEmptyDataset, "%s contains no rows", path)
	}

	return bars, nil
}

// LoadSeries reads a single named numeric column ordered by time, for
// fundamental and external side channels.
func (l *Loader) LoadSeries(path, column string) ([]float64, error) {
	columns, err := l.columnsOf(path)
	if err != nil {
		return nil, err
	}

	if !columns[column] {
		return nil, errors.Newf(errors.ErrCodeMissingColumn, "%s: missing column %q", path, column)
	}

	query, args, err := l.sq.
		Select(column).
		From(readerFor(path)).
		OrderBy("time ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to read %s", path)
	}
	defer rows.Close()

	var series []float64

	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to scan %s", path)
		}

		series = append(series, value)
	}

	return series, rows.Err()
}

// columnsOf inspects a file's schema without reading its rows.
func (l *Loader) columnsOf(path string) (map[string]bool, error) {
	query := fmt.Sprintf("DESCRIBE SELECT * FROM %s", readerFor(path))

	rows, err := l.db.Query(query)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDataNotFound, err, "failed to describe %s", path)
	}
	defer rows.Close()

	columns := make(map[string]bool)

	for rows.Next() {
		var name, colType string

		var nullable, key, defaultVal, extra sql.NullString

		if err := rows.Scan(&name, &colType, &nullable, &key, &defaultVal, &extra); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan schema row", err)
		}

		columns[strings.ToLower(name)] = true
	}

	return columns, rows.Err()
}
