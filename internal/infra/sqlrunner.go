package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query surface the Postgres repositories depend on.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// ErrSQLMarker is returned for statements without a valid "--sql <uuid>"
// first line.
var ErrSQLMarker = errors.New("sql marker missing or invalid")

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

const defaultSlowQuery = 500 * time.Millisecond

// SQLRunner executes marked inline SQL against a pool. Every statement is
// logged under its marker; statements slower than SlowQuery are warned.
type SQLRunner struct {
	Pool      *pgxpool.Pool
	Logger    zerolog.Logger
	SlowQuery time.Duration
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger, SlowQuery: defaultSlowQuery}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.Pool.Exec(ctx, stmt, args...)
	r.finish(marker, "exec", start, err).Int64("rows", tag.RowsAffected()).Msg("sql: exec")
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return &timedRow{runner: r, marker: marker, start: time.Now(), row: r.Pool.QueryRow(ctx, stmt, args...)}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := r.Pool.Query(ctx, stmt, args...)
	if err != nil {
		r.finish(marker, "query", start, err).Msg("sql: query")
		return nil, err
	}
	return &timedRows{Rows: rows, runner: r, marker: marker, start: start}, nil
}

// finish picks the log level for a completed statement. pgx.ErrNoRows is an
// expected outcome and never logged as an error.
func (r *SQLRunner) finish(marker, op string, start time.Time, err error) *zerolog.Event {
	elapsed := time.Since(start)
	var ev *zerolog.Event
	switch {
	case err != nil && !IsNoRows(err):
		ev = r.Logger.Error().Err(err)
	case r.SlowQuery > 0 && elapsed >= r.SlowQuery:
		ev = r.Logger.Warn().Bool("slow", true)
	default:
		ev = r.Logger.Debug()
	}
	return ev.Str("marker", marker).Str("op", op).Dur("elapsed", elapsed)
}

type timedRow struct {
	runner *SQLRunner
	marker string
	start  time.Time
	row    pgx.Row
}

func (t *timedRow) Scan(dest ...any) error {
	err := t.row.Scan(dest...)
	t.runner.finish(t.marker, "query_row", t.start, err).Msg("sql: query row")
	return err
}

type timedRows struct {
	pgx.Rows
	runner *SQLRunner
	marker string
	start  time.Time
	closed bool
}

func (t *timedRows) Close() {
	t.Rows.Close()
	if t.closed {
		return
	}
	t.closed = true
	t.runner.finish(t.marker, "query", t.start, t.Rows.Err()).Msg("sql: query")
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(...any) error {
	return e.err
}

func extractMarker(query string) (string, string, error) {
	first, rest, _ := strings.Cut(strings.TrimSpace(query), "\n")
	first = strings.TrimSpace(first)
	if !markerRegexp.MatchString(first) {
		return "", "", ErrSQLMarker
	}
	return strings.TrimPrefix(first, "--sql "), rest, nil
}

// IsNoRows reports whether err signals an empty result set.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

var _ SQLExecutor = (*SQLRunner)(nil)
