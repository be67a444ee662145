// Package source reads the rows of a query as a lazy sequence of records.
//
// PostgreSQL sources use a server-side cursor inside a read-only
// transaction so memory stays bounded by the fetch size. Other drivers run
// the query once and rely on the driver to stream rows off the wire.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/dbsmedya/esload/internal/config"
	"github.com/dbsmedya/esload/internal/logger"
	"github.com/dbsmedya/esload/internal/record"
	"github.com/dbsmedya/esload/internal/sqlutil"
)

// ErrEmptyQuery is returned when Records is given a blank query.
var ErrEmptyQuery = errors.New("query is empty")

// DefaultFetchSize is used when a non-positive fetch size is requested.
const DefaultFetchSize = 1000

// DefaultCursorName names the server-side cursor.
const DefaultCursorName = "esload_cursor"

// Strategy is how rows are pulled from the database.
type Strategy string

const (
	// StrategyCursor declares a server-side cursor and fetches in chunks.
	StrategyCursor Strategy = "cursor"
	// StrategyStream runs the query once and reads rows incrementally.
	StrategyStream Strategy = "stream"
)

// StrategyFor returns the strategy used for a database/sql driver name.
func StrategyFor(driver string) Strategy {
	switch driver {
	case config.DriverPostgres, config.DriverPgx:
		return StrategyCursor
	default:
		return StrategyStream
	}
}

// Source produces records from a relational database.
type Source struct {
	db         *sql.DB
	strategy   Strategy
	cursorName string
	log        *logger.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithCursorName sets the server-side cursor name.
func WithCursorName(name string) Option {
	return func(src *Source) { src.cursorName = name }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(src *Source) { src.log = l }
}

// New creates a Source reading from db, choosing the strategy from driver.
func New(db *sql.DB, driver string, opts ...Option) *Source {
	s := &Source{
		db:         db,
		strategy:   StrategyFor(driver),
		cursorName: DefaultCursorName,
		log:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Strategy returns the strategy in use.
func (s *Source) Strategy() Strategy {
	return s.strategy
}

// Records returns the rows of query, one record per row in result order.
//
// The sequence is single use. The first error ends it: the error is yielded
// once with a nil record. Database resources are released when the sequence
// finishes, fails, or the consumer stops early.
func (s *Source) Records(ctx context.Context, query string, fetchSize int) iter.Seq2[*record.Record, error] {
	query = trimQuery(query)
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}

	return func(yield func(*record.Record, error) bool) {
		if query == "" {
			yield(nil, ErrEmptyQuery)
			return
		}
		if s.db == nil {
			yield(nil, errors.New("source database is nil"))
			return
		}

		var err error
		switch s.strategy {
		case StrategyCursor:
			err = s.cursor(ctx, query, fetchSize, yield)
		default:
			err = s.stream(ctx, query, yield)
		}
		if err != nil && !errors.Is(err, errStopped) {
			yield(nil, err)
		}
	}
}

// Columns returns the column names query would produce without reading any
// rows. The query is wrapped so the database plans it but matches nothing.
func (s *Source) Columns(ctx context.Context, query string) ([]string, error) {
	query = trimQuery(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM ("+query+") esload_columns WHERE 1 = 0")
	if err != nil {
		return nil, fmt.Errorf("failed to describe query: %w", err)
	}
	defer rows.Close()
	return rows.Columns()
}

func trimQuery(q string) string {
	return strings.TrimRight(strings.TrimSpace(q), "; \t\n")
}

// errStopped signals that the consumer ended iteration.
var errStopped = errors.New("iteration stopped")

func (s *Source) cursor(ctx context.Context, query string, fetchSize int, yield func(*record.Record, error) bool) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	done := false
	defer func() {
		if !done {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.log.Warnf("Failed to roll back cursor transaction: %v", rbErr)
			}
		}
	}()

	name := sqlutil.QuoteIdentifierANSI(s.cursorName)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", name, query)); err != nil {
		return fmt.Errorf("failed to declare cursor: %w", err)
	}
	s.log.Debugw("Cursor declared", "cursor", s.cursorName, "fetch_size", fetchSize)

	fetch := fmt.Sprintf("FETCH FORWARD %d FROM %s", fetchSize, name)
	total := 0
	for {
		rows, err := tx.QueryContext(ctx, fetch)
		if err != nil {
			return fmt.Errorf("failed to fetch from cursor: %w", err)
		}
		n, err := scanRows(rows, yield)
		total += n
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}

	if _, err := tx.ExecContext(ctx, "CLOSE "+name); err != nil {
		return fmt.Errorf("failed to close cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cursor transaction: %w", err)
	}
	done = true
	s.log.Debugw("Cursor drained", "cursor", s.cursorName, "rows", total)
	return nil
}

func (s *Source) stream(ctx context.Context, query string, yield func(*record.Record, error) bool) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}
	n, err := scanRows(rows, yield)
	if err == nil {
		s.log.Debugw("Query drained", "rows", n)
	}
	return err
}

// scanRows yields every row of rows and closes it. It returns the number of
// rows read and errStopped if the consumer stopped early.
func scanRows(rows *sql.Rows, yield func(*record.Record, error) bool) (int, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("failed to read columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return 0, fmt.Errorf("failed to read column types: %w", err)
	}
	kinds := make([]columnKind, len(types))
	for i, ct := range types {
		kinds[i] = kindOf(ct.DatabaseTypeName())
	}

	n := 0
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return n, fmt.Errorf("failed to scan row: %w", err)
		}
		for i := range kinds {
			values[i] = kinds[i].convert(values[i])
		}
		n++
		if !yield(record.FromColumns(columns, values), nil) {
			return n, errStopped
		}
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("error iterating rows: %w", err)
	}
	return n, nil
}

// columnKind says how raw bytes of a column are interpreted.
type columnKind int

const (
	kindDefault columnKind = iota
	kindBinary
	kindMSSQLUUID
)

func kindOf(databaseType string) columnKind {
	switch strings.ToUpper(databaseType) {
	case "UNIQUEIDENTIFIER":
		return kindMSSQLUUID
	case "BINARY", "VARBINARY", "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BYTEA", "IMAGE":
		return kindBinary
	default:
		return kindDefault
	}
}

// convert maps driver bytes for binary and SQL Server uniqueidentifier
// columns. Other values are left for record.NormalizeValue.
func (k columnKind) convert(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	switch k {
	case kindBinary:
		return record.Binary(b)
	case kindMSSQLUUID:
		// SQL Server sends the first three groups little endian.
		var u mssql.UniqueIdentifier
		if err := u.Scan(b); err != nil {
			return record.Binary(b)
		}
		return strings.ToLower(u.String())
	default:
		return v
	}
}
