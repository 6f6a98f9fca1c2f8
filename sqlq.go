package sqlq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/afero"
)

// DB is the main entry point. It holds the resolved configuration, the
// template loader and the middleware pipeline, and delegates execution to the
// underlying driver handle. A single DB instance is safe for concurrent use
// to the extent its DBTX is.
type DB struct {
	db     DBTX
	config Config
	files  *fileLoader
	mw     pipeline
	closer func() error
}

// Config is the construction-time configuration. Connection fields pass
// through verbatim to the MySQL driver; SQLPath, Transforms, CacheSize and FS
// are consumed locally. Defaults are applied by Open/New; there is no shared
// mutable default object.
type Config struct {
	// Connection fields, forwarded to the driver DSN.
	Net    string // "tcp" if empty
	Addr   string
	User   string
	Passwd string
	DBName string
	// Params holds extra driver parameters, forwarded verbatim.
	Params map[string]string

	// SQLPath is the directory QueryFile resolves template names against.
	// Defaults to ".".
	SQLPath string

	// Transforms is the value transform table, consulted for every bound
	// value before generic escaping.
	Transforms []Transform

	// CacheSize bounds the loaded-template cache.
	// If = 0 (or omitted), a sensible default is used.
	// If < 0, template caching is disabled.
	CacheSize int

	// FS is the filesystem templates are read from. Defaults to the OS
	// filesystem; tests can inject an in-memory one.
	FS afero.Fs
}

// DBTX abstracts *sql.DB / *sql.Tx for easy testing.
type DBTX interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Row is a single result record, keyed by column name.
type Row = map[string]any

// Result is the normalized outcome of Query: Rows for SELECT statements,
// Summary for everything else. Exactly one of the two is set.
type Result struct {
	Rows    []Row
	Summary *ExecSummary
}

// ExecSummary describes a non-SELECT execution. Fields the driver does not
// report stay at their zero value.
type ExecSummary struct {
	AffectedRows int64
	InsertID     int64
	ChangedRows  int64
	FieldCount   int64
	SQL          string
}

const defaultCacheSize = 128

var (
	ErrEmptyValues     = errors.New("sqlq: empty value map")
	ErrMissingWhere    = errors.New("sqlq: missing WHERE argument; pass sqlq.All to affect every row")
	ErrBadWhere        = errors.New("sqlq: unsupported WHERE argument")
	ErrNilMiddleware   = errors.New("sqlq: nil middleware function")
	ErrUnsupportedType = errors.New("sqlq: cannot escape value of type")
)

// QueryError reports a failed execution, carrying the driver error and the
// final literal SQL text that was sent.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("sqlq: query failed: %v (sql: %s)", e.Err, e.SQL)
}

func (e *QueryError) Unwrap() error { return e.Err }

// FileError reports an unreadable SQL template, carrying the resolved path.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("sqlq: cannot read SQL file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Open connects to MySQL using the connection fields of cfg and returns a
// ready DB. Close releases the connection pool.
func Open(cfg Config) (*DB, error) {
	cfg = defaultConfig(cfg)

	mc := mysql.NewConfig()
	mc.Net = cfg.Net
	mc.Addr = cfg.Addr
	mc.User = cfg.User
	mc.Passwd = cfg.Passwd
	mc.DBName = cfg.DBName
	if len(cfg.Params) > 0 {
		mc.Params = make(map[string]string, len(cfg.Params))
		for k, v := range cfg.Params {
			mc.Params[k] = v
		}
	}

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, err
	}

	d := New(db, cfg)
	d.closer = db.Close
	return d, nil
}

// New wraps an existing driver handle (a *sql.DB, *sql.Tx, or any DBTX) with
// the convenience layer. Connection fields of cfg are ignored; SQLPath,
// Transforms, CacheSize and FS apply as in Open.
func New(db DBTX, cfg Config) *DB {
	cfg = defaultConfig(cfg)
	return &DB{
		db:     db,
		config: cfg,
		files:  newFileLoader(cfg.FS, cfg.SQLPath, cfg.CacheSize),
	}
}

// Close releases the underlying pool when DB was built by Open; it is a no-op
// for injected handles.
func (d *DB) Close() error {
	if d.closer != nil {
		return d.closer()
	}
	return nil
}

// Format renders the template with the instance transform table. It is the
// same rendering Query performs before execution.
func (d *DB) Format(query string, values map[string]any) (string, error) {
	return format(query, values, d.config.Transforms)
}

// Query runs the template through the before-query chain, formats it into
// literal SQL, executes it, and threads the outcome through the on-results
// chain. SELECT statements yield Result.Rows; everything else yields
// Result.Summary. Execution failures are reported as *QueryError.
func (d *DB) Query(ctx context.Context, query string, values map[string]any) (*Result, error) {
	req, err := d.mw.applyBeforeQuery(QueryRequest{SQL: query, Values: values})
	if err != nil {
		return nil, err
	}

	text, err := format(req.SQL, req.Values, d.config.Transforms)
	if err != nil {
		return nil, err
	}

	var res *Result
	if isSelect(req.SQL) {
		rows, err := d.db.QueryContext(ctx, text)
		if err != nil {
			return nil, &QueryError{SQL: text, Err: err}
		}
		records, err := collectRows(rows)
		if err != nil {
			return nil, &QueryError{SQL: text, Err: err}
		}
		res = &Result{Rows: records}
	} else {
		r, err := d.db.ExecContext(ctx, text)
		if err != nil {
			return nil, &QueryError{SQL: text, Err: err}
		}
		res = &Result{Summary: newExecSummary(r, text)}
	}

	return d.mw.applyOnResults(req, res)
}

// Select runs Query and unwraps the row list.
func (d *DB) Select(ctx context.Context, query string, values map[string]any) ([]Row, error) {
	res, err := d.Query(ctx, query, values)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// SelectAs runs the before-query chain and the formatter, executes the
// statement, and scans all rows into dest (a pointer to a slice of structs,
// *struct, or primitives, mapped via `db` tags). The on-results chain is not
// invoked: rows land directly in caller memory.
func (d *DB) SelectAs(ctx context.Context, dest any, query string, values map[string]any) error {
	req, err := d.mw.applyBeforeQuery(QueryRequest{SQL: query, Values: values})
	if err != nil {
		return err
	}
	text, err := format(req.SQL, req.Values, d.config.Transforms)
	if err != nil {
		return err
	}
	rows, err := d.db.QueryContext(ctx, text)
	if err != nil {
		return &QueryError{SQL: text, Err: err}
	}
	defer rows.Close()
	return scanAll(rows, dest)
}

// QueryFile loads the named template from the configured SQL directory
// (appending ".sql" when the name has no extension) and runs it via Query.
func (d *DB) QueryFile(ctx context.Context, name string, values map[string]any) (*Result, error) {
	query, err := d.files.load(name)
	if err != nil {
		return nil, err
	}
	return d.Query(ctx, query, values)
}

// SelectFile runs QueryFile and unwraps the row list.
func (d *DB) SelectFile(ctx context.Context, name string, values map[string]any) ([]Row, error) {
	res, err := d.QueryFile(ctx, name, values)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Insert builds and executes an INSERT for the given table and values.
func (d *DB) Insert(ctx context.Context, table string, values map[string]any) (*Result, error) {
	q, err := d.BuildInsert(table, values)
	if err != nil {
		return nil, err
	}
	return d.Query(ctx, q, nil)
}

// Update builds and executes an UPDATE. See BuildUpdate for the where rules.
func (d *DB) Update(ctx context.Context, table string, values map[string]any, where any) (*Result, error) {
	q, err := d.BuildUpdate(table, values, where)
	if err != nil {
		return nil, err
	}
	return d.Query(ctx, q, nil)
}

// Delete builds and executes a DELETE. See BuildDelete for the where rules.
func (d *DB) Delete(ctx context.Context, table string, where any) (*Result, error) {
	q, err := d.BuildDelete(table, where)
	if err != nil {
		return nil, err
	}
	return d.Query(ctx, q, nil)
}

// isSelect reports whether the statement reads rows: a case-insensitive
// SELECT prefix after leading whitespace.
func isSelect(query string) bool {
	q := strings.TrimSpace(query)
	return len(q) >= 6 && strings.EqualFold(q[:6], "SELECT")
}

// collectRows drains rows into []Row records keyed by column name.
func collectRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	holders := make([]any, len(cols))
	for rows.Next() {
		for i := range holders {
			holders[i] = new(any)
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, err
		}
		rec := make(Row, len(cols))
		for i, col := range cols {
			rec[col] = *(holders[i].(*any))
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// newExecSummary merges the driver result over zeroed defaults and attaches
// the executed SQL. database/sql reports only affected rows and last insert
// id; ChangedRows and FieldCount stay 0 for drivers that expose neither.
func newExecSummary(r sql.Result, text string) *ExecSummary {
	s := &ExecSummary{SQL: text}
	if n, err := r.RowsAffected(); err == nil {
		s.AffectedRows = n
	}
	if id, err := r.LastInsertId(); err == nil {
		s.InsertID = id
	}
	return s
}

// defaultConfig fills unset Config fields with their defaults.
func defaultConfig(cfg Config) Config {
	if cfg.Net == "" {
		cfg.Net = "tcp"
	}
	if cfg.SQLPath == "" {
		cfg.SQLPath = "."
	}
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	return cfg
}
