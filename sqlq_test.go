package sqlq

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockDB returns a sqlmock-backed handle with exact-string query matching,
// since the layer sends fully rendered literal SQL.
func newMockDB(t testing.TB) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// TestQuery_SelectYieldsRows: a SELECT normalizes to Result.Rows keyed by
// column name, with no Summary.
func TestQuery_SelectYieldsRows(t *testing.T) {
	db, mock := newMockDB(t)
	d := New(db, Config{})

	mock.ExpectQuery("SELECT id, name FROM users WHERE id = 7").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(7, "ann"))

	res, err := d.Query(context.Background(), "SELECT id, name FROM users WHERE id = :id", map[string]any{"id": 7})
	require.NoError(t, err)
	require.Nil(t, res.Summary)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 7, res.Rows[0]["id"])
	assert.EqualValues(t, "ann", res.Rows[0]["name"])
}

// TestQuery_SelectPrefixNormalization: detection is case-insensitive and
// ignores leading whitespace.
func TestQuery_SelectPrefixNormalization(t *testing.T) {
	db, mock := newMockDB(t)
	d := New(db, Config{})

	// Empty mapping: the template is sent unchanged, whitespace included.
	mock.ExpectQuery("   select 1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	res, err := d.Query(context.Background(), "   select 1", nil)
	require.NoError(t, err)
	require.Nil(t, res.Summary)
	require.Len(t, res.Rows, 1)
}

// TestQuery_ExecYieldsSummary: a non-SELECT normalizes to an ExecSummary with
// the executed SQL attached and unreported fields zeroed.
func TestQuery_ExecYieldsSummary(t *testing.T) {
	db, mock := newMockDB(t)
	d := New(db, Config{})

	mock.ExpectExec("UPDATE t SET x = 1 WHERE id = 5").
		WillReturnResult(sqlmock.NewResult(0, 3))

	res, err := d.Query(context.Background(), "UPDATE t SET x = :x WHERE id = :id", map[string]any{"x": 1, "id": 5})
	require.NoError(t, err)
	require.Nil(t, res.Rows)
	require.NotNil(t, res.Summary)
	assert.Equal(t, int64(3), res.Summary.AffectedRows)
	assert.Equal(t, int64(0), res.Summary.InsertID)
	assert.Equal(t, int64(0), res.Summary.ChangedRows)
	assert.Equal(t, int64(0), res.Summary.FieldCount)
	assert.Equal(t, "UPDATE t SET x = 1 WHERE id = 5", res.Summary.SQL)
}

// TestQuery_DriverErrorWrapped: execution failures surface as *QueryError
// carrying the final SQL and the driver error.
func TestQuery_DriverErrorWrapped(t *testing.T) {
	db, mock := newMockDB(t)
	d := New(db, Config{})

	boom := errors.New("syntax error")
	mock.ExpectExec("DROP TABLE t").WillReturnError(boom)

	_, err := d.Query(context.Background(), "DROP TABLE t", nil)
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "DROP TABLE t", qe.SQL)
	require.ErrorIs(t, err, boom)
}

// TestSelect_UnwrapsRows: Select is Query minus the envelope.
func TestSelect_UnwrapsRows(t *testing.T) {
	db, mock := newMockDB(t)
	d := New(db, Config{})

	mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	rows, err := d.Select(context.Background(), "SELECT 1", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

// TestQueryFile_ResolvesAgainstSQLPath: the spec scenario — queryFile("users")
// with SQLPath "sql" reads sql/users.sql and executes its contents.
func TestQueryFile_ResolvesAgainstSQLPath(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "sql/users.sql", []byte("SELECT * FROM users WHERE id = :id"), 0o644))

	db, mock := newMockDB(t)
	d := New(db, Config{SQLPath: "sql", FS: fs})

	mock.ExpectQuery("SELECT * FROM users WHERE id = 7").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	rows, err := d.SelectFile(context.Background(), "users", map[string]any{"id": 7})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestQueryFile_Missing: a missing template yields a *FileError naming the
// resolved path, and the driver is never touched.
func TestQueryFile_Missing(t *testing.T) {
	db, mock := newMockDB(t)
	d := New(db, Config{SQLPath: "sql", FS: afero.NewMemMapFs()})

	_, err := d.QueryFile(context.Background(), "users", nil)
	var fe *FileError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "sql/users.sql", fe.Path)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestInsert_BuildsAndExecutes: the fused helper sends the built statement.
func TestInsert_BuildsAndExecutes(t *testing.T) {
	db, mock := newMockDB(t)
	d := New(db, Config{})

	mock.ExpectExec("INSERT INTO `t` SET `a` = 1,`b` = 'x'").
		WillReturnResult(sqlmock.NewResult(41, 1))

	res, err := d.Insert(context.Background(), "t", map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(41), res.Summary.InsertID)
	assert.Equal(t, int64(1), res.Summary.AffectedRows)
}

// TestUpdateDelete_RequireWhere: the fused helpers enforce the explicit
// all-rows opt-in before touching the driver.
func TestUpdateDelete_RequireWhere(t *testing.T) {
	db, mock := newMockDB(t)
	d := New(db, Config{})

	_, err := d.Update(context.Background(), "t", map[string]any{"x": 1}, nil)
	require.ErrorIs(t, err, ErrMissingWhere)

	_, err = d.Delete(context.Background(), "t", nil)
	require.ErrorIs(t, err, ErrMissingWhere)

	mock.ExpectExec("DELETE FROM `t`").WillReturnResult(sqlmock.NewResult(0, 10))
	res, err := d.Delete(context.Background(), "t", All)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Summary.AffectedRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestSelectAs_ScansStructs: rows land in a struct slice via db tags, with
// unmapped columns sunk.
func TestSelectAs_ScansStructs(t *testing.T) {
	type user struct {
		ID   int    `db:"id"`
		Name string `db:"name"`
	}

	db, mock := newMockDB(t)
	d := New(db, Config{})

	mock.ExpectQuery("SELECT * FROM users WHERE id = 7").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "ignored"}).
			AddRow(7, "ann", "x").
			AddRow(8, "bob", "y"))

	var users []user
	err := d.SelectAs(context.Background(), &users, "SELECT * FROM users WHERE id = :id", map[string]any{"id": 7})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, user{ID: 7, Name: "ann"}, users[0])
	assert.Equal(t, user{ID: 8, Name: "bob"}, users[1])
}

// TestSelectAs_Primitives: a single-column result scans into a primitive slice.
func TestSelectAs_Primitives(t *testing.T) {
	db, mock := newMockDB(t)
	d := New(db, Config{})

	mock.ExpectQuery("SELECT id FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	var ids []int
	err := d.SelectAs(context.Background(), &ids, "SELECT id FROM users", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids)
}

// TestSelectAs_BadDest: non-pointer and non-slice destinations are rejected.
func TestSelectAs_BadDest(t *testing.T) {
	db, mock := newMockDB(t)
	d := New(db, Config{})

	mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	var x int
	err := d.SelectAs(context.Background(), &x, "SELECT 1", nil)
	require.Error(t, err)
}

// TestClose_NoopWithoutOpen: New-built instances treat Close as a no-op.
func TestClose_NoopWithoutOpen(t *testing.T) {
	d := New(nil, Config{})
	require.NoError(t, d.Close())
}

// TestConfigDefaults: defaults are applied at construction; the caller's
// Config value is not shared or mutated globally.
func TestConfigDefaults(t *testing.T) {
	cfg := defaultConfig(Config{})
	assert.Equal(t, "tcp", cfg.Net)
	assert.Equal(t, ".", cfg.SQLPath)
	assert.NotNil(t, cfg.FS)
}
