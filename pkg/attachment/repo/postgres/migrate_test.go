package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execRecorder records Exec statements and supports nothing else.
type execRecorder struct {
	statements []string
}

func (e *execRecorder) Exec(_ context.Context, sql string, _ ...interface{}) (pgconn.CommandTag, error) {
	e.statements = append(e.statements, sql)
	return pgconn.CommandTag{}, nil
}

func (e *execRecorder) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	panic("unexpected query")
}

func (e *execRecorder) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	panic("unexpected query")
}

func (e *execRecorder) Begin(context.Context) (pgx.Tx, error) {
	panic("unexpected transaction")
}

func TestMigrate_CreatesSchemaFirst(t *testing.T) {
	db := &execRecorder{}
	require.NoError(t, New(db, WithSchema("attachment")).Migrate(context.Background()))

	require.Len(t, db.statements, 2)
	assert.Equal(t, `CREATE SCHEMA IF NOT EXISTS "attachment"`, db.statements[0])
	assert.Equal(t, Schema, db.statements[1])
}

func TestMigrate_WithoutSchema(t *testing.T) {
	db := &execRecorder{}
	require.NoError(t, New(db).Migrate(context.Background()))
	assert.Equal(t, []string{Schema}, db.statements)
}
