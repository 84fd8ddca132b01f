package doctor

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/loam/internal/testutil"
	"github.com/pthm/loam/pkg/compiler"
	"github.com/pthm/loam/pkg/migrator"
)

const tagRecord = `
record Tag {
    id    Int @id
    label String
}
`

func blogSource(text string) compiler.Source {
	return compiler.Source{Name: "blog.loam", Text: text}
}

func statusOf(t *testing.T, r *Report, name string) Status {
	t.Helper()
	c := r.Check(name)
	require.NotNil(t, c, "missing check %s", name)
	return c.Status
}

func TestDoctor_EmptyDatabase(t *testing.T) {
	db := testutil.DB(t)

	report, err := New(db, blogSource(testutil.BlogSchema)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusPass, statusOf(t, report, "schema"))
	assert.Equal(t, StatusWarn, statusOf(t, report, "ledger"))
	assert.Equal(t, StatusFail, statusOf(t, report, "tables"))
	assert.Equal(t, StatusWarn, statusOf(t, report, "structure"))
	assert.Equal(t, StatusPass, statusOf(t, report, "foreign_keys_enabled"))
	assert.Equal(t, StatusPass, statusOf(t, report, "integrity"))
	assert.Nil(t, report.Check("schema_sync"))
	assert.True(t, report.HasErrors())
}

func TestDoctor_Migrated(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	_, err := migrator.NewMigrator(db, nil).Migrate(ctx, testutil.BlogSchema, migrator.MigrateOptions{Name: "initial"})
	require.NoError(t, err)

	queries := compiler.Source{Name: "posts.loam", Text: "query Posts {\n    post {\n        id\n        title\n    }\n}\n"}
	report, err := New(db, blogSource(testutil.BlogSchema), queries).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, 0, report.Warnings)
	assert.Equal(t, StatusPass, statusOf(t, report, "queries"))
	assert.Equal(t, StatusPass, statusOf(t, report, "schema_sync"))
	assert.Equal(t, StatusPass, statusOf(t, report, "structure"))
}

func TestDoctor_SchemaChanged(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	_, err := migrator.NewMigrator(db, nil).Migrate(ctx, testutil.BlogSchema, migrator.MigrateOptions{})
	require.NoError(t, err)

	report, err := New(db, blogSource(testutil.BlogSchema+tagRecord)).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, StatusWarn, statusOf(t, report, "schema_sync"))
	tables := report.Check("tables")
	require.NotNil(t, tables)
	assert.Equal(t, StatusFail, tables.Status)
	assert.Contains(t, tables.Details, "tags")
	assert.Equal(t, StatusWarn, statusOf(t, report, "structure"))
}

func TestDoctor_ForeignKeyViolation(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	_, err := migrator.NewMigrator(db, nil).Migrate(ctx, testutil.BlogSchema, migrator.MigrateOptions{})
	require.NoError(t, err)

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF")
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "INSERT INTO posts (authorUserId, title) VALUES (99, 'orphan')")
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	report, err := New(db, blogSource(testutil.BlogSchema)).Run(ctx)
	require.NoError(t, err)

	fk := report.Check("foreign_keys")
	require.NotNil(t, fk)
	assert.Equal(t, StatusFail, fk.Status)
	assert.Contains(t, fk.Details, "posts 1 -> users")
	assert.True(t, report.HasErrors())
}

func TestDoctor_InvalidSchema(t *testing.T) {
	db := testutil.DB(t)

	report, err := New(db, blogSource("record {\n")).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusFail, statusOf(t, report, "schema"))
	assert.Nil(t, report.Check("tables"))
	assert.Nil(t, report.Check("queries"))
}

func TestReport_Print(t *testing.T) {
	r := &Report{}
	r.AddCheck(CheckResult{Category: CategorySources, Name: "schema", Status: StatusPass, Message: "Schema is valid"})
	r.AddCheck(CheckResult{
		Category: CategoryMigration, Name: "ledger", Status: StatusWarn,
		Message: "ledger missing", Details: "line one\nline two", FixHint: "Run 'loam migrate'",
	})

	var buf bytes.Buffer
	r.Print(&buf, true)
	out := buf.String()
	assert.Contains(t, out, "Sources\n  ✓ Schema is valid")
	assert.Contains(t, out, "      line two")
	assert.Contains(t, out, "Fix: Run 'loam migrate'")
	assert.Contains(t, out, "Summary: 1 passed, 1 warnings, 0 errors")

	buf.Reset()
	r.Print(&buf, false)
	assert.NotContains(t, buf.String(), "line two")
}
