package store

import (
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inboxpilot/internal/model"
)

func TestPostgresUpsertQuery(t *testing.T) {
	q := postgresDialect.upsertQuery()

	require.NotContains(t, q, "?")
	require.Contains(t, q, "$18)")
	require.NotContains(t, q, "$19")
	require.Contains(t, q, "has_reply = messages.has_reply OR excluded.has_reply")
	require.Contains(t, q, "WHEN messages.has_reply THEN messages.draft_reply")
	require.Contains(t, q, "ON CONFLICT (id) DO UPDATE SET")
}

func TestPostgresListQuery(t *testing.T) {
	q, args := postgresDialect.listQuery(MessageFilter{
		Relevance: fn.Some(model.RelevanceRelevant),
		Replied:   fn.Some(false),
		Query:     "budget",
		Offset:    5,
	})

	require.NotContains(t, q, "?")
	require.Contains(t, q, "subject ILIKE $3")
	require.Contains(t, q, "body_plain ILIKE $6")
	require.True(t, strings.HasSuffix(q, "LIMIT ALL OFFSET 5"), q)
	require.Equal(t, []any{"relevant", false, "%budget%", "%budget%",
		"%budget%", "%budget%"}, args)

	q, _ = sqliteDialect.listQuery(MessageFilter{Offset: 5})
	require.True(t, strings.HasSuffix(q, "LIMIT -1 OFFSET 5"), q)
}

var (
	createTableRe = regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS (\w+) \((.*?)\n\);`)
	columnRe      = regexp.MustCompile(`(?m)^\s+(\w+)\s+[A-Z]`)
)

// schemaColumns maps each table created by the up migrations in dir to
// its column names.
func schemaColumns(t *testing.T, dir string) map[string][]string {
	t.Helper()

	files, err := fs.Glob(sqlSchemas, dir+"/*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	tables := make(map[string][]string)
	for _, f := range files {
		body, err := fs.ReadFile(sqlSchemas, f)
		require.NoError(t, err)

		for _, m := range createTableRe.FindAllStringSubmatch(string(body), -1) {
			for _, c := range columnRe.FindAllStringSubmatch(m[2], -1) {
				tables[m[1]] = append(tables[m[1]], c[1])
			}
		}
	}
	return tables
}

func migrationNames(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := fs.ReadDir(sqlSchemas, dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestMigrationDialectsAgree(t *testing.T) {
	sqliteNames := migrationNames(t, "migrations/sqlite")
	require.Equal(t, sqliteNames, migrationNames(t, "migrations/postgres"))

	var latest uint64
	for _, name := range sqliteNames {
		prefix, _, _ := strings.Cut(name, "_")
		v, err := strconv.ParseUint(prefix, 10, 32)
		require.NoError(t, err, name)
		latest = max(latest, v)
	}
	require.EqualValues(t, LatestMigrationVersion, latest)

	sqliteCols := schemaColumns(t, "migrations/sqlite")
	require.Equal(t, sqliteCols, schemaColumns(t, "migrations/postgres"))

	var want []string
	for _, c := range strings.Split(messageColumns, ",") {
		want = append(want, strings.TrimSpace(c))
	}
	require.ElementsMatch(t, want, sqliteCols["messages"])
}
